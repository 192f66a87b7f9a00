package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"shuttle/internal/combine"
	"shuttle/internal/config"
	"shuttle/internal/coordinator"
	"shuttle/internal/logging"
	"shuttle/internal/machine"
	"shuttle/internal/sessionstore"
	"shuttle/internal/workerpool"
)

// Daemon wires the export subsystem together and enforces single-instance
// execution via a file lock.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *sessionstore.Store
	pool   *workerpool.Pool
	coord  *coordinator.Coordinator

	logPath  string
	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	StartedAt     time.Time
	SessionDBPath string
	LockPath      string
	Active        *sessionstore.Session
	Workers       []workerpool.WorkerStatus
}

// New constructs a daemon with initialized dependencies. configPath, when
// non-empty, is forwarded to spawned workers so they load the same settings.
func New(cfg *config.Config, configPath string, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := sessionstore.Open(cfg.Paths.LogDir)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	var workerArgs []string
	if configPath != "" {
		workerArgs = []string{"--config", configPath}
	}
	var workerEnv []string
	if cfg.Worker.MemoryCeilingMB > 0 {
		workerEnv = []string{fmt.Sprintf("SHUTTLE_MEMORY_CEILING_MB=%d", cfg.Worker.MemoryCeilingMB)}
	}
	pool := workerpool.NewPool(workerpool.Config{
		Binary:           cfg.WorkerBinary(),
		Args:             workerArgs,
		Env:              workerEnv,
		HeartbeatTimeout: time.Duration(cfg.Worker.HeartbeatTimeoutSeconds) * time.Second,
		MaxRestarts:      cfg.Worker.MaxRestarts,
		GracePeriod:      time.Duration(cfg.Worker.GracePeriodSeconds) * time.Second,
	}, logger)

	profiler := machine.NewProfiler(machine.Params{
		ReserveFraction: cfg.Machine.ReserveFraction,
		MinReserveGB:    cfg.Machine.MinReserveGB,
	}, logger)
	merger := combine.New(cfg.Transcoder, cfg.Paths.StagingDir, logger)
	coord := coordinator.New(cfg, profiler, poolAdapter{pool}, store, merger, logger)

	lockPath := filepath.Join(cfg.Paths.LogDir, "shuttled.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "daemon"),
		store:    store,
		pool:     pool,
		coord:    coord,
		logPath:  cfg.LogPath(),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and reclaims sessions orphaned by a
// previous daemon crash.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another shuttle daemon instance is already running")
	}

	reclaimed, err := d.store.ReclaimStale(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("reclaim stale sessions: %w", err)
	}
	if reclaimed > 0 {
		d.logger.Warn("reclaimed stale sessions from previous run",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "sessions_reclaimed"))
	}

	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("shuttle daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop cancels any active session, shuts down the worker pool, and releases
// the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if id := d.coord.ActiveID(); id != "" {
		if err := d.coord.Cancel(id); err == nil {
			d.coord.Wait(id)
		}
	}
	d.pool.Shutdown()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("shuttle daemon stopped")
}

// Close stops the daemon and releases held resources.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// StartExport begins a new export session.
func (d *Daemon) StartExport(ctx context.Context, req coordinator.ExportRequest) (string, error) {
	if !d.running.Load() {
		return "", errors.New("daemon is not running")
	}
	return d.coord.StartExport(ctx, req)
}

// CancelExport cancels the named session, or the active one when id is empty.
func (d *Daemon) CancelExport(id string) error {
	if !d.running.Load() {
		return errors.New("daemon is not running")
	}
	return d.coord.Cancel(id)
}

// Sessions lists recent export sessions, newest first.
func (d *Daemon) Sessions(ctx context.Context, limit int) ([]*sessionstore.Session, error) {
	return d.store.List(ctx, limit)
}

// ClearSessions deletes terminal sessions from the store. Active sessions
// are untouched.
func (d *Daemon) ClearSessions(ctx context.Context) (int64, error) {
	removed, err := d.store.ClearCompleted(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		d.logger.Info("cleared completed sessions", logging.Int64("count", removed))
	}
	return removed, nil
}

// DescribeSession returns one session by id.
func (d *Daemon) DescribeSession(ctx context.Context, id string) (*sessionstore.Session, error) {
	return d.store.Get(ctx, id)
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	active, err := d.store.Active(ctx)
	if err != nil {
		d.logger.Warn("failed to read active session", logging.Error(err))
		active = nil
	}
	return Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		StartedAt:     d.startedAt,
		SessionDBPath: d.store.Path(),
		LockPath:      d.lockPath,
		Active:        active,
		Workers:       d.pool.Status(),
	}
}

// poolAdapter narrows *workerpool.Pool to the coordinator's pool interface;
// GetOrCreate must return the worker as an interface value.
type poolAdapter struct {
	pool *workerpool.Pool
}

func (a poolAdapter) GetOrCreate(name string, onProgress workerpool.ProgressFunc) (coordinator.ExportWorker, error) {
	w, err := a.pool.GetOrCreate(name, onProgress)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (a poolAdapter) ResetBudgets() { a.pool.ResetBudgets() }

func (a poolAdapter) CancelAll() { a.pool.CancelAll() }

func (a poolAdapter) Destroy(name string) { a.pool.Destroy(name) }
