package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"shuttle/internal/combine"
	"shuttle/internal/config"
	"shuttle/internal/logging"
	"shuttle/internal/machine"
	"shuttle/internal/planner"
	"shuttle/internal/sessionstore"
	"shuttle/internal/wire"
	"shuttle/internal/workerpool"
)

// ErrBusy is returned when an export session is already active.
var ErrBusy = errors.New("an export session is already active")

// ErrNoSession is returned when there is no active session to cancel.
var ErrNoSession = errors.New("no active export session")

// Profiler supplies the machine profile for planning.
type Profiler interface {
	Profile() machine.Profile
}

// ExportWorker is one pool slot as the coordinator sees it.
type ExportWorker interface {
	Name() string
	Export(ctx context.Context, job wire.ExportJob, timeout time.Duration) (wire.ExportResult, error)
	Cancel()
}

// WorkerPool abstracts the supervised pool for testing.
type WorkerPool interface {
	GetOrCreate(name string, onProgress workerpool.ProgressFunc) (ExportWorker, error)
	ResetBudgets()
	CancelAll()
	Destroy(name string)
}

// Merger combines parallel chunk outputs into the final file.
type Merger interface {
	Combine(ctx context.Context, chunks []combine.Chunk, outputPath string) error
}

// ExportRequest describes one export to run. ForceSerialDecode and
// MaxWorkers tighten the plan after allocation; neither can raise what the
// planner chose.
type ExportRequest struct {
	SourcePath        string
	OutputPath        string
	Content           planner.ContentMetrics
	ExtraArgs         []string
	ForceSerialDecode bool
	MaxWorkers        int
}

// Coordinator runs export sessions.
type Coordinator struct {
	cfg      *config.Config
	logger   *slog.Logger
	profiler Profiler
	planner  *planner.Planner
	pool     WorkerPool
	store    *sessionstore.Store
	merger   Merger

	mu     sync.Mutex
	active *activeSession
}

type activeSession struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires a coordinator.
func New(cfg *config.Config, profiler Profiler, pool WorkerPool, store *sessionstore.Store, merger Merger, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "coordinator"),
		profiler: profiler,
		planner:  planner.New(cfg.Planner),
		pool:     pool,
		store:    store,
		merger:   merger,
	}
}

// StartExport begins a session and returns its id. Exactly one session may
// run at a time; concurrent requests are refused, never interleaved.
func (c *Coordinator) StartExport(ctx context.Context, req ExportRequest) (string, error) {
	if req.SourcePath == "" || req.OutputPath == "" {
		return "", errors.New("source and output paths are required")
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return "", ErrBusy
	}
	id := uuid.NewString()
	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &activeSession{id: id, cancel: cancel, done: make(chan struct{})}
	c.active = sess
	c.mu.Unlock()

	if _, err := c.store.Create(ctx, id, req.SourcePath, req.OutputPath); err != nil {
		c.clearActive(id)
		cancel()
		return "", err
	}

	go c.run(sessCtx, sess, req)
	return id, nil
}

// Cancel requests cancellation of the active session. An empty id targets
// whichever session is running.
func (c *Coordinator) Cancel(id string) error {
	c.mu.Lock()
	sess := c.active
	c.mu.Unlock()
	if sess == nil || (id != "" && sess.id != id) {
		return ErrNoSession
	}
	c.logger.Info("cancelling export session", logging.String(logging.FieldSessionID, sess.id))
	sess.cancel()
	c.pool.CancelAll()
	return nil
}

// ActiveID returns the running session's id, or empty.
func (c *Coordinator) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.id
}

// Wait blocks until the named session finishes. Used by shutdown and tests.
func (c *Coordinator) Wait(id string) {
	c.mu.Lock()
	sess := c.active
	c.mu.Unlock()
	if sess == nil || sess.id != id {
		return
	}
	<-sess.done
}

func (c *Coordinator) clearActive(id string) {
	c.mu.Lock()
	if c.active != nil && c.active.id == id {
		c.active = nil
	}
	c.mu.Unlock()
}
