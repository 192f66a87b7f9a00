package workerpool

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"shuttle/internal/exporterr"
	"shuttle/internal/logging"
)

// Config tunes worker supervision.
type Config struct {
	Binary           string
	Args             []string
	Env              []string
	HeartbeatTimeout time.Duration
	MaxRestarts      int
	GracePeriod      time.Duration
}

// Pool owns the set of named worker slots. Worker names are deterministic
// (one per plan group), so repeated exports reuse and clean the same slots.
type Pool struct {
	cfg    Config
	logger *slog.Logger
	spawn  spawnFunc

	mu       sync.Mutex
	workers  map[string]*Worker
	restarts map[string]int
	closed   bool
}

// NewPool constructs a pool spawning the configured worker binary.
func NewPool(cfg Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Pool{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "workerpool"),
		workers:  make(map[string]*Worker),
		restarts: make(map[string]int),
	}
	p.spawn = func(name string) (proc, error) {
		args := append(append([]string(nil), cfg.Args...), "--name", name)
		return spawnProcess(cfg.Binary, args, cfg.Env)
	}
	return p
}

// GetOrCreate returns the live worker in the named slot, spawning or
// respawning as needed. Respawns of a crashed slot are bounded by the
// restart budget; the budget resets per session via ResetBudgets.
func (p *Pool) GetOrCreate(name string, onProgress ProgressFunc) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, exporterr.Wrap(exporterr.ErrWorkerSpawn, "workerpool", "spawn", "pool is shut down", nil)
	}
	if w := p.workers[name]; w != nil {
		if w.Alive() {
			w.setOnProgress(onProgress)
			return w, nil
		}
		if p.restarts[name] >= p.cfg.MaxRestarts {
			return nil, exporterr.Wrap(exporterr.ErrWorkerSpawn, "workerpool", "spawn",
				fmt.Sprintf("worker %s exceeded %d restarts", name, p.cfg.MaxRestarts), w.exitErr)
		}
		p.restarts[name]++
		p.logger.Warn("respawning crashed worker",
			logging.String(logging.FieldWorker, name),
			logging.Int("restart", p.restarts[name]),
		)
	}

	process, err := p.spawn(name)
	if err != nil {
		return nil, exporterr.Wrap(exporterr.ErrWorkerSpawn, "workerpool", "spawn", "spawn "+name, err)
	}
	w := newWorker(name, process, onProgress, p.cfg.HeartbeatTimeout, p.logger)
	p.workers[name] = w
	p.logger.Info("worker started",
		logging.String(logging.FieldWorker, name),
		logging.Int("pid", w.PID()),
	)
	return w, nil
}

// ResetBudgets clears per-slot restart counters at the start of a session.
func (p *Pool) ResetBudgets() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restarts = make(map[string]int)
}

// CancelAll sends a best-effort cancel to every live worker.
func (p *Pool) CancelAll() {
	for _, w := range p.snapshot() {
		w.Cancel()
	}
}

// Destroy stops the named worker and frees its slot.
func (p *Pool) Destroy(name string) {
	p.mu.Lock()
	w := p.workers[name]
	delete(p.workers, name)
	p.mu.Unlock()
	if w != nil {
		w.stop(p.cfg.GracePeriod)
	}
}

// Shutdown stops every worker, escalating in parallel, and refuses further
// spawns.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	workers := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.workers = make(map[string]*Worker)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.stop(p.cfg.GracePeriod)
		}(w)
	}
	wg.Wait()
}

// WorkerStatus is a point-in-time view of one slot for the status surface.
type WorkerStatus struct {
	Name     string `json:"name"`
	PID      int    `json:"pid"`
	Alive    bool   `json:"alive"`
	Restarts int    `json:"restarts"`
}

// Status reports all known slots sorted by name.
func (p *Pool) Status() []WorkerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	statuses := make([]WorkerStatus, 0, len(p.workers))
	for name, w := range p.workers {
		statuses = append(statuses, WorkerStatus{
			Name:     name,
			PID:      w.PID(),
			Alive:    w.Alive(),
			Restarts: p.restarts[name],
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func (p *Pool) snapshot() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	workers := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	return workers
}
