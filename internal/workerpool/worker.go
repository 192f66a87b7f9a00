package workerpool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"shuttle/internal/exporterr"
	"shuttle/internal/logging"
	"shuttle/internal/wire"
)

// ProgressFunc receives progress events from a worker, tagged with the
// worker's name.
type ProgressFunc func(worker string, event wire.ProgressEvent)

// Worker is one supervised shuttle-worker process.
type Worker struct {
	name       string
	proc       proc
	enc        *wire.Encoder
	logger     *slog.Logger
	onProgress ProgressFunc

	mu       sync.Mutex
	pending  map[string]chan wire.ExportResult
	lastBeat time.Time
	stopping bool

	exited  chan struct{}
	exitErr error
	once    sync.Once
}

func newWorker(name string, p proc, onProgress ProgressFunc, heartbeatTimeout time.Duration, logger *slog.Logger) *Worker {
	w := &Worker{
		name:       name,
		proc:       p,
		enc:        wire.NewEncoder(p.Stdin()),
		logger:     logger.With(logging.String(logging.FieldWorker, name)),
		onProgress: onProgress,
		pending:    make(map[string]chan wire.ExportResult),
		lastBeat:   time.Now(),
		exited:     make(chan struct{}),
	}
	go w.readLoop()
	go w.watchdog(heartbeatTimeout)
	go w.watchExit()
	return w
}

// Name returns the worker's deterministic slot name.
func (w *Worker) Name() string { return w.name }

// setOnProgress rebinds the progress callback. Reused slots must report to
// the current session's tracker, not the one they were spawned under.
func (w *Worker) setOnProgress(fn ProgressFunc) {
	w.mu.Lock()
	w.onProgress = fn
	w.mu.Unlock()
}

// PID returns the worker's process id.
func (w *Worker) PID() int { return w.proc.PID() }

// Alive reports whether the process is still running.
func (w *Worker) Alive() bool {
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

// Export sends the job and blocks until the worker reports a result, the
// timeout fires, the context is cancelled, or the worker dies. A failed
// result comes back as a tagged error alongside the raw result.
func (w *Worker) Export(ctx context.Context, job wire.ExportJob, timeout time.Duration) (wire.ExportResult, error) {
	id := uuid.NewString()
	ch := make(chan wire.ExportResult, 1)

	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return wire.ExportResult{}, exporterr.Wrap(exporterr.ErrWorkerSpawn, "workerpool", "export", "worker is shutting down", nil)
	}
	w.pending[id] = ch
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
	}()

	if err := w.enc.EncodeRequest(wire.Request{ID: id, Type: wire.RequestExport, Job: &job}); err != nil {
		return wire.ExportResult{}, exporterr.Wrap(exporterr.ErrWorkerSpawn, "workerpool", "export", "send job", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case result := <-ch:
		return result, resultError(result)
	case <-timer.C:
		w.Cancel()
		return wire.ExportResult{}, exporterr.Wrap(exporterr.ErrWorkerTimeout, "workerpool", "export",
			"worker did not finish within "+timeout.String(), nil)
	case <-ctx.Done():
		w.Cancel()
		return wire.ExportResult{}, exporterr.Wrap(exporterr.ErrCancelled, "workerpool", "export", "export cancelled", ctx.Err())
	case <-w.exited:
		if errors.Is(w.exitErr, exporterr.ErrWorkerTimeout) {
			return wire.ExportResult{}, w.exitErr
		}
		return wire.ExportResult{}, exporterr.Wrap(exporterr.ErrWorkerSpawn, "workerpool", "export", "worker exited mid-job", w.exitErr)
	}
}

// Cancel asks the worker to abandon its current job. Best effort.
func (w *Worker) Cancel() {
	if !w.Alive() {
		return
	}
	if err := w.enc.EncodeRequest(wire.Request{Type: wire.RequestCancel}); err != nil {
		w.logger.Debug("cancel send failed", logging.Error(err))
	}
}

func (w *Worker) readLoop() {
	dec := wire.NewDecoder(w.proc.Stdout())
	for {
		msg, err := dec.DecodeMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.logger.Debug("worker stream ended", logging.Error(err))
			}
			return
		}
		w.touch()
		switch msg.Type {
		case wire.MessageResult:
			w.mu.Lock()
			ch := w.pending[msg.ID]
			w.mu.Unlock()
			if ch != nil {
				ch <- *msg.Result
			}
		case wire.MessageProgress:
			w.mu.Lock()
			fn := w.onProgress
			w.mu.Unlock()
			if fn != nil {
				fn(w.name, *msg.Progress)
			}
		case wire.MessageHeartbeat:
			// touch above is the whole point
		}
	}
}

func (w *Worker) watchExit() {
	err := <-w.proc.Done()
	w.once.Do(func() {
		w.exitErr = err
		close(w.exited)
	})
}

// watchdog kills the process when heartbeats stop arriving. A wedged
// renderer holds the worker's event loop hostage, so staleness is treated as
// death rather than waited out.
func (w *Worker) watchdog(timeout time.Duration) {
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-w.exited:
			return
		case <-ticker.C:
			w.mu.Lock()
			stale := !w.stopping && time.Since(w.lastBeat) > timeout
			w.mu.Unlock()
			if stale {
				w.logger.Warn("worker heartbeat stale, killing process",
					logging.Duration("timeout", timeout),
					logging.Int("pid", w.PID()),
				)
				w.once.Do(func() {
					w.exitErr = exporterr.Wrap(exporterr.ErrWorkerTimeout, "workerpool", "watchdog",
						"no heartbeat within "+timeout.String(), nil)
					close(w.exited)
				})
				_ = w.proc.Kill()
				return
			}
		}
	}
}

func (w *Worker) touch() {
	w.mu.Lock()
	w.lastBeat = time.Now()
	w.mu.Unlock()
}

// stop escalates: cooperative cancel and stdin close, then SIGTERM, then
// SIGKILL, giving the process one grace period at each step.
func (w *Worker) stop(grace time.Duration) {
	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()

	w.Cancel()
	_ = w.proc.Stdin().Close()
	if w.awaitExit(grace) {
		return
	}
	w.logger.Warn("worker ignored shutdown, sending SIGTERM", logging.Int("pid", w.PID()))
	_ = w.proc.Terminate()
	if w.awaitExit(grace) {
		return
	}
	w.logger.Warn("worker ignored SIGTERM, killing", logging.Int("pid", w.PID()))
	_ = w.proc.Kill()
	w.awaitExit(grace)
}

func (w *Worker) awaitExit(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.exited:
		return true
	case <-timer.C:
		return false
	}
}

// resultError converts a failed result into a tagged error; a successful
// result yields nil.
func resultError(result wire.ExportResult) error {
	if result.OK {
		return nil
	}
	marker := exporterr.Marker(result.ErrorKind)
	if result.Cancelled {
		marker = exporterr.ErrCancelled
	}
	return exporterr.Wrap(marker, "worker", "export", result.Error, nil)
}
