package coordinator

import (
	"sync"

	"shuttle/internal/wire"
)

// Fixed percentage bands for non-render phases. Rendering owns the wide
// middle band; profiling/planning and combining/finalizing get the edges.
const (
	bandPrepareEnd = 10.0
	bandRenderEnd  = 90.0
	bandDone       = 100.0
)

// ProgressSnapshot is one aggregated progress reading.
type ProgressSnapshot struct {
	Percent float64
	Stage   string
	Message string
}

// ProgressSink receives coalesced progress snapshots.
type ProgressSink func(ProgressSnapshot)

// ProgressTracker aggregates per-worker, job-relative progress into a single
// session percentage. Updates are coalesced latest-wins so a slow sink
// (sqlite, IPC) never backs up the render path.
type ProgressTracker struct {
	mu          sync.Mutex
	totalFrames int
	perWorker   map[string]int
	stage       string
	message     string
	percent     float64

	updates chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewProgressTracker starts a tracker delivering snapshots to sink from its
// own goroutine. Close releases it.
func NewProgressTracker(totalFrames int, sink ProgressSink) *ProgressTracker {
	t := &ProgressTracker{
		totalFrames: totalFrames,
		perWorker:   make(map[string]int),
		stage:       "preparing",
		updates:     make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-t.done:
				return
			case <-t.updates:
				sink(t.Snapshot())
			}
		}
	}()
	return t
}

// Close stops the delivery goroutine. Pending updates are dropped; callers
// flush a final snapshot through the store directly at session end.
func (t *ProgressTracker) Close() {
	close(t.done)
	t.wg.Wait()
}

// Snapshot returns the current aggregated reading.
func (t *ProgressTracker) Snapshot() ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ProgressSnapshot{Percent: t.percent, Stage: t.stage, Message: t.message}
}

// SetStage pins the tracker to a phase band outside rendering.
func (t *ProgressTracker) SetStage(stage, message string, percent float64) {
	t.mu.Lock()
	t.stage = stage
	t.message = message
	if percent > t.percent {
		t.percent = percent
	}
	t.mu.Unlock()
	t.notify()
}

// ObserveWorker folds one worker's progress event into the session total.
// Worker events carry frames completed within that worker's job; the global
// render fraction is the sum across workers over the plan's total frames,
// mapped into the rendering band.
func (t *ProgressTracker) ObserveWorker(worker string, event wire.ProgressEvent) {
	t.mu.Lock()
	if event.FramesDone > t.perWorker[worker] {
		t.perWorker[worker] = event.FramesDone
	}
	if t.totalFrames > 0 {
		framesDone := 0
		for _, frames := range t.perWorker {
			framesDone += frames
		}
		fraction := float64(framesDone) / float64(t.totalFrames)
		if fraction > 1 {
			fraction = 1
		}
		percent := bandPrepareEnd + fraction*(bandRenderEnd-bandPrepareEnd)
		if percent > t.percent {
			t.percent = percent
		}
	}
	t.stage = "rendering"
	if event.Message != "" {
		t.message = event.Message
	}
	t.mu.Unlock()
	t.notify()
}

func (t *ProgressTracker) notify() {
	select {
	case t.updates <- struct{}{}:
	default:
	}
}
