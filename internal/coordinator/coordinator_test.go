package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shuttle/internal/combine"
	"shuttle/internal/config"
	"shuttle/internal/exporterr"
	"shuttle/internal/logging"
	"shuttle/internal/machine"
	"shuttle/internal/planner"
	"shuttle/internal/sessionstore"
	"shuttle/internal/wire"
	"shuttle/internal/workerpool"
)

type fakeProfiler struct {
	profile machine.Profile
}

func (f fakeProfiler) Profile() machine.Profile { return f.profile }

type fakeWorker struct {
	name     string
	exportFn func(ctx context.Context, job wire.ExportJob, timeout time.Duration) (wire.ExportResult, error)

	mu   sync.Mutex
	jobs []wire.ExportJob
}

func (f *fakeWorker) Name() string { return f.name }
func (f *fakeWorker) Cancel()      {}

func (f *fakeWorker) Export(ctx context.Context, job wire.ExportJob, timeout time.Duration) (wire.ExportResult, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	return f.exportFn(ctx, job, timeout)
}

type fakePool struct {
	mu         sync.Mutex
	workers    map[string]*fakeWorker
	exportFn   func(ctx context.Context, job wire.ExportJob, timeout time.Duration) (wire.ExportResult, error)
	destroyed  []string
	cancelAlls atomic.Int32
	resets     atomic.Int32
}

func newFakePool(exportFn func(ctx context.Context, job wire.ExportJob, timeout time.Duration) (wire.ExportResult, error)) *fakePool {
	return &fakePool{workers: make(map[string]*fakeWorker), exportFn: exportFn}
}

func (p *fakePool) GetOrCreate(name string, onProgress workerpool.ProgressFunc) (ExportWorker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w := p.workers[name]; w != nil {
		return w, nil
	}
	w := &fakeWorker{name: name, exportFn: p.exportFn}
	p.workers[name] = w
	return w, nil
}

func (p *fakePool) ResetBudgets() { p.resets.Add(1) }
func (p *fakePool) CancelAll()    { p.cancelAlls.Add(1) }

func (p *fakePool) Destroy(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = append(p.destroyed, name)
	delete(p.workers, name)
}

type fakeMerger struct {
	mu     sync.Mutex
	chunks []combine.Chunk
	output string
	called bool
	err    error
}

func (f *fakeMerger) Combine(ctx context.Context, chunks []combine.Chunk, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = true
	f.chunks = chunks
	f.output = outputPath
	return f.err
}

func workstation() machine.Profile {
	return machine.Profile{CPUCores: 12, TotalMemoryGB: 32, AvailableMemoryGB: 24}
}

func laptop() machine.Profile {
	return machine.Profile{CPUCores: 4, TotalMemoryGB: 16, AvailableMemoryGB: 8}
}

func testCoordinator(t *testing.T, profile machine.Profile, pool WorkerPool, merger Merger) (*Coordinator, *sessionstore.Store) {
	t.Helper()
	store, err := sessionstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	c := New(&cfg, fakeProfiler{profile: profile}, pool, store, merger, logging.NewNop())
	return c, store
}

func shortRequest() ExportRequest {
	return ExportRequest{
		SourcePath: "/projects/demo.timeline",
		OutputPath: "/exports/demo.mov",
		Content:    planner.ContentMetrics{TotalFrames: 3000, FPS: 30, Width: 1920, Height: 1080},
	}
}

func longRequest() ExportRequest {
	return ExportRequest{
		SourcePath: "/projects/feature.timeline",
		OutputPath: "/exports/feature.mov",
		Content:    planner.ContentMetrics{TotalFrames: 36000, FPS: 60, Width: 1920, Height: 1080},
	}
}

func TestSequentialExportSucceeds(t *testing.T) {
	pool := newFakePool(func(ctx context.Context, job wire.ExportJob, timeout time.Duration) (wire.ExportResult, error) {
		if !job.CombineLocally {
			t.Error("sequential job must combine locally")
		}
		if len(job.Chunks) != 1 {
			t.Errorf("sequential short job has %d chunks, want 1", len(job.Chunks))
		}
		return wire.ExportResult{OK: true, OutputPath: job.OutputPath, FramesRendered: job.Frames()}, nil
	})
	merger := &fakeMerger{}
	c, store := testCoordinator(t, laptop(), pool, merger)

	id, err := c.StartExport(context.Background(), shortRequest())
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	c.Wait(id)

	sess, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Phase != sessionstore.PhaseSucceeded {
		t.Fatalf("phase = %q (%s), want succeeded", sess.Phase, sess.ErrorMessage)
	}
	if sess.UseParallel {
		t.Fatal("short export should be sequential")
	}
	if merger.called {
		t.Fatal("sequential export must not run the central combiner")
	}
	if sess.ProgressPercent != 100 {
		t.Fatalf("final progress = %.1f, want 100", sess.ProgressPercent)
	}
}

func TestParallelExportCombinesAllChunks(t *testing.T) {
	pool := newFakePool(func(ctx context.Context, job wire.ExportJob, timeout time.Duration) (wire.ExportResult, error) {
		if job.CombineLocally {
			t.Error("parallel group jobs must not combine locally")
		}
		outputs := make([]wire.ChunkOutput, len(job.Chunks))
		for i, chunk := range job.Chunks {
			outputs[i] = wire.ChunkOutput{
				Index:  chunk.Index,
				Path:   fmt.Sprintf("%s/%s_chunk_%03d.mov", job.StagingDir, job.SessionID, chunk.Index),
				Frames: chunk.Frames(),
			}
		}
		return wire.ExportResult{OK: true, Chunks: outputs, FramesRendered: job.Frames()}, nil
	})
	merger := &fakeMerger{}
	c, store := testCoordinator(t, workstation(), pool, merger)

	req := longRequest()
	id, err := c.StartExport(context.Background(), req)
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	c.Wait(id)

	sess, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Phase != sessionstore.PhaseSucceeded {
		t.Fatalf("phase = %q (%s), want succeeded", sess.Phase, sess.ErrorMessage)
	}
	if !sess.UseParallel || sess.WorkerCount < 2 {
		t.Fatalf("long export should go parallel, got %+v", sess)
	}
	if !merger.called {
		t.Fatal("parallel export must run the central combiner")
	}
	if len(merger.chunks) != sess.ChunkCount {
		t.Fatalf("combiner received %d chunks, want %d", len(merger.chunks), sess.ChunkCount)
	}
	seen := make(map[int]bool)
	for _, chunk := range merger.chunks {
		seen[chunk.Index] = true
	}
	for i := 0; i < sess.ChunkCount; i++ {
		if !seen[i] {
			t.Fatalf("chunk %d missing from combine input", i)
		}
	}
	if merger.output != req.OutputPath {
		t.Fatalf("combiner output = %q, want %q", merger.output, req.OutputPath)
	}
}

func TestParallelGroupJobsAreContiguous(t *testing.T) {
	var mu sync.Mutex
	var jobs []wire.ExportJob
	pool := newFakePool(func(ctx context.Context, job wire.ExportJob, timeout time.Duration) (wire.ExportResult, error) {
		mu.Lock()
		jobs = append(jobs, job)
		mu.Unlock()
		outputs := make([]wire.ChunkOutput, len(job.Chunks))
		for i, chunk := range job.Chunks {
			outputs[i] = wire.ChunkOutput{Index: chunk.Index, Path: "/tmp/x", Frames: chunk.Frames()}
		}
		return wire.ExportResult{OK: true, Chunks: outputs}, nil
	})
	c, _ := testCoordinator(t, workstation(), pool, &fakeMerger{})

	id, err := c.StartExport(context.Background(), longRequest())
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	c.Wait(id)

	covered := make(map[int]bool)
	for _, job := range jobs {
		for i, chunk := range job.Chunks {
			if i > 0 && chunk.Index != job.Chunks[i-1].Index+1 {
				t.Fatalf("group chunks not contiguous: %+v", job.Chunks)
			}
			if covered[chunk.Index] {
				t.Fatalf("chunk %d assigned to two groups", chunk.Index)
			}
			covered[chunk.Index] = true
		}
	}
}

func TestForceSerialDecodePinsConcurrency(t *testing.T) {
	var mu sync.Mutex
	var jobs []wire.ExportJob
	pool := newFakePool(func(ctx context.Context, job wire.ExportJob, timeout time.Duration) (wire.ExportResult, error) {
		mu.Lock()
		jobs = append(jobs, job)
		mu.Unlock()
		outputs := make([]wire.ChunkOutput, len(job.Chunks))
		for i, chunk := range job.Chunks {
			outputs[i] = wire.ChunkOutput{Index: chunk.Index, Path: "/tmp/x", Frames: chunk.Frames()}
		}
		return wire.ExportResult{OK: true, Chunks: outputs}, nil
	})
	c, store := testCoordinator(t, workstation(), pool, &fakeMerger{})

	req := longRequest()
	req.ForceSerialDecode = true
	id, err := c.StartExport(context.Background(), req)
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	c.Wait(id)

	sess, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Phase != sessionstore.PhaseSucceeded {
		t.Fatalf("phase = %q (%s), want succeeded", sess.Phase, sess.ErrorMessage)
	}
	if sess.Concurrency != 1 {
		t.Fatalf("journaled concurrency = %d, want 1", sess.Concurrency)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(jobs) == 0 {
		t.Fatal("no jobs dispatched")
	}
	for _, job := range jobs {
		if job.Concurrency != 1 {
			t.Fatalf("dispatched job concurrency = %d, want 1", job.Concurrency)
		}
	}
}

func TestMaxWorkersCapsParallelGroups(t *testing.T) {
	pool := newFakePool(func(ctx context.Context, job wire.ExportJob, timeout time.Duration) (wire.ExportResult, error) {
		outputs := make([]wire.ChunkOutput, len(job.Chunks))
		for i, chunk := range job.Chunks {
			outputs[i] = wire.ChunkOutput{Index: chunk.Index, Path: "/tmp/x", Frames: chunk.Frames()}
		}
		return wire.ExportResult{OK: true, Chunks: outputs}, nil
	})
	c, store := testCoordinator(t, workstation(), pool, &fakeMerger{})

	req := longRequest()
	req.MaxWorkers = 2
	id, err := c.StartExport(context.Background(), req)
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	c.Wait(id)

	sess, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Phase != sessionstore.PhaseSucceeded {
		t.Fatalf("phase = %q (%s), want succeeded", sess.Phase, sess.ErrorMessage)
	}
	if !sess.UseParallel || sess.WorkerCount != 2 {
		t.Fatalf("capped allocation = parallel=%v workers=%d, want parallel with 2", sess.UseParallel, sess.WorkerCount)
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()
	slots := make(map[string]bool)
	for _, name := range pool.destroyed {
		slots[name] = true
	}
	if len(slots) != 2 {
		t.Fatalf("%d worker slots torn down, want 2: %v", len(slots), pool.destroyed)
	}
}

func TestParallelFailureCancelsSiblingsAndFailsSession(t *testing.T) {
	var calls atomic.Int32
	pool := newFakePool(nil)
	pool.exportFn = func(ctx context.Context, job wire.ExportJob, timeout time.Duration) (wire.ExportResult, error) {
		if calls.Add(1) == 1 {
			return wire.ExportResult{}, exporterr.Wrap(exporterr.ErrRender, "worker", "export", "renderer crashed", nil)
		}
		<-ctx.Done()
		return wire.ExportResult{}, exporterr.Wrap(exporterr.ErrCancelled, "worker", "export", "cancelled", ctx.Err())
	}
	merger := &fakeMerger{}
	c, store := testCoordinator(t, workstation(), pool, merger)

	id, err := c.StartExport(context.Background(), longRequest())
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	c.Wait(id)

	sess, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Phase != sessionstore.PhaseFailed {
		t.Fatalf("phase = %q, want failed", sess.Phase)
	}
	if sess.ErrorKind != "render" {
		t.Fatalf("error kind = %q, want render (sibling cancels must not mask the cause)", sess.ErrorKind)
	}
	if pool.cancelAlls.Load() == 0 {
		t.Fatal("failure did not cancel sibling workers")
	}
	if merger.called {
		t.Fatal("failed render must not reach the combiner")
	}
}

func TestSecondExportRefusedWhileActive(t *testing.T) {
	release := make(chan struct{})
	pool := newFakePool(func(ctx context.Context, job wire.ExportJob, timeout time.Duration) (wire.ExportResult, error) {
		select {
		case <-release:
			return wire.ExportResult{OK: true, OutputPath: job.OutputPath}, nil
		case <-ctx.Done():
			return wire.ExportResult{}, exporterr.Wrap(exporterr.ErrCancelled, "worker", "export", "cancelled", ctx.Err())
		}
	})
	c, _ := testCoordinator(t, laptop(), pool, &fakeMerger{})

	id, err := c.StartExport(context.Background(), shortRequest())
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	if _, err := c.StartExport(context.Background(), shortRequest()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second export: want ErrBusy, got %v", err)
	}
	close(release)
	c.Wait(id)

	// The slot frees up once the session finishes.
	id2, err := c.StartExport(context.Background(), shortRequest())
	if err != nil {
		t.Fatalf("export after completion: %v", err)
	}
	c.Wait(id2)
}

func TestCancelActiveSession(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	pool := newFakePool(func(ctx context.Context, job wire.ExportJob, timeout time.Duration) (wire.ExportResult, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return wire.ExportResult{}, exporterr.Wrap(exporterr.ErrCancelled, "worker", "export", "cancelled", ctx.Err())
	})
	c, store := testCoordinator(t, laptop(), pool, &fakeMerger{})

	id, err := c.StartExport(context.Background(), shortRequest())
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	<-started
	if err := c.Cancel(""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	c.Wait(id)

	sess, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Phase != sessionstore.PhaseCancelled {
		t.Fatalf("phase = %q, want cancelled", sess.Phase)
	}
	if c.ActiveID() != "" {
		t.Fatal("cancelled session still registered as active")
	}
}

func TestCancelWithoutActiveSession(t *testing.T) {
	c, _ := testCoordinator(t, laptop(), newFakePool(nil), &fakeMerger{})
	if err := c.Cancel(""); !errors.Is(err, ErrNoSession) {
		t.Fatalf("want ErrNoSession, got %v", err)
	}
}

func TestWorkersTornDownAfterSession(t *testing.T) {
	pool := newFakePool(func(ctx context.Context, job wire.ExportJob, timeout time.Duration) (wire.ExportResult, error) {
		return wire.ExportResult{OK: true, OutputPath: job.OutputPath}, nil
	})
	c, _ := testCoordinator(t, laptop(), pool, &fakeMerger{})

	id, err := c.StartExport(context.Background(), shortRequest())
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	c.Wait(id)

	pool.mu.Lock()
	defer pool.mu.Unlock()
	if len(pool.destroyed) == 0 {
		t.Fatal("session end did not tear down workers")
	}
}
