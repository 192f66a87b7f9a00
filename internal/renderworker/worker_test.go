package renderworker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"shuttle/internal/adaptive"
	"shuttle/internal/combine"
	"shuttle/internal/config"
	"shuttle/internal/exporterr"
	"shuttle/internal/logging"
	"shuttle/internal/machine"
	"shuttle/internal/wire"
)

type fakeRenderer struct {
	requests []RenderRequest
	failAt   int // 1-based call number to fail on, 0 = never
	failErr  error
}

func (f *fakeRenderer) RenderRange(ctx context.Context, req RenderRequest, progress FrameProgress) error {
	f.requests = append(f.requests, req)
	if f.failAt == len(f.requests) {
		return f.failErr
	}
	if err := os.WriteFile(req.OutputPath, []byte("frames"), 0o644); err != nil {
		return err
	}
	if progress != nil {
		progress(req.EndFrame - req.StartFrame)
	}
	return nil
}

// fakeSampler replays a scripted snapshot sequence, repeating the last one.
type fakeSampler struct {
	snapshots []machine.Snapshot
	calls     int
}

func (f *fakeSampler) Sample() (machine.Snapshot, error) {
	i := f.calls
	f.calls++
	if i >= len(f.snapshots) {
		i = len(f.snapshots) - 1
	}
	if i < 0 {
		return machine.Snapshot{}, nil
	}
	return f.snapshots[i], nil
}

type fakeMerger struct {
	chunks []combine.Chunk
	output string
	err    error
}

func (f *fakeMerger) Combine(ctx context.Context, chunks []combine.Chunk, outputPath string) error {
	f.chunks = chunks
	f.output = outputPath
	return f.err
}

func healthySampler() *fakeSampler {
	return &fakeSampler{snapshots: []machine.Snapshot{{RSSMB: 500, FreeMB: 8000, TotalMB: 16000}}}
}

func testParams() Params {
	return Params{
		Thresholds:      adaptive.Thresholds{FreeFloorMB: 512, RSSRatio: 0.6},
		IncreaseEvery:   1,
		CooldownBatches: 2,
	}
}

func testWorker(renderer Renderer, sampler Sampler) *Worker {
	return New(renderer, sampler, config.Default().Transcoder, testParams(), logging.NewNop())
}

func chunkedJob(t *testing.T, chunkCount int, combineLocally bool) wire.ExportJob {
	t.Helper()
	staging := t.TempDir()
	chunks := make([]wire.ChunkRange, chunkCount)
	for i := range chunks {
		chunks[i] = wire.ChunkRange{Index: i, StartFrame: i * 600, EndFrame: (i + 1) * 600}
	}
	return wire.ExportJob{
		SessionID:      "sess",
		SourcePath:     "/tmp/project.timeline",
		OutputPath:     filepath.Join(staging, "final.mov"),
		StagingDir:     staging,
		Chunks:         chunks,
		TotalFrames:    chunkCount * 600,
		FPS:            30,
		Width:          1920,
		Height:         1080,
		Concurrency:    4,
		CombineLocally: combineLocally,
	}
}

func TestRunRendersChunksInOrder(t *testing.T) {
	renderer := &fakeRenderer{}
	w := testWorker(renderer, healthySampler())
	job := chunkedJob(t, 3, false)

	result := w.Run(context.Background(), "r-1", job, nil)
	if !result.OK {
		t.Fatalf("Run failed: %s", result.Error)
	}
	if len(result.Chunks) != 3 {
		t.Fatalf("got %d chunk outputs, want 3", len(result.Chunks))
	}
	for i, out := range result.Chunks {
		if out.Index != i {
			t.Fatalf("chunk output %d carries index %d", i, out.Index)
		}
		if _, err := os.Stat(out.Path); err != nil {
			t.Fatalf("chunk %d output missing: %v", i, err)
		}
	}
	for i, req := range renderer.requests {
		if req.StartFrame != i*600 || req.EndFrame != (i+1)*600 {
			t.Fatalf("render call %d covered [%d, %d), want [%d, %d)", i, req.StartFrame, req.EndFrame, i*600, (i+1)*600)
		}
	}
	if result.FramesRendered != 1800 {
		t.Fatalf("FramesRendered = %d, want 1800", result.FramesRendered)
	}
}

func TestRunSingleChunkRendersStraightToOutput(t *testing.T) {
	renderer := &fakeRenderer{}
	w := testWorker(renderer, healthySampler())
	merger := &fakeMerger{}
	w.newMerger = func(string) Merger { return merger }
	job := chunkedJob(t, 1, true)

	result := w.Run(context.Background(), "r-1", job, nil)
	if !result.OK {
		t.Fatalf("Run failed: %s", result.Error)
	}
	if result.OutputPath != job.OutputPath {
		t.Fatalf("OutputPath = %q, want %q", result.OutputPath, job.OutputPath)
	}
	if renderer.requests[0].OutputPath != job.OutputPath {
		t.Fatal("single-chunk local job should render straight to the final path")
	}
	if merger.chunks != nil {
		t.Fatal("single-chunk job must not invoke the merger")
	}
}

func TestRunCombinesLocally(t *testing.T) {
	renderer := &fakeRenderer{}
	w := testWorker(renderer, healthySampler())
	merger := &fakeMerger{}
	w.newMerger = func(string) Merger { return merger }
	job := chunkedJob(t, 3, true)

	result := w.Run(context.Background(), "r-1", job, nil)
	if !result.OK {
		t.Fatalf("Run failed: %s", result.Error)
	}
	if len(merger.chunks) != 3 {
		t.Fatalf("merger received %d chunks, want 3", len(merger.chunks))
	}
	if merger.output != job.OutputPath {
		t.Fatalf("merger output = %q, want %q", merger.output, job.OutputPath)
	}
	if result.OutputPath != job.OutputPath {
		t.Fatalf("OutputPath = %q, want %q", result.OutputPath, job.OutputPath)
	}
}

func TestRunStopsOnRenderFailureAndCleansUp(t *testing.T) {
	renderer := &fakeRenderer{
		failAt:  2,
		failErr: exporterr.Wrap(exporterr.ErrRender, "renderer", "render", "renderer crashed", errors.New("exit status 1")),
	}
	w := testWorker(renderer, healthySampler())
	job := chunkedJob(t, 3, false)

	result := w.Run(context.Background(), "r-1", job, nil)
	if result.OK {
		t.Fatal("Run should fail when a chunk render fails")
	}
	if result.ErrorKind != "render" {
		t.Fatalf("ErrorKind = %q, want render", result.ErrorKind)
	}
	if len(renderer.requests) != 2 {
		t.Fatalf("render stopped after %d calls, want 2", len(renderer.requests))
	}
	// The first chunk's output was created and must be cleaned up.
	firstPath := filepath.Join(job.StagingDir, fmt.Sprintf("%s_chunk_%03d.mov", job.SessionID, 0))
	if _, err := os.Stat(firstPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("partial chunk outputs must be removed on failure")
	}
}

func TestRunCancelledBeforeFirstChunk(t *testing.T) {
	renderer := &fakeRenderer{}
	w := testWorker(renderer, healthySampler())
	job := chunkedJob(t, 2, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := w.Run(ctx, "r-1", job, nil)
	if result.OK || !result.Cancelled {
		t.Fatalf("want cancelled result, got %+v", result)
	}
	if len(renderer.requests) != 0 {
		t.Fatal("cancelled job must not invoke the renderer")
	}
}

func TestRunRampsConcurrencyOnCleanBatches(t *testing.T) {
	renderer := &fakeRenderer{}
	w := testWorker(renderer, healthySampler())
	job := chunkedJob(t, 3, false)

	result := w.Run(context.Background(), "r-1", job, nil)
	if !result.OK {
		t.Fatalf("Run failed: %s", result.Error)
	}
	// increaseEvery=1: each clean chunk earns one more render lane.
	want := []int{1, 2, 3}
	for i, req := range renderer.requests {
		if req.Concurrency != want[i] {
			t.Fatalf("chunk %d rendered with concurrency %d, want %d", i, req.Concurrency, want[i])
		}
	}
}

func TestRunHalvesConcurrencyUnderPressure(t *testing.T) {
	renderer := &fakeRenderer{}
	healthy := machine.Snapshot{RSSMB: 500, FreeMB: 8000, TotalMB: 16000}
	starved := machine.Snapshot{RSSMB: 500, FreeMB: 100, TotalMB: 16000}
	// Samples are taken before and after each chunk; starve the reading
	// after chunk 2 so chunk 3 renders throttled.
	sampler := &fakeSampler{snapshots: []machine.Snapshot{
		healthy, healthy, // chunk 0
		healthy, starved, // chunk 1
		healthy, healthy, // chunk 2
	}}
	w := testWorker(renderer, sampler)
	job := chunkedJob(t, 3, false)

	result := w.Run(context.Background(), "r-1", job, nil)
	if !result.OK {
		t.Fatalf("Run failed: %s", result.Error)
	}
	got := []int{renderer.requests[0].Concurrency, renderer.requests[1].Concurrency, renderer.requests[2].Concurrency}
	// 1 -> 2 after clean chunk 0, halved back to 1 after pressured chunk 1.
	want := []int{1, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("concurrency per chunk = %v, want %v", got, want)
		}
	}
}

func TestRunEmitsMonotonicProgress(t *testing.T) {
	renderer := &fakeRenderer{}
	w := testWorker(renderer, healthySampler())
	job := chunkedJob(t, 3, false)

	var events []wire.ProgressEvent
	result := w.Run(context.Background(), "r-1", job, func(msg wire.Message) {
		if msg.Progress != nil {
			events = append(events, *msg.Progress)
		}
	})
	if !result.OK {
		t.Fatalf("Run failed: %s", result.Error)
	}
	if len(events) == 0 {
		t.Fatal("no progress events emitted")
	}
	last := -1.0
	for _, ev := range events {
		if ev.Percent < last {
			t.Fatalf("progress regressed from %.1f to %.1f", last, ev.Percent)
		}
		last = ev.Percent
	}
	if last != 100 {
		t.Fatalf("final progress = %.1f, want 100", last)
	}
}
