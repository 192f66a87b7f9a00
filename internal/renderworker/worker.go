package renderworker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"shuttle/internal/adaptive"
	"shuttle/internal/combine"
	"shuttle/internal/config"
	"shuttle/internal/exporterr"
	"shuttle/internal/logging"
	"shuttle/internal/machine"
	"shuttle/internal/wire"
)

// Sampler provides memory snapshots around render batches.
// *machine.Profiler satisfies it.
type Sampler interface {
	Sample() (machine.Snapshot, error)
}

// Merger combines locally rendered chunks into the job's output file.
type Merger interface {
	Combine(ctx context.Context, chunks []combine.Chunk, outputPath string) error
}

// Params tunes the per-job adaptive concurrency loop.
type Params struct {
	Thresholds      adaptive.Thresholds
	IncreaseEvery   int
	CooldownBatches int
}

// Emitter publishes protocol messages back to the daemon.
type Emitter func(msg wire.Message)

// Worker executes export jobs one at a time.
type Worker struct {
	renderer  Renderer
	sampler   Sampler
	params    Params
	logger    *slog.Logger
	newMerger func(stagingDir string) Merger
}

// New constructs a worker. The transcoder configuration drives local
// combining in sequential mode.
func New(renderer Renderer, sampler Sampler, transcoder config.Transcoder, params Params, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.WithComponent(logger, "renderworker")
	return &Worker{
		renderer: renderer,
		sampler:  sampler,
		params:   params,
		logger:   logger,
		newMerger: func(stagingDir string) Merger {
			return combine.New(transcoder, stagingDir, logger)
		},
	}
}

// Run renders every chunk of the job in ascending index order and returns a
// result; it never returns an error directly because every outcome,
// including cancellation, must travel back as a result message.
func (w *Worker) Run(ctx context.Context, requestID string, job wire.ExportJob, emit Emitter) wire.ExportResult {
	start := time.Now()
	controller := adaptive.NewController(1, job.Concurrency, w.params.IncreaseEvery, w.params.CooldownBatches)
	totalFrames := job.Frames()
	chunkCount := len(job.Chunks)
	directOutput := job.CombineLocally && chunkCount == 1

	var (
		framesDone int
		peakRSS    float64
		outputs    []wire.ChunkOutput
	)

	fail := func(err error) wire.ExportResult {
		w.removeOutputs(outputs)
		return wire.ExportResult{
			FramesRendered: framesDone,
			ElapsedMs:      time.Since(start).Milliseconds(),
			PeakRSSMB:      peakRSS,
			Error:          err.Error(),
			ErrorKind:      exporterr.Kind(err),
			Cancelled:      exporterr.IsCancellation(err),
		}
	}

	for _, chunk := range job.Chunks {
		if err := ctx.Err(); err != nil {
			return fail(exporterr.Wrap(exporterr.ErrCancelled, "renderworker", "render", "job cancelled", err))
		}

		outPath := job.OutputPath
		if !directOutput {
			outPath = filepath.Join(job.StagingDir, fmt.Sprintf("%s_chunk_%03d.mov", job.SessionID, chunk.Index))
		}

		before := w.snapshot()
		concurrency := controller.Current()
		baseFrames := framesDone
		err := w.renderer.RenderRange(ctx, RenderRequest{
			SourcePath:  job.SourcePath,
			OutputPath:  outPath,
			StartFrame:  chunk.StartFrame,
			EndFrame:    chunk.EndFrame,
			FPS:         job.FPS,
			Width:       job.Width,
			Height:      job.Height,
			Concurrency: concurrency,
			ExtraArgs:   job.ExtraArgs,
		}, func(done int) {
			w.emitProgress(emit, requestID, job, chunk.Index, baseFrames+done, totalFrames, concurrency)
		})
		if err != nil {
			os.Remove(outPath)
			return fail(err)
		}

		framesDone += chunk.Frames()
		outputs = append(outputs, wire.ChunkOutput{Index: chunk.Index, Path: outPath, Frames: chunk.Frames()})
		w.emitProgress(emit, requestID, job, chunk.Index, framesDone, totalFrames, concurrency)

		after := w.snapshot()
		if after.RSSMB > peakRSS {
			peakRSS = after.RSSMB
		}
		check := adaptive.DetectPressure(before, after, w.params.Thresholds)
		if prev, cur := controller.Observe(check); prev != cur {
			w.logger.Info("adjusted render concurrency",
				logging.Int("previous", prev),
				logging.Int("current", cur),
				logging.String("reason", adjustmentReason(check)),
			)
		}
	}

	result := wire.ExportResult{
		OK:             true,
		FramesRendered: framesDone,
		PeakRSSMB:      peakRSS,
	}
	switch {
	case directOutput:
		result.OutputPath = job.OutputPath
	case job.CombineLocally:
		merged := make([]combine.Chunk, len(outputs))
		for i, out := range outputs {
			merged[i] = combine.Chunk{Index: out.Index, Path: out.Path, OK: true}
		}
		w.emitStage(emit, requestID, job, "finalizing", framesDone, totalFrames)
		// The merger owns the chunk files from here on every exit path.
		if err := w.newMerger(job.StagingDir).Combine(ctx, merged, job.OutputPath); err != nil {
			return wire.ExportResult{
				FramesRendered: framesDone,
				ElapsedMs:      time.Since(start).Milliseconds(),
				PeakRSSMB:      peakRSS,
				Error:          err.Error(),
				ErrorKind:      exporterr.Kind(err),
				Cancelled:      exporterr.IsCancellation(err),
			}
		}
		result.OutputPath = job.OutputPath
	default:
		result.Chunks = outputs
	}
	result.ElapsedMs = time.Since(start).Milliseconds()
	return result
}

func (w *Worker) snapshot() machine.Snapshot {
	snap, err := w.sampler.Sample()
	if err != nil {
		// Unknown readings are treated as no signal downstream.
		return machine.Snapshot{}
	}
	return snap
}

func (w *Worker) emitProgress(emit Emitter, requestID string, job wire.ExportJob, chunkIndex, framesDone, totalFrames, concurrency int) {
	if emit == nil || totalFrames == 0 {
		return
	}
	emit(wire.Message{
		ID:   requestID,
		Type: wire.MessageProgress,
		Progress: &wire.ProgressEvent{
			Percent:     100 * float64(framesDone) / float64(totalFrames),
			Stage:       "rendering",
			ChunkIndex:  chunkIndex,
			ChunkCount:  len(job.Chunks),
			FramesDone:  framesDone,
			TotalFrames: totalFrames,
			Concurrency: concurrency,
		},
	})
}

func (w *Worker) emitStage(emit Emitter, requestID string, job wire.ExportJob, stage string, framesDone, totalFrames int) {
	if emit == nil {
		return
	}
	emit(wire.Message{
		ID:   requestID,
		Type: wire.MessageProgress,
		Progress: &wire.ProgressEvent{
			Percent:     100,
			Stage:       stage,
			ChunkCount:  len(job.Chunks),
			FramesDone:  framesDone,
			TotalFrames: totalFrames,
		},
	})
}

func (w *Worker) removeOutputs(outputs []wire.ChunkOutput) {
	for _, out := range outputs {
		if err := os.Remove(out.Path); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("failed to remove chunk file",
				logging.Int(logging.FieldChunkIndex, out.Index),
				logging.Error(err),
			)
		}
	}
}

func adjustmentReason(check adaptive.PressureCheck) string {
	if check.HasPressure {
		return check.Reason
	}
	return "sustained headroom"
}
