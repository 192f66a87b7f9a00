package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"shuttle/internal/combine"
	"shuttle/internal/exporterr"
	"shuttle/internal/logging"
	"shuttle/internal/planner"
	"shuttle/internal/sessionstore"
	"shuttle/internal/wire"
)

func (c *Coordinator) run(ctx context.Context, sess *activeSession, req ExportRequest) {
	defer close(sess.done)
	defer c.clearActive(sess.id)

	logger := c.logger.With(logging.String(logging.FieldSessionID, sess.id))
	// Journal writes must land even after the session context is cancelled.
	journal := context.Background()

	logger.Info("export session started",
		logging.String("source", req.SourcePath),
		logging.String("output", req.OutputPath),
	)

	profile := c.profiler.Profile()

	_ = c.store.SetPhase(journal, sess.id, sessionstore.PhasePlanning)
	plan, alloc, err := c.planner.Plan(profile, req.Content)
	if err != nil {
		c.finish(journal, sess.id, logger, err)
		return
	}
	if req.MaxWorkers > 0 {
		alloc.CapWorkers(req.MaxWorkers)
	}
	if req.ForceSerialDecode {
		alloc.ForceSerialDecode()
		logger.Info("serial decode forced, render concurrency pinned to 1")
	}
	_ = c.store.SetPlan(journal, sess.id, alloc.UseParallel, alloc.WorkerCount, alloc.Concurrency, plan.ChunkCount(), plan.TotalFrames)
	logger.Info("export planned",
		logging.Int(logging.FieldChunkCount, plan.ChunkCount()),
		logging.Int("workers", alloc.WorkerCount),
		logging.Int("concurrency", alloc.Concurrency),
		logging.Bool("parallel", alloc.UseParallel),
		logging.Duration("timeout", alloc.Timeout),
	)

	tracker := NewProgressTracker(plan.TotalFrames, func(snap ProgressSnapshot) {
		_ = c.store.SetProgress(journal, sess.id, snap.Percent, snap.Stage, snap.Message)
	})
	defer tracker.Close()
	tracker.SetStage("preparing", fmt.Sprintf("planned %d chunks", plan.ChunkCount()), bandPrepareEnd)

	_ = c.store.SetPhase(journal, sess.id, sessionstore.PhaseRendering)
	c.pool.ResetBudgets()

	var exportErr error
	if alloc.UseParallel {
		exportErr = c.runParallel(ctx, journal, sess.id, req, plan, alloc, tracker)
	} else {
		exportErr = c.runSequential(ctx, sess.id, req, plan, alloc, tracker)
	}

	c.teardownWorkers(alloc.WorkerCount)

	if exportErr != nil {
		// Context cancellation surfacing as any error kind is still a cancel.
		if ctx.Err() != nil && !exporterr.IsCancellation(exportErr) {
			exportErr = exporterr.Wrap(exporterr.ErrCancelled, "coordinator", "export", "session cancelled", exportErr)
		}
		c.removePartialOutput(req.OutputPath, logger)
		c.finish(journal, sess.id, logger, exportErr)
		return
	}

	_ = c.store.SetProgress(journal, sess.id, bandDone, "finalizing", "export complete")
	c.finish(journal, sess.id, logger, nil)
}

// runSequential sends one job covering the whole plan to a single worker,
// which combines locally; there is no central combine step.
func (c *Coordinator) runSequential(ctx context.Context, id string, req ExportRequest, plan planner.ChunkPlan, alloc planner.Allocation, tracker *ProgressTracker) error {
	worker, err := c.pool.GetOrCreate(workerName(0), tracker.ObserveWorker)
	if err != nil {
		return err
	}
	job := c.buildJob(id, req, plan.Entries, alloc, true)
	_, err = worker.Export(ctx, job, alloc.Timeout)
	return err
}

// runParallel partitions the plan into contiguous index groups, dispatches
// one job per group to a distinct worker, awaits all of them, and combines
// the flattened results. Any group failure cancels the siblings.
func (c *Coordinator) runParallel(ctx context.Context, journal context.Context, id string, req ExportRequest, plan planner.ChunkPlan, alloc planner.Allocation, tracker *ProgressTracker) error {
	groups := partition(plan.Entries, alloc.WorkerCount)
	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]wire.ExportResult, len(groups))
	errs := make([]error, len(groups))
	var wg sync.WaitGroup
	for i, group := range groups {
		wg.Add(1)
		go func(i int, group []planner.ChunkEntry) {
			defer wg.Done()
			worker, err := c.pool.GetOrCreate(workerName(i), tracker.ObserveWorker)
			if err == nil {
				results[i], err = worker.Export(groupCtx, c.buildJob(id, req, group, alloc, false), alloc.Timeout)
			}
			if err != nil {
				errs[i] = err
				cancel()
				c.pool.CancelAll()
			}
		}(i, group)
	}
	wg.Wait()

	if err := firstError(errs); err != nil {
		c.removeChunkFiles(results)
		return err
	}

	_ = c.store.SetPhase(journal, id, sessionstore.PhaseCombining)
	tracker.SetStage("finalizing", "combining chunks", bandRenderEnd)

	var chunks []combine.Chunk
	for _, result := range results {
		for _, out := range result.Chunks {
			chunks = append(chunks, combine.Chunk{Index: out.Index, Path: out.Path, OK: true})
		}
	}
	return c.merger.Combine(ctx, chunks, req.OutputPath)
}

func (c *Coordinator) buildJob(id string, req ExportRequest, entries []planner.ChunkEntry, alloc planner.Allocation, combineLocally bool) wire.ExportJob {
	chunks := make([]wire.ChunkRange, len(entries))
	total := 0
	for i, entry := range entries {
		chunks[i] = wire.ChunkRange{Index: entry.Index, StartFrame: entry.StartFrame, EndFrame: entry.EndFrame}
		total += entry.Frames()
	}
	return wire.ExportJob{
		SessionID:      id,
		SourcePath:     req.SourcePath,
		OutputPath:     req.OutputPath,
		StagingDir:     c.cfg.Paths.StagingDir,
		Chunks:         chunks,
		TotalFrames:    req.Content.TotalFrames,
		FPS:            req.Content.FPS,
		Width:          req.Content.Width,
		Height:         req.Content.Height,
		Concurrency:    alloc.Concurrency,
		CombineLocally: combineLocally,
		ExtraArgs:      req.ExtraArgs,
	}
}

func (c *Coordinator) finish(ctx context.Context, id string, logger *slog.Logger, err error) {
	switch {
	case err == nil:
		_ = c.store.Finish(ctx, id, sessionstore.PhaseSucceeded, "", "")
		logger.Info("export session succeeded")
	case exporterr.IsCancellation(err):
		_ = c.store.Finish(ctx, id, sessionstore.PhaseCancelled, exporterr.Kind(err), err.Error())
		logger.Info("export session cancelled")
	default:
		_ = c.store.Finish(ctx, id, sessionstore.PhaseFailed, exporterr.Kind(err), err.Error())
		logger.Error("export session failed",
			logging.String(logging.FieldErrorHint, exporterr.Kind(err)),
			logging.Error(err),
		)
	}
}

func (c *Coordinator) teardownWorkers(workerCount int) {
	if workerCount < 1 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		c.pool.Destroy(workerName(i))
	}
}

func (c *Coordinator) removePartialOutput(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove partial output", logging.Error(err))
	}
}

func (c *Coordinator) removeChunkFiles(results []wire.ExportResult) {
	for _, result := range results {
		for _, out := range result.Chunks {
			_ = os.Remove(out.Path)
		}
	}
}

// workerName gives slots deterministic names so repeated sessions reuse and
// clean the same processes.
func workerName(group int) string {
	return fmt.Sprintf("group-%d", group)
}

// partition splits entries into at most k contiguous groups whose sizes
// differ by at most one.
func partition(entries []planner.ChunkEntry, k int) [][]planner.ChunkEntry {
	if k < 1 {
		k = 1
	}
	if k > len(entries) {
		k = len(entries)
	}
	groups := make([][]planner.ChunkEntry, 0, k)
	base := len(entries) / k
	rem := len(entries) % k
	start := 0
	for i := 0; i < k; i++ {
		size := base
		if i < rem {
			size++
		}
		groups = append(groups, entries[start:start+size])
		start += size
	}
	return groups
}

// firstError prefers a real failure over cancellations so sibling cancels
// triggered by the root cause do not mask it.
func firstError(errs []error) error {
	var cancelErr error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if !exporterr.IsCancellation(err) {
			return err
		}
		if cancelErr == nil {
			cancelErr = err
		}
	}
	return cancelErr
}
