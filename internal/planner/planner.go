package planner

import (
	"math"
	"time"

	"shuttle/internal/config"
	"shuttle/internal/exporterr"
	"shuttle/internal/machine"
)

// ContentMetrics describes the composition being exported.
type ContentMetrics struct {
	TotalFrames int
	FPS         float64
	Width       int
	Height      int
}

// DurationSeconds returns the content duration derived from frames and fps.
func (c ContentMetrics) DurationSeconds() float64 {
	if c.FPS <= 0 {
		return 0
	}
	return float64(c.TotalFrames) / c.FPS
}

// ChunkEntry is one contiguous frame range rendered as an independent unit.
// EndFrame is exclusive.
type ChunkEntry struct {
	Index       int
	StartFrame  int
	EndFrame    int
	StartTimeMs float64
	EndTimeMs   float64
}

// Frames returns the number of frames covered by the entry.
func (e ChunkEntry) Frames() int {
	return e.EndFrame - e.StartFrame
}

// ChunkPlan is the ordered set of chunk entries covering [0, TotalFrames).
type ChunkPlan struct {
	Entries     []ChunkEntry
	TotalFrames int
}

// ChunkCount returns the number of chunks in the plan.
func (p ChunkPlan) ChunkCount() int {
	return len(p.Entries)
}

// Allocation describes how much parallelism the export may use. Derived once
// by Plan; subsequent adjustments are monotonic-downward only.
type Allocation struct {
	WorkerCount       int
	Concurrency       int
	UseParallel       bool
	MemoryPerWorkerMB int
	Timeout           time.Duration
}

// Rendering a timeline composition is slower than playback; the timeout
// estimate assumes this many render seconds per content second at 1080p.
const renderCostPerContentSecond = 2.0

// Planner computes chunk plans and worker allocations.
type Planner struct {
	cfg config.Planner
}

// New constructs a planner with the given heuristics configuration.
func New(cfg config.Planner) *Planner {
	return &Planner{cfg: cfg}
}

// Plan derives the chunk plan and worker allocation for one export. Pure and
// deterministic given the same profile and content.
func (p *Planner) Plan(profile machine.Profile, content ContentMetrics) (ChunkPlan, Allocation, error) {
	if content.TotalFrames < 1 {
		return ChunkPlan{}, Allocation{}, exporterr.Wrap(exporterr.ErrPlanning, "planner", "plan", "content has no frames", nil)
	}
	if content.FPS <= 0 {
		return ChunkPlan{}, Allocation{}, exporterr.Wrap(exporterr.ErrPlanning, "planner", "plan", "content has invalid fps", nil)
	}

	plan := p.buildChunkPlan(content)
	alloc := p.buildAllocation(profile, content, plan)
	return plan, alloc, nil
}

// buildChunkPlan picks a chunk size balancing per-chunk render session
// overhead against memory footprint: short videos render as one chunk,
// longer and higher-resolution content gets smaller chunks.
func (p *Planner) buildChunkPlan(content ContentMetrics) ChunkPlan {
	chunkFrames := content.TotalFrames
	if content.TotalFrames > p.cfg.ShortVideoFrames {
		chunkFrames = int(float64(p.cfg.TargetChunkSeconds) * content.FPS)
		divisor := resolutionFactor(content)
		if content.DurationSeconds() > 1800 {
			divisor *= 2
		}
		chunkFrames /= divisor
		if chunkFrames < 1 {
			chunkFrames = 1
		}
		if chunkFrames > content.TotalFrames {
			chunkFrames = content.TotalFrames
		}
	}
	return buildPlan(content, chunkFrames)
}

func buildPlan(content ContentMetrics, chunkFrames int) ChunkPlan {
	msPerFrame := 1000.0 / content.FPS
	entryCount := (content.TotalFrames + chunkFrames - 1) / chunkFrames
	entries := make([]ChunkEntry, 0, entryCount)
	for start := 0; start < content.TotalFrames; start += chunkFrames {
		end := start + chunkFrames
		if end > content.TotalFrames {
			end = content.TotalFrames
		}
		entries = append(entries, ChunkEntry{
			Index:       len(entries),
			StartFrame:  start,
			EndFrame:    end,
			StartTimeMs: float64(start) * msPerFrame,
			EndTimeMs:   float64(end) * msPerFrame,
		})
	}
	return ChunkPlan{Entries: entries, TotalFrames: content.TotalFrames}
}

// resolutionFactor scales chunk sizes and render cost with pixel count:
// 1 up to 1080p, 2 up to 4K, 4 beyond.
func resolutionFactor(content ContentMetrics) int {
	pixels := content.Width * content.Height
	switch {
	case pixels > 3840*2160:
		return 4
	case pixels > 1920*1080:
		return 2
	default:
		return 1
	}
}

func (p *Planner) buildAllocation(profile machine.Profile, content ContentMetrics, plan ChunkPlan) Allocation {
	workerCount, useParallel := p.workerCount(profile, content, plan)
	concurrency := p.concurrency(profile, content, useParallel)
	alloc := Allocation{
		WorkerCount:       workerCount,
		Concurrency:       concurrency,
		UseParallel:       useParallel,
		MemoryPerWorkerMB: int(p.cfg.MemoryPerWorkerGB * 1024),
		Timeout:           p.timeout(content, plan.ChunkCount(), workerCount),
	}
	return alloc
}

// workerCount decides between sequential and parallel execution. Parallel is
// considered only when the content is long enough to amortize process
// overhead and the machine clears every resource minimum; the count is then
// the most conservative of the CPU estimate, the memory estimate, and the
// chunk count.
func (p *Planner) workerCount(profile machine.Profile, content ContentMetrics, plan ChunkPlan) (int, bool) {
	eligible := plan.ChunkCount() > 1 &&
		content.DurationSeconds() >= float64(p.cfg.MinParallelDurationSeconds) &&
		profile.TotalMemoryGB >= p.cfg.MinTotalMemoryGB &&
		profile.AvailableMemoryGB >= p.cfg.MinAvailableMemoryGB &&
		profile.CPUCores >= p.cfg.MinCPUCores
	if !eligible {
		return 1, false
	}

	cpuEstimate := int(float64(profile.CPUCores) * p.cfg.CPUFraction)
	memEstimate := int(profile.AvailableMemoryGB / p.cfg.MemoryPerWorkerGB)
	count := cpuEstimate
	if memEstimate < count {
		count = memEstimate
	}
	if plan.ChunkCount() < count {
		count = plan.ChunkCount()
	}
	if count > p.cfg.MaxWorkers {
		count = p.cfg.MaxWorkers
	}
	if count < 2 {
		return 1, false
	}
	return count, true
}

// concurrency derives per-worker internal render parallelism from CPU and
// memory budgets independently of the worker count, then caps it hard when
// multiple workers multiply the total.
func (p *Planner) concurrency(profile machine.Profile, content ContentMetrics, useParallel bool) int {
	if profile.AvailableMemoryGB < p.cfg.MinAvailableMemoryGB {
		return 1
	}
	cpuBudget := profile.CPUCores / 2
	memBudget := int(profile.AvailableMemoryGB / p.cfg.MemoryPerWorkerGB)
	concurrency := cpuBudget
	if memBudget < concurrency {
		concurrency = memBudget
	}
	if concurrency < 1 {
		concurrency = 1
	}
	// Short videos with comfortable memory tolerate one extra render lane.
	if content.TotalFrames <= p.cfg.ShortVideoFrames && profile.AvailableMemoryGB >= 2*p.cfg.MinAvailableMemoryGB {
		concurrency++
	}
	if concurrency > p.cfg.MaxConcurrency {
		concurrency = p.cfg.MaxConcurrency
	}
	if useParallel && concurrency > p.cfg.ParallelConcurrencyCap {
		concurrency = p.cfg.ParallelConcurrencyCap
	}
	return concurrency
}

// timeout scales the estimated render time by a safety multiplier that grows
// with chunk pressure (chunks per worker), clamped to a bounded range.
func (p *Planner) timeout(content ContentMetrics, chunkCount, workerCount int) time.Duration {
	if workerCount < 1 {
		workerCount = 1
	}
	estimated := content.DurationSeconds() * renderCostPerContentSecond * float64(resolutionFactor(content))
	chunkPressure := float64(chunkCount) / float64(workerCount)
	multiplier := 2 + math.Min(6, chunkPressure)
	timeout := time.Duration(estimated*multiplier) * time.Second

	min := time.Duration(p.cfg.MinTimeoutMinutes) * time.Minute
	max := time.Duration(p.cfg.MaxTimeoutMinutes) * time.Minute
	if timeout < min {
		timeout = min
	}
	if timeout > max {
		timeout = max
	}
	return timeout
}
