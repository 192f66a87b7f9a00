package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that configuration values fall inside workable ranges.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Renderer.Binary) == "" {
		problems = append(problems, "renderer.binary is required")
	}
	if c.Transcoder.FallbackCRF < 0 || c.Transcoder.FallbackCRF > 51 {
		problems = append(problems, "transcoder.fallback_crf must be within [0, 51]")
	}
	if c.Transcoder.MinOutputFraction < 0 || c.Transcoder.MinOutputFraction >= 1 {
		problems = append(problems, "transcoder.min_output_fraction must be within [0, 1)")
	}
	if c.Transcoder.MinOutputBytes < 0 {
		problems = append(problems, "transcoder.min_output_bytes must not be negative")
	}
	if c.Planner.MaxWorkers < 1 {
		problems = append(problems, "planner.max_workers must be at least 1")
	}
	if c.Planner.MaxConcurrency < 1 {
		problems = append(problems, "planner.max_concurrency must be at least 1")
	}
	if c.Planner.ParallelConcurrencyCap < 1 {
		problems = append(problems, "planner.parallel_concurrency_cap must be at least 1")
	}
	if c.Planner.CPUFraction <= 0 || c.Planner.CPUFraction > 1 {
		problems = append(problems, "planner.cpu_fraction must be within (0, 1]")
	}
	if c.Planner.MemoryPerWorkerGB <= 0 {
		problems = append(problems, "planner.memory_per_worker_gb must be positive")
	}
	if c.Planner.TargetChunkSeconds < 1 {
		problems = append(problems, "planner.target_chunk_seconds must be at least 1")
	}
	if c.Planner.MinTimeoutMinutes < 1 {
		problems = append(problems, "planner.min_timeout_minutes must be at least 1")
	}
	if c.Planner.MaxTimeoutMinutes < c.Planner.MinTimeoutMinutes {
		problems = append(problems, "planner.max_timeout_minutes must not be below planner.min_timeout_minutes")
	}
	if c.Adaptive.RSSRatio <= 0 || c.Adaptive.RSSRatio > 1 {
		problems = append(problems, "adaptive.rss_ratio must be within (0, 1]")
	}
	if c.Adaptive.IncreaseEvery < 1 {
		problems = append(problems, "adaptive.increase_every must be at least 1")
	}
	if c.Adaptive.CooldownBatches < 0 {
		problems = append(problems, "adaptive.cooldown_batches must not be negative")
	}
	if c.Worker.HeartbeatIntervalSeconds < 1 {
		problems = append(problems, "worker.heartbeat_interval_seconds must be at least 1")
	}
	if c.Worker.HeartbeatTimeoutSeconds <= c.Worker.HeartbeatIntervalSeconds {
		problems = append(problems, "worker.heartbeat_timeout_seconds must exceed worker.heartbeat_interval_seconds")
	}
	if c.Worker.MaxRestarts < 0 {
		problems = append(problems, "worker.max_restarts must not be negative")
	}
	if c.Worker.GracePeriodSeconds < 1 {
		problems = append(problems, "worker.grace_period_seconds must be at least 1")
	}
	if c.Machine.ReserveFraction < 0 || c.Machine.ReserveFraction >= 1 {
		problems = append(problems, "machine.reserve_fraction must be within [0, 1)")
	}
	if c.Machine.MinReserveGB < 0 {
		problems = append(problems, "machine.min_reserve_gb must not be negative")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
