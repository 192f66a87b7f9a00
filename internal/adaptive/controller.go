package adaptive

import (
	"fmt"

	"shuttle/internal/machine"
)

// PressureCheck is the verdict derived from a before/after snapshot pair.
type PressureCheck struct {
	HasPressure bool
	Reason      string
}

// Thresholds configures pressure detection. Empirically tuned; carried in
// configuration rather than constants.
type Thresholds struct {
	FreeFloorMB float64
	RSSRatio    float64
}

// DetectPressure inspects the post-batch snapshot: pressure is signaled when
// free memory fell below the absolute floor or the worker's resident set
// exceeds the configured fraction of total memory. Zero readings mean the
// platform could not answer and produce no signal.
func DetectPressure(before, after machine.Snapshot, thresholds Thresholds) PressureCheck {
	_ = before
	if after.FreeMB > 0 && thresholds.FreeFloorMB > 0 && after.FreeMB < thresholds.FreeFloorMB {
		return PressureCheck{
			HasPressure: true,
			Reason:      fmt.Sprintf("free memory %.0fMB below floor %.0fMB", after.FreeMB, thresholds.FreeFloorMB),
		}
	}
	if after.RSSMB > 0 && after.TotalMB > 0 && thresholds.RSSRatio > 0 {
		ratio := after.RSSMB / after.TotalMB
		if ratio > thresholds.RSSRatio {
			return PressureCheck{
				HasPressure: true,
				Reason:      fmt.Sprintf("rss %.0fMB is %.0f%% of total %.0fMB", after.RSSMB, ratio*100, after.TotalMB),
			}
		}
	}
	return PressureCheck{}
}

// Controller adjusts in-process render concurrency between batches.
// Invariant: min <= current <= max at all times.
type Controller struct {
	current       int
	min           int
	max           int
	cooldown      int
	successStreak int

	increaseEvery   int
	cooldownBatches int
}

// NewController builds a controller starting at the minimum concurrency.
// increaseEvery is the number of consecutive clean batches required per
// increment; cooldownBatches is how many clean batches are ignored after a
// pressure event.
func NewController(min, max, increaseEvery, cooldownBatches int) *Controller {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	if increaseEvery < 1 {
		increaseEvery = 1
	}
	if cooldownBatches < 0 {
		cooldownBatches = 0
	}
	return &Controller{
		current:         min,
		min:             min,
		max:             max,
		increaseEvery:   increaseEvery,
		cooldownBatches: cooldownBatches,
	}
}

// Current returns the concurrency to use for the next batch.
func (c *Controller) Current() int {
	return c.current
}

// Observe feeds the pressure verdict for a completed batch into the
// controller and returns the previous and new concurrency values.
func (c *Controller) Observe(check PressureCheck) (previous, current int) {
	previous = c.current
	if check.HasPressure {
		halved := c.current / 2
		if halved < c.min {
			halved = c.min
		}
		c.current = halved
		c.successStreak = 0
		c.cooldown = c.cooldownBatches
		return previous, c.current
	}

	c.successStreak++
	if c.cooldown > 0 {
		c.cooldown--
		return previous, c.current
	}
	if c.current < c.max && c.successStreak%c.increaseEvery == 0 {
		c.current++
	}
	return previous, c.current
}
