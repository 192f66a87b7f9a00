package machine

import (
	"log/slog"
	"os"
	"os/exec"

	"shuttle/internal/logging"
)

// Profile describes the machine at the moment an export was requested.
// Produced fresh per export and never mutated afterwards.
type Profile struct {
	CPUCores          int
	TotalMemoryGB     float64
	AvailableMemoryGB float64
	GPUAvailable      bool
}

// Snapshot is a point-in-time memory reading taken around a render batch.
type Snapshot struct {
	RSSMB   float64
	FreeMB  float64
	TotalMB float64
}

// Conservative fallbacks used when the host refuses to answer. Planning with
// a weaker machine than reality wastes time; planning with a stronger one
// can exhaust memory, so failures degrade downward.
const (
	fallbackCPUCores    = 4
	fallbackTotalGB     = 4
	fallbackAvailableGB = 2
)

// Params controls the available-memory normalization.
type Params struct {
	ReserveFraction float64
	MinReserveGB    float64
}

// Profiler produces machine profiles and memory snapshots.
type Profiler struct {
	params Params
	logger *slog.Logger
}

// NewProfiler constructs a profiler with the given normalization parameters.
func NewProfiler(params Params, logger *slog.Logger) *Profiler {
	return &Profiler{params: params, logger: logging.WithComponent(logger, "machine")}
}

// Profile inspects the host. It never fails: any stat that cannot be read is
// replaced with a conservative default.
func (p *Profiler) Profile() Profile {
	raw, err := probe()
	if err != nil {
		p.logger.Warn("machine probe failed, using conservative defaults",
			logging.Error(err),
			logging.String(logging.FieldEventType, "machine_probe_failed"),
			logging.String(logging.FieldErrorHint, "exports will run with reduced parallelism"))
		return Profile{
			CPUCores:          fallbackCPUCores,
			TotalMemoryGB:     fallbackTotalGB,
			AvailableMemoryGB: fallbackAvailableGB,
			GPUAvailable:      false,
		}
	}

	profile := Profile{
		CPUCores:      raw.cpuCores,
		TotalMemoryGB: raw.totalGB,
		GPUAvailable:  detectGPU(),
	}
	if profile.CPUCores < 1 {
		profile.CPUCores = fallbackCPUCores
	}
	if profile.TotalMemoryGB <= 0 {
		profile.TotalMemoryGB = fallbackTotalGB
	}
	profile.AvailableMemoryGB = NormalizeAvailable(profile.TotalMemoryGB, raw.availableGB, p.params)

	p.logger.Debug("machine profiled",
		logging.Int("cpu_cores", profile.CPUCores),
		logging.Float64("total_memory_gb", profile.TotalMemoryGB),
		logging.Float64("available_memory_gb", profile.AvailableMemoryGB),
		logging.Bool("gpu_available", profile.GPUAvailable))
	return profile
}

// NormalizeAvailable floors the raw available-memory reading at
// max(total*reserveFraction, minReserveGB) and clamps the result to total.
// The function is deterministic and idempotent: applying it to its own
// output returns the same value.
func NormalizeAvailable(totalGB, availableGB float64, params Params) float64 {
	if totalGB <= 0 {
		return 0
	}
	floor := totalGB * params.ReserveFraction
	if params.MinReserveGB > floor {
		floor = params.MinReserveGB
	}
	normalized := availableGB
	if floor > normalized {
		normalized = floor
	}
	if normalized > totalGB {
		normalized = totalGB
	}
	if normalized < 0 {
		normalized = 0
	}
	return normalized
}

// Sample reads the current process RSS plus system free/total memory. Used
// inside render workers around each batch. On failure the snapshot is zero;
// pressure detection treats zero readings as "unknown, no signal".
func (p *Profiler) Sample() (Snapshot, error) {
	snap, err := sample()
	if err != nil {
		p.logger.Debug("memory sample failed", logging.Error(err))
		return Snapshot{}, err
	}
	return snap, nil
}

type rawStats struct {
	cpuCores    int
	totalGB     float64
	availableGB float64
}

func detectGPU() bool {
	if entries, err := os.ReadDir("/dev/dri"); err == nil && len(entries) > 0 {
		return true
	}
	if _, err := exec.LookPath("nvidia-smi"); err == nil {
		return true
	}
	return false
}
