package sessionstore

import "time"

// Phase is the lifecycle of one export session.
type Phase string

const (
	PhaseProfiling  Phase = "profiling"
	PhasePlanning   Phase = "planning"
	PhaseRendering  Phase = "rendering"
	PhaseCombining  Phase = "combining"
	PhaseFinalizing Phase = "finalizing"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

var allPhases = []Phase{
	PhaseProfiling,
	PhasePlanning,
	PhaseRendering,
	PhaseCombining,
	PhaseFinalizing,
	PhaseSucceeded,
	PhaseFailed,
	PhaseCancelled,
}

// Valid reports whether the phase is a known lifecycle value.
func (p Phase) Valid() bool {
	for _, known := range allPhases {
		if p == known {
			return true
		}
	}
	return false
}

// Terminal reports whether the session has finished.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// DaemonRestartReason marks sessions reclaimed after an unclean shutdown.
const DaemonRestartReason = "daemon restarted while session was active"

// Session is one export session row.
type Session struct {
	ID              string
	SourcePath      string
	OutputPath      string
	Phase           Phase
	UseParallel     bool
	WorkerCount     int
	Concurrency     int
	ChunkCount      int
	TotalFrames     int
	ProgressPercent float64
	ProgressStage   string
	ProgressMessage string
	ErrorKind       string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}
