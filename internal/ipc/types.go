package ipc

import (
	"time"

	"shuttle/internal/sessionstore"
	"shuttle/internal/workerpool"
)

// StartExportRequest begins a new export session.
type StartExportRequest struct {
	SourcePath        string   `json:"source_path"`
	OutputPath        string   `json:"output_path"`
	TotalFrames       int      `json:"total_frames"`
	FPS               float64  `json:"fps"`
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	ExtraArgs         []string `json:"extra_args,omitempty"`
	ForceSerialDecode bool     `json:"force_serial_decode,omitempty"`
	MaxWorkers        int      `json:"max_workers,omitempty"`
}

// StartExportResponse carries the id of the started session.
type StartExportResponse struct {
	SessionID string `json:"session_id"`
}

// CancelExportRequest cancels a session. An empty id targets whichever
// session is active.
type CancelExportRequest struct {
	SessionID string `json:"session_id"`
}

// CancelExportResponse reports cancellation delivery.
type CancelExportResponse struct {
	Cancelled bool `json:"cancelled"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// WorkerStatus describes one worker slot.
type WorkerStatus = workerpool.WorkerStatus

// StatusResponse represents daemon runtime status.
type StatusResponse struct {
	Running       bool           `json:"running"`
	PID           int            `json:"pid"`
	StartedAt     time.Time      `json:"started_at"`
	SessionDBPath string         `json:"session_db_path"`
	LockPath      string         `json:"lock_path"`
	Active        *Session       `json:"active,omitempty"`
	Workers       []WorkerStatus `json:"workers,omitempty"`
}

// Session mirrors the stored export session for IPC callers.
type Session struct {
	ID              string     `json:"id"`
	SourcePath      string     `json:"source_path"`
	OutputPath      string     `json:"output_path"`
	Phase           string     `json:"phase"`
	UseParallel     bool       `json:"use_parallel"`
	WorkerCount     int        `json:"worker_count"`
	Concurrency     int        `json:"concurrency"`
	ChunkCount      int        `json:"chunk_count"`
	TotalFrames     int        `json:"total_frames"`
	ProgressPercent float64    `json:"progress_percent"`
	ProgressStage   string     `json:"progress_stage"`
	ProgressMessage string     `json:"progress_message"`
	ErrorKind       string     `json:"error_kind,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// SessionListRequest lists recent sessions, newest first.
type SessionListRequest struct {
	Limit int `json:"limit"`
}

// SessionListResponse contains session entries.
type SessionListResponse struct {
	Sessions []Session `json:"sessions"`
}

// SessionClearRequest removes terminal sessions from the journal.
type SessionClearRequest struct{}

// SessionClearResponse reports how many sessions were removed.
type SessionClearResponse struct {
	Removed int64 `json:"removed"`
}

// SessionDescribeRequest fetches a single session by id.
type SessionDescribeRequest struct {
	ID string `json:"id"`
}

// SessionDescribeResponse contains a single session.
type SessionDescribeResponse struct {
	Session Session `json:"session"`
}

func convertSession(sess *sessionstore.Session) Session {
	return Session{
		ID:              sess.ID,
		SourcePath:      sess.SourcePath,
		OutputPath:      sess.OutputPath,
		Phase:           string(sess.Phase),
		UseParallel:     sess.UseParallel,
		WorkerCount:     sess.WorkerCount,
		Concurrency:     sess.Concurrency,
		ChunkCount:      sess.ChunkCount,
		TotalFrames:     sess.TotalFrames,
		ProgressPercent: sess.ProgressPercent,
		ProgressStage:   sess.ProgressStage,
		ProgressMessage: sess.ProgressMessage,
		ErrorKind:       sess.ErrorKind,
		ErrorMessage:    sess.ErrorMessage,
		CreatedAt:       sess.CreatedAt,
		UpdatedAt:       sess.UpdatedAt,
		CompletedAt:     sess.CompletedAt,
	}
}
