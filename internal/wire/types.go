package wire

import "fmt"

// Request type values accepted by a worker.
const (
	RequestExport = "export"
	RequestStatus = "status"
	RequestCancel = "cancel"
)

// Message type values emitted by a worker.
const (
	MessageResult    = "result"
	MessageProgress  = "progress"
	MessageHeartbeat = "heartbeat"
)

// Request is the envelope the pool writes to a worker's stdin. Job is set
// only for export requests.
type Request struct {
	ID   string     `json:"id"`
	Type string     `json:"type"`
	Job  *ExportJob `json:"job,omitempty"`
}

// Validate checks the envelope against the closed request set.
func (r Request) Validate() error {
	switch r.Type {
	case RequestExport:
		if r.ID == "" {
			return fmt.Errorf("export request missing id")
		}
		if r.Job == nil {
			return fmt.Errorf("export request %s missing job", r.ID)
		}
		return r.Job.Validate()
	case RequestStatus, RequestCancel:
		return nil
	default:
		return fmt.Errorf("unknown request type %q", r.Type)
	}
}

// ChunkRange names one chunk of the plan assigned to a worker. EndFrame is
// exclusive.
type ChunkRange struct {
	Index      int `json:"index"`
	StartFrame int `json:"start_frame"`
	EndFrame   int `json:"end_frame"`
}

// Frames returns the number of frames in the range.
func (c ChunkRange) Frames() int {
	return c.EndFrame - c.StartFrame
}

// ExportJob tells a worker which chunks of the source composition to render.
// Chunks are contiguous and index-ascending. With CombineLocally set the
// worker merges its chunk outputs into OutputPath itself; otherwise it
// leaves the chunk files in StagingDir and reports their paths.
type ExportJob struct {
	SessionID      string       `json:"session_id"`
	SourcePath     string       `json:"source_path"`
	OutputPath     string       `json:"output_path"`
	StagingDir     string       `json:"staging_dir"`
	Chunks         []ChunkRange `json:"chunks"`
	TotalFrames    int          `json:"total_frames"`
	FPS            float64      `json:"fps"`
	Width          int          `json:"width"`
	Height         int          `json:"height"`
	Concurrency    int          `json:"concurrency"`
	CombineLocally bool         `json:"combine_locally"`
	ExtraArgs      []string     `json:"extra_args,omitempty"`
}

// Frames returns the total number of frames across the job's chunks.
func (j ExportJob) Frames() int {
	total := 0
	for _, chunk := range j.Chunks {
		total += chunk.Frames()
	}
	return total
}

// Validate rejects jobs a worker could not act on.
func (j ExportJob) Validate() error {
	if j.SourcePath == "" {
		return fmt.Errorf("job missing source path")
	}
	if j.OutputPath == "" {
		return fmt.Errorf("job missing output path")
	}
	if len(j.Chunks) == 0 {
		return fmt.Errorf("job has no chunks")
	}
	for i, chunk := range j.Chunks {
		if chunk.StartFrame < 0 || chunk.EndFrame <= chunk.StartFrame {
			return fmt.Errorf("chunk %d has invalid frame range [%d, %d)", chunk.Index, chunk.StartFrame, chunk.EndFrame)
		}
		if i > 0 && chunk.Index != j.Chunks[i-1].Index+1 {
			return fmt.Errorf("job chunks not index-contiguous at position %d", i)
		}
	}
	if j.FPS <= 0 {
		return fmt.Errorf("job has invalid fps %v", j.FPS)
	}
	if j.Concurrency < 1 {
		return fmt.Errorf("job has invalid concurrency %d", j.Concurrency)
	}
	return nil
}

// Message is the envelope a worker writes to stdout. Result and progress
// messages carry the id of the request they answer; heartbeats are
// unsolicited and leave it empty.
type Message struct {
	ID        string         `json:"id,omitempty"`
	Type      string         `json:"type"`
	Result    *ExportResult  `json:"result,omitempty"`
	Progress  *ProgressEvent `json:"progress,omitempty"`
	Heartbeat *Heartbeat     `json:"heartbeat,omitempty"`
}

// Validate checks the envelope against the closed message set.
func (m Message) Validate() error {
	switch m.Type {
	case MessageResult:
		if m.ID == "" {
			return fmt.Errorf("result message missing id")
		}
		if m.Result == nil {
			return fmt.Errorf("result message %s missing payload", m.ID)
		}
	case MessageProgress:
		if m.Progress == nil {
			return fmt.Errorf("progress message missing payload")
		}
	case MessageHeartbeat:
		if m.Heartbeat == nil {
			return fmt.Errorf("heartbeat message missing payload")
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// ChunkOutput names one finished chunk file reported back to the daemon.
type ChunkOutput struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Frames int    `json:"frames"`
}

// ExportResult reports the outcome of one export request. OutputPath is set
// when the worker combined locally; Chunks when the daemon combines.
type ExportResult struct {
	OK             bool          `json:"ok"`
	OutputPath     string        `json:"output_path,omitempty"`
	Chunks         []ChunkOutput `json:"chunks,omitempty"`
	FramesRendered int           `json:"frames_rendered"`
	ElapsedMs      int64         `json:"elapsed_ms"`
	PeakRSSMB      float64       `json:"peak_rss_mb,omitempty"`
	Error          string        `json:"error,omitempty"`
	ErrorKind      string        `json:"error_kind,omitempty"`
	Cancelled      bool          `json:"cancelled,omitempty"`
}

// ProgressEvent is a render progress update for the request named by the
// envelope id. Percent is the worker's job-relative completion in [0, 100];
// the daemon rescales it into the session's global progress.
type ProgressEvent struct {
	Percent     float64 `json:"percent"`
	Stage       string  `json:"stage,omitempty"`
	Message     string  `json:"message,omitempty"`
	ChunkIndex  int     `json:"chunk_index"`
	ChunkCount  int     `json:"chunk_count,omitempty"`
	FramesDone  int     `json:"frames_done"`
	TotalFrames int     `json:"total_frames"`
	Concurrency int     `json:"concurrency,omitempty"`
}

// Heartbeat is a periodic liveness report.
type Heartbeat struct {
	RSSMB       float64 `json:"rss_mb"`
	FreeMB      float64 `json:"free_mb"`
	Concurrency int     `json:"concurrency"`
	Busy        bool    `json:"busy"`
}
