package logging

// Standardized attribute keys. Every component logs session and chunk
// identity under the same names so one grep follows an export end to end.
const (
	FieldComponent  = "component"
	FieldSessionID  = "session_id"
	FieldWorker     = "worker"
	FieldChunkIndex = "chunk_index"
	FieldChunkCount = "chunk_count"
	FieldStage      = "stage"
	FieldEventType  = "event_type"
	FieldErrorHint  = "error_hint"
)
