package events

// Typed payloads for the stream events. These are the wire contract with
// stream clients; field renames are breaking changes.

// ConnectedPayload opens every stream.
type ConnectedPayload struct {
	JobID string `json:"job_id"`
}

// ProgressPayload reports a mid-flight status note.
type ProgressPayload struct {
	Source  string `json:"source,omitempty"`
	Message string `json:"message"`
}

// PartialResultPayload carries one source's items as they arrive. Emission
// order is completion order, not source order.
type PartialResultPayload struct {
	Source string `json:"source"`
	Items  any    `json:"items"`
	Count  int    `json:"count"`
	TookMs int64  `json:"took_ms"`
}

// SourceErrorPayload reports one source's failure without failing the job.
type SourceErrorPayload struct {
	Source   string `json:"source"`
	Code     string `json:"code"`
	Category string `json:"category"`
	Message  string `json:"message,omitempty"`
}

// TaskDispatchedPayload reports a sub-task handed to its provider.
type TaskDispatchedPayload struct {
	SubTaskID  string `json:"sub_task_id"`
	ProviderID string `json:"provider_id"`
	TaskType   string `json:"task_type"`
	RetryCount int    `json:"retry_count"`
}

// TaskCompletedPayload reports a sub-task reaching a terminal state.
type TaskCompletedPayload struct {
	SubTaskID  string `json:"sub_task_id"`
	ProviderID string `json:"provider_id"`
	Status     string `json:"status"`
	Code       string `json:"code,omitempty"`
}

// EvidencePayload carries one newly ingested evidence row.
type EvidencePayload struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	Stance         string `json:"stance"`
	Snippet        string `json:"snippet,omitempty"`
	SourceCategory string `json:"source_category"`
}

// DonePayload is the successful terminal event. Code and Category are set
// for partial successes to describe the dominant failure among the losers.
type DonePayload struct {
	Status     string `json:"status"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Total      int    `json:"total"`
	Summary    string `json:"summary,omitempty"`
	Code       string `json:"code,omitempty"`
	Category   string `json:"category,omitempty"`
}

// ErrorPayload is the failure terminal event.
type ErrorPayload struct {
	Status   string `json:"status"`
	Code     string `json:"code,omitempty"`
	Category string `json:"category,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// OverflowPayload is delivered to a dropped subscriber as its final event.
type OverflowPayload struct {
	JobID   string `json:"job_id"`
	LastSeq int64  `json:"last_seq"`
	Message string `json:"message"`
}
