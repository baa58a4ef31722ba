// Package events implements the per-job replayable event journal that feeds
// client streams. Each job owns one Journal: a monotonically numbered,
// bounded buffer of recent events plus a terminal flag. Subscribers attach
// with an optional last-seen seq and receive a strictly ordered stream.
package events

import (
	"encoding/json"
	"time"
)

// EventType names an event on a job stream. Clients must tolerate and
// ignore unknown types.
type EventType string

// Stream event types.
const (
	EventConnected      EventType = "connected"
	EventProgress       EventType = "progress"
	EventPartialResult  EventType = "partial_result"
	EventSourceError    EventType = "source_error"
	EventTaskDispatched EventType = "task_dispatched"
	EventTaskCompleted  EventType = "task_completed"
	EventEvidence       EventType = "evidence"
	EventDone           EventType = "done"
	EventError          EventType = "error"

	// EventOverflow is synthetic: it is delivered to a single subscriber
	// that fell too far behind, never appended to the journal.
	EventOverflow EventType = "overflow"
)

// Terminal reports whether appending this event type closes the journal.
func (t EventType) Terminal() bool {
	return t == EventDone || t == EventError
}

// Event is one record on a job stream. Seq starts at 1 and has no gaps
// within a job; cross-job ordering is undefined.
type Event struct {
	JobID string          `json:"job_id"`
	Seq   int64           `json:"seq"`
	Type  EventType       `json:"event_type"`
	Data  json.RawMessage `json:"data,omitempty"`
	At    time.Time       `json:"at"`
}
