package models

import (
	"encoding/json"
	"time"
)

// AiJobStatus is the aggregate state of a deep-search job.
type AiJobStatus string

// Deep-search job states. The aggregate is recomputed from the multiset of
// sub-task states after every sub-task transition.
const (
	AiJobStatusPending        AiJobStatus = "pending"
	AiJobStatusInProgress     AiJobStatus = "in_progress"
	AiJobStatusCompleted      AiJobStatus = "completed"
	AiJobStatusPartialSuccess AiJobStatus = "partial_success"
	AiJobStatusFailed         AiJobStatus = "failed"
	AiJobStatusCancelled      AiJobStatus = "cancelled"
	AiJobStatusTimeout        AiJobStatus = "timeout"
)

// Terminal reports whether the status is absorbing.
func (s AiJobStatus) Terminal() bool {
	switch s {
	case AiJobStatusCompleted, AiJobStatusPartialSuccess, AiJobStatusFailed,
		AiJobStatusCancelled, AiJobStatusTimeout:
		return true
	}
	return false
}

// SubTaskStatus is the lifecycle state of a single provider sub-task.
type SubTaskStatus string

// Sub-task states. A sub-task in a terminal state never transitions again;
// late callbacks are acknowledged as duplicates without mutation.
const (
	SubTaskStatusPending    SubTaskStatus = "pending"
	SubTaskStatusInProgress SubTaskStatus = "in_progress"
	SubTaskStatusCompleted  SubTaskStatus = "completed"
	SubTaskStatusFailed     SubTaskStatus = "failed"
	SubTaskStatusCancelled  SubTaskStatus = "cancelled"
	SubTaskStatusTimeout    SubTaskStatus = "timeout"
)

// Terminal reports whether the status is absorbing.
func (s SubTaskStatus) Terminal() bool {
	switch s {
	case SubTaskStatusCompleted, SubTaskStatusFailed, SubTaskStatusCancelled, SubTaskStatusTimeout:
		return true
	}
	return false
}

// AiJob is a deep-search parent job. It exclusively owns its sub-tasks;
// deleting the parent cascades to children and evidence.
type AiJob struct {
	ID              string          `json:"job_id"`
	Topic           string          `json:"topic"`
	BaseURL         string          `json:"base_url,omitempty"`
	Status          AiJobStatus     `json:"status"`
	FailureCode     FailureCode     `json:"failure_code,omitempty"`
	FailureCategory FailureCategory `json:"failure_category,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// AiSubTask is one unit of deep-search work handled by a single external
// provider. Sub-tasks are keyed by parent job id only; there is no
// back-pointer from the parent struct.
type AiSubTask struct {
	ID                string          `json:"sub_task_id"`
	JobID             string          `json:"job_id"`
	ProviderID        string          `json:"provider_id"`
	TaskType          string          `json:"task_type"`
	Status            SubTaskStatus   `json:"status"`
	RetryCount        int             `json:"retry_count"`
	ResultJSON        json.RawMessage `json:"result_json,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	FailureCode       FailureCode     `json:"failure_code,omitempty"`
	CallbackTokenHash string          `json:"-"`
	CreatedAt         time.Time       `json:"created_at"`
	DispatchedAt      *time.Time      `json:"dispatched_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}
