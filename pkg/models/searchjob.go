// Package models defines the persisted records and closed enums shared by
// the search and deep-search cores.
package models

import "time"

// JobStatus is the lifecycle state of a search job.
type JobStatus string

// Search job lifecycle states. Terminal states are absorbing: the first
// terminal transition wins and later writers no-op.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusTimeout   JobStatus = "timeout"
)

// Terminal reports whether the status is absorbing.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimeout:
		return true
	}
	return false
}

// SearchJob is a top-level parallel-search request. One job owns one event
// journal and sees exactly one terminal transition.
type SearchJob struct {
	ID              string          `json:"job_id"`
	Query           string          `json:"query"`
	WindowToken     string          `json:"window,omitempty"`
	StartDate       *time.Time      `json:"start_date,omitempty"`
	EndDate         *time.Time      `json:"end_date,omitempty"`
	PriorityURLs    []string        `json:"priority_urls,omitempty"`
	Status          JobStatus       `json:"status"`
	FailureCode     FailureCode     `json:"failure_code,omitempty"`
	FailureCategory FailureCategory `json:"failure_category,omitempty"`
	Summary         string          `json:"summary,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// SearchJobFilters contains filtering options for listing search jobs.
type SearchJobFilters struct {
	Status JobStatus
	Limit  int
	Offset int
}

// SearchJobList contains a paginated job listing.
type SearchJobList struct {
	Jobs       []*SearchJob `json:"jobs"`
	TotalCount int          `json:"total_count"`
	Limit      int          `json:"limit"`
	Offset     int          `json:"offset"`
}
