package api

import "time"

// createSearchJobRequest is the body of POST /api/v1/search/jobs. Window is
// a relative token like "7d"; an explicit start/end range overrides it.
type createSearchJobRequest struct {
	Query        string     `json:"query" binding:"required"`
	Window       string     `json:"window,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	PriorityURLs []string   `json:"priority_urls,omitempty"`
}

// createDeepJobRequest is the body of POST /api/v1/deep/jobs.
type createDeepJobRequest struct {
	Topic   string `json:"topic" binding:"required"`
	BaseURL string `json:"base_url,omitempty"`
}
