package models

import "time"

// Article is a corpus item. The core treats the corpus as read-only; rows
// are written by collectors outside this process.
type Article struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	URL           string     `json:"url"`
	Source        string     `json:"source"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	CollectedAt   time.Time  `json:"collected_at"`
}

// ArticlePage is one page of corpus search results. TotalElements is exact
// (a real COUNT, not an estimate) so clients can decide continuation.
type ArticlePage struct {
	Items         []Article `json:"items"`
	PageIndex     int       `json:"page_index"`
	PageSize      int       `json:"page_size"`
	TotalElements int       `json:"total_elements"`
}
