package models

import "time"

// SearchMode selects the corpus retrieval strategy for a query.
type SearchMode string

// Retrieval modes. Queries of one or two characters use SUBSTRING; longer
// queries use plain-parsed full-text search.
const (
	SearchModeSubstring SearchMode = "SUBSTRING"
	SearchModeFTS       SearchMode = "FTS"
)

// NormalizedQuery is the validated, window-resolved form of a raw search
// request. Since/Until are nil when unbounded.
type NormalizedQuery struct {
	Q     string
	Since *time.Time
	Until *time.Time
	Mode  SearchMode
}
