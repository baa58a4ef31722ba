// Package search implements the parallel search path: query normalization,
// the corpus and external source adapters, the concurrent fan-out, and the
// job manager that owns search job lifecycles.
package search

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/argus-news/argus/pkg/models"
	"github.com/argus-news/argus/pkg/services"
)

// substringMaxLen is the query length (in runes, so CJK input counts
// characters, not bytes) at or below which substring matching is used
// instead of full-text search.
const substringMaxLen = 2

// windowDays maps recognized window tokens to a lower bound of now - N days.
var windowDays = map[string]int{
	"1d":  1,
	"3d":  3,
	"7d":  7,
	"14d": 14,
	"30d": 30,
	"90d": 90,
}

// Normalize validates and cleans a raw query and resolves its time window.
// An explicit [start, end] range wins over a window token; with neither the
// query is unbounded. The returned query is safe to hand to storage: FTS
// input is plain-parsed downstream, never interpreted as query syntax.
func Normalize(raw, windowToken string, startDate, endDate *time.Time) (models.NormalizedQuery, error) {
	q := strings.TrimSpace(raw)
	if q == "" {
		return models.NormalizedQuery{}, services.NewValidationError("query", "must not be empty")
	}

	mode := models.SearchModeFTS
	if utf8.RuneCountInString(q) <= substringMaxLen {
		mode = models.SearchModeSubstring
	}

	nq := models.NormalizedQuery{Q: q, Mode: mode}

	switch {
	case startDate != nil || endDate != nil:
		if startDate != nil && endDate != nil && startDate.After(*endDate) {
			return models.NormalizedQuery{}, services.NewValidationError("start_date", "must not be after end_date")
		}
		nq.Since = startDate
		nq.Until = endDate
	case windowToken != "":
		days, ok := windowDays[windowToken]
		if !ok {
			return models.NormalizedQuery{}, services.NewValidationError("window", "unrecognized window token")
		}
		since := time.Now().UTC().AddDate(0, 0, -days)
		nq.Since = &since
	}

	return nq, nil
}
