package search

import (
	"context"

	"github.com/argus-news/argus/pkg/models"
)

// Request is the input handed to every source adapter in a fan-out.
type Request struct {
	Query        models.NormalizedQuery
	PriorityURLs []string
}

// PartialResult is one source's contribution to a search job.
type PartialResult struct {
	Source string
	Items  []models.Article
	TookMs int64
}

// SourceAdapter is a pluggable search source registered under a stable id.
// Fetch must honor ctx cancellation; results arriving after the job's
// journal is terminal are discarded.
type SourceAdapter interface {
	ID() string
	Fetch(ctx context.Context, req Request) (*PartialResult, error)
}
