package search

import (
	"context"
	"fmt"
	"time"

	"github.com/argus-news/argus/pkg/services"
)

// CorpusSourceID is the stable id the local article corpus reports under.
const CorpusSourceID = "corpus"

// corpusPageSize caps the items one fan-out pulls from the corpus. Clients
// wanting more use the synchronous corpus search endpoint with pagination.
const corpusPageSize = 50

// CorpusSource adapts the local article corpus to the SourceAdapter
// interface so it participates in the fan-out like any external source.
type CorpusSource struct {
	articles *services.ArticleService
}

// NewCorpusSource creates the corpus adapter.
func NewCorpusSource(articles *services.ArticleService) *CorpusSource {
	return &CorpusSource{articles: articles}
}

// ID implements SourceAdapter.
func (c *CorpusSource) ID() string { return CorpusSourceID }

// Fetch implements SourceAdapter. A storage failure surfaces as a
// service_unavailable source error; it never fails the job by itself.
func (c *CorpusSource) Fetch(ctx context.Context, req Request) (*PartialResult, error) {
	start := time.Now()

	page, err := c.articles.Search(ctx, req.Query, 0, corpusPageSize)
	if err != nil {
		return nil, fmt.Errorf("service unavailable: corpus search failed: %w", err)
	}

	return &PartialResult{
		Source: CorpusSourceID,
		Items:  page.Items,
		TookMs: time.Since(start).Milliseconds(),
	}, nil
}

var _ SourceAdapter = (*CorpusSource)(nil)
