package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/argus-news/argus/pkg/events"
	"github.com/argus-news/argus/pkg/models"
)

// Fanout dispatches a search request to every enabled source concurrently
// and reports each source's outcome on the job's journal in completion
// order. One source failing never prevents the others from being reported.
type Fanout struct {
	bus              *events.Bus
	perSourceTimeout time.Duration
}

// NewFanout creates a Fanout emitting onto the given bus.
func NewFanout(bus *events.Bus, perSourceTimeout time.Duration) *Fanout {
	return &Fanout{bus: bus, perSourceTimeout: perSourceTimeout}
}

// Aggregate summarizes a finished fan-out.
type Aggregate struct {
	Successful int // sources that returned without error
	Failed     int
	Total      int
	NonEmpty   int // sources that contributed at least one item

	// Reason explains the failure when no source produced a non-empty
	// result: the most common failure category, earliest first on ties.
	Reason models.FailureReason
}

// Completed reports whether the job counts as successful: at least one
// source must have produced a non-empty result.
func (a Aggregate) Completed() bool { return a.NonEmpty > 0 }

type sourceOutcome struct {
	source string
	result *PartialResult
	err    error
}

// Run fans the request out over the adapters and blocks until every source
// has reported or ctx ends. Items with identical canonicalized URLs
// coalesce across sources; the first arrival wins with its source
// attributed. Late results after ctx ends are silently discarded.
func (f *Fanout) Run(ctx context.Context, jobID string, req Request, adapters []SourceAdapter) Aggregate {
	agg := Aggregate{Total: len(adapters)}
	if len(adapters) == 0 {
		agg.Reason = models.Reason(models.FailureEmptyContent)
		return agg
	}

	outcomes := make(chan sourceOutcome, len(adapters))
	for _, adapter := range adapters {
		go func(adapter SourceAdapter) {
			srcCtx, cancel := context.WithTimeout(ctx, f.perSourceTimeout)
			defer cancel()
			result, err := adapter.Fetch(srcCtx, req)
			outcomes <- sourceOutcome{source: adapter.ID(), result: result, err: err}
		}(adapter)
	}

	seen := make(map[string]bool)
	var failures []models.FailureReason

	for received := 0; received < len(adapters); received++ {
		select {
		case <-ctx.Done():
			// Job deadline or cancel. Adapters are cooperative: their
			// contexts are children of ctx and their eventual results
			// land in a buffered channel nobody reads.
			agg.Failed += len(adapters) - received
			agg.Reason = f.failureReason(failures)
			return agg

		case out := <-outcomes:
			if out.err != nil {
				reason := classifySourceError(out.err)
				failures = append(failures, reason)
				agg.Failed++
				f.emit(jobID, events.EventSourceError, events.SourceErrorPayload{
					Source:   out.source,
					Code:     string(reason.Code),
					Category: string(reason.Category),
					Message:  out.err.Error(),
				})
				continue
			}

			items := dedupe(out.result.Items, seen)
			agg.Successful++
			if len(items) > 0 {
				agg.NonEmpty++
			}
			f.emit(jobID, events.EventPartialResult, events.PartialResultPayload{
				Source: out.source,
				Items:  items,
				Count:  len(items),
				TookMs: out.result.TookMs,
			})
		}
	}

	if !agg.Completed() {
		agg.Reason = f.failureReason(failures)
	}
	return agg
}

// emit appends to the journal, tolerating a journal that went terminal
// underneath us (late results are discarded by contract).
func (f *Fanout) emit(jobID string, typ events.EventType, payload any) {
	if _, err := f.bus.Append(jobID, typ, payload); err != nil {
		slog.Debug("Discarding late fan-out event", "job_id", jobID, "event_type", typ, "error", err)
	}
}

// dedupe filters items whose canonical URL was already claimed by an
// earlier arrival and claims the rest.
func dedupe(items []models.Article, seen map[string]bool) []models.Article {
	kept := make([]models.Article, 0, len(items))
	for _, item := range items {
		key := CanonicalURL(item.URL)
		if key == "" || !seen[key] {
			if key != "" {
				seen[key] = true
			}
			kept = append(kept, item)
		}
	}
	return kept
}

// classifySourceError maps an adapter error to a failure reason. A
// per-source deadline maps to timeout_per_source; everything else goes
// through the ordered message inference table.
func classifySourceError(err error) models.FailureReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.Reason(models.FailureTimeoutPerSource)
	}
	if errors.Is(err, context.Canceled) {
		return models.Reason(models.FailureCancelled)
	}
	return models.InferFailure(err.Error())
}

// failureReason picks the most common failure category; on ties the
// category seen earliest wins. With no recorded failures the result set
// was simply empty.
func (f *Fanout) failureReason(failures []models.FailureReason) models.FailureReason {
	if len(failures) == 0 {
		return models.Reason(models.FailureEmptyContent)
	}

	counts := make(map[models.FailureCategory]int)
	for _, r := range failures {
		counts[r.Category]++
	}

	best := failures[0]
	bestCount := counts[best.Category]
	for _, r := range failures[1:] {
		if counts[r.Category] > bestCount {
			best = r
			bestCount = counts[r.Category]
		}
	}
	return best
}
