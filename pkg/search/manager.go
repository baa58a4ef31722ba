package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/argus-news/argus/pkg/config"
	"github.com/argus-news/argus/pkg/events"
	"github.com/argus-news/argus/pkg/models"
	"github.com/argus-news/argus/pkg/services"
)

// Manager owns search job lifecycles: it assigns job ids, starts the async
// fan-out, owns the job's journal, publishes the single terminal event, and
// persists the final status for post-hoc queries.
type Manager struct {
	cfg      *config.SearchConfig
	jobs     *services.SearchJobService
	bus      *events.Bus
	fanout   *Fanout
	adapters []SourceAdapter

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewManager creates a search job manager. The adapter list must include
// the corpus source; external sources may be empty.
func NewManager(cfg *config.SearchConfig, jobs *services.SearchJobService, bus *events.Bus, fanout *Fanout, adapters []SourceAdapter) *Manager {
	return &Manager{
		cfg:      cfg,
		jobs:     jobs,
		bus:      bus,
		fanout:   fanout,
		adapters: adapters,
		cancels:  make(map[string]context.CancelFunc),
		logger:   slog.Default().With("component", "search-manager"),
	}
}

// StartJob validates the request, persists a PENDING job, and launches its
// execution. The returned job is immediately streamable.
func (m *Manager) StartJob(ctx context.Context, req services.CreateJobRequest) (*models.SearchJob, error) {
	nq, err := Normalize(req.Query, req.WindowToken, req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	req.Query = nq.Q

	job, err := m.jobs.CreateJob(ctx, req)
	if err != nil {
		return nil, err
	}
	m.bus.CreateJournal(job.ID)

	// The run outlives the HTTP request: bounded by the overall job
	// timeout, not the caller's context.
	runCtx, cancel := context.WithTimeout(context.Background(), m.cfg.OverallTimeout)
	m.mu.Lock()
	m.cancels[job.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(runCtx, job.ID, Request{Query: nq, PriorityURLs: req.PriorityURLs})

	m.logger.Info("Search job created", "job_id", job.ID, "mode", nq.Mode, "sources", len(m.adapters))
	return job, nil
}

func (m *Manager) run(ctx context.Context, jobID string, req Request) {
	defer m.wg.Done()
	defer m.release(jobID)

	m.emit(jobID, events.EventConnected, events.ConnectedPayload{JobID: jobID})

	if err := m.jobs.MarkRunning(ctx, jobID); err != nil {
		if errors.Is(err, services.ErrAlreadyTerminal) {
			m.logger.Info("Job terminal before first dispatch", "job_id", jobID)
			return
		}
		m.logger.Error("Failed to mark job running", "job_id", jobID, "error", err)
	}

	agg := m.fanout.Run(ctx, jobID, req, m.adapters)

	var status models.JobStatus
	var reason models.FailureReason
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = models.JobStatusTimeout
		reason = models.Reason(models.FailureTimeoutJobOverall)
	case errors.Is(ctx.Err(), context.Canceled):
		status = models.JobStatusCancelled
		reason = models.Reason(models.FailureCancelled)
	case agg.Completed():
		status = models.JobStatusCompleted
	default:
		status = models.JobStatusFailed
		reason = agg.Reason
	}

	summary := fmt.Sprintf("%d/%d sources succeeded", agg.Successful, agg.Total)
	m.finish(jobID, status, reason, summary, agg)
}

// finish performs the terminal CAS and, only when this caller won it,
// emits the matching done or error event. Losing the race means another
// actor (cancel, sweeper) already terminalized the job and emitted.
func (m *Manager) finish(jobID string, status models.JobStatus, reason models.FailureReason, summary string, agg Aggregate) {
	claimed, err := m.jobs.CompleteJob(context.Background(), jobID, status, reason, summary)
	if err != nil {
		m.logger.Error("Failed to persist terminal status", "job_id", jobID, "status", status, "error", err)
		return
	}
	if !claimed {
		m.logger.Info("Terminal transition already claimed", "job_id", jobID, "status", status)
		return
	}

	if status == models.JobStatusCompleted {
		m.emit(jobID, events.EventDone, events.DonePayload{
			Status:     string(status),
			Successful: agg.Successful,
			Failed:     agg.Failed,
			Total:      agg.Total,
			Summary:    summary,
		})
	} else {
		m.emit(jobID, events.EventError, events.ErrorPayload{
			Status:   string(status),
			Code:     string(reason.Code),
			Category: string(reason.Category),
			Summary:  summary,
		})
	}
	m.logger.Info("Search job finished", "job_id", jobID, "status", status,
		"successful", agg.Successful, "failed", agg.Failed)
}

// Cancel requests cancellation of a job. Active jobs are cancelled
// cooperatively through their run context; jobs with no active run (e.g.
// orphans from a previous process) are terminalized directly.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	cancel, active := m.cancels[jobID]
	m.mu.Unlock()

	if active {
		cancel()
		return nil
	}

	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return services.ErrAlreadyTerminal
	}

	reason := models.Reason(models.FailureCancelled)
	claimed, err := m.jobs.CompleteJob(ctx, jobID, models.JobStatusCancelled, reason, "")
	if err != nil {
		return err
	}
	if claimed {
		m.emit(jobID, events.EventError, events.ErrorPayload{
			Status:   string(models.JobStatusCancelled),
			Code:     string(reason.Code),
			Category: string(reason.Category),
		})
	}
	return nil
}

// NotifyDetach is called when a stream subscriber disconnects. Under the
// cancel-on-detach policy a job with no remaining subscribers is cancelled.
func (m *Manager) NotifyDetach(ctx context.Context, jobID string) {
	if !m.cfg.CancelOnDetach {
		return
	}
	if m.bus.SubscriberCount(jobID) > 0 {
		return
	}
	if err := m.Cancel(ctx, jobID); err != nil && !errors.Is(err, services.ErrAlreadyTerminal) {
		m.logger.Warn("Cancel on detach failed", "job_id", jobID, "error", err)
	}
}

// Shutdown waits for running fan-outs to finish. When ctx expires first,
// remaining jobs are cancelled and waited for.
func (m *Manager) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()
	<-done
}

func (m *Manager) release(jobID string) {
	m.mu.Lock()
	if cancel, ok := m.cancels[jobID]; ok {
		delete(m.cancels, jobID)
		cancel()
	}
	m.mu.Unlock()
}

func (m *Manager) emit(jobID string, typ events.EventType, payload any) {
	if _, err := m.bus.Append(jobID, typ, payload); err != nil {
		m.logger.Debug("Dropping event for closed journal", "job_id", jobID, "event_type", typ, "error", err)
	}
}
