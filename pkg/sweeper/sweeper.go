// Package sweeper runs the periodic maintenance loop: stale jobs and
// sub-tasks are timed out, terminal jobs past retention are purged, and
// journals whose jobs are gone are released.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/argus-news/argus/pkg/config"
	"github.com/argus-news/argus/pkg/deep"
	"github.com/argus-news/argus/pkg/events"
	"github.com/argus-news/argus/pkg/models"
	"github.com/argus-news/argus/pkg/services"
)

// journalLinger is how long a terminal job's journal stays subscribable
// for reconnects before the sweeper may release it.
const journalLinger = 10 * time.Minute

// Sweeper is the background maintenance loop. It is the fallback
// terminalizer: anything the managers failed to finish in time (crashed
// runs, providers that never call back) is driven to a terminal state here.
type Sweeper struct {
	searchCfg *config.SearchConfig
	deepCfg   *config.DeepConfig
	retention *config.RetentionConfig

	searchJobs *services.SearchJobService
	aiJobs     *services.AiJobService
	orch       *deep.Orchestrator
	bus        *events.Bus

	stop   chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

// NewSweeper creates a sweeper over the given services.
func NewSweeper(
	searchCfg *config.SearchConfig,
	deepCfg *config.DeepConfig,
	retention *config.RetentionConfig,
	searchJobs *services.SearchJobService,
	aiJobs *services.AiJobService,
	orch *deep.Orchestrator,
	bus *events.Bus,
) *Sweeper {
	return &Sweeper{
		searchCfg:  searchCfg,
		deepCfg:    deepCfg,
		retention:  retention,
		searchJobs: searchJobs,
		aiJobs:     aiJobs,
		orch:       orch,
		bus:        bus,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "sweeper"),
	}
}

// SweepStartupOrphans terminalizes jobs left non-terminal by a previous
// process. Called once before the loop starts; the in-memory journals of
// those jobs are gone, so only the database is touched.
func (s *Sweeper) SweepStartupOrphans(ctx context.Context) error {
	nSearch, err := s.searchJobs.TimeoutStartupOrphans(ctx)
	if err != nil {
		return err
	}
	nAi, err := s.aiJobs.TimeoutStartupOrphans(ctx)
	if err != nil {
		return err
	}
	if nSearch > 0 || nAi > 0 {
		s.logger.Warn("Timed out orphaned jobs from previous run",
			"search_jobs", nSearch, "ai_jobs", nAi)
	}
	return nil
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	go s.loop()
	s.logger.Info("Sweeper started", "interval", s.retention.SweeperInterval)
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) {
	close(s.stop)
	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("Shutdown deadline reached with a sweep in flight")
	}
}

func (s *Sweeper) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.retention.SweeperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep runs one full maintenance pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweepSearchJobs(ctx)
	s.sweepSubTasks(ctx)
	s.sweepAiJobs(ctx)
	s.purge(ctx)
	s.releaseJournals(ctx)
}

// sweepSearchJobs times out search jobs past the overall deadline whose
// runs never finished (e.g. the manager goroutine died with the process).
func (s *Sweeper) sweepSearchJobs(ctx context.Context) {
	stale, err := s.searchJobs.FindStaleJobs(ctx, s.searchCfg.OverallTimeout)
	if err != nil {
		s.logger.Error("Failed to find stale search jobs", "error", err)
		return
	}

	reason := models.Reason(models.FailureTimeoutJobOverall)
	for _, job := range stale {
		claimed, err := s.searchJobs.CompleteJob(ctx, job.ID, models.JobStatusTimeout, reason, "")
		if err != nil {
			s.logger.Error("Failed to timeout search job", "job_id", job.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		s.emit(job.ID, events.EventError, events.ErrorPayload{
			Status:   string(models.JobStatusTimeout),
			Code:     string(reason.Code),
			Category: string(reason.Category),
		})
		s.logger.Warn("Search job timed out by sweeper", "job_id", job.ID)
	}
}

func (s *Sweeper) sweepSubTasks(ctx context.Context) {
	stale, err := s.aiJobs.FindStaleSubTasks(ctx, s.deepCfg.PerSubTaskTimeout)
	if err != nil {
		s.logger.Error("Failed to find stale sub-tasks", "error", err)
		return
	}
	for _, st := range stale {
		s.orch.TimeoutSubTask(ctx, st)
	}
}

func (s *Sweeper) sweepAiJobs(ctx context.Context) {
	stale, err := s.aiJobs.FindStaleJobs(ctx, s.deepCfg.OverallTimeout)
	if err != nil {
		s.logger.Error("Failed to find stale ai jobs", "error", err)
		return
	}
	for _, job := range stale {
		s.orch.TimeoutJob(ctx, job.ID)
	}
}

func (s *Sweeper) purge(ctx context.Context) {
	nSearch, err := s.searchJobs.PurgeOldJobs(ctx, s.retention.RetentionWindow)
	if err != nil {
		s.logger.Error("Failed to purge search jobs", "error", err)
	}
	nAi, err := s.aiJobs.PurgeOldJobs(ctx, s.retention.RetentionWindow)
	if err != nil {
		s.logger.Error("Failed to purge ai jobs", "error", err)
	}
	if nSearch > 0 || nAi > 0 {
		s.logger.Info("Purged jobs past retention", "search_jobs", nSearch, "ai_jobs", nAi)
	}
}

// releaseJournals closes journals whose job no longer exists, and terminal
// journals with no subscribers that finished longer than journalLinger ago.
func (s *Sweeper) releaseJournals(ctx context.Context) {
	for _, jobID := range s.bus.JournalIDs() {
		if !s.bus.IsTerminal(jobID) {
			continue
		}
		if s.bus.SubscriberCount(jobID) > 0 {
			continue
		}

		completedAt, exists := s.jobCompletedAt(ctx, jobID)
		if exists && (completedAt == nil || time.Since(*completedAt) < journalLinger) {
			continue
		}
		s.bus.Close(jobID)
		s.logger.Debug("Released journal", "job_id", jobID)
	}
}

// jobCompletedAt looks a job id up in both job tables.
func (s *Sweeper) jobCompletedAt(ctx context.Context, jobID string) (*time.Time, bool) {
	if job, err := s.searchJobs.GetJob(ctx, jobID); err == nil {
		return job.CompletedAt, true
	} else if !errors.Is(err, services.ErrNotFound) {
		return nil, true // transient error: keep the journal
	}
	if job, err := s.aiJobs.GetJob(ctx, jobID); err == nil {
		return job.CompletedAt, true
	} else if !errors.Is(err, services.ErrNotFound) {
		return nil, true
	}
	return nil, false
}

func (s *Sweeper) emit(jobID string, typ events.EventType, payload any) {
	if _, err := s.bus.Append(jobID, typ, payload); err != nil {
		s.logger.Debug("Dropping event for closed journal", "job_id", jobID, "event_type", typ, "error", err)
	}
}
