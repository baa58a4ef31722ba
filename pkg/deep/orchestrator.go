package deep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/argus-news/argus/pkg/config"
	"github.com/argus-news/argus/pkg/events"
	"github.com/argus-news/argus/pkg/models"
	"github.com/argus-news/argus/pkg/services"
)

// Orchestrator owns deep-search job lifecycles: it plans provider sub-tasks
// from the routing table, persists job and token hashes before dispatch,
// publishes task requests, and folds callback results back into the parent
// job's aggregate status and event journal.
type Orchestrator struct {
	cfg       *config.DeepConfig
	registry  *config.ProviderRegistry
	jobs      *services.AiJobService
	evidence  *services.EvidenceService
	bus       *events.Bus
	publisher TaskPublisher

	// callbackURL is the public endpoint providers POST results to.
	callbackURL string

	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewOrchestrator creates a deep-search orchestrator.
func NewOrchestrator(
	cfg *config.DeepConfig,
	registry *config.ProviderRegistry,
	jobs *services.AiJobService,
	evidence *services.EvidenceService,
	bus *events.Bus,
	publisher TaskPublisher,
	callbackURL string,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		registry:    registry,
		jobs:        jobs,
		evidence:    evidence,
		bus:         bus,
		publisher:   publisher,
		callbackURL: callbackURL,
		logger:      slog.Default().With("component", "deep-orchestrator"),
	}
}

// StartJob plans the provider set for a topic, persists the parent job and
// its sub-tasks (token hashes included) in one transaction, then dispatches
// asynchronously. The returned job is immediately streamable.
func (o *Orchestrator) StartJob(ctx context.Context, topic, baseURL string) (*models.AiJob, error) {
	providers := o.registry.PlanFor(topic)
	if len(providers) == 0 {
		return nil, services.NewValidationError("topic", "no providers routed for topic")
	}

	plan := make([]services.PlannedSubTask, len(providers))
	tokens := make([]string, len(providers))
	for i, p := range providers {
		token, hash := NewCallbackToken()
		tokens[i] = token
		plan[i] = services.PlannedSubTask{ProviderID: p.ID, TaskType: p.TaskType, TokenHash: hash}
	}

	job, subTasks, err := o.jobs.CreateJob(ctx, topic, baseURL, plan)
	if err != nil {
		return nil, err
	}
	o.bus.CreateJournal(job.ID)

	o.wg.Add(1)
	go o.dispatchAll(job, subTasks, tokens)

	o.logger.Info("Deep-search job created", "job_id", job.ID, "topic", topic, "sub_tasks", len(subTasks))
	return job, nil
}

// dispatchAll hands every planned sub-task to its provider. Dispatch
// failures resolve inline (retry or terminal), so the parent aggregate is
// recomputed once at the end to cover the all-dispatches-failed case.
func (o *Orchestrator) dispatchAll(job *models.AiJob, subTasks []*models.AiSubTask, tokens []string) {
	defer o.wg.Done()

	o.emit(job.ID, events.EventConnected, events.ConnectedPayload{JobID: job.ID})
	if err := o.jobs.MarkJobInProgress(context.Background(), job.ID); err != nil {
		o.logger.Error("Failed to mark job in progress", "job_id", job.ID, "error", err)
	}

	for i, st := range subTasks {
		o.dispatch(job, st, tokens[i])
	}
	o.RecomputeParent(context.Background(), job.ID)
}

// dispatch publishes one sub-task. The PENDING → IN_PROGRESS transition
// happens before the publish so that a publish failure follows the same
// retry path as a provider-reported failure.
func (o *Orchestrator) dispatch(job *models.AiJob, st *models.AiSubTask, token string) {
	provider := o.registry.Provider(st.ProviderID)
	if provider == nil {
		o.failSubTask(job, st, fmt.Sprintf("provider %s not configured", st.ProviderID))
		return
	}

	claimed, err := o.jobs.MarkSubTaskDispatched(context.Background(), st.ID)
	if err != nil {
		o.logger.Error("Failed to mark sub-task dispatched", "sub_task_id", st.ID, "error", err)
		return
	}
	if !claimed {
		// Cancelled or timed out before dispatch; whoever won emitted.
		return
	}

	o.emit(job.ID, events.EventTaskDispatched, events.TaskDispatchedPayload{
		SubTaskID:  st.ID,
		ProviderID: st.ProviderID,
		TaskType:   st.TaskType,
		RetryCount: st.RetryCount,
	})

	req := TaskRequest{
		JobID:         job.ID,
		SubTaskID:     st.ID,
		ProviderID:    st.ProviderID,
		TaskType:      st.TaskType,
		Topic:         job.Topic,
		BaseURL:       job.BaseURL,
		CallbackURL:   o.callbackURL,
		CallbackToken: token,
		RetryCount:    st.RetryCount,
		CreatedAt:     time.Now().UTC(),
	}
	if err := o.publisher.Publish(context.Background(), provider.Endpoint, req); err != nil {
		o.logger.Warn("Task publish failed", "sub_task_id", st.ID, "provider", st.ProviderID, "error", err)
		o.failSubTask(job, st, err.Error())
	}
}

// failSubTask resolves a sub-task failure: redispatch with a fresh token
// when the reason is retryable and budget remains, otherwise terminal
// FAILED. Recursion through dispatch is bounded by the retry budget.
func (o *Orchestrator) failSubTask(job *models.AiJob, st *models.AiSubTask, message string) {
	reason := models.InferFailure(message)

	if reason.Retryable() && st.RetryCount < o.cfg.MaxSubTaskRetries {
		token, hash := NewCallbackToken()
		claimed, err := o.jobs.PrepareRetry(context.Background(), st.ID, hash, message, reason.Code)
		if err != nil {
			o.logger.Error("Failed to prepare retry", "sub_task_id", st.ID, "error", err)
			return
		}
		if claimed {
			refreshed, err := o.jobs.GetSubTask(context.Background(), st.ID)
			if err != nil {
				o.logger.Error("Failed to reload sub-task for retry", "sub_task_id", st.ID, "error", err)
				return
			}
			o.logger.Info("Retrying sub-task", "sub_task_id", st.ID, "retry", refreshed.RetryCount, "code", reason.Code)
			o.emit(job.ID, events.EventProgress, events.ProgressPayload{
				Source:  st.ProviderID,
				Message: fmt.Sprintf("retrying sub-task (attempt %d): %s", refreshed.RetryCount+1, reason.Code),
			})
			o.dispatch(job, refreshed, token)
			return
		}
		// Sweeper or cancel won the race; fall through to the terminal
		// attempt, which will no-op the same way.
	}

	claimed, err := o.jobs.CompleteSubTask(context.Background(), st.ID, models.SubTaskStatusFailed, nil, message, reason.Code)
	if err != nil {
		o.logger.Error("Failed to terminalize sub-task", "sub_task_id", st.ID, "error", err)
		return
	}
	if claimed {
		o.emit(job.ID, events.EventTaskCompleted, events.TaskCompletedPayload{
			SubTaskID:  st.ID,
			ProviderID: st.ProviderID,
			Status:     string(models.SubTaskStatusFailed),
			Code:       string(reason.Code),
		})
	}
}

// RecomputeParent folds the current sub-task multiset into the parent
// status. When the aggregate is terminal, the first caller to win the CAS
// emits the single terminal event; everyone else no-ops.
func (o *Orchestrator) RecomputeParent(ctx context.Context, jobID string) {
	subTasks, err := o.jobs.ListSubTasks(ctx, jobID)
	if err != nil {
		o.logger.Error("Failed to list sub-tasks for aggregation", "job_id", jobID, "error", err)
		return
	}

	status := AggregateStatus(subTasks)
	if !status.Terminal() {
		return
	}

	var reason models.FailureReason
	if status != models.AiJobStatusCompleted {
		reason = AggregateFailureReason(subTasks)
	}

	claimed, err := o.jobs.CompleteJob(ctx, jobID, status, reason)
	if err != nil {
		o.logger.Error("Failed to persist terminal job status", "job_id", jobID, "status", status, "error", err)
		return
	}
	if !claimed {
		return
	}

	successful, failed := countSubTasks(subTasks)
	switch status {
	case models.AiJobStatusFailed:
		o.emit(jobID, events.EventError, events.ErrorPayload{
			Status:   string(status),
			Code:     string(reason.Code),
			Category: string(reason.Category),
			Summary:  fmt.Sprintf("%d/%d sub-tasks succeeded", successful, len(subTasks)),
		})
	default:
		o.emit(jobID, events.EventDone, events.DonePayload{
			Status:     string(status),
			Successful: successful,
			Failed:     failed,
			Total:      len(subTasks),
			Summary:    fmt.Sprintf("%d/%d sub-tasks succeeded", successful, len(subTasks)),
			Code:       string(reason.Code),
			Category:   string(reason.Category),
		})
	}
	o.logger.Info("Deep-search job finished", "job_id", jobID, "status", status,
		"successful", successful, "failed", failed)
}

// GetJob retrieves a parent job.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*models.AiJob, error) {
	return o.jobs.GetJob(ctx, jobID)
}

// ListSubTasks returns a job's sub-tasks in creation order.
func (o *Orchestrator) ListSubTasks(ctx context.Context, jobID string) ([]*models.AiSubTask, error) {
	return o.jobs.ListSubTasks(ctx, jobID)
}

// Cancel terminalizes a job and every non-terminal sub-task. Late provider
// callbacks for cancelled sub-tasks are acknowledged as duplicates.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return services.ErrAlreadyTerminal
	}

	reason := models.Reason(models.FailureCancelled)
	claimed, err := o.jobs.CompleteJob(ctx, jobID, models.AiJobStatusCancelled, reason)
	if err != nil {
		return err
	}
	if !claimed {
		return services.ErrAlreadyTerminal
	}

	cancelled, err := o.jobs.CancelSubTasks(ctx, jobID)
	if err != nil {
		o.logger.Error("Failed to cancel sub-tasks", "job_id", jobID, "error", err)
	}
	if len(cancelled) > 0 {
		cancelledSet := make(map[string]bool, len(cancelled))
		for _, id := range cancelled {
			cancelledSet[id] = true
		}
		subTasks, err := o.jobs.ListSubTasks(ctx, jobID)
		if err == nil {
			for _, st := range subTasks {
				if !cancelledSet[st.ID] {
					continue
				}
				o.emit(jobID, events.EventTaskCompleted, events.TaskCompletedPayload{
					SubTaskID:  st.ID,
					ProviderID: st.ProviderID,
					Status:     string(models.SubTaskStatusCancelled),
					Code:       string(models.FailureCancelled),
				})
			}
		}
	}

	o.emit(jobID, events.EventError, events.ErrorPayload{
		Status:   string(models.AiJobStatusCancelled),
		Code:     string(reason.Code),
		Category: string(reason.Category),
	})
	o.logger.Info("Deep-search job cancelled", "job_id", jobID, "sub_tasks_cancelled", len(cancelled))
	return nil
}

// TimeoutSubTask terminalizes one stale sub-task on behalf of the sweeper
// and re-aggregates the parent.
func (o *Orchestrator) TimeoutSubTask(ctx context.Context, st *models.AiSubTask) {
	claimed, err := o.jobs.CompleteSubTask(ctx, st.ID, models.SubTaskStatusTimeout, nil,
		"sub-task exceeded its processing deadline", models.FailureTimeoutPerSubTask)
	if err != nil {
		o.logger.Error("Failed to timeout sub-task", "sub_task_id", st.ID, "error", err)
		return
	}
	if claimed {
		o.emit(st.JobID, events.EventTaskCompleted, events.TaskCompletedPayload{
			SubTaskID:  st.ID,
			ProviderID: st.ProviderID,
			Status:     string(models.SubTaskStatusTimeout),
			Code:       string(models.FailureTimeoutPerSubTask),
		})
		o.logger.Warn("Sub-task timed out", "sub_task_id", st.ID, "job_id", st.JobID, "provider", st.ProviderID)
	}
	o.RecomputeParent(ctx, st.JobID)
}

// TimeoutJob terminalizes a job past its overall deadline and cancels its
// remaining sub-tasks.
func (o *Orchestrator) TimeoutJob(ctx context.Context, jobID string) {
	reason := models.Reason(models.FailureTimeoutJobOverall)
	claimed, err := o.jobs.CompleteJob(ctx, jobID, models.AiJobStatusTimeout, reason)
	if err != nil {
		o.logger.Error("Failed to timeout job", "job_id", jobID, "error", err)
		return
	}
	if !claimed {
		return
	}

	if _, err := o.jobs.CancelSubTasks(ctx, jobID); err != nil {
		o.logger.Error("Failed to cancel sub-tasks of timed out job", "job_id", jobID, "error", err)
	}
	o.emit(jobID, events.EventError, events.ErrorPayload{
		Status:   string(models.AiJobStatusTimeout),
		Code:     string(reason.Code),
		Category: string(reason.Category),
	})
	o.logger.Warn("Deep-search job timed out", "job_id", jobID)
}

// Shutdown waits for in-flight dispatches and retries to settle.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn("Shutdown deadline reached with dispatches in flight")
	}
}

func (o *Orchestrator) emit(jobID string, typ events.EventType, payload any) {
	if _, err := o.bus.Append(jobID, typ, payload); err != nil {
		if !errors.Is(err, events.ErrJournalNotFound) && !errors.Is(err, events.ErrJournalTerminal) {
			o.logger.Error("Failed to append event", "job_id", jobID, "event_type", typ, "error", err)
			return
		}
		o.logger.Debug("Dropping event for closed journal", "job_id", jobID, "event_type", typ)
	}
}
