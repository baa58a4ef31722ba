package deep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/argus-news/argus/pkg/events"
	"github.com/argus-news/argus/pkg/models"
	"github.com/argus-news/argus/pkg/services"
)

// ErrInvalidCallbackToken is returned when a callback presents a token that
// does not hash to the sub-task's persisted hash.
var ErrInvalidCallbackToken = errors.New("invalid callback token")

// CallbackRequest is the inbound payload a provider POSTs when a sub-task
// finishes on its side.
type CallbackRequest struct {
	SubTaskID     string          `json:"sub_task_id"`
	Status        string          `json:"status"`
	ResultJSON    json.RawMessage `json:"result_json,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CallbackToken string          `json:"callback_token"`
	Evidence      []EvidenceItem  `json:"evidence,omitempty"`
}

// EvidenceItem is one provider-reported evidence row.
type EvidenceItem struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Stance  string `json:"stance,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// CallbackOutcome describes how a callback was resolved. All outcomes except
// a token mismatch acknowledge the provider with success, so providers never
// retry deliveries we have already absorbed.
type CallbackOutcome string

// Callback outcomes.
const (
	CallbackAccepted       CallbackOutcome = "accepted"
	CallbackRetryScheduled CallbackOutcome = "retry_scheduled"
	CallbackDuplicate      CallbackOutcome = "duplicate"
	CallbackUnknownSubTask CallbackOutcome = "unknown_sub_task"
)

// HandleCallback resolves a provider callback: verify the token, apply the
// reported result through the terminal CAS, ingest evidence, and
// re-aggregate the parent. Unknown sub-tasks and duplicates are
// acknowledged without mutation.
func (o *Orchestrator) HandleCallback(ctx context.Context, req CallbackRequest) (CallbackOutcome, error) {
	st, err := o.jobs.GetSubTask(ctx, req.SubTaskID)
	if errors.Is(err, services.ErrNotFound) {
		// Likely a callback for a purged or foreign job; ack and move on.
		o.logger.Warn("Callback for unknown sub-task", "sub_task_id", req.SubTaskID)
		return CallbackUnknownSubTask, nil
	}
	if err != nil {
		return "", err
	}

	if !VerifyToken(st.CallbackTokenHash, req.CallbackToken) {
		o.logger.Warn("Callback token mismatch", "sub_task_id", st.ID, "provider", st.ProviderID)
		return "", ErrInvalidCallbackToken
	}

	if st.Status.Terminal() {
		o.logger.Info("Duplicate callback", "sub_task_id", st.ID, "status", st.Status)
		return CallbackDuplicate, nil
	}

	switch strings.ToUpper(strings.TrimSpace(req.Status)) {
	case "COMPLETED":
		return o.completeFromCallback(ctx, st, req)
	case "FAILED":
		return o.failFromCallback(ctx, st, req)
	default:
		return "", services.NewValidationError("status", "must be COMPLETED or FAILED")
	}
}

func (o *Orchestrator) completeFromCallback(ctx context.Context, st *models.AiSubTask, req CallbackRequest) (CallbackOutcome, error) {
	claimed, err := o.jobs.CompleteSubTask(ctx, st.ID, models.SubTaskStatusCompleted, req.ResultJSON, "", "")
	if err != nil {
		return "", err
	}
	if !claimed {
		return CallbackDuplicate, nil
	}

	provider := o.registry.Provider(st.ProviderID)
	if provider != nil && provider.Evidence && len(req.Evidence) > 0 {
		o.ingestEvidence(ctx, st.JobID, req.Evidence)
	}

	o.emit(st.JobID, events.EventTaskCompleted, events.TaskCompletedPayload{
		SubTaskID:  st.ID,
		ProviderID: st.ProviderID,
		Status:     string(models.SubTaskStatusCompleted),
	})
	o.RecomputeParent(ctx, st.JobID)
	return CallbackAccepted, nil
}

func (o *Orchestrator) failFromCallback(ctx context.Context, st *models.AiSubTask, req CallbackRequest) (CallbackOutcome, error) {
	message := req.ErrorMessage
	if message == "" {
		message = "provider reported failure without detail"
	}
	reason := models.InferFailure(message)

	if reason.Retryable() && st.RetryCount < o.cfg.MaxSubTaskRetries {
		token, hash := NewCallbackToken()
		claimed, err := o.jobs.PrepareRetry(ctx, st.ID, hash, message, reason.Code)
		if err != nil {
			return "", err
		}
		if !claimed {
			return CallbackDuplicate, nil
		}

		refreshed, err := o.jobs.GetSubTask(ctx, st.ID)
		if err != nil {
			return "", err
		}
		job, err := o.jobs.GetJob(ctx, st.JobID)
		if err != nil {
			return "", err
		}

		o.logger.Info("Retrying sub-task after provider failure",
			"sub_task_id", st.ID, "retry", refreshed.RetryCount, "code", reason.Code)
		o.emit(st.JobID, events.EventProgress, events.ProgressPayload{
			Source:  st.ProviderID,
			Message: fmt.Sprintf("retrying sub-task (attempt %d): %s", refreshed.RetryCount+1, reason.Code),
		})
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.dispatch(job, refreshed, token)
			o.RecomputeParent(context.Background(), job.ID)
		}()
		return CallbackRetryScheduled, nil
	}

	claimed, err := o.jobs.CompleteSubTask(ctx, st.ID, models.SubTaskStatusFailed, nil, message, reason.Code)
	if err != nil {
		return "", err
	}
	if !claimed {
		return CallbackDuplicate, nil
	}

	o.emit(st.JobID, events.EventTaskCompleted, events.TaskCompletedPayload{
		SubTaskID:  st.ID,
		ProviderID: st.ProviderID,
		Status:     string(models.SubTaskStatusFailed),
		Code:       string(reason.Code),
	})
	o.RecomputeParent(ctx, st.JobID)
	return CallbackAccepted, nil
}

// ingestEvidence persists provider evidence rows, classifying each URL's
// source, and emits one evidence event per row that was actually new.
func (o *Orchestrator) ingestEvidence(ctx context.Context, jobID string, items []EvidenceItem) {
	rows := make([]models.CrawlEvidence, 0, len(items))
	for _, item := range items {
		rows = append(rows, models.CrawlEvidence{
			URL:            strings.TrimSpace(item.URL),
			Title:          item.Title,
			Stance:         models.ParseStance(item.Stance),
			Snippet:        item.Snippet,
			SourceCategory: InferSourceCategory(item.URL),
		})
	}

	inserted, err := o.evidence.Append(ctx, jobID, rows)
	if err != nil {
		o.logger.Error("Failed to ingest evidence", "job_id", jobID, "error", err)
		return
	}
	for _, ev := range inserted {
		o.emit(jobID, events.EventEvidence, events.EvidencePayload{
			URL:            ev.URL,
			Title:          ev.Title,
			Stance:         string(ev.Stance),
			Snippet:        ev.Snippet,
			SourceCategory: string(ev.SourceCategory),
		})
	}
	o.logger.Info("Evidence ingested", "job_id", jobID, "reported", len(items), "inserted", len(inserted))
}
