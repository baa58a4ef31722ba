package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/argus-news/argus/pkg/models"
)

// AiJobService manages deep-search parent jobs and their sub-tasks. The
// parent exclusively owns its sub-tasks: deletes cascade, and the parent's
// aggregate status is always a function of the sub-task state multiset.
type AiJobService struct {
	db *sql.DB
}

// NewAiJobService creates a new AiJobService
func NewAiJobService(db *sql.DB) *AiJobService {
	return &AiJobService{db: db}
}

// PlannedSubTask is one provider assignment produced by the routing table.
// TokenHash must be persisted before the task is dispatched.
type PlannedSubTask struct {
	ProviderID string
	TaskType   string
	TokenHash  string
}

// CreateJob inserts a parent job plus its planned sub-tasks in one
// transaction. Sub-task token hashes are persisted here, before any
// dispatch happens.
func (s *AiJobService) CreateJob(httpCtx context.Context, topic, baseURL string, plan []PlannedSubTask) (*models.AiJob, []*models.AiSubTask, error) {
	if topic == "" {
		return nil, nil, NewValidationError("topic", "required")
	}
	if len(plan) == 0 {
		return nil, nil, NewValidationError("topic", "no providers routed for topic")
	}

	// Use background context with timeout for critical write
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	job := &models.AiJob{
		ID:        uuid.New().String(),
		Topic:     topic,
		BaseURL:   baseURL,
		Status:    models.AiJobStatusPending,
		CreatedAt: now,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ai_jobs (id, topic, base_url, status, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)`,
		job.ID, job.Topic, job.BaseURL, job.Status, job.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create ai job: %w", err)
	}

	subTasks := make([]*models.AiSubTask, 0, len(plan))
	for _, p := range plan {
		st := &models.AiSubTask{
			ID:                uuid.New().String(),
			JobID:             job.ID,
			ProviderID:        p.ProviderID,
			TaskType:          p.TaskType,
			Status:            models.SubTaskStatusPending,
			CallbackTokenHash: p.TokenHash,
			CreatedAt:         now,
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO ai_sub_tasks (id, job_id, provider_id, task_type, status, callback_token_hash, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			st.ID, st.JobID, st.ProviderID, st.TaskType, st.Status, st.CallbackTokenHash, st.CreatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create sub-task for provider %s: %w", p.ProviderID, err)
		}
		subTasks = append(subTasks, st)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return job, subTasks, nil
}

const aiJobColumns = `id, topic, COALESCE(base_url, ''), status,
	COALESCE(failure_code, ''), COALESCE(failure_category, ''), created_at, completed_at`

// GetJob retrieves a parent job by id.
func (s *AiJobService) GetJob(ctx context.Context, jobID string) (*models.AiJob, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+aiJobColumns+" FROM ai_jobs WHERE id = $1", jobID)
	job, err := scanAiJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ai job: %w", err)
	}
	return job, nil
}

const subTaskColumns = `id, job_id, provider_id, task_type, status, retry_count,
	result_json, COALESCE(error_message, ''), COALESCE(failure_code, ''),
	callback_token_hash, created_at, dispatched_at, completed_at`

// GetSubTask retrieves a sub-task by id, including its token hash for
// callback verification.
func (s *AiJobService) GetSubTask(ctx context.Context, subTaskID string) (*models.AiSubTask, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+subTaskColumns+" FROM ai_sub_tasks WHERE id = $1", subTaskID)
	st, err := scanSubTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sub-task: %w", err)
	}
	return st, nil
}

// ListSubTasks returns all sub-tasks of a job in creation order. This is
// the input to the parent aggregation rule.
func (s *AiJobService) ListSubTasks(ctx context.Context, jobID string) ([]*models.AiSubTask, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+subTaskColumns+" FROM ai_sub_tasks WHERE job_id = $1 ORDER BY created_at ASC, id ASC", jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sub-tasks: %w", err)
	}
	defer rows.Close()

	var subTasks []*models.AiSubTask
	for rows.Next() {
		st, err := scanSubTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sub-task: %w", err)
		}
		subTasks = append(subTasks, st)
	}
	return subTasks, rows.Err()
}

// MarkSubTaskDispatched transitions PENDING → IN_PROGRESS and stamps the
// dispatch time. Returns false if the sub-task already left PENDING.
func (s *AiJobService) MarkSubTaskDispatched(ctx context.Context, subTaskID string) (bool, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx,
		`UPDATE ai_sub_tasks SET status = $1, dispatched_at = $2 WHERE id = $3 AND status = $4`,
		models.SubTaskStatusInProgress, time.Now().UTC(), subTaskID, models.SubTaskStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark sub-task dispatched: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check sub-task dispatch: %w", err)
	}
	return n > 0, nil
}

// CompleteSubTask performs the single terminal transition for a sub-task.
// Only the first terminal writer gets claimed=true; concurrent duplicate
// callbacks and sweeper races no-op.
func (s *AiJobService) CompleteSubTask(ctx context.Context, subTaskID string, status models.SubTaskStatus, resultJSON []byte, errorMessage string, code models.FailureCode) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("%w: %q is not a terminal status", ErrInvalidInput, status)
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx,
		`UPDATE ai_sub_tasks
		SET status = $1, result_json = $2, error_message = NULLIF($3, ''),
			failure_code = NULLIF($4, ''), completed_at = $5
		WHERE id = $6 AND status IN ($7, $8)`,
		status, nullableJSON(resultJSON), errorMessage, string(code), time.Now().UTC(),
		subTaskID, models.SubTaskStatusPending, models.SubTaskStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("failed to complete sub-task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check sub-task transition: %w", err)
	}
	return n > 0, nil
}

// PrepareRetry returns a failed-in-flight sub-task to PENDING with a fresh
// token hash and an incremented retry count. The CAS on IN_PROGRESS means a
// sweeper timeout racing the retry wins and the retry no-ops.
func (s *AiJobService) PrepareRetry(ctx context.Context, subTaskID, newTokenHash, errorMessage string, code models.FailureCode) (bool, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx,
		`UPDATE ai_sub_tasks
		SET status = $1, callback_token_hash = $2, retry_count = retry_count + 1,
			error_message = NULLIF($3, ''), failure_code = NULLIF($4, ''), dispatched_at = NULL
		WHERE id = $5 AND status = $6`,
		models.SubTaskStatusPending, newTokenHash, errorMessage, string(code),
		subTaskID, models.SubTaskStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("failed to prepare sub-task retry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check sub-task retry: %w", err)
	}
	return n > 0, nil
}

// MarkJobInProgress transitions the parent PENDING → IN_PROGRESS.
func (s *AiJobService) MarkJobInProgress(ctx context.Context, jobID string) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(writeCtx,
		`UPDATE ai_jobs SET status = $1 WHERE id = $2 AND status = $3`,
		models.AiJobStatusInProgress, jobID, models.AiJobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark ai job in progress: %w", err)
	}
	return nil
}

// CompleteJob performs the single terminal transition for a parent job.
func (s *AiJobService) CompleteJob(ctx context.Context, jobID string, status models.AiJobStatus, reason models.FailureReason) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("%w: %q is not a terminal status", ErrInvalidInput, status)
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx,
		`UPDATE ai_jobs
		SET status = $1, failure_code = NULLIF($2, ''), failure_category = NULLIF($3, ''), completed_at = $4
		WHERE id = $5 AND status IN ($6, $7)`,
		status, string(reason.Code), string(reason.Category), time.Now().UTC(),
		jobID, models.AiJobStatusPending, models.AiJobStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("failed to complete ai job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check ai job transition: %w", err)
	}
	return n > 0, nil
}

// CancelSubTasks marks every non-terminal sub-task of a job CANCELLED.
// Returns the ids that were actually cancelled by this call.
func (s *AiJobService) CancelSubTasks(ctx context.Context, jobID string) ([]string, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(writeCtx,
		`UPDATE ai_sub_tasks
		SET status = $1, failure_code = $2, completed_at = $3
		WHERE job_id = $4 AND status IN ($5, $6)
		RETURNING id`,
		models.SubTaskStatusCancelled, models.FailureCancelled, time.Now().UTC(),
		jobID, models.SubTaskStatusPending, models.SubTaskStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel sub-tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan cancelled sub-task: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindStaleSubTasks returns IN_PROGRESS sub-tasks whose dispatch is older
// than the per-task timeout.
func (s *AiJobService) FindStaleSubTasks(ctx context.Context, perTaskTimeout time.Duration) ([]*models.AiSubTask, error) {
	threshold := time.Now().UTC().Add(-perTaskTimeout)

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+subTaskColumns+` FROM ai_sub_tasks
		WHERE status = $1 AND dispatched_at IS NOT NULL AND dispatched_at < $2`,
		models.SubTaskStatusInProgress, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale sub-tasks: %w", err)
	}
	defer rows.Close()

	var subTasks []*models.AiSubTask
	for rows.Next() {
		st, err := scanSubTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale sub-task: %w", err)
		}
		subTasks = append(subTasks, st)
	}
	return subTasks, rows.Err()
}

// FindStaleJobs returns non-terminal parent jobs past the overall deadline.
func (s *AiJobService) FindStaleJobs(ctx context.Context, overallTimeout time.Duration) ([]*models.AiJob, error) {
	threshold := time.Now().UTC().Add(-overallTimeout)

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+aiJobColumns+` FROM ai_jobs
		WHERE status IN ($1, $2) AND created_at < $3`,
		models.AiJobStatusPending, models.AiJobStatusInProgress, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale ai jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.AiJob
	for rows.Next() {
		job, err := scanAiJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale ai job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// TimeoutStartupOrphans times out parent jobs and sub-tasks left
// non-terminal by a previous process.
func (s *AiJobService) TimeoutStartupOrphans(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`UPDATE ai_sub_tasks SET status = $1, failure_code = $2, completed_at = $3
		WHERE status IN ($4, $5)`,
		models.SubTaskStatusTimeout, models.FailureTimeoutPerSubTask, now,
		models.SubTaskStatusPending, models.SubTaskStatusInProgress)
	if err != nil {
		return 0, fmt.Errorf("failed to timeout orphaned sub-tasks: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_jobs SET status = $1, failure_code = $2, failure_category = $3, completed_at = $4
		WHERE status IN ($5, $6)`,
		models.AiJobStatusTimeout, models.FailureTimeoutJobOverall, models.CategoryTimeout, now,
		models.AiJobStatusPending, models.AiJobStatusInProgress)
	if err != nil {
		return 0, fmt.Errorf("failed to timeout orphaned ai jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count orphaned ai jobs: %w", err)
	}
	return int(n), nil
}

// PurgeOldJobs deletes terminal parent jobs past the retention window.
// Sub-tasks and evidence go with them via ON DELETE CASCADE.
func (s *AiJobService) PurgeOldJobs(ctx context.Context, retention time.Duration) (int, error) {
	deleteCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.ExecContext(deleteCtx,
		`DELETE FROM ai_jobs WHERE completed_at IS NOT NULL AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge ai jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged ai jobs: %w", err)
	}
	return int(n), nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func scanAiJob(r rowScanner) (*models.AiJob, error) {
	var job models.AiJob
	var completed sql.NullTime
	err := r.Scan(&job.ID, &job.Topic, &job.BaseURL, &job.Status,
		&job.FailureCode, &job.FailureCategory, &job.CreatedAt, &completed)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func scanSubTask(r rowScanner) (*models.AiSubTask, error) {
	var st models.AiSubTask
	var dispatched, completed sql.NullTime
	var result []byte // a NULL column cannot scan into json.RawMessage directly
	err := r.Scan(&st.ID, &st.JobID, &st.ProviderID, &st.TaskType, &st.Status,
		&st.RetryCount, &result, &st.ErrorMessage, &st.FailureCode,
		&st.CallbackTokenHash, &st.CreatedAt, &dispatched, &completed)
	if err != nil {
		return nil, err
	}
	st.ResultJSON = result
	if dispatched.Valid {
		t := dispatched.Time
		st.DispatchedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		st.CompletedAt = &t
	}
	return &st, nil
}
