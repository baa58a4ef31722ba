package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/argus-news/argus/pkg/models"
)

// SearchJobService manages search job lifecycle persistence. Status writes
// to terminal states are compare-and-set on the current status so the first
// terminal writer wins and late writers no-op.
type SearchJobService struct {
	db *sql.DB
}

// NewSearchJobService creates a new SearchJobService
func NewSearchJobService(db *sql.DB) *SearchJobService {
	return &SearchJobService{db: db}
}

// CreateJobRequest carries the validated inputs for a new search job.
type CreateJobRequest struct {
	Query        string
	WindowToken  string
	StartDate    *time.Time
	EndDate      *time.Time
	PriorityURLs []string
}

// CreateJob inserts a new PENDING job with a fresh id. Creation is not
// idempotent: identical payloads get distinct jobs.
func (s *SearchJobService) CreateJob(httpCtx context.Context, req CreateJobRequest) (*models.SearchJob, error) {
	if req.Query == "" {
		return nil, NewValidationError("query", "required")
	}

	// Use background context with timeout for critical write
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	urls := req.PriorityURLs
	if urls == nil {
		urls = []string{}
	}
	urlsJSON, err := json.Marshal(urls)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal priority_urls: %w", err)
	}

	job := &models.SearchJob{
		ID:           uuid.New().String(),
		Query:        req.Query,
		WindowToken:  req.WindowToken,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		PriorityURLs: urls,
		Status:       models.JobStatusPending,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO search_jobs (id, query, window_token, start_date, end_date, priority_urls, status, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)`,
		job.ID, job.Query, job.WindowToken, job.StartDate, job.EndDate, urlsJSON, job.Status, job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create search job: %w", err)
	}

	return job, nil
}

const searchJobColumns = `id, query, COALESCE(window_token, ''), start_date, end_date,
	priority_urls, status, COALESCE(failure_code, ''), COALESCE(failure_category, ''),
	COALESCE(summary, ''), created_at, completed_at`

// GetJob retrieves a job by id.
func (s *SearchJobService) GetJob(ctx context.Context, jobID string) (*models.SearchJob, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+searchJobColumns+" FROM search_jobs WHERE id = $1", jobID)
	job, err := scanSearchJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get search job: %w", err)
	}
	return job, nil
}

// ListJobs lists jobs with filtering and pagination, newest first.
func (s *SearchJobService) ListJobs(ctx context.Context, filters models.SearchJobFilters) (*models.SearchJobList, error) {
	where := ""
	args := []any{}
	if filters.Status != "" {
		where = " WHERE status = $1"
		args = append(args, filters.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM search_jobs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count search jobs: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}

	querySQL := fmt.Sprintf("SELECT %s FROM search_jobs%s ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d",
		searchJobColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list search jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.SearchJob{}
	for rows.Next() {
		job, err := scanSearchJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search jobs: %w", err)
	}

	return &models.SearchJobList{Jobs: jobs, TotalCount: total, Limit: limit, Offset: offset}, nil
}

// MarkRunning transitions PENDING → RUNNING on first dispatch. Returns
// ErrAlreadyTerminal if the job was cancelled or timed out before starting.
func (s *SearchJobService) MarkRunning(ctx context.Context, jobID string) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx,
		`UPDATE search_jobs SET status = $1 WHERE id = $2 AND status = $3`,
		models.JobStatusRunning, jobID, models.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check job transition: %w", err)
	}
	if n == 0 {
		job, err := s.GetJob(writeCtx, jobID)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return ErrAlreadyTerminal
		}
		return nil // already running
	}
	return nil
}

// CompleteJob performs the single terminal transition for a job. The CAS on
// non-terminal statuses guarantees only the first caller succeeds; later
// callers get claimed=false and must not emit a second terminal event.
func (s *SearchJobService) CompleteJob(ctx context.Context, jobID string, status models.JobStatus, reason models.FailureReason, summary string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("%w: %q is not a terminal status", ErrInvalidInput, status)
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx,
		`UPDATE search_jobs
		SET status = $1, failure_code = NULLIF($2, ''), failure_category = NULLIF($3, ''),
			summary = NULLIF($4, ''), completed_at = $5
		WHERE id = $6 AND status IN ($7, $8)`,
		status, string(reason.Code), string(reason.Category), summary, time.Now().UTC(),
		jobID, models.JobStatusPending, models.JobStatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to complete search job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check terminal transition: %w", err)
	}
	return n > 0, nil
}

// FindStaleJobs returns non-terminal jobs whose overall deadline has passed.
func (s *SearchJobService) FindStaleJobs(ctx context.Context, overallTimeout time.Duration) ([]*models.SearchJob, error) {
	threshold := time.Now().UTC().Add(-overallTimeout)

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+searchJobColumns+` FROM search_jobs
		WHERE status IN ($1, $2) AND created_at < $3`,
		models.JobStatusPending, models.JobStatusRunning, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale search jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SearchJob
	for rows.Next() {
		job, err := scanSearchJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// TimeoutStartupOrphans times out jobs left non-terminal by a previous
// process. Called once at boot, before the API starts accepting work.
func (s *SearchJobService) TimeoutStartupOrphans(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE search_jobs
		SET status = $1, failure_code = $2, failure_category = $3, completed_at = $4
		WHERE status IN ($5, $6)`,
		models.JobStatusTimeout, models.FailureTimeoutJobOverall, models.CategoryTimeout,
		time.Now().UTC(), models.JobStatusPending, models.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to timeout orphaned search jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count orphaned search jobs: %w", err)
	}
	return int(n), nil
}

// PurgeOldJobs deletes terminal jobs whose completion is older than the
// retention window. Returns the number of rows removed.
func (s *SearchJobService) PurgeOldJobs(ctx context.Context, retention time.Duration) (int, error) {
	deleteCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.ExecContext(deleteCtx,
		`DELETE FROM search_jobs WHERE completed_at IS NOT NULL AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge search jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged search jobs: %w", err)
	}
	return int(n), nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSearchJob(r rowScanner) (*models.SearchJob, error) {
	var job models.SearchJob
	var urlsJSON []byte
	var start, end, completed sql.NullTime
	err := r.Scan(&job.ID, &job.Query, &job.WindowToken, &start, &end,
		&urlsJSON, &job.Status, &job.FailureCode, &job.FailureCategory,
		&job.Summary, &job.CreatedAt, &completed)
	if err != nil {
		return nil, err
	}
	if start.Valid {
		t := start.Time
		job.StartDate = &t
	}
	if end.Valid {
		t := end.Time
		job.EndDate = &t
	}
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	if len(urlsJSON) > 0 {
		if err := json.Unmarshal(urlsJSON, &job.PriorityURLs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal priority_urls: %w", err)
		}
	}
	return &job, nil
}
