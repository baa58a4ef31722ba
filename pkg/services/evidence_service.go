package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/argus-news/argus/pkg/models"
)

// EvidenceService persists crawl evidence rows attached to deep-search jobs.
type EvidenceService struct {
	db *sql.DB
}

// NewEvidenceService creates a new EvidenceService
func NewEvidenceService(db *sql.DB) *EvidenceService {
	return &EvidenceService{db: db}
}

// Append inserts evidence rows for a job. Ingestion is idempotent per
// (job_id, url): re-delivered rows are skipped. Returns the rows that were
// actually inserted by this call so callers only emit events for new rows.
func (s *EvidenceService) Append(ctx context.Context, jobID string, rows []models.CrawlEvidence) ([]models.CrawlEvidence, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inserted := make([]models.CrawlEvidence, 0, len(rows))
	for _, ev := range rows {
		if ev.URL == "" {
			continue
		}
		ev.ID = uuid.New().String()
		ev.JobID = jobID
		ev.CreatedAt = time.Now().UTC()
		if ev.Stance == "" {
			ev.Stance = models.StanceNeutral
		}

		res, err := s.db.ExecContext(writeCtx,
			`INSERT INTO crawl_evidence (id, job_id, url, title, stance, snippet, source_category, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (job_id, url) DO NOTHING`,
			ev.ID, ev.JobID, ev.URL, ev.Title, ev.Stance, ev.Snippet, ev.SourceCategory, ev.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert evidence for %s: %w", ev.URL, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to check evidence insert: %w", err)
		}
		if n > 0 {
			inserted = append(inserted, ev)
		}
	}
	return inserted, nil
}

// ListByJob returns all evidence rows of a job in insertion order.
func (s *EvidenceService) ListByJob(ctx context.Context, jobID string) ([]models.CrawlEvidence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, url, title, stance, snippet, source_category, created_at
		FROM crawl_evidence WHERE job_id = $1 ORDER BY created_at ASC, id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	evidence := []models.CrawlEvidence{}
	for rows.Next() {
		var ev models.CrawlEvidence
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.URL, &ev.Title, &ev.Stance,
			&ev.Snippet, &ev.SourceCategory, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		evidence = append(evidence, ev)
	}
	return evidence, rows.Err()
}
