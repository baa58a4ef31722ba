package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/argus-news/argus/pkg/models"
)

// ArticleService performs corpus search over stored articles. The corpus is
// read-only from this process's perspective.
type ArticleService struct {
	db *sql.DB
}

// NewArticleService creates a new ArticleService
func NewArticleService(db *sql.DB) *ArticleService {
	return &ArticleService{db: db}
}

const articleColumns = "id, title, content, url, source, published_date, collected_at"

// Search runs the corpus query and returns one page plus an exact total.
// FTS mode ranks by storage-computed relevance, then recency, then id for a
// stable tiebreak; SUBSTRING mode ranks by recency only. The date filter
// treats collected_at as fallback truth when published_date is null.
func (s *ArticleService) Search(ctx context.Context, q models.NormalizedQuery, pageIndex, pageSize int) (*models.ArticlePage, error) {
	if pageIndex < 0 {
		pageIndex = 0
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	where, args := buildArticleFilter(q)

	var total int
	countSQL := "SELECT count(*) FROM articles" + where
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count articles: %w", err)
	}

	var orderBy string
	if q.Mode == models.SearchModeFTS {
		orderBy = fmt.Sprintf(
			" ORDER BY ts_rank(to_tsvector('simple', title || ' ' || content), plainto_tsquery('simple', $%d)) DESC,"+
				" COALESCE(published_date, collected_at) DESC, id ASC",
			len(args)+1)
		args = append(args, q.Q)
	} else {
		orderBy = " ORDER BY COALESCE(published_date, collected_at) DESC, id ASC"
	}

	querySQL := fmt.Sprintf("SELECT %s FROM articles%s%s LIMIT $%d OFFSET $%d",
		articleColumns, where, orderBy, len(args)+1, len(args)+2)
	args = append(args, pageSize, pageIndex*pageSize)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search articles: %w", err)
	}
	defer rows.Close()

	items := []models.Article{}
	for rows.Next() {
		var a models.Article
		var published sql.NullTime
		if err := rows.Scan(&a.ID, &a.Title, &a.Content, &a.URL, &a.Source, &published, &a.CollectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		if published.Valid {
			t := published.Time
			a.PublishedDate = &t
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read articles: %w", err)
	}

	return &models.ArticlePage{
		Items:         items,
		PageIndex:     pageIndex,
		PageSize:      pageSize,
		TotalElements: total,
	}, nil
}

// buildArticleFilter renders the WHERE clause for a normalized query.
// FTS uses plainto_tsquery so user input is never parsed as tsquery syntax.
func buildArticleFilter(q models.NormalizedQuery) (string, []any) {
	var conds []string
	var args []any

	if q.Mode == models.SearchModeFTS {
		args = append(args, q.Q)
		conds = append(conds, fmt.Sprintf(
			"to_tsvector('simple', title || ' ' || content) @@ plainto_tsquery('simple', $%d)", len(args)))
	} else {
		args = append(args, "%"+escapeLike(q.Q)+"%")
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR content ILIKE $%d)", len(args), len(args)))
	}

	if q.Since != nil && q.Until != nil {
		args = append(args, *q.Since, *q.Until)
		conds = append(conds, fmt.Sprintf(
			"((published_date BETWEEN $%d AND $%d) OR (published_date IS NULL AND collected_at BETWEEN $%d AND $%d))",
			len(args)-1, len(args), len(args)-1, len(args)))
	} else if q.Since != nil {
		args = append(args, *q.Since)
		conds = append(conds, fmt.Sprintf(
			"((published_date >= $%d) OR (published_date IS NULL AND collected_at >= $%d))",
			len(args), len(args)))
	} else if q.Until != nil {
		args = append(args, *q.Until)
		conds = append(conds, fmt.Sprintf(
			"((published_date <= $%d) OR (published_date IS NULL AND collected_at <= $%d))",
			len(args), len(args)))
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

// escapeLike escapes LIKE wildcards so substring mode is a literal match.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
