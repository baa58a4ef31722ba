package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/argus-news/argus/pkg/search"
	"github.com/argus-news/argus/pkg/services"
)

// SearchArticles handles GET /api/v1/articles/search: a direct, synchronous
// corpus query without a job or a stream.
func (s *Server) SearchArticles(c *gin.Context) {
	start, ok := timeQuery(c, "start_date")
	if !ok {
		return
	}
	end, ok := timeQuery(c, "end_date")
	if !ok {
		return
	}

	nq, err := search.Normalize(c.Query("q"), c.Query("window"), start, end)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	pageIndex := intQuery(c, "page_index", 0)
	pageSize := intQuery(c, "page_size", s.cfg.Search.DefaultPageSize)
	if pageSize > s.cfg.Search.MaxPageSize {
		pageSize = s.cfg.Search.MaxPageSize
	}

	page, err := s.articles.Search(c.Request.Context(), nq, pageIndex, pageSize)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// timeQuery parses an optional RFC 3339 query parameter. On a malformed
// value it writes a 400 and returns ok=false.
func timeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		respondServiceError(c, services.NewValidationError(name, "must be RFC 3339"))
		return nil, false
	}
	return &t, true
}
