package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/argus-news/argus/pkg/models"
	"github.com/argus-news/argus/pkg/services"
)

// CreateSearchJob handles POST /api/v1/search/jobs.
func (s *Server) CreateSearchJob(c *gin.Context) {
	var req createSearchJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := s.searchMgr.StartJob(c.Request.Context(), services.CreateJobRequest{
		Query:        req.Query,
		WindowToken:  req.Window,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		PriorityURLs: req.PriorityURLs,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     job.ID,
		"status":     job.Status,
		"stream_url": "/api/v1/search/jobs/" + job.ID + "/stream",
	})
}

// GetSearchJob handles GET /api/v1/search/jobs/:id.
func (s *Server) GetSearchJob(c *gin.Context) {
	job, err := s.searchJobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListSearchJobs handles GET /api/v1/search/jobs.
func (s *Server) ListSearchJobs(c *gin.Context) {
	filters := models.SearchJobFilters{
		Status: models.JobStatus(c.Query("status")),
		Limit:  intQuery(c, "limit", 20),
		Offset: intQuery(c, "offset", 0),
	}
	if filters.Limit > 100 {
		filters.Limit = 100
	}

	list, err := s.searchJobs.ListJobs(c.Request.Context(), filters)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// CancelSearchJob handles POST /api/v1/search/jobs/:id/cancel.
func (s *Server) CancelSearchJob(c *gin.Context) {
	if err := s.searchMgr.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.JobStatusCancelled)})
}

// StreamSearchJob handles GET /api/v1/search/jobs/:id/stream.
func (s *Server) StreamSearchJob(c *gin.Context) {
	jobID := c.Param("id")
	s.streamJob(c, jobID, func() {
		// The request context is gone by detach time.
		s.searchMgr.NotifyDetach(context.Background(), jobID)
	})
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
