package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/argus-news/argus/pkg/deep"
	"github.com/argus-news/argus/pkg/models"
)

// deepJobResponse is a parent job with its sub-tasks inlined.
type deepJobResponse struct {
	*models.AiJob
	SubTasks []*models.AiSubTask `json:"sub_tasks"`
}

// CreateDeepJob handles POST /api/v1/deep/jobs.
func (s *Server) CreateDeepJob(c *gin.Context) {
	var req createDeepJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := s.orch.StartJob(c.Request.Context(), req.Topic, req.BaseURL)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     job.ID,
		"status":     job.Status,
		"stream_url": "/api/v1/deep/jobs/" + job.ID + "/stream",
	})
}

// GetDeepJob handles GET /api/v1/deep/jobs/:id.
func (s *Server) GetDeepJob(c *gin.Context) {
	jobID := c.Param("id")

	job, err := s.orch.GetJob(c.Request.Context(), jobID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	subTasks, err := s.orch.ListSubTasks(c.Request.Context(), jobID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, deepJobResponse{AiJob: job, SubTasks: subTasks})
}

// CancelDeepJob handles POST /api/v1/deep/jobs/:id/cancel.
func (s *Server) CancelDeepJob(c *gin.Context) {
	if err := s.orch.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.AiJobStatusCancelled)})
}

// ListDeepJobEvidence handles GET /api/v1/deep/jobs/:id/evidence.
func (s *Server) ListDeepJobEvidence(c *gin.Context) {
	jobID := c.Param("id")

	if _, err := s.orch.GetJob(c.Request.Context(), jobID); err != nil {
		respondServiceError(c, err)
		return
	}
	rows, err := s.evidence.ListByJob(c.Request.Context(), jobID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "evidence": rows})
}

// StreamDeepJob handles GET /api/v1/deep/jobs/:id/stream.
func (s *Server) StreamDeepJob(c *gin.Context) {
	s.streamJob(c, c.Param("id"), nil)
}

// HandleProviderCallback handles POST /api/v1/ai/callback. Every outcome
// except a token mismatch acks with 200 so providers never redeliver
// results we have already absorbed.
func (s *Server) HandleProviderCallback(c *gin.Context) {
	var req deep.CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := s.orch.HandleCallback(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": string(outcome)})
}
