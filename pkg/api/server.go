// Package api exposes the HTTP surface: search jobs, deep-search jobs, the
// provider callback ingress, corpus search, and event streams.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/argus-news/argus/pkg/config"
	"github.com/argus-news/argus/pkg/database"
	"github.com/argus-news/argus/pkg/deep"
	"github.com/argus-news/argus/pkg/events"
	"github.com/argus-news/argus/pkg/search"
	"github.com/argus-news/argus/pkg/services"
)

// Server is the HTTP API server.
type Server struct {
	cfg *config.Config
	db  *database.Client

	articles   *services.ArticleService
	searchJobs *services.SearchJobService
	evidence   *services.EvidenceService
	searchMgr  *search.Manager
	orch       *deep.Orchestrator
	bus        *events.Bus

	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the API server over the given components.
func NewServer(
	cfg *config.Config,
	db *database.Client,
	articles *services.ArticleService,
	searchJobs *services.SearchJobService,
	evidence *services.EvidenceService,
	searchMgr *search.Manager,
	orch *deep.Orchestrator,
	bus *events.Bus,
) *Server {
	return &Server{
		cfg:        cfg,
		db:         db,
		articles:   articles,
		searchJobs: searchJobs,
		evidence:   evidence,
		searchMgr:  searchMgr,
		orch:       orch,
		bus:        bus,
		logger:     slog.Default().With("component", "api"),
	}
}

// Routes builds the gin engine with all middleware and routes registered.
func (s *Server) Routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(s.logger))
	router.Use(securityHeaders())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", s.Health)

		v1.GET("/articles/search", s.SearchArticles)

		searchGroup := v1.Group("/search/jobs")
		{
			searchGroup.POST("", s.CreateSearchJob)
			searchGroup.GET("", s.ListSearchJobs)
			searchGroup.GET("/:id", s.GetSearchJob)
			searchGroup.POST("/:id/cancel", s.CancelSearchJob)
			searchGroup.GET("/:id/stream", s.StreamSearchJob)
		}

		deepGroup := v1.Group("/deep/jobs")
		{
			deepGroup.POST("", s.CreateDeepJob)
			deepGroup.GET("/:id", s.GetDeepJob)
			deepGroup.POST("/:id/cancel", s.CancelDeepJob)
			deepGroup.GET("/:id/evidence", s.ListDeepJobEvidence)
			deepGroup.GET("/:id/stream", s.StreamDeepJob)
		}

		v1.POST("/ai/callback", s.HandleProviderCallback)
	}
	return router
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("API server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
