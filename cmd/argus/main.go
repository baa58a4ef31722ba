// Argus server: corpus search, parallel source fan-out, and deep-search
// orchestration behind one HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/argus-news/argus/pkg/api"
	"github.com/argus-news/argus/pkg/config"
	"github.com/argus-news/argus/pkg/database"
	"github.com/argus-news/argus/pkg/deep"
	"github.com/argus-news/argus/pkg/events"
	"github.com/argus-news/argus/pkg/search"
	"github.com/argus-news/argus/pkg/services"
	"github.com/argus-news/argus/pkg/sweeper"
	"github.com/argus-news/argus/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting Argus", "version", version.Full(), "config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database
	dbClient, err := database.NewClient(ctx, database.LoadConfigFromEnv())
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Domain services
	articles := services.NewArticleService(dbClient.DB())
	searchJobs := services.NewSearchJobService(dbClient.DB())
	aiJobs := services.NewAiJobService(dbClient.DB())
	evidence := services.NewEvidenceService(dbClient.DB())
	slog.Info("Services initialized")

	// 4. Event bus
	bus := events.NewBus(cfg.Search.EventBufferSize)

	// 5. Search manager: corpus source plus configured external sources
	adapters := []search.SourceAdapter{search.NewCorpusSource(articles)}
	for _, src := range cfg.Providers.EnabledSources() {
		adapters = append(adapters, search.NewHTTPSourceAdapter(*src, nil))
	}
	fanout := search.NewFanout(bus, cfg.Search.PerSourceTimeout)
	searchMgr := search.NewManager(cfg.Search, searchJobs, bus, fanout, adapters)
	slog.Info("Search manager initialized", "sources", len(adapters))

	// 6. Deep-search orchestrator
	publisher := deep.NewHTTPTaskPublisher(cfg.Deep.DispatchTimeout)
	callbackURL := cfg.Server.PublicBaseURL + "/api/v1/ai/callback"
	orch := deep.NewOrchestrator(cfg.Deep, cfg.Providers, aiJobs, evidence, bus, publisher, callbackURL)
	slog.Info("Deep-search orchestrator initialized", "providers", cfg.Providers.Len())

	// 7. Sweeper: startup orphan pass, then the periodic loop
	sweep := sweeper.NewSweeper(cfg.Search, cfg.Deep, cfg.Retention, searchJobs, aiJobs, orch, bus)
	if err := sweep.SweepStartupOrphans(ctx); err != nil {
		slog.Error("Failed to sweep startup orphans", "error", err)
		// Non-fatal, the periodic loop retries the same work
	}
	sweep.Start()

	// 8. HTTP server
	httpServer := api.NewServer(cfg, dbClient, articles, searchJobs, evidence, searchMgr, orch, bus)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Argus started successfully")

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop accepting requests, then drain the job
	// managers, then the sweeper.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	drainCtx, drainCancel := context.WithTimeout(ctx, 30*time.Second)
	defer drainCancel()
	searchMgr.Shutdown(drainCtx)
	orch.Shutdown(drainCtx)
	sweep.Stop(drainCtx)

	slog.Info("Shutdown complete")
}
