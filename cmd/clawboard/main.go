// Clawboard server — ingests conversational agent traffic, classifies
// sessions into topics and tasks, and serves search, context, and the
// live event stream.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clawboard/clawboard/pkg/api"
	"github.com/clawboard/clawboard/pkg/classifier"
	"github.com/clawboard/clawboard/pkg/config"
	"github.com/clawboard/clawboard/pkg/database"
	"github.com/clawboard/clawboard/pkg/events"
	"github.com/clawboard/clawboard/pkg/ingest"
	"github.com/clawboard/clawboard/pkg/llm"
	"github.com/clawboard/clawboard/pkg/orchestration"
	"github.com/clawboard/clawboard/pkg/reindex"
	"github.com/clawboard/clawboard/pkg/search"
	"github.com/clawboard/clawboard/pkg/store"
	"github.com/clawboard/clawboard/pkg/vector"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	ctx := context.Background()
	logger := slog.Default()

	// 1. Configuration
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting Clawboard", "http_port", cfg.Server.Port, "queue_mode", cfg.Ingest.QueueMode)

	// 2. Database (runs migrations on connect)
	dbClient, err := database.NewClient(ctx, database.DefaultConfig(cfg.Database.URL))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	st := store.New(dbClient)
	slog.Info("Connected to PostgreSQL database")

	// 3. Event hub
	hub := events.NewHub(cfg.Events.BufferSize, cfg.Events.SubscriberQueue)

	// 4. Vector index (SQLite mirror, optional Qdrant backend)
	var remoteCfg *vector.RemoteConfig
	if cfg.Vector.QdrantURL != "" {
		remoteCfg = &vector.RemoteConfig{
			URL:        cfg.Vector.QdrantURL,
			Collection: cfg.Vector.QdrantCollection,
			APIKey:     cfg.Vector.QdrantAPIKey,
			Dim:        cfg.Vector.QdrantDim,
			Timeout:    cfg.Vector.QdrantTimeout,
		}
	}
	index, err := vector.Open(ctx, cfg.Vector.DBPath, remoteCfg)
	if err != nil {
		slog.Error("Failed to open vector index", "path", cfg.Vector.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := index.Close(); err != nil {
			slog.Error("Error closing vector index", "error", err)
		}
	}()
	slog.Info("Vector index opened", "path", cfg.Vector.DBPath, "qdrant", cfg.Vector.QdrantURL != "")

	// 5. LLM client. Without an endpoint the classifier falls back to
	// lexical routing and search runs without embeddings.
	llmClient := llm.NewClient(llm.Config{
		BaseURL:    cfg.Classifier.LLMBaseURL,
		APIKey:     cfg.Classifier.LLMToken,
		Model:      cfg.Classifier.LLMModel,
		EmbedModel: cfg.Classifier.EmbedModel,
		Timeout:    cfg.Classifier.LLMTimeout,
	})
	var embedder search.Embedder
	if llmClient.Enabled() {
		embedder = llmClient
	} else {
		slog.Warn("No LLM endpoint configured, classification and embeddings are degraded")
	}

	// 6. Reindex queue and drain worker
	queue := reindex.NewQueue(cfg.Reindex.QueuePath)
	var reindexEmbedder reindex.Embedder
	if llmClient.Enabled() {
		reindexEmbedder = llmClient
	}
	reindexWorker := reindex.NewWorker(queue, index, reindexEmbedder, 0, logger)
	maintenance := reindex.NewMaintenanceWorker(ingest.NewCatalog(st), index, queue, cfg.Reindex.MaintenanceInterval, logger)

	// 7. Ingest service and background workers
	ingestSvc := ingest.NewService(st, hub, queue, logger)
	snoozeWorker := ingest.NewSnoozeWorker(st, hub, cfg.Snooze.PollInterval, logger)
	var queueWorker *ingest.QueueWorker
	if cfg.Ingest.QueueMode {
		queueWorker = ingest.NewQueueWorker(st, ingestSvc, cfg.Ingest.PollInterval, logger)
	}

	// 8. Hybrid search
	searchSvc := search.New(st, index, embedder, nil, search.Options{
		GateWait:    cfg.Search.GateWait,
		RerankBlend: cfg.Search.RerankBlend,
	})

	// 9. Session classifier
	cls := classifier.New(st, ingestSvc, searchSvc, llmClient, cfg.Classifier, cfg.SessionRouting.MaxItems, logger)

	// 10. Orchestration runtime and chat gateway
	orchSvc := orchestration.NewService(st, cfg.Orchestration.TickInterval, cfg.Orchestration.StallThreshold)
	orchWorker := orchestration.NewWorker(orchSvc, cfg.Orchestration.TickInterval, logger)
	gateway := orchestration.NewHTTPGateway(cfg.Orchestration.ChatGatewayURL)
	// Ingested tool results and assistant turns drive run state.
	ingestSvc.SetRunTracker(orchSvc)

	// 11. Start background workers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go reindexWorker.Start(workerCtx)
	go maintenance.Start(workerCtx)
	go snoozeWorker.Start(workerCtx)
	if queueWorker != nil {
		go queueWorker.Start(workerCtx)
	}
	go cls.Start(workerCtx)
	go orchWorker.Start(workerCtx)

	// 12. HTTP server (non-blocking)
	httpServer := api.NewServer(cfg, api.Deps{
		Store:        st,
		Ingest:       ingestSvc,
		Search:       searchSvc,
		Orchestrator: orchSvc,
		Gateway:      gateway,
		Hub:          hub,
		Reindex:      queue,
		Vectors:      index,
		Logger:       logger,
	})
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", ":"+cfg.Server.Port)
		if err := httpServer.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Clawboard started successfully")

	// 13. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 14. Graceful shutdown: stop accepting requests, then stop workers.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown incomplete", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}
	stopWorkers()

	slog.Info("Clawboard stopped")
}
