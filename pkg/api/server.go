// Package api exposes the HTTP surface: board CRUD, log ingest, search,
// the SSE stream, and the admin endpoints. Handlers stay thin; semantics
// live in the ingest, search, classifier, and orchestration packages.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/clawboard/clawboard/pkg/config"
	"github.com/clawboard/clawboard/pkg/events"
	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/orchestration"
	"github.com/clawboard/clawboard/pkg/reindex"
	"github.com/clawboard/clawboard/pkg/search"
	"github.com/clawboard/clawboard/pkg/store"
)

// Store is the read/admin persistence surface the handlers use directly.
// *store.Store satisfies it.
type Store interface {
	GetTopic(ctx context.Context, id string) (*models.Topic, error)
	ListTopics(ctx context.Context, spaceIDs []string) ([]*models.Topic, error)
	ListTasks(ctx context.Context, topicID string, spaceIDs []string) ([]*models.Task, error)
	GetLog(ctx context.Context, id string) (*models.LogEntry, error)
	ListLogs(ctx context.Context, f store.LogFilter) ([]*models.LogEntry, error)
	RecentLogs(ctx context.Context, limit int) ([]*models.LogEntry, error)
	NotesForLog(ctx context.Context, logID string, limit int) ([]*models.LogEntry, error)
	NoteCounts(ctx context.Context) (map[string]int, error)
	TopicsUpdatedSince(ctx context.Context, since string) ([]*models.Topic, error)
	TasksUpdatedSince(ctx context.Context, since string) ([]*models.Task, error)

	GetInstanceConfig(ctx context.Context) (*models.InstanceConfig, error)
	UpdateInstanceConfig(ctx context.Context, cfg *models.InstanceConfig, now string) (*models.InstanceConfig, error)
	ClearDerivedState(ctx context.Context) error

	PendingSessions(ctx context.Context, limit int) ([]string, error)
	LogStats(ctx context.Context, maxAttempts int) (*store.ClassifierStats, error)
	ResetLogsForReplay(ctx context.Context, logID, sessionKey, now string) (int64, error)
	GetRoutingMemory(ctx context.Context, sessionKey string) (*models.SessionRoutingMemory, error)
	PutRoutingMemory(ctx context.Context, sessionKey string, decisions []models.RoutingDecision, now string) error

	EnqueueIngest(ctx context.Context, payload models.AppendLogRequest, now string) (int64, error)
	IngestQueueDepth(ctx context.Context) (int, error)

	GetSpace(ctx context.Context, id string) (*models.Space, error)
	ListSpaces(ctx context.Context) ([]*models.Space, error)
	CreateSpace(ctx context.Context, sp *models.Space) error
	UpdateSpaceConnectivity(ctx context.Context, id string, connectivity map[string]bool, updatedAt string) (*models.Space, error)
	AllowedSpaceIDs(ctx context.Context, spaceID string) ([]string, error)
}

// Ingestor mutates logs, topics, and tasks. *ingest.Service satisfies it.
type Ingestor interface {
	Append(ctx context.Context, req models.AppendLogRequest, headerIdemKey string) (*models.LogEntry, error)
	Patch(ctx context.Context, id string, p *models.LogPatch) (*models.LogEntry, error)
	Delete(ctx context.Context, id string) ([]string, error)

	CreateTopic(ctx context.Context, req models.CreateTopicRequest) (*models.Topic, error)
	PatchTopic(ctx context.Context, id string, p *models.TopicPatch) (*models.Topic, error)
	DeleteTopic(ctx context.Context, id string) error
	ReorderTopics(ctx context.Context, orderedIDs []string) error

	CreateTask(ctx context.Context, req models.CreateTaskRequest) (*models.Task, error)
	PatchTask(ctx context.Context, id string, p *models.TaskPatch) (*models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ReorderTasks(ctx context.Context, orderedIDs []string) error
}

// Searcher runs hybrid queries. *search.Service satisfies it.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// Orchestrator tracks chat runs. *orchestration.Service satisfies it.
type Orchestrator interface {
	StartRun(ctx context.Context, requestID, sessionKey string) (*models.OrchestrationRun, error)
	Cancel(ctx context.Context, requestID string) (*models.OrchestrationRun, error)
	Status(ctx context.Context, requestID string) (*models.OrchestrationRun, []*models.OrchestrationItem, error)
}

// VectorStats exposes index row counts for metrics and the admin purge.
// *vector.Index satisfies it; may be nil when vectors are disabled.
type VectorStats interface {
	Count(ctx context.Context) (map[string]int, error)
	IDs(ctx context.Context, kind string) ([]string, error)
	Delete(ctx context.Context, kind, id string) error
}

// Deps bundles everything the server serves.
type Deps struct {
	Store        Store
	Ingest       Ingestor
	Search       Searcher
	Orchestrator Orchestrator
	Gateway      orchestration.Gateway
	Hub          *events.Hub
	Reindex      *reindex.Queue
	Vectors      VectorStats
	Logger       *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg    *config.Config
	store  Store
	ingest Ingestor
	search Searcher
	orch   Orchestrator
	gw     orchestration.Gateway
	hub    *events.Hub
	queue  *reindex.Queue
	vec    VectorStats
	logger *slog.Logger

	echo *echo.Echo
	http *http.Server
}

// NewServer wires the routes. Deps.Logger may be nil.
func NewServer(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		store:  deps.Store,
		ingest: deps.Ingest,
		search: deps.Search,
		orch:   deps.Orchestrator,
		gw:     deps.Gateway,
		hub:    deps.Hub,
		queue:  deps.Reindex,
		vec:    deps.Vectors,
		logger: logger.With("component", "api"),
	}

	e := echo.New()
	e.HTTPErrorHandler = errorEnvelope
	e.Use(s.requestLogger())
	e.Use(securityHeaders())
	e.Use(corsHeaders(cfg.Server.CORSOrigins))

	e.GET("/api/health", s.healthHandler)
	e.GET("/api/config", s.getConfigHandler, s.requireRead())
	e.POST("/api/config", s.updateConfigHandler, s.requireWrite())

	e.GET("/api/topics", s.listTopicsHandler, s.requireRead())
	e.POST("/api/topics", s.createTopicHandler, s.requireWrite())
	e.PATCH("/api/topics/:id", s.patchTopicHandler, s.requireWrite())
	e.DELETE("/api/topics/:id", s.deleteTopicHandler, s.requireWrite())
	e.POST("/api/topics/reorder", s.reorderTopicsHandler, s.requireWrite())

	e.GET("/api/tasks", s.listTasksHandler, s.requireRead())
	e.POST("/api/tasks", s.createTaskHandler, s.requireWrite())
	e.PATCH("/api/tasks/:id", s.patchTaskHandler, s.requireWrite())
	e.DELETE("/api/tasks/:id", s.deleteTaskHandler, s.requireWrite())
	e.POST("/api/tasks/reorder", s.reorderTasksHandler, s.requireWrite())

	e.GET("/api/log", s.listLogsHandler, s.requireRead())
	e.POST("/api/log", s.appendLogHandler, s.requireWrite())
	e.PATCH("/api/log/:id", s.patchLogHandler, s.requireWrite())
	e.DELETE("/api/log/:id", s.deleteLogHandler, s.requireWrite())
	e.POST("/api/ingest", s.ingestHandler, s.requireWrite())

	e.GET("/api/classifier/pending", s.classifierPendingHandler, s.requireWrite())
	e.GET("/api/classifier/session-routing", s.getSessionRoutingHandler, s.requireWrite())
	e.POST("/api/classifier/session-routing", s.putSessionRoutingHandler, s.requireWrite())
	e.POST("/api/classifier/replay", s.classifierReplayHandler, s.requireWrite())

	e.GET("/api/search", s.searchHandler, s.requireRead())
	e.GET("/api/clawgraph", s.clawgraphHandler, s.requireRead())
	e.GET("/api/context", s.contextHandler, s.requireRead())
	e.GET("/api/changes", s.changesHandler, s.requireRead())
	e.GET("/api/stream", s.streamHandler, s.requireStream())

	e.GET("/api/spaces", s.listSpacesHandler, s.requireRead())
	e.POST("/api/spaces", s.createSpaceHandler, s.requireWrite())
	e.PATCH("/api/spaces/:id/connectivity", s.spaceConnectivityHandler, s.requireWrite())
	e.GET("/api/spaces/allowed", s.allowedSpacesHandler, s.requireRead())

	e.POST("/api/openclaw/chat", s.chatHandler, s.requireWrite())
	e.POST("/api/openclaw/chat/cancel", s.chatCancelHandler, s.requireWrite())
	e.GET("/api/openclaw/chat/status", s.chatStatusHandler, s.requireRead())

	e.POST("/api/reindex", s.reindexHandler, s.requireWrite())
	e.GET("/api/metrics", s.metricsHandler, s.requireRead())
	e.POST("/api/admin/start-fresh-replay", s.startFreshReplayHandler, s.requireWrite())

	s.echo = e
	s.http = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
