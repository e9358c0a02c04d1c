package api

import (
	"context"
	"log/slog"

	"github.com/clawboard/clawboard/pkg/config"
	"github.com/clawboard/clawboard/pkg/events"
	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/orchestration"
	"github.com/clawboard/clawboard/pkg/search"
	"github.com/clawboard/clawboard/pkg/store"
)

// fakeStore is an in-memory Store with per-call capture fields. Methods a
// test does not exercise return zero values.
type fakeStore struct {
	topics   []*models.Topic
	tasks    []*models.Task
	logs     []*models.LogEntry
	spaces   map[string]*models.Space
	instance *models.InstanceConfig
	memory   map[string]*models.SessionRoutingMemory

	lastLogFilter    store.LogFilter
	enqueued         []models.AppendLogRequest
	resetCalls       []ReplayRequest
	clearedDerived   bool
	queueDepth       int
	pendingSessions  []string
	stats            *store.ClassifierStats
	resetCount       int64
	putMemorySession string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		spaces:   map[string]*models.Space{},
		memory:   map[string]*models.SessionRoutingMemory{},
		instance: &models.InstanceConfig{Name: "clawboard", DefaultSpaceID: models.DefaultSpaceID, UpdatedAt: models.NowISO()},
		stats:    &store.ClassifierStats{},
	}
}

func (f *fakeStore) GetTopic(_ context.Context, id string) (*models.Topic, error) {
	for _, t := range f.topics {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListTopics(context.Context, []string) ([]*models.Topic, error) {
	return f.topics, nil
}

func (f *fakeStore) ListTasks(context.Context, string, []string) ([]*models.Task, error) {
	return f.tasks, nil
}

func (f *fakeStore) GetLog(_ context.Context, id string) (*models.LogEntry, error) {
	for _, l := range f.logs {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListLogs(_ context.Context, filter store.LogFilter) ([]*models.LogEntry, error) {
	f.lastLogFilter = filter
	return f.logs, nil
}

func (f *fakeStore) RecentLogs(context.Context, int) ([]*models.LogEntry, error) {
	return f.logs, nil
}

func (f *fakeStore) NotesForLog(context.Context, string, int) ([]*models.LogEntry, error) {
	return nil, nil
}

func (f *fakeStore) NoteCounts(context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}

func (f *fakeStore) TopicsUpdatedSince(context.Context, string) ([]*models.Topic, error) {
	return f.topics, nil
}

func (f *fakeStore) TasksUpdatedSince(context.Context, string) ([]*models.Task, error) {
	return f.tasks, nil
}

func (f *fakeStore) GetInstanceConfig(context.Context) (*models.InstanceConfig, error) {
	return f.instance, nil
}

func (f *fakeStore) UpdateInstanceConfig(_ context.Context, cfg *models.InstanceConfig, now string) (*models.InstanceConfig, error) {
	cfg.UpdatedAt = now
	f.instance = cfg
	return cfg, nil
}

func (f *fakeStore) ClearDerivedState(context.Context) error {
	f.clearedDerived = true
	return nil
}

func (f *fakeStore) PendingSessions(context.Context, int) ([]string, error) {
	return f.pendingSessions, nil
}

func (f *fakeStore) LogStats(context.Context, int) (*store.ClassifierStats, error) {
	return f.stats, nil
}

func (f *fakeStore) ResetLogsForReplay(_ context.Context, logID, sessionKey, _ string) (int64, error) {
	f.resetCalls = append(f.resetCalls, ReplayRequest{LogID: logID, SessionKey: sessionKey})
	return f.resetCount, nil
}

func (f *fakeStore) GetRoutingMemory(_ context.Context, sessionKey string) (*models.SessionRoutingMemory, error) {
	if m, ok := f.memory[sessionKey]; ok {
		return m, nil
	}
	return &models.SessionRoutingMemory{SessionKey: sessionKey}, nil
}

func (f *fakeStore) PutRoutingMemory(_ context.Context, sessionKey string, decisions []models.RoutingDecision, now string) error {
	f.putMemorySession = sessionKey
	f.memory[sessionKey] = &models.SessionRoutingMemory{SessionKey: sessionKey, Decisions: decisions, UpdatedAt: now}
	return nil
}

func (f *fakeStore) EnqueueIngest(_ context.Context, payload models.AppendLogRequest, _ string) (int64, error) {
	f.enqueued = append(f.enqueued, payload)
	return int64(len(f.enqueued)), nil
}

func (f *fakeStore) IngestQueueDepth(context.Context) (int, error) {
	return f.queueDepth, nil
}

func (f *fakeStore) GetSpace(_ context.Context, id string) (*models.Space, error) {
	if sp, ok := f.spaces[id]; ok {
		return sp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListSpaces(context.Context) ([]*models.Space, error) {
	var out []*models.Space
	for _, sp := range f.spaces {
		out = append(out, sp)
	}
	return out, nil
}

func (f *fakeStore) CreateSpace(_ context.Context, sp *models.Space) error {
	if _, ok := f.spaces[sp.ID]; ok {
		return store.ErrDuplicateKey
	}
	f.spaces[sp.ID] = sp
	return nil
}

func (f *fakeStore) UpdateSpaceConnectivity(_ context.Context, id string, connectivity map[string]bool, updatedAt string) (*models.Space, error) {
	sp, ok := f.spaces[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sp.Connectivity = connectivity
	sp.UpdatedAt = updatedAt
	return sp, nil
}

func (f *fakeStore) AllowedSpaceIDs(_ context.Context, spaceID string) ([]string, error) {
	sp, ok := f.spaces[spaceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return sp.AllowedFrom(), nil
}

// fakeIngest records mutations and answers from canned rows.
type fakeIngest struct {
	appended    []models.AppendLogRequest
	appendedKey []string
	appendErr   error
	entry       *models.LogEntry

	patched map[string]*models.LogPatch
	deleted []string

	createdTopics []models.CreateTopicRequest
	createdTasks  []models.CreateTaskRequest
	reordered     [][]string
}

func newFakeIngest() *fakeIngest {
	return &fakeIngest{patched: map[string]*models.LogPatch{}}
}

func (f *fakeIngest) Append(_ context.Context, req models.AppendLogRequest, headerIdemKey string) (*models.LogEntry, error) {
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	f.appended = append(f.appended, req)
	f.appendedKey = append(f.appendedKey, headerIdemKey)
	if f.entry != nil {
		return f.entry, nil
	}
	return &models.LogEntry{ID: "log-1", Type: req.Type, Content: req.Content, CreatedAt: models.NowISO(), UpdatedAt: models.NowISO()}, nil
}

func (f *fakeIngest) Patch(_ context.Context, id string, p *models.LogPatch) (*models.LogEntry, error) {
	f.patched[id] = p
	return &models.LogEntry{ID: id}, nil
}

func (f *fakeIngest) Delete(_ context.Context, id string) ([]string, error) {
	f.deleted = append(f.deleted, id)
	return []string{id}, nil
}

func (f *fakeIngest) CreateTopic(_ context.Context, req models.CreateTopicRequest) (*models.Topic, error) {
	if req.Name == "" {
		return nil, store.NewValidationError("name", "name is required")
	}
	f.createdTopics = append(f.createdTopics, req)
	return &models.Topic{ID: "topic-1", Name: req.Name}, nil
}

func (f *fakeIngest) PatchTopic(_ context.Context, id string, _ *models.TopicPatch) (*models.Topic, error) {
	return &models.Topic{ID: id}, nil
}

func (f *fakeIngest) DeleteTopic(context.Context, string) error { return nil }

func (f *fakeIngest) ReorderTopics(_ context.Context, ids []string) error {
	f.reordered = append(f.reordered, ids)
	return nil
}

func (f *fakeIngest) CreateTask(_ context.Context, req models.CreateTaskRequest) (*models.Task, error) {
	if req.Title == "" {
		return nil, store.NewValidationError("title", "title is required")
	}
	f.createdTasks = append(f.createdTasks, req)
	return &models.Task{ID: "task-1", Title: req.Title}, nil
}

func (f *fakeIngest) PatchTask(_ context.Context, id string, _ *models.TaskPatch) (*models.Task, error) {
	return &models.Task{ID: id}, nil
}

func (f *fakeIngest) DeleteTask(context.Context, string) error { return nil }

func (f *fakeIngest) ReorderTasks(_ context.Context, ids []string) error {
	f.reordered = append(f.reordered, ids)
	return nil
}

// fakeSearcher returns a canned response.
type fakeSearcher struct {
	resp    *search.Response
	lastReq search.Request
}

func (f *fakeSearcher) Search(_ context.Context, req search.Request) (*search.Response, error) {
	f.lastReq = req
	if f.resp != nil {
		return f.resp, nil
	}
	return &search.Response{Mode: "lexical"}, nil
}

// fakeOrch tracks run lifecycle calls.
type fakeOrch struct {
	started   []string
	cancelled []string
}

func (f *fakeOrch) StartRun(_ context.Context, requestID, sessionKey string) (*models.OrchestrationRun, error) {
	f.started = append(f.started, requestID)
	return &models.OrchestrationRun{ID: "run-1", RequestID: requestID, SessionKey: sessionKey}, nil
}

func (f *fakeOrch) Cancel(_ context.Context, requestID string) (*models.OrchestrationRun, error) {
	f.cancelled = append(f.cancelled, requestID)
	return &models.OrchestrationRun{ID: "run-1", RequestID: requestID}, nil
}

func (f *fakeOrch) Status(_ context.Context, requestID string) (*models.OrchestrationRun, []*models.OrchestrationItem, error) {
	return &models.OrchestrationRun{ID: "run-1", RequestID: requestID}, nil, nil
}

// fakeGateway records dispatches and can fail on demand.
type fakeGateway struct {
	dispatched  []orchestration.ChatRequest
	cancelled   []string
	dispatchErr error
}

func (f *fakeGateway) Dispatch(_ context.Context, req orchestration.ChatRequest) error {
	if f.dispatchErr != nil {
		return f.dispatchErr
	}
	f.dispatched = append(f.dispatched, req)
	return nil
}

func (f *fakeGateway) Cancel(_ context.Context, requestID string) error {
	f.cancelled = append(f.cancelled, requestID)
	return nil
}

type testServer struct {
	server  *Server
	store   *fakeStore
	ingest  *fakeIngest
	search  *fakeSearcher
	orch    *fakeOrch
	gateway *fakeGateway
	hub     *events.Hub
}

func newTestServer(mutate ...func(*config.Config)) *testServer {
	cfg := &config.Config{}
	cfg.Server.Port = "0"
	cfg.Classifier.MaxAttempts = 3
	for _, m := range mutate {
		m(cfg)
	}

	ts := &testServer{
		store:   newFakeStore(),
		ingest:  newFakeIngest(),
		search:  &fakeSearcher{},
		orch:    &fakeOrch{},
		gateway: &fakeGateway{},
		hub:     events.NewHub(64, 16),
	}
	ts.server = NewServer(cfg, Deps{
		Store:        ts.store,
		Ingest:       ts.ingest,
		Search:       ts.search,
		Orchestrator: ts.orch,
		Gateway:      ts.gateway,
		Hub:          ts.hub,
		Logger:       slog.Default(),
	})
	return ts
}
