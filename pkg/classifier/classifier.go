// Package classifier routes pending conversation logs onto topics and
// tasks. It runs outside the ingest path on a polling cycle guarded by a
// file lease, bundles session turns around user intent, retrieves
// candidates through hybrid search, and asks the LLM for a strict-schema
// verdict with deterministic fallbacks.
package classifier

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/clawboard/clawboard/pkg/config"
	"github.com/clawboard/clawboard/pkg/llm"
	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/search"
)

// SmallTalkTopic is the stable bucket for greetings and chit-chat.
const SmallTalkTopic = "Small Talk"

// inboxTopic receives bundles that cannot be routed anywhere better.
const inboxTopic = "Inbox"

// candidateTopicLimit and candidateTaskLimit bound retrieval per bundle.
const (
	candidateTopicLimit = 6
	candidateTaskLimit  = 8
)

// Store is the read surface the classifier needs. *store.Store satisfies it.
type Store interface {
	PendingSessions(ctx context.Context, limit int) ([]string, error)
	SessionWindow(ctx context.Context, sessionKey string, lookback int) ([]*models.LogEntry, error)
	GetRoutingMemory(ctx context.Context, sessionKey string) (*models.SessionRoutingMemory, error)
	AppendRoutingDecision(ctx context.Context, sessionKey string, decision models.RoutingDecision, maxItems int, now string) error
	GetTopic(ctx context.Context, id string) (*models.Topic, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	GetTaskByTitle(ctx context.Context, topicID, title string) (*models.Task, error)
}

// Boards is the mutation surface, served by the ingest service so every
// write keeps its invariants.
type Boards interface {
	CreateTopic(ctx context.Context, req models.CreateTopicRequest) (*models.Topic, error)
	CreateTask(ctx context.Context, req models.CreateTaskRequest) (*models.Task, error)
	EnsureTopicByName(ctx context.Context, name string, createdBy models.CreatedBy) (*models.Topic, error)
	Patch(ctx context.Context, id string, p *models.LogPatch) (*models.LogEntry, error)
}

// Searcher provides candidate retrieval. *search.Service satisfies it.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// LLM is the completion surface. *llm.Client satisfies it.
type LLM interface {
	Enabled() bool
	Complete(ctx context.Context, system string, msgs []llm.Message) (string, error)
	CompleteJSON(ctx context.Context, system string, msgs []llm.Message) (string, error)
}

// Classifier drives the classification cycle.
type Classifier struct {
	store      Store
	boards     Boards
	searcher   Searcher
	llm        LLM
	cfg        config.ClassifierConfig
	routingMax int
	lock       *LeaseLock
	audit      *GateAudit
	logger     *slog.Logger
}

// New wires the classifier.
func New(st Store, boards Boards, searcher Searcher, llmClient LLM, cfg config.ClassifierConfig, routingMax int, logger *slog.Logger) *Classifier {
	return &Classifier{
		store:      st,
		boards:     boards,
		searcher:   searcher,
		llm:        llmClient,
		cfg:        cfg,
		routingMax: routingMax,
		lock:       NewLeaseLock(cfg.LockPath, cfg.Interval),
		audit:      NewGateAudit(cfg.GateAuditPath),
		logger:     logger.With("component", "classifier"),
	}
}

// Start runs cycles until ctx is cancelled.
func (c *Classifier) Start(ctx context.Context) {
	c.logger.Info("Classifier started", "interval", c.cfg.Interval)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Classifier stopped")
			return
		case <-ticker.C:
			if err := c.RunOnce(ctx); err != nil {
				c.logger.Error("Classifier cycle failed", "error", err)
			}
		}
	}
}

// RunOnce executes one cycle. A held lease elsewhere makes the cycle a
// no-op; per-session failures never abort the rest of the batch.
func (c *Classifier) RunOnce(ctx context.Context) error {
	if err := c.lock.Acquire(); err != nil {
		if errors.Is(err, ErrLockHeld) {
			c.logger.Debug("Skipping cycle, lease held elsewhere")
			return nil
		}
		return err
	}
	defer func() {
		if err := c.lock.Release(); err != nil {
			c.logger.Warn("Failed to release classifier lease", "error", err)
		}
	}()

	sessions, err := c.store.PendingSessions(ctx, c.cfg.WindowSize)
	if err != nil {
		return err
	}
	for _, key := range sessions {
		if err := c.processSession(ctx, key); err != nil {
			c.logger.Error("Session classification failed", "session_key", key, "error", err)
		}
	}
	return nil
}

// route is the fully resolved outcome for one bundle.
type route struct {
	topic *models.Topic
	task  *models.Task
	d     *decision
	tag   string
}

func (c *Classifier) processSession(ctx context.Context, sessionKey string) error {
	window, err := c.store.SessionWindow(ctx, sessionKey, c.cfg.LookbackLogs)
	if err != nil {
		return err
	}

	pendingIdx := -1
	for i, l := range window {
		if l.Type == models.LogTypeConversation && l.ClassificationStatus == models.ClassificationPending {
			pendingIdx = i
			break
		}
	}
	if pendingIdx < 0 {
		return nil
	}

	start, end := bundleRange(window, pendingIdx)
	bundle := window[start:end]

	var pending []*models.LogEntry
	for _, l := range bundle {
		if l.ClassificationStatus != models.ClassificationPending {
			continue
		}
		if l.Type == models.LogTypeConversation || l.Type == models.LogTypeAction {
			pending = append(pending, l)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if c.allMaxedOut(pending) {
		return c.failBundle(ctx, pending, "max_attempts")
	}

	r, err := c.resolve(ctx, sessionKey, bundle)
	if err != nil {
		return err
	}
	return c.apply(ctx, sessionKey, bundle, pending, r)
}

func (c *Classifier) allMaxedOut(pending []*models.LogEntry) bool {
	for _, l := range pending {
		if l.ClassificationAttempts < c.cfg.MaxAttempts {
			return false
		}
	}
	return true
}

func (c *Classifier) failBundle(ctx context.Context, pending []*models.LogEntry, reason string) error {
	for _, l := range pending {
		status := models.ClassificationFailed
		p := &models.LogPatch{ClassificationStatus: &status, ClassificationError: &reason}
		if _, err := c.boards.Patch(ctx, l.ID, p); err != nil {
			return err
		}
	}
	return nil
}

// anchorTurn returns the user turn that carries the bundle's intent.
func anchorTurn(bundle []*models.LogEntry) string {
	for _, l := range bundle {
		if isUserTurn(l) && !isLowSignal(l.Content) {
			return l.Content
		}
	}
	for _, l := range bundle {
		if isUserTurn(l) {
			return l.Content
		}
	}
	if len(bundle) > 0 {
		return bundle[0].Content
	}
	return ""
}

func (c *Classifier) resolve(ctx context.Context, sessionKey string, bundle []*models.LogEntry) (*route, error) {
	scope := parseScope(sessionKey)
	anchor := anchorTurn(bundle)

	// Forced task scope needs no retrieval or LLM routing at all.
	if scope.taskID != "" {
		task, err := c.store.GetTask(ctx, scope.taskID)
		if err != nil {
			return nil, err
		}
		topic, err := c.store.GetTopic(ctx, scope.topicID)
		if err != nil {
			return nil, err
		}
		return &route{topic: topic, task: task}, nil
	}

	if scope.free {
		if isSmallTalk(anchor) {
			topic, err := c.boards.EnsureTopicByName(ctx, SmallTalkTopic, models.CreatedByClassifier)
			if err != nil {
				return nil, err
			}
			return &route{topic: topic}, nil
		}

		// Low-signal follow-ups continue wherever this session last went.
		if isLowSignal(anchor) {
			if r, ok := c.continuityRoute(ctx, sessionKey); ok {
				return r, nil
			}
		}
	}

	resp, err := c.searchCandidates(ctx, sessionKey, bundle)
	if err != nil {
		c.logger.Warn("Candidate retrieval failed, proceeding without", "session_key", sessionKey, "error", err)
		resp = &search.Response{}
	}
	topicCands, taskCands := c.scopedCandidates(resp, scope)

	if c.llm.Enabled() {
		d, llmErr := c.classifyLLM(ctx, sessionKey, bundle, topicCands, taskCands, scope)
		if llmErr == nil {
			return c.resolveDecision(ctx, sessionKey, scope, d, topicCands, taskCands)
		}
		c.logger.Warn("LLM classification failed, using heuristic fallback",
			"session_key", sessionKey, "error", llmErr)
		r, err := c.heuristicRoute(ctx, sessionKey, scope, topicCands, taskCands)
		if err != nil {
			return nil, err
		}
		r.tag = "fallback:llm_timeout"
		return r, nil
	}

	return c.heuristicRoute(ctx, sessionKey, scope, topicCands, taskCands)
}

func (c *Classifier) continuityRoute(ctx context.Context, sessionKey string) (*route, bool) {
	mem, err := c.store.GetRoutingMemory(ctx, sessionKey)
	if err != nil {
		return nil, false
	}
	latest := mem.Latest()
	if latest == nil {
		return nil, false
	}
	topic, err := c.store.GetTopic(ctx, latest.TopicID)
	if err != nil {
		return nil, false
	}
	r := &route{topic: topic}
	if latest.TaskID != nil {
		if task, err := c.store.GetTask(ctx, *latest.TaskID); err == nil {
			r.task = task
		}
	}
	return r, true
}

func (c *Classifier) searchCandidates(ctx context.Context, sessionKey string, bundle []*models.LogEntry) (*search.Response, error) {
	return c.searcher.Search(ctx, search.Request{
		Query:      bundleText(bundle),
		SessionKey: sessionKey,
		Limits:     search.Limits{Topics: candidateTopicLimit, Tasks: candidateTaskLimit},
	})
}

// scopedCandidates applies session scope: a forced topic restricts task
// candidates to that topic and drops topic candidates entirely.
func (c *Classifier) scopedCandidates(resp *search.Response, scope sessionScope) ([]search.TopicHit, []search.TaskHit) {
	if scope.topicID == "" {
		return resp.Topics, resp.Tasks
	}
	var tasks []search.TaskHit
	for _, hit := range resp.Tasks {
		if hit.Task.TopicID != nil && *hit.Task.TopicID == scope.topicID {
			tasks = append(tasks, hit)
		}
	}
	return nil, tasks
}

// resolveDecision turns a validated LLM verdict into concrete rows,
// applying the anti-duplicate guardrails and the creation gate.
func (c *Classifier) resolveDecision(ctx context.Context, sessionKey string, scope sessionScope, d *decision, topicCands []search.TopicHit, taskCands []search.TaskHit) (*route, error) {
	topic, err := c.resolveTopic(ctx, sessionKey, scope, d, topicCands)
	if err != nil {
		return nil, err
	}
	task := c.resolveTask(ctx, sessionKey, topic, d, taskCands)
	return &route{topic: topic, task: task, d: d}, nil
}

func (c *Classifier) resolveTopic(ctx context.Context, sessionKey string, scope sessionScope, d *decision, cands []search.TopicHit) (*models.Topic, error) {
	if scope.topicID != "" {
		return c.store.GetTopic(ctx, scope.topicID)
	}

	if d.Topic.ID != "" {
		if topic, err := c.store.GetTopic(ctx, d.Topic.ID); err == nil {
			return topic, nil
		}
		// A hallucinated id degrades to a creation proposal below.
	}

	// Near-duplicate guardrail: a strong existing candidate always wins
	// over creating a lookalike.
	if len(cands) > 0 && cands[0].Score >= c.cfg.TopicSimThreshold {
		if d.Topic.Create {
			c.auditGate(sessionKey, "topic", d.Topic.Name, false, "similar_existing", "guardrail")
		}
		return cands[0].Topic, nil
	}

	if d.Topic.Create {
		approved, reason := c.gateApproves(ctx, "topic", d.Topic.Name)
		c.auditGate(sessionKey, "topic", d.Topic.Name, approved, reason, "gate")
		if approved {
			return c.boards.CreateTopic(ctx, models.CreateTopicRequest{
				Name:      d.Topic.Name,
				CreatedBy: models.CreatedByClassifier,
			})
		}
	}

	if len(cands) > 0 {
		return cands[0].Topic, nil
	}
	return c.boards.EnsureTopicByName(ctx, inboxTopic, models.CreatedByClassifier)
}

func (c *Classifier) resolveTask(ctx context.Context, sessionKey string, topic *models.Topic, d *decision, cands []search.TaskHit) *models.Task {
	if d.Task == nil {
		return nil
	}

	if d.Task.ID != "" {
		task, err := c.store.GetTask(ctx, d.Task.ID)
		if err == nil && task.TopicID != nil && *task.TopicID == topic.ID {
			return task
		}
		// Cross-topic or unknown task ids are rejected outright.
	}

	if !d.Task.Create {
		return nil
	}
	if !taskTitleValid(d.Task.Title) {
		c.auditGate(sessionKey, "task", d.Task.Title, false, "invalid_title", "guardrail")
		return nil
	}

	// Reuse before creating: an exact title in the topic, then a strong
	// similarity candidate.
	if existing, err := c.store.GetTaskByTitle(ctx, topic.ID, d.Task.Title); err == nil {
		return existing
	}
	for _, hit := range cands {
		if hit.Score >= c.cfg.TaskSimThreshold && hit.Task.TopicID != nil && *hit.Task.TopicID == topic.ID {
			c.auditGate(sessionKey, "task", d.Task.Title, false, "similar_existing", "guardrail")
			return hit.Task
		}
	}

	approved, reason := c.gateApproves(ctx, "task", d.Task.Title)
	c.auditGate(sessionKey, "task", d.Task.Title, approved, reason, "gate")
	if !approved {
		return nil
	}
	task, err := c.boards.CreateTask(ctx, models.CreateTaskRequest{
		Title:     d.Task.Title,
		TopicID:   &topic.ID,
		CreatedBy: models.CreatedByClassifier,
	})
	if err != nil {
		c.logger.Warn("Task creation failed", "title", d.Task.Title, "error", err)
		return nil
	}
	return task
}

// heuristicRoute is the deterministic path used when the LLM is absent or
// timed out: strongest candidate, then session continuity, then Inbox.
func (c *Classifier) heuristicRoute(ctx context.Context, sessionKey string, scope sessionScope, topicCands []search.TopicHit, taskCands []search.TaskHit) (*route, error) {
	var topic *models.Topic
	if scope.topicID != "" {
		t, err := c.store.GetTopic(ctx, scope.topicID)
		if err != nil {
			return nil, err
		}
		topic = t
	} else if len(topicCands) > 0 {
		topic = topicCands[0].Topic
	} else if r, ok := c.continuityRoute(ctx, sessionKey); ok {
		return r, nil
	} else {
		t, err := c.boards.EnsureTopicByName(ctx, inboxTopic, models.CreatedByClassifier)
		if err != nil {
			return nil, err
		}
		topic = t
	}

	var task *models.Task
	for _, hit := range taskCands {
		if hit.Score >= c.cfg.TaskSimThreshold && hit.Task.TopicID != nil && *hit.Task.TopicID == topic.ID {
			task = hit.Task
			break
		}
	}
	return &route{topic: topic, task: task}, nil
}

// apply patches every pending bundle log with the resolved routing and its
// summary, then appends the routing memory entry.
func (c *Classifier) apply(ctx context.Context, sessionKey string, bundle, pending []*models.LogEntry, r *route) error {
	missing := c.missingSummaries(pending, r)
	repaired := map[string]string{}
	if len(missing) > 0 && c.llm.Enabled() && r.d != nil {
		repaired = c.repairSummaries(ctx, missing)
	}

	var taskID *string
	if r.task != nil {
		taskID = &r.task.ID
	}

	for _, l := range pending {
		summary := c.summaryFor(l, r, repaired)
		if summary == "" && l.Type == models.LogTypeConversation && r.d != nil {
			if err := c.failBundle(ctx, []*models.LogEntry{l}, "summary_missing"); err != nil {
				return err
			}
			continue
		}

		status := models.ClassificationClassified
		attempts := l.ClassificationAttempts + 1
		p := &models.LogPatch{
			ClassificationStatus:   &status,
			ClassificationAttempts: &attempts,
			ClassificationError:    &r.tag,
		}
		if summary != "" {
			p.Summary = &summary
		}
		p.SetTopicID(&r.topic.ID)
		p.SetTaskID(taskID)
		if _, err := c.boards.Patch(ctx, l.ID, p); err != nil {
			return err
		}
	}

	dec := models.RoutingDecision{
		TS:        models.NowISO(),
		TopicID:   r.topic.ID,
		TopicName: r.topic.Name,
		Anchor:    clipSummary(anchorTurn(bundle)),
	}
	if r.task != nil {
		dec.TaskID = &r.task.ID
		dec.TaskTitle = r.task.Title
	}
	if err := c.store.AppendRoutingDecision(ctx, sessionKey, dec, c.routingMax, models.NowISO()); err != nil {
		c.logger.Warn("Failed to append routing memory", "session_key", sessionKey, "error", err)
	}
	return nil
}

// missingSummaries lists conversation logs the decision left unsummarized.
func (c *Classifier) missingSummaries(pending []*models.LogEntry, r *route) []*models.LogEntry {
	if r.d == nil {
		return nil
	}
	var missing []*models.LogEntry
	for _, l := range pending {
		if l.Type == models.LogTypeConversation && r.d.summaryFor(l.ID) == "" {
			missing = append(missing, l)
		}
	}
	return missing
}

func (c *Classifier) summaryFor(l *models.LogEntry, r *route, repaired map[string]string) string {
	if r.d != nil {
		if s := r.d.summaryFor(l.ID); s != "" {
			return s
		}
		if s, ok := repaired[l.ID]; ok && s != "" {
			return clipSummary(s)
		}
		return ""
	}
	// Deterministic paths summarize by clipping the first line.
	line := l.Content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return clipSummary(line)
}
