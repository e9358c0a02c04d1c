package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/vector"
)

// Score shaping constants. Propagation is capped so a pile of weak log hits
// cannot outrank a direct topic match.
const (
	logTopicPropCap    = 0.18
	logTopicPropFactor = 0.22
	logTaskPropCap     = 0.20
	logTaskPropFactor  = 0.25

	noteWeightCap     = 0.24
	noteWeightPerNote = 0.06

	topicSessionBoost = 0.12
	taskSessionBoost  = 0.10
	logSessionBoost   = 0.08

	directNameBoost = 0.10

	vectorBlendWeight  = 0.72
	lexicalBlendWeight = 0.28

	candidateLogWindow = 400
	notesPerLog        = 3
	maxNotesTotal      = 30
)

// Rows supplies the candidate row sets. *store.Store satisfies it.
type Rows interface {
	ListTopics(ctx context.Context, spaceIDs []string) ([]*models.Topic, error)
	ListTasks(ctx context.Context, topicID string, spaceIDs []string) ([]*models.Task, error)
	RecentLogs(ctx context.Context, limit int) ([]*models.LogEntry, error)
	NoteCounts(ctx context.Context) (map[string]int, error)
	NotesForLog(ctx context.Context, logID string, limit int) ([]*models.LogEntry, error)
}

// Embedder turns the query into a vector. May be nil.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index answers nearest-neighbour queries. *vector.Index satisfies it.
type Index interface {
	TopK(ctx context.Context, kind, scope string, query []float32, k int) ([]vector.Match, error)
}

// Reranker rescores fused candidates. Optional.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]float64, error)
}

// Limits caps results per namespace.
type Limits struct {
	Topics int `json:"topics"`
	Tasks  int `json:"tasks"`
	Logs   int `json:"logs"`
}

// DefaultLimits is used when the request leaves limits unset.
func DefaultLimits() Limits { return Limits{Topics: 8, Tasks: 10, Logs: 20} }

func (l Limits) halved() Limits {
	h := func(n int) int {
		if n <= 1 {
			return 1
		}
		return n / 2
	}
	return Limits{Topics: h(l.Topics), Tasks: h(l.Tasks), Logs: h(l.Logs)}
}

// Options tunes the service.
type Options struct {
	GateWait    time.Duration
	RerankBlend float64
}

// Service executes hybrid searches.
type Service struct {
	rows     Rows
	index    Index
	embedder Embedder
	reranker Reranker
	gate     *Gate
	opts     Options
}

// New wires a search service. index, embedder, and reranker may be nil; the
// service degrades to pure lexical scoring.
func New(rows Rows, index Index, embedder Embedder, reranker Reranker, opts Options) *Service {
	if opts.GateWait <= 0 {
		opts.GateWait = 150 * time.Millisecond
	}
	return &Service{
		rows:     rows,
		index:    index,
		embedder: embedder,
		reranker: reranker,
		gate:     NewGate(),
		opts:     opts,
	}
}

// Request is one search invocation.
type Request struct {
	Query           string
	SessionKey      string
	AllowedSpaceIDs []string
	Limits          Limits
	IncludeNotes    bool
}

// Explain carries the per-candidate score breakdown.
type Explain struct {
	VectorScore           float64 `json:"vectorScore,omitempty"`
	BM25Score             float64 `json:"bm25Score,omitempty"`
	LexicalScore          float64 `json:"lexicalScore,omitempty"`
	RRFScore              float64 `json:"rrfScore,omitempty"`
	RerankScore           float64 `json:"rerankScore,omitempty"`
	NoteWeight            float64 `json:"noteWeight,omitempty"`
	SessionBoosted        bool    `json:"sessionBoosted,omitempty"`
	DirectMatchBoost      float64 `json:"directMatchBoost,omitempty"`
	LogPropagationWeight  float64 `json:"logPropagationWeight,omitempty"`
	TaskPropagationWeight float64 `json:"taskPropagationWeight,omitempty"`
	BestChunk             string  `json:"bestChunk,omitempty"`
}

// TopicHit, TaskHit, LogHit pair a row with its score and explain block.
type TopicHit struct {
	Topic   *models.Topic `json:"topic"`
	Score   float64       `json:"score"`
	Explain Explain       `json:"explain"`
}

type TaskHit struct {
	Task    *models.Task `json:"task"`
	Score   float64      `json:"score"`
	Explain Explain      `json:"explain"`
}

type LogHit struct {
	Log     *models.LogEntry `json:"log"`
	Score   float64          `json:"score"`
	Explain Explain          `json:"explain"`
}

// Meta is the diagnostics block attached to every response.
type Meta struct {
	DurationMs      int64  `json:"durationMs"`
	GateWaitMs      int64  `json:"gateWaitMs"`
	EffectiveLimits Limits `json:"effectiveLimits"`
	QueryTokenCount int    `json:"queryTokenCount"`
	Degraded        bool   `json:"degraded"`
}

// Response is the full search result.
type Response struct {
	Mode   string             `json:"mode"`
	Topics []TopicHit         `json:"topics"`
	Tasks  []TaskHit          `json:"tasks"`
	Logs   []LogHit           `json:"logs"`
	Notes  []*models.LogEntry `json:"notes,omitempty"`
	Meta   Meta               `json:"meta"`
}

// candidate accumulates the scoring state for one row.
type candidate struct {
	text      string
	vector    float64
	bm25      float64
	lexical   float64
	rrf       float64
	rerank    float64
	reranked  bool
	bestChunk string

	noteWeight float64
	session    bool
	direct     float64
	logProp    float64
	taskProp   float64

	score float64
}

func (c *candidate) explain() Explain {
	return Explain{
		VectorScore:           c.vector,
		BM25Score:             c.bm25,
		LexicalScore:          c.lexical,
		RRFScore:              c.rrf,
		RerankScore:           c.rerank,
		NoteWeight:            c.noteWeight,
		SessionBoosted:        c.session,
		DirectMatchBoost:      c.direct,
		LogPropagationWeight:  c.logProp,
		TaskPropagationWeight: c.taskProp,
		BestChunk:             c.bestChunk,
	}
}

// Search runs the full pipeline.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	limits := req.Limits
	if limits.Topics <= 0 && limits.Tasks <= 0 && limits.Logs <= 0 {
		limits = DefaultLimits()
	}

	query := strings.TrimSpace(req.Query)
	if len([]rune(query)) < 2 {
		return &Response{
			Mode:   "empty",
			Topics: []TopicHit{}, Tasks: []TaskHit{}, Logs: []LogHit{},
			Meta: Meta{DurationMs: time.Since(start).Milliseconds(), EffectiveLimits: limits},
		}, nil
	}

	gateStart := time.Now()
	release, admitted := s.gate.Acquire(s.opts.GateWait)
	defer release()
	gateWait := time.Since(gateStart)

	degraded := !admitted
	logWindow := candidateLogWindow
	if degraded {
		limits = limits.halved()
		logWindow /= 2
	}

	queryTokens := Tokenize(query)
	querySet := TokenSet(query)

	mode := "lexical"
	var qvec []float32
	if s.embedder != nil && s.index != nil {
		if vecs, err := s.embedder.Embed(ctx, []string{query}); err == nil && len(vecs) == 1 && len(vecs[0]) > 0 {
			qvec = vecs[0]
			mode = "hybrid"
		}
	}

	topics, err := s.rows.ListTopics(ctx, req.AllowedSpaceIDs)
	if err != nil {
		return nil, err
	}
	tasks, err := s.rows.ListTasks(ctx, "", req.AllowedSpaceIDs)
	if err != nil {
		return nil, err
	}
	logs, err := s.rows.RecentLogs(ctx, logWindow)
	if err != nil {
		return nil, err
	}
	logs = filterLogsBySpace(logs, req.AllowedSpaceIDs)
	noteCounts, err := s.rows.NoteCounts(ctx)
	if err != nil {
		return nil, err
	}

	topicByID := make(map[string]*models.Topic, len(topics))
	topicTexts := make([]string, len(topics))
	topicIDs := make([]string, len(topics))
	for i, t := range topics {
		topicByID[t.ID] = t
		topicIDs[i] = t.ID
		topicTexts[i] = topicSearchText(t)
	}

	taskByID := make(map[string]*models.Task, len(tasks))
	taskTexts := make([]string, len(tasks))
	taskIDs := make([]string, len(tasks))
	for i, t := range tasks {
		taskByID[t.ID] = t
		taskIDs[i] = t.ID
		taskTexts[i] = taskSearchText(t)
	}

	logByID := make(map[string]*models.LogEntry, len(logs))
	logTexts := make([]string, len(logs))
	logIDs := make([]string, len(logs))
	for i, l := range logs {
		logByID[l.ID] = l
		logIDs[i] = l.ID
		logTexts[i] = logSearchText(l)
	}

	topicScores := s.scoreNamespace(ctx, vector.KindTopic, topicIDs, topicTexts, queryTokens, querySet, qvec, 2*limits.Topics)
	taskScores := s.scoreNamespace(ctx, vector.KindTask, taskIDs, taskTexts, queryTokens, querySet, qvec, 2*limits.Tasks)
	logScores := s.scoreNamespace(ctx, vector.KindLog, logIDs, logTexts, queryTokens, querySet, qvec, 2*limits.Logs)

	s.applyRerank(ctx, query, limits.Topics, topicScores)
	s.applyRerank(ctx, query, limits.Tasks, taskScores)
	s.applyRerank(ctx, query, limits.Logs, logScores)

	// Direct name matches.
	lowerQuery := strings.ToLower(query)
	for id, c := range topicScores {
		if strings.Contains(strings.ToLower(topicByID[id].Name), lowerQuery) {
			c.direct = directNameBoost
		}
	}
	for id, c := range taskScores {
		if strings.Contains(strings.ToLower(taskByID[id].Title), lowerQuery) {
			c.direct = directNameBoost
		}
	}

	// Note weighting on logs.
	for id, c := range logScores {
		if n := noteCounts[id]; n > 0 {
			c.noteWeight = capped(noteWeightPerNote*float64(n), noteWeightCap)
		}
	}

	// Session boosts.
	sessionTopics := map[string]struct{}{}
	sessionTasks := map[string]struct{}{}
	if req.SessionKey != "" {
		for _, l := range logs {
			if !sessionMatches(req.SessionKey, l.SessionKey()) {
				continue
			}
			if c, ok := logScores[l.ID]; ok {
				c.session = true
			}
			if l.TopicID != nil {
				sessionTopics[*l.TopicID] = struct{}{}
			}
			if l.TaskID != nil {
				sessionTasks[*l.TaskID] = struct{}{}
			}
		}
	}

	// Base scores before propagation.
	for _, c := range logScores {
		c.score = c.finalBase() + c.noteWeight
		if c.session {
			c.score += logSessionBoost
		}
	}

	// Log → parent propagation, note weight included and capped.
	ensure := func(m map[string]*candidate, id, text string) *candidate {
		c, ok := m[id]
		if !ok {
			c = &candidate{text: text}
			m[id] = c
		}
		return c
	}
	for id, lc := range logScores {
		l := logByID[id]
		if lc.score <= 0 {
			continue
		}
		if l.TopicID != nil {
			if t, ok := topicByID[*l.TopicID]; ok {
				tc := ensure(topicScores, t.ID, topicSearchText(t))
				if w := capped(lc.score*logTopicPropFactor, logTopicPropCap); w > tc.logProp {
					tc.logProp = w
				}
			}
		}
		if l.TaskID != nil {
			if t, ok := taskByID[*l.TaskID]; ok {
				tc := ensure(taskScores, t.ID, taskSearchText(t))
				if w := capped(lc.score*logTaskPropFactor, logTaskPropCap); w > tc.logProp {
					tc.logProp = w
				}
			}
		}
	}

	// Task base scores plus task → topic propagation. Vector-only task hits
	// do not pull their topic in; multi-token queries need a lexical anchor.
	for id, tc := range taskScores {
		tc.score = tc.finalBase() + tc.logProp
		if _, ok := sessionTasks[id]; ok {
			tc.session = true
			tc.score += taskSessionBoost
		}
		tc.score += tc.direct

		task := taskByID[id]
		if task == nil || task.TopicID == nil || tc.score <= 0 {
			continue
		}
		if len(queryTokens) > 1 && tc.bm25 == 0 && tc.lexical == 0 {
			continue
		}
		if t, ok := topicByID[*task.TopicID]; ok {
			pc := ensure(topicScores, t.ID, topicSearchText(t))
			if w := capped(tc.score*logTopicPropFactor, logTopicPropCap); w > pc.taskProp {
				pc.taskProp = w
			}
		}
	}

	for id, c := range topicScores {
		c.score = c.finalBase() + c.logProp + c.taskProp + c.direct
		if _, ok := sessionTopics[id]; ok {
			c.session = true
			c.score += topicSessionBoost
		}
	}

	resp := &Response{Mode: mode}
	for _, id := range topCandidates(topicScores, limits.Topics) {
		c := topicScores[id]
		resp.Topics = append(resp.Topics, TopicHit{Topic: topicByID[id], Score: c.score, Explain: c.explain()})
	}
	for _, id := range topCandidates(taskScores, limits.Tasks) {
		c := taskScores[id]
		resp.Tasks = append(resp.Tasks, TaskHit{Task: taskByID[id], Score: c.score, Explain: c.explain()})
	}
	for _, id := range topCandidates(logScores, limits.Logs) {
		c := logScores[id]
		resp.Logs = append(resp.Logs, LogHit{Log: logByID[id], Score: c.score, Explain: c.explain()})
	}

	if req.IncludeNotes {
		for _, hit := range resp.Logs {
			if len(resp.Notes) >= maxNotesTotal {
				break
			}
			notes, err := s.rows.NotesForLog(ctx, hit.Log.ID, notesPerLog)
			if err != nil {
				return nil, err
			}
			for _, n := range notes {
				if len(resp.Notes) >= maxNotesTotal {
					break
				}
				resp.Notes = append(resp.Notes, n)
			}
		}
	}

	if degraded {
		resp.Mode += "+busy-fallback"
	}
	resp.Meta = Meta{
		DurationMs:      time.Since(start).Milliseconds(),
		GateWaitMs:      gateWait.Milliseconds(),
		EffectiveLimits: limits,
		QueryTokenCount: len(queryTokens),
		Degraded:        degraded,
	}
	return resp, nil
}

// finalBase is the fused relevance before boosts: the rerank blend when a
// reranker scored this candidate, plain RRF otherwise.
func (c *candidate) finalBase() float64 {
	if !c.reranked {
		return c.rrf
	}
	return c.rerank
}

// scoreNamespace computes lexical, BM25, and vector scores for one
// namespace and fuses them with RRF.
func (s *Service) scoreNamespace(ctx context.Context, kind string, ids, texts []string, queryTokens []string, querySet map[string]struct{}, qvec []float32, poolK int) map[string]*candidate {
	out := map[string]*candidate{}
	if len(ids) == 0 {
		return out
	}
	if poolK < 1 {
		poolK = 1
	}

	corpus := newBM25Corpus(texts)
	lexical := map[string]float64{}
	bm25 := map[string]float64{}
	for i, id := range ids {
		c := &candidate{text: texts[i]}
		c.lexical = Jaccard(querySet, TokenSet(texts[i]))
		c.bm25 = corpus.score(queryTokens, i)
		if c.bm25 > 0 || c.lexical > 0 {
			c.bestChunk = bestChunk(texts[i], queryTokens)
		}
		lexical[id] = c.lexical
		bm25[id] = c.bm25
		out[id] = c
	}

	vecScores := map[string]float64{}
	if len(qvec) > 0 && s.index != nil {
		matches, err := s.index.TopK(ctx, kind, "", qvec, poolK)
		if err == nil {
			for _, m := range matches {
				if c, ok := out[m.ID]; ok {
					c.vector = m.Score
					vecScores[m.ID] = m.Score
				}
			}
		}
	}

	fused := rrfFuse(rankIDs(vecScores), rankIDs(bm25), rankIDs(lexical))
	for id, c := range out {
		c.rrf = fused[id]
	}
	return out
}

// applyRerank rescores the top fused candidates and blends the reranker's
// opinion with the vector/lexical base per the configured coefficient.
func (s *Service) applyRerank(ctx context.Context, query string, limit int, scores map[string]*candidate) {
	if s.reranker == nil || len(scores) == 0 {
		return
	}
	pool := topCandidates(scores, 2*limit)
	if len(pool) == 0 {
		return
	}
	docs := make([]string, len(pool))
	for i, id := range pool {
		docs[i] = scores[id].text
	}
	reranked, err := s.reranker.Rerank(ctx, query, docs)
	if err != nil || len(reranked) != len(pool) {
		return
	}
	blend := s.opts.RerankBlend
	for i, id := range pool {
		c := scores[id]
		base := vectorBlendWeight*c.vector + lexicalBlendWeight*minF(c.lexical+c.bm25, 1)
		c.rerank = (1-blend)*base + blend*reranked[i]
		c.reranked = true
	}
}

// topCandidates orders ids by current score descending. Before final
// scoring it orders by fused base.
func topCandidates(scores map[string]*candidate, limit int) []string {
	ids := make([]string, 0, len(scores))
	for id, c := range scores {
		if c.score > 0 || c.finalBase() > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := scores[ids[i]], scores[ids[j]]
		sa, sb := a.score, b.score
		if sa == 0 && sb == 0 {
			sa, sb = a.finalBase(), b.finalBase()
		}
		if sa != sb {
			return sa > sb
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

func topicSearchText(t *models.Topic) string {
	parts := []string{t.Name, t.Description, strings.Join(t.Tags, " "), t.Digest}
	return Normalize(strings.Join(parts, " "))
}

func taskSearchText(t *models.Task) string {
	return Normalize(t.Title + " " + strings.Join(t.Tags, " "))
}

func logSearchText(l *models.LogEntry) string {
	text := l.Content
	if l.Summary != "" {
		text = l.Summary + " " + text
	}
	return Normalize(text)
}

func filterLogsBySpace(logs []*models.LogEntry, allowed []string) []*models.LogEntry {
	if len(allowed) == 0 {
		return logs
	}
	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}
	out := logs[:0]
	for _, l := range logs {
		if _, ok := set[l.SpaceID]; ok {
			out = append(out, l)
		}
	}
	return out
}

func capped(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
