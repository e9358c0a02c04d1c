// Package graph builds the entity graph served by the clawgraph endpoint.
// It is a pure function over a recent window of topics, tasks, and logs;
// nothing here touches the store.
package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/search"
)

// Node type base scores.
const (
	topicBaseScore  = 1.6
	taskBaseScore   = 1.1
	agentBaseScore  = 0.9
	entityBaseScore = 0.9

	pinnedBoost       = 0.4
	entityMentionStep = 0.1

	maxEntityLen = 48
	maxEdges     = 1200
)

// Node kinds.
const (
	NodeTopic  = "topic"
	NodeTask   = "task"
	NodeEntity = "entity"
	NodeAgent  = "agent"
)

// Edge kinds.
const (
	EdgeHasTask      = "has_task"
	EdgeMentions     = "mentions"
	EdgeCoOccurs     = "co_occurs"
	EdgeRelatedTopic = "related_topic"
	EdgeRelatedTask  = "related_task"
	EdgeAgentFocus   = "agent_focus"
)

// Options bounds the emitted graph.
type Options struct {
	MaxNodes      int
	MinEdgeWeight float64
}

// Node is one graph vertex.
type Node struct {
	ID    string  `json:"id"`
	Type  string  `json:"type"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
	RefID string  `json:"refId,omitempty"`
}

// Edge is one weighted relation between nodes.
type Edge struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Target string  `json:"target"`
	Type   string  `json:"type"`
	Weight float64 `json:"weight"`
}

// Stats summarizes the emitted graph.
type Stats struct {
	Topics   int `json:"topics"`
	Tasks    int `json:"tasks"`
	Entities int `json:"entities"`
	Agents   int `json:"agents"`
	Logs     int `json:"logs"`
	Edges    int `json:"edges"`
}

// Graph is the clawgraph response document.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	Stats Stats  `json:"stats"`
}

var (
	acronymRe   = regexp.MustCompile(`\b[A-Z]{2,8}\b`)
	camelRe     = regexp.MustCompile(`\b[A-Z][a-z]+(?:[A-Z][A-Za-z0-9]*)+\b`)
	titleCaseRe = regexp.MustCompile(`\b[A-Z][A-Za-z]+(?: [A-Z][A-Za-z]+)+\b`)
)

// Calendar words look like entities to the character-class heuristics but
// never are.
var entityBlocklist = map[string]struct{}{
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {}, "friday": {},
	"saturday": {}, "sunday": {},
	"january": {}, "february": {}, "march": {}, "april": {}, "may": {},
	"june": {}, "july": {}, "august": {}, "september": {}, "october": {},
	"november": {}, "december": {},
	"mon": {}, "tue": {}, "wed": {}, "thu": {}, "fri": {}, "sat": {}, "sun": {},
	"jan": {}, "feb": {}, "mar": {}, "apr": {}, "jun": {}, "jul": {},
	"aug": {}, "sep": {}, "oct": {}, "nov": {}, "dec": {},
}

// ExtractEntities pulls candidate entity names from raw text.
func ExtractEntities(text string) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(match string) {
		match = strings.TrimSpace(match)
		if match == "" || len(match) > maxEntityLen {
			return
		}
		if _, blocked := entityBlocklist[strings.ToLower(match)]; blocked {
			return
		}
		key := strings.ToLower(match)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, match)
	}

	for _, m := range titleCaseRe.FindAllString(text, -1) {
		if titleCaseAllowed(m) {
			add(m)
		}
	}
	for _, m := range camelRe.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range acronymRe.FindAllString(text, -1) {
		add(m)
	}
	return out
}

// titleCaseAllowed drops spans where any word is a calendar token.
func titleCaseAllowed(span string) bool {
	for _, w := range strings.Fields(span) {
		if _, blocked := entityBlocklist[strings.ToLower(w)]; blocked {
			return false
		}
	}
	return true
}

// logTypeWeight is the base edge weight contributed by one log.
func logTypeWeight(t models.LogType) float64 {
	switch t {
	case models.LogTypeConversation:
		return 1.0
	case models.LogTypeNote:
		return 0.8
	case models.LogTypeAction:
		return 0.5
	case models.LogTypeImport:
		return 0.4
	default:
		return 0.3
	}
}

// noteBoost scales edge weight by curated note count.
func noteBoost(notes int) float64 {
	boost := float64(notes) * 0.2
	if boost > 0.8 {
		boost = 0.8
	}
	return 1 + boost
}

// builder accumulates nodes and edge weights before filtering.
type builder struct {
	nodes map[string]*Node
	edges map[string]*Edge
}

func (b *builder) node(id, typ, label, refID string, score float64) *Node {
	if n, ok := b.nodes[id]; ok {
		if score > n.Score {
			n.Score = score
		}
		return n
	}
	n := &Node{ID: id, Type: typ, Label: label, Score: score, RefID: refID}
	b.nodes[id] = n
	return n
}

func (b *builder) edge(source, target, typ string, weight float64) {
	if source == target {
		return
	}
	// Undirected relations share one edge regardless of direction.
	a, z := source, target
	if (typ == EdgeCoOccurs || typ == EdgeRelatedTopic || typ == EdgeRelatedTask) && a > z {
		a, z = z, a
	}
	key := typ + "|" + a + "|" + z
	if e, ok := b.edges[key]; ok {
		e.Weight += weight
		return
	}
	b.edges[key] = &Edge{Source: a, Target: z, Type: typ, Weight: weight}
}

// Build assembles the graph document.
func Build(topics []*models.Topic, tasks []*models.Task, logs []*models.LogEntry, noteCounts map[string]int, opts Options) *Graph {
	b := &builder{nodes: map[string]*Node{}, edges: map[string]*Edge{}}

	topicByID := map[string]*models.Topic{}
	for _, t := range topics {
		topicByID[t.ID] = t
		score := topicBaseScore
		if t.Pinned {
			score += pinnedBoost
		}
		b.node("topic:"+t.ID, NodeTopic, t.Name, t.ID, score)
	}

	taskByID := map[string]*models.Task{}
	tasksByTopic := map[string][]*models.Task{}
	for _, t := range tasks {
		taskByID[t.ID] = t
		score := taskBaseScore + taskStatusBoost(t.Status)
		if t.Pinned {
			score += pinnedBoost
		}
		b.node("task:"+t.ID, NodeTask, t.Title, t.ID, score)
		if t.TopicID != nil {
			if _, ok := topicByID[*t.TopicID]; ok {
				b.edge("topic:"+*t.TopicID, "task:"+t.ID, EdgeHasTask, 1.0)
				tasksByTopic[*t.TopicID] = append(tasksByTopic[*t.TopicID], t)
			}
		}
	}

	// Entities from topic names participate in related_topic discovery.
	topicEntities := map[string]map[string]struct{}{}
	entityMentions := map[string]int{}
	entityLabel := map[string]string{}

	noteEntity := func(name string) string {
		key := strings.ToLower(name)
		entityMentions[key]++
		if _, ok := entityLabel[key]; !ok {
			entityLabel[key] = name
		}
		return "entity:" + key
	}

	for _, l := range logs {
		weight := logTypeWeight(l.Type) * noteBoost(noteCounts[l.ID])
		entities := ExtractEntities(search.Normalize(l.Content))
		ids := make([]string, 0, len(entities))
		for _, name := range entities {
			ids = append(ids, noteEntity(name))
		}

		var ownerID string
		if l.TaskID != nil {
			if _, ok := taskByID[*l.TaskID]; ok {
				ownerID = "task:" + *l.TaskID
			}
		}
		if ownerID == "" && l.TopicID != nil {
			if _, ok := topicByID[*l.TopicID]; ok {
				ownerID = "topic:" + *l.TopicID
			}
		}

		for i, eid := range ids {
			if ownerID != "" {
				b.edge(ownerID, eid, EdgeMentions, weight)
			}
			if l.TopicID != nil {
				set, ok := topicEntities[*l.TopicID]
				if !ok {
					set = map[string]struct{}{}
					topicEntities[*l.TopicID] = set
				}
				set[eid] = struct{}{}
			}
			for _, other := range ids[i+1:] {
				b.edge(eid, other, EdgeCoOccurs, weight*0.5)
			}
			if l.AgentID != "" {
				b.edge("agent:"+l.AgentID, eid, EdgeAgentFocus, weight*0.5)
			}
		}

		if l.AgentID != "" {
			label := l.AgentLabel
			if label == "" {
				label = l.AgentID
			}
			b.node("agent:"+l.AgentID, NodeAgent, label, l.AgentID, agentBaseScore)
		}
	}

	for key, label := range entityLabel {
		b.node("entity:"+key, NodeEntity, label, "",
			entityBaseScore+entityMentionStep*float64(entityMentions[key]))
	}

	// related_topic: shared entities plus lexical name overlap.
	for i, a := range topics {
		aTokens := search.TokenSet(a.Name)
		for _, z := range topics[i+1:] {
			shared := sharedCount(topicEntities[a.ID], topicEntities[z.ID])
			overlap := search.Jaccard(aTokens, search.TokenSet(z.Name))
			w := float64(shared)*0.3 + overlap
			if w > 0.2 {
				b.edge("topic:"+a.ID, "topic:"+z.ID, EdgeRelatedTopic, w)
			}
		}
	}

	// related_task: siblings under one topic.
	for _, siblings := range tasksByTopic {
		for i, a := range siblings {
			for _, z := range siblings[i+1:] {
				b.edge("task:"+a.ID, "task:"+z.ID, EdgeRelatedTask, 0.4)
			}
		}
	}

	return b.finish(len(logs), opts)
}

func taskStatusBoost(s models.TaskStatus) float64 {
	switch s {
	case models.TaskDoing:
		return 0.3
	case models.TaskBlocked:
		return 0.2
	case models.TaskDone:
		return -0.2
	default:
		return 0
	}
}

func sharedCount(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

// finish applies node/edge limits and assigns deterministic edge ids.
func (b *builder) finish(logCount int, opts Options) *Graph {
	structural := make([]*Node, 0, len(b.nodes))
	entities := make([]*Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		if n.Type == NodeEntity {
			entities = append(entities, n)
		} else {
			structural = append(structural, n)
		}
	}
	sortNodes(structural)
	sortNodes(entities)

	kept := structural
	if opts.MaxNodes > 0 && len(kept) < opts.MaxNodes {
		room := opts.MaxNodes - len(kept)
		if room > len(entities) {
			room = len(entities)
		}
		kept = append(kept, entities[:room]...)
	} else if opts.MaxNodes <= 0 {
		kept = append(kept, entities...)
	}

	keptIDs := make(map[string]struct{}, len(kept))
	for _, n := range kept {
		keptIDs[n.ID] = struct{}{}
	}

	edges := make([]*Edge, 0, len(b.edges))
	for _, e := range b.edges {
		if _, ok := keptIDs[e.Source]; !ok {
			continue
		}
		if _, ok := keptIDs[e.Target]; !ok {
			continue
		}
		if e.Type != EdgeHasTask && e.Weight < opts.MinEdgeWeight {
			continue
		}
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Weight != edges[j].Weight {
			return edges[i].Weight > edges[j].Weight
		}
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	if len(edges) > maxEdges {
		edges = edges[:maxEdges]
	}

	g := &Graph{Nodes: make([]Node, 0, len(kept)), Edges: make([]Edge, 0, len(edges))}
	for _, n := range kept {
		g.Nodes = append(g.Nodes, *n)
		switch n.Type {
		case NodeTopic:
			g.Stats.Topics++
		case NodeTask:
			g.Stats.Tasks++
		case NodeEntity:
			g.Stats.Entities++
		case NodeAgent:
			g.Stats.Agents++
		}
	}
	for i, e := range edges {
		e.ID = fmt.Sprintf("edge-%d", i+1)
		g.Edges = append(g.Edges, *e)
	}
	g.Stats.Logs = logCount
	g.Stats.Edges = len(g.Edges)
	return g
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Score != nodes[j].Score {
			return nodes[i].Score > nodes[j].Score
		}
		return nodes[i].ID < nodes[j].ID
	})
}
