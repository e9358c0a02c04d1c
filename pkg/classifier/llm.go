package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clawboard/clawboard/pkg/llm"
	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/search"
)

const classifySystemPrompt = `You are a routing classifier for an agent activity board.
Given a conversation bundle and candidate topics and tasks, decide where the bundle belongs.
Prefer reusing an existing topic or task over creating a new one.
Respond with JSON only, exactly this shape:
{"topic":{"id":"<existing id or empty>","name":"<topic name>","create":<bool>},
 "task":{"id":"<existing id or empty>","title":"<task title>","create":<bool>} or null,
 "summaries":[{"id":"<log id>","summary":"<at most 56 characters>"}]}
Every conversation log in the bundle must appear in summaries.`

const gateSystemPrompt = `You decide whether a proposed new board item should really be created.
Reject names that are vague, generic, or likely duplicates of common buckets.
Respond with JSON only: {"approve":<bool>,"reason":"<short reason>"}.`

const summarySystemPrompt = `Summarize each log in at most 56 characters.
Respond with JSON only: {"summaries":[{"id":"<log id>","summary":"<text>"}]}.`

// classifyLLM runs the main classification call with one schema-repair
// retry.
func (c *Classifier) classifyLLM(ctx context.Context, sessionKey string, bundle []*models.LogEntry, topicCands []search.TopicHit, taskCands []search.TaskHit, scope sessionScope) (*decision, error) {
	prompt := c.buildClassifyPrompt(ctx, sessionKey, bundle, topicCands, taskCands, scope)

	raw, err := c.llm.CompleteJSON(ctx, classifySystemPrompt, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return nil, err
	}
	d, parseErr := parseDecision(raw)
	if parseErr == nil {
		return d, nil
	}

	// One repair round: feed the invalid output and the reason back.
	repairMsgs := []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
		{Role: llm.RoleAssistant, Content: raw},
		{Role: llm.RoleUser, Content: fmt.Sprintf("That response was invalid (%v). Reply again with only the required JSON object.", parseErr)},
	}
	raw, err = c.llm.CompleteJSON(ctx, classifySystemPrompt, repairMsgs)
	if err != nil {
		return nil, err
	}
	return parseDecision(raw)
}

func (c *Classifier) buildClassifyPrompt(ctx context.Context, sessionKey string, bundle []*models.LogEntry, topicCands []search.TopicHit, taskCands []search.TaskHit, scope sessionScope) string {
	var b strings.Builder

	if scope.topicID != "" {
		fmt.Fprintf(&b, "The session is pinned to topic %s; only choose tasks within it.\n\n", scope.topicID)
	}

	b.WriteString("Bundle logs:\n")
	for _, l := range bundle {
		role := "user"
		if l.AgentID != "" {
			role = "assistant"
		}
		if l.Type == models.LogTypeAction {
			role = "tool"
		}
		fmt.Fprintf(&b, "- id=%s role=%s: %s\n", l.ID, role, clipPrompt(l.Content, 400))
	}

	if len(topicCands) > 0 {
		b.WriteString("\nCandidate topics:\n")
		for _, hit := range topicCands {
			fmt.Fprintf(&b, "- id=%s name=%q score=%.2f\n", hit.Topic.ID, hit.Topic.Name, hit.Score)
		}
	}
	if len(taskCands) > 0 {
		b.WriteString("\nCandidate tasks:\n")
		for _, hit := range taskCands {
			topicID := ""
			if hit.Task.TopicID != nil {
				topicID = *hit.Task.TopicID
			}
			fmt.Fprintf(&b, "- id=%s topic=%s title=%q score=%.2f\n", hit.Task.ID, topicID, hit.Task.Title, hit.Score)
		}
	}

	if mem, err := c.store.GetRoutingMemory(ctx, sessionKey); err == nil && len(mem.Decisions) > 0 {
		b.WriteString("\nRecent routing for this session (newest last):\n")
		for _, d := range mem.Decisions {
			fmt.Fprintf(&b, "- topic=%q task=%q anchor=%q\n", d.TopicName, d.TaskTitle, d.Anchor)
		}
		if latest := mem.Latest(); latest != nil {
			fmt.Fprintf(&b, "\nIf the bundle continues the same thread, keep topic id %s.\n", latest.TopicID)
		}
	}
	return b.String()
}

// gateApproves runs the creation gate: an LLM verdict when available, a
// permissive heuristic otherwise.
func (c *Classifier) gateApproves(ctx context.Context, kind, name string) (bool, string) {
	if !c.llm.Enabled() {
		return c.gateHeuristic(kind, name)
	}

	prompt := fmt.Sprintf("Proposed new %s: %q. Should it be created?", kind, name)
	raw, err := c.llm.CompleteJSON(ctx, gateSystemPrompt, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return c.gateHeuristic(kind, name)
	}

	var verdict struct {
		Approve bool   `json:"approve"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &verdict); err != nil {
		return c.gateHeuristic(kind, name)
	}
	return verdict.Approve, verdict.Reason
}

func (c *Classifier) gateHeuristic(kind, name string) (bool, string) {
	name = strings.TrimSpace(name)
	if kind == "task" {
		if taskTitleValid(name) {
			return true, "heuristic"
		}
		return false, "invalid_title"
	}
	if name == "" || genericTitles[strings.ToLower(name)] {
		return false, "generic_name"
	}
	return true, "heuristic"
}

func (c *Classifier) auditGate(sessionKey, kind, name string, approved bool, reason, source string) {
	entry := gateAuditEntry{
		TS:         models.NowISO(),
		SessionKey: sessionKey,
		Kind:       kind,
		Name:       name,
		Approved:   approved,
		Reason:     reason,
		Source:     source,
	}
	if err := c.audit.Append(entry); err != nil {
		c.logger.Warn("Failed to append gate audit entry", "error", err)
	}
}

// repairSummaries makes the one-shot repair call for logs the main response
// left unsummarized.
func (c *Classifier) repairSummaries(ctx context.Context, missing []*models.LogEntry) map[string]string {
	var b strings.Builder
	b.WriteString("Logs needing summaries:\n")
	for _, l := range missing {
		fmt.Fprintf(&b, "- id=%s: %s\n", l.ID, clipPrompt(l.Content, 400))
	}

	raw, err := c.llm.CompleteJSON(ctx, summarySystemPrompt, []llm.Message{{Role: llm.RoleUser, Content: b.String()}})
	if err != nil {
		return nil
	}

	var out struct {
		Summaries []logSummary `json:"summaries"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return nil
	}
	repaired := make(map[string]string, len(out.Summaries))
	for _, s := range out.Summaries {
		repaired[s.ID] = s.Summary
	}
	return repaired
}

func clipPrompt(s string, n int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
