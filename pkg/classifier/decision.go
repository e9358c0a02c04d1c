package classifier

import (
	"encoding/json"
	"fmt"
	"strings"
)

// topicChoice is the classifier's topic verdict: reuse by id or create by
// name.
type topicChoice struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Create bool   `json:"create"`
}

// taskChoice is the optional task verdict.
type taskChoice struct {
	ID     string `json:"id,omitempty"`
	Title  string `json:"title,omitempty"`
	Create bool   `json:"create"`
}

// logSummary pairs a bundle log id with its produced one-liner.
type logSummary struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

// decision is the validated shape of one classification response.
type decision struct {
	Topic     topicChoice  `json:"topic"`
	Task      *taskChoice  `json:"task"`
	Summaries []logSummary `json:"summaries"`
}

// maxSummaryLen bounds per-log summaries.
const maxSummaryLen = 56

// parseDecision decodes and validates one LLM response body. Code fences
// are tolerated; everything else is strict.
func parseDecision(raw string) (*decision, error) {
	raw = stripFences(raw)

	var d decision
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *decision) validate() error {
	if d.Topic.ID == "" && !d.Topic.Create {
		return fmt.Errorf("topic must carry an id or create=true")
	}
	if d.Topic.Create && strings.TrimSpace(d.Topic.Name) == "" {
		return fmt.Errorf("topic creation requires a name")
	}
	if d.Task != nil {
		if d.Task.ID == "" && !d.Task.Create {
			return fmt.Errorf("task must carry an id or create=true")
		}
		if d.Task.Create && strings.TrimSpace(d.Task.Title) == "" {
			return fmt.Errorf("task creation requires a title")
		}
	}
	for i, s := range d.Summaries {
		if s.ID == "" {
			return fmt.Errorf("summaries[%d] is missing a log id", i)
		}
	}
	return nil
}

// summaryFor returns the clipped summary for a log id, or "".
func (d *decision) summaryFor(logID string) string {
	for _, s := range d.Summaries {
		if s.ID == logID {
			return clipSummary(s.Summary)
		}
	}
	return ""
}

// clipSummary trims and bounds a summary to maxSummaryLen runes.
func clipSummary(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= maxSummaryLen {
		return s
	}
	return strings.TrimSpace(string(runes[:maxSummaryLen-1])) + "…"
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(raw, "```")
	}
	return strings.TrimSpace(raw)
}
