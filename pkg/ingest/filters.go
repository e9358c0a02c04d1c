package ingest

import (
	"strings"

	"github.com/clawboard/clawboard/pkg/models"
)

// filterOutcome is the terminal classification a filter assigns at append
// time. A nil outcome means the entry proceeds to the classifier.
type filterOutcome struct {
	status models.ClassificationStatus
	reason string
	detach bool
}

var cronMarkers = []string{"[cron]", "cron:", "scheduled run", "timer fired"}

var heartbeatMarkers = []string{"heartbeat", "keepalive", "health check ok"}

var scaffoldMarkers = []string{
	"you are a subagent",
	"subagent briefing",
	"## subagent instructions",
	"system prompt:",
}

// applyFilters inspects a fully-routed entry and decides whether it is
// terminal at ingest time. Tool traces with board scope stay routed but are
// marked classified so the classifier skips them; unscoped channel-session
// traces stay pending for later bundle scoping.
func applyFilters(l *models.LogEntry) *filterOutcome {
	content := strings.ToLower(strings.TrimSpace(l.Content))
	sessionKey := l.SessionKey()
	channel := ""
	if l.Source != nil {
		channel = strings.ToLower(l.Source.Channel)
	}

	if l.Type == models.LogTypeConversation {
		if isCronEvent(content, channel, sessionKey) {
			return &filterOutcome{models.ClassificationFailed, models.FilterCronEvent, true}
		}
		if isControlPlane(content, sessionKey) {
			return &filterOutcome{models.ClassificationFailed, models.FilterControlPlane, true}
		}
		if isSubagentScaffold(content, sessionKey) {
			return &filterOutcome{models.ClassificationFailed, models.FilterSubagentScaffold, true}
		}
	}

	if l.Type == models.LogTypeAction {
		if l.TopicID != nil || l.TaskID != nil || hasBoardScope(l.Source) {
			return &filterOutcome{models.ClassificationClassified, models.FilterToolActivity, false}
		}
		if strings.HasPrefix(sessionKey, "channel:") {
			// Deferred: the classifier labels these as part of a bundle.
			return nil
		}
		return &filterOutcome{models.ClassificationFailed, models.FilterUnanchoredToolActivity, true}
	}

	return nil
}

func isCronEvent(content, channel, sessionKey string) bool {
	if channel == "cron" || strings.HasPrefix(sessionKey, "cron:") {
		return true
	}
	for _, m := range cronMarkers {
		if strings.HasPrefix(content, m) {
			return true
		}
	}
	return false
}

func isControlPlane(content, sessionKey string) bool {
	if !strings.HasPrefix(sessionKey, "agent:main") {
		return false
	}
	for _, m := range heartbeatMarkers {
		if strings.HasPrefix(content, m) {
			return true
		}
	}
	return false
}

func isSubagentScaffold(content, sessionKey string) bool {
	if !strings.HasPrefix(sessionKey, "agent:") {
		return false
	}
	for _, m := range scaffoldMarkers {
		if strings.HasPrefix(content, m) {
			return true
		}
	}
	return false
}

func hasBoardScope(src *models.LogSource) bool {
	return src != nil && (src.BoardTopicID != "" || src.BoardTaskID != "")
}

// indexable reports whether an entry belongs in the vector index. System
// noise and tool traces only pollute retrieval.
func indexable(l *models.LogEntry) bool {
	switch l.Type {
	case models.LogTypeConversation, models.LogTypeNote:
		return true
	default:
		return false
	}
}
