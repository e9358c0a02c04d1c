package classifier

import (
	"regexp"
	"strings"

	"github.com/clawboard/clawboard/pkg/models"
)

// isUserTurn reports whether a conversation log was authored by a human.
// Agent-authored entries carry an agent id.
func isUserTurn(l *models.LogEntry) bool {
	return l.Type == models.LogTypeConversation && l.AgentID == ""
}

func isAssistantTurn(l *models.LogEntry) bool {
	return l.Type == models.LogTypeConversation && l.AgentID != ""
}

var affirmations = map[string]bool{
	"yes": true, "yeah": true, "yep": true, "yup": true, "no": true,
	"nope": true, "ok": true, "okay": true, "k": true, "sure": true,
	"thanks": true, "thank you": true, "got it": true, "great": true,
	"perfect": true, "cool": true, "nice": true, "sounds good": true,
	"go ahead": true, "do it": true, "please do": true, "continue": true,
	"and then": true, "what about that": true, "same": true,
}

// isLowSignal reports whether a user turn carries no routable intent on its
// own (affirmations, single words, generic follow-up phrases).
func isLowSignal(content string) bool {
	text := strings.ToLower(strings.TrimSpace(content))
	text = strings.Trim(text, ".!?,")
	if text == "" {
		return true
	}
	if affirmations[text] {
		return true
	}
	return len(strings.Fields(text)) == 1
}

var greetings = []string{
	"hi", "hiya", "hello", "hey", "yo", "howdy", "good morning",
	"good afternoon", "good evening", "good night", "how are you",
	"how's it going", "what's up", "sup", "greetings",
}

// isSmallTalk reports whether a user turn is a greeting or chit-chat that
// should route to the stable Small Talk topic without an LLM call.
func isSmallTalk(content string) bool {
	text := strings.ToLower(strings.TrimSpace(content))
	text = strings.Trim(text, ".!?,")
	if text == "" || len(strings.Fields(text)) > 6 {
		return false
	}
	for _, g := range greetings {
		if text == g || strings.HasPrefix(text, g+" ") || strings.HasPrefix(text, g+",") {
			return true
		}
	}
	return false
}

// bundleRange returns the half-open [start, end) window of the bundle
// anchored at the oldest pending conversation in window. A bundle is one
// user-intent turn, any user turns immediately preceding it, and the
// assistant turns and tool traces that follow until the next fresh user
// intent.
func bundleRange(window []*models.LogEntry, pendingIdx int) (int, int) {
	if pendingIdx < 0 || pendingIdx >= len(window) {
		return 0, 0
	}

	// Backtrack to the user turn that carries the intent. Assistant turns
	// and low-signal follow-ups anchor on the prior substantive user turn.
	anchor := pendingIdx
	for anchor > 0 {
		l := window[anchor]
		if isUserTurn(l) && !isLowSignal(l.Content) {
			break
		}
		anchor--
	}

	// Consecutive user turns before any assistant reply share the bundle.
	start := anchor
	for start > 0 && isUserTurn(window[start-1]) {
		start--
	}

	sawAssistant := false
	end := anchor + 1
	for end < len(window) {
		l := window[end]
		switch {
		case isAssistantTurn(l) || l.Type == models.LogTypeAction:
			sawAssistant = true
		case isUserTurn(l):
			if sawAssistant && !isLowSignal(l.Content) {
				return start, end
			}
		default:
			// System and import noise never extends a bundle.
			return start, end
		}
		end++
	}
	return start, end
}

// bundleText concatenates the bundle for retrieval, repeating user turns so
// user intent outweighs assistant phrasing in the embedding.
func bundleText(bundle []*models.LogEntry) string {
	var b strings.Builder
	for _, l := range bundle {
		if l.Type != models.LogTypeConversation {
			continue
		}
		if isUserTurn(l) {
			b.WriteString(l.Content)
			b.WriteString("\n")
			b.WriteString(l.Content)
		} else {
			b.WriteString(l.Content)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// sessionScope is the routing constraint encoded in a session key.
type sessionScope struct {
	topicID string
	taskID  string
	free    bool
}

// parseScope derives the scope rules from a session key.
// clawboard:topic:<id> forces the topic, clawboard:task:<topicId>:<taskId>
// forces both, anything else routes freely.
func parseScope(sessionKey string) sessionScope {
	if rest, ok := strings.CutPrefix(sessionKey, "clawboard:topic:"); ok && rest != "" {
		return sessionScope{topicID: rest}
	}
	if rest, ok := strings.CutPrefix(sessionKey, "clawboard:task:"); ok {
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return sessionScope{topicID: parts[0], taskID: parts[1]}
		}
	}
	return sessionScope{free: true}
}

var hashLikeRe = regexp.MustCompile(`^[0-9a-f]{7,}$|^[0-9]+$|^[A-Za-z0-9+/=_-]{16,}$`)

var genericTitles = map[string]bool{
	"task": true, "todo": true, "work": true, "stuff": true, "things": true,
	"misc": true, "general": true, "update": true, "updates": true,
	"follow up": true, "followup": true, "discussion": true, "chat": true,
	"notes": true, "other": true, "new task": true,
}

// taskTitleValid enforces the creation guardrail: 2 to 12 tokens, no
// hash-like tokens, not a generic placeholder.
func taskTitleValid(title string) bool {
	title = strings.TrimSpace(title)
	if genericTitles[strings.ToLower(title)] {
		return false
	}
	tokens := strings.Fields(title)
	if len(tokens) < 2 || len(tokens) > 12 {
		return false
	}
	for _, tok := range tokens {
		if hashLikeRe.MatchString(tok) {
			return false
		}
	}
	return true
}
