// Package search implements hybrid retrieval over topics, tasks, and logs:
// lexical Jaccard + windowed BM25 fused with vector similarity via
// reciprocal-rank fusion, plus parent/child propagation, note weighting,
// and session-continuity boosts.
package search

import (
	"regexp"
	"strings"
)

// minTokenLen drops short tokens before scoring.
const minTokenLen = 3

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "have": {}, "this": {},
	"that": {}, "with": {}, "from": {}, "they": {}, "will": {}, "would": {},
	"there": {}, "their": {}, "what": {}, "about": {}, "which": {},
	"when": {}, "were": {}, "been": {}, "into": {}, "them": {}, "then": {},
	"than": {}, "some": {}, "could": {}, "should": {}, "just": {},
	"like": {}, "also": {}, "over": {}, "your": {}, "more": {}, "here": {},
	"does": {}, "doing": {}, "done": {}, "please": {}, "thanks": {},
}

var (
	channelPrefixRe = regexp.MustCompile(`(?m)^\s*\[?[a-z]+:[^\s\]]+\]?\s*`)
	messageTagRe    = regexp.MustCompile(`<msg:[^>]*>|\bmsg[-_]?id[:=]\S+`)
	nonWordRe       = regexp.MustCompile(`[^a-z0-9]+`)
	spaceRe         = regexp.MustCompile(`\s+`)
)

// Normalize strips channel prefixes, message-id tags, and redundant
// whitespace from raw log text.
func Normalize(s string) string {
	s = channelPrefixRe.ReplaceAllString(s, " ")
	s = messageTagRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// Tokenize lowercases, splits on non-alphanumerics, and drops short and
// stop-word tokens.
func Tokenize(s string) []string {
	parts := nonWordRe.Split(strings.ToLower(s), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) < minTokenLen {
			continue
		}
		if _, stop := stopwords[p]; stop {
			continue
		}
		out = append(out, p)
	}
	return out
}

// TokenSet returns the distinct tokens of s.
func TokenSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, tok := range Tokenize(s) {
		set[tok] = struct{}{}
	}
	return set
}

// Jaccard is |a ∩ b| / |a ∪ b| over token sets.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// BaseSessionKey strips the last segment of a multi-part session key so a
// subagent key still matches its parent conversation.
func BaseSessionKey(key string) string {
	if strings.Count(key, ":") < 2 {
		return key
	}
	return key[:strings.LastIndex(key, ":")]
}

// sessionMatches reports whether candidate matches caller by full or base key.
func sessionMatches(caller, candidate string) bool {
	if caller == "" || candidate == "" {
		return false
	}
	if caller == candidate {
		return true
	}
	return BaseSessionKey(caller) == BaseSessionKey(candidate)
}
