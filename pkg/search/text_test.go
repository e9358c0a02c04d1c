package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStripsNoise(t *testing.T) {
	in := "channel:discord:g1  deploy   the ingest service <msg:abc123>"
	out := Normalize(in)
	assert.Equal(t, "deploy the ingest service", out)
}

func TestTokenizeDropsShortAndStopWords(t *testing.T) {
	toks := Tokenize("The quick DB fix for the ingest worker")
	assert.Equal(t, []string{"quick", "fix", "ingest", "worker"}, toks)
}

func TestJaccard(t *testing.T) {
	a := TokenSet("deploy ingest service")
	b := TokenSet("deploy search service")
	// intersection {deploy, service} over union of 4.
	assert.InDelta(t, 0.5, Jaccard(a, b), 1e-9)

	assert.Zero(t, Jaccard(a, TokenSet("")))
	assert.InDelta(t, 1.0, Jaccard(a, a), 1e-9)
}

func TestBaseSessionKey(t *testing.T) {
	assert.Equal(t, "clawboard:task:t1", BaseSessionKey("clawboard:task:t1:k9"))
	assert.Equal(t, "channel:discord", BaseSessionKey("channel:discord:g1"))
	assert.Equal(t, "channel:discord", BaseSessionKey("channel:discord"))
	assert.Equal(t, "plain", BaseSessionKey("plain"))
}

func TestSessionMatches(t *testing.T) {
	assert.True(t, sessionMatches("channel:discord:g1", "channel:discord:g1"))
	assert.True(t, sessionMatches("channel:discord:g1:sub", "channel:discord:g1:other"))
	assert.False(t, sessionMatches("channel:discord:g1", "channel:slack:g1"))
	assert.False(t, sessionMatches("", "channel:discord:g1"))
}

func TestBM25PrefersMatchingDoc(t *testing.T) {
	corpus := newBM25Corpus([]string{
		"fix the ingest worker crash",
		"weekly planning notes",
		"ingest worker deployment checklist for the ingest path",
	})
	query := Tokenize("ingest worker")

	s0 := corpus.score(query, 0)
	s1 := corpus.score(query, 1)
	s2 := corpus.score(query, 2)
	assert.Greater(t, s0, 0.0)
	assert.Zero(t, s1)
	assert.Greater(t, s2, 0.0)
}

func TestBestChunkFindsDenseSpan(t *testing.T) {
	text := "unrelated preamble words that go on for a while and then suddenly " +
		"the ingest worker crash happened during deploy window and more trailing words follow here"
	chunk := bestChunk(text, Tokenize("ingest worker crash"))
	assert.Contains(t, chunk, "ingest worker crash")

	// Short text returns itself.
	assert.Equal(t, "tiny text", bestChunk("tiny text", Tokenize("ingest")))
}

func TestRRFFuseNormalizesToOne(t *testing.T) {
	fused := rrfFuse([]string{"a", "b"}, []string{"a", "c"})
	assert.InDelta(t, 1.0, fused["a"], 1e-9)
	assert.Greater(t, fused["a"], fused["b"])
	assert.Equal(t, fused["b"], fused["c"])
}
