package search

import (
	"math"
	"strings"
)

// BM25 length-normalization parameters. k1 controls term-frequency
// saturation, b controls document-length normalization.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// chunkWindow is the span width, in words, used for best-chunk extraction.
const chunkWindow = 12

// bm25Corpus scores query tokens against the candidate window, treating each
// candidate's searchable text as one document.
type bm25Corpus struct {
	docs   [][]string
	df     map[string]int
	avgLen float64
}

func newBM25Corpus(texts []string) *bm25Corpus {
	c := &bm25Corpus{
		docs: make([][]string, len(texts)),
		df:   map[string]int{},
	}
	total := 0
	for i, text := range texts {
		toks := Tokenize(text)
		c.docs[i] = toks
		total += len(toks)
		seen := map[string]struct{}{}
		for _, tok := range toks {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			c.df[tok]++
		}
	}
	if len(texts) > 0 {
		c.avgLen = float64(total) / float64(len(texts))
	}
	return c
}

// score returns the BM25 score of query tokens against document i.
func (c *bm25Corpus) score(query []string, i int) float64 {
	doc := c.docs[i]
	if len(doc) == 0 || len(query) == 0 {
		return 0
	}
	tf := map[string]int{}
	for _, tok := range doc {
		tf[tok]++
	}

	n := float64(len(c.docs))
	norm := bm25K1 * (1 - bm25B + bm25B*float64(len(doc))/math.Max(c.avgLen, 1))

	var score float64
	for _, term := range query {
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		df := float64(c.df[term])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		score += idf * f * (bm25K1 + 1) / (f + norm)
	}
	return score
}

// bestChunk returns the contiguous span of text with the highest density of
// query tokens, for explain output.
func bestChunk(text string, query []string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	if len(words) <= chunkWindow {
		return strings.Join(words, " ")
	}

	querySet := make(map[string]struct{}, len(query))
	for _, q := range query {
		querySet[q] = struct{}{}
	}
	hit := func(w string) int {
		tok := nonWordRe.ReplaceAllString(strings.ToLower(w), "")
		if _, ok := querySet[tok]; ok {
			return 1
		}
		return 0
	}

	score := 0
	for i := 0; i < chunkWindow; i++ {
		score += hit(words[i])
	}
	best, bestAt := score, 0
	for i := chunkWindow; i < len(words); i++ {
		score += hit(words[i]) - hit(words[i-chunkWindow])
		if score > best {
			best, bestAt = score, i-chunkWindow+1
		}
	}
	if best == 0 {
		return strings.Join(words[:chunkWindow], " ")
	}
	return strings.Join(words[bestAt:bestAt+chunkWindow], " ")
}
