package search

import "sort"

// rrfK dampens the contribution of lower ranks in reciprocal-rank fusion.
const rrfK = 60.0

// rankIDs orders candidate ids by descending score, dropping zero scores.
// Ties break on id for determinism.
func rankIDs(scores map[string]float64) []string {
	ids := make([]string, 0, len(scores))
	for id, s := range scores {
		if s > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

// rrfFuse accumulates 1/(k+rank) across the given rankings and normalizes
// the result to [0,1].
func rrfFuse(rankings ...[]string) map[string]float64 {
	fused := map[string]float64{}
	for _, ranking := range rankings {
		for i, id := range ranking {
			fused[id] += 1 / (rrfK + float64(i+1))
		}
	}

	var max float64
	for _, s := range fused {
		if s > max {
			max = s
		}
	}
	if max > 0 {
		for id := range fused {
			fused[id] /= max
		}
	}
	return fused
}
