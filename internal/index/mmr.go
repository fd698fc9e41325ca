package index

import (
	"policyrag/internal/domain"
	"policyrag/internal/similarity"
)

// MaximalMarginalRelevance selects up to k candidates, trading relevance
// to the query against similarity to already selected candidates:
//
//	score = lambda*cos(q, c) - (1-lambda)*max cos(c, s)
//
// Candidates are expected in descending relevance order; on equal scores
// the earlier candidate wins. lambda is clamped to [0, 1]; lambda=1 is a
// plain cosine ranking. Returned results carry the query relevance as Score.
func MaximalMarginalRelevance(query []float64, candidates []domain.Candidate, k int, lambda float64) []domain.SearchResult {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	lambda = max(0, min(1, lambda))
	k = min(k, len(candidates))

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		relevance[i] = similarity.Cosine(query, c.Vector)
	}
	// redundancy[i] is the max similarity of candidate i to the selection so far.
	redundancy := make([]float64, len(candidates))
	selected := make([]bool, len(candidates))
	out := make([]domain.SearchResult, 0, k)

	for len(out) < k {
		best := -1
		bestScore := 0.0
		for i := range candidates {
			if selected[i] {
				continue
			}
			score := lambda * relevance[i]
			if len(out) > 0 {
				score -= (1 - lambda) * redundancy[i]
			}
			if best < 0 || score > bestScore {
				best, bestScore = i, score
			}
		}
		selected[best] = true
		out = append(out, domain.SearchResult{Chunk: candidates[best].Chunk, Score: relevance[best]})

		for i := range candidates {
			if selected[i] {
				continue
			}
			if sim := similarity.Cosine(candidates[i].Vector, candidates[best].Vector); len(out) == 1 || sim > redundancy[i] {
				redundancy[i] = sim
			}
		}
	}
	return out
}
