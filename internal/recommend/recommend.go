package recommend

import (
	"math"
	"sort"
)

type scoredCandidate struct {
	id    string
	score float64
}

// Recommend returns up to k candidate IDs ranked by forward score,
// highest first. Ties keep the candidates' original relative order. A
// forward-pass failure for a candidate (a non-finite intermediate) scores
// that candidate negative infinity rather than aborting the whole call,
// so it sinks to the bottom instead of blocking recommendations for
// every other candidate.
func (m *Model) Recommend(userID string, candidates []string, k int) []string {
	scored := make([]scoredCandidate, len(candidates))
	for i, c := range candidates {
		score, err := m.Score(userID, c)
		if err != nil {
			score = math.Inf(-1)
		}
		scored[i] = scoredCandidate{id: c, score: score}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if k > len(scored) {
		k = len(scored)
	}
	if k < 0 {
		k = 0
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = scored[i].id
	}
	return out
}
