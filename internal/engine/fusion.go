package engine

import "sort"

// fusedCandidate carries a fact through fusion into reranking.
type fusedCandidate struct {
	FactID      string
	RRFScore    float64
	SourceRanks map[string]int
	RRFRank     int

	minRank int
}

// fuseRRF merges per-(strategy, fact type) candidate lists with reciprocal
// rank fusion: rrf(fact) = Σ 1/(kRRF + rank_s). A fact missing from a
// strategy contributes nothing from it. Lists from different fact-type
// partitions compete on the same merged list.
//
// Ties break by the lowest minimum rank among contributing strategies, then
// by fact id. The merged list is capped at kFuse.
func fuseRRF(runs []strategyRun) []fusedCandidate {
	byID := make(map[string]*fusedCandidate)
	for _, run := range runs {
		for _, c := range run.Candidates {
			fc, ok := byID[c.FactID]
			if !ok {
				fc = &fusedCandidate{FactID: c.FactID, SourceRanks: map[string]int{}, minRank: c.Rank}
				byID[c.FactID] = fc
			}
			// A fact belongs to one type partition, so within a strategy it
			// appears in at most one run.
			fc.SourceRanks[run.Method] = c.Rank
			fc.RRFScore += 1.0 / float64(kRRF+c.Rank)
			if c.Rank < fc.minRank {
				fc.minRank = c.Rank
			}
		}
	}

	out := make([]fusedCandidate, 0, len(byID))
	for _, fc := range byID {
		out = append(out, *fc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RRFScore != out[j].RRFScore {
			return out[i].RRFScore > out[j].RRFScore
		}
		if out[i].minRank != out[j].minRank {
			return out[i].minRank < out[j].minRank
		}
		return out[i].FactID < out[j].FactID
	})
	if len(out) > kFuse {
		out = out[:kFuse]
	}
	for i := range out {
		out[i].RRFRank = i + 1
	}
	return out
}
