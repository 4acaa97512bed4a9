package engine

import (
	"context"
	"time"

	"github.com/vanvuongngo/hindsight/internal/memory"
	"github.com/vanvuongngo/hindsight/internal/store"
)

// runSemantic is the direct vector lookup: top kSemantic facts by cosine
// similarity, no time filter, thresholded at tauSemantic.
func (e *Engine) runSemantic(ctx context.Context, bank string, plan Plan, ft memory.FactType) strategyRun {
	start := time.Now()
	run := strategyRun{Method: methodSemantic, FactType: ft}
	hits, err := e.store.VectorTopK(ctx, bank, []memory.FactType{ft}, plan.Vector, kSemantic, store.VectorFilter{
		MinSimilarity: tauSemantic,
	})
	run.Duration = time.Since(start)
	if err != nil {
		run.Err = err
		return run
	}
	run.Candidates = rankCandidates(hitsToCandidates(hits))
	return run
}

// runLexical is the direct inverted-index lookup over the tokenized query.
func (e *Engine) runLexical(ctx context.Context, bank string, plan Plan, ft memory.FactType) strategyRun {
	start := time.Now()
	run := strategyRun{Method: methodLexical, FactType: ft}
	hits, err := e.store.BM25TopK(ctx, bank, []memory.FactType{ft}, plan.Query, kLexical)
	run.Duration = time.Since(start)
	if err != nil {
		run.Err = err
		return run
	}
	run.Candidates = rankCandidates(hitsToCandidates(hits))
	return run
}

func hitsToCandidates(hits []store.Hit) []Candidate {
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{FactID: h.FactID, Score: h.Score}
	}
	return out
}
