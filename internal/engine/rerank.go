package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vanvuongngo/hindsight/internal/crossencoder"
	"github.com/vanvuongngo/hindsight/internal/memory"
)

// Final score weights over the rerank components.
const (
	wCrossEncoder = 0.60
	wRRFNorm      = 0.25
	wRecency      = 0.10
	wFrequency    = 0.05

	recencyHalfLifeDays = 180.0
)

// rerankedFact is one fully scored fact ready for assembly.
type rerankedFact struct {
	Fact       memory.Fact
	RRFRank    int
	Final      float64
	Components ScoreComponents
}

// decorate builds the cross-encoder document text for a fact: a readable
// date prefix when the fact has an occurrence and the query was temporal,
// and a context suffix when the fact carries context.
func decorate(f memory.Fact, temporal bool) string {
	text := f.Text
	if temporal && f.OccurredStart != nil {
		text = fmt.Sprintf("[Date: %s] %s", f.OccurredStart.Format("January 2, 2006"), text)
	}
	if f.Context != "" {
		text = fmt.Sprintf("%s [Context: %s]", text, f.Context)
	}
	return text
}

// rerank scores the fused candidates with the cross-encoder and folds in
// the fusion, recency, and frequency signals. When the scorer fails, the
// ranking degrades to the remaining components and the downgrade is
// recorded: cross_encoder stays nil in every score breakdown.
func (e *Engine) rerank(ctx context.Context, bank string, plan Plan, fused []fusedCandidate, facts map[string]memory.Fact, now time.Time) ([]rerankedFact, bool) {
	if len(fused) == 0 {
		return nil, false
	}

	pairs := make([]crossencoder.Pair, 0, len(fused))
	kept := make([]fusedCandidate, 0, len(fused))
	for _, fc := range fused {
		f, ok := facts[fc.FactID]
		if !ok {
			continue
		}
		pairs = append(pairs, crossencoder.Pair{Query: plan.Query, Text: decorate(f, plan.Temporal != nil)})
		kept = append(kept, fc)
	}
	if len(kept) == 0 {
		return nil, false
	}

	ceScores, ceErr := e.cross.ScorePairs(ctx, pairs)
	ceOK := ceErr == nil && len(ceScores) == len(kept)
	if !ceOK && ceErr != nil {
		logger(ctx).Warn().Err(ceErr).Str("bank_id", bank).
			Msg("cross_encoder_unavailable_falling_back")
	}

	// Normalize fusion scores to [0,1] across this batch.
	minRRF, maxRRF := kept[0].RRFScore, kept[0].RRFScore
	for _, fc := range kept[1:] {
		minRRF = math.Min(minRRF, fc.RRFScore)
		maxRRF = math.Max(maxRRF, fc.RRFScore)
	}

	mentions := e.factMentions(ctx, bank, kept, facts)
	maxMentions := 0
	for _, n := range mentions {
		if n > maxMentions {
			maxMentions = n
		}
	}

	out := make([]rerankedFact, 0, len(kept))
	for i, fc := range kept {
		f := facts[fc.FactID]

		rrfNorm := 1.0
		if maxRRF > minRRF {
			rrfNorm = (fc.RRFScore - minRRF) / (maxRRF - minRRF)
		}
		ageDays := now.Sub(f.MentionedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		recency := math.Exp(-ageDays / recencyHalfLifeDays)
		frequency := 0.0
		if maxMentions > 0 {
			frequency = math.Log(1+float64(mentions[fc.FactID])) / math.Log(1+float64(maxMentions))
		}

		comps := ScoreComponents{RRFNorm: rrfNorm, Recency: recency, Frequency: frequency}
		var final float64
		if ceOK {
			ce := ceScores[i]
			comps.CrossEncoder = &ce
			final = wCrossEncoder*ce + wRRFNorm*rrfNorm + wRecency*recency + wFrequency*frequency
		} else {
			final = rrfNorm + recency + frequency
		}
		out = append(out, rerankedFact{Fact: f, RRFRank: fc.RRFRank, Final: final, Components: comps})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Final != out[j].Final {
			return out[i].Final > out[j].Final
		}
		return out[i].Fact.ID < out[j].Fact.ID
	})
	return out, ceOK
}

// factMentions rolls the per-bank entity mention counts up to each fact as
// the max over its entity refs. Facts without refs score zero.
func (e *Engine) factMentions(ctx context.Context, bank string, kept []fusedCandidate, facts map[string]memory.Fact) map[string]int {
	entitySet := map[string]bool{}
	for _, fc := range kept {
		for _, ref := range facts[fc.FactID].EntityRefs {
			entitySet[ref] = true
		}
	}
	out := make(map[string]int, len(kept))
	if len(entitySet) == 0 {
		return out
	}
	ids := make([]string, 0, len(entitySet))
	for id := range entitySet {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	counts, err := e.store.EntityMentions(ctx, bank, ids)
	if err != nil {
		logger(ctx).Warn().Err(err).Str("bank_id", bank).
			Msg("entity_mentions_unavailable")
		return out
	}
	for _, fc := range kept {
		best := 0
		for _, ref := range facts[fc.FactID].EntityRefs {
			if n := counts[ref]; n > best {
				best = n
			}
		}
		out[fc.FactID] = best
	}
	return out
}

// assemble walks the reranked list in score order, accumulating the
// approximate token cost ceil(len(text)/4) + ceil(len(context)/4), and
// stops before the budget would be exceeded. At least one fact is always
// returned when any candidate exists, even if it alone overshoots.
func assemble(ranked []rerankedFact, topK, maxTokens int) []rerankedFact {
	out := make([]rerankedFact, 0, topK)
	spent := 0
	for _, r := range ranked {
		if len(out) >= topK {
			break
		}
		cost := approxTokens(r.Fact.Text) + approxTokens(r.Fact.Context)
		if len(out) > 0 && spent+cost > maxTokens {
			break
		}
		out = append(out, r)
		spent += cost
	}
	return out
}

func approxTokens(s string) int {
	return (len(s) + 3) / 4
}
