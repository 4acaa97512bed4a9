package engine

import (
	"container/heap"
	"context"
	"sort"
	"time"

	"github.com/vanvuongngo/hindsight/internal/memory"
	"github.com/vanvuongngo/hindsight/internal/store"
)

// decayFor returns the per-hop activation decay by link type. Causal links
// carry a 2x boost on top of their base decay and are the only hops allowed
// to raise activation above the parent's; final activations are clamped to
// [0, maxActivation] at output time.
func decayFor(t memory.LinkType) float64 {
	switch t {
	case memory.LinkEntity:
		return 0.8
	case memory.LinkSemantic:
		return 0.7
	case memory.LinkTemporal:
		return 0.6
	case memory.LinkCausal:
		return 0.9 * 2
	}
	return 0
}

// frontierItem is one priority-queue entry. Stale entries (activation no
// longer current) are skipped lazily on pop.
type frontierItem struct {
	factID      string
	activation  float64
	mentionedAt time.Time
}

type frontier []frontierItem

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	if f[i].activation != f[j].activation {
		return f[i].activation > f[j].activation
	}
	if !f[i].mentionedAt.Equal(f[j].mentionedAt) {
		return f[i].mentionedAt.After(f[j].mentionedAt)
	}
	return f[i].factID < f[j].factID
}

func (f frontier) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)        { *f = append(*f, x.(frontierItem)) }
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	it := old[n-1]
	*f = old[:n-1]
	return it
}

// runGraph is the spreading-activation strategy: strong semantic hits seed a
// priority-driven walk over typed links, propagating a decaying activation
// outward until the shared node budget is spent.
func (e *Engine) runGraph(ctx context.Context, bank string, plan Plan, ft memory.FactType, opts Options, budget *budgetCounter, temporal bool) strategyRun {
	start := time.Now()
	method := methodGraph
	if temporal {
		method = methodTemporal
	}
	run := strategyRun{Method: method, FactType: ft}

	entryFilter := store.VectorFilter{MinSimilarity: tauEntry}
	var timeRange *TimeRange
	if temporal {
		timeRange = plan.Temporal
		entryFilter.OccurredStart = &timeRange.Start
		entryFilter.OccurredEnd = &timeRange.End
		entryFilter.RequireOccurred = opts.TemporalFallback == FallbackExclude
	}

	entries, err := e.store.VectorTopK(ctx, bank, []memory.FactType{ft}, plan.Vector, entryPoints, entryFilter)
	if err != nil {
		run.Duration = time.Since(start)
		run.Err = err
		return run
	}
	run.EntryPoints = len(entries)
	if len(entries) == 0 {
		run.Duration = time.Since(start)
		return run
	}

	// Per-walk state is task-local; only the budget counter is shared.
	activation := make(map[string]float64)
	parent := make(map[string]string)
	hopWeight := make(map[string]float64)
	visited := make(map[string]bool)
	facts := make(map[string]memory.Fact)

	entryIDs := make([]string, len(entries))
	for i, h := range entries {
		entryIDs[i] = h.FactID
	}
	if err := e.hydrate(ctx, bank, entryIDs, facts); err != nil {
		run.Duration = time.Since(start)
		run.Err = err
		return run
	}

	pq := &frontier{}
	heap.Init(pq)
	for _, h := range entries {
		f, ok := facts[h.FactID]
		if !ok {
			continue
		}
		activation[h.FactID] = h.Score
		heap.Push(pq, frontierItem{factID: h.FactID, activation: h.Score, mentionedAt: f.MentionedAt})
	}

	for pq.Len() > 0 {
		if ctx.Err() != nil {
			break
		}
		item := heap.Pop(pq).(frontierItem)
		if visited[item.factID] || item.activation != activation[item.factID] {
			continue
		}
		if !budget.take() {
			break
		}
		visited[item.factID] = true
		run.NodesVisited++

		links, err := e.store.LinksFrom(ctx, bank, item.factID, nil)
		if err != nil {
			// A failed expansion loses this node's neighbors, not the walk.
			continue
		}
		targetIDs := make([]string, 0, len(links))
		for _, l := range links {
			if _, ok := facts[l.TargetID]; !ok {
				targetIDs = append(targetIDs, l.TargetID)
			}
		}
		if len(targetIDs) > 0 {
			if err := e.hydrate(ctx, bank, targetIDs, facts); err != nil {
				continue
			}
		}
		for _, l := range links {
			if visited[l.TargetID] {
				// Visited nodes are finalized; together with max
				// accumulation this is what keeps cycles harmless.
				continue
			}
			tf, ok := facts[l.TargetID]
			if !ok {
				continue
			}
			if timeRange != nil && !temporalAdmits(tf, *timeRange, opts.TemporalFallback) {
				continue
			}
			a := activation[item.factID] * decayFor(l.Type) * l.Weight
			if a <= activation[l.TargetID] {
				continue
			}
			activation[l.TargetID] = a
			parent[l.TargetID] = item.factID
			hopWeight[l.TargetID] = l.Weight
			heap.Push(pq, frontierItem{factID: l.TargetID, activation: a, mentionedAt: tf.MentionedAt})
		}
	}

	ids := make([]string, 0, len(visited))
	for id := range visited {
		if clampActivation(activation[id]) >= tauGraph {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		ai, aj := clampActivation(activation[ids[i]]), clampActivation(activation[ids[j]])
		if ai != aj {
			return ai > aj
		}
		mi, mj := facts[ids[i]].MentionedAt, facts[ids[j]].MentionedAt
		if !mi.Equal(mj) {
			return mi.After(mj)
		}
		return ids[i] < ids[j]
	})

	cands := make([]Candidate, len(ids))
	for i, id := range ids {
		cands[i] = Candidate{FactID: id, Score: clampActivation(activation[id])}
	}
	run.Candidates = rankCandidates(cands)
	run.Visits = buildVisits(ids, activation, parent, hopWeight)
	run.Duration = time.Since(start)
	return run
}

// temporalAdmits applies the temporal traversal filter: a fact is reachable
// only when its occurrence start (or, per the fallback mode, its mention
// time) lies within the range.
func temporalAdmits(f memory.Fact, r TimeRange, fallback TemporalFallback) bool {
	if f.OccurredStart == nil && fallback == FallbackExclude {
		return false
	}
	return r.Contains(f.OccurredOrMentioned())
}

func clampActivation(a float64) float64 {
	if a < 0 {
		return 0
	}
	if a > maxActivation {
		return maxActivation
	}
	return a
}

// hydrate batch-fetches facts into the cache map.
func (e *Engine) hydrate(ctx context.Context, bank string, ids []string, into map[string]memory.Fact) error {
	fetched, err := e.store.FetchFacts(ctx, bank, ids)
	if err != nil {
		return err
	}
	for _, f := range fetched {
		into[f.ID] = f
	}
	return nil
}

// buildVisits reconstructs the activation path of every emitted node back to
// its entry point, with link weights along the way.
func buildVisits(ids []string, activation map[string]float64, parent map[string]string, hopWeight map[string]float64) []VisitTrace {
	visits := make([]VisitTrace, 0, len(ids))
	for _, id := range ids {
		var path []string
		var weights []float64
		seen := map[string]bool{}
		cur := id
		for {
			path = append([]string{cur}, path...)
			seen[cur] = true
			p, ok := parent[cur]
			if !ok || seen[p] {
				break
			}
			weights = append([]float64{hopWeight[cur]}, weights...)
			cur = p
		}
		visits = append(visits, VisitTrace{
			NodeID:         id,
			ActivationPath: path,
			Weights:        weights,
			Activation:     clampActivation(activation[id]),
		})
	}
	return visits
}
