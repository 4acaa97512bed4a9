package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vanvuongngo/hindsight/internal/memory"
)

// Strategy method names as they appear in traces and source ranks.
const (
	methodSemantic = "semantic"
	methodLexical  = "lexical"
	methodGraph    = "graph"
	methodTemporal = "temporal"
)

// Retrieval tunables. The knobs that make sense per request (budget,
// top-k, tokens) live on Options instead.
const (
	kSemantic     = 50
	tauSemantic   = 0.4
	kLexical      = 50
	entryPoints   = 10
	tauEntry      = 0.4
	tauGraph      = 0.05
	kRRF          = 60
	kFuse         = 100
	maxActivation = 2.0
)

// Candidate is one scored fact produced by a retrieval strategy. Rank is
// dense starting at 1 and Score is non-increasing with Rank.
type Candidate struct {
	FactID string
	Score  float64
	Rank   int
}

// strategyRun is the outcome of one (strategy, fact type) task. A failed
// run carries its error and an empty candidate list; the orchestrator
// records the error in the trace and keeps going.
type strategyRun struct {
	Method       string
	FactType     memory.FactType
	Candidates   []Candidate
	Visits       []VisitTrace
	EntryPoints  int
	NodesVisited int
	Duration     time.Duration
	Err          error

	budget *budgetCounter
}

// budgetCounter is the shared node budget for the graph strategies. All
// graph and temporal runs of one recall draw from the same pool so the
// trace-level budget invariant holds regardless of how many fact-type
// partitions are in play.
type budgetCounter struct {
	remaining atomic.Int64
	total     int64
}

func newBudgetCounter(n int) *budgetCounter {
	b := &budgetCounter{total: int64(n)}
	b.remaining.Store(int64(n))
	return b
}

// take consumes one unit, reporting false when the budget is exhausted.
func (b *budgetCounter) take() bool {
	for {
		cur := b.remaining.Load()
		if cur <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

func (b *budgetCounter) used() int { return int(b.total - b.remaining.Load()) }

func (b *budgetCounter) left() int { return int(b.remaining.Load()) }

// rankCandidates assigns dense ranks to an already sorted candidate list.
func rankCandidates(cands []Candidate) []Candidate {
	for i := range cands {
		cands[i].Rank = i + 1
	}
	return cands
}

// deadlineSlack returns the time remaining before the context deadline, or
// a large value when none is set.
func deadlineSlack(ctx context.Context) time.Duration {
	dl, ok := ctx.Deadline()
	if !ok {
		return time.Hour
	}
	return time.Until(dl)
}
