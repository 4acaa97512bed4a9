package engine

import (
	"hash/fnv"
	"time"

	"github.com/vanvuongngo/hindsight/internal/memory"
)

// Budget bounds the number of facts visited by the graph strategies.
type Budget string

const (
	BudgetLow  Budget = "low"
	BudgetMid  Budget = "mid"
	BudgetHigh Budget = "high"
)

// Nodes returns the node visit cap for the budget.
func (b Budget) Nodes() int {
	switch b {
	case BudgetLow:
		return 100
	case BudgetHigh:
		return 600
	default:
		return 300
	}
}

// TemporalFallback decides how the temporal strategy treats facts without an
// occurrence timestamp.
type TemporalFallback string

const (
	// FallbackMentionedAt substitutes the ingestion timestamp for the range
	// check. The default.
	FallbackMentionedAt TemporalFallback = "mentioned_at"
	// FallbackExclude drops occurrence-less facts from temporal traversal.
	FallbackExclude TemporalFallback = "exclude"
)

// Options tune a single Recall call. The zero value selects every default.
type Options struct {
	// FactTypes restricts retrieval to the given types; empty means all.
	FactTypes []memory.FactType
	// Budget caps graph traversal (default mid).
	Budget Budget
	// TopK caps the post-rerank result count (default 10).
	TopK int
	// MaxTokens bounds the approximate token cost of the returned facts
	// (default 4096).
	MaxTokens int
	// Trace requests the full retrieval trace in the response.
	Trace bool
	// Now anchors relative temporal expressions and recency scoring.
	// Zero means the engine clock.
	Now time.Time
	// Deadline bounds the whole request (default 2s).
	Deadline time.Duration
	// Seed drives any randomized tie-breaks. Zero means derived from
	// (bank_id, query).
	Seed uint64
	// TemporalFallback selects occurrence-less fact handling in the
	// temporal strategy (default: the engine's WithTemporalFallback
	// setting, mentioned_at when none was given).
	TemporalFallback TemporalFallback
	// ObservationTokens requests entity observation sidecars for the
	// returned facts, capped at roughly this many tokens. Zero disables.
	ObservationTokens int
}

const (
	defaultTopK      = 10
	defaultMaxTokens = 4096
	defaultDeadline  = 2 * time.Second
)

func (o Options) withDefaults(now time.Time) Options {
	if len(o.FactTypes) == 0 {
		o.FactTypes = memory.AllFactTypes()
	}
	if o.Budget == "" {
		o.Budget = BudgetMid
	}
	if o.TopK == 0 {
		o.TopK = defaultTopK
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = defaultMaxTokens
	}
	if o.Now.IsZero() {
		o.Now = now
	}
	if o.Deadline <= 0 {
		o.Deadline = defaultDeadline
	}
	if o.TemporalFallback == "" {
		o.TemporalFallback = FallbackMentionedAt
	}
	return o
}

// deriveSeed produces the default PRNG seed from (bank_id, query_text).
func deriveSeed(bank, query string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(bank))
	_, _ = h.Write([]byte{0x1f})
	_, _ = h.Write([]byte(query))
	return h.Sum64()
}

// RecallResult is one ranked fact in a recall response. Embeddings are never
// returned to callers.
type RecallResult struct {
	FactID        string            `json:"fact_id"`
	Text          string            `json:"text"`
	FactType      memory.FactType   `json:"fact_type"`
	Context       string            `json:"context,omitempty"`
	OccurredStart *time.Time        `json:"occurred_start,omitempty"`
	OccurredEnd   *time.Time        `json:"occurred_end,omitempty"`
	MentionedAt   *time.Time        `json:"mentioned_at,omitempty"`
	EntityRefs    []string          `json:"entity_refs,omitempty"`
	FinalScore    float64           `json:"final_score"`
}

// RecallResponse carries the ranked results and, when requested, the trace
// and entity observation sidecars.
type RecallResponse struct {
	Results      []RecallResult             `json:"results"`
	Observations []memory.EntityObservation `json:"observations,omitempty"`
	Trace        *Trace                     `json:"trace,omitempty"`
}
