package store

import (
	"context"
	"time"

	"github.com/vanvuongngo/hindsight/internal/memory"
)

// Hit is a single scored lookup result from an index backend.
type Hit struct {
	FactID string
	Score  float64
}

// VectorFilter narrows a kNN lookup. All set fields are applied as AND
// conditions.
type VectorFilter struct {
	// MinSimilarity drops hits below this cosine similarity.
	MinSimilarity float64
	// OccurredStart/OccurredEnd bound the fact's occurrence time. When
	// RequireOccurred is false, facts without an occurrence fall back to
	// their mentioned_at timestamp for the range check; when true they are
	// excluded outright.
	OccurredStart   *time.Time
	OccurredEnd     *time.Time
	RequireOccurred bool
}

// HasTimeRange reports whether the filter constrains occurrence time.
func (f VectorFilter) HasTimeRange() bool {
	return f.OccurredStart != nil && f.OccurredEnd != nil
}

// VectorIndex is the ANN/kNN backend: cosine similarity over fact
// embeddings, scoped by bank and fact types.
type VectorIndex interface {
	TopK(ctx context.Context, bank string, types []memory.FactType, queryVec []float32, k int, filter VectorFilter) ([]Hit, error)
}

// LexicalIndex is the inverted-index backend over text and context.
type LexicalIndex interface {
	Search(ctx context.Context, bank string, types []memory.FactType, query string, k int) ([]Hit, error)
}

// GraphReader reads outgoing typed links of a fact.
type GraphReader interface {
	LinksFrom(ctx context.Context, bank, factID string, types []memory.LinkType) ([]memory.Link, error)
}

// FactReader hydrates facts and entity sidecars.
type FactReader interface {
	// ResolveBank returns ErrBankNotFound when the bank id is unknown.
	ResolveBank(ctx context.Context, bank string) error
	// FetchFacts hydrates facts by id, preserving the order of ids.
	// Unknown ids are silently skipped.
	FetchFacts(ctx context.Context, bank string, ids []string) ([]memory.Fact, error)
	// EntityMentions returns the per-bank mention count for each entity id.
	EntityMentions(ctx context.Context, bank string, entityIDs []string) (map[string]int, error)
	// EntityObservations returns observation sidecars for the entities,
	// truncated to roughly tokenCap tokens.
	EntityObservations(ctx context.Context, bank string, entityIDs []string, tokenCap int) ([]memory.EntityObservation, error)
}
