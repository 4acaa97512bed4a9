// Package store presents the persisted fact graph and its vector/inverted
// indices as a set of typed read operations. It is the only package that
// touches the underlying database.
//
// A Store is assembled from four narrow backends so deployments can mix
// implementations: Postgres implements all four, the in-memory backend
// implements all four (tests and development), and Qdrant implements the
// vector index only and composes with one of the others for the rest.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vanvuongngo/hindsight/internal/memory"
)

// DefaultCallTimeout is the hard per-call deadline for any single store
// operation.
const DefaultCallTimeout = 500 * time.Millisecond

// Store is the composite read adapter handed to the retrieval engine.
// All operations are read-only, scoped by bank, and return within the
// per-call deadline or surface ErrStoreDeadline.
type Store struct {
	Vector  VectorIndex
	Lexical LexicalIndex
	Graph   GraphReader
	Facts   FactReader

	// CallTimeout bounds every single backend call. Zero means
	// DefaultCallTimeout.
	CallTimeout time.Duration

	closers []func()
}

// New assembles a Store from explicit backends.
func New(vector VectorIndex, lexical LexicalIndex, graph GraphReader, facts FactReader) *Store {
	return &Store{Vector: vector, Lexical: lexical, Graph: graph, Facts: facts}
}

// Close releases any underlying pools. No-op for memory backends.
func (s *Store) Close() {
	for _, c := range s.closers {
		c()
	}
}

func (s *Store) timeout() time.Duration {
	if s.CallTimeout > 0 {
		return s.CallTimeout
	}
	return DefaultCallTimeout
}

// call runs fn under the per-call deadline and maps a deadline expiry that
// the call itself caused onto ErrStoreDeadline. A parent context that was
// already cancelled keeps its own error.
func (s *Store) call(ctx context.Context, op string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	err := fn(cctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%s: %w", op, ErrStoreDeadline)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// VectorTopK returns up to k facts by cosine similarity, most similar first.
func (s *Store) VectorTopK(ctx context.Context, bank string, types []memory.FactType, queryVec []float32, k int, filter VectorFilter) ([]Hit, error) {
	var out []Hit
	err := s.call(ctx, "vector_topk", func(cctx context.Context) error {
		var e error
		out, e = s.Vector.TopK(cctx, bank, types, queryVec, k, filter)
		return e
	})
	return out, err
}

// BM25TopK returns up to k facts by lexical relevance, best first.
func (s *Store) BM25TopK(ctx context.Context, bank string, types []memory.FactType, query string, k int) ([]Hit, error) {
	var out []Hit
	err := s.call(ctx, "bm25_topk", func(cctx context.Context) error {
		var e error
		out, e = s.Lexical.Search(cctx, bank, types, query, k)
		return e
	})
	return out, err
}

// LinksFrom returns outgoing links of the given types.
func (s *Store) LinksFrom(ctx context.Context, bank, factID string, types []memory.LinkType) ([]memory.Link, error) {
	var out []memory.Link
	err := s.call(ctx, "links_from", func(cctx context.Context) error {
		var e error
		out, e = s.Graph.LinksFrom(cctx, bank, factID, types)
		return e
	})
	return out, err
}

// FetchFacts hydrates facts in id order.
func (s *Store) FetchFacts(ctx context.Context, bank string, ids []string) ([]memory.Fact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []memory.Fact
	err := s.call(ctx, "fetch_facts", func(cctx context.Context) error {
		var e error
		out, e = s.Facts.FetchFacts(cctx, bank, ids)
		return e
	})
	return out, err
}

// EntityMentions returns per-bank mention counts for the given entities.
func (s *Store) EntityMentions(ctx context.Context, bank string, entityIDs []string) (map[string]int, error) {
	if len(entityIDs) == 0 {
		return map[string]int{}, nil
	}
	var out map[string]int
	err := s.call(ctx, "entity_mentions", func(cctx context.Context) error {
		var e error
		out, e = s.Facts.EntityMentions(cctx, bank, entityIDs)
		return e
	})
	return out, err
}

// EntityObservations returns observation sidecars for the entities.
func (s *Store) EntityObservations(ctx context.Context, bank string, entityIDs []string, tokenCap int) ([]memory.EntityObservation, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	var out []memory.EntityObservation
	err := s.call(ctx, "entity_observations", func(cctx context.Context) error {
		var e error
		out, e = s.Facts.EntityObservations(cctx, bank, entityIDs, tokenCap)
		return e
	})
	return out, err
}

// ResolveBank verifies the bank exists.
func (s *Store) ResolveBank(ctx context.Context, bank string) error {
	return s.call(ctx, "resolve_bank", func(cctx context.Context) error {
		return s.Facts.ResolveBank(cctx, bank)
	})
}
