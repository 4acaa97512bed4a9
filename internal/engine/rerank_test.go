package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanvuongngo/hindsight/internal/crossencoder"
	"github.com/vanvuongngo/hindsight/internal/memory"
	"github.com/vanvuongngo/hindsight/internal/store"
)

func TestDecorate(t *testing.T) {
	occ := mustTime(t, "2024-04-15T00:00:00Z")
	f := memory.Fact{Text: "Alice started learning Rust", OccurredStart: &occ}

	// Date prefix only when the query was temporal AND the fact has an
	// occurrence.
	assert.Equal(t, "Alice started learning Rust", decorate(f, false))
	assert.Equal(t, "[Date: April 15, 2024] Alice started learning Rust", decorate(f, true))

	f.OccurredStart = nil
	assert.Equal(t, "Alice started learning Rust", decorate(f, true))

	f.Context = "from the onboarding call"
	assert.Equal(t, "Alice started learning Rust [Context: from the onboarding call]", decorate(f, true))
}

func rerankFixture(t *testing.T) (*Engine, []fusedCandidate, map[string]memory.Fact) {
	t.Helper()
	ms := store.NewMemStore()
	base := mustTime(t, "2024-06-01T00:00:00Z")
	facts := map[string]memory.Fact{}
	for i, id := range []string{"a", "b", "c"} {
		f := memory.Fact{
			ID: id, BankID: "b", Type: memory.FactWorld,
			Text:        fmt.Sprintf("fact %s body", id),
			Embedding:   []float32{1, 0, 0},
			MentionedAt: base.AddDate(0, 0, -90*i),
		}
		require.NoError(t, ms.AddFact(f))
		facts[id] = f
	}
	fused := []fusedCandidate{
		{FactID: "a", RRFScore: 0.030, RRFRank: 1, SourceRanks: map[string]int{"semantic": 1}},
		{FactID: "b", RRFScore: 0.020, RRFRank: 2, SourceRanks: map[string]int{"semantic": 2}},
		{FactID: "c", RRFScore: 0.010, RRFRank: 3, SourceRanks: map[string]int{"semantic": 3}},
	}
	return New(ms.AsStore(), stubEmbedder{dim: 3}, zeroCrossEncoder()), fused, facts
}

func TestRerankWeightedComponents(t *testing.T) {
	e, fused, facts := rerankFixture(t)
	now := mustTime(t, "2024-06-01T00:00:00Z")
	// Cross-encoder strongly prefers c, reversing the fused order.
	e.cross = crossencoder.Func(func(_ context.Context, pairs []crossencoder.Pair) ([]float64, error) {
		out := make([]float64, len(pairs))
		for i, p := range pairs {
			if strings.Contains(p.Text, "fact c") {
				out[i] = 1.0
			}
		}
		return out, nil
	})

	ranked, ceOK := e.rerank(context.Background(), "b", Plan{Query: "q"}, fused, facts, now)
	require.True(t, ceOK)
	require.Len(t, ranked, 3)
	assert.Equal(t, "c", ranked[0].Fact.ID)

	top := ranked[0]
	require.NotNil(t, top.Components.CrossEncoder)
	want := wCrossEncoder*1.0 + wRRFNorm*top.Components.RRFNorm +
		wRecency*top.Components.Recency + wFrequency*top.Components.Frequency
	assert.InDelta(t, want, top.Final, 1e-12)

	// rrf_norm spans [0,1] across the batch.
	byID := map[string]rerankedFact{}
	for _, r := range ranked {
		byID[r.Fact.ID] = r
	}
	assert.InDelta(t, 1.0, byID["a"].Components.RRFNorm, 1e-12)
	assert.InDelta(t, 0.0, byID["c"].Components.RRFNorm, 1e-12)
	// Recency decays with age against now.
	assert.Greater(t, byID["a"].Components.Recency, byID["b"].Components.Recency)
}

func TestRerankFallbackWithoutCrossEncoder(t *testing.T) {
	e, fused, facts := rerankFixture(t)
	now := mustTime(t, "2024-06-01T00:00:00Z")
	e.cross = crossencoder.Func(func(context.Context, []crossencoder.Pair) ([]float64, error) {
		return nil, errors.New("scorer down")
	})

	ranked, ceOK := e.rerank(context.Background(), "b", Plan{Query: "q"}, fused, facts, now)
	require.False(t, ceOK)
	require.Len(t, ranked, 3)
	for _, r := range ranked {
		assert.Nil(t, r.Components.CrossEncoder, "downgrade must be recorded")
		want := r.Components.RRFNorm + r.Components.Recency + r.Components.Frequency
		assert.InDelta(t, want, r.Final, 1e-12)
	}
	// Fallback keeps fusion-dominant ordering.
	assert.Equal(t, "a", ranked[0].Fact.ID)
}

func TestAssembleTokenBudget(t *testing.T) {
	mk := func(id string, textLen int) rerankedFact {
		return rerankedFact{Fact: memory.Fact{ID: id, Text: strings.Repeat("x", textLen)}}
	}
	// 25 tokens each (100 chars / 4).
	ranked := []rerankedFact{mk("a", 100), mk("b", 100), mk("c", 100)}

	out := assemble(ranked, 10, 55)
	require.Len(t, out, 2, "third fact would exceed the budget")

	// Single-fact override: the top fact alone exceeds the cap but is still
	// returned.
	out = assemble(ranked, 10, 10)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Fact.ID)

	// TopK caps independently of tokens.
	out = assemble(ranked, 2, 1000)
	assert.Len(t, out, 2)

	assert.Empty(t, assemble(nil, 10, 100))
}

func TestAssembleCountsContextTokens(t *testing.T) {
	ranked := []rerankedFact{
		{Fact: memory.Fact{ID: "a", Text: strings.Repeat("x", 40), Context: strings.Repeat("y", 40)}},
		{Fact: memory.Fact{ID: "b", Text: strings.Repeat("x", 40)}},
	}
	// a costs 10+10, b costs 10; budget 30 admits both, 15 only a.
	assert.Len(t, assemble(ranked, 10, 30), 2)
	assert.Len(t, assemble(ranked, 10, 15), 1)
}
