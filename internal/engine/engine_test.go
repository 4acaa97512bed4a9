package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanvuongngo/hindsight/internal/crossencoder"
	"github.com/vanvuongngo/hindsight/internal/memory"
	"github.com/vanvuongngo/hindsight/internal/store"
)

// stubEmbedder returns fixed vectors per exact text, defaulting to the
// first axis so unknown texts still embed.
type stubEmbedder struct {
	dim  int
	vecs map[string][]float32
}

func (s stubEmbedder) Name() string   { return "stub" }
func (s stubEmbedder) Dimension() int { return s.dim }

func (s stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := s.vecs[t]; ok {
			out[i] = v
			continue
		}
		v := make([]float32, s.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

// zeroCrossEncoder scores every pair 0 so the fused signals decide.
func zeroCrossEncoder() crossencoder.CrossEncoder {
	return crossencoder.Func(func(_ context.Context, pairs []crossencoder.Pair) ([]float64, error) {
		return make([]float64, len(pairs)), nil
	})
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

// seedScenarioBank loads the two-fact Alice/Google fixture used by the
// simple scenarios.
func seedScenarioBank(t *testing.T) (*store.MemStore, stubEmbedder) {
	t.Helper()
	ms := store.NewMemStore()
	base := mustTime(t, "2024-05-01T00:00:00Z")
	require.NoError(t, ms.AddFact(memory.Fact{
		ID: "f1", BankID: "b", Type: memory.FactWorld,
		Text:        "Alice works at Google",
		Embedding:   []float32{1, 0, 0},
		MentionedAt: base,
		EntityRefs:  []string{"e-google"},
	}))
	require.NoError(t, ms.AddFact(memory.Fact{
		ID: "f2", BankID: "b", Type: memory.FactWorld,
		Text:        "Google is in Mountain View",
		Embedding:   []float32{0, 1, 0},
		MentionedAt: base,
		EntityRefs:  []string{"e-google"},
	}))
	ms.AddEntity(memory.Entity{ID: "e-google", BankID: "b", CanonicalName: "Google", MentionCount: 2})
	require.NoError(t, ms.AddLink(memory.Link{SourceID: "f1", TargetID: "f2", Type: memory.LinkEntity, Weight: 0.9}))

	emb := stubEmbedder{dim: 3, vecs: map[string][]float32{
		"Where does Alice work?": {1, 0, 0},
	}}
	return ms, emb
}

func newTestEngine(ms *store.MemStore, emb stubEmbedder, now time.Time) *Engine {
	return New(ms.AsStore(), emb, zeroCrossEncoder(), WithClock(fixedClock{at: now}))
}

// S1: simple world fact with a graph-surfaced neighbor.
func TestRecallSimpleWorldFact(t *testing.T) {
	ms, emb := seedScenarioBank(t)
	now := mustTime(t, "2024-06-01T00:00:00Z")
	eng := newTestEngine(ms, emb, now)

	resp, err := eng.Recall(context.Background(), "b", "Where does Alice work?", Options{Budget: BudgetMid, Trace: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "f1", resp.Results[0].FactID)
	assert.Equal(t, "f2", resp.Results[1].FactID, "graph strategy surfaces the neighbor via the shared entity")

	require.NotNil(t, resp.Trace)
	var graphTrace *StrategyTrace
	for i := range resp.Trace.RetrievalResults {
		if resp.Trace.RetrievalResults[i].MethodName == "graph" {
			graphTrace = &resp.Trace.RetrievalResults[i]
		}
	}
	require.NotNil(t, graphTrace)
	found := false
	for _, r := range graphTrace.Results {
		if r.FactID == "f2" {
			found = true
		}
	}
	assert.True(t, found)
}

// S2: temporal query restricts the temporal strategy but not semantic.
func TestRecallTemporalQuery(t *testing.T) {
	ms := store.NewMemStore()
	occ1 := mustTime(t, "2024-04-15T00:00:00Z")
	occ2 := mustTime(t, "2023-01-10T00:00:00Z")
	require.NoError(t, ms.AddFact(memory.Fact{
		ID: "f1", BankID: "b", Type: memory.FactWorld,
		Text:      "Alice started learning Rust",
		Embedding: []float32{1, 0, 0}, OccurredStart: &occ1, MentionedAt: occ1,
	}))
	require.NoError(t, ms.AddFact(memory.Fact{
		ID: "f2", BankID: "b", Type: memory.FactWorld,
		Text:      "Alice joined Google",
		Embedding: []float32{0.9, 0.43589, 0}, OccurredStart: &occ2, MentionedAt: occ2,
	}))
	emb := stubEmbedder{dim: 3, vecs: map[string][]float32{
		"What did Alice do last spring?": {1, 0, 0},
	}}
	now := mustTime(t, "2024-11-25T00:00:00Z")
	eng := newTestEngine(ms, emb, now)

	resp, err := eng.Recall(context.Background(), "b", "What did Alice do last spring?", Options{Trace: true, Now: now})
	require.NoError(t, err)
	require.NotNil(t, resp.Trace)

	require.NotNil(t, resp.Trace.Query.TemporalStart)
	assert.Equal(t, "2024-03-01", resp.Trace.Query.TemporalStart.Format("2006-01-02"))
	assert.Equal(t, "2024-05-31", resp.Trace.Query.TemporalEnd.Format("2006-01-02"))

	ids := map[string]bool{}
	for _, r := range resp.Results {
		ids[r.FactID] = true
	}
	assert.True(t, ids["f1"])

	for _, st := range resp.Trace.RetrievalResults {
		if st.MethodName != "temporal" {
			continue
		}
		for _, r := range st.Results {
			assert.NotEqual(t, "f2", r.FactID, "out-of-range fact must not come from the temporal strategy")
		}
	}
}

// S3: empty bank returns empty results without error.
func TestRecallEmptyBank(t *testing.T) {
	ms := store.NewMemStore()
	ms.AddBank("empty")
	eng := newTestEngine(ms, stubEmbedder{dim: 3}, mustTime(t, "2024-06-01T00:00:00Z"))

	resp, err := eng.Recall(context.Background(), "empty", "anything at all", Options{Trace: true})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	require.NotNil(t, resp.Trace)
	assert.Len(t, resp.Trace.RetrievalResults, 4, "one trace entry per strategy, active or not")
}

// S4: a larger budget visits strictly more nodes and the low-budget result
// is a subset of the high-budget result.
func TestRecallBudgetEscalation(t *testing.T) {
	ms := store.NewMemStore()
	base := mustTime(t, "2024-01-01T00:00:00Z")
	const n = 150
	for i := 0; i < n; i++ {
		require.NoError(t, ms.AddFact(memory.Fact{
			ID: fmt.Sprintf("n%03d", i), BankID: "b", Type: memory.FactWorld,
			Text: fmt.Sprintf("chain node %03d", i), Embedding: []float32{1, 0, 0},
			MentionedAt: base,
		}))
	}
	for i := 0; i < n-1; i++ {
		require.NoError(t, ms.AddLink(memory.Link{
			SourceID: fmt.Sprintf("n%03d", i), TargetID: fmt.Sprintf("n%03d", i+1),
			Type: memory.LinkEntity, Weight: 1.0,
		}))
	}
	now := mustTime(t, "2024-06-01T00:00:00Z")
	eng := newTestEngine(ms, stubEmbedder{dim: 3}, now)

	low, err := eng.Recall(context.Background(), "b", "chain node", Options{Budget: BudgetLow, Trace: true, Now: now})
	require.NoError(t, err)
	high, err := eng.Recall(context.Background(), "b", "chain node", Options{Budget: BudgetHigh, Trace: true, Now: now})
	require.NoError(t, err)

	assert.Less(t, low.Trace.Summary.TotalNodesVisited, high.Trace.Summary.TotalNodesVisited)
	assert.LessOrEqual(t, low.Trace.Summary.TotalNodesVisited, BudgetLow.Nodes())

	highIDs := map[string]bool{}
	for _, r := range high.Results {
		highIDs[r.FactID] = true
	}
	for _, r := range low.Results {
		assert.True(t, highIDs[r.FactID], "low-budget result %s missing from high-budget run", r.FactID)
	}
}

// S5: a tight token budget returns exactly the top fact.
func TestRecallTokenCap(t *testing.T) {
	ms := store.NewMemStore()
	base := mustTime(t, "2024-01-01T00:00:00Z")
	long := ""
	for i := 0; i < 50; i++ {
		long += "very long fact "
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, ms.AddFact(memory.Fact{
			ID: fmt.Sprintf("f%02d", i), BankID: "b", Type: memory.FactWorld,
			Text: long, Embedding: []float32{1, 0, 0}, MentionedAt: base,
		}))
	}
	eng := newTestEngine(ms, stubEmbedder{dim: 3}, mustTime(t, "2024-06-01T00:00:00Z"))

	resp, err := eng.Recall(context.Background(), "b", "long facts", Options{MaxTokens: 50})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1, "single-fact override under a tight token cap")
}

// slowIndexes delays index reads long enough to blow a short deadline.
type slowIndexes struct {
	*store.MemStore
	delay time.Duration
}

func (s slowIndexes) TopK(ctx context.Context, bank string, types []memory.FactType, vec []float32, k int, f store.VectorFilter) ([]store.Hit, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.MemStore.TopK(ctx, bank, types, vec, k, f)
}

func (s slowIndexes) Search(ctx context.Context, bank string, types []memory.FactType, q string, k int) ([]store.Hit, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.MemStore.Search(ctx, bank, types, q, k)
}

// S6: a deadline shorter than any store call fails with DeadlineExceeded.
func TestRecallDeadline(t *testing.T) {
	ms, emb := seedScenarioBank(t)
	slow := slowIndexes{MemStore: ms, delay: 250 * time.Millisecond}
	st := store.New(slow, slow, ms, ms)
	eng := New(st, emb, zeroCrossEncoder(), WithClock(fixedClock{at: mustTime(t, "2024-06-01T00:00:00Z")}))

	_, err := eng.Recall(context.Background(), "b", "Where does Alice work?", Options{Deadline: time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeadlineExceeded), "got %v", err)
}

func TestRecallInvalidQuery(t *testing.T) {
	ms, emb := seedScenarioBank(t)
	eng := newTestEngine(ms, emb, mustTime(t, "2024-06-01T00:00:00Z"))

	_, err := eng.Recall(context.Background(), "b", "   ", Options{})
	assert.True(t, errors.Is(err, ErrInvalidQuery))

	_, err = eng.Recall(context.Background(), "b", "q", Options{MaxTokens: -1})
	assert.True(t, errors.Is(err, ErrInvalidQuery))
}

func TestRecallBankNotFound(t *testing.T) {
	ms, emb := seedScenarioBank(t)
	eng := newTestEngine(ms, emb, mustTime(t, "2024-06-01T00:00:00Z"))

	_, err := eng.Recall(context.Background(), "nope", "anything", Options{})
	assert.True(t, errors.Is(err, store.ErrBankNotFound))
}

func TestRecallBankIsolation(t *testing.T) {
	ms, emb := seedScenarioBank(t)
	require.NoError(t, ms.AddFact(memory.Fact{
		ID: "other1", BankID: "other", Type: memory.FactWorld,
		Text: "Alice works at Google", Embedding: []float32{1, 0, 0},
		MentionedAt: mustTime(t, "2024-05-01T00:00:00Z"),
	}))
	eng := newTestEngine(ms, emb, mustTime(t, "2024-06-01T00:00:00Z"))

	resp, err := eng.Recall(context.Background(), "b", "Where does Alice work?", Options{})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotEqual(t, "other1", r.FactID)
	}
}

// failingLexical injects a single-strategy failure.
type failingLexical struct{}

func (failingLexical) Search(context.Context, string, []memory.FactType, string, int) ([]store.Hit, error) {
	return nil, errors.New("index corrupted")
}

func TestRecallDegradesOnStrategyFailure(t *testing.T) {
	ms, emb := seedScenarioBank(t)
	st := store.New(ms, failingLexical{}, ms, ms)
	eng := New(st, emb, zeroCrossEncoder(), WithClock(fixedClock{at: mustTime(t, "2024-06-01T00:00:00Z")}))

	resp, err := eng.Recall(context.Background(), "b", "Where does Alice work?", Options{Trace: true})
	require.NoError(t, err, "single strategy failure must not fail the request")
	assert.NotEmpty(t, resp.Results)

	require.NotNil(t, resp.Trace)
	var lexical *StrategyTrace
	for i := range resp.Trace.RetrievalResults {
		if resp.Trace.RetrievalResults[i].MethodName == "lexical" {
			lexical = &resp.Trace.RetrievalResults[i]
		}
	}
	require.NotNil(t, lexical)
	assert.NotEmpty(t, lexical.Error, "the downgrade must be recorded in the trace")
}

type failingEverything struct{ err error }

func (f failingEverything) TopK(context.Context, string, []memory.FactType, []float32, int, store.VectorFilter) ([]store.Hit, error) {
	return nil, f.err
}

func (f failingEverything) Search(context.Context, string, []memory.FactType, string, int) ([]store.Hit, error) {
	return nil, f.err
}

func TestRecallFailsWhenAllStrategiesFail(t *testing.T) {
	ms, emb := seedScenarioBank(t)
	broken := failingEverything{err: errors.New("backend down")}
	st := store.New(broken, broken, ms, ms)
	eng := New(st, emb, zeroCrossEncoder(), WithClock(fixedClock{at: mustTime(t, "2024-06-01T00:00:00Z")}))

	_, err := eng.Recall(context.Background(), "b", "Where does Alice work?", Options{})
	require.Error(t, err)
}

func TestRecallDeterminism(t *testing.T) {
	ms, emb := seedScenarioBank(t)
	now := mustTime(t, "2024-06-01T00:00:00Z")
	eng := newTestEngine(ms, emb, now)

	opts := Options{Trace: true, Now: now, Seed: 42}
	a, err := eng.Recall(context.Background(), "b", "Where does Alice work?", opts)
	require.NoError(t, err)
	b, err := eng.Recall(context.Background(), "b", "Where does Alice work?", opts)
	require.NoError(t, err)

	ja, err := json.Marshal(a.Results)
	require.NoError(t, err)
	jb, err := json.Marshal(b.Results)
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))

	// Traces match except for measured wall-clock durations.
	a.Trace.Summary.TotalDurationSeconds = 0
	b.Trace.Summary.TotalDurationSeconds = 0
	for i := range a.Trace.RetrievalResults {
		a.Trace.RetrievalResults[i].DurationSeconds = 0
		b.Trace.RetrievalResults[i].DurationSeconds = 0
	}
	ta, err := json.Marshal(a.Trace)
	require.NoError(t, err)
	tb, err := json.Marshal(b.Trace)
	require.NoError(t, err)
	assert.Equal(t, string(ta), string(tb))
}

func TestRecallObservationSidecar(t *testing.T) {
	ms, emb := seedScenarioBank(t)
	require.NoError(t, ms.AddFact(memory.Fact{
		ID: "obs1", BankID: "b", Type: memory.FactObservation,
		Text:        "Google dominates Alice's work stories",
		Embedding:   []float32{0, 0, 1},
		MentionedAt: mustTime(t, "2024-05-02T00:00:00Z"),
		EntityRefs:  []string{"e-google"},
	}))
	eng := newTestEngine(ms, emb, mustTime(t, "2024-06-01T00:00:00Z"))

	resp, err := eng.Recall(context.Background(), "b", "Where does Alice work?", Options{ObservationTokens: 256})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Observations)
	assert.Equal(t, "e-google", resp.Observations[0].EntityID)

	resp, err = eng.Recall(context.Background(), "b", "Where does Alice work?", Options{})
	require.NoError(t, err)
	assert.Empty(t, resp.Observations, "sidecars are opt-in")
}

func TestRecallScoreMonotonicity(t *testing.T) {
	ms, emb := seedScenarioBank(t)
	eng := newTestEngine(ms, emb, mustTime(t, "2024-06-01T00:00:00Z"))

	resp, err := eng.Recall(context.Background(), "b", "Where does Alice work?", Options{})
	require.NoError(t, err)
	for i := 1; i < len(resp.Results); i++ {
		assert.LessOrEqual(t, resp.Results[i].FinalScore, resp.Results[i-1].FinalScore)
	}
}

func TestRecallRerankPermutation(t *testing.T) {
	ms, emb := seedScenarioBank(t)
	eng := newTestEngine(ms, emb, mustTime(t, "2024-06-01T00:00:00Z"))

	resp, err := eng.Recall(context.Background(), "b", "Where does Alice work?", Options{Trace: true})
	require.NoError(t, err)
	require.NotNil(t, resp.Trace)

	fusedIDs := map[string]bool{}
	for _, f := range resp.Trace.RRFMerged {
		fusedIDs[f.FactID] = true
	}
	for _, r := range resp.Trace.Reranked {
		assert.True(t, fusedIDs[r.FactID], "reranked fact %s missing from rrf_merged", r.FactID)
		assert.Equal(t, r.RRFRank-r.RerankRank, r.RankChange)
	}
}
