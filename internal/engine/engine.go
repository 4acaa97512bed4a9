// Package engine implements hindsight's memory retrieval: four parallel
// strategies over a joint vector/inverted/graph index, reciprocal-rank
// fusion, cross-encoder reranking under a token budget, and a reproducible
// trace of every ranking decision.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vanvuongngo/hindsight/internal/crossencoder"
	"github.com/vanvuongngo/hindsight/internal/embedder"
	"github.com/vanvuongngo/hindsight/internal/memory"
	"github.com/vanvuongngo/hindsight/internal/store"
)

// Engine is the recall orchestrator. It holds no per-request state; every
// Recall call owns its activation maps, candidate lists, and trace, so
// concurrent calls share nothing but the read-only store handle and the
// singleton embedder and cross-encoder.
type Engine struct {
	store    *store.Store
	embedder embedder.Embedder
	cross    crossencoder.CrossEncoder
	queue    *crossencoder.Queue
	clock    Clock
	tracer   oteltrace.Tracer

	temporalFallback TemporalFallback
}

// Option configures the Engine during construction.
type Option func(*Engine)

// WithClock sets the clock used when Options.Now is zero.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithQueue routes cross-encoder calls through a bounded inference queue
// and enables backpressure shedding.
func WithQueue(q *crossencoder.Queue) Option {
	return func(e *Engine) {
		e.queue = q
		e.cross = q
	}
}

// WithTemporalFallback sets the default handling of occurrence-less facts
// in the temporal strategy.
func WithTemporalFallback(f TemporalFallback) Option {
	return func(e *Engine) { e.temporalFallback = f }
}

// New constructs an Engine over the given collaborators.
func New(st *store.Store, emb embedder.Embedder, cross crossencoder.CrossEncoder, opts ...Option) *Engine {
	e := &Engine{
		store:            st,
		embedder:         emb,
		cross:            cross,
		clock:            SystemClock{},
		tracer:           otel.Tracer("hindsight/engine"),
		temporalFallback: FallbackMentionedAt,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Recall answers a natural-language query against a bank: it analyzes the
// query, runs the retrieval strategies in parallel, fuses and reranks their
// candidates, and assembles a token-budgeted result list.
func (e *Engine) Recall(ctx context.Context, bankID, query string, opts Options) (RecallResponse, error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "recall")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return RecallResponse{}, fmt.Errorf("%w: empty query text (bank_id=%s)", ErrInvalidQuery, bankID)
	}
	if opts.MaxTokens < 0 {
		return RecallResponse{}, fmt.Errorf("%w: negative max_tokens (bank_id=%s)", ErrInvalidQuery, bankID)
	}
	if opts.TopK < 0 {
		return RecallResponse{}, fmt.Errorf("%w: negative top_k (bank_id=%s)", ErrInvalidQuery, bankID)
	}
	if opts.TemporalFallback == "" {
		opts.TemporalFallback = e.temporalFallback
	}
	opts = opts.withDefaults(e.clock.Now())
	seed := opts.Seed
	if seed == 0 {
		seed = deriveSeed(bankID, query)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Deadline)
	defer cancel()

	if err := e.store.ResolveBank(ctx, bankID); err != nil {
		if ctx.Err() != nil {
			return RecallResponse{}, fmt.Errorf("%w (bank_id=%s)", ErrDeadlineExceeded, bankID)
		}
		return RecallResponse{}, err
	}

	plan, err := e.buildPlan(ctx, query, opts)
	if err != nil {
		if ctx.Err() != nil {
			return RecallResponse{}, fmt.Errorf("%w (bank_id=%s)", ErrDeadlineExceeded, bankID)
		}
		return RecallResponse{}, err
	}

	if e.queue != nil && e.queue.ShouldShed(deadlineSlack(ctx)) {
		return RecallResponse{}, fmt.Errorf("%w: queue wait exceeds deadline slack (bank_id=%s)", ErrOverloaded, bankID)
	}

	runs := e.runStrategies(ctx, bankID, plan, opts)

	anyCandidates := false
	allFailed := true
	var firstErr error
	for _, run := range runs {
		if run.Err == nil {
			allFailed = false
		} else if firstErr == nil {
			firstErr = run.Err
		}
		if len(run.Candidates) > 0 {
			anyCandidates = true
		}
	}
	if ctx.Err() != nil && !anyCandidates {
		return RecallResponse{}, fmt.Errorf("%w (bank_id=%s)", ErrDeadlineExceeded, bankID)
	}
	if allFailed && len(runs) > 0 {
		return RecallResponse{}, fmt.Errorf("all retrieval strategies failed (bank_id=%s): %w", bankID, firstErr)
	}

	fused := fuseRRF(runs)

	facts, err := e.hydrateAll(ctx, bankID, runs, fused)
	if err != nil {
		return RecallResponse{}, err
	}

	ranked, _ := e.rerank(ctx, bankID, plan, fused, facts, opts.Now)
	final := assemble(ranked, opts.TopK, opts.MaxTokens)

	resp := RecallResponse{Results: make([]RecallResult, 0, len(final))}
	for _, r := range final {
		f := r.Fact
		res := RecallResult{
			FactID:        f.ID,
			Text:          f.Text,
			FactType:      f.Type,
			Context:       f.Context,
			OccurredStart: f.OccurredStart,
			OccurredEnd:   f.OccurredEnd,
			EntityRefs:    f.EntityRefs,
			FinalScore:    r.Final,
		}
		if !f.MentionedAt.IsZero() {
			m := f.MentionedAt
			res.MentionedAt = &m
		}
		resp.Results = append(resp.Results, res)
	}

	if opts.ObservationTokens > 0 {
		resp.Observations = e.observations(ctx, bankID, resp.Results, opts.ObservationTokens)
	}

	if opts.Trace {
		resp.Trace = buildTrace(plan, runs, fused, ranked, final, facts, seed, opts, time.Since(started))
	}

	logger(ctx).Debug().
		Str("bank_id", bankID).
		Int("results", len(resp.Results)).
		Dur("elapsed", time.Since(started)).
		Msg("recall_complete")
	return resp, nil
}

// runStrategies fans out one task per (strategy, fact type) and joins them.
// Failed tasks resolve to empty candidate lists; the join itself never
// fails.
func (e *Engine) runStrategies(ctx context.Context, bankID string, plan Plan, opts Options) []strategyRun {
	budget := newBudgetCounter(opts.Budget.Nodes())

	type task struct {
		method string
		ft     memory.FactType
	}
	var tasks []task
	for _, ft := range opts.FactTypes {
		tasks = append(tasks, task{methodSemantic, ft}, task{methodLexical, ft}, task{methodGraph, ft})
		if plan.Temporal != nil {
			tasks = append(tasks, task{methodTemporal, ft})
		}
	}

	runs := make([]strategyRun, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		g.Go(func() error {
			switch t.method {
			case methodSemantic:
				runs[i] = e.runSemantic(gctx, bankID, plan, t.ft)
			case methodLexical:
				runs[i] = e.runLexical(gctx, bankID, plan, t.ft)
			case methodGraph:
				runs[i] = e.runGraph(gctx, bankID, plan, t.ft, opts, budget, false)
			case methodTemporal:
				runs[i] = e.runGraph(gctx, bankID, plan, t.ft, opts, budget, true)
			}
			if runs[i].Err != nil {
				logger(gctx).Warn().Err(runs[i].Err).
					Str("bank_id", bankID).
					Str("method", runs[i].Method).
					Str("fact_type", string(t.ft)).
					Msg("retrieval_strategy_failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	// Stash the shared budget on the temporal/graph runs for the trace.
	for i := range runs {
		if runs[i].Method == methodGraph || runs[i].Method == methodTemporal {
			runs[i].budget = budget
		}
	}
	return runs
}

// observations fetches the entity observation sidecars for the entities the
// returned facts mention. Best-effort: a failing read drops the sidecar,
// never the response.
func (e *Engine) observations(ctx context.Context, bankID string, results []RecallResult, tokenCap int) []memory.EntityObservation {
	seen := map[string]bool{}
	var ids []string
	for _, r := range results {
		for _, ref := range r.EntityRefs {
			if !seen[ref] {
				seen[ref] = true
				ids = append(ids, ref)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	obs, err := e.store.EntityObservations(ctx, bankID, ids, tokenCap)
	if err != nil {
		logger(ctx).Warn().Err(err).Str("bank_id", bankID).
			Msg("entity_observations_unavailable")
		return nil
	}
	return obs
}

// hydrateAll fetches every fact cited by a strategy run or the fused list
// in one pass so trace building and reranking share the same snapshot.
func (e *Engine) hydrateAll(ctx context.Context, bankID string, runs []strategyRun, fused []fusedCandidate) (map[string]memory.Fact, error) {
	idSet := map[string]bool{}
	for _, run := range runs {
		for _, c := range run.Candidates {
			idSet[c.FactID] = true
		}
	}
	for _, fc := range fused {
		idSet[fc.FactID] = true
	}
	if len(idSet) == 0 {
		return map[string]memory.Fact{}, nil
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	facts := make(map[string]memory.Fact, len(ids))
	fetched, err := e.store.FetchFacts(ctx, bankID, ids)
	if err != nil {
		if errors.Is(err, store.ErrStoreDeadline) {
			return nil, fmt.Errorf("%w (bank_id=%s)", ErrDeadlineExceeded, bankID)
		}
		return nil, err
	}
	for _, f := range fetched {
		facts[f.ID] = f
	}
	return facts, nil
}

// buildTrace assembles the full retrieval trace. One strategy entry is
// emitted per method even when it ran for several fact-type partitions or
// did not run at all.
func buildTrace(plan Plan, runs []strategyRun, fused []fusedCandidate, ranked []rerankedFact, final []rerankedFact, facts map[string]memory.Fact, seed uint64, opts Options, total time.Duration) *Trace {
	tr := &Trace{Seed: seed}
	tr.Query = QueryTrace{QueryText: plan.Query, EmbeddingPresent: len(plan.Vector) > 0}
	if plan.Temporal != nil {
		s, e := plan.Temporal.Start, plan.Temporal.End
		tr.Query.TemporalStart = &s
		tr.Query.TemporalEnd = &e
	}

	var budget *budgetCounter
	entryPointsFound := 0
	nodesVisited := 0
	for _, method := range []string{methodSemantic, methodLexical, methodGraph, methodTemporal} {
		st := StrategyTrace{MethodName: method, Results: []StrategyEntry{}}
		var errs []string
		for _, run := range runs {
			if run.Method != method {
				continue
			}
			if run.Duration > time.Duration(st.DurationSeconds*float64(time.Second)) {
				st.DurationSeconds = run.Duration.Seconds()
			}
			if run.Err != nil {
				errs = append(errs, run.Err.Error())
			}
			for _, c := range run.Candidates {
				st.Results = append(st.Results, StrategyEntry{
					Rank:   c.Rank,
					FactID: c.FactID,
					Text:   facts[c.FactID].Text,
					Score:  c.Score,
				})
			}
			if method == methodGraph || method == methodTemporal {
				entryPointsFound += run.EntryPoints
				nodesVisited += run.NodesVisited
				tr.Visits = append(tr.Visits, run.Visits...)
				if run.budget != nil {
					budget = run.budget
				}
			}
		}
		if len(errs) > 0 {
			st.Error = strings.Join(errs, "; ")
		}
		tr.RetrievalResults = append(tr.RetrievalResults, st)
	}

	tr.RRFMerged = make([]FusedTrace, 0, len(fused))
	for _, fc := range fused {
		tr.RRFMerged = append(tr.RRFMerged, FusedTrace{
			FinalRRFRank: fc.RRFRank,
			FactID:       fc.FactID,
			Text:         facts[fc.FactID].Text,
			RRFScore:     fc.RRFScore,
			SourceRanks:  fc.SourceRanks,
		})
	}

	tr.Reranked = make([]RerankTrace, 0, len(ranked))
	for i, r := range ranked {
		rank := i + 1
		tr.Reranked = append(tr.Reranked, RerankTrace{
			RerankRank:      rank,
			RRFRank:         r.RRFRank,
			RankChange:      r.RRFRank - rank,
			FactID:          r.Fact.ID,
			Text:            r.Fact.Text,
			RerankScore:     r.Final,
			ScoreComponents: r.Components,
		})
	}

	tr.Summary = TraceSummary{
		TotalNodesVisited:    nodesVisited,
		EntryPointsFound:     entryPointsFound,
		ResultsReturned:      len(final),
		TotalDurationSeconds: total.Seconds(),
	}
	if budget != nil {
		tr.Summary.BudgetUsed = budget.used()
		tr.Summary.BudgetRemaining = budget.left()
	} else {
		tr.Summary.BudgetRemaining = opts.Budget.Nodes()
	}
	return tr
}
