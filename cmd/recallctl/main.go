// Command recallctl runs one recall against a configured store and prints
// the ranked results (or the full trace) as JSON. Useful for smoke tests
// and ranking investigations without a running daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanvuongngo/hindsight/internal/config"
	"github.com/vanvuongngo/hindsight/internal/crossencoder"
	"github.com/vanvuongngo/hindsight/internal/embedder"
	"github.com/vanvuongngo/hindsight/internal/engine"
	"github.com/vanvuongngo/hindsight/internal/memory"
	"github.com/vanvuongngo/hindsight/internal/observability"
	"github.com/vanvuongngo/hindsight/internal/store"
)

var (
	flagBank      string
	flagQuery     string
	flagBudget    string
	flagTopK      int
	flagMaxTokens int
	flagTrace     bool
	flagNow       string
	flagDeadline  time.Duration
	flagSeed      uint64
	flagTypes     []string
	flagObsTokens int
)

func main() {
	root := &cobra.Command{
		Use:   "recallctl",
		Short: "Query a hindsight memory bank from the command line",
	}
	recallCmd := &cobra.Command{
		Use:   "recall",
		Short: "Run one recall and print results as JSON",
		RunE:  runRecall,
	}
	recallCmd.Flags().StringVar(&flagBank, "bank", "", "bank id (required)")
	recallCmd.Flags().StringVar(&flagQuery, "query", "", "query text (required)")
	recallCmd.Flags().StringVar(&flagBudget, "budget", "", "graph budget: low, mid, high")
	recallCmd.Flags().IntVar(&flagTopK, "top-k", 0, "max results after rerank")
	recallCmd.Flags().IntVar(&flagMaxTokens, "max-tokens", 0, "token budget for results")
	recallCmd.Flags().BoolVar(&flagTrace, "trace", false, "print the full retrieval trace")
	recallCmd.Flags().StringVar(&flagNow, "now", "", "anchor time, RFC 3339 (default wall clock)")
	recallCmd.Flags().DurationVar(&flagDeadline, "deadline", 0, "request deadline")
	recallCmd.Flags().Uint64Var(&flagSeed, "seed", 0, "tie-break seed (default derived)")
	recallCmd.Flags().StringSliceVar(&flagTypes, "fact-types", nil, "fact types to search (default all)")
	recallCmd.Flags().IntVar(&flagObsTokens, "observation-tokens", 0, "include entity observation sidecars up to this many tokens")
	_ = recallCmd.MarkFlagRequired("bank")
	_ = recallCmd.MarkFlagRequired("query")
	root.AddCommand(recallCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runRecall(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := observability.Setup(config.ObsConfig{LogLevel: "warn"}); err != nil {
		return err
	}

	ctx := cmd.Context()
	st, err := store.NewFromConfig(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	var emb embedder.Embedder
	if cfg.Embeddings.BaseURL == "" && cfg.Embeddings.APIKey == "" {
		emb = embedder.NewDeterministic(cfg.Embeddings.Dimensions, 0)
	} else {
		emb = embedder.NewOpenAI(cfg.Embeddings)
	}
	emb = embedder.WithCache(emb)

	var ce crossencoder.CrossEncoder
	if cfg.Reranker.URL != "" {
		ce = crossencoder.NewHTTP(cfg.Reranker)
	} else {
		ce = crossencoder.Func(func(context.Context, []crossencoder.Pair) ([]float64, error) {
			return nil, fmt.Errorf("no reranker configured")
		})
	}
	queue := crossencoder.NewQueue(ce, cfg.Reranker.MaxConcurrency, cfg.Reranker.QueueThreshold)

	eng := engine.New(st, emb, queue,
		engine.WithQueue(queue),
		engine.WithTemporalFallback(engine.TemporalFallback(cfg.Engine.TemporalFallback)),
	)

	opts := engine.Options{
		Budget:            engine.Budget(flagBudget),
		TopK:              flagTopK,
		MaxTokens:         flagMaxTokens,
		Trace:             flagTrace,
		Deadline:          flagDeadline,
		Seed:              flagSeed,
		ObservationTokens: flagObsTokens,
	}
	for _, ft := range flagTypes {
		t := memory.FactType(ft)
		if !t.Valid() {
			return fmt.Errorf("unknown fact type %q", ft)
		}
		opts.FactTypes = append(opts.FactTypes, t)
	}
	if flagNow != "" {
		now, err := time.Parse(time.RFC3339, flagNow)
		if err != nil {
			return fmt.Errorf("--now must be RFC 3339: %w", err)
		}
		opts.Now = now
	}

	resp, err := eng.Recall(ctx, flagBank, flagQuery, opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if flagTrace {
		return enc.Encode(resp)
	}
	return enc.Encode(resp.Results)
}
