// Package crossencoder scores (query, document) pairs for reranking. The
// engine depends on the CrossEncoder interface only; the shipped client
// speaks the llama.cpp-style /v1/rerank protocol, and a process-wide Queue
// bounds inference concurrency and provides the backpressure signal.
package crossencoder

import "context"

// Pair is one (query, document) input to the scorer.
type Pair struct {
	Query string
	Text  string
}

// CrossEncoder scores pairs; higher is more relevant. Implementations must
// return exactly one score per pair, in input order.
type CrossEncoder interface {
	ScorePairs(ctx context.Context, pairs []Pair) ([]float64, error)
}

// Func adapts a plain function to the CrossEncoder interface.
type Func func(ctx context.Context, pairs []Pair) ([]float64, error)

// ScorePairs calls f.
func (f Func) ScorePairs(ctx context.Context, pairs []Pair) ([]float64, error) {
	return f(ctx, pairs)
}
