package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vanvuongngo/hindsight/internal/memory"
)

// Plan is the normalized retrieval plan derived from the query text and
// options. Building a plan is pure given (text, now); the embedding comes
// from the Embedder, which is deterministic for identical input.
type Plan struct {
	Query     string
	Vector    []float32
	Temporal  *TimeRange
	FactTypes []memory.FactType
}

// buildPlan normalizes the query, embeds it, and detects a temporal range.
func (e *Engine) buildPlan(ctx context.Context, query string, opts Options) (Plan, error) {
	nq := normalizeQuery(query)
	vecs, err := e.embedder.EmbedBatch(ctx, []string{nq})
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return Plan{}, fmt.Errorf("%w: empty vector", ErrEmbeddingFailed)
	}
	return Plan{
		Query:     nq,
		Vector:    vecs[0],
		Temporal:  DetectTemporalRange(nq, opts.Now),
		FactTypes: opts.FactTypes,
	}, nil
}

// normalizeQuery collapses whitespace and trims. Case is kept for display;
// the index backends match case-insensitively.
func normalizeQuery(q string) string {
	s := strings.TrimSpace(q)
	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		if r == '\n' || r == '\t' || r == '\r' {
			r = ' '
		}
		if r == ' ' {
			if prevSpace {
				continue
			}
			prevSpace = true
		} else {
			prevSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Clock abstracts time so tests can run against a fixed instant.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock with time.Now.
type SystemClock struct{}

// Now returns the wall clock time.
func (SystemClock) Now() time.Time { return time.Now() }
