package embedder

import (
	"context"
	"sync"
)

// memCache decorates an Embedder with an in-process exact-text cache. The
// query analyzer is pure given the same text, so exact-match caching is both
// safe and the common hit path for repeated queries.
type memCache struct {
	inner Embedder

	mu    sync.RWMutex
	cache map[string][]float32
}

// WithCache wraps inner with an in-process exact-text cache.
func WithCache(inner Embedder) Embedder {
	return &memCache{inner: inner, cache: make(map[string][]float32)}
}

func (c *memCache) Name() string   { return c.inner.Name() }
func (c *memCache) Dimension() int { return c.inner.Dimension() }

func (c *memCache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	c.mu.RLock()
	for i, t := range texts {
		if v, ok := c.cache[t]; ok {
			out[i] = v
		} else {
			missing = append(missing, t)
			missingIdx = append(missingIdx, i)
		}
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}
	vecs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	for i, v := range vecs {
		c.cache[missing[i]] = v
		out[missingIdx[i]] = v
	}
	c.mu.Unlock()
	return out, nil
}
