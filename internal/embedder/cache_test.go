package embedder

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	Embedder
	calls atomic.Int64
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	return c.Embedder.EmbedBatch(ctx, texts)
}

func TestCacheByExactText(t *testing.T) {
	inner := &countingEmbedder{Embedder: NewDeterministic(16, 0)}
	cached := WithCache(inner)
	ctx := context.Background()

	a, err := cached.EmbedBatch(ctx, []string{"hello", "world"})
	require.NoError(t, err)
	require.Len(t, a, 2)
	assert.Equal(t, int64(2), inner.calls.Load())

	b, err := cached.EmbedBatch(ctx, []string{"hello", "again"})
	require.NoError(t, err)
	assert.Equal(t, a[0], b[0])
	assert.Equal(t, int64(3), inner.calls.Load(), "only the miss reaches the inner embedder")

	// Exact-text only: whitespace variants are distinct keys.
	_, err = cached.EmbedBatch(ctx, []string{"hello "})
	require.NoError(t, err)
	assert.Equal(t, int64(4), inner.calls.Load())
}

func TestDeterministicEmbedderIsStable(t *testing.T) {
	e := NewDeterministic(32, 7)
	ctx := context.Background()
	a, err := e.EmbedBatch(ctx, []string{"same input"})
	require.NoError(t, err)
	b, err := e.EmbedBatch(ctx, []string{"same input"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := e.EmbedBatch(ctx, []string{"different input"})
	require.NoError(t, err)
	assert.NotEqual(t, a[0], c[0])
}
