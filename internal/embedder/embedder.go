// Package embedder converts text to dense vectors for the retrieval engine.
// The engine depends only on the Embedder interface so tests can substitute
// a deterministic implementation.
package embedder

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder converts texts into embedding vectors. Implementations must be
// deterministic for identical input and safe for concurrent use.
type Embedder interface {
	// EmbedBatch returns one embedding vector per input text.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns a model identifier string.
	Name() string
	// Dimension returns the embedding dimensionality.
	Dimension() int
}

// deterministicEmbedder hashes byte 3-grams into a fixed-size vector and
// L2-normalizes. It carries no semantics but is stable, which is what tests
// and offline development need.
type deterministicEmbedder struct {
	dim  int
	seed uint64
}

// NewDeterministic constructs a deterministic embedder with the given
// dimension. Seed perturbs the hashing.
func NewDeterministic(dim int, seed uint64) Embedder {
	if dim <= 0 {
		dim = 64
	}
	return &deterministicEmbedder{dim: dim, seed: seed}
}

func (d *deterministicEmbedder) Name() string   { return "deterministic" }
func (d *deterministicEmbedder) Dimension() int { return d.dim }

func (d *deterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministicEmbedder) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	if len(s) == 0 {
		return v
	}
	b := []byte(s)
	if len(b) < 3 {
		addGram(d.seed, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			addGram(d.seed, b[i:i+3], v)
		}
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum > 0 {
		inv := float32(1.0 / math.Sqrt(sum))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

func addGram(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	if seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	// Map the hash to a signed weight in [-1, 1].
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
