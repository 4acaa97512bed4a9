package embedder

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vanvuongngo/hindsight/internal/config"
)

// openaiEmbedder calls an OpenAI-compatible embeddings endpoint. Works
// against the hosted API as well as llama.cpp and similar self-hosted
// servers that speak the same protocol.
type openaiEmbedder struct {
	client openai.Client
	model  string
	dim    int
}

// NewOpenAI constructs an embedder for the configured endpoint. Embedding
// calls ride an otelhttp transport so their latency shows up under the
// recall span.
func NewOpenAI(cfg config.EmbedConfig) Embedder {
	opts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openaiEmbedder{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		dim:    cfg.Dimensions,
	}
}

func (o *openaiEmbedder) Name() string   { return o.model }
func (o *openaiEmbedder) Dimension() int { return o.dim }

func (o *openaiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			vec[j] = float32(x)
		}
		out[i] = vec
	}
	return out, nil
}
