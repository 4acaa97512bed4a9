package crossencoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vanvuongngo/hindsight/internal/config"
)

// rerankRequest is the payload for llama.cpp-compatible rerank endpoints.
type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	TopN      int      `json:"top_n"`
	Documents []string `json:"documents"`
}

// rerankResult is one document's score in the response.
type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Model   string         `json:"model"`
	Object  string         `json:"object"`
	Results []rerankResult `json:"results"`
}

// httpClient calls a rerank HTTP endpoint. All pairs in one call must share
// the same query, which is how the engine uses it.
type httpClient struct {
	url    string
	model  string
	client *http.Client
}

// NewHTTP constructs a cross-encoder client for the configured endpoint.
// Scoring calls ride an otelhttp transport so rerank latency shows up
// under the recall span.
func NewHTTP(cfg config.RerankerConfig) CrossEncoder {
	return &httpClient{
		url:   cfg.URL,
		model: cfg.Model,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (h *httpClient) ScorePairs(ctx context.Context, pairs []Pair) ([]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	docs := make([]string, len(pairs))
	for i, p := range pairs {
		docs[i] = p.Text
	}
	payload, err := json.Marshal(rerankRequest{
		Model:     h.model,
		Query:     pairs[0].Query,
		TopN:      len(pairs),
		Documents: docs,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank failed with status %d: %s", resp.StatusCode, string(body))
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	scores := make([]float64, len(pairs))
	for _, r := range rr.Results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.RelevanceScore
		}
	}
	return scores, nil
}
