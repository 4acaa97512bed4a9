package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/vanvuongngo/hindsight/internal/memory"
)

// Qdrant only allows UUIDs and positive integers as point ids, so points are
// stored under a deterministic UUID derived from the fact id with the
// original id kept in the payload.
const payloadFactIDField = "_fact_id"

// QdrantVector is a VectorIndex backed by a Qdrant collection. It covers the
// vector operation only; compose it with the Postgres or memory backend for
// lexical, graph, and fact reads.
//
// Expected payload fields per point: _fact_id, bank_id, fact_type and an
// occurred_at unix timestamp (occurrence start, falling back to mention
// time) maintained by the ingestion pipeline. The time range is checked
// against occurred_at only; VectorFilter.RequireOccurred is not applied, so
// facts without an occurrence are not excluded by this backend.
type QdrantVector struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantVector connects to the Qdrant gRPC endpoint described by dsn
// (default port 6334, optional ?api_key=…).
func NewQdrantVector(dsn, collection string) (*QdrantVector, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("qdrant: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}
	return &QdrantVector{client: client, collection: collection}, nil
}

// Close shuts down the underlying gRPC connection.
func (q *QdrantVector) Close() { _ = q.client.Close() }

// PointID returns the deterministic point UUID for a fact id.
func PointID(factID string) string {
	if _, err := uuid.Parse(factID); err == nil {
		return factID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(factID)).String()
}

func (q *QdrantVector) TopK(ctx context.Context, bank string, types []memory.FactType, queryVec []float32, k int, filter VectorFilter) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	must := []*qdrant.Condition{
		qdrant.NewMatch("bank_id", bank),
	}
	typeNames := factTypeStrings(types)
	must = append(must, qdrant.NewMatchKeywords("fact_type", typeNames...))
	if filter.HasTimeRange() {
		must = append(must, qdrant.NewRange("occurred_at", &qdrant.Range{
			Gte: ptrFloat(float64(filter.OccurredStart.Unix())),
			Lte: ptrFloat(float64(filter.OccurredEnd.Unix())),
		}))
	}
	limit := uint64(k)
	threshold := float32(filter.MinSimilarity)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(queryVec),
		Limit:          &limit,
		ScoreThreshold: &threshold,
		Filter:         &qdrant.Filter{Must: must},
		WithPayload:    qdrant.NewWithPayloadInclude(payloadFactIDField),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	out := make([]Hit, 0, len(points))
	for _, p := range points {
		id := payloadString(p.Payload, payloadFactIDField)
		if id == "" {
			id = pointIDString(p.Id)
		}
		out = append(out, Hit{FactID: id, Score: float64(p.Score)})
	}
	return out, nil
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if s := id.GetUuid(); s != "" {
		return s
	}
	return strings.TrimSpace(strconv.FormatUint(id.GetNum(), 10))
}

func ptrFloat(f float64) *float64 { return &f }
