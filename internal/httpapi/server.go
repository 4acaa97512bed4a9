// Package httpapi exposes recall over HTTP. The surface is deliberately
// thin: request decoding, option parsing, error-kind mapping, and nothing
// else. Authentication and rate limiting belong to the deployment host.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vanvuongngo/hindsight/internal/engine"
	"github.com/vanvuongngo/hindsight/internal/memory"
	"github.com/vanvuongngo/hindsight/internal/store"
	"github.com/vanvuongngo/hindsight/internal/tracesink"
)

// Server exposes the recall API.
type Server struct {
	engine *engine.Engine
	sink   tracesink.Sink
	mux    *http.ServeMux
}

// NewServer wires the HTTP surface to the engine and an optional trace
// sink.
func NewServer(eng *engine.Engine, sink tracesink.Sink) *Server {
	s := &Server{engine: eng, sink: sink, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/v1/recall", s.handleRecall)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// recallRequest is the wire form of a recall call. Timestamps are RFC 3339;
// embedding vectors are never part of the wire format.
type recallRequest struct {
	BankID            string   `json:"bank_id"`
	Query             string   `json:"query"`
	FactTypes         []string `json:"fact_types,omitempty"`
	Budget            string   `json:"budget,omitempty"`
	TopK              int      `json:"top_k,omitempty"`
	MaxTokens         int      `json:"max_tokens,omitempty"`
	Trace             bool     `json:"trace,omitempty"`
	Now               string   `json:"now,omitempty"`
	DeadlineMS        int      `json:"deadline_ms,omitempty"`
	Seed              uint64   `json:"seed,omitempty"`
	ObservationTokens int      `json:"observation_tokens,omitempty"`
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid_request", "malformed JSON body"))
		return
	}
	if req.BankID == "" {
		writeJSON(w, http.StatusBadRequest, errBody("invalid_request", "bank_id is required"))
		return
	}

	opts := engine.Options{
		Budget:            engine.Budget(req.Budget),
		TopK:              req.TopK,
		MaxTokens:         req.MaxTokens,
		Trace:             req.Trace,
		Seed:              req.Seed,
		ObservationTokens: req.ObservationTokens,
	}
	for _, ft := range req.FactTypes {
		t := memory.FactType(ft)
		if !t.Valid() {
			writeJSON(w, http.StatusBadRequest, errBody("invalid_query", "unknown fact_type "+ft))
			return
		}
		opts.FactTypes = append(opts.FactTypes, t)
	}
	if req.Now != "" {
		now, err := time.Parse(time.RFC3339, req.Now)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errBody("invalid_query", "now must be RFC 3339"))
			return
		}
		opts.Now = now
	}
	if req.DeadlineMS > 0 {
		opts.Deadline = time.Duration(req.DeadlineMS) * time.Millisecond
	}

	requestID := uuid.NewString()
	resp, err := s.engine.Recall(r.Context(), req.BankID, req.Query, opts)
	if err != nil {
		status, kind := mapError(err)
		log.Warn().
			Err(err).
			Str("bank_id", req.BankID).
			Str("request_id", requestID).
			Msg("recall_failed")
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "1")
		}
		writeJSON(w, status, errBody(kind, "recall failed; see kind"))
		return
	}

	if req.Trace && resp.Trace != nil && s.sink != nil {
		ev := tracesink.Event{
			RequestID: requestID,
			BankID:    req.BankID,
			Query:     req.Query,
			Timestamp: time.Now().UTC(),
			Trace:     resp.Trace,
		}
		if err := s.sink.Publish(r.Context(), ev); err != nil {
			log.Warn().Err(err).Str("request_id", requestID).Msg("trace_publish_failed")
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// mapError translates engine error kinds onto HTTP statuses.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, store.ErrBankNotFound):
		return http.StatusNotFound, "bank_not_found"
	case errors.Is(err, engine.ErrOverloaded):
		return http.StatusTooManyRequests, "overloaded"
	case errors.Is(err, engine.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded"
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, engine.ErrEmbeddingFailed):
		return http.StatusBadGateway, "embedding_failed"
	}
	return http.StatusInternalServerError, "internal"
}

func errBody(kind, msg string) map[string]string {
	return map[string]string{"error": kind, "message": msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
