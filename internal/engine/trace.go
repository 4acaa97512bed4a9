package engine

import "time"

// Trace is the full structured record of a recall execution, sufficient to
// reproduce every ranking decision. Traces are deterministic for a given
// store snapshot, plan, and seed.
type Trace struct {
	Query            QueryTrace      `json:"query"`
	RetrievalResults []StrategyTrace `json:"retrieval_results"`
	RRFMerged        []FusedTrace    `json:"rrf_merged"`
	Reranked         []RerankTrace   `json:"reranked"`
	Visits           []VisitTrace    `json:"visits,omitempty"`
	Summary          TraceSummary    `json:"summary"`
	Seed             uint64          `json:"seed"`
}

// QueryTrace records the analyzed query.
type QueryTrace struct {
	QueryText        string     `json:"query_text"`
	TemporalStart    *time.Time `json:"temporal_start,omitempty"`
	TemporalEnd      *time.Time `json:"temporal_end,omitempty"`
	EmbeddingPresent bool       `json:"embedding_present"`
}

// StrategyTrace records one retrieval strategy's outcome, present whether or
// not the strategy produced results.
type StrategyTrace struct {
	MethodName      string          `json:"method_name"`
	DurationSeconds float64         `json:"duration_seconds"`
	Results         []StrategyEntry `json:"results"`
	Error           string          `json:"error,omitempty"`
}

// StrategyEntry is one candidate as ranked by a single strategy.
type StrategyEntry struct {
	Rank   int     `json:"rank"`
	FactID string  `json:"fact_id"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// FusedTrace is one entry of the reciprocal-rank-fused list.
type FusedTrace struct {
	FinalRRFRank int            `json:"final_rrf_rank"`
	FactID       string         `json:"fact_id"`
	Text         string         `json:"text"`
	RRFScore     float64        `json:"rrf_score"`
	SourceRanks  map[string]int `json:"source_ranks"`
}

// ScoreComponents breaks a final rerank score into its weighted parts.
// CrossEncoder is nil when the scorer was unavailable and the engine fell
// back to fusion-derived ranking.
type ScoreComponents struct {
	CrossEncoder *float64 `json:"cross_encoder"`
	RRFNorm      float64  `json:"rrf_norm"`
	Recency      float64  `json:"recency"`
	Frequency    float64  `json:"frequency"`
}

// RerankTrace is one entry of the reranked list.
type RerankTrace struct {
	RerankRank      int             `json:"rerank_rank"`
	RRFRank         int             `json:"rrf_rank"`
	RankChange      int             `json:"rank_change"`
	FactID          string          `json:"fact_id"`
	Text            string          `json:"text"`
	RerankScore     float64         `json:"rerank_score"`
	ScoreComponents ScoreComponents `json:"score_components"`
}

// VisitTrace records one node visited during spreading activation, with the
// activation path back to its entry point and the link weights along it.
type VisitTrace struct {
	NodeID         string    `json:"node_id"`
	ActivationPath []string  `json:"activation_path"`
	Weights        []float64 `json:"weights"`
	Activation     float64   `json:"activation"`
}

// TraceSummary aggregates the run.
type TraceSummary struct {
	TotalNodesVisited    int     `json:"total_nodes_visited"`
	EntryPointsFound     int     `json:"entry_points_found"`
	BudgetUsed           int     `json:"budget_used"`
	BudgetRemaining      int     `json:"budget_remaining"`
	ResultsReturned      int     `json:"results_returned"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
}
