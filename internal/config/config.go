// Package config aggregates runtime configuration for hindsight from a YAML
// file overlaid with environment variables (optionally loaded from .env).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration aggregate.
type Config struct {
	Server        ServerConfig   `yaml:"server"`
	Store         StoreConfig    `yaml:"store"`
	Embeddings    EmbedConfig    `yaml:"embeddings"`
	Reranker      RerankerConfig `yaml:"reranker"`
	Engine        EngineConfig   `yaml:"engine"`
	Trace         TraceConfig    `yaml:"trace"`
	Observability ObsConfig      `yaml:"observability"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// BackendConfig selects one store backend and its DSN.
type BackendConfig struct {
	// Backend is one of memory, postgres, auto; the vector backend also
	// accepts qdrant.
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

// StoreConfig configures the composite store adapter.
type StoreConfig struct {
	// DefaultDSN is used by any backend without its own DSN.
	DefaultDSN string        `yaml:"default_dsn"`
	Backend    string        `yaml:"backend"`
	Vector     BackendConfig `yaml:"vector"`
	// Collection names the Qdrant collection when the vector backend is
	// qdrant.
	Collection  string        `yaml:"collection"`
	Dimensions  int           `yaml:"dimensions"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// RedisConfig configures the optional shared embedding cache.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// EmbedConfig configures the embedding provider.
type EmbedConfig struct {
	BaseURL    string      `yaml:"base_url"`
	APIKey     string      `yaml:"api_key"`
	Model      string      `yaml:"model"`
	Dimensions int         `yaml:"dimensions"`
	Redis      RedisConfig `yaml:"redis"`
}

// RerankerConfig configures the cross-encoder endpoint and its inference
// queue.
type RerankerConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
	// MaxConcurrency bounds in-flight scoring calls; 0 means
	// min(GOMAXPROCS, 4).
	MaxConcurrency int `yaml:"max_concurrency"`
	// QueueThreshold is the queue depth beyond which backpressure applies.
	QueueThreshold int `yaml:"queue_threshold"`
}

// EngineConfig carries recall settings. Only TemporalFallback reaches the
// engine (through engine.WithTemporalFallback). Budget, TopK, MaxTokens and
// Deadline are defaulted and validated here but are not passed to the
// engine, which applies its own per-request defaults (mid, 10, 4096, 2s).
type EngineConfig struct {
	Budget           string        `yaml:"budget"`
	TopK             int           `yaml:"top_k"`
	MaxTokens        int           `yaml:"max_tokens"`
	Deadline         time.Duration `yaml:"deadline"`
	TemporalFallback string        `yaml:"temporal_fallback"`
}

// TraceConfig configures trace export.
type TraceConfig struct {
	// Sink is one of none, jsonl, kafka.
	Sink  string      `yaml:"sink"`
	Path  string      `yaml:"path"`
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig configures the Kafka trace publisher.
type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

// ObsConfig configures logging and OpenTelemetry export.
type ObsConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
	OTLP           string `yaml:"otlp"`
	LogLevel       string `yaml:"log_level"`
	LogPath        string `yaml:"log_path"`
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8321"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "auto"
	}
	if c.Store.Vector.Backend == "" {
		c.Store.Vector.Backend = c.Store.Backend
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "hindsight_facts"
	}
	if c.Store.CallTimeout <= 0 {
		c.Store.CallTimeout = 500 * time.Millisecond
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "text-embedding-3-small"
	}
	if c.Embeddings.Dimensions <= 0 {
		c.Embeddings.Dimensions = 1536
	}
	if c.Embeddings.Redis.TTL <= 0 {
		c.Embeddings.Redis.TTL = time.Hour
	}
	if c.Reranker.QueueThreshold <= 0 {
		c.Reranker.QueueThreshold = 32
	}
	if c.Engine.Budget == "" {
		c.Engine.Budget = "mid"
	}
	if c.Engine.TopK <= 0 {
		c.Engine.TopK = 10
	}
	if c.Engine.MaxTokens <= 0 {
		c.Engine.MaxTokens = 4096
	}
	if c.Engine.Deadline <= 0 {
		c.Engine.Deadline = 2 * time.Second
	}
	if c.Engine.TemporalFallback == "" {
		c.Engine.TemporalFallback = "mentioned_at"
	}
	if c.Trace.Sink == "" {
		c.Trace.Sink = "none"
	}
	if c.Trace.Path == "" {
		c.Trace.Path = "hindsight-traces.jsonl"
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "hindsight"
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
}

// Validate checks that the configuration is coherent. All failures are
// joined into one error.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "memory", "postgres", "pg", "auto":
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres, auto", c.Store.Backend))
	}
	switch c.Store.Vector.Backend {
	case "memory", "postgres", "pg", "auto", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("store.vector.backend %q is invalid; valid values: memory, postgres, auto, qdrant", c.Store.Vector.Backend))
	}
	switch c.Engine.Budget {
	case "low", "mid", "high":
	default:
		errs = append(errs, fmt.Errorf("engine.budget %q is invalid; valid values: low, mid, high", c.Engine.Budget))
	}
	switch c.Engine.TemporalFallback {
	case "mentioned_at", "exclude":
	default:
		errs = append(errs, fmt.Errorf("engine.temporal_fallback %q is invalid; valid values: mentioned_at, exclude", c.Engine.TemporalFallback))
	}
	switch c.Trace.Sink {
	case "none", "jsonl", "kafka":
	default:
		errs = append(errs, fmt.Errorf("trace.sink %q is invalid; valid values: none, jsonl, kafka", c.Trace.Sink))
	}
	if c.Trace.Sink == "kafka" && (c.Trace.Kafka.Brokers == "" || c.Trace.Kafka.Topic == "") {
		errs = append(errs, fmt.Errorf("trace.sink kafka requires trace.kafka.brokers and trace.kafka.topic"))
	}
	if c.Store.Vector.Backend == "qdrant" && c.Store.Vector.DSN == "" {
		errs = append(errs, fmt.Errorf("store.vector.backend qdrant requires store.vector.dsn"))
	}
	if len(errs) == 0 {
		return nil
	}
	msg := "config:"
	for _, e := range errs {
		msg += "\n  " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
