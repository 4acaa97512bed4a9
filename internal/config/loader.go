package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration in three layers: the YAML file named by
// HINDSIGHT_CONFIG (when set), then environment variables, then defaults.
// A .env file in the working directory is loaded first with Overload so
// repository-local values deterministically control development runs.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}
	if path := strings.TrimSpace(os.Getenv("HINDSIGHT_CONFIG")); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		cfg, err = fromReader(f)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromReader decodes a YAML config from r, applies defaults, and validates.
// Useful in tests where configs are constructed from string literals.
func FromReader(r io.Reader) (Config, error) {
	cfg, err := fromReader(r)
	if err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromReader(r io.Reader) (Config, error) {
	cfg := Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr(&cfg.Server.Addr, "HINDSIGHT_ADDR")
	setStr(&cfg.Store.Backend, "HINDSIGHT_STORE_BACKEND")
	setStr(&cfg.Store.DefaultDSN, "DATABASE_URL")
	setStr(&cfg.Store.Vector.Backend, "HINDSIGHT_VECTOR_BACKEND")
	setStr(&cfg.Store.Vector.DSN, "HINDSIGHT_VECTOR_DSN")
	setStr(&cfg.Store.Collection, "HINDSIGHT_VECTOR_COLLECTION")
	setInt(&cfg.Store.Dimensions, "HINDSIGHT_EMBEDDING_DIMENSIONS")

	setStr(&cfg.Embeddings.BaseURL, "OPENAI_BASE_URL")
	setStr(&cfg.Embeddings.APIKey, "OPENAI_API_KEY")
	setStr(&cfg.Embeddings.Model, "HINDSIGHT_EMBEDDING_MODEL")
	setInt(&cfg.Embeddings.Dimensions, "HINDSIGHT_EMBEDDING_DIMENSIONS")
	if v := strings.TrimSpace(os.Getenv("HINDSIGHT_EMBEDDING_REDIS_ADDR")); v != "" {
		cfg.Embeddings.Redis.Enabled = true
		cfg.Embeddings.Redis.Addr = v
	}

	setStr(&cfg.Reranker.URL, "HINDSIGHT_RERANKER_URL")
	setStr(&cfg.Reranker.Model, "HINDSIGHT_RERANKER_MODEL")
	setInt(&cfg.Reranker.MaxConcurrency, "HINDSIGHT_RERANKER_CONCURRENCY")

	setStr(&cfg.Engine.Budget, "HINDSIGHT_BUDGET")
	setInt(&cfg.Engine.TopK, "HINDSIGHT_TOP_K")
	setInt(&cfg.Engine.MaxTokens, "HINDSIGHT_MAX_TOKENS")
	setDur(&cfg.Engine.Deadline, "HINDSIGHT_DEADLINE")
	setStr(&cfg.Engine.TemporalFallback, "HINDSIGHT_TEMPORAL_FALLBACK")

	setStr(&cfg.Trace.Sink, "HINDSIGHT_TRACE_SINK")
	setStr(&cfg.Trace.Path, "HINDSIGHT_TRACE_PATH")
	setStr(&cfg.Trace.Kafka.Brokers, "HINDSIGHT_TRACE_KAFKA_BROKERS")
	setStr(&cfg.Trace.Kafka.Topic, "HINDSIGHT_TRACE_KAFKA_TOPIC")

	setStr(&cfg.Observability.OTLP, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setStr(&cfg.Observability.LogLevel, "LOG_LEVEL")
	setStr(&cfg.Observability.LogPath, "HINDSIGHT_LOG_PATH")
	setStr(&cfg.Observability.Environment, "HINDSIGHT_ENV")
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDur(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
