// Package tracesink exports recall traces for offline analysis. Sinks are
// best-effort: a failing sink logs and drops, it never fails the request
// that produced the trace.
package tracesink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/vanvuongngo/hindsight/internal/config"
	"github.com/vanvuongngo/hindsight/internal/engine"
)

// Event is one exported recall trace with its request envelope.
type Event struct {
	RequestID string        `json:"request_id"`
	BankID    string        `json:"bank_id"`
	Query     string        `json:"query"`
	Timestamp time.Time     `json:"timestamp"`
	Trace     *engine.Trace `json:"trace"`
}

// Sink publishes trace events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// New resolves a sink from configuration. The "none" sink discards.
func New(cfg config.TraceConfig) (Sink, error) {
	switch cfg.Sink {
	case "", "none":
		return noopSink{}, nil
	case "jsonl":
		return NewJSONL(cfg.Path)
	case "kafka":
		return NewKafka(cfg.Kafka), nil
	}
	return nil, fmt.Errorf("tracesink: unsupported sink %q", cfg.Sink)
}

type noopSink struct{}

func (noopSink) Publish(context.Context, Event) error { return nil }
func (noopSink) Close() error                         { return nil }

// JSONLSink appends one JSON object per line to a file.
type JSONLSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewJSONL opens (or creates) the file in append mode.
func NewJSONL(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tracesink: open %q: %w", path, err)
	}
	return &JSONLSink{f: f}, nil
}

func (s *JSONLSink) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(append(payload, '\n'))
	return err
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// KafkaSink publishes trace events to a topic for async consumers.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafka builds a publisher for the configured brokers and topic.
func NewKafka(cfg config.KafkaConfig) *KafkaSink {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(ev.BankID), Value: payload, Time: ev.Timestamp}
	return s.writer.WriteMessages(ctx, msg)
}

func (s *KafkaSink) Close() error {
	if err := s.writer.Close(); err != nil {
		log.Warn().Err(err).Msg("trace_kafka_writer_close_failed")
		return err
	}
	return nil
}
