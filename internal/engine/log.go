package engine

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// logger returns the global logger enriched with the active recall span so
// engine log lines correlate with exported traces.
func logger(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if sc := oteltrace.SpanContextFromContext(ctx); sc.HasTraceID() {
		c := l.With().Str("trace_id", sc.TraceID().String())
		if sc.HasSpanID() {
			c = c.Str("span_id", sc.SpanID().String())
		}
		l = c.Logger()
	}
	return &l
}
