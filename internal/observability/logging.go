// Package observability wires hindsight's ambient telemetry: the global
// zerolog logger and the OpenTelemetry exporters. Everything request-scoped
// (span-enriched loggers, instrumented HTTP transports) lives with the code
// that uses it; this package only owns process-wide setup.
package observability

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vanvuongngo/hindsight/internal/config"
)

// Setup configures the global zerolog logger: RFC3339Nano timestamps, a
// service field on every line, an optional log file, and the stdlib logger
// routed through zerolog so nothing bypasses structured output.
func Setup(cfg config.ObsConfig) error {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(parseLevel(cfg.LogLevel))

	w, err := logWriter(cfg.LogPath)
	if err != nil {
		return err
	}
	builder := zerolog.New(w).With().Timestamp()
	if cfg.ServiceName != "" {
		builder = builder.Str("service", cfg.ServiceName)
	}
	log.Logger = builder.Logger()

	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
	return nil
}

// logWriter opens the configured log file in append mode, or stdout when no
// path is set. A log file that cannot be opened is a configuration error,
// not something to silently fall back from.
func logWriter(path string) (io.Writer, error) {
	if path == "" {
		return os.Stdout, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("observability: open log file %q: %w", path, err)
	}
	return f, nil
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
