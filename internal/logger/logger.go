// Package logger sets up structured zerolog logging with a service field and
// provides trace ID propagation through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// New builds a JSON logger writing to w. Unknown levels fall back to info.
func New(w io.Writer, service, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Init creates the service logger on stdout and installs it as the global
// zerolog logger, so log.Info() etc. carry the service field.
func Init(service, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := New(os.Stdout, service, level)
	log.Logger = logger
	return logger
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID creates a trace ID from a series key and bucket time.
// Format: "{key}-{unixNano}".
func GenerateTraceID(key string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", key, ts.UnixNano())
}

// LogWithTrace adds the context trace ID, if any, to an event.
// Usage: logger.LogWithTrace(ctx, log.Info()).Msg("...")
func LogWithTrace(ctx context.Context, ev *zerolog.Event) *zerolog.Event {
	if tid := TraceID(ctx); tid != "" {
		return ev.Str("trace_id", tid)
	}
	return ev
}
