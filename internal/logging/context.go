package logging

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey int

const correlationKey contextKey = iota

// WithCorrelationID returns a context carrying a fresh correlation ID unless
// the context already has one.
func WithCorrelationID(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if id := CorrelationIDFrom(ctx); id != "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, uuid.NewString())
}

// WithCorrelation annotates logger with the context's correlation ID, or
// returns it unchanged when the context has none.
func WithCorrelation(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := CorrelationIDFrom(ctx); id != "" {
		return logger.With(String(FieldCorrelationID, id))
	}
	return logger
}

// CorrelationIDFrom extracts the correlation ID, or "" when absent.
func CorrelationIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey).(string)
	return id
}
