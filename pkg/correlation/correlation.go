// Package correlation threads an opaque request id through a single
// top-level invocation so that log and storage records produced by
// different components can be tied together offline.
package correlation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// key is an unexported type to prevent collisions with context keys
// from other packages.
type key struct{}

var correlationKey = key{}

// NewID generates a fresh correlation id.
func NewID() string {
	return uuid.NewString()
}

// WithID returns a new context carrying the given correlation id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// Ensure returns a context that carries a correlation id, generating one
// if the context has none, together with the id in effect.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithID(ctx, id), id
}

// FromContext extracts the correlation id from a context. It returns the
// empty string when the context carries none.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	return ""
}

// Attr returns a slog attribute for the correlation id in the context,
// suitable for passing to any log call on the invocation path.
func Attr(ctx context.Context) slog.Attr {
	return slog.String("correlation_id", FromContext(ctx))
}

// Logger returns the given logger with the context's correlation id
// attached, so every record it emits is attributable to the invocation.
func Logger(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	id := FromContext(ctx)
	if id == "" {
		return logger
	}
	return logger.With("correlation_id", id)
}
