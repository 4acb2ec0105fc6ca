// Package correlation carries the request-scoped correlation id that ties a
// synchronous request to every event and log line in its causal chain.
package correlation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

const Header = "X-Correlation-Id"

type ctxKey struct{}

// New returns a freshly generated correlation id.
func New() string {
	return uuid.NewString()
}

func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func Get(ctx context.Context) string {
	v := ctx.Value(ctxKey{})
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Ensure returns the context's correlation id, generating and attaching a new
// one when none is present. Absence never fails.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := Get(ctx); id != "" {
		return ctx, id
	}
	id := New()
	return With(ctx, id), id
}

// Logger returns log with the context's correlation id attached, so every
// line emitted while handling a request or event carries it.
func Logger(ctx context.Context, log *slog.Logger) *slog.Logger {
	id := Get(ctx)
	if id == "" {
		return log
	}
	return log.With(slog.String("correlation_id", id))
}
