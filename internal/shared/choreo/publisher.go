// Package choreo is the choreography runtime: a resilience-wrapped event
// publisher and a pull-based consumer loop that dispatches envelopes to
// per-event-type handlers behind the idempotency guard.
package choreo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fitflowhq/fitflow/internal/shared/bus"
	"github.com/fitflowhq/fitflow/internal/shared/correlation"
	"github.com/fitflowhq/fitflow/internal/shared/events"
	"github.com/fitflowhq/fitflow/internal/shared/health"
	"github.com/fitflowhq/fitflow/internal/shared/resilience"
)

// Publisher stamps the active correlation id onto outbound envelopes and
// publishes them through the resilience engine.
type Publisher struct {
	Log    *slog.Logger
	Bus    bus.Publisher
	Engine *resilience.Engine
	Diag   *health.Diagnostics
}

// Publish encodes payload into an envelope and appends it to stream. Once
// the retry budget for the broker is exhausted the error is terminal
// bus.ErrUnavailable: the caller must not assume the event was delivered.
func (p *Publisher) Publish(ctx context.Context, stream string, t events.Type, idempotencyKey string, payload any) error {
	ctx, cid := correlation.Ensure(ctx)

	env, err := events.New(t, cid, idempotencyKey, payload)
	if err != nil {
		return fmt.Errorf("build %s envelope: %w", t, err)
	}
	raw, err := events.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", t, err)
	}

	log := correlation.Logger(ctx, p.Log)
	depID := "bus:" + stream

	var offset int64
	err = p.Engine.Execute(ctx, depID, func(ctx context.Context) error {
		var perr error
		offset, perr = p.Bus.Publish(ctx, stream, raw)
		return perr
	})
	if err != nil {
		if p.Diag != nil {
			p.Diag.Failed(t)
		}
		log.Error("event_publish_failed",
			slog.String("event_type", string(t)),
			slog.String("stream", stream),
			slog.String("err", err.Error()),
		)
		var exhausted *resilience.RetriesExhaustedError
		if errors.As(err, &exhausted) {
			return fmt.Errorf("publish %s to %s: %w: %v", t, stream, bus.ErrUnavailable, err)
		}
		return fmt.Errorf("publish %s to %s: %w", t, stream, err)
	}

	if p.Diag != nil {
		p.Diag.Published(t)
	}
	log.Info("event_published",
		slog.String("event_type", string(t)),
		slog.String("stream", stream),
		slog.String("idempotency_key", idempotencyKey),
		slog.Int64("offset", offset),
	)
	return nil
}
