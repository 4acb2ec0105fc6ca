package choreo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fitflowhq/fitflow/internal/shared/bus"
	"github.com/fitflowhq/fitflow/internal/shared/correlation"
	"github.com/fitflowhq/fitflow/internal/shared/events"
	"github.com/fitflowhq/fitflow/internal/shared/health"
	"github.com/fitflowhq/fitflow/internal/shared/idempotency"
	"github.com/fitflowhq/fitflow/internal/shared/resilience"
)

// Handler is one service's reaction to an event, invoked only after the
// idempotency guard admits the key. It returns a short result summary stored
// with the processed record. A failed handler must leave no committed
// partial side effect; the guard is abandoned and the message re-delivered.
type Handler func(ctx context.Context, env events.Envelope) (string, error)

// Loop pulls bounded batches from one subscription and dispatches each
// envelope through the handler table. Per-message errors never abort the
// loop: poison messages are acked and skipped, handler failures stay unacked
// for re-delivery.
type Loop struct {
	Log      *slog.Logger
	Sub      bus.Subscription
	Guard    idempotency.Store
	Engine   *resilience.Engine
	Diag     *health.Diagnostics
	Handlers map[events.Type]Handler

	// Dependency is the resilience id the batch fetch is charged against.
	Dependency string

	BatchSize      int
	HandlerTimeout time.Duration
	// RetryDelay is the pause after a failed fetch or an open circuit.
	RetryDelay time.Duration
}

func (l *Loop) Run(ctx context.Context) error {
	batchSize := l.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	retryDelay := l.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 300 * time.Millisecond
	}

	l.Log.Info("consumer_start", slog.String("dependency", l.Dependency))

	for {
		if ctx.Err() != nil {
			l.Log.Info("consumer_shutdown")
			return nil
		}

		var batch []bus.Delivery
		// The engine's attempt timeout doubles as the read window; an empty
		// window is idle, not a broker failure, so it must not feed the
		// circuit breaker. The loop itself is the retry, so no inner budget.
		err := l.Engine.ExecuteOnce(ctx, l.Dependency, func(fctx context.Context) error {
			got, ferr := l.Sub.Fetch(fctx, batchSize)
			if ferr != nil {
				if ctx.Err() == nil && errors.Is(ferr, context.DeadlineExceeded) {
					return nil
				}
				return ferr
			}
			batch = got
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				l.Log.Info("consumer_shutdown")
				return nil
			}
			if !errors.Is(err, resilience.ErrCircuitOpen) {
				l.Log.Error("batch_fetch_failed", slog.String("err", err.Error()))
			}
			sleep(ctx, retryDelay)
			continue
		}

		for _, d := range batch {
			l.handle(ctx, d)
		}
	}
}

func (l *Loop) handle(ctx context.Context, d bus.Delivery) {
	env, err := events.Decode(d.Value)
	if err != nil {
		// Malformed or unrecognized envelopes are acked so they cannot
		// wedge the stream; the failure is isolated to this message.
		var unknown *events.UnknownEventTypeError
		if errors.As(err, &unknown) {
			l.Log.Warn("event_skip_unknown_type",
				slog.String("event_type", unknown.EventType),
				slog.Int64("offset", d.Offset),
			)
		} else {
			l.Log.Error("event_decode_failed",
				slog.String("err", err.Error()),
				slog.Int64("offset", d.Offset),
			)
		}
		l.Diag.Failed(env.EventType)
		l.ack(ctx, d, l.Log)
		return
	}

	ctx = correlation.With(ctx, env.CorrelationID)
	log := correlation.Logger(ctx, l.Log).With(
		slog.String("event_type", string(env.EventType)),
		slog.String("idempotency_key", env.IdempotencyKey),
	)

	handler, ok := l.Handlers[env.EventType]
	if !ok {
		// No reaction registered for this type on this service.
		l.ack(ctx, d, log)
		return
	}

	decision, err := l.Guard.Begin(ctx, env.IdempotencyKey)
	if err != nil {
		// Guard store unreachable: leave unacked, re-delivery will retry.
		log.Error("idempotency_begin_failed", slog.String("err", err.Error()))
		return
	}

	switch decision {
	case idempotency.AlreadyProcessed:
		log.Info("event_skip_duplicate")
		l.Diag.Deduplicated(env.EventType)
		l.ack(ctx, d, log)
		return
	case idempotency.InFlightElsewhere:
		// Another instance holds the key; the visibility timeout requeues
		// this message for a later attempt.
		log.Info("event_in_flight_elsewhere")
		return
	}

	hctx := ctx
	var cancel context.CancelFunc = func() {}
	if l.HandlerTimeout > 0 {
		hctx, cancel = context.WithTimeout(ctx, l.HandlerTimeout)
	}
	result, err := handler(hctx, env)
	cancel()

	if err != nil {
		log.Error("event_handle_failed", slog.String("err", err.Error()))
		l.Diag.Failed(env.EventType)
		if aerr := l.Guard.Abandon(ctx, env.IdempotencyKey); aerr != nil {
			log.Error("idempotency_abandon_failed", slog.String("err", aerr.Error()))
		}
		return
	}

	if err := l.Guard.Complete(ctx, env.IdempotencyKey, result); err != nil {
		// Record stays in flight; the lease expiry recovers the key.
		log.Error("idempotency_complete_failed", slog.String("err", err.Error()))
		return
	}

	l.Diag.Consumed(env.EventType)
	l.ack(ctx, d, log)
	log.Info("event_processed", slog.String("result", result))
}

func (l *Loop) ack(ctx context.Context, d bus.Delivery, log *slog.Logger) {
	if err := l.Sub.Ack(ctx, d); err != nil {
		// Re-delivery after a failed ack is deduplicated by the guard.
		log.Error("event_ack_failed", slog.String("err", err.Error()), slog.Int64("offset", d.Offset))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
