// Package notify records the notifications produced at the end of the
// choreography chain.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fitflowhq/fitflow/internal/shared/choreo"
	"github.com/fitflowhq/fitflow/internal/shared/correlation"
	"github.com/fitflowhq/fitflow/internal/shared/events"
)

// Reactor records one notification per admitted event. Both reactions are
// terminal: nothing further is published.
type Reactor struct {
	Log   *slog.Logger
	Store *Store
}

func (r *Reactor) HandleUserRegistered(ctx context.Context, env events.Envelope) (string, error) {
	var reg events.UserRegisteredPayload
	if err := events.DecodePayload(env, &reg); err != nil {
		return "", err
	}

	n, err := r.Store.Add(ctx, Notification{
		UserID:        reg.UserID,
		Message:       fmt.Sprintf("welcome %s, your account is ready", reg.Name),
		CorrelationID: env.CorrelationID,
	})
	if err != nil {
		return "", err
	}

	correlation.Logger(ctx, r.Log).Info("notification_stored",
		slog.Int64("notification_id", n.ID),
		slog.Int64("user_id", n.UserID),
	)
	return fmt.Sprintf("notification %d", n.ID), nil
}

func (r *Reactor) HandlePaymentProcessed(ctx context.Context, env events.Envelope) (string, error) {
	var pay events.PaymentProcessedPayload
	if err := events.DecodePayload(env, &pay); err != nil {
		return "", err
	}

	n, err := r.Store.Add(ctx, Notification{
		UserID: pay.UserID,
		Message: fmt.Sprintf("payment %d for user %d is %s (amount %.2f)",
			pay.PaymentID, pay.UserID, pay.Status, pay.Amount),
		TransactionID: pay.TransactionID,
		CorrelationID: env.CorrelationID,
	})
	if err != nil {
		return "", err
	}

	correlation.Logger(ctx, r.Log).Info("notification_stored",
		slog.Int64("notification_id", n.ID),
		slog.Int64("user_id", n.UserID),
		slog.String("transaction_id", n.TransactionID),
	)
	return fmt.Sprintf("notification %d", n.ID), nil
}

// Handlers is notification-service's reaction table.
func (r *Reactor) Handlers() map[events.Type]choreo.Handler {
	return map[events.Type]choreo.Handler{
		events.UserRegistered:   r.HandleUserRegistered,
		events.PaymentProcessed: r.HandlePaymentProcessed,
	}
}
