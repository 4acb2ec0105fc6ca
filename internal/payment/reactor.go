package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/fitflowhq/fitflow/internal/plan"
	"github.com/fitflowhq/fitflow/internal/shared/choreo"
	"github.com/fitflowhq/fitflow/internal/shared/correlation"
	"github.com/fitflowhq/fitflow/internal/shared/events"
)

// Reactor is payment-service's reaction to PlanSelected: charge the plan and
// emit PaymentProcessed carrying the transaction id, which becomes the next
// stage's idempotency key.
type Reactor struct {
	Log       *slog.Logger
	Store     Store
	Publisher *choreo.Publisher
	Stream    string
}

// HandlePlanSelected is safe under re-delivery end to end: the payment row
// is keyed by the event's idempotency key and the transaction id is fixed at
// first completion, so a retried publish repeats the same PaymentProcessed
// envelope instead of minting a new charge.
func (r *Reactor) HandlePlanSelected(ctx context.Context, env events.Envelope) (string, error) {
	var sel events.PlanSelectedPayload
	if err := events.DecodePayload(env, &sel); err != nil {
		return "", err
	}

	log := correlation.Logger(ctx, r.Log)

	// Price comes from the catalog, not the wire.
	p, ok := plan.ByID(sel.PlanID)
	if !ok {
		return "", fmt.Errorf("unknown plan %d for user %d", sel.PlanID, sel.UserID)
	}

	pay, err := r.Store.GetBySourceKey(ctx, env.IdempotencyKey)
	if errors.Is(err, ErrNotFound) {
		pay, err = r.Store.Create(ctx, Payment{
			UserID:    sel.UserID,
			PlanID:    p.ID,
			PlanName:  p.Name,
			Amount:    p.Price,
			Status:    StatusPending,
			SourceKey: env.IdempotencyKey,
		})
	}
	if err != nil {
		return "", fmt.Errorf("create payment: %w", err)
	}

	txn := pay.TransactionID
	if txn == "" {
		txn = newTransactionID()
	}
	pay, err = r.Store.Complete(ctx, pay.ID, txn)
	if err != nil {
		return "", fmt.Errorf("complete payment %d: %w", pay.ID, err)
	}

	log.Info("payment_processed",
		slog.Int64("payment_id", pay.ID),
		slog.Int64("user_id", pay.UserID),
		slog.String("transaction_id", pay.TransactionID),
		slog.Float64("amount", pay.Amount),
	)

	err = r.Publisher.Publish(ctx, r.Stream, events.PaymentProcessed, pay.TransactionID, events.PaymentProcessedPayload{
		PaymentID:     pay.ID,
		UserID:        pay.UserID,
		PlanID:        pay.PlanID,
		Status:        pay.Status,
		Amount:        pay.Amount,
		TransactionID: pay.TransactionID,
	})
	if err != nil {
		// The payment row stays committed; re-delivery re-publishes the
		// same envelope and downstream dedup absorbs any duplicate.
		return "", err
	}

	return "payment " + pay.TransactionID, nil
}

// Handlers is payment-service's reaction table.
func (r *Reactor) Handlers() map[events.Type]choreo.Handler {
	return map[events.Type]choreo.Handler{
		events.PlanSelected: r.HandlePlanSelected,
	}
}

func newTransactionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
