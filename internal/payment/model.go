package payment

import "time"

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

type Payment struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	PlanID        int       `json:"plan_id"`
	PlanName      string    `json:"plan_name"`
	Amount        float64   `json:"amount"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transaction_id,omitempty"`
	// SourceKey is the idempotency key of the PlanSelected event that caused
	// this payment; one selection never creates two payments.
	SourceKey string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
