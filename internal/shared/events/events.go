// Package events defines the wire envelope shared by all fitflow services
// and the codec that turns it into bytes and back.
package events

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the highest envelope schema this build understands.
const SchemaVersion = 1

type Type string

const (
	UserRegistered   Type = "UserRegistered"
	PlanSelected     Type = "PlanSelected"
	PaymentProcessed Type = "PaymentProcessed"
)

func (t Type) Known() bool {
	switch t {
	case UserRegistered, PlanSelected, PaymentProcessed:
		return true
	}
	return false
}

// Envelope is immutable once published. IdempotencyKey is stable across
// re-deliveries of the same logical event and distinct across occurrences.
type Envelope struct {
	EventType      Type            `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	CorrelationID  string          `json:"correlation_id"`
	Timestamp      time.Time       `json:"timestamp"`
	SchemaVersion  int             `json:"schema_version"`
	Payload        json.RawMessage `json:"payload"`
}

type UserRegisteredPayload struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type PlanSelectedPayload struct {
	UserID   int64   `json:"user_id"`
	PlanID   int     `json:"plan_id"`
	PlanName string  `json:"plan_name"`
	Amount   float64 `json:"amount"`
}

type PaymentProcessedPayload struct {
	PaymentID     int64   `json:"payment_id"`
	UserID        int64   `json:"user_id"`
	PlanID        int     `json:"plan_id"`
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	TransactionID string  `json:"transaction_id"`
}

// New builds an envelope for payload, stamping the current schema version
// and a UTC timestamp truncated to milliseconds so encode/decode round-trips
// compare equal.
func New(t Type, correlationID, idempotencyKey string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventType:      t,
		IdempotencyKey: idempotencyKey,
		CorrelationID:  correlationID,
		Timestamp:      time.Now().UTC().Truncate(time.Millisecond),
		SchemaVersion:  SchemaVersion,
		Payload:        raw,
	}, nil
}
