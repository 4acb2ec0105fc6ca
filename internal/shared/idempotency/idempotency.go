// Package idempotency converts at-least-once delivery into effectively-once
// processing: each logical event's key is admitted to exactly one handler,
// and completed keys are never re-executed.
package idempotency

import (
	"context"
	"time"
)

type Decision int

const (
	// Admitted: the caller owns the key and must call Complete on success or
	// Abandon on failure.
	Admitted Decision = iota
	// AlreadyProcessed: a prior handler finished this key; skip execution
	// and treat as success. Not an error.
	AlreadyProcessed
	// InFlightElsewhere: another handler instance holds the key right now;
	// leave the message unacked and retry after a short delay.
	InFlightElsewhere
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case AlreadyProcessed:
		return "already_processed"
	case InFlightElsewhere:
		return "in_flight_elsewhere"
	}
	return "unknown"
}

const (
	StatusInFlight  = "in_flight"
	StatusProcessed = "processed"
)

// Record is the stored view of one key.
type Record struct {
	Key        string
	Status     string
	Result     string
	Attempts   int
	RecordedAt time.Time
}

// Store is the single point of mutual exclusion between concurrent handler
// instances for a given key. Begin is an atomic check-and-set: at most one
// caller is Admitted while the key is in flight. An in-flight claim whose
// lease has expired (holder crashed or exceeded its deadline) may be taken
// over by a later Begin.
type Store interface {
	Begin(ctx context.Context, key string) (Decision, error)
	Complete(ctx context.Context, key, result string) error
	Abandon(ctx context.Context, key string) error
}
