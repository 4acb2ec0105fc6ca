// Package bus is the event stream client: append-only publish plus
// consumer-group batch fetch and per-message acknowledgment.
package bus

import (
	"context"
	"errors"
)

// ErrUnavailable is the terminal failure a caller sees once the resilience
// retry budget for the broker is exhausted. The caller must not assume the
// event was delivered.
var ErrUnavailable = errors.New("event bus unavailable")

// OffsetUnknown is returned by transports that acknowledge an append without
// reporting where it landed.
const OffsetUnknown int64 = -1

// Delivery is one fetched message. Value holds the encoded envelope; token
// is transport-specific state needed to acknowledge it.
type Delivery struct {
	Stream string
	Offset int64
	Value  []byte

	token any
}

type Publisher interface {
	// Publish appends the encoded envelope to stream and returns the offset
	// where it landed, or OffsetUnknown when the transport does not report
	// one. No downstream acknowledgment is awaited.
	Publish(ctx context.Context, stream string, value []byte) (int64, error)
	Close() error
}

// Subscription is a consumer-group cursor over one stream. Fetch returns at
// most max deliveries starting from the group's checkpoint; messages stay
// eligible for re-delivery until acked, which is what makes delivery
// at-least-once rather than at-most-once.
type Subscription interface {
	Fetch(ctx context.Context, max int) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	Close() error
}

type Bus interface {
	Publisher
	Subscribe(stream, group string) (Subscription, error)
}
