package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fitflowhq/fitflow/internal/shared/correlation"
	"github.com/fitflowhq/fitflow/internal/shared/events"
)

// Sink enqueues events instead of publishing them directly; the relay owns
// the actual broker publish. Satisfies user.EventSink.
type Sink struct {
	Store *Store
}

func (s *Sink) Publish(ctx context.Context, stream string, t events.Type, idempotencyKey string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", t, err)
	}

	ctx, cid := correlation.Ensure(ctx)
	return s.Store.Enqueue(ctx, Record{
		Stream:         stream,
		EventType:      string(t),
		IdempotencyKey: idempotencyKey,
		CorrelationID:  cid,
		Payload:        raw,
	})
}
