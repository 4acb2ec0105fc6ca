package events

import (
	"encoding/json"
	"fmt"
)

// DecodeError marks an envelope this consumer can never process: malformed
// JSON, missing required fields, or a schema newer than this build.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return "decode envelope: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnknownEventTypeError is distinct from DecodeError: the envelope itself is
// well-formed, the consumer just does not know the type and may skip it.
type UnknownEventTypeError struct {
	EventType string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.EventType)
}

func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode is pure: it inspects b and returns either a valid envelope or an
// error, with no side effects. Unknown JSON fields are ignored.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, &DecodeError{Reason: "invalid json", Err: err}
	}
	if env.IdempotencyKey == "" {
		return Envelope{}, &DecodeError{Reason: "idempotency_key is empty"}
	}
	if env.CorrelationID == "" {
		return Envelope{}, &DecodeError{Reason: "correlation_id is empty"}
	}
	if env.SchemaVersion > SchemaVersion {
		return Envelope{}, &DecodeError{
			Reason: fmt.Sprintf("schema_version %d is newer than supported %d", env.SchemaVersion, SchemaVersion),
		}
	}
	if !env.EventType.Known() {
		return Envelope{}, &UnknownEventTypeError{EventType: string(env.EventType)}
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into out.
func DecodePayload(env Envelope, out any) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return &DecodeError{Reason: "invalid payload for " + string(env.EventType), Err: err}
	}
	return nil
}
