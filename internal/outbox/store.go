// Package outbox makes event publication survive broker outages: domain
// facts are committed to Postgres alongside the local mutation and a relay
// drains them to the bus, so a request never loses its asynchronous side
// effect.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Record is one pending event.
//
//	CREATE TABLE outbox (
//	    id                    BIGSERIAL PRIMARY KEY,
//	    stream                TEXT NOT NULL,
//	    event_type            TEXT NOT NULL,
//	    idempotency_key       TEXT NOT NULL,
//	    correlation_id        TEXT NOT NULL,
//	    payload               JSONB NOT NULL,
//	    status                TEXT NOT NULL DEFAULT 'pending',
//	    attempts              INT NOT NULL DEFAULT 0,
//	    next_retry_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    processing_started_at TIMESTAMPTZ,
//	    last_error            TEXT,
//	    sent_at               TIMESTAMPTZ,
//	    created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type Record struct {
	ID             int64
	Stream         string
	EventType      string
	IdempotencyKey string
	CorrelationID  string
	Payload        json.RawMessage
	CreatedAt      time.Time
	Attempts       int
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Enqueue(ctx context.Context, rec Record) error {
	const q = `
INSERT INTO outbox (stream, event_type, idempotency_key, correlation_id, payload)
VALUES ($1, $2, $3, $4, $5);
`
	_, err := s.db.ExecContext(ctx, q, rec.Stream, rec.EventType, rec.IdempotencyKey, rec.CorrelationID, rec.Payload)
	return err
}

// ResetStuck requeues rows claimed by a relay that died mid-publish.
func (s *Store) ResetStuck(ctx context.Context, processingTimeout time.Duration) (int64, error) {
	if processingTimeout <= 0 {
		processingTimeout = 30 * time.Second
	}
	const q = `
UPDATE outbox
SET status = 'pending',
    processing_started_at = NULL,
    next_retry_at = now(),
    last_error = 'processing timeout'
WHERE status = 'processing'
  AND processing_started_at IS NOT NULL
  AND processing_started_at < now() - $1::interval;
`
	res, err := s.db.ExecContext(ctx, q, fmt.Sprintf("%fs", processingTimeout.Seconds()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ClaimPending(ctx context.Context, batchSize int) ([]Record, error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	const q = `
WITH cte AS (
  SELECT id
  FROM outbox
  WHERE status = 'pending'
    AND next_retry_at <= now()
  ORDER BY created_at
  LIMIT $1
  FOR UPDATE SKIP LOCKED
)
UPDATE outbox o
SET status = 'processing',
    processing_started_at = now(),
    attempts = attempts + 1,
    updated_at = now()
FROM cte
WHERE o.id = cte.id
RETURNING o.id, o.stream, o.event_type, o.idempotency_key, o.correlation_id, o.payload, o.created_at, o.attempts;
`

	rows, err := s.db.QueryContext(ctx, q, batchSize)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Stream, &rec.EventType, &rec.IdempotencyKey, &rec.CorrelationID, &rec.Payload, &rec.CreatedAt, &rec.Attempts); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) MarkSent(ctx context.Context, id int64) error {
	const q = `
UPDATE outbox
SET status = 'sent',
    sent_at = now(),
    processing_started_at = NULL,
    last_error = NULL,
    updated_at = now()
WHERE id = $1;
`
	_, err := s.db.ExecContext(ctx, q, id)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id int64, nextRetryAt time.Time, errMsg string) error {
	const q = `
UPDATE outbox
SET status = 'pending',
    processing_started_at = NULL,
    next_retry_at = $2,
    last_error = $3,
    updated_at = now()
WHERE id = $1;
`
	_, err := s.db.ExecContext(ctx, q, id, nextRetryAt, errMsg)
	return err
}

func (s *Store) LagSeconds(ctx context.Context) (float64, error) {
	const q = `
SELECT EXTRACT(EPOCH FROM (now() - created_at))
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
LIMIT 1;
`
	var v sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, q).Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return v.Float64, nil
}
