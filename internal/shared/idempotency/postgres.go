package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore enforces the per-key claim with single-statement
// check-and-sets against a processed_events table, so it holds across
// processes and machines.
//
// Expected schema:
//
//	CREATE TABLE processed_events (
//	    idempotency_key TEXT PRIMARY KEY,
//	    status          TEXT NOT NULL,
//	    result          TEXT,
//	    attempts        INT NOT NULL DEFAULT 0,
//	    started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    processed_at    TIMESTAMPTZ,
//	    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	db    *sql.DB
	lease time.Duration
}

func NewPostgresStore(db *sql.DB, lease time.Duration) *PostgresStore {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &PostgresStore{db: db, lease: lease}
}

func (s *PostgresStore) Begin(ctx context.Context, key string) (Decision, error) {
	// Fresh key: the insert wins the claim.
	const insert = `
INSERT INTO processed_events (idempotency_key, status, attempts, started_at, updated_at)
VALUES ($1, 'in_flight', 1, now(), now())
ON CONFLICT (idempotency_key) DO NOTHING
RETURNING idempotency_key;
`
	var claimed string
	err := s.db.QueryRowContext(ctx, insert, key).Scan(&claimed)
	if err == nil {
		return Admitted, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return InFlightElsewhere, err
	}

	// Existing key: take over only a stale in-flight claim whose holder
	// exceeded the lease (crashed or timed out mid-handle).
	const takeover = `
UPDATE processed_events
SET attempts = attempts + 1, started_at = now(), updated_at = now()
WHERE idempotency_key = $1
  AND status = 'in_flight'
  AND started_at < now() - $2::interval
RETURNING idempotency_key;
`
	err = s.db.QueryRowContext(ctx, takeover, key, interval(s.lease)).Scan(&claimed)
	if err == nil {
		return Admitted, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return InFlightElsewhere, err
	}

	const status = `SELECT status FROM processed_events WHERE idempotency_key = $1;`
	var st string
	err = s.db.QueryRowContext(ctx, status, key).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		// Row vanished between statements: a concurrent Abandon. Let the
		// re-delivery attempt again.
		return InFlightElsewhere, nil
	}
	if err != nil {
		return InFlightElsewhere, err
	}
	if st == StatusProcessed {
		return AlreadyProcessed, nil
	}
	return InFlightElsewhere, nil
}

func (s *PostgresStore) Complete(ctx context.Context, key, result string) error {
	const q = `
UPDATE processed_events
SET status = 'processed', result = $2, processed_at = now(), updated_at = now()
WHERE idempotency_key = $1;
`
	_, err := s.db.ExecContext(ctx, q, key, result)
	return err
}

func (s *PostgresStore) Abandon(ctx context.Context, key string) error {
	const q = `
DELETE FROM processed_events
WHERE idempotency_key = $1 AND status = 'in_flight';
`
	_, err := s.db.ExecContext(ctx, q, key)
	return err
}

func interval(d time.Duration) string {
	return fmt.Sprintf("%fs", d.Seconds())
}
