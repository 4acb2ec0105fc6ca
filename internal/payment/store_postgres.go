package payment

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists payments:
//
//	CREATE TABLE payments (
//	    id             BIGSERIAL PRIMARY KEY,
//	    user_id        BIGINT NOT NULL,
//	    plan_id        INT NOT NULL,
//	    plan_name      TEXT NOT NULL,
//	    amount         DOUBLE PRECISION NOT NULL,
//	    status         TEXT NOT NULL DEFAULT 'pending',
//	    transaction_id TEXT,
//	    source_key     TEXT NOT NULL UNIQUE,
//	    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE INDEX payments_user_id_idx ON payments (user_id);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Create(ctx context.Context, p Payment) (Payment, error) {
	// The unique source_key makes creation idempotent under re-delivery.
	const q = `
INSERT INTO payments (user_id, plan_id, plan_name, amount, status, source_key)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (source_key) DO NOTHING
RETURNING id, created_at;
`
	err := s.db.QueryRowContext(ctx, q, p.UserID, p.PlanID, p.PlanName, p.Amount, p.Status, p.SourceKey).Scan(&p.ID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s.GetBySourceKey(ctx, p.SourceKey)
	}
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (s *PostgresStore) GetBySourceKey(ctx context.Context, sourceKey string) (Payment, error) {
	const q = `
SELECT id, user_id, plan_id, plan_name, amount, status, COALESCE(transaction_id, ''), source_key, created_at
FROM payments
WHERE source_key = $1;
`
	var p Payment
	err := s.db.QueryRowContext(ctx, q, sourceKey).Scan(
		&p.ID, &p.UserID, &p.PlanID, &p.PlanName, &p.Amount, &p.Status, &p.TransactionID, &p.SourceKey, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id int64, transactionID string) (Payment, error) {
	// Completion is a no-op for an already-completed payment, preserving the
	// original transaction id across retries.
	const q = `
UPDATE payments
SET status = 'completed',
    transaction_id = COALESCE(transaction_id, $2)
WHERE id = $1
RETURNING id, user_id, plan_id, plan_name, amount, status, transaction_id, source_key, created_at;
`
	var p Payment
	err := s.db.QueryRowContext(ctx, q, id, transactionID).Scan(
		&p.ID, &p.UserID, &p.PlanID, &p.PlanName, &p.Amount, &p.Status, &p.TransactionID, &p.SourceKey, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID int64) ([]Payment, error) {
	const q = `
SELECT id, user_id, plan_id, plan_name, amount, status, COALESCE(transaction_id, ''), source_key, created_at
FROM payments
WHERE user_id = $1
ORDER BY created_at DESC;
`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.UserID, &p.PlanID, &p.PlanName, &p.Amount, &p.Status, &p.TransactionID, &p.SourceKey, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
