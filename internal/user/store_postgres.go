package user

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists users:
//
//	CREATE TABLE users (
//	    id         BIGSERIAL PRIMARY KEY,
//	    name       TEXT NOT NULL,
//	    email      TEXT NOT NULL,
//	    plan_id    INT,
//	    plan_name  TEXT,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Create(ctx context.Context, u User) (User, error) {
	const q = `
INSERT INTO users (name, email)
VALUES ($1, $2)
RETURNING id, created_at;
`
	err := s.db.QueryRowContext(ctx, q, u.Name, u.Email).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (User, error) {
	const q = `
SELECT id, name, email, COALESCE(plan_id, 0), COALESCE(plan_name, ''), created_at
FROM users
WHERE id = $1;
`
	var u User
	err := s.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Name, &u.Email, &u.PlanID, &u.PlanName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) SetPlan(ctx context.Context, id int64, planID int, planName string) (User, error) {
	const q = `
UPDATE users
SET plan_id = $2, plan_name = $3
WHERE id = $1
RETURNING id, name, email, plan_id, plan_name, created_at;
`
	var u User
	err := s.db.QueryRowContext(ctx, q, id, planID, planName).Scan(&u.ID, &u.Name, &u.Email, &u.PlanID, &u.PlanName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}
