package user

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("user not found")

type Store interface {
	Create(ctx context.Context, u User) (User, error)
	Get(ctx context.Context, id int64) (User, error)
	SetPlan(ctx context.Context, id int64, planID int, planName string) (User, error)
}

type InMemoryStore struct {
	mu   sync.RWMutex
	next int64
	byID map[int64]User
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[int64]User)}
}

func (s *InMemoryStore) Create(ctx context.Context, u User) (User, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	u.ID = s.next
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.byID[u.ID] = u
	return u, nil
}

func (s *InMemoryStore) Get(ctx context.Context, id int64) (User, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *InMemoryStore) SetPlan(ctx context.Context, id int64, planID int, planName string) (User, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	u.PlanID = planID
	u.PlanName = planName
	s.byID[id] = u
	return u, nil
}
