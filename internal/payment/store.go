package payment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("payment not found")

type Store interface {
	// Create persists a new payment keyed by its SourceKey.
	Create(ctx context.Context, p Payment) (Payment, error)
	// GetBySourceKey finds the payment a PlanSelected occurrence already
	// created, if any.
	GetBySourceKey(ctx context.Context, sourceKey string) (Payment, error)
	// Complete marks the payment completed with its transaction id.
	Complete(ctx context.Context, id int64, transactionID string) (Payment, error)
	ListByUser(ctx context.Context, userID int64) ([]Payment, error)
}

type InMemoryStore struct {
	mu    sync.RWMutex
	next  int64
	byID  map[int64]Payment
	byKey map[string]int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:  make(map[int64]Payment),
		byKey: make(map[string]int64),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, p Payment) (Payment, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[p.SourceKey]; ok {
		return s.byID[id], nil
	}

	s.next++
	p.ID = s.next
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.byID[p.ID] = p
	s.byKey[p.SourceKey] = p.ID
	return p, nil
}

func (s *InMemoryStore) GetBySourceKey(ctx context.Context, sourceKey string) (Payment, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[sourceKey]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *InMemoryStore) Complete(ctx context.Context, id int64, transactionID string) (Payment, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	if p.Status != StatusCompleted {
		p.Status = StatusCompleted
		p.TransactionID = transactionID
	}
	s.byID[id] = p
	return p, nil
}

func (s *InMemoryStore) ListByUser(ctx context.Context, userID int64) ([]Payment, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Payment
	for _, p := range s.byID {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
