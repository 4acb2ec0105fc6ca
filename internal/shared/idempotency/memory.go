package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps idempotency records in process memory. Used by
// notification-service (notifications carry no durability guarantee) and by
// tests. Mutual exclusion only holds within one process.
type MemoryStore struct {
	mu    sync.Mutex
	lease time.Duration
	byKey map[string]*Record
}

func NewMemoryStore(lease time.Duration) *MemoryStore {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &MemoryStore{lease: lease, byKey: make(map[string]*Record)}
}

func (s *MemoryStore) Begin(ctx context.Context, key string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return InFlightElsewhere, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rec, ok := s.byKey[key]
	if !ok {
		s.byKey[key] = &Record{Key: key, Status: StatusInFlight, Attempts: 1, RecordedAt: now}
		return Admitted, nil
	}

	switch rec.Status {
	case StatusProcessed:
		return AlreadyProcessed, nil
	case StatusInFlight:
		if now.Sub(rec.RecordedAt) > s.lease {
			// Stale claim: the previous holder never completed or abandoned.
			rec.Attempts++
			rec.RecordedAt = now
			return Admitted, nil
		}
		return InFlightElsewhere, nil
	}
	return InFlightElsewhere, nil
}

func (s *MemoryStore) Complete(ctx context.Context, key, result string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKey[key]
	if !ok {
		rec = &Record{Key: key}
		s.byKey[key] = rec
	}
	rec.Status = StatusProcessed
	rec.Result = result
	rec.RecordedAt = time.Now()
	return nil
}

// Abandon releases the mutual-exclusion claim so a future re-delivery can
// attempt the key again.
func (s *MemoryStore) Abandon(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKey[key]
	if ok && rec.Status == StatusInFlight {
		delete(s.byKey, key)
	}
	return nil
}

// Get returns the stored record for key, if any. Test helper.
func (s *MemoryStore) Get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byKey[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}
