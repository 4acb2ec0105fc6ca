package notify

import (
	"context"
	"sync"
	"time"
)

type Notification struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	Message       string    `json:"message"`
	TransactionID string    `json:"transaction_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store keeps notifications in process memory; they carry no durability
// guarantee and are lost on restart.
type Store struct {
	mu   sync.RWMutex
	next int64
	all  []Notification
}

func NewStore() *Store { return &Store{} }

func (s *Store) Add(ctx context.Context, n Notification) (Notification, error) {
	if err := ctx.Err(); err != nil {
		return Notification{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	n.ID = s.next
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.all = append(s.all, n)
	return n, nil
}

func (s *Store) List(ctx context.Context) ([]Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Notification, len(s.all))
	copy(out, s.all)
	return out, nil
}

// CountForUser reports how many notifications reference userID. Test helper.
func (s *Store) CountForUser(userID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, notif := range s.all {
		if notif.UserID == userID {
			n++
		}
	}
	return n
}
