package bus

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errForeignDelivery = errors.New("ack: delivery does not belong to this subscription")

// MemoryBus is an in-process Bus with real consumer-group semantics: each
// group keeps its own checkpoint over an append-only log, fetched messages
// become invisible for VisibilityTimeout, and unacked messages are
// re-delivered once that window elapses. It backs tests and the
// single-process dev driver.
type MemoryBus struct {
	mu sync.Mutex

	visibility time.Duration
	streams    map[string][]memoryRecord
	groups     map[groupKey]*groupState

	closed bool
}

type memoryRecord struct {
	offset int64
	value  []byte
}

type groupKey struct {
	stream string
	group  string
}

type groupState struct {
	inflight map[int64]time.Time // offset -> redelivery deadline
	done     map[int64]bool
}

type memoryToken struct {
	key    groupKey
	offset int64
}

func NewMemoryBus(visibility time.Duration) *MemoryBus {
	if visibility <= 0 {
		visibility = 5 * time.Second
	}
	return &MemoryBus{
		visibility: visibility,
		streams:    make(map[string][]memoryRecord),
		groups:     make(map[groupKey]*groupState),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, stream string, value []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrUnavailable
	}
	v := make([]byte, len(value))
	copy(v, value)
	offset := int64(len(b.streams[stream]))
	b.streams[stream] = append(b.streams[stream], memoryRecord{offset: offset, value: v})
	return offset, nil
}

func (b *MemoryBus) Subscribe(stream, group string) (Subscription, error) {
	key := groupKey{stream: stream, group: group}
	b.mu.Lock()
	if _, ok := b.groups[key]; !ok {
		b.groups[key] = &groupState{
			inflight: make(map[int64]time.Time),
			done:     make(map[int64]bool),
		}
	}
	b.mu.Unlock()
	return &memorySubscription{bus: b, key: key}, nil
}

// Ping answers readiness probes; the in-process bus is reachable until
// closed.
func (b *MemoryBus) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrUnavailable
	}
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type memorySubscription struct {
	bus *MemoryBus
	key groupKey
}

// Fetch returns up to max visible messages, blocking (by polling) until at
// least one is available or ctx is done.
func (s *memorySubscription) Fetch(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	for {
		if out := s.bus.take(s.key, max); len(out) > 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (b *MemoryBus) take(key groupKey, max int) []Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()

	g := b.groups[key]
	log := b.streams[key.stream]
	now := time.Now()

	var out []Delivery
	for _, rec := range log {
		if len(out) >= max {
			break
		}
		if g.done[rec.offset] {
			continue
		}
		if deadline, ok := g.inflight[rec.offset]; ok && now.Before(deadline) {
			continue
		}
		g.inflight[rec.offset] = now.Add(b.visibility)
		out = append(out, Delivery{
			Stream: key.stream,
			Offset: rec.offset,
			Value:  rec.value,
			token:  memoryToken{key: key, offset: rec.offset},
		})
	}
	return out
}

func (s *memorySubscription) Ack(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tok, ok := d.token.(memoryToken)
	if !ok || tok.key != s.key {
		return errForeignDelivery
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	g := s.bus.groups[tok.key]
	g.done[tok.offset] = true
	delete(g.inflight, tok.offset)
	return nil
}

func (s *memorySubscription) Close() error { return nil }
