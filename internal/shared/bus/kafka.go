package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers  []string
	ClientID string

	// StartOffset controls where a NEW consumer group starts reading when it
	// has no committed checkpoint. Supported values: "first" | "last".
	// Default: "first" so choreography consumers never miss events published
	// before the group existed.
	StartOffset string

	WriteTimeout time.Duration
	FetchMaxWait time.Duration

	MinBytes int
	MaxBytes int
}

// KafkaBus implements Bus over Kafka topics. One lazily-created writer per
// stream; one reader per subscription.
type KafkaBus struct {
	mu        sync.Mutex
	cfg       KafkaConfig
	writers   map[string]*kafka.Writer
	lastReset time.Time
}

func NewKafkaBus(cfg KafkaConfig) *KafkaBus {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.FetchMaxWait <= 0 {
		cfg.FetchMaxWait = 500 * time.Millisecond
	}
	return &KafkaBus{cfg: cfg, writers: make(map[string]*kafka.Writer)}
}

func (b *KafkaBus) newWriter(stream string) *kafka.Writer {
	// kafka-go caches broker metadata; when broker addresses change (e.g.
	// after fixing advertised.listeners), a long metadata TTL may keep
	// clients stuck until restart. Keep TTL low to self-heal.
	tr := &kafka.Transport{
		ClientID:    b.cfg.ClientID,
		MetadataTTL: 10 * time.Second,
	}

	return &kafka.Writer{
		Addr:         kafka.TCP(b.cfg.Brokers...),
		Topic:        stream,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 50 * time.Millisecond,
		Transport:    tr,
	}
}

func (b *KafkaBus) writer(stream string) *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.writers[stream]
	if !ok {
		w = b.newWriter(stream)
		b.writers[stream] = w
	}
	return w
}

func (b *KafkaBus) Publish(ctx context.Context, stream string, value []byte) (int64, error) {
	write := func() error {
		w := b.writer(stream)
		cctx, cancel := context.WithTimeout(ctx, b.cfg.WriteTimeout)
		defer cancel()
		return w.WriteMessages(cctx, kafka.Message{Value: value})
	}

	if err := write(); err != nil {
		// Self-heal common failure mode: advertised.listeners changed while
		// this producer is running (stale metadata). Recreate writer and
		// retry once.
		if shouldReset(err) {
			b.resetWriter(stream)
			if err2 := write(); err2 == nil {
				return OffsetUnknown, nil
			}
		}
		return 0, err
	}
	// The sync writer does not report the produced offset.
	return OffsetUnknown, nil
}

func shouldReset(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	suspects := []string{
		"dial tcp",
		"connection refused",
		"i/o timeout",
		"eof",
		"broken pipe",
		"transport is closing",
		"not leader",
		"unknown broker",
		"failed to dial",
	}
	for _, sub := range suspects {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func (b *KafkaBus) resetWriter(stream string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Rate-limit resets to avoid tight loops.
	if time.Since(b.lastReset) < 2*time.Second {
		return
	}
	if w, ok := b.writers[stream]; ok {
		_ = w.Close()
	}
	b.writers[stream] = b.newWriter(stream)
	b.lastReset = time.Now()
}

// Ping dials the first broker to answer readiness probes.
func (b *KafkaBus) Ping(ctx context.Context) error {
	if len(b.cfg.Brokers) == 0 {
		return errors.New("no brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", b.cfg.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

func (b *KafkaBus) Subscribe(stream, group string) (Subscription, error) {
	s := &kafkaSubscription{bus: b, stream: stream, group: group, frontier: newAckFrontier()}
	s.r = s.newReader()
	return s, nil
}

func (b *KafkaBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for stream, w := range b.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.writers, stream)
	}
	return firstErr
}

type kafkaSubscription struct {
	mu       sync.Mutex
	bus      *KafkaBus
	stream   string
	group    string
	r        *kafka.Reader
	frontier *ackFrontier
}

func (s *kafkaSubscription) newReader() *kafka.Reader {
	cfg := s.bus.cfg
	minB := cfg.MinBytes
	maxB := cfg.MaxBytes
	if minB == 0 {
		minB = 1
	}
	if maxB == 0 {
		maxB = 10e6
	}

	start := kafka.FirstOffset
	if strings.EqualFold(cfg.StartOffset, "last") {
		start = kafka.LastOffset
	}

	// MaxWait/Backoffs keep FetchMessage from hanging forever on transient
	// broker/metadata issues.
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          s.stream,
		GroupID:        s.group,
		StartOffset:    start,
		MinBytes:       minB,
		MaxBytes:       maxB,
		MaxWait:        cfg.FetchMaxWait,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: 1 * time.Second,
	})
}

func (s *kafkaSubscription) reader() *kafka.Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r
}

// Fetch blocks for the first message, then drains whatever else is already
// buffered, up to max. Never pulls more than max unacked messages at once.
func (s *kafkaSubscription) Fetch(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	r := s.reader()
	if r == nil {
		return nil, ErrUnavailable
	}

	first, err := r.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if shouldReset(err) {
			s.reopen()
		}
		return nil, err
	}

	out := []Delivery{s.toDelivery(first)}
	for len(out) < max {
		drainCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		msg, err := r.FetchMessage(drainCtx)
		cancel()
		if err != nil {
			break
		}
		out = append(out, s.toDelivery(msg))
	}
	return out, nil
}

func (s *kafkaSubscription) toDelivery(msg kafka.Message) Delivery {
	s.mu.Lock()
	s.frontier.observe(msg)
	s.mu.Unlock()
	return Delivery{Stream: s.stream, Offset: msg.Offset, Value: msg.Value, token: msg}
}

// Ack marks the delivery acked and commits the group checkpoint up to the
// end of the contiguous acked run on its partition. Kafka commits are
// cumulative: committing offset N implicitly acks everything before it, so
// a commit past a still-unacked delivery would silently drop that message.
// The frontier holds such commits back, keeping the unacked message eligible
// for re-delivery after a rebalance or restart.
func (s *kafkaSubscription) Ack(ctx context.Context, d Delivery) error {
	msg, ok := d.token.(kafka.Message)
	if !ok {
		return errors.New("ack: delivery does not belong to this subscription")
	}

	s.mu.Lock()
	r := s.r
	commit, ready := s.frontier.ack(msg)
	s.mu.Unlock()

	if r == nil {
		return ErrUnavailable
	}
	if !ready {
		return nil
	}
	return r.CommitMessages(ctx, commit)
}

// ackFrontier tracks acked offsets per partition and yields the highest
// offset safe to commit: the end of the contiguous prefix of acked fetched
// messages.
type ackFrontier struct {
	parts map[int]*partitionAcks
}

type partitionAcks struct {
	next  int64                   // lowest fetched offset not yet committed
	acked map[int64]kafka.Message // acked offsets at or beyond next
}

func newAckFrontier() *ackFrontier {
	return &ackFrontier{parts: make(map[int]*partitionAcks)}
}

func (f *ackFrontier) observe(msg kafka.Message) {
	p, ok := f.parts[msg.Partition]
	if !ok {
		f.parts[msg.Partition] = &partitionAcks{
			next:  msg.Offset,
			acked: make(map[int64]kafka.Message),
		}
		return
	}
	if msg.Offset < p.next {
		p.next = msg.Offset
	}
}

// ack records msg as acked and returns the message ending the contiguous
// acked run. ok is false while an earlier delivery on the same partition is
// still unacked; the commit is held until that gap closes.
func (f *ackFrontier) ack(msg kafka.Message) (commit kafka.Message, ok bool) {
	p, seen := f.parts[msg.Partition]
	if !seen {
		p = &partitionAcks{next: msg.Offset, acked: make(map[int64]kafka.Message)}
		f.parts[msg.Partition] = p
	}
	if msg.Offset < p.next {
		// Already covered by an earlier commit.
		return kafka.Message{}, false
	}
	p.acked[msg.Offset] = msg

	advanced := false
	for {
		m, found := p.acked[p.next]
		if !found {
			break
		}
		commit = m
		delete(p.acked, p.next)
		p.next++
		advanced = true
	}
	return commit, advanced
}

// reopen recreates the underlying reader with the original config. Useful
// when broker metadata becomes stale or on transient network errors. The
// frontier resets with it: the new reader resumes from the committed
// checkpoint, so uncommitted messages come back as fresh deliveries.
func (s *kafkaSubscription) reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.r != nil {
		_ = s.r.Close()
	}
	s.r = s.newReader()
	s.frontier = newAckFrontier()
}

func (s *kafkaSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.r == nil {
		return nil
	}
	err := s.r.Close()
	s.r = nil
	return err
}
