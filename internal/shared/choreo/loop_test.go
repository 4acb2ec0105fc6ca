package choreo_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fitflowhq/fitflow/internal/notify"
	"github.com/fitflowhq/fitflow/internal/payment"
	"github.com/fitflowhq/fitflow/internal/shared/bus"
	"github.com/fitflowhq/fitflow/internal/shared/choreo"
	"github.com/fitflowhq/fitflow/internal/shared/correlation"
	"github.com/fitflowhq/fitflow/internal/shared/events"
	"github.com/fitflowhq/fitflow/internal/shared/health"
	"github.com/fitflowhq/fitflow/internal/shared/idempotency"
	"github.com/fitflowhq/fitflow/internal/shared/resilience"
)

const (
	testUserStream    = "fitflow.user.events"
	testPaymentStream = "fitflow.payment.events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// The full chain under duplicate delivery: PlanSelected arrives twice with
// the same idempotency key, and the pipeline still produces exactly one
// payment, one PaymentProcessed, and one notification.
func TestPlanSelectedDeliveredTwiceIsProcessedOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := testLogger()
	b := bus.NewMemoryBus(time.Minute)
	engine := resilience.NewEngine(resilience.DefaultPolicy())
	diag := health.NewDiagnostics(nil)
	pub := &choreo.Publisher{Log: log, Bus: b, Engine: engine, Diag: diag}

	payStore := payment.NewInMemoryStore()
	payReactor := &payment.Reactor{Log: log, Store: payStore, Publisher: pub, Stream: testPaymentStream}
	paySub, err := b.Subscribe(testUserStream, "payment-service")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	payLoop := &choreo.Loop{
		Log:        log,
		Sub:        paySub,
		Guard:      idempotency.NewMemoryStore(time.Minute),
		Engine:     engine,
		Diag:       diag,
		Handlers:   payReactor.Handlers(),
		Dependency: "bus:" + testUserStream,
	}

	notifStore := notify.NewStore()
	notifReactor := &notify.Reactor{Log: log, Store: notifStore}
	notifSub, err := b.Subscribe(testPaymentStream, "notification-service")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	notifLoop := &choreo.Loop{
		Log:        log,
		Sub:        notifSub,
		Guard:      idempotency.NewMemoryStore(time.Minute),
		Engine:     engine,
		Diag:       diag,
		Handlers:   notifReactor.Handlers(),
		Dependency: "bus:" + testPaymentStream,
	}

	go payLoop.Run(ctx)
	go notifLoop.Run(ctx)

	pctx := correlation.With(ctx, "demo-001")
	sel := events.PlanSelectedPayload{UserID: 1, PlanID: 2, PlanName: "Plan Estándar", Amount: 49.99}
	for i := 0; i < 2; i++ {
		if err := pub.Publish(pctx, testUserStream, events.PlanSelected, "ps-dup-1", sel); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	waitFor(t, func() bool { return notifStore.CountForUser(1) == 1 }, "notification")
	waitFor(t, func() bool {
		return diag.Snapshot()[string(events.PlanSelected)][health.OutcomeDeduplicated] == 1
	}, "duplicate to be absorbed")

	pays, err := payStore.ListByUser(ctx, 1)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(pays) != 1 {
		t.Fatalf("expected exactly one payment, got %d", len(pays))
	}
	pay := pays[0]
	if pay.Status != payment.StatusCompleted {
		t.Fatalf("expected completed payment, got %q", pay.Status)
	}
	if pay.Amount != 49.99 || pay.PlanID != 2 {
		t.Fatalf("unexpected payment: %+v", pay)
	}
	if len(pay.TransactionID) != 16 {
		t.Fatalf("expected 16-char transaction id, got %q", pay.TransactionID)
	}

	notifs, err := notifStore.List(ctx)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifs) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(notifs))
	}
	if notifs[0].TransactionID != pay.TransactionID {
		t.Fatalf("notification transaction %q != payment transaction %q",
			notifs[0].TransactionID, pay.TransactionID)
	}
	if notifs[0].CorrelationID != "demo-001" {
		t.Fatalf("correlation id not propagated, got %q", notifs[0].CorrelationID)
	}
}

func TestLoopAcksMalformedMessageAndContinues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := testLogger()
	b := bus.NewMemoryBus(50 * time.Millisecond)
	engine := resilience.NewEngine(resilience.DefaultPolicy())
	diag := health.NewDiagnostics(nil)
	pub := &choreo.Publisher{Log: log, Bus: b, Engine: engine, Diag: diag}

	var handled atomic.Int64
	sub, err := b.Subscribe(testUserStream, "notification-service")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	loop := &choreo.Loop{
		Log:    log,
		Sub:    sub,
		Guard:  idempotency.NewMemoryStore(time.Minute),
		Engine: engine,
		Diag:   diag,
		Handlers: map[events.Type]choreo.Handler{
			events.UserRegistered: func(ctx context.Context, env events.Envelope) (string, error) {
				handled.Add(1)
				return "ok", nil
			},
		},
		Dependency: "bus:" + testUserStream,
	}
	go loop.Run(ctx)

	if _, err := b.Publish(ctx, testUserStream, []byte("{not json")); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}
	reg := events.UserRegisteredPayload{UserID: 1, Name: "Ana", Email: "ana@example.com"}
	if err := pub.Publish(ctx, testUserStream, events.UserRegistered, "usr-1", reg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return handled.Load() == 1 }, "valid event to be handled")

	// The malformed message was acked; the short visibility timeout would
	// have re-delivered it by now if it were still pending.
	time.Sleep(120 * time.Millisecond)
	if got := handled.Load(); got != 1 {
		t.Fatalf("expected 1 handled event, got %d", got)
	}
	if got := diag.Snapshot()["unknown"][health.OutcomeFailed]; got != 1 {
		t.Fatalf("expected 1 failed decode recorded, got %d", got)
	}
}

func TestLoopRedeliversAfterHandlerFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := testLogger()
	b := bus.NewMemoryBus(30 * time.Millisecond)
	engine := resilience.NewEngine(resilience.DefaultPolicy())
	diag := health.NewDiagnostics(nil)
	pub := &choreo.Publisher{Log: log, Bus: b, Engine: engine, Diag: diag}

	var calls atomic.Int64
	sub, err := b.Subscribe(testUserStream, "notification-service")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	loop := &choreo.Loop{
		Log:    log,
		Sub:    sub,
		Guard:  idempotency.NewMemoryStore(time.Minute),
		Engine: engine,
		Diag:   diag,
		Handlers: map[events.Type]choreo.Handler{
			events.UserRegistered: func(ctx context.Context, env events.Envelope) (string, error) {
				if calls.Add(1) == 1 {
					return "", errors.New("downstream hiccup")
				}
				return "ok", nil
			},
		},
		Dependency: "bus:" + testUserStream,
	}
	go loop.Run(ctx)

	reg := events.UserRegisteredPayload{UserID: 2, Name: "Luis", Email: "luis@example.com"}
	if err := pub.Publish(ctx, testUserStream, events.UserRegistered, "usr-2", reg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool {
		return diag.Snapshot()[string(events.UserRegistered)][health.OutcomeConsumed] == 1
	}, "event to succeed on re-delivery")
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 handler calls (failure then retry), got %d", got)
	}
}

func TestLoopAbandonsHandlerExceedingDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := testLogger()
	b := bus.NewMemoryBus(30 * time.Millisecond)
	engine := resilience.NewEngine(resilience.DefaultPolicy())
	diag := health.NewDiagnostics(nil)
	pub := &choreo.Publisher{Log: log, Bus: b, Engine: engine, Diag: diag}

	var calls atomic.Int64
	sub, err := b.Subscribe(testUserStream, "notification-service")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	loop := &choreo.Loop{
		Log:    log,
		Sub:    sub,
		Guard:  idempotency.NewMemoryStore(time.Minute),
		Engine: engine,
		Diag:   diag,
		Handlers: map[events.Type]choreo.Handler{
			events.UserRegistered: func(ctx context.Context, env events.Envelope) (string, error) {
				if calls.Add(1) == 1 {
					// A wedged downstream call: block until the handler
					// deadline cuts it off.
					<-ctx.Done()
					return "", ctx.Err()
				}
				return "ok", nil
			},
		},
		Dependency:     "bus:" + testUserStream,
		HandlerTimeout: 25 * time.Millisecond,
	}
	go loop.Run(ctx)

	reg := events.UserRegisteredPayload{UserID: 4, Name: "Iris", Email: "iris@example.com"}
	if err := pub.Publish(ctx, testUserStream, events.UserRegistered, "usr-4", reg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool {
		return diag.Snapshot()[string(events.UserRegistered)][health.OutcomeConsumed] == 1
	}, "event to succeed after the timed-out attempt is re-delivered")
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 handler calls (deadline expiry then retry), got %d", got)
	}
	if got := diag.Snapshot()[string(events.UserRegistered)][health.OutcomeFailed]; got != 1 {
		t.Fatalf("expected the timed-out attempt recorded as failed, got %d", got)
	}
}

func TestLoopAcksTypesWithoutHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := testLogger()
	b := bus.NewMemoryBus(30 * time.Millisecond)
	engine := resilience.NewEngine(resilience.DefaultPolicy())
	diag := health.NewDiagnostics(nil)
	pub := &choreo.Publisher{Log: log, Bus: b, Engine: engine, Diag: diag}

	var handled atomic.Int64
	sub, err := b.Subscribe(testUserStream, "payment-service")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	loop := &choreo.Loop{
		Log:    log,
		Sub:    sub,
		Guard:  idempotency.NewMemoryStore(time.Minute),
		Engine: engine,
		Diag:   diag,
		Handlers: map[events.Type]choreo.Handler{
			events.PlanSelected: func(ctx context.Context, env events.Envelope) (string, error) {
				handled.Add(1)
				return "ok", nil
			},
		},
		Dependency: "bus:" + testUserStream,
	}
	go loop.Run(ctx)

	// payment-service registers no reaction to UserRegistered; the message
	// must be acked, not re-delivered forever.
	reg := events.UserRegisteredPayload{UserID: 3, Name: "Eva", Email: "eva@example.com"}
	if err := pub.Publish(ctx, testUserStream, events.UserRegistered, "usr-3", reg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	sel := events.PlanSelectedPayload{UserID: 3, PlanID: 1, PlanName: "Plan Básico", Amount: 19.99}
	if err := pub.Publish(ctx, testUserStream, events.PlanSelected, "ps-3", sel); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return handled.Load() == 1 }, "handled event")
	time.Sleep(100 * time.Millisecond)
	if got := handled.Load(); got != 1 {
		t.Fatalf("expected only the PlanSelected event handled, got %d", got)
	}
}
