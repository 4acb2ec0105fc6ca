package idempotency_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fitflowhq/fitflow/internal/shared/idempotency"
)

func TestBeginAdmitsFirstClaimOnly(t *testing.T) {
	ctx := context.Background()
	store := idempotency.NewMemoryStore(time.Minute)

	d, err := store.Begin(ctx, "evt-1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if d != idempotency.Admitted {
		t.Fatalf("expected Admitted, got %s", d)
	}

	d, err = store.Begin(ctx, "evt-1")
	if err != nil {
		t.Fatalf("second begin: %v", err)
	}
	if d != idempotency.InFlightElsewhere {
		t.Fatalf("expected InFlightElsewhere while claim is held, got %s", d)
	}
}

func TestCompleteMarksProcessed(t *testing.T) {
	ctx := context.Background()
	store := idempotency.NewMemoryStore(time.Minute)

	if _, err := store.Begin(ctx, "evt-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.Complete(ctx, "evt-1", "payment 7"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	d, err := store.Begin(ctx, "evt-1")
	if err != nil {
		t.Fatalf("begin after complete: %v", err)
	}
	if d != idempotency.AlreadyProcessed {
		t.Fatalf("expected AlreadyProcessed, got %s", d)
	}

	rec, ok := store.Get("evt-1")
	if !ok {
		t.Fatalf("expected stored record")
	}
	if rec.Status != idempotency.StatusProcessed || rec.Result != "payment 7" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestAbandonReleasesClaim(t *testing.T) {
	ctx := context.Background()
	store := idempotency.NewMemoryStore(time.Minute)

	if _, err := store.Begin(ctx, "evt-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.Abandon(ctx, "evt-1"); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	d, err := store.Begin(ctx, "evt-1")
	if err != nil {
		t.Fatalf("begin after abandon: %v", err)
	}
	if d != idempotency.Admitted {
		t.Fatalf("expected Admitted after abandon, got %s", d)
	}
}

func TestAbandonDoesNotEraseProcessed(t *testing.T) {
	ctx := context.Background()
	store := idempotency.NewMemoryStore(time.Minute)

	if _, err := store.Begin(ctx, "evt-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.Complete(ctx, "evt-1", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.Abandon(ctx, "evt-1"); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	d, err := store.Begin(ctx, "evt-1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if d != idempotency.AlreadyProcessed {
		t.Fatalf("processed record must survive abandon, got %s", d)
	}
}

func TestStaleClaimIsTakenOver(t *testing.T) {
	ctx := context.Background()
	store := idempotency.NewMemoryStore(10 * time.Millisecond)

	if _, err := store.Begin(ctx, "evt-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	d, err := store.Begin(ctx, "evt-1")
	if err != nil {
		t.Fatalf("begin after lease expiry: %v", err)
	}
	if d != idempotency.Admitted {
		t.Fatalf("expected takeover of stale claim, got %s", d)
	}

	rec, _ := store.Get("evt-1")
	if rec.Attempts != 2 {
		t.Fatalf("expected 2 attempts recorded, got %d", rec.Attempts)
	}
}

func TestConcurrentBeginAdmitsExactlyOne(t *testing.T) {
	ctx := context.Background()
	store := idempotency.NewMemoryStore(time.Minute)

	const workers = 16
	var wg sync.WaitGroup
	decisions := make([]idempotency.Decision, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := store.Begin(ctx, "evt-1")
			if err != nil {
				t.Errorf("begin: %v", err)
				return
			}
			decisions[i] = d
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, d := range decisions {
		if d == idempotency.Admitted {
			admitted++
		}
	}
	if admitted != 1 {
		t.Fatalf("expected exactly one admitted claim, got %d", admitted)
	}
}
