// Package resilience applies per-dependency timeouts, bounded retry with
// jittered exponential backoff, and circuit breaking to broker and database
// calls.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// ErrCircuitOpen is the fail-fast signal: the dependency's circuit is open
// and the operation was not attempted. Callers must back off until the
// cool-down elapses instead of retrying immediately.
var ErrCircuitOpen = errors.New("circuit open")

// RetriesExhaustedError wraps the last attempt's error once the retry budget
// for a dependency is spent.
type RetriesExhaustedError struct {
	Dependency string
	Attempts   int
	Err        error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Dependency, e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

type Policy struct {
	// AttemptTimeout bounds each attempt; exceeding it counts as a failure.
	AttemptTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration

	FailureThreshold int
	FailureWindow    time.Duration
	Cooldown         time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		AttemptTimeout:   3 * time.Second,
		MaxAttempts:      3,
		BackoffBase:      100 * time.Millisecond,
		BackoffMax:       2 * time.Second,
		FailureThreshold: 5,
		FailureWindow:    30 * time.Second,
		Cooldown:         10 * time.Second,
	}
}

// Engine owns one circuit breaker and one stats record per dependency id.
// Circuit state is process-local: no cross-instance coordination.
type Engine struct {
	mu     sync.Mutex
	policy Policy
	deps   map[string]*dependency

	// Injectable for tests.
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

type dependency struct {
	breaker *breaker
	stats   stats
}

func NewEngine(policy Policy) *Engine {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.FailureThreshold <= 0 {
		policy.FailureThreshold = 1
	}
	return &Engine{
		policy: policy,
		deps:   make(map[string]*dependency),
		now:    time.Now,
		sleep:  sleepCtx,
		jitter: defaultJitter,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// defaultJitter adds up to 50% random extra delay so fleets of instances do
// not retry in lockstep.
func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

func (e *Engine) dep(id string) *dependency {
	d, ok := e.deps[id]
	if !ok {
		d = &dependency{
			breaker: newBreaker(e.policy.FailureThreshold, e.policy.FailureWindow, e.policy.Cooldown),
		}
		e.deps[id] = d
	}
	return d
}

// Execute runs op against dependency id with retries. Only operations that
// are safe to retry belong here (publish, batch fetch, idempotent queries);
// use ExecuteOnce for side effects without idempotency protection.
func (e *Engine) Execute(ctx context.Context, id string, op func(ctx context.Context) error) error {
	return e.run(ctx, id, e.policy.MaxAttempts, op)
}

// ExecuteOnce applies the timeout and circuit breaker but never retries.
func (e *Engine) ExecuteOnce(ctx context.Context, id string, op func(ctx context.Context) error) error {
	return e.run(ctx, id, 1, op)
}

func (e *Engine) run(ctx context.Context, id string, maxAttempts int, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		admitted, gen := e.admit(id)
		if !admitted {
			e.record(ctx, id, kindShortCircuit, gen, ErrCircuitOpen)
			return fmt.Errorf("%s: %w", id, ErrCircuitOpen)
		}

		err := e.attempt(ctx, op)
		if err == nil {
			e.record(ctx, id, kindSuccess, gen, nil)
			return nil
		}
		lastErr = err
		e.record(ctx, id, kindFailure, gen, err)

		if attempt == maxAttempts {
			break
		}
		e.markRetry(id)
		if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
			return err
		}
	}
	if maxAttempts == 1 {
		return lastErr
	}
	return &RetriesExhaustedError{Dependency: id, Attempts: maxAttempts, Err: lastErr}
}

func (e *Engine) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if e.policy.AttemptTimeout <= 0 {
		return op(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, e.policy.AttemptTimeout)
	defer cancel()
	return op(actx)
}

// backoff returns the delay before retry number attempt+1: exponential from
// BackoffBase, capped at BackoffMax, plus jitter.
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.policy.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= e.policy.BackoffMax {
			d = e.policy.BackoffMax
			break
		}
	}
	if e.policy.BackoffMax > 0 && d > e.policy.BackoffMax {
		d = e.policy.BackoffMax
	}
	return e.jitter(d)
}

func (e *Engine) admit(id string) (bool, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dep(id).breaker.allow(e.now())
}

func (e *Engine) markRetry(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dep(id).stats.retries++
}

// CircuitState reports the current state for one dependency without
// admitting a call.
func (e *Engine) CircuitState(id string) CircuitState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dep(id).breaker.state
}

// OpenCircuits lists the dependencies whose circuit is currently open, for
// readiness reporting.
func (e *Engine) OpenCircuits() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for id, d := range e.deps {
		if d.breaker.state == CircuitOpen {
			out = append(out, id)
		}
	}
	return out
}
