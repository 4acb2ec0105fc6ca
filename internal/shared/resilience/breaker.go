package resilience

import "time"

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// breaker is the per-dependency circuit state machine. Callers hold the
// engine's lock; breaker itself is not safe for concurrent use.
type breaker struct {
	state            CircuitState
	gen              int       // bumped on every open; stale outcomes carry an older gen
	failures         int       // failures within the current window
	windowStart      time.Time // start of the sliding failure window
	openUntil        time.Time // end of the cool-down while open
	trialInFlight    bool      // half-open admits a single trial call
	failureThreshold int
	window           time.Duration
	cooldown         time.Duration
}

func newBreaker(failureThreshold int, window, cooldown time.Duration) *breaker {
	return &breaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		window:           window,
		cooldown:         cooldown,
	}
}

// allow reports whether a call may proceed at time now, transitioning from
// open to half-open once the cool-down has elapsed. The returned generation
// must be passed back to recordSuccess/recordFailure so that an outcome
// arriving after the circuit has tripped again cannot mutate the new state.
func (b *breaker) allow(now time.Time) (bool, int) {
	switch b.state {
	case CircuitClosed:
		return true, b.gen
	case CircuitOpen:
		if now.Before(b.openUntil) {
			return false, b.gen
		}
		b.state = CircuitHalfOpen
		b.trialInFlight = true
		return true, b.gen
	case CircuitHalfOpen:
		if b.trialInFlight {
			return false, b.gen
		}
		b.trialInFlight = true
		return true, b.gen
	}
	return false, b.gen
}

func (b *breaker) recordSuccess(now time.Time, gen int) {
	if gen != b.gen {
		// Outcome of a call admitted before the circuit last tripped.
		return
	}
	b.state = CircuitClosed
	b.failures = 0
	b.windowStart = time.Time{}
	b.trialInFlight = false
}

func (b *breaker) recordFailure(now time.Time, gen int) {
	if gen != b.gen {
		return
	}
	if b.state == CircuitHalfOpen {
		// Failed trial call: back to open for another cool-down.
		b.open(now)
		return
	}

	if b.windowStart.IsZero() || now.Sub(b.windowStart) > b.window {
		b.windowStart = now
		b.failures = 0
	}
	b.failures++
	if b.failures >= b.failureThreshold {
		b.open(now)
	}
}

func (b *breaker) open(now time.Time) {
	b.state = CircuitOpen
	b.gen++
	b.openUntil = now.Add(b.cooldown)
	b.trialInFlight = false
}
