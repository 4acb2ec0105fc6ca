package resilience

import (
	"context"
	"sort"
	"time"

	"github.com/fitflowhq/fitflow/internal/shared/correlation"
)

const recentEventsMax = 100

type eventKind string

const (
	kindSuccess      eventKind = "success"
	kindFailure      eventKind = "failure"
	kindShortCircuit eventKind = "short_circuit"
)

// Event is one recorded call outcome, kept in a bounded ring buffer per
// dependency for the /resilience endpoint.
type Event struct {
	At            time.Time `json:"ts"`
	Kind          string    `json:"type"`
	Error         string    `json:"error,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

type stats struct {
	success             uint64
	fail                uint64
	shortCircuited      uint64
	retries             uint64
	consecutiveFailures int
	lastSuccess         time.Time
	lastError           string
	lastErrorAt         time.Time
	recent              []Event
}

func (s *stats) push(ev Event) {
	s.recent = append(s.recent, ev)
	if len(s.recent) > recentEventsMax {
		s.recent = s.recent[len(s.recent)-recentEventsMax:]
	}
}

func (e *Engine) record(ctx context.Context, id string, kind eventKind, gen int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.dep(id)
	now := e.now()
	ev := Event{At: now, Kind: string(kind), CorrelationID: correlation.Get(ctx)}

	switch kind {
	case kindSuccess:
		d.stats.success++
		d.stats.consecutiveFailures = 0
		d.stats.lastSuccess = now
		d.breaker.recordSuccess(now, gen)
	case kindFailure:
		d.stats.fail++
		d.stats.consecutiveFailures++
		d.stats.lastError = err.Error()
		d.stats.lastErrorAt = now
		ev.Error = err.Error()
		d.breaker.recordFailure(now, gen)
	case kindShortCircuit:
		d.stats.shortCircuited++
		ev.Error = err.Error()
	}
	d.stats.push(ev)
}

// DependencySnapshot is the externally visible view of one dependency's
// circuit and counters.
type DependencySnapshot struct {
	Dependency          string       `json:"dependency"`
	Circuit             CircuitState `json:"circuit"`
	Success             uint64       `json:"success"`
	Fail                uint64       `json:"fail"`
	ShortCircuited      uint64       `json:"short_circuited"`
	Retries             uint64       `json:"retries"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastSuccess         *time.Time   `json:"last_success,omitempty"`
	LastError           string       `json:"last_error,omitempty"`
	LastErrorAt         *time.Time   `json:"last_error_at,omitempty"`
	Recent              []Event      `json:"recent"`
}

func (e *Engine) Snapshot() []DependencySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]DependencySnapshot, 0, len(e.deps))
	for id, d := range e.deps {
		snap := DependencySnapshot{
			Dependency:          id,
			Circuit:             d.breaker.state,
			Success:             d.stats.success,
			Fail:                d.stats.fail,
			ShortCircuited:      d.stats.shortCircuited,
			Retries:             d.stats.retries,
			ConsecutiveFailures: d.stats.consecutiveFailures,
			LastError:           d.stats.lastError,
			Recent:              append([]Event(nil), d.stats.recent...),
		}
		if !d.stats.lastSuccess.IsZero() {
			t := d.stats.lastSuccess
			snap.LastSuccess = &t
		}
		if !d.stats.lastErrorAt.IsZero() {
			t := d.stats.lastErrorAt
			snap.LastErrorAt = &t
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dependency < out[j].Dependency })
	return out
}
