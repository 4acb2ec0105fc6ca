package health

import (
	"sync"

	"github.com/fitflowhq/fitflow/internal/shared/events"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomePublished    = "published"
	OutcomeConsumed     = "consumed"
	OutcomeDeduplicated = "deduplicated"
	OutcomeFailed       = "failed"
)

// Diagnostics is the process-wide counter registry: monotonically increasing
// per-event-type counts of published, consumed, deduplicated and failed
// events, reset only on restart. Counts are mirrored to Prometheus and
// snapshotted for /diag.
type Diagnostics struct {
	mu     sync.Mutex
	counts map[string]map[string]uint64 // event_type -> outcome -> count
	vec    *prometheus.CounterVec
}

func NewDiagnostics(reg prometheus.Registerer) *Diagnostics {
	d := &Diagnostics{
		counts: make(map[string]map[string]uint64),
		vec: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fitflow_events_total", Help: "Event outcomes by type."},
			[]string{"event_type", "outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(d.vec)
	}
	return d
}

func (d *Diagnostics) inc(eventType events.Type, outcome string) {
	t := string(eventType)
	if t == "" {
		t = "unknown"
	}

	d.mu.Lock()
	m, ok := d.counts[t]
	if !ok {
		m = make(map[string]uint64)
		d.counts[t] = m
	}
	m[outcome]++
	d.mu.Unlock()

	d.vec.WithLabelValues(t, outcome).Inc()
}

func (d *Diagnostics) Published(t events.Type)    { d.inc(t, OutcomePublished) }
func (d *Diagnostics) Consumed(t events.Type)     { d.inc(t, OutcomeConsumed) }
func (d *Diagnostics) Deduplicated(t events.Type) { d.inc(t, OutcomeDeduplicated) }
func (d *Diagnostics) Failed(t events.Type)       { d.inc(t, OutcomeFailed) }

// Snapshot returns a copy of all counters, keyed by event type then outcome.
func (d *Diagnostics) Snapshot() map[string]map[string]uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]map[string]uint64, len(d.counts))
	for t, m := range d.counts {
		c := make(map[string]uint64, len(m))
		for k, v := range m {
			c[k] = v
		}
		out[t] = c
	}
	return out
}
