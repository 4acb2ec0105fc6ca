// Package health aggregates liveness, dependency readiness and the
// process-wide event diagnostics counters.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fitflowhq/fitflow/internal/shared/resilience"
)

const (
	statusUnknown = "unknown"
	statusUp      = "up"
	statusDown    = "down"
)

// Checker probes one dependency's reachability.
type Checker func(ctx context.Context) error

type probeResult struct {
	status    string
	err       string
	checkedAt time.Time
}

// Aggregator runs dependency probes on a cycle and answers liveness and
// readiness questions. Each dependency starts as "unknown" until its first
// probe completes; a dependency with an open circuit also fails readiness.
type Aggregator struct {
	mu      sync.Mutex
	log     *slog.Logger
	service string
	diag    *Diagnostics
	engine  *resilience.Engine

	probes  map[string]Checker
	results map[string]probeResult

	Interval     time.Duration
	ProbeTimeout time.Duration
}

func NewAggregator(log *slog.Logger, service string, diag *Diagnostics, engine *resilience.Engine) *Aggregator {
	return &Aggregator{
		log:          log,
		service:      service,
		diag:         diag,
		engine:       engine,
		probes:       make(map[string]Checker),
		results:      make(map[string]probeResult),
		Interval:     10 * time.Second,
		ProbeTimeout: 3 * time.Second,
	}
}

func (a *Aggregator) Register(name string, probe Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.probes[name] = probe
	a.results[name] = probeResult{status: statusUnknown}
}

// Run probes all dependencies immediately and then on every interval tick
// until ctx is done.
func (a *Aggregator) Run(ctx context.Context) {
	a.probeAll(ctx)

	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.probeAll(ctx)
		}
	}
}

func (a *Aggregator) probeAll(ctx context.Context) {
	a.mu.Lock()
	probes := make(map[string]Checker, len(a.probes))
	for name, p := range a.probes {
		probes[name] = p
	}
	a.mu.Unlock()

	for name, probe := range probes {
		pctx, cancel := context.WithTimeout(ctx, a.ProbeTimeout)
		err := probe(pctx)
		cancel()

		res := probeResult{status: statusUp, checkedAt: time.Now()}
		if err != nil {
			res.status = statusDown
			res.err = err.Error()
			a.log.Warn("dependency_probe_failed",
				slog.String("dependency", name),
				slog.String("err", err.Error()),
			)
		}

		a.mu.Lock()
		a.results[name] = res
		a.mu.Unlock()
	}
}

// DependencyStatus is one dependency's most recent probe outcome.
type DependencyStatus struct {
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
}

// Readiness reports whether the process should receive traffic and, when it
// should not, which dependencies are to blame.
func (a *Aggregator) Readiness() (bool, []string, []DependencyStatus) {
	a.mu.Lock()
	deps := make([]DependencyStatus, 0, len(a.results))
	var reasons []string
	for name, res := range a.results {
		d := DependencyStatus{Name: name, Status: res.status, Error: res.err}
		if !res.checkedAt.IsZero() {
			t := res.checkedAt
			d.CheckedAt = &t
		}
		deps = append(deps, d)
		if res.status != statusUp {
			reasons = append(reasons, name+": "+res.status)
		}
	}
	a.mu.Unlock()

	if a.engine != nil {
		for _, id := range a.engine.OpenCircuits() {
			reasons = append(reasons, id+": circuit open")
		}
	}

	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	sort.Strings(reasons)
	return len(reasons) == 0, reasons, deps
}
