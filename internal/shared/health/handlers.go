package health

import (
	"encoding/json"
	"net/http"
)

// Liveness always reports alive: the process is up even while dependencies
// are degraded.
func (a *Aggregator) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "alive",
		"service": a.service,
	})
}

// Diag reports readiness, per-dependency status and the event counters.
// Returns 503 when not ready so orchestration stops routing traffic.
func (a *Aggregator) Diag(w http.ResponseWriter, r *http.Request) {
	ready, reasons, deps := a.Readiness()

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}

	resp := map[string]any{
		"status":       state,
		"service":      a.service,
		"dependencies": deps,
	}
	if len(reasons) > 0 {
		resp["reasons"] = reasons
	}
	if a.diag != nil {
		resp["events"] = a.diag.Snapshot()
	}
	writeJSON(w, status, resp)
}

// Resilience exposes circuit states and retry/backoff counters per
// dependency.
func (a *Aggregator) Resilience(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"service": a.service}
	if a.engine != nil {
		resp["dependencies"] = a.engine.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
