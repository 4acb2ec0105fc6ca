package httpx_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fitflowhq/fitflow/internal/shared/correlation"
	"github.com/fitflowhq/fitflow/internal/shared/httpx"
	"github.com/prometheus/client_golang/prometheus"
)

func TestCorrelationGeneratesIDWhenAbsent(t *testing.T) {
	var seen string
	h := httpx.Correlation(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = correlation.Get(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/1", nil))

	if seen == "" {
		t.Fatalf("expected a generated correlation id in context")
	}
	if got := rec.Header().Get(correlation.Header); got != seen {
		t.Fatalf("response header %q != context id %q", got, seen)
	}
}

func TestCorrelationPreservesInboundID(t *testing.T) {
	var seen string
	h := httpx.Correlation(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = correlation.Get(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/users/register", nil)
	req.Header.Set(correlation.Header, "demo-001")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "demo-001" {
		t.Fatalf("expected inbound id to be preserved, got %q", seen)
	}
	if got := rec.Header().Get(correlation.Header); got != "demo-001" {
		t.Fatalf("expected inbound id echoed, got %q", got)
	}
}

func TestWrapLogsWithCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	reg := prometheus.NewRegistry()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := httpx.Wrap(log, httpx.NewMetrics(reg), mux)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(correlation.Header, "demo-002")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode access log line: %v (%s)", err, buf.String())
	}
	if line["correlation_id"] != "demo-002" {
		t.Fatalf("expected correlation_id in access log, got %v", line["correlation_id"])
	}
	if line["status"] != float64(http.StatusOK) {
		t.Fatalf("expected status 200 in access log, got %v", line["status"])
	}
}

func TestMetricsSkipsMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := httpx.NewMetrics(reg)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/metrics", "/users/1"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != "http_requests_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "path" && label.GetValue() == "/metrics" {
					t.Fatalf("/metrics must not be counted")
				}
			}
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMetricsCounts5xx(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := httpx.NewMetrics(reg)

	h := httpx.Wrap(discardLogger(), m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var found bool
	for _, fam := range families {
		if fam.GetName() == "http_requests_5xx_total" {
			found = true
			if got := fam.GetMetric()[0].GetCounter().GetValue(); got != 1 {
				t.Fatalf("expected one 5xx counted, got %v", got)
			}
		}
	}
	if !found {
		t.Fatalf("http_requests_5xx_total not registered")
	}
}
