package user_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fitflowhq/fitflow/internal/shared/correlation"
	"github.com/fitflowhq/fitflow/internal/shared/events"
	"github.com/fitflowhq/fitflow/internal/user"
)

type capturedEvent struct {
	Stream        string
	Type          events.Type
	Key           string
	Payload       any
	CorrelationID string
}

// captureSink records published events instead of touching a bus.
type captureSink struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (s *captureSink) Publish(ctx context.Context, stream string, t events.Type, key string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, capturedEvent{
		Stream:        stream,
		Type:          t,
		Key:           key,
		Payload:       payload,
		CorrelationID: correlation.Get(ctx),
	})
	return nil
}

func (s *captureSink) all() []capturedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedEvent(nil), s.events...)
}

func newTestHandler(t *testing.T) (*http.ServeMux, *captureSink, *user.InMemoryStore) {
	t.Helper()
	store := user.NewInMemoryStore()
	sink := &captureSink{}
	h := &user.Handler{
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:  store,
		Events: sink,
		Stream: "fitflow.user.events",
	}
	mux := http.NewServeMux()
	h.Routes(mux)
	return mux, sink, store
}

func register(t *testing.T, mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/users/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestRegisterCreatesUserAndPublishesEvent(t *testing.T) {
	mux, sink, _ := newTestHandler(t)

	rec := register(t, mux, `{"name":"Ana","email":"ana@example.com"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created user.User
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == 0 || created.Name != "Ana" || created.Email != "ana@example.com" {
		t.Fatalf("unexpected user: %+v", created)
	}

	evs := sink.all()
	if len(evs) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(evs))
	}
	ev := evs[0]
	if ev.Type != events.UserRegistered {
		t.Fatalf("expected UserRegistered, got %s", ev.Type)
	}
	if !strings.HasPrefix(ev.Key, "usr-") {
		t.Fatalf("unexpected idempotency key %q", ev.Key)
	}
	payload, ok := ev.Payload.(events.UserRegisteredPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", ev.Payload)
	}
	if payload.UserID != created.ID || payload.Email != "ana@example.com" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestRegisterValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"invalid json", `{`},
		{"missing name", `{"email":"a@example.com"}`},
		{"blank name", `{"name":"   ","email":"a@example.com"}`},
		{"missing email", `{"name":"Ana"}`},
		{"bad email", `{"name":"Ana","email":"not-an-email"}`},
		{"unknown field", `{"name":"Ana","email":"a@example.com","admin":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux, sink, _ := newTestHandler(t)
			rec := register(t, mux, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			var resp struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if resp.Error.Code != "validation_error" {
				t.Fatalf("expected validation_error, got %q", resp.Error.Code)
			}
			if len(sink.all()) != 0 {
				t.Fatalf("no event must be published on validation failure")
			}
		})
	}
}

func TestSelectPlanPublishesCatalogPrice(t *testing.T) {
	mux, sink, _ := newTestHandler(t)

	rec := register(t, mux, `{"name":"Ana","email":"ana@example.com"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d", rec.Code)
	}
	var created user.User
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/users/1/select-plan", strings.NewReader(`{"plan_id":2}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var updated user.User
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.PlanID != 2 || updated.PlanName != "Plan Estándar" {
		t.Fatalf("unexpected user after select-plan: %+v", updated)
	}

	evs := sink.all()
	if len(evs) != 2 {
		t.Fatalf("expected 2 events (register + select), got %d", len(evs))
	}
	ev := evs[1]
	if ev.Type != events.PlanSelected {
		t.Fatalf("expected PlanSelected, got %s", ev.Type)
	}
	if !strings.HasPrefix(ev.Key, "ps-") {
		t.Fatalf("unexpected idempotency key %q", ev.Key)
	}
	payload := ev.Payload.(events.PlanSelectedPayload)
	// Price always comes from the catalog, never from the request.
	if payload.Amount != 49.99 || payload.PlanName != "Plan Estándar" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestSelectPlanRejectsUnknownPlan(t *testing.T) {
	mux, sink, _ := newTestHandler(t)
	register(t, mux, `{"name":"Ana","email":"ana@example.com"}`)

	req := httptest.NewRequest(http.MethodPost, "/users/1/select-plan", strings.NewReader(`{"plan_id":99}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(sink.all()) != 1 {
		t.Fatalf("no PlanSelected must be published for an unknown plan")
	}
}

func TestSelectPlanUnknownUserIs404(t *testing.T) {
	mux, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/users/42/select-plan", strings.NewReader(`{"plan_id":1}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetUser(t *testing.T) {
	mux, _, _ := newTestHandler(t)
	register(t, mux, `{"name":"Ana","email":"ana@example.com"}`)

	req := httptest.NewRequest(http.MethodGet, "/users/1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/users/999", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing user, got %d", rec.Code)
	}
}
