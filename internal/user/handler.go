package user

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fitflowhq/fitflow/internal/plan"
	"github.com/fitflowhq/fitflow/internal/shared/correlation"
	"github.com/fitflowhq/fitflow/internal/shared/events"
)

// EventSink is where the handler's domain facts go: directly to the bus in
// memory mode, or into the transactional outbox when Postgres is configured.
type EventSink interface {
	Publish(ctx context.Context, stream string, t events.Type, idempotencyKey string, payload any) error
}

type Handler struct {
	Log    *slog.Logger
	Store  Store
	Events EventSink
	Stream string
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /users/register", h.Register)
	mux.HandleFunc("POST /users/{id}/select-plan", h.SelectPlan)
	mux.HandleFunc("GET /users/{id}", h.Get)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req RegisterRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		msg := "invalid json"
		if errors.Is(err, io.EOF) {
			msg = "empty body"
		}
		WriteError(w, r, http.StatusBadRequest, "validation_error", msg)
		return
	}
	if err := req.Validate(); err != nil {
		WriteError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	u := User{
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		CreatedAt: time.Now().UTC(),
	}

	created, err := h.Store.Create(r.Context(), u)
	if err != nil {
		h.logError(r.Context(), "user_create_failed", err)
		WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	// Each registration is one logical occurrence, so the key is generated
	// here and travels unchanged with every re-delivery of this envelope.
	key := "usr-" + uuid.NewString()
	err = h.Events.Publish(r.Context(), h.Stream, events.UserRegistered, key, events.UserRegisteredPayload{
		UserID: created.ID,
		Name:   created.Name,
		Email:  created.Email,
	})
	if err != nil {
		// The registration is committed; the event is retried by the sink
		// and surfaced in readiness, never dropped silently.
		h.logError(r.Context(), "user_registered_publish_failed", err)
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) SelectPlan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, r, http.StatusNotFound, "not_found", "not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req SelectPlanRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}
	if err := req.Validate(); err != nil {
		WriteError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	p, ok := plan.ByID(req.PlanID)
	if !ok {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "unknown plan_id")
		return
	}

	updated, err := h.Store.SetPlan(r.Context(), id, p.ID, p.Name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			WriteError(w, r, http.StatusNotFound, "not_found", "not found")
			return
		}
		h.logError(r.Context(), "user_set_plan_failed", err)
		WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	// Two selections by the same user are distinct occurrences: each gets
	// its own key.
	key := "ps-" + uuid.NewString()
	err = h.Events.Publish(r.Context(), h.Stream, events.PlanSelected, key, events.PlanSelectedPayload{
		UserID:   updated.ID,
		PlanID:   p.ID,
		PlanName: p.Name,
		Amount:   p.Price,
	})
	if err != nil {
		h.logError(r.Context(), "plan_selected_publish_failed", err)
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, r, http.StatusNotFound, "not_found", "not found")
		return
	}

	u, err := h.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			WriteError(w, r, http.StatusNotFound, "not_found", "not found")
			return
		}
		h.logError(r.Context(), "user_get_failed", err)
		WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) logError(ctx context.Context, event string, err error) {
	correlation.Logger(ctx, h.Log).Error(event, slog.String("err", err.Error()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
