package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fitflowhq/fitflow/internal/plan"
	"github.com/fitflowhq/fitflow/internal/shared/correlation"
)

// Handler serves the payment query surface: the plan catalog and per-user
// payment history.
type Handler struct {
	Log   *slog.Logger
	Store Store
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /plans", h.ListPlans)
	mux.HandleFunc("GET /payments/user/{id}", h.ListByUser)
}

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, plan.All())
}

func (h *Handler) ListByUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
		return
	}

	payments, err := h.Store.ListByUser(r.Context(), id)
	if err != nil {
		correlation.Logger(r.Context(), h.Log).Error("payment_list_failed", slog.String("err", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	if payments == nil {
		payments = []Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":           code,
			"message":        message,
			"correlation_id": correlation.Get(r.Context()),
		},
	})
}
