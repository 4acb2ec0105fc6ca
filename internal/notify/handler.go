package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fitflowhq/fitflow/internal/shared/correlation"
)

type Handler struct {
	Log   *slog.Logger
	Store *Store
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /notifications", h.List)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.Store.List(r.Context())
	if err != nil {
		correlation.Logger(r.Context(), h.Log).Error("notification_list_failed", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if all == nil {
		all = []Notification{}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(all)
}
