package user

import (
	"encoding/json"
	"net/http"

	"github.com/fitflowhq/fitflow/internal/shared/correlation"
)

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type ValidationError string

func (e ValidationError) Error() string { return string(e) }

func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	cid := correlation.Get(r.Context())

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErrorResponse{
		Error: apiError{Code: code, Message: message, CorrelationID: cid},
	})
}
