package httpx

import (
	"log/slog"
	"net/http"
)

// Wrap applies the standard middleware chain to a service mux: correlation
// id first so both the access log and the metrics see it.
func Wrap(log *slog.Logger, m *Metrics, mux http.Handler) http.Handler {
	h := mux
	if m != nil {
		h = m.Middleware(h)
	}
	h = AccessLog(log)(h)
	h = Correlation(h)
	return h
}
