package httpx

import (
	"net/http"
	"strings"

	"github.com/fitflowhq/fitflow/internal/shared/correlation"
)

// Correlation reads the inbound X-Correlation-Id header, generating a new id
// when it is absent or empty, attaches it to the request context and echoes
// it on the response.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := strings.TrimSpace(r.Header.Get(correlation.Header))
		if cid == "" {
			cid = correlation.New()
		}

		w.Header().Set(correlation.Header, cid)

		ctx := correlation.With(r.Context(), cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
