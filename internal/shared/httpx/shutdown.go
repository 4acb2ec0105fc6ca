package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Shutdown blocks until ctx is done, then drains srv bounded by timeout.
func Shutdown(ctx context.Context, log *slog.Logger, srv *http.Server, timeout time.Duration) {
	<-ctx.Done()

	log.Info("shutdown_start")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)

	log.Info("shutdown_done")
}
