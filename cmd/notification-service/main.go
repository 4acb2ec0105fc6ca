package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fitflowhq/fitflow/internal/notify"
	"github.com/fitflowhq/fitflow/internal/shared/bus"
	"github.com/fitflowhq/fitflow/internal/shared/choreo"
	"github.com/fitflowhq/fitflow/internal/shared/config"
	"github.com/fitflowhq/fitflow/internal/shared/env"
	"github.com/fitflowhq/fitflow/internal/shared/health"
	"github.com/fitflowhq/fitflow/internal/shared/httpx"
	"github.com/fitflowhq/fitflow/internal/shared/idempotency"
	"github.com/fitflowhq/fitflow/internal/shared/logger"
	"github.com/fitflowhq/fitflow/internal/shared/resilience"
)

const appName = "notification-service"

func main() {
	cfg := config.Load(appName)
	log := logger.New(appName, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	diag := health.NewDiagnostics(reg)
	engine := resilience.NewEngine(cfg.ResiliencePolicy())
	agg := health.NewAggregator(log, appName, diag, engine)

	var eventBus bus.Bus
	if cfg.BusDriver == "memory" {
		mb := bus.NewMemoryBus(env.Duration("BUS_VISIBILITY_TIMEOUT", 5*time.Second))
		agg.Register("bus", mb.Ping)
		eventBus = mb
	} else {
		kb := bus.NewKafkaBus(bus.KafkaConfig{Brokers: cfg.KafkaBrokers, ClientID: appName})
		agg.Register("kafka", kb.Ping)
		eventBus = kb
	}
	defer func() { _ = eventBus.Close() }()

	go agg.Run(ctx)

	// Notifications are in-memory with no durability guarantee, so the
	// idempotency guard is in-memory too: both reset together on restart.
	store := notify.NewStore()
	guard := idempotency.NewMemoryStore(cfg.IdempotencyLease)
	reactor := &notify.Reactor{Log: log, Store: store}

	// One consumer loop per stream: UserRegistered arrives on the user
	// stream, PaymentProcessed on the payment stream.
	for _, stream := range []string{config.UserEventsStream, config.PaymentEventsStream} {
		sub, err := eventBus.Subscribe(stream, cfg.ConsumerGroup)
		if err != nil {
			log.Error("subscribe_failed", slog.String("stream", stream), slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer func() { _ = sub.Close() }()

		loop := &choreo.Loop{
			Log:            log.With(slog.String("stream", stream)),
			Sub:            sub,
			Guard:          guard,
			Engine:         engine,
			Diag:           diag,
			Handlers:       reactor.Handlers(),
			Dependency:     "bus:" + stream,
			BatchSize:      cfg.BatchSize,
			HandlerTimeout: cfg.HandlerTimeout,
		}
		go func() { _ = loop.Run(ctx) }()
	}

	notifyH := &notify.Handler{Log: log, Store: store}

	mux := http.NewServeMux()
	notifyH.Routes(mux)
	mux.HandleFunc("GET /health", agg.Liveness)
	mux.HandleFunc("GET /diag", agg.Diag)
	mux.HandleFunc("GET /resilience", agg.Resilience)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.Wrap(log, httpx.NewMetrics(reg), mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("http_listen", slog.String("addr", srv.Addr))

	go func() {
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Error("http_server_error", slog.String("err", err.Error()))
		}
	}()

	httpx.Shutdown(ctx, log, srv, 10*time.Second)
}
