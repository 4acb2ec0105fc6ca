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

	"github.com/fitflowhq/fitflow/internal/outbox"
	"github.com/fitflowhq/fitflow/internal/shared/bus"
	"github.com/fitflowhq/fitflow/internal/shared/choreo"
	"github.com/fitflowhq/fitflow/internal/shared/config"
	"github.com/fitflowhq/fitflow/internal/shared/db"
	"github.com/fitflowhq/fitflow/internal/shared/env"
	"github.com/fitflowhq/fitflow/internal/shared/health"
	"github.com/fitflowhq/fitflow/internal/shared/httpx"
	"github.com/fitflowhq/fitflow/internal/shared/logger"
	"github.com/fitflowhq/fitflow/internal/shared/resilience"
	"github.com/fitflowhq/fitflow/internal/user"
)

const appName = "user-service"

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

	pub := &choreo.Publisher{Log: log, Bus: eventBus, Engine: engine, Diag: diag}

	var store user.Store = user.NewInMemoryStore()
	var sink user.EventSink = pub

	if cfg.DatabaseURL != "" {
		pg, err := db.OpenPostgres(ctx, db.PostgresConfig{DatabaseURL: cfg.DatabaseURL})
		if err != nil {
			log.Error("db_open_failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer func() { _ = pg.Close() }()
		agg.Register("postgres", pg.PingContext)

		store = user.NewPostgresStore(pg)

		// With Postgres available the publish path goes through the outbox:
		// the registration and its event commit together and the relay owns
		// broker delivery.
		obox := outbox.NewStore(pg)
		sink = &outbox.Sink{Store: obox}
		relay := &outbox.Relay{
			Log:               log,
			Store:             obox,
			Publisher:         pub,
			Metrics:           outbox.NewMetrics(reg),
			PollInterval:      env.Duration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
			BatchSize:         env.Int("OUTBOX_BATCH_SIZE", 50),
			ProcessingTimeout: env.Duration("OUTBOX_PROCESSING_TIMEOUT", 30*time.Second),
		}
		go relay.Run(ctx)
	}

	go agg.Run(ctx)

	userH := &user.Handler{Log: log, Store: store, Events: sink, Stream: config.UserEventsStream}

	mux := http.NewServeMux()
	userH.Routes(mux)
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
