package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fitflowhq/fitflow/internal/shared/choreo"
	"github.com/fitflowhq/fitflow/internal/shared/correlation"
	"github.com/fitflowhq/fitflow/internal/shared/events"
)

// Relay drains pending outbox rows to the bus. It runs inside the producing
// service; rows that fail to publish are rescheduled with a growing delay
// and requeued if a relay dies while holding them.
type Relay struct {
	Log       *slog.Logger
	Store     *Store
	Publisher *choreo.Publisher
	Metrics   *Metrics

	PollInterval      time.Duration
	BatchSize         int
	ProcessingTimeout time.Duration
	RetryDelayBase    time.Duration
}

func (r *Relay) Run(ctx context.Context) {
	pollInterval := r.PollInterval
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	retryBase := r.RetryDelayBase
	if retryBase <= 0 {
		retryBase = 2 * time.Second
	}

	r.Log.Info("outbox_relay_start",
		slog.Int("batch_size", r.BatchSize),
		slog.String("poll_interval", pollInterval.String()),
	)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Log.Info("outbox_relay_shutdown")
			return
		case <-ticker.C:
			r.Metrics.pollsTotal.Inc()
			r.tick(ctx, retryBase)
		}
	}
}

func (r *Relay) tick(ctx context.Context, retryBase time.Duration) {
	if n, err := r.Store.ResetStuck(ctx, r.ProcessingTimeout); err != nil {
		r.Log.Error("outbox_requeue_failed", slog.String("err", err.Error()))
	} else if n > 0 {
		r.Metrics.requeuedTotal.Add(float64(n))
		r.Log.Warn("outbox_requeued_stuck", slog.Int64("count", n))
	}

	recs, err := r.Store.ClaimPending(ctx, r.BatchSize)
	if err != nil {
		r.Log.Error("outbox_claim_failed", slog.String("err", err.Error()))
		return
	}
	if len(recs) == 0 {
		r.Metrics.lagSeconds.Set(0)
		return
	}

	r.Metrics.claimedTotal.Add(float64(len(recs)))
	r.Metrics.lagSeconds.Set(time.Since(recs[0].CreatedAt).Seconds())

	for _, rec := range recs {
		pctx := correlation.With(ctx, rec.CorrelationID)
		err := r.Publisher.Publish(pctx, rec.Stream, events.Type(rec.EventType), rec.IdempotencyKey, rec.Payload)
		if err != nil {
			r.Metrics.publishErrorsTotal.Inc()
			// Linear growth is enough here; the publisher already applied
			// exponential backoff per attempt.
			next := time.Now().Add(retryBase * time.Duration(rec.Attempts))
			if merr := r.Store.MarkFailed(ctx, rec.ID, next, err.Error()); merr != nil {
				r.Log.Error("outbox_mark_failed_error", slog.Int64("id", rec.ID), slog.String("err", merr.Error()))
			}
			continue
		}

		if err := r.Store.MarkSent(ctx, rec.ID); err != nil {
			// The event went out but the row is still pending: the relay
			// will publish it again and downstream dedup absorbs it.
			r.Log.Error("outbox_mark_sent_failed", slog.Int64("id", rec.ID), slog.String("err", err.Error()))
			continue
		}
		r.Metrics.sentTotal.Inc()
	}
}

type Metrics struct {
	pollsTotal         prometheus.Counter
	claimedTotal       prometheus.Counter
	sentTotal          prometheus.Counter
	publishErrorsTotal prometheus.Counter
	requeuedTotal      prometheus.Counter
	lagSeconds         prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_relay_polls_total",
			Help: "Total number of outbox polling ticks.",
		}),
		claimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_relay_claimed_total",
			Help: "Total number of claimed outbox rows.",
		}),
		sentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_relay_sent_total",
			Help: "Total number of outbox rows published and marked sent.",
		}),
		publishErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_relay_publish_errors_total",
			Help: "Total number of failed publish attempts from the outbox.",
		}),
		requeuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_relay_requeued_total",
			Help: "Total number of stuck outbox rows requeued back to pending.",
		}),
		lagSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_lag_seconds",
			Help: "Lag in seconds between now and the oldest claimed outbox row.",
		}),
	}

	reg.MustRegister(
		m.pollsTotal,
		m.claimedTotal,
		m.sentTotal,
		m.publishErrorsTotal,
		m.requeuedTotal,
		m.lagSeconds,
	)

	return m
}
