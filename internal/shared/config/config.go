package config

import (
	"time"

	"github.com/fitflowhq/fitflow/internal/shared/env"
	"github.com/fitflowhq/fitflow/internal/shared/resilience"
)

const (
	UserEventsStream    = "fitflow.user.events"
	PaymentEventsStream = "fitflow.payment.events"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	DatabaseURL string

	BusDriver    string // "kafka" | "memory"
	KafkaBrokers []string

	ConsumerGroup  string
	BatchSize      int
	HandlerTimeout time.Duration

	AttemptTimeout   time.Duration
	MaxAttempts      int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	FailureThreshold int
	FailureWindow    time.Duration
	Cooldown         time.Duration

	IdempotencyLease time.Duration
}

// Load reads configuration from the environment, seeding it from .env when
// present.
func Load(service string) Config {
	loadDotEnv(".env")

	return Config{
		AppEnv:      env.String("APP_ENV", "dev"),
		HTTPAddr:    env.String("HTTP_ADDR", ":8080"),
		DatabaseURL: env.String("DATABASE_URL", ""),

		BusDriver:    env.String("BUS_DRIVER", "kafka"),
		KafkaBrokers: env.StringsCSV("KAFKA_BROKERS", []string{"localhost:9092"}),

		ConsumerGroup:  env.String("CONSUMER_GROUP", service),
		BatchSize:      env.Int("CONSUMER_BATCH_SIZE", 10),
		HandlerTimeout: env.Duration("HANDLER_TIMEOUT", 10*time.Second),

		AttemptTimeout:   env.Duration("RESILIENCE_ATTEMPT_TIMEOUT", 3*time.Second),
		MaxAttempts:      env.Int("RESILIENCE_MAX_ATTEMPTS", 3),
		BackoffBase:      env.Duration("RESILIENCE_BACKOFF_BASE", 100*time.Millisecond),
		BackoffMax:       env.Duration("RESILIENCE_BACKOFF_MAX", 2*time.Second),
		FailureThreshold: env.Int("RESILIENCE_FAILURE_THRESHOLD", 5),
		FailureWindow:    env.Duration("RESILIENCE_FAILURE_WINDOW", 30*time.Second),
		Cooldown:         env.Duration("RESILIENCE_COOLDOWN", 10*time.Second),

		IdempotencyLease: env.Duration("IDEMPOTENCY_LEASE", 30*time.Second),
	}
}

func (c Config) ResiliencePolicy() resilience.Policy {
	return resilience.Policy{
		AttemptTimeout:   c.AttemptTimeout,
		MaxAttempts:      c.MaxAttempts,
		BackoffBase:      c.BackoffBase,
		BackoffMax:       c.BackoffMax,
		FailureThreshold: c.FailureThreshold,
		FailureWindow:    c.FailureWindow,
		Cooldown:         c.Cooldown,
	}
}
