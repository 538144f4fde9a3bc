// Package app assembles the pipeline from configuration. The server and the
// operator CLI share it so both talk to the same storage and gateways.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Priya8975/payment-webhook-pipeline/internal/api"
	"github.com/Priya8975/payment-webhook-pipeline/internal/config"
	"github.com/Priya8975/payment-webhook-pipeline/internal/engine"
	"github.com/Priya8975/payment-webhook-pipeline/internal/gateway"
	"github.com/Priya8975/payment-webhook-pipeline/internal/memstore"
	"github.com/Priya8975/payment-webhook-pipeline/internal/reconcile"
	"github.com/Priya8975/payment-webhook-pipeline/internal/store"
	"github.com/Priya8975/payment-webhook-pipeline/internal/worker"
	"github.com/redis/go-redis/v9"
)

// Store is the full storage contract. PostgresStore and memstore.Store both
// implement it.
type Store interface {
	api.Store
	engine.EventSink
	worker.Queue
	worker.EventLoader
	worker.Ledger
	worker.Claimer
	worker.ExpiredClaimRequeuer
	reconcile.PaymentSource
	QueueDepth(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

var (
	_ Store = (*store.PostgresStore)(nil)
	_ Store = (*memstore.Store)(nil)
)

// App holds the long-lived collaborators built from configuration.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    Store
	Redis    *redis.Client
	Gateways *gateway.Registry
	Client   *gateway.Client
	Ingestor *engine.Ingestor
	Breaker  *engine.CircuitBreaker

	redisStore *store.RedisStore

	closers []func()
}

// NewLogger builds the JSON logger at the configured level.
func NewLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// New connects storage and Redis and resolves the gateway table.
// Redis is optional with the memory backend; without it queries run with no
// circuit breaker or rate limit.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	reg, err := gateway.NewRegistry(cfg.Gateways)
	if err != nil {
		return nil, fmt.Errorf("building gateway table: %w", err)
	}
	a.Gateways = reg

	switch cfg.StorageBackend {
	case "memory":
		a.Store = memstore.New()
		logger.Warn("using in-memory storage; events do not survive a restart")
	default:
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		a.Store = pg
		a.closers = append(a.closers, pg.Close)
		logger.Info("connected to PostgreSQL")
	}

	var (
		breaker gateway.Breaker
		limiter gateway.Limiter
	)
	if cfg.RedisURL != "" {
		rs, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, func() { rs.Close() })
		a.redisStore = rs
		a.Redis = rs.Client()
		a.Breaker = engine.NewCircuitBreaker(a.Redis, engine.DefaultBreakerConfig(), logger)
		breaker = a.Breaker
		limiter = engine.NewRateLimiter(a.Redis, logger)
		logger.Info("connected to Redis")
	}

	a.Client = gateway.NewClient(breaker, limiter, cfg.GatewayTimeout, logger)
	a.Ingestor = engine.NewIngestor(a.Store, logger)
	return a, nil
}

// Migrate applies schema migrations. It is a no-op for the memory backend.
func (a *App) Migrate(ctx context.Context) error {
	pg, ok := a.Store.(*store.PostgresStore)
	if !ok {
		return nil
	}
	return pg.RunMigrations(ctx)
}

// Reconciler builds the reconciliation scheduler.
func (a *App) Reconciler() *reconcile.Scheduler {
	c := a.Config
	return reconcile.NewScheduler(a.Store, a.Gateways, a.Client, a.Ingestor, reconcile.Config{
		Interval:    c.ReconcileInterval,
		Threshold:   c.ReconcileThreshold,
		Concurrency: c.ReconcileConcurrency,
		BatchLimit:  c.ReconcileBatchLimit,
		RunTimeout:  c.ReconcileRunTimeout,
	}, a.Logger)
}

// Processor builds the batch processor and its retry manager.
func (a *App) Processor(notifier worker.Notifier) *worker.Processor {
	c := a.Config
	retry := worker.NewRetryManager(a.Store, engine.NewBackoff(c.RetryBaseDelay, c.RetryMaxDelay), c.MaxAttempts, notifier, a.Logger)
	return worker.NewProcessor(a.Store, a.Store, a.Store, a.Gateways, a.Client, notifier, retry, worker.ProcessorConfig{
		MaxAttempts:             c.MaxAttempts,
		UnknownReferenceLookups: c.UnknownReferenceLookups,
		VerifyConcurrency:       c.ReconcileConcurrency,
	}, a.Logger)
}

// Checks lists the dependencies the health endpoint pings.
func (a *App) Checks() map[string]api.Pinger {
	checks := map[string]api.Pinger{"store": a.Store}
	if a.redisStore != nil {
		checks["redis"] = a.redisStore
	}
	return checks
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
