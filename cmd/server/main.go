package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/api"
	"github.com/Priya8975/payment-webhook-pipeline/internal/app"
	"github.com/Priya8975/payment-webhook-pipeline/internal/config"
	"github.com/Priya8975/payment-webhook-pipeline/internal/notify"
	ws "github.com/Priya8975/payment-webhook-pipeline/internal/websocket"
	"github.com/Priya8975/payment-webhook-pipeline/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Notifications: log, operator feed, and NATS when configured.
	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	sinks := notify.Multi{notify.NewLog(logger), hub}
	if cfg.NATSURL != "" {
		nc, err := notify.ConnectNATS(cfg.NATSURL, "payment-webhook-pipeline", logger)
		if err != nil {
			logger.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
		sinks = append(sinks, notify.NewNATS(nc, cfg.NATSSubject, logger))
		logger.Info("publishing notifications to NATS", "subject", cfg.NATSSubject)
	}
	notifier := notify.NewAsync(sinks, 1024, logger)
	notifier.Start()

	// Consumers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	pool := worker.NewPool(cfg.NumWorkers, a.Processor(notifier), logger)
	pool.Start(ctx)

	dispatcher := worker.NewDispatcher(a.Store, pool, worker.DispatcherConfig{
		PollInterval:      cfg.PollInterval,
		BatchSize:         cfg.BatchSize,
		VisibilityTimeout: cfg.VisibilityTimeout,
	}, logger)
	sweeper := worker.NewSweeper(a.Store, cfg.SweepInterval, logger)
	reconciler := a.Reconciler()

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){dispatcher.Start, sweeper.Start, reconciler.Start} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(workerCtx)
		}()
	}

	var breakers api.BreakerInspector
	if a.Breaker != nil {
		breakers = a.Breaker
	}
	router := api.NewRouter(api.Deps{
		Gateways:        a.Gateways,
		Ingester:        a.Ingestor,
		Store:           a.Store,
		Breakers:        breakers,
		Feed:            hub,
		Checks:          a.Checks(),
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		Logger:          logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			"port", cfg.Port,
			"storage", cfg.StorageBackend,
			"gateways", a.Gateways.Names(),
			"num_workers", cfg.NumWorkers,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	// Stop taking webhooks first, then stop claiming, then let in-flight
	// batches finish.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	stopWorkers()
	wg.Wait()
	pool.Stop()
	notifier.Close(5 * time.Second)
	cancel()

	logger.Info("shutdown complete")
}
