package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
)

type Claimer interface {
	ClaimBatch(ctx context.Context, max int, visibility time.Duration) ([]domain.QueueEntry, error)
}

// DispatcherConfig controls how the dispatcher claims work.
type DispatcherConfig struct {
	PollInterval      time.Duration
	BatchSize         int
	VisibilityTimeout time.Duration
}

// Dispatcher polls the queue and feeds claimed batches to the worker pool.
type Dispatcher struct {
	queue  Claimer
	pool   *Pool
	cfg    DispatcherConfig
	logger *slog.Logger
}

func NewDispatcher(queue Claimer, pool *Pool, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		pool:   pool,
		cfg:    cfg,
		logger: logger,
	}
}

// Start begins the polling loop. It runs until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started",
		"poll_interval", d.cfg.PollInterval,
		"batch_size", d.cfg.BatchSize,
		"visibility_timeout", d.cfg.VisibilityTimeout,
	)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll claims batches while workers are free and the queue has visible entries.
func (d *Dispatcher) poll(ctx context.Context) {
	for d.pool.HasCapacity() && ctx.Err() == nil {
		batch, err := d.queue.ClaimBatch(ctx, d.cfg.BatchSize, d.cfg.VisibilityTimeout)
		if err != nil {
			d.logger.Error("failed to claim batch", "error", err)
			return
		}
		if len(batch) == 0 {
			return
		}

		d.logger.Debug("batch claimed", "size", len(batch))
		d.pool.Submit(batch)
	}
}
