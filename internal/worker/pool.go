package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
)

// BatchHandler processes a claimed batch, or hands it back unprocessed.
type BatchHandler interface {
	ProcessBatch(ctx context.Context, entries []domain.QueueEntry)
	ReleaseBatch(ctx context.Context, entries []domain.QueueEntry)
}

// Pool manages a fixed number of worker goroutines that process claimed batches.
type Pool struct {
	numWorkers int
	jobs       chan []domain.QueueEntry
	handler    BatchHandler
	logger     *slog.Logger
	wg         sync.WaitGroup
	inflight   atomic.Int64
}

// NewPool creates a worker pool with the given number of workers.
func NewPool(numWorkers int, handler BatchHandler, logger *slog.Logger) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan []domain.QueueEntry, numWorkers),
		handler:    handler,
		logger:     logger,
	}
}

// Start launches all worker goroutines. They read from the jobs channel
// until it is closed.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// HasCapacity reports whether a worker is free for another batch. Claiming
// only when a worker is free keeps claimed entries from ageing in the channel.
func (p *Pool) HasCapacity() bool {
	return p.inflight.Load() < int64(p.numWorkers)
}

// Submit hands a batch to the pool.
func (p *Pool) Submit(batch []domain.QueueEntry) {
	p.inflight.Add(1)
	p.jobs <- batch
}

// Stop closes the jobs channel and waits for all workers to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for batch := range p.jobs {
		if ctx.Err() != nil {
			// Shutting down: give the claims back so another instance can take them.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			p.handler.ReleaseBatch(releaseCtx, batch)
			cancel()
		} else {
			p.handler.ProcessBatch(ctx, batch)
		}
		p.inflight.Add(-1)
	}
	p.logger.Debug("worker exited", "worker_id", id)
}
