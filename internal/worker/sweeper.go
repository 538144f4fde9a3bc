package worker

import (
	"context"
	"log/slog"
	"time"
)

type ExpiredClaimRequeuer interface {
	RequeueExpiredClaims(ctx context.Context) (int64, error)
}

// Sweeper periodically clears claims whose visibility timeout has passed,
// so entries held by crashed workers show up as queued again.
type Sweeper struct {
	queue    ExpiredClaimRequeuer
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(queue ExpiredClaimRequeuer, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{queue: queue, interval: interval, logger: logger}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many entries it requeued.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	n, err := s.queue.RequeueExpiredClaims(ctx)
	if err != nil {
		s.logger.Error("failed to requeue expired claims", "error", err)
		return 0
	}
	if n > 0 {
		s.logger.Warn("requeued expired claims", "count", n)
	}
	return n
}
