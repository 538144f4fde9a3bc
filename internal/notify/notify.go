// Package notify delivers pipeline notifications to downstream collaborators
// without ever holding up event processing.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
)

// Sink receives notifications.
type Sink interface {
	Notify(ctx context.Context, n domain.Notification)
}

// Async buffers notifications and hands them to a sink on its own goroutine.
// When the buffer is full the notification is dropped and counted.
type Async struct {
	sink    Sink
	queue   chan domain.Notification
	logger  *slog.Logger
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsync(sink Sink, buffer int, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Async{
		sink:   sink,
		queue:  make(chan domain.Notification, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start consumes the buffer until Close is called.
func (a *Async) Start() {
	go func() {
		defer close(a.done)
		for n := range a.queue {
			a.sink.Notify(context.Background(), n)
		}
	}()
}

// Notify never blocks the caller. After Close it drops.
func (a *Async) Notify(_ context.Context, n domain.Notification) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.dropped.Add(1)
		a.logger.Warn("notifier closed, dropping", "kind", n.Kind, "payment_reference", n.Reference)
		return
	}
	select {
	case a.queue <- n:
	default:
		a.dropped.Add(1)
		a.logger.Warn("notification buffer full, dropping",
			"kind", n.Kind,
			"payment_reference", n.Reference,
		)
	}
}

// Dropped reports how many notifications were discarded.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting notifications and waits up to timeout for the
// buffer to drain.
func (a *Async) Close(timeout time.Duration) {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
	case <-time.After(timeout):
		a.logger.Warn("notification buffer not drained before shutdown", "pending", len(a.queue))
	}
}

// Multi sends each notification to every sink in order.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, n domain.Notification) {
	for _, s := range m {
		s.Notify(ctx, n)
	}
}

// Log writes notifications to the structured log.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, n domain.Notification) {
	switch n.Kind {
	case domain.NotifyDeadLettered:
		l.logger.Warn("notification",
			"kind", n.Kind,
			"payment_reference", n.Reference,
			"gateway", n.Gateway,
			"idempotency_key", n.EventKey,
			"reason", n.Reason,
		)
	default:
		l.logger.Info("notification",
			"kind", n.Kind,
			"payment_reference", n.Reference,
			"gateway", n.Gateway,
			"from_status", n.FromStatus,
			"to_status", n.ToStatus,
			"source", n.Source,
		)
	}
}
