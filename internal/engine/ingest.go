package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
)

// EventSink stores an event and its queue entry atomically. inserted is false
// when an event with the same idempotency key already exists, in which case
// nothing is enqueued.
type EventSink interface {
	InsertEventAndEnqueue(ctx context.Context, event *domain.WebhookEvent, entry domain.QueueEntry) (inserted bool, err error)
}

// Ingestor is the single path by which events enter the pipeline. The
// webhook receiver and the reconciliation scheduler both go through it.
type Ingestor struct {
	sink   EventSink
	logger *slog.Logger
	now    func() time.Time
}

func NewIngestor(sink EventSink, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the ingestor's time source.
func (in *Ingestor) SetClock(now func() time.Time) {
	in.now = now
}

// Ingest seals the event, stores it and enqueues it. It returns false for a
// duplicate delivery.
func (in *Ingestor) Ingest(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	now := in.now().UTC()

	event.Seal()
	if event.Source == "" {
		event.Source = domain.SourceWebhook
	}
	event.ProcessingState = domain.StateQueued
	event.AttemptCount = 0
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}

	entry := domain.NewQueueEntry(event, now)

	inserted, err := in.sink.InsertEventAndEnqueue(ctx, event, entry)
	if err != nil {
		return false, fmt.Errorf("ingesting event %s: %w", event.IdempotencyKey, err)
	}

	if !inserted {
		in.logger.Info("duplicate event ignored",
			"idempotency_key", event.IdempotencyKey,
			"gateway", event.Gateway,
			"payment_reference", event.PaymentReference,
			"source", event.Source,
		)
		return false, nil
	}

	in.logger.Info("event queued",
		"idempotency_key", event.IdempotencyKey,
		"gateway", event.Gateway,
		"payment_reference", event.PaymentReference,
		"reported_status", event.ReportedStatus,
		"priority", entry.Priority,
		"source", event.Source,
	)
	return true, nil
}
