package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/Priya8975/payment-webhook-pipeline/internal/engine"
)

// RetryQueue is the part of the queue the retry manager writes to.
type RetryQueue interface {
	Reschedule(ctx context.Context, token string, rec domain.RetryRecord) error
	DeadLetter(ctx context.Context, token, key string, kind domain.ErrorKind, reason string) error
}

// RetryManager decides what happens to a failed attempt: back off and retry,
// or dead-letter.
type RetryManager struct {
	queue       RetryQueue
	backoff     engine.Backoff
	maxAttempts int
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
}

func NewRetryManager(queue RetryQueue, backoff engine.Backoff, maxAttempts int, notifier Notifier, logger *slog.Logger) *RetryManager {
	return &RetryManager{
		queue:       queue,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// Handle routes a failed attempt. entry.AttemptCount counts the attempt that
// just failed.
func (r *RetryManager) Handle(ctx context.Context, entry domain.QueueEntry, gateway domain.Gateway, reference string, cause error) {
	kind := domain.Classify(cause)
	reason := cause.Error()

	if kind == domain.KindTransient && entry.AttemptCount >= r.maxAttempts {
		kind = domain.KindPermanent
		reason = fmt.Sprintf("retries exhausted after %d attempts: %s", entry.AttemptCount, reason)
	}

	if kind == domain.KindPermanent {
		r.deadLetter(ctx, entry, gateway, reference, reason)
		return
	}

	next := r.backoff.Next(r.now(), entry.AttemptCount)
	err := r.queue.Reschedule(ctx, entry.Token(), domain.RetryRecord{
		EventKey:       entry.EventKey,
		AttemptCount:   entry.AttemptCount,
		NextEligibleAt: next,
		LastErrorKind:  domain.KindTransient,
		LastError:      reason,
	})
	if err != nil {
		r.logClaimError("failed to reschedule event", err, entry)
		return
	}

	r.logger.Warn("event processing failed, will retry",
		"idempotency_key", entry.EventKey,
		"gateway", gateway,
		"attempt", entry.AttemptCount,
		"max_attempts", r.maxAttempts,
		"next_eligible_at", next,
		"error", cause,
	)
}

// DeadLetter sends an entry straight to the dead-letter store.
func (r *RetryManager) DeadLetter(ctx context.Context, entry domain.QueueEntry, gateway domain.Gateway, reference, reason string) {
	r.deadLetter(ctx, entry, gateway, reference, reason)
}

func (r *RetryManager) deadLetter(ctx context.Context, entry domain.QueueEntry, gateway domain.Gateway, reference, reason string) {
	if err := r.queue.DeadLetter(ctx, entry.Token(), entry.EventKey, domain.KindPermanent, reason); err != nil {
		r.logClaimError("failed to dead-letter event", err, entry)
		return
	}

	r.logger.Error("event dead-lettered",
		"idempotency_key", entry.EventKey,
		"gateway", gateway,
		"payment_reference", reference,
		"attempt", entry.AttemptCount,
		"reason", reason,
	)

	r.notifier.Notify(ctx, domain.Notification{
		Kind:      domain.NotifyDeadLettered,
		Reference: reference,
		Gateway:   gateway,
		EventKey:  entry.EventKey,
		Reason:    reason,
		At:        r.now().UTC(),
	})
}

// A lost claim means another worker owns the entry now; that is expected
// after a visibility timeout and not worth an error.
func (r *RetryManager) logClaimError(msg string, err error, entry domain.QueueEntry) {
	if errors.Is(err, domain.ErrClaimNotFound) {
		r.logger.Warn(msg+": claim lost", "idempotency_key", entry.EventKey)
		return
	}
	r.logger.Error(msg, "error", err, "idempotency_key", entry.EventKey)
}
