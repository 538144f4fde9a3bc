package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/Priya8975/payment-webhook-pipeline/internal/gateway"
	"golang.org/x/sync/errgroup"
)

// Queue is the slice of queue operations the processor needs.
type Queue interface {
	RetryQueue
	Complete(ctx context.Context, token, key string) error
	Release(ctx context.Context, token string) error
}

type EventLoader interface {
	GetEventsByKeys(ctx context.Context, keys []string) (map[string]*domain.WebhookEvent, error)
}

// Ledger is the payment ledger collaborator.
type Ledger interface {
	GetPayment(ctx context.Context, reference string) (*domain.Payment, error)
	ApplyTransition(ctx context.Context, reference string, to domain.PaymentStatus, sourceKey string) (domain.TransitionResult, error)
}

type Gateways interface {
	Lookup(name string) (*gateway.Gateway, bool)
}

type StatusQuerier interface {
	Query(ctx context.Context, g *gateway.Gateway, reference string) (*gateway.TransactionStatus, error)
}

// Notifier receives fire-and-forget notifications.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

var (
	errUnconfirmed    = errors.New("gateway has not confirmed reported status")
	errAmountMismatch = errors.New("gateway amount does not match ledger")
)

type ProcessorConfig struct {
	MaxAttempts int
	// UnknownReferenceLookups is how many attempts an event for a payment the
	// ledger does not know gets before it is dead-lettered.
	UnknownReferenceLookups int
	VerifyConcurrency       int
}

// Processor applies claimed queue entries to the ledger.
type Processor struct {
	events   EventLoader
	queue    Queue
	ledger   Ledger
	gateways Gateways
	querier  StatusQuerier
	notifier Notifier
	retry    *RetryManager
	cfg      ProcessorConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewProcessor(
	events EventLoader,
	queue Queue,
	ledger Ledger,
	gateways Gateways,
	querier StatusQuerier,
	notifier Notifier,
	retry *RetryManager,
	cfg ProcessorConfig,
	logger *slog.Logger,
) *Processor {
	if cfg.VerifyConcurrency <= 0 {
		cfg.VerifyConcurrency = 4
	}
	return &Processor{
		events:   events,
		queue:    queue,
		ledger:   ledger,
		gateways: gateways,
		querier:  querier,
		notifier: notifier,
		retry:    retry,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

type item struct {
	entry domain.QueueEntry
	event *domain.WebhookEvent
}

type verification struct {
	status *gateway.TransactionStatus
	err    error
}

// ProcessBatch handles claimed entries. Events are loaded in one call, grouped
// by gateway and applied in claim order. No error escapes: every entry ends
// completed, rescheduled or dead-lettered.
func (p *Processor) ProcessBatch(ctx context.Context, entries []domain.QueueEntry) {
	if len(entries) == 0 {
		return
	}

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.EventKey
	}

	events, err := p.events.GetEventsByKeys(ctx, keys)
	if err != nil {
		p.logger.Error("failed to load batch events", "error", err, "batch_size", len(entries))
		for _, e := range entries {
			p.retry.Handle(ctx, e, e.Gateway, "", domain.Transient("loading events", err))
		}
		return
	}

	var order []domain.Gateway
	groups := make(map[domain.Gateway][]item)
	for _, e := range entries {
		ev, ok := events[e.EventKey]
		if !ok {
			p.retry.Handle(ctx, e, e.Gateway, "", fmt.Errorf("%s: %w", e.EventKey, domain.ErrEventNotFound))
			continue
		}
		if e.AttemptCount > p.cfg.MaxAttempts {
			p.retry.DeadLetter(ctx, e, ev.Gateway, ev.PaymentReference,
				fmt.Sprintf("claimed %d times, max attempts is %d", e.AttemptCount, p.cfg.MaxAttempts))
			continue
		}
		if _, seen := groups[ev.Gateway]; !seen {
			order = append(order, ev.Gateway)
		}
		groups[ev.Gateway] = append(groups[ev.Gateway], item{entry: e, event: ev})
	}

	for _, gw := range order {
		p.processGroup(ctx, gw, groups[gw])
	}
}

func (p *Processor) processGroup(ctx context.Context, name domain.Gateway, items []item) {
	g, ok := p.gateways.Lookup(string(name))
	if !ok {
		for _, it := range items {
			p.retry.Handle(ctx, it.entry, name, it.event.PaymentReference,
				fmt.Errorf("%s: %w", name, domain.ErrUnknownGateway))
		}
		return
	}

	var checks map[string]verification
	if g.VerifyWithGateway && p.querier != nil {
		checks = p.verify(ctx, g, items)
	}

	for _, it := range items {
		var check *verification
		if v, ok := checks[it.event.PaymentReference]; ok {
			check = &v
		}
		if err := p.processOne(ctx, it, check); err != nil {
			p.retry.Handle(ctx, it.entry, name, it.event.PaymentReference, err)
		}
	}
}

// verify fetches gateway-side status for every distinct non-informational
// reference in the group, with bounded concurrency.
func (p *Processor) verify(ctx context.Context, g *gateway.Gateway, items []item) map[string]verification {
	var mu sync.Mutex
	out := make(map[string]verification)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.VerifyConcurrency)

	for _, it := range items {
		ref := it.event.PaymentReference
		if it.event.Informational {
			continue
		}
		mu.Lock()
		_, dup := out[ref]
		if !dup {
			out[ref] = verification{}
		}
		mu.Unlock()
		if dup {
			continue
		}

		eg.Go(func() error {
			st, err := p.querier.Query(egCtx, g, ref)
			mu.Lock()
			out[ref] = verification{status: st, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

// confirms reports whether what the gateway says now backs up the reported
// status. A pending report is always consistent; a success report stays
// confirmed after the payment is reversed.
func confirms(gatewaySays, reported domain.ReportedStatus) bool {
	switch {
	case reported == domain.ReportedPending:
		return true
	case gatewaySays == reported:
		return true
	case reported == domain.ReportedSuccess && gatewaySays == domain.ReportedReversed:
		return true
	}
	return false
}

func (p *Processor) processOne(ctx context.Context, it item, check *verification) error {
	ev := it.event
	log := p.logger.With(
		"idempotency_key", ev.IdempotencyKey,
		"gateway", ev.Gateway,
		"payment_reference", ev.PaymentReference,
		"reported_status", ev.ReportedStatus,
		"attempt", it.entry.AttemptCount,
	)

	if ev.Informational {
		p.complete(ctx, it, log)
		log.Info("informational event recorded")
		return nil
	}

	if check != nil {
		if check.err != nil {
			return fmt.Errorf("verifying with gateway: %w", check.err)
		}
		if !confirms(check.status.Status, ev.ReportedStatus) {
			cause := fmt.Errorf("%w: gateway says %s", errUnconfirmed, check.status.Status)
			// A gateway still pending may catch up; a different final status will not.
			if check.status.Status.PaymentStatus().IsTerminal() {
				return domain.Permanent("verify", cause)
			}
			return domain.Transient("verify", cause)
		}
		payment, err := p.ledger.GetPayment(ctx, ev.PaymentReference)
		if err != nil {
			return fmt.Errorf("loading payment: %w", err)
		}
		if payment != nil && payment.Amount > 0 && check.status.Amount > 0 && payment.Amount != check.status.Amount {
			return domain.Permanent("verify", fmt.Errorf("%w: ledger %d, gateway %d", errAmountMismatch, payment.Amount, check.status.Amount))
		}
	}

	res, err := p.ledger.ApplyTransition(ctx, ev.PaymentReference, ev.ReportedStatus.PaymentStatus(), ev.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("applying transition: %w", err)
	}

	switch res.Outcome {
	case domain.TransitionConflict:
		cause := fmt.Errorf("%s: %w", ev.PaymentReference, domain.ErrPaymentNotFound)
		if it.entry.AttemptCount >= p.cfg.UnknownReferenceLookups {
			return domain.Permanent("apply transition", cause)
		}
		return domain.Transient("apply transition", cause)

	case domain.TransitionApplied:
		log.Info("payment transition applied", "from_status", res.FromStatus, "to_status", res.ToStatus)
		p.notifier.Notify(ctx, domain.Notification{
			Kind:       domain.NotifyTransition,
			Reference:  ev.PaymentReference,
			Gateway:    ev.Gateway,
			FromStatus: res.FromStatus,
			ToStatus:   res.ToStatus,
			EventKey:   ev.IdempotencyKey,
			Source:     ev.Source,
			At:         p.now().UTC(),
		})

	default:
		log.Info("stale transition ignored", "ledger_status", res.FromStatus)
	}

	p.complete(ctx, it, log)
	return nil
}

func (p *Processor) complete(ctx context.Context, it item, log *slog.Logger) {
	err := p.queue.Complete(ctx, it.entry.Token(), it.entry.EventKey)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrClaimNotFound):
		log.Warn("claim lost before completion; entry will be reprocessed")
	default:
		log.Error("failed to complete event", "error", err)
	}
}

// ReleaseBatch gives entries back to the queue untouched, e.g. on shutdown.
func (p *Processor) ReleaseBatch(ctx context.Context, entries []domain.QueueEntry) {
	for _, e := range entries {
		if err := p.queue.Release(ctx, e.Token()); err != nil && !errors.Is(err, domain.ErrClaimNotFound) {
			p.logger.Error("failed to release entry", "error", err, "idempotency_key", e.EventKey)
		}
	}
}
