package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/Priya8975/payment-webhook-pipeline/internal/gateway"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type PaymentSource interface {
	ListStalePayments(ctx context.Context, olderThan time.Time, limit int) ([]domain.Payment, error)
}

type Gateways interface {
	Lookup(name string) (*gateway.Gateway, bool)
}

type StatusQuerier interface {
	Query(ctx context.Context, g *gateway.Gateway, reference string) (*gateway.TransactionStatus, error)
}

// Ingester is the shared event entry path, see engine.Ingestor.
type Ingester interface {
	Ingest(ctx context.Context, event *domain.WebhookEvent) (bool, error)
}

type Config struct {
	Interval    time.Duration
	Threshold   time.Duration
	Concurrency int
	BatchLimit  int
	// RunTimeout bounds how long a run keeps starting new queries. Queries
	// already in flight are left to finish under the gateway call timeout.
	RunTimeout time.Duration
}

// Summary counts what one reconciliation run did.
type Summary struct {
	RunID      string `json:"run_id"`
	Candidates int    `json:"candidates"`
	Queried    int64  `json:"queried"`
	Enqueued   int64  `json:"enqueued"`
	Duplicates int64  `json:"duplicates"`
	Unchanged  int64  `json:"unchanged"`
	Failed     int64  `json:"failed"`
	Deferred   int64  `json:"deferred"`
}

// Scheduler periodically re-queries gateways for payments stuck before a
// terminal status and feeds what it learns back through the ingest path.
type Scheduler struct {
	payments PaymentSource
	gateways Gateways
	querier  StatusQuerier
	ingester Ingester
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewScheduler(payments PaymentSource, gateways Gateways, querier StatusQuerier, ingester Ingester, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = cfg.Interval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = cfg.Interval / 2
	}
	return &Scheduler{
		payments: payments,
		gateways: gateways,
		querier:  querier,
		ingester: ingester,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Start runs once immediately and then on every tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("reconciler started",
		"interval", s.cfg.Interval,
		"threshold", s.cfg.Threshold,
		"concurrency", s.cfg.Concurrency,
	)

	s.runLogged(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciler stopping")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("reconciliation run failed", "error", err)
	}
}

// RunOnce performs a single reconciliation pass. Only listing candidates can
// fail the run; per-payment problems are logged and counted.
func (s *Scheduler) RunOnce(ctx context.Context) (*Summary, error) {
	start := s.now()
	sum := &Summary{RunID: uuid.NewString()}
	log := s.logger.With("run_id", sum.RunID)

	stale, err := s.payments.ListStalePayments(ctx, start.Add(-s.cfg.Threshold), s.cfg.BatchLimit)
	if err != nil {
		return nil, err
	}
	sum.Candidates = len(stale)
	if len(stale) == 0 {
		log.Debug("no stale payments")
		return sum, nil
	}

	deadline := start.Add(s.cfg.RunTimeout)
	var queried, enqueued, dups, unchanged, failed, deferred atomic.Int64

	eg := new(errgroup.Group)
	eg.SetLimit(s.cfg.Concurrency)

	for _, p := range stale {
		if ctx.Err() != nil || s.now().After(deadline) {
			deferred.Add(1)
			continue
		}
		// Go blocks while the limit is reached, so the deadline is re-checked
		// for each candidate as a slot frees up.
		eg.Go(func() error {
			res := s.reconcileOne(ctx, log, p)
			switch res {
			case outcomeEnqueued:
				enqueued.Add(1)
			case outcomeDuplicate:
				dups.Add(1)
			case outcomeUnchanged:
				unchanged.Add(1)
			case outcomeFailed:
				failed.Add(1)
			}
			if res != outcomeFailed {
				queried.Add(1)
			}
			return nil
		})
	}
	_ = eg.Wait()

	sum.Queried = queried.Load()
	sum.Enqueued = enqueued.Load()
	sum.Duplicates = dups.Load()
	sum.Unchanged = unchanged.Load()
	sum.Failed = failed.Load()
	sum.Deferred = deferred.Load()

	log.Info("reconciliation run finished",
		"candidates", sum.Candidates,
		"enqueued", sum.Enqueued,
		"duplicates", sum.Duplicates,
		"unchanged", sum.Unchanged,
		"failed", sum.Failed,
		"deferred", sum.Deferred,
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)
	return sum, nil
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeEnqueued
	outcomeDuplicate
	outcomeFailed
)

func (s *Scheduler) reconcileOne(ctx context.Context, log *slog.Logger, p domain.Payment) outcome {
	log = log.With("payment_reference", p.Reference, "gateway", p.Gateway, "ledger_status", p.Status)

	g, ok := s.gateways.Lookup(string(p.Gateway))
	if !ok {
		log.Warn("skipping payment for unconfigured gateway")
		return outcomeFailed
	}

	st, err := s.querier.Query(ctx, g, p.Reference)
	if err != nil {
		if errors.Is(err, gateway.ErrTransactionNotFound) {
			log.Info("gateway has no transaction for payment yet")
			return outcomeUnchanged
		}
		log.Warn("gateway status query failed", "error", err)
		return outcomeFailed
	}

	reported := st.Status.PaymentStatus()
	if !reported.IsTerminal() || domain.DecideTransition(p.Status, reported) == domain.DecisionStale {
		log.Debug("gateway agrees with ledger", "gateway_status", st.Status)
		return outcomeUnchanged
	}

	// A reversal can only follow a success, so a payment whose success
	// notification was lost gets both.
	statuses := []domain.ReportedStatus{st.Status}
	if st.Status == domain.ReportedReversed {
		statuses = []domain.ReportedStatus{domain.ReportedSuccess, domain.ReportedReversed}
	}

	raw := st.Raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(st)
	}

	result := outcomeDuplicate
	for _, status := range statuses {
		event := &domain.WebhookEvent{
			Gateway:          g.Name,
			GatewayEventID:   st.TransactionID,
			PaymentReference: p.Reference,
			ReportedStatus:   status,
			Source:           domain.SourceReconciliation,
			RawPayload:       raw,
		}
		inserted, err := s.ingester.Ingest(ctx, event)
		if err != nil {
			log.Error("failed to enqueue reconciled event", "error", err, "reported_status", status)
			return outcomeFailed
		}
		if inserted {
			result = outcomeEnqueued
			log.Info("reconciled missed transition",
				"gateway_status", st.Status,
				"reported_status", status,
				"idempotency_key", event.IdempotencyKey,
			)
		}
	}
	return result
}
