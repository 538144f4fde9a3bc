package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/config"
	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/Priya8975/payment-webhook-pipeline/internal/engine"
	"github.com/Priya8975/payment-webhook-pipeline/internal/gateway"
	"github.com/Priya8975/payment-webhook-pipeline/internal/memstore"
	"github.com/Priya8975/payment-webhook-pipeline/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeQuerier struct {
	mu       sync.Mutex
	statuses map[string]*gateway.TransactionStatus
	errs     map[string]error
	calls    []string
}

func (f *fakeQuerier) Query(_ context.Context, _ *gateway.Gateway, ref string) (*gateway.TransactionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ref)
	if err, ok := f.errs[ref]; ok {
		return nil, err
	}
	if st, ok := f.statuses[ref]; ok {
		return st, nil
	}
	return nil, gateway.ErrTransactionNotFound
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.Notification) {}

func testRegistry(t *testing.T) *gateway.Registry {
	t.Helper()
	reg, err := gateway.NewRegistry([]config.GatewayConfig{{
		Name: "paystack",
		Kind: "paystack",
		Signature: config.SignatureConfig{
			Algorithm: "hmac-sha512-hex",
			Header:    "x-paystack-signature",
			Secret:    "sk_test",
		},
		API: config.APIConfig{BaseURL: "http://paystack.invalid", Secret: "sk_test"},
	}})
	require.NoError(t, err)
	return reg
}

type fixture struct {
	store   *memstore.Store
	querier *fakeQuerier
	sched   *Scheduler
	reg     *gateway.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st := memstore.New()
	q := &fakeQuerier{statuses: map[string]*gateway.TransactionStatus{}, errs: map[string]error{}}
	reg := testRegistry(t)
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Minute
	}
	return &fixture{
		store:   st,
		querier: q,
		reg:     reg,
		sched:   NewScheduler(st, reg, q, engine.NewIngestor(st, testLogger()), cfg, testLogger()),
	}
}

// stalePayment registers a payment and ages it past the threshold.
func (f *fixture) stalePayment(t *testing.T, ref string, status domain.PaymentStatus) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.CreatePayment(ctx, &domain.Payment{Reference: ref, Gateway: "paystack", Amount: 5000, Currency: "NGN"})
	require.NoError(t, err)
	if status != domain.PaymentCreated {
		_, err = f.store.ApplyTransition(ctx, ref, status, "seed")
		require.NoError(t, err)
	}
	f.store.Touch(ref, time.Now().Add(-time.Hour))
}

func TestRunOnce_StuckPendingReconciledToFailed(t *testing.T) {
	f := newFixture(t, Config{})
	f.stalePayment(t, "ord_1", domain.PaymentPending)
	f.querier.statuses["ord_1"] = &gateway.TransactionStatus{
		Reference:     "ord_1",
		TransactionID: "4099260516",
		Status:        domain.ReportedFailed,
		Amount:        5000,
		Raw:           []byte(`{"status":true,"data":{"status":"failed"}}`),
	}

	sum, err := f.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Candidates)
	assert.EqualValues(t, 1, sum.Enqueued)

	events, err := f.store.ListEvents(context.Background(), domain.EventFilter{Reference: "ord_1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, domain.SourceReconciliation, ev.Source)
	assert.Equal(t, domain.ReportedFailed, ev.ReportedStatus)
	assert.Equal(t, "4099260516", ev.GatewayEventID)
	assert.JSONEq(t, `{"status":true,"data":{"status":"failed"}}`, string(ev.RawPayload))

	// The synthesized event goes through the normal processing path.
	retry := worker.NewRetryManager(f.store, engine.NewBackoff(time.Second, time.Minute), 5, nopNotifier{}, testLogger())
	proc := worker.NewProcessor(f.store, f.store, f.store, f.reg, nil, nopNotifier{}, retry,
		worker.ProcessorConfig{MaxAttempts: 5, UnknownReferenceLookups: 3}, testLogger())
	batch, err := f.store.ClaimBatch(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	proc.ProcessBatch(context.Background(), batch)

	p, err := f.store.GetPayment(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, p.Status)
}

func TestRunOnce_SecondRunIsDuplicate(t *testing.T) {
	f := newFixture(t, Config{})
	f.stalePayment(t, "ord_1", domain.PaymentPending)
	f.querier.statuses["ord_1"] = &gateway.TransactionStatus{TransactionID: "tx-1", Status: domain.ReportedSuccess}

	_, err := f.sched.RunOnce(context.Background())
	require.NoError(t, err)
	sum, err := f.sched.RunOnce(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 0, sum.Enqueued)
	assert.EqualValues(t, 1, sum.Duplicates)
	depth, _ := f.store.QueueDepth(context.Background())
	assert.EqualValues(t, 1, depth)
}

func TestRunOnce_ReversalAlsoEnqueuesSuccess(t *testing.T) {
	f := newFixture(t, Config{})
	f.stalePayment(t, "ord_1", domain.PaymentCreated)
	f.querier.statuses["ord_1"] = &gateway.TransactionStatus{TransactionID: "tx-1", Status: domain.ReportedReversed}

	_, err := f.sched.RunOnce(context.Background())
	require.NoError(t, err)

	events, err := f.store.ListEvents(context.Background(), domain.EventFilter{Reference: "ord_1"})
	require.NoError(t, err)
	got := map[domain.ReportedStatus]bool{}
	for _, e := range events {
		got[e.ReportedStatus] = true
	}
	assert.True(t, got[domain.ReportedSuccess])
	assert.True(t, got[domain.ReportedReversed])
}

func TestRunOnce_SkipsFailuresAndNonTerminal(t *testing.T) {
	f := newFixture(t, Config{})
	f.stalePayment(t, "down", domain.PaymentPending)
	f.stalePayment(t, "still_pending", domain.PaymentPending)
	f.stalePayment(t, "unknown", domain.PaymentCreated)
	f.stalePayment(t, "ok", domain.PaymentPending)

	f.querier.errs["down"] = domain.Transient("gateway query", errors.New("HTTP 503"))
	f.querier.statuses["still_pending"] = &gateway.TransactionStatus{Status: domain.ReportedPending}
	f.querier.statuses["ok"] = &gateway.TransactionStatus{TransactionID: "tx-ok", Status: domain.ReportedSuccess}

	sum, err := f.sched.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Candidates)
	assert.EqualValues(t, 1, sum.Failed)
	assert.EqualValues(t, 2, sum.Unchanged)
	assert.EqualValues(t, 1, sum.Enqueued)
}

func TestRunOnce_IgnoresFreshAndTerminalPayments(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.store.CreatePayment(ctx, &domain.Payment{Reference: "fresh", Gateway: "paystack"})
	require.NoError(t, err)
	f.stalePayment(t, "done", domain.PaymentSuccess)

	sum, err := f.sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Candidates)
	assert.Empty(t, f.querier.calls)
}

func TestRunOnce_DeadlineStopsNewQueries(t *testing.T) {
	f := newFixture(t, Config{Concurrency: 1, RunTimeout: time.Minute})
	for _, ref := range []string{"a", "b", "c"} {
		f.stalePayment(t, ref, domain.PaymentPending)
	}

	// The run start and the first candidate check see t0; everything later
	// is past the deadline.
	t0 := time.Now()
	var calls atomic.Int32
	f.sched.now = func() time.Time {
		if calls.Add(1) <= 2 {
			return t0
		}
		return t0.Add(time.Hour)
	}

	sum, err := f.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.querier.calls, 1)
	assert.EqualValues(t, 2, sum.Deferred)
}

func TestStart_RunsImmediately(t *testing.T) {
	f := newFixture(t, Config{Interval: time.Hour})
	f.stalePayment(t, "ord_1", domain.PaymentPending)
	f.querier.statuses["ord_1"] = &gateway.TransactionStatus{TransactionID: "tx-1", Status: domain.ReportedSuccess}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sched.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		depth, _ := f.store.QueueDepth(context.Background())
		return depth == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
