package worker

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
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (r *recorder) Notify(_ context.Context, n domain.Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
}

func (r *recorder) ofKind(kind domain.NotificationKind) []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for _, n := range r.notes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// flakyLedger fails the first n ApplyTransition calls with lock contention.
type flakyLedger struct {
	Ledger
	failures atomic.Int32
	calls    atomic.Int32
}

var errLockContention = errors.New("could not obtain lock on row in relation \"payments\"")

func (f *flakyLedger) ApplyTransition(ctx context.Context, ref string, to domain.PaymentStatus, key string) (domain.TransitionResult, error) {
	f.calls.Add(1)
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return domain.TransitionResult{}, domain.Transient("apply transition", errLockContention)
	}
	return f.Ledger.ApplyTransition(ctx, ref, to, key)
}

type fakeQuerier struct {
	mu       sync.Mutex
	statuses map[string]*gateway.TransactionStatus
	err      error
	calls    int
}

func (f *fakeQuerier) Query(_ context.Context, _ *gateway.Gateway, ref string) (*gateway.TransactionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	st, ok := f.statuses[ref]
	if !ok {
		return nil, gateway.ErrTransactionNotFound
	}
	return st, nil
}

type harness struct {
	store    *memstore.Store
	clock    *clock
	ledger   *flakyLedger
	ingestor *engine.Ingestor
	retry    *RetryManager
	proc     *Processor
	notes    *recorder
	querier  *fakeQuerier
}

const (
	testMaxAttempts       = 5
	testUnknownRefLookups = 3
)

func newHarness(t *testing.T, verify bool) *harness {
	t.Helper()

	reg, err := gateway.NewRegistry([]config.GatewayConfig{{
		Name: "paystack",
		Kind: "paystack",
		Signature: config.SignatureConfig{
			Algorithm: "hmac-sha512-hex",
			Header:    "x-paystack-signature",
			Secret:    "sk_test",
		},
		VerifyWithGateway: verify,
	}})
	require.NoError(t, err)

	c := &clock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	st := memstore.New()
	st.SetClock(c.Now)

	in := engine.NewIngestor(st, testLogger())
	in.SetClock(c.Now)

	h := &harness{
		store:    st,
		clock:    c,
		ledger:   &flakyLedger{Ledger: st},
		ingestor: in,
		notes:    &recorder{},
		querier:  &fakeQuerier{statuses: map[string]*gateway.TransactionStatus{}},
	}

	h.retry = NewRetryManager(st, engine.Backoff{Base: time.Second, Max: time.Minute}, testMaxAttempts, h.notes, testLogger())
	h.retry.now = c.Now

	h.proc = NewProcessor(st, st, h.ledger, reg, h.querier, h.notes, h.retry, ProcessorConfig{
		MaxAttempts:             testMaxAttempts,
		UnknownReferenceLookups: testUnknownRefLookups,
		VerifyConcurrency:       2,
	}, testLogger())
	h.proc.now = c.Now
	return h
}

func (h *harness) payment(t *testing.T, ref string, amount int64) {
	t.Helper()
	ok, err := h.store.CreatePayment(context.Background(), &domain.Payment{
		Reference: ref, Gateway: "paystack", Amount: amount, Currency: "NGN",
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func (h *harness) receive(t *testing.T, ref string, status domain.ReportedStatus, txID string) *domain.WebhookEvent {
	t.Helper()
	e := &domain.WebhookEvent{
		Gateway:          "paystack",
		GatewayEventID:   txID,
		PaymentReference: ref,
		ReportedStatus:   status,
		RawPayload:       []byte(`{"reference":"` + ref + `","status":"` + string(status) + `"}`),
	}
	inserted, err := h.ingestor.Ingest(context.Background(), e)
	require.NoError(t, err)
	require.True(t, inserted)
	return e
}

// step claims whatever is visible now and processes it. Returns the batch size.
func (h *harness) step(t *testing.T) int {
	t.Helper()
	batch, err := h.store.ClaimBatch(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	h.proc.ProcessBatch(context.Background(), batch)
	return len(batch)
}

// drain processes until the queue is empty, moving the clock past any backoff.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 50; i++ {
		depth, err := h.store.QueueDepth(context.Background())
		require.NoError(t, err)
		if depth == 0 {
			return
		}
		if h.step(t) == 0 {
			h.clock.Advance(time.Minute)
		}
	}
	t.Fatal("queue did not drain")
}

func (h *harness) event(t *testing.T, key string) *domain.WebhookEvent {
	t.Helper()
	e, err := h.store.GetEvent(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, e)
	return e
}

func (h *harness) status(t *testing.T, ref string) domain.PaymentStatus {
	t.Helper()
	p, err := h.store.GetPayment(context.Background(), ref)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.Status
}
