package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
)

// setupTestStore connects to TEST_DATABASE_URL, migrates and truncates.
// Tests are skipped when no database is configured.
func setupTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := NewPostgres(ctx, url)
	if err != nil {
		t.Fatalf("NewPostgres() error = %v", err)
	}
	t.Cleanup(s.Close)

	if err := s.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if _, err := s.pool.Exec(ctx, `TRUNCATE queue_entries, webhook_events, payment_transitions, payments`); err != nil {
		t.Fatalf("truncating: %v", err)
	}
	return s
}

func newEvent(ref string, status domain.ReportedStatus, eventID string) (*domain.WebhookEvent, domain.QueueEntry) {
	e := &domain.WebhookEvent{
		Gateway:          "paystack",
		GatewayEventID:   eventID,
		PaymentReference: ref,
		ReportedStatus:   status,
		Source:           domain.SourceWebhook,
		RawPayload:       json.RawMessage(`{"reference":"` + ref + `"}`),
		ReceivedAt:       time.Now().UTC(),
	}
	e.Seal()
	// Entries are eligible slightly in the past so NOW() on the server admits them.
	return e, domain.NewQueueEntry(e, time.Now().Add(-time.Second))
}

func TestPostgres_InsertEventAndEnqueueDedupes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	e, q := newEvent("ref-1", domain.ReportedSuccess, "tx-1")
	inserted, err := s.InsertEventAndEnqueue(ctx, e, q)
	if err != nil || !inserted {
		t.Fatalf("first insert = (%v, %v), want (true, nil)", inserted, err)
	}

	inserted, err = s.InsertEventAndEnqueue(ctx, e, q)
	if err != nil || inserted {
		t.Fatalf("second insert = (%v, %v), want (false, nil)", inserted, err)
	}

	depth, err := s.QueueDepth(ctx)
	if err != nil {
		t.Fatalf("QueueDepth() error = %v", err)
	}
	if depth != 1 {
		t.Errorf("queue depth = %d, want 1", depth)
	}

	got, err := s.GetEvent(ctx, e.IdempotencyKey)
	if err != nil || got == nil {
		t.Fatalf("GetEvent() = (%v, %v)", got, err)
	}
	if string(got.RawPayload) != string(e.RawPayload) {
		t.Errorf("raw payload = %s, want %s", got.RawPayload, e.RawPayload)
	}
	if got.ProcessingState != domain.StateQueued {
		t.Errorf("state = %q, want queued", got.ProcessingState)
	}

	missing, err := s.GetEvent(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetEvent(missing) = (%v, %v), want (nil, nil)", missing, err)
	}
}

func TestPostgres_ClaimOrderAndVisibility(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	pending, qp := newEvent("ref-1", domain.ReportedPending, "tx-1")
	success, qs := newEvent("ref-1", domain.ReportedSuccess, "tx-1")
	qs.EnqueuedAt = qp.EnqueuedAt.Add(time.Millisecond)
	for _, pair := range []struct {
		e *domain.WebhookEvent
		q domain.QueueEntry
	}{{pending, qp}, {success, qs}} {
		if _, err := s.InsertEventAndEnqueue(ctx, pair.e, pair.q); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	claimed, err := s.ClaimBatch(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimBatch() error = %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d, want 2", len(claimed))
	}
	if claimed[0].EventKey != success.IdempotencyKey {
		t.Error("terminal status change should be claimed first")
	}
	for _, c := range claimed {
		if c.Token() == "" || c.AttemptCount != 1 {
			t.Errorf("entry %s token=%q attempts=%d", c.EventKey, c.Token(), c.AttemptCount)
		}
	}

	again, err := s.ClaimBatch(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimBatch() error = %v", err)
	}
	if len(again) != 0 {
		t.Errorf("claimed entries should be invisible, got %d", len(again))
	}

	ev, _ := s.GetEvent(ctx, success.IdempotencyKey)
	if ev.ProcessingState != domain.StateClaimed {
		t.Errorf("event state = %q, want claimed", ev.ProcessingState)
	}
}

func TestPostgres_ExpiredClaimIsReclaimed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	e, q := newEvent("ref-1", domain.ReportedSuccess, "tx-1")
	if _, err := s.InsertEventAndEnqueue(ctx, e, q); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first, err := s.ClaimBatch(ctx, 1, 10*time.Millisecond)
	if err != nil || len(first) != 1 {
		t.Fatalf("first claim = (%d, %v)", len(first), err)
	}
	time.Sleep(50 * time.Millisecond)

	n, err := s.RequeueExpiredClaims(ctx)
	if err != nil {
		t.Fatalf("RequeueExpiredClaims() error = %v", err)
	}
	if n != 1 {
		t.Errorf("requeued %d, want 1", n)
	}

	second, err := s.ClaimBatch(ctx, 1, time.Minute)
	if err != nil || len(second) != 1 {
		t.Fatalf("second claim = (%d, %v)", len(second), err)
	}
	if second[0].AttemptCount != 2 {
		t.Errorf("attempt_count = %d, want 2", second[0].AttemptCount)
	}
	if err := s.Ack(ctx, first[0].Token()); !errors.Is(err, domain.ErrClaimNotFound) {
		t.Errorf("Ack(stale token) error = %v, want ErrClaimNotFound", err)
	}
}

func TestPostgres_ConcurrentClaimsDoNotOverlap(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		e, q := newEvent("ref", domain.ReportedSuccess, fmt.Sprintf("tx-%d", i))
		if _, err := s.InsertEventAndEnqueue(ctx, e, q); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := s.ClaimBatch(ctx, 3, time.Minute)
				if err != nil {
					t.Errorf("ClaimBatch() error = %v", err)
					return
				}
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, q := range batch {
					seen[q.EventKey]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 40 {
		t.Errorf("claimed %d distinct entries, want 40", len(seen))
	}
	for key, n := range seen {
		if n != 1 {
			t.Errorf("entry %s claimed %d times", key, n)
		}
	}
}

func TestPostgres_RescheduleGatesEligibility(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	e, q := newEvent("ref-1", domain.ReportedSuccess, "tx-1")
	s.InsertEventAndEnqueue(ctx, e, q)
	claimed, _ := s.ClaimBatch(ctx, 1, time.Minute)
	if len(claimed) != 1 {
		t.Fatal("expected one claimed entry")
	}

	err := s.Reschedule(ctx, claimed[0].Token(), domain.RetryRecord{
		EventKey:       e.IdempotencyKey,
		AttemptCount:   1,
		NextEligibleAt: time.Now().Add(time.Hour),
		LastErrorKind:  domain.KindTransient,
		LastError:      "lock contention",
	})
	if err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}

	batch, _ := s.ClaimBatch(ctx, 1, time.Minute)
	if len(batch) != 0 {
		t.Error("entry should not be claimable before next_eligible_at")
	}

	ev, _ := s.GetEvent(ctx, e.IdempotencyKey)
	if ev.LastError == nil || *ev.LastError != "lock contention" {
		t.Errorf("last_error = %v, want lock contention", ev.LastError)
	}
	if ev.ProcessingState != domain.StateQueued {
		t.Errorf("state = %q, want queued", ev.ProcessingState)
	}
}

func TestPostgres_ApplyTransition(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if ok, err := s.CreatePayment(ctx, &domain.Payment{Reference: "ref-1", Gateway: "paystack", Amount: 5000, Currency: "NGN"}); err != nil || !ok {
		t.Fatalf("CreatePayment() = (%v, %v)", ok, err)
	}
	if ok, _ := s.CreatePayment(ctx, &domain.Payment{Reference: "ref-1", Gateway: "paystack"}); ok {
		t.Error("duplicate CreatePayment() should return false")
	}

	steps := []struct {
		to      domain.PaymentStatus
		want    domain.TransitionOutcome
		wantErr error
	}{
		{domain.PaymentReversed, domain.TransitionNoOp, domain.ErrTransitionDeferred},
		{domain.PaymentSuccess, domain.TransitionApplied, nil},
		{domain.PaymentPending, domain.TransitionNoOp, nil},
		{domain.PaymentFailed, domain.TransitionNoOp, nil},
		{domain.PaymentReversed, domain.TransitionApplied, nil},
	}
	for _, st := range steps {
		res, err := s.ApplyTransition(ctx, "ref-1", st.to, "key-"+string(st.to))
		if !errors.Is(err, st.wantErr) {
			t.Fatalf("ApplyTransition(%s) error = %v, want %v", st.to, err, st.wantErr)
		}
		if res.Outcome != st.want {
			t.Errorf("ApplyTransition(%s) = %s, want %s", st.to, res.Outcome, st.want)
		}
	}

	p, _ := s.GetPayment(ctx, "ref-1")
	if p.Status != domain.PaymentReversed {
		t.Errorf("status = %q, want reversed", p.Status)
	}

	trs, err := s.ListTransitions(ctx, "ref-1")
	if err != nil {
		t.Fatalf("ListTransitions() error = %v", err)
	}
	if len(trs) != 2 {
		t.Errorf("transitions = %d, want 2", len(trs))
	}

	res, err := s.ApplyTransition(ctx, "unknown", domain.PaymentSuccess, "k")
	if err != nil || res.Outcome != domain.TransitionConflict {
		t.Errorf("unknown reference = (%v, %v), want conflict", res.Outcome, err)
	}
}

func TestPostgres_DeadLetterAndRequeue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	e, q := newEvent("ref-1", domain.ReportedSuccess, "tx-1")
	s.InsertEventAndEnqueue(ctx, e, q)
	claimed, _ := s.ClaimBatch(ctx, 1, time.Minute)
	if len(claimed) != 1 {
		t.Fatal("expected one claimed entry")
	}

	if err := s.DeadLetter(ctx, claimed[0].Token(), e.IdempotencyKey, domain.KindPermanent, "unknown reference"); err != nil {
		t.Fatalf("DeadLetter() error = %v", err)
	}

	dls, err := s.ListDeadLetters(ctx, "", 10)
	if err != nil || len(dls) != 1 {
		t.Fatalf("ListDeadLetters() = (%d, %v), want 1", len(dls), err)
	}
	if depth, _ := s.QueueDepth(ctx); depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}

	if err := s.RequeueDeadLetter(ctx, e.IdempotencyKey); err != nil {
		t.Fatalf("RequeueDeadLetter() error = %v", err)
	}
	if err := s.RequeueDeadLetter(ctx, e.IdempotencyKey); !errors.Is(err, domain.ErrDeadLetterNotFound) {
		t.Errorf("second RequeueDeadLetter() error = %v, want ErrDeadLetterNotFound", err)
	}

	ev, _ := s.GetEvent(ctx, e.IdempotencyKey)
	if ev.AttemptCount != 0 || ev.ProcessingState != domain.StateQueued {
		t.Errorf("requeued event = attempts %d state %q", ev.AttemptCount, ev.ProcessingState)
	}
	if depth, _ := s.QueueDepth(ctx); depth != 1 {
		t.Errorf("queue depth = %d, want 1", depth)
	}
}

func TestPostgres_ListStalePayments(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, ref := range []string{"old-pending", "old-success", "fresh"} {
		s.CreatePayment(ctx, &domain.Payment{Reference: ref, Gateway: "paystack"})
	}
	s.ApplyTransition(ctx, "old-success", domain.PaymentSuccess, "k")
	s.pool.Exec(ctx, `UPDATE payments SET last_transition_at = NOW() - INTERVAL '1 hour' WHERE reference LIKE 'old-%'`)

	stale, err := s.ListStalePayments(ctx, time.Now().Add(-10*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStalePayments() error = %v", err)
	}
	if len(stale) != 1 || stale[0].Reference != "old-pending" {
		t.Errorf("stale = %+v, want only old-pending", stale)
	}
}
