package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIdempotencyKey_Deterministic(t *testing.T) {
	k1 := IdempotencyKey("paystack", "ref-1", ReportedSuccess, "123")
	k2 := IdempotencyKey(" Paystack ", "ref-1 ", ReportedSuccess, "123")

	if k1 != k2 {
		t.Errorf("keys differ for equivalent input: %s vs %s", k1, k2)
	}
	if len(k1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(k1))
	}
}

func TestIdempotencyKey_DistinguishesFields(t *testing.T) {
	base := IdempotencyKey("paystack", "ref-1", ReportedSuccess, "123")

	variants := map[string]string{
		"gateway":  IdempotencyKey("flutterwave", "ref-1", ReportedSuccess, "123"),
		"ref":      IdempotencyKey("paystack", "ref-2", ReportedSuccess, "123"),
		"status":   IdempotencyKey("paystack", "ref-1", ReportedFailed, "123"),
		"event id": IdempotencyKey("paystack", "ref-1", ReportedSuccess, "124"),
	}
	for name, k := range variants {
		if k == base {
			t.Errorf("changing %s did not change the key", name)
		}
	}
}

func TestSeal_FillsMissingEventID(t *testing.T) {
	e := &WebhookEvent{
		Gateway:          "Paystack",
		PaymentReference: "ref-1",
		ReportedStatus:   ReportedSuccess,
		RawPayload:       []byte(`{"a":1}`),
	}
	e.Seal()

	if e.Gateway != "paystack" {
		t.Errorf("Gateway = %q, want %q", e.Gateway, "paystack")
	}
	if e.GatewayEventID != EventIDFromPayload([]byte(`{"a":1}`)) {
		t.Errorf("GatewayEventID = %q, want payload hash", e.GatewayEventID)
	}
	if e.IdempotencyKey == "" {
		t.Error("IdempotencyKey should be set")
	}
}

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		name  string
		event WebhookEvent
		want  int
	}{
		{"success", WebhookEvent{ReportedStatus: ReportedSuccess}, PriorityStatusChange},
		{"failed", WebhookEvent{ReportedStatus: ReportedFailed}, PriorityStatusChange},
		{"reversed", WebhookEvent{ReportedStatus: ReportedReversed}, PriorityStatusChange},
		{"pending", WebhookEvent{ReportedStatus: ReportedPending}, PriorityUpdate},
		{"informational", WebhookEvent{ReportedStatus: ReportedPending, Informational: true}, PriorityInformational},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PriorityFor(&tt.event); got != tt.want {
				t.Errorf("PriorityFor = %d, want %d", got, tt.want)
			}
		})
	}

	e := WebhookEvent{IdempotencyKey: "k", Gateway: "paystack", ReportedStatus: ReportedSuccess}
	now := time.Now()
	entry := NewQueueEntry(&e, now)
	if entry.Priority != PriorityStatusChange || !entry.NextEligibleAt.Equal(now) {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"explicit transient", Transient("ledger", errors.New("lock")), KindTransient},
		{"explicit permanent", Permanent("parse", errors.New("bad")), KindPermanent},
		{"wrapped permanent", fmt.Errorf("outer: %w", Permanent("parse", errors.New("bad"))), KindPermanent},
		{"malformed", fmt.Errorf("x: %w", ErrMalformedPayload), KindPermanent},
		{"missing event", ErrEventNotFound, KindPermanent},
		{"deferred", ErrTransitionDeferred, KindTransient},
		{"unknown", errors.New("boom"), KindTransient},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}
