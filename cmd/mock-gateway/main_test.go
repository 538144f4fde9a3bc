package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/config"
	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/Priya8975/payment-webhook-pipeline/internal/gateway"
)

func testRegistry(t *testing.T, baseURL string) *gateway.Registry {
	t.Helper()
	reg, err := gateway.NewRegistry([]config.GatewayConfig{{
		Name: "paystack",
		Kind: "paystack",
		Signature: config.SignatureConfig{
			Algorithm: "hmac-sha512-hex",
			Header:    "x-paystack-signature",
			Secret:    "sk_test",
		},
		API: config.APIConfig{BaseURL: baseURL, Secret: "sk_test"},
	}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestMockGateway_AnswersStatusQueries(t *testing.T) {
	m := newMockGateway("sk_test", "http://unused")
	srv := httptest.NewServer(m.routes())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/admin/transactions/ord_1", strings.NewReader(`{"status":"failed","amount":5000}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	reg := testRegistry(t, srv.URL)
	g, _ := reg.Lookup("paystack")
	client := gateway.NewClient(nil, nil, time.Second, slog.New(slog.DiscardHandler))

	st, err := client.Query(context.Background(), g, "ord_1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if st.Status != domain.ReportedFailed || st.Amount != 5000 {
		t.Errorf("status = %+v", st)
	}

	if _, err := client.Query(context.Background(), g, "nope"); err == nil {
		t.Error("expected not-found error for unknown reference")
	}
}

func TestMockGateway_FailNextIsTransient(t *testing.T) {
	m := newMockGateway("sk_test", "http://unused")
	m.put("ord_1", upsertRequest{Status: "success"})
	m.failNext.Store(1)
	srv := httptest.NewServer(m.routes())
	defer srv.Close()

	g, _ := testRegistry(t, srv.URL).Lookup("paystack")
	client := gateway.NewClient(nil, nil, time.Second, slog.New(slog.DiscardHandler))

	_, err := client.Query(context.Background(), g, "ord_1")
	if domain.Classify(err) != domain.KindTransient {
		t.Errorf("Classify(%v) = %q, want transient", err, domain.Classify(err))
	}
	if _, err := client.Query(context.Background(), g, "ord_1"); err != nil {
		t.Errorf("second query: %v", err)
	}
}

func TestMockGateway_SendsVerifiableWebhooks(t *testing.T) {
	reg := testRegistry(t, "")
	g, _ := reg.Lookup("paystack")

	var mu sync.Mutex
	var got []*domain.WebhookEvent
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !reg.Verify(g, body, r.Header) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		e, err := g.Parse(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}))
	defer receiver.Close()

	m := newMockGateway("sk_test", receiver.URL)
	srv := httptest.NewServer(m.routes())
	defer srv.Close()

	for _, status := range []string{"success", "reversed"} {
		resp, err := http.Post(srv.URL+"/admin/transactions/ord_1/webhook?copies=2", "application/json",
			strings.NewReader(`{"status":"`+status+`","amount":5000}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("send %s: status %d", status, resp.StatusCode)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 4 {
		t.Fatalf("received %d webhooks, want 4", len(got))
	}
	if got[0].ReportedStatus != domain.ReportedSuccess || got[2].ReportedStatus != domain.ReportedReversed {
		t.Errorf("statuses = %s, %s", got[0].ReportedStatus, got[2].ReportedStatus)
	}
	for _, e := range got {
		if e.PaymentReference != "ord_1" {
			t.Errorf("reference = %q, want ord_1", e.PaymentReference)
		}
	}
	got[0].Seal()
	got[1].Seal()
	if got[0].IdempotencyKey != got[1].IdempotencyKey {
		t.Error("copies of one delivery should share an idempotency key")
	}
}
