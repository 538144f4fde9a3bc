// Command mock-gateway imitates a Paystack-style gateway for local runs: it
// answers status queries from an in-memory ledger and sends signed webhooks
// to the pipeline on request.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type transaction struct {
	ID        int64  `json:"id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type mockGateway struct {
	secret string
	target string
	client *http.Client

	mu     sync.Mutex
	txs    map[string]*transaction
	nextID int64

	queries  atomic.Int64
	sent     atomic.Int64
	failNext atomic.Int64
}

func newMockGateway(secret, target string) *mockGateway {
	return &mockGateway{
		secret: secret,
		target: target,
		client: &http.Client{Timeout: 10 * time.Second},
		txs:    make(map[string]*transaction),
		nextID: 4000000000,
	}
}

func (m *mockGateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /transaction/verify/{reference}", m.verify)
	mux.HandleFunc("PUT /admin/transactions/{reference}", m.upsert)
	mux.HandleFunc("POST /admin/transactions/{reference}/webhook", m.sendWebhook)
	mux.HandleFunc("POST /admin/fail", m.fail)
	mux.HandleFunc("GET /stats", m.stats)
	return mux
}

// verify answers like Paystack's GET /transaction/verify/:reference.
func (m *mockGateway) verify(w http.ResponseWriter, r *http.Request) {
	count := m.queries.Add(1)
	ref := r.PathValue("reference")

	if n := m.failNext.Load(); n > 0 && m.failNext.CompareAndSwap(n, n-1) {
		logRequest(r, count, http.StatusServiceUnavailable)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": false, "message": "upstream unavailable"})
		return
	}

	m.mu.Lock()
	tx, ok := m.txs[ref]
	var cp transaction
	if ok {
		cp = *tx
	}
	m.mu.Unlock()

	if !ok {
		logRequest(r, count, http.StatusNotFound)
		writeJSON(w, http.StatusNotFound, map[string]any{"status": false, "message": "Transaction reference not found"})
		return
	}

	logRequest(r, count, http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "message": "Verification successful", "data": cp})
}

type upsertRequest struct {
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// upsert creates or updates a transaction without notifying anyone, which is
// how a lost webhook looks from the pipeline's side.
func (m *mockGateway) upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}
	tx := m.put(r.PathValue("reference"), req)
	writeJSON(w, http.StatusOK, tx)
}

func (m *mockGateway) put(ref string, req upsertRequest) transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[ref]
	if !ok {
		m.nextID++
		tx = &transaction{ID: m.nextID, Reference: ref, Currency: "NGN"}
		m.txs[ref] = tx
	}
	tx.Status = req.Status
	if req.Amount > 0 {
		tx.Amount = req.Amount
	}
	if req.Currency != "" {
		tx.Currency = req.Currency
	}
	return *tx
}

func eventFor(status string) string {
	switch status {
	case "success":
		return "charge.success"
	case "reversed":
		return "refund.processed"
	default:
		return "charge.failed"
	}
}

// sendWebhook records the transaction and posts a signed webhook for it.
// ?copies=N sends the same delivery N times.
func (m *mockGateway) sendWebhook(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}
	copies := 1
	if n, err := strconv.Atoi(r.URL.Query().Get("copies")); err == nil && n > 0 {
		copies = n
	}

	tx := m.put(r.PathValue("reference"), req)
	data := map[string]any{
		"id": tx.ID, "reference": tx.Reference, "status": tx.Status,
		"amount": tx.Amount, "currency": tx.Currency,
	}
	if tx.Status == "reversed" {
		data = map[string]any{
			"status":      "processed",
			"amount":      tx.Amount,
			"transaction": map[string]any{"id": tx.ID, "reference": tx.Reference},
		}
	}
	body, _ := json.Marshal(map[string]any{"event": eventFor(tx.Status), "data": data})

	codes := make([]int, 0, copies)
	for i := 0; i < copies; i++ {
		code, err := m.post(r, body)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		codes = append(codes, code)
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx, "responses": codes})
}

func (m *mockGateway) post(r *http.Request, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, m.target, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-paystack-signature", sign(m.secret, body))

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("posting webhook: %w", err)
	}
	resp.Body.Close()

	count := m.sent.Add(1)
	log.Printf("[webhook #%d] POST %s -> %d", count, m.target, resp.StatusCode)
	return resp.StatusCode, nil
}

// fail makes the next ?n= status queries return 503.
func (m *mockGateway) fail(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseInt(r.URL.Query().Get("n"), 10, 64)
	if err != nil || n < 0 {
		n = 1
	}
	m.failNext.Store(n)
	writeJSON(w, http.StatusOK, map[string]int64{"failing_next": n})
}

func (m *mockGateway) stats(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	n := len(m.txs)
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int64{
		"transactions":  int64(n),
		"status_checks": m.queries.Load(),
		"webhooks_sent": m.sent.Load(),
	})
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func logRequest(r *http.Request, count int64, status int) {
	fmt.Printf("[#%d] %s %s -> %d | auth=%s\n",
		count,
		r.Method,
		r.URL.Path,
		status,
		truncate(r.Header.Get("Authorization"), 16),
	)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	port := getEnv("PORT", "9090")
	m := newMockGateway(
		getEnv("PAYSTACK_SECRET", "sk_test_local"),
		getEnv("TARGET_URL", "http://localhost:8080/webhooks/paystack"),
	)

	log.Printf("Mock gateway starting on :%s", port)
	log.Printf("  GET  /transaction/verify/{ref}                  -> status query")
	log.Printf("  PUT  /admin/transactions/{ref}                  -> set status silently")
	log.Printf("  POST /admin/transactions/{ref}/webhook?copies=N -> set status and send signed webhook")
	log.Printf("  POST /admin/fail?n=N                            -> next N status queries return 503")
	log.Printf("  GET  /stats                                     -> counters")

	if err := http.ListenAndServe(":"+port, m.routes()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
