package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
)

type flutterwave struct{}

type flutterwaveTransaction struct {
	ID       json.Number `json:"id"`
	TxRef    string      `json:"tx_ref"`
	Status   string      `json:"status"`
	Amount   float64     `json:"amount"`
	Currency string      `json:"currency"`
}

func flutterwaveStatus(s string) domain.ReportedStatus {
	switch strings.ToLower(s) {
	case "successful":
		return domain.ReportedSuccess
	case "failed", "cancelled":
		return domain.ReportedFailed
	}
	return domain.ReportedPending
}

// Flutterwave reports major units.
func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func (flutterwave) parse(body []byte) (*Notification, error) {
	var env struct {
		Event string                 `json:"event"`
		Data  flutterwaveTransaction `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding flutterwave payload: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("flutterwave payload has no event")
	}

	n := &Notification{
		EventType:        env.Event,
		GatewayEventID:   env.Data.ID.String(),
		PaymentReference: env.Data.TxRef,
		Amount:           minorUnits(env.Data.Amount),
		Currency:         strings.ToUpper(env.Data.Currency),
		Status:           flutterwaveStatus(env.Data.Status),
	}
	if env.Event != "charge.completed" {
		n.Informational = true
		n.Status = domain.ReportedPending
	}
	return n, nil
}

func (flutterwave) queryRequest(ctx context.Context, baseURL, secret, reference string) (*http.Request, error) {
	q := url.Values{"tx_ref": {reference}}
	u := strings.TrimRight(baseURL, "/") + "/transactions/verify_by_reference?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	return req, nil
}

func (flutterwave) parseStatus(reference string, body []byte) (*TransactionStatus, error) {
	var resp struct {
		Status string                 `json:"status"`
		Data   flutterwaveTransaction `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding flutterwave verify response: %w", err)
	}
	if resp.Status != "success" || resp.Data.TxRef == "" {
		return nil, ErrTransactionNotFound
	}

	return &TransactionStatus{
		Reference:     resp.Data.TxRef,
		TransactionID: resp.Data.ID.String(),
		Status:        flutterwaveStatus(resp.Data.Status),
		Amount:        minorUnits(resp.Data.Amount),
		Currency:      strings.ToUpper(resp.Data.Currency),
		Raw:           json.RawMessage(body),
	}, nil
}
