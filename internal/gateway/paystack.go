package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
)

type paystack struct{}

type paystackTransaction struct {
	ID          json.Number `json:"id"`
	Reference   string      `json:"reference"`
	Status      string      `json:"status"`
	Amount      int64       `json:"amount"`
	Currency    string      `json:"currency"`
	Transaction *struct {
		ID        json.Number `json:"id"`
		Reference string      `json:"reference"`
	} `json:"transaction,omitempty"`
	TransactionReference string `json:"transaction_reference"`
}

type paystackEnvelope struct {
	Event string              `json:"event"`
	Data  paystackTransaction `json:"data"`
}

func paystackStatus(s string) domain.ReportedStatus {
	switch strings.ToLower(s) {
	case "success":
		return domain.ReportedSuccess
	case "failed", "abandoned":
		return domain.ReportedFailed
	case "reversed":
		return domain.ReportedReversed
	}
	return domain.ReportedPending
}

func (paystack) parse(body []byte) (*Notification, error) {
	var env paystackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding paystack payload: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("paystack payload has no event")
	}

	d := env.Data
	n := &Notification{
		EventType:        env.Event,
		GatewayEventID:   d.ID.String(),
		PaymentReference: d.Reference,
		Amount:           d.Amount,
		Currency:         strings.ToUpper(d.Currency),
	}

	switch env.Event {
	case "charge.success":
		n.Status = domain.ReportedSuccess
	case "charge.failed":
		n.Status = domain.ReportedFailed
	case "refund.processed":
		// Refund payloads describe the refund; the payment is in data.transaction.
		n.Status = domain.ReportedReversed
		if d.Transaction != nil {
			n.GatewayEventID = d.Transaction.ID.String()
			n.PaymentReference = d.Transaction.Reference
		}
		if n.PaymentReference == "" {
			n.PaymentReference = d.TransactionReference
		}
	default:
		n.Informational = true
		n.Status = domain.ReportedPending
	}
	return n, nil
}

func (paystack) queryRequest(ctx context.Context, baseURL, secret, reference string) (*http.Request, error) {
	u := strings.TrimRight(baseURL, "/") + "/transaction/verify/" + url.PathEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	return req, nil
}

func (paystack) parseStatus(reference string, body []byte) (*TransactionStatus, error) {
	var resp struct {
		Status bool                `json:"status"`
		Data   paystackTransaction `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding paystack verify response: %w", err)
	}
	if !resp.Status || resp.Data.Reference == "" {
		return nil, ErrTransactionNotFound
	}

	return &TransactionStatus{
		Reference:     resp.Data.Reference,
		TransactionID: resp.Data.ID.String(),
		Status:        paystackStatus(resp.Data.Status),
		Amount:        resp.Data.Amount,
		Currency:      strings.ToUpper(resp.Data.Currency),
		Raw:           json.RawMessage(body),
	}, nil
}
