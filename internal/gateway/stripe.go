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

type stripe struct{}

type stripeObject struct {
	ID            string            `json:"id"`
	Object        string            `json:"object"`
	Status        string            `json:"status"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
}

// reference prefers the merchant reference stored in metadata and falls back
// to the payment intent id.
func (o stripeObject) reference() string {
	if ref := o.Metadata["reference"]; ref != "" {
		return ref
	}
	if o.Object == "charge" {
		return o.PaymentIntent
	}
	return o.ID
}

func (o stripeObject) intentID() string {
	if o.Object == "charge" {
		return o.PaymentIntent
	}
	return o.ID
}

func stripeStatus(s string) domain.ReportedStatus {
	switch s {
	case "succeeded":
		return domain.ReportedSuccess
	case "canceled":
		return domain.ReportedFailed
	}
	return domain.ReportedPending
}

func (stripe) parse(body []byte) (*Notification, error) {
	var env struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object stripeObject `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding stripe payload: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("stripe payload has no type")
	}

	obj := env.Data.Object
	n := &Notification{
		EventType:        env.Type,
		GatewayEventID:   obj.intentID(),
		PaymentReference: obj.reference(),
		Amount:           obj.Amount,
		Currency:         strings.ToUpper(obj.Currency),
	}

	switch env.Type {
	case "payment_intent.succeeded":
		n.Status = domain.ReportedSuccess
	case "payment_intent.payment_failed", "payment_intent.canceled":
		n.Status = domain.ReportedFailed
	case "payment_intent.processing":
		n.Status = domain.ReportedPending
	case "charge.refunded":
		n.Status = domain.ReportedReversed
	default:
		n.Informational = true
		n.Status = domain.ReportedPending
		n.GatewayEventID = env.ID
	}
	return n, nil
}

func (stripe) queryRequest(ctx context.Context, baseURL, secret, reference string) (*http.Request, error) {
	q := url.Values{"query": {fmt.Sprintf("metadata['reference']:'%s'", strings.ReplaceAll(reference, "'", `\'`))}}
	u := strings.TrimRight(baseURL, "/") + "/v1/payment_intents/search?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	return req, nil
}

func (stripe) parseStatus(reference string, body []byte) (*TransactionStatus, error) {
	var resp struct {
		Data []stripeObject `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding stripe search response: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, ErrTransactionNotFound
	}

	pi := resp.Data[0]
	return &TransactionStatus{
		Reference:     reference,
		TransactionID: pi.ID,
		Status:        stripeStatus(pi.Status),
		Amount:        pi.Amount,
		Currency:      strings.ToUpper(pi.Currency),
		Raw:           json.RawMessage(body),
	}, nil
}
