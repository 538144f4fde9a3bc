// Package gateway holds the per-gateway strategy table: how each configured
// gateway's webhooks are verified and parsed, and how its status-query API is
// called. The table is built once at startup from configuration.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/Priya8975/payment-webhook-pipeline/internal/config"
	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/Priya8975/payment-webhook-pipeline/internal/signature"
	"github.com/go-playground/validator/v10"
)

// Kind selects a gateway dialect.
type Kind string

const (
	KindPaystack    Kind = "paystack"
	KindFlutterwave Kind = "flutterwave"
	KindStripe      Kind = "stripe"
)

// ErrTransactionNotFound is returned when a gateway has no record of a reference.
var ErrTransactionNotFound = errors.New("transaction not found at gateway")

// Notification is what a gateway payload says about a payment.
type Notification struct {
	EventType        string                `json:"event_type"`
	GatewayEventID   string                `json:"gateway_event_id" validate:"max=255"`
	PaymentReference string                `json:"payment_reference" validate:"required_unless=Informational true,max=255"`
	Status           domain.ReportedStatus `json:"status" validate:"required,oneof=pending success failed reversed"`
	Informational    bool                  `json:"informational"`
	Amount           int64                 `json:"amount" validate:"gte=0"`
	Currency         string                `json:"currency" validate:"omitempty,len=3"`
}

// TransactionStatus is a gateway's answer to a status query.
type TransactionStatus struct {
	Reference     string                `json:"reference"`
	TransactionID string                `json:"transaction_id"`
	Status        domain.ReportedStatus `json:"status"`
	Amount        int64                 `json:"amount"`
	Currency      string                `json:"currency"`
	Raw           json.RawMessage       `json:"raw"`
}

// dialect is the gateway-native part of a strategy.
type dialect interface {
	parse(body []byte) (*Notification, error)
	queryRequest(ctx context.Context, baseURL, secret, reference string) (*http.Request, error)
	parseStatus(reference string, body []byte) (*TransactionStatus, error)
}

// Gateway is one resolved entry of the strategy table.
type Gateway struct {
	Name              domain.Gateway
	Kind              Kind
	SignatureHeader   string
	Scheme            signature.Scheme
	APIBaseURL        string
	APISecret         string
	VerifyWithGateway bool
	RateLimit         int

	dialect dialect
}

// Parse turns a verified webhook body into a candidate event. Any payload the
// dialect cannot read, or that fails validation, is ErrMalformedPayload.
func (g *Gateway) Parse(body []byte) (*domain.WebhookEvent, error) {
	n, err := g.dialect.parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if err := validate.Struct(n); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	return &domain.WebhookEvent{
		Gateway:          g.Name,
		GatewayEventID:   n.GatewayEventID,
		PaymentReference: n.PaymentReference,
		ReportedStatus:   n.Status,
		Informational:    n.Informational,
		Source:           domain.SourceWebhook,
		RawPayload:       json.RawMessage(body),
	}, nil
}

// Registry is the startup-resolved strategy table.
type Registry struct {
	gateways map[domain.Gateway]*Gateway
	verifier *signature.Verifier
}

var validate = validator.New()

// NewRegistry resolves every configured gateway to a strategy. Unknown kinds
// and invalid signature schemes fail startup.
func NewRegistry(cfgs []config.GatewayConfig) (*Registry, error) {
	r := &Registry{gateways: make(map[domain.Gateway]*Gateway, len(cfgs))}
	schemes := make(map[domain.Gateway]signature.Scheme, len(cfgs))

	for _, c := range cfgs {
		name := domain.Gateway(c.Name).Normalize()
		if _, dup := r.gateways[name]; dup {
			return nil, fmt.Errorf("gateway %q configured twice", name)
		}

		d, err := dialectFor(Kind(c.Kind))
		if err != nil {
			return nil, fmt.Errorf("gateway %q: %w", name, err)
		}

		scheme := signature.Scheme{
			Algorithm: signature.Algorithm(c.Signature.Algorithm),
			Secret:    c.Signature.Secret,
			Tolerance: c.Signature.Tolerance,
		}
		if err := scheme.Validate(); err != nil {
			return nil, fmt.Errorf("gateway %q: %w", name, err)
		}

		r.gateways[name] = &Gateway{
			Name:              name,
			Kind:              Kind(c.Kind),
			SignatureHeader:   c.Signature.Header,
			Scheme:            scheme,
			APIBaseURL:        c.API.BaseURL,
			APISecret:         c.API.Secret,
			VerifyWithGateway: c.VerifyWithGateway,
			RateLimit:         c.RateLimitPerSec,
			dialect:           d,
		}
		schemes[name] = scheme
	}

	r.verifier = signature.NewVerifier(schemes)
	return r, nil
}

func dialectFor(k Kind) (dialect, error) {
	switch k {
	case KindPaystack:
		return paystack{}, nil
	case KindFlutterwave:
		return flutterwave{}, nil
	case KindStripe:
		return stripe{}, nil
	}
	return nil, fmt.Errorf("unsupported gateway kind %q", k)
}

// Lookup returns the strategy for a gateway name as it appears in a route.
func (r *Registry) Lookup(name string) (*Gateway, bool) {
	g, ok := r.gateways[domain.Gateway(name).Normalize()]
	return g, ok
}

// Names lists configured gateways in sorted order.
func (r *Registry) Names() []domain.Gateway {
	out := make([]domain.Gateway, 0, len(r.gateways))
	for name := range r.gateways {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Verify checks the signature header of an inbound webhook for gateway g.
// A missing header never verifies.
func (r *Registry) Verify(g *Gateway, body []byte, header http.Header) bool {
	value := header.Get(g.SignatureHeader)
	if value == "" {
		return false
	}
	return r.verifier.Verify(g.Name, body, value)
}
