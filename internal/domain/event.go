package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// ReportedStatus is the payment status a gateway reports in a notification.
type ReportedStatus string

const (
	ReportedPending  ReportedStatus = "pending"
	ReportedSuccess  ReportedStatus = "success"
	ReportedFailed   ReportedStatus = "failed"
	ReportedReversed ReportedStatus = "reversed"
)

// PaymentStatus maps a reported status onto the ledger state machine.
func (s ReportedStatus) PaymentStatus() PaymentStatus {
	return PaymentStatus(s)
}

// Valid reports whether s is one of the known reported statuses.
func (s ReportedStatus) Valid() bool {
	switch s {
	case ReportedPending, ReportedSuccess, ReportedFailed, ReportedReversed:
		return true
	}
	return false
}

// ProcessingState tracks an event through the pipeline.
type ProcessingState string

const (
	StateQueued       ProcessingState = "queued"
	StateClaimed      ProcessingState = "claimed"
	StateProcessed    ProcessingState = "processed"
	StateDeadLettered ProcessingState = "dead_lettered"
)

// EventSource records who produced an event.
type EventSource string

const (
	SourceWebhook        EventSource = "webhook"
	SourceReconciliation EventSource = "reconciliation"
)

// WebhookEvent is one inbound (or synthesized) gateway notification.
type WebhookEvent struct {
	IdempotencyKey   string          `json:"idempotency_key"`
	Gateway          Gateway         `json:"gateway"`
	GatewayEventID   string          `json:"gateway_event_id"`
	PaymentReference string          `json:"payment_reference"`
	ReportedStatus   ReportedStatus  `json:"reported_status"`
	Informational    bool            `json:"informational"`
	Source           EventSource     `json:"source"`
	RawPayload       json.RawMessage `json:"raw_payload"`
	ProcessingState  ProcessingState `json:"processing_state"`
	AttemptCount     int             `json:"attempt_count"`
	LastErrorKind    *ErrorKind      `json:"last_error_kind,omitempty"`
	LastError        *string         `json:"last_error,omitempty"`
	ReceivedAt       time.Time       `json:"received_at"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
}

// EventIDFromPayload derives a stable gateway event id for payloads that do
// not carry one.
func EventIDFromPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "hash:" + hex.EncodeToString(sum[:])
}

// IdempotencyKey derives the deterministic dedupe key for an event. Webhook
// deliveries and reconciliation-synthesized events for the same gateway
// transaction and status produce the same key.
func IdempotencyKey(gateway Gateway, reference string, status ReportedStatus, gatewayEventID string) string {
	parts := []string{
		string(gateway.Normalize()),
		strings.TrimSpace(reference),
		string(status),
		strings.TrimSpace(gatewayEventID),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Seal fills in the idempotency key, and the gateway event id when missing.
func (e *WebhookEvent) Seal() {
	e.Gateway = e.Gateway.Normalize()
	if strings.TrimSpace(e.GatewayEventID) == "" {
		e.GatewayEventID = EventIDFromPayload(e.RawPayload)
	}
	e.IdempotencyKey = IdempotencyKey(e.Gateway, e.PaymentReference, e.ReportedStatus, e.GatewayEventID)
}
