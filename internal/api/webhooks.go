package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Priya8975/payment-webhook-pipeline/internal/gateway"
	"github.com/go-chi/chi/v5"
)

const defaultMaxPayloadBytes = 1 << 20

type WebhookHandler struct {
	gateways *gateway.Registry
	ingester Ingester
	maxBytes int64
	logger   *slog.Logger
}

func NewWebhookHandler(gateways *gateway.Registry, ingester Ingester, maxBytes int64, logger *slog.Logger) *WebhookHandler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxPayloadBytes
	}
	return &WebhookHandler{gateways: gateways, ingester: ingester, maxBytes: maxBytes, logger: logger}
}

type receiveResponse struct {
	Status         string `json:"status"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Receive accepts a gateway callback. Nothing is stored unless the signature
// checks out, and a 200 is only sent once the event is durably queued.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "gateway")
	g, ok := h.gateways.Lookup(name)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_gateway")
		return
	}
	log := h.logger.With("gateway", g.Name, "request_id", r.Header.Get("X-Request-Id"))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("webhook payload too large", "limit_bytes", h.maxBytes)
			respondError(w, http.StatusRequestEntityTooLarge, "payload_too_large")
			return
		}
		respondError(w, http.StatusBadRequest, "unreadable_body")
		return
	}

	if !h.gateways.Verify(g, body, r.Header) {
		log.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr)
		respondError(w, http.StatusUnauthorized, "invalid_signature")
		return
	}

	event, err := g.Parse(body)
	if err != nil {
		log.Warn("malformed webhook payload", "error", err)
		respondError(w, http.StatusBadRequest, "malformed_payload")
		return
	}

	inserted, err := h.ingester.Ingest(r.Context(), event)
	if err != nil {
		log.Error("failed to store webhook", "error", err, "payment_reference", event.PaymentReference)
		respondError(w, http.StatusServiceUnavailable, "temporarily_unavailable")
		return
	}

	status := "received"
	if !inserted {
		status = "duplicate"
	}
	respondJSON(w, http.StatusOK, receiveResponse{Status: status, IdempotencyKey: event.IdempotencyKey})
}
