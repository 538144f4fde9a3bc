package api

import (
	"net/http"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/Priya8975/payment-webhook-pipeline/internal/engine"
	"github.com/Priya8975/payment-webhook-pipeline/internal/gateway"
)

type DashboardHandler struct {
	store    Store
	gateways *gateway.Registry
	breakers BreakerInspector
	feed     Feed
}

func NewDashboardHandler(s Store, gateways *gateway.Registry, breakers BreakerInspector, feed Feed) *DashboardHandler {
	return &DashboardHandler{store: s, gateways: gateways, breakers: breakers, feed: feed}
}

type metricsResponse struct {
	*domain.PipelineMetrics
	FeedClients int `json:"feed_clients"`
}

// Metrics returns queue and ledger counters for the operator console.
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.Metrics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get metrics")
		return
	}

	resp := metricsResponse{PipelineMetrics: m}
	if h.feed != nil {
		resp.FeedClients = h.feed.ClientCount()
	}
	respondJSON(w, http.StatusOK, resp)
}

type gatewayInfo struct {
	Name              domain.Gateway       `json:"name"`
	Kind              gateway.Kind         `json:"kind"`
	VerifyWithGateway bool                 `json:"verify_with_gateway"`
	RateLimitPerSec   int                  `json:"rate_limit_per_second"`
	Circuit           *engine.BreakerState `json:"circuit,omitempty"`
}

// Gateways lists configured gateways with their circuit breaker state.
func (h *DashboardHandler) Gateways(w http.ResponseWriter, r *http.Request) {
	names := h.gateways.Names()
	out := make([]gatewayInfo, 0, len(names))
	for _, name := range names {
		g, _ := h.gateways.Lookup(string(name))
		info := gatewayInfo{
			Name:              g.Name,
			Kind:              g.Kind,
			VerifyWithGateway: g.VerifyWithGateway,
			RateLimitPerSec:   g.RateLimit,
		}
		if h.breakers != nil {
			st := h.breakers.State(r.Context(), g.Name)
			info.Circuit = &st
		}
		out = append(out, info)
	}
	respondJSON(w, http.StatusOK, out)
}
