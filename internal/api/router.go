package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/Priya8975/payment-webhook-pipeline/internal/engine"
	"github.com/Priya8975/payment-webhook-pipeline/internal/gateway"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Store is everything the HTTP layer reads from or writes to directly.
// Both storage backends satisfy it.
type Store interface {
	GetEvent(ctx context.Context, key string) (*domain.WebhookEvent, error)
	ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.WebhookEvent, error)

	ListDeadLetters(ctx context.Context, gateway domain.Gateway, limit int) ([]domain.WebhookEvent, error)
	GetDeadLetter(ctx context.Context, key string) (*domain.WebhookEvent, error)
	RequeueDeadLetter(ctx context.Context, key string) error

	CreatePayment(ctx context.Context, p *domain.Payment) (bool, error)
	GetPayment(ctx context.Context, reference string) (*domain.Payment, error)
	ListTransitions(ctx context.Context, reference string) ([]domain.PaymentTransition, error)

	Metrics(ctx context.Context) (*domain.PipelineMetrics, error)
}

type Ingester interface {
	Ingest(ctx context.Context, event *domain.WebhookEvent) (bool, error)
}

// BreakerInspector exposes per-gateway circuit state for the metrics view.
type BreakerInspector interface {
	State(ctx context.Context, gateway domain.Gateway) engine.BreakerState
}

type Feed interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	ClientCount() int
}

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the router. Breakers, Feed and Checks are optional.
type Deps struct {
	Gateways        *gateway.Registry
	Ingester        Ingester
	Store           Store
	Breakers        BreakerInspector
	Feed            Feed
	Checks          map[string]Pinger
	MaxPayloadBytes int64
	Logger          *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	webhooks := NewWebhookHandler(d.Gateways, d.Ingester, d.MaxPayloadBytes, d.Logger)
	events := NewEventHandler(d.Store)
	dlq := NewDeadLetterHandler(d.Store, d.Logger)
	payments := NewPaymentHandler(d.Store, d.Gateways)
	dash := NewDashboardHandler(d.Store, d.Gateways, d.Breakers, d.Feed)

	r.Post("/webhooks/{gateway}", webhooks.Receive)

	if d.Feed != nil {
		r.Get("/ws", d.Feed.HandleWebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(corsMiddleware)
		r.Get("/health", HealthHandler(d.Checks))

		r.Route("/events", func(r chi.Router) {
			r.Get("/", events.List)
			r.Get("/{key}", events.Get)
		})

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", dlq.List)
			r.Get("/{key}", dlq.Get)
			r.Post("/{key}/requeue", dlq.Requeue)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", payments.Create)
			r.Get("/{reference}", payments.Get)
		})

		r.Get("/metrics", dash.Metrics)
		r.Get("/gateways", dash.Gateways)
	})

	return r
}

// corsMiddleware lets the operator console call the API from another origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
