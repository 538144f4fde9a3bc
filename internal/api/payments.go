package api

import (
	"encoding/json"
	"net/http"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/Priya8975/payment-webhook-pipeline/internal/gateway"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// PaymentHandler is the checkout side's way into the ledger: it registers
// payments the pipeline will later settle, and shows their history.
type PaymentHandler struct {
	store    Store
	gateways *gateway.Registry
}

func NewPaymentHandler(s Store, gateways *gateway.Registry) *PaymentHandler {
	return &PaymentHandler{store: s, gateways: gateways}
}

type createPaymentRequest struct {
	Reference string `json:"reference" validate:"required,max=128"`
	Gateway   string `json:"gateway" validate:"required"`
	Amount    int64  `json:"amount" validate:"gte=0"`
	Currency  string `json:"currency" validate:"omitempty,len=3,uppercase"`
}

type paymentResponse struct {
	*domain.Payment
	Transitions []domain.PaymentTransition `json:"transitions"`
}

func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	g, ok := h.gateways.Lookup(req.Gateway)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown gateway")
		return
	}

	created, err := h.store.CreatePayment(r.Context(), &domain.Payment{
		Reference: req.Reference,
		Gateway:   g.Name,
		Amount:    req.Amount,
		Currency:  req.Currency,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create payment")
		return
	}
	if !created {
		respondError(w, http.StatusConflict, "payment already exists")
		return
	}

	p, err := h.store.GetPayment(r.Context(), req.Reference)
	if err != nil || p == nil {
		respondError(w, http.StatusInternalServerError, "failed to load payment")
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")

	p, err := h.store.GetPayment(r.Context(), ref)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get payment")
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, "payment not found")
		return
	}

	transitions, err := h.store.ListTransitions(r.Context(), ref)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list transitions")
		return
	}

	respondJSON(w, http.StatusOK, paymentResponse{Payment: p, Transitions: transitions})
}
