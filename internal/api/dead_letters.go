package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/go-chi/chi/v5"
)

type DeadLetterHandler struct {
	store  Store
	logger *slog.Logger
}

func NewDeadLetterHandler(s Store, logger *slog.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{store: s, logger: logger}
}

func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	gateway := domain.Gateway(r.URL.Query().Get("gateway"))

	letters, err := h.store.ListDeadLetters(r.Context(), gateway, queryLimit(r, 50))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	respondJSON(w, http.StatusOK, letters)
}

func (h *DeadLetterHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	letter, err := h.store.GetDeadLetter(r.Context(), key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get dead letter")
		return
	}
	if letter == nil {
		respondError(w, http.StatusNotFound, "dead letter not found")
		return
	}

	respondJSON(w, http.StatusOK, letter)
}

// Requeue gives a dead-lettered event a fresh attempt budget and puts it
// back on the queue.
func (h *DeadLetterHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := h.store.RequeueDeadLetter(r.Context(), key); err != nil {
		if errors.Is(err, domain.ErrDeadLetterNotFound) {
			respondError(w, http.StatusNotFound, "dead letter not found")
			return
		}
		h.logger.Error("failed to requeue dead letter", "error", err, "idempotency_key", key)
		respondError(w, http.StatusInternalServerError, "failed to requeue dead letter")
		return
	}

	h.logger.Info("dead letter requeued by operator", "idempotency_key", key)
	respondJSON(w, http.StatusOK, map[string]string{"status": "requeued", "idempotency_key": key})
}
