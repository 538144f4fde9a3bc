package api

import (
	"net/http"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/go-chi/chi/v5"
)

// EventHandler serves the event audit log.
type EventHandler struct {
	store Store
}

func NewEventHandler(s Store) *EventHandler {
	return &EventHandler{store: s}
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.EventFilter{
		Gateway:   domain.Gateway(q.Get("gateway")),
		Reference: q.Get("reference"),
		State:     domain.ProcessingState(q.Get("state")),
		Limit:     queryLimit(r, 50),
	}

	switch filter.State {
	case "", domain.StateQueued, domain.StateClaimed, domain.StateProcessed, domain.StateDeadLettered:
	default:
		respondError(w, http.StatusBadRequest, "invalid state filter")
		return
	}

	events, err := h.store.ListEvents(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	respondJSON(w, http.StatusOK, events)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	event, err := h.store.GetEvent(r.Context(), key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	if event == nil {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}

	respondJSON(w, http.StatusOK, event)
}
