// Package memstore is an in-process implementation of the pipeline's storage:
// event store, priority queue, payment ledger and dead letters behind one
// mutex. It backs STORAGE_BACKEND=memory and the pipeline tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
)

type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	events      map[string]*domain.WebhookEvent
	entries     map[string]*domain.QueueEntry
	payments    map[string]*domain.Payment
	transitions []domain.PaymentTransition
}

func New() *Store {
	return &Store{
		now:      time.Now,
		events:   make(map[string]*domain.WebhookEvent),
		entries:  make(map[string]*domain.QueueEntry),
		payments: make(map[string]*domain.Payment),
	}
}

// SetClock replaces the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) Ping(context.Context) error { return nil }

func copyEvent(e *domain.WebhookEvent) *domain.WebhookEvent {
	cp := *e
	cp.RawPayload = append([]byte(nil), e.RawPayload...)
	if e.LastErrorKind != nil {
		k := *e.LastErrorKind
		cp.LastErrorKind = &k
	}
	if e.LastError != nil {
		msg := *e.LastError
		cp.LastError = &msg
	}
	if e.ProcessedAt != nil {
		at := *e.ProcessedAt
		cp.ProcessedAt = &at
	}
	return &cp
}

func copyEntry(q *domain.QueueEntry) domain.QueueEntry {
	cp := *q
	if q.ClaimToken != nil {
		tok := *q.ClaimToken
		cp.ClaimToken = &tok
	}
	if q.ClaimExpiresAt != nil {
		at := *q.ClaimExpiresAt
		cp.ClaimExpiresAt = &at
	}
	if q.LastErrorKind != nil {
		k := *q.LastErrorKind
		cp.LastErrorKind = &k
	}
	return cp
}

// InsertEventAndEnqueue stores the event and its queue entry together.
// Returns false when the idempotency key is already known.
func (s *Store) InsertEventAndEnqueue(_ context.Context, e *domain.WebhookEvent, q domain.QueueEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.IdempotencyKey]; ok {
		return false, nil
	}

	stored := copyEvent(e)
	stored.ProcessingState = domain.StateQueued
	stored.AttemptCount = 0
	s.events[e.IdempotencyKey] = stored

	entry := copyEntry(&q)
	entry.ClaimToken = nil
	entry.ClaimExpiresAt = nil
	s.entries[q.EventKey] = &entry
	return true, nil
}

func (s *Store) GetEvent(_ context.Context, key string) (*domain.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[key]
	if !ok {
		return nil, nil
	}
	return copyEvent(e), nil
}

func (s *Store) GetEventsByKeys(_ context.Context, keys []string) (map[string]*domain.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*domain.WebhookEvent, len(keys))
	for _, k := range keys {
		if e, ok := s.events[k]; ok {
			out[k] = copyEvent(e)
		}
	}
	return out, nil
}

func (s *Store) ListEvents(_ context.Context, f domain.EventFilter) ([]domain.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gateway := f.Gateway.Normalize()
	out := []domain.WebhookEvent{}
	for _, e := range s.events {
		if gateway != "" && e.Gateway != gateway {
			continue
		}
		if f.Reference != "" && e.PaymentReference != f.Reference {
			continue
		}
		if f.State != "" && e.ProcessingState != f.State {
			continue
		}
		out = append(out, *copyEvent(e))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].IdempotencyKey < out[j].IdempotencyKey
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Complete marks the event processed and drops its entry if token still owns it.
func (s *Store) Complete(_ context.Context, token, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.entries[key]
	if !ok || q.Token() != token {
		return domain.ErrClaimNotFound
	}
	delete(s.entries, key)

	if e, ok := s.events[key]; ok {
		now := s.now()
		e.ProcessingState = domain.StateProcessed
		e.ProcessedAt = &now
		e.LastErrorKind = nil
		e.LastError = nil
	}
	return nil
}

// DeadLetter marks the event dead-lettered and drops its entry if token still owns it.
func (s *Store) DeadLetter(_ context.Context, token, key string, kind domain.ErrorKind, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.entries[key]
	if !ok || q.Token() != token {
		return domain.ErrClaimNotFound
	}
	delete(s.entries, key)

	if e, ok := s.events[key]; ok {
		e.ProcessingState = domain.StateDeadLettered
		e.AttemptCount = q.AttemptCount
		e.LastErrorKind = &kind
		e.LastError = &reason
	}
	return nil
}
