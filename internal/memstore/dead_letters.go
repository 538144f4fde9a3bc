package memstore

import (
	"context"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
)

func (s *Store) ListDeadLetters(ctx context.Context, gateway domain.Gateway, limit int) ([]domain.WebhookEvent, error) {
	return s.ListEvents(ctx, domain.EventFilter{
		Gateway: gateway,
		State:   domain.StateDeadLettered,
		Limit:   limit,
	})
}

func (s *Store) GetDeadLetter(ctx context.Context, key string) (*domain.WebhookEvent, error) {
	e, err := s.GetEvent(ctx, key)
	if err != nil || e == nil || e.ProcessingState != domain.StateDeadLettered {
		return nil, err
	}
	return e, nil
}

func (s *Store) RequeueDeadLetter(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[key]
	if !ok || e.ProcessingState != domain.StateDeadLettered {
		return domain.ErrDeadLetterNotFound
	}

	e.ProcessingState = domain.StateQueued
	e.AttemptCount = 0
	e.LastErrorKind = nil
	e.LastError = nil

	if _, live := s.entries[key]; !live {
		now := s.now()
		s.entries[key] = &domain.QueueEntry{
			EventKey:       key,
			Gateway:        e.Gateway,
			Priority:       domain.PriorityFor(e),
			EnqueuedAt:     now,
			NextEligibleAt: now,
		}
	}
	return nil
}

func (s *Store) Metrics(_ context.Context) (*domain.PipelineMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	m := &domain.PipelineMetrics{
		QueueDepth:       int64(len(s.entries)),
		EventsByState:    map[domain.ProcessingState]int64{},
		PaymentsByStatus: map[domain.PaymentStatus]int64{},
	}
	for _, q := range s.entries {
		if q.ClaimToken != nil && q.ClaimExpiresAt != nil && q.ClaimExpiresAt.After(now) {
			m.ClaimedEntries++
		}
		if q.NextEligibleAt.After(now) {
			m.DeferredEntries++
		}
	}
	for _, e := range s.events {
		m.EventsByState[e.ProcessingState]++
		m.TotalEvents++
	}
	for _, p := range s.payments {
		m.PaymentsByStatus[p.Status]++
	}
	m.DeadLetterCount = m.EventsByState[domain.StateDeadLettered]
	return m, nil
}
