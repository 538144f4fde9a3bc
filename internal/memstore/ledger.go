package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
)

func (s *Store) CreatePayment(_ context.Context, p *domain.Payment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[p.Reference]; ok {
		return false, nil
	}
	now := s.now()
	s.payments[p.Reference] = &domain.Payment{
		Reference:        p.Reference,
		Gateway:          p.Gateway.Normalize(),
		Status:           domain.PaymentCreated,
		Amount:           p.Amount,
		Currency:         p.Currency,
		CreatedAt:        now,
		LastTransitionAt: now,
	}
	return true, nil
}

func (s *Store) GetPayment(_ context.Context, reference string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[reference]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// ApplyTransition runs the ledger state machine under the store lock.
func (s *Store) ApplyTransition(_ context.Context, reference string, to domain.PaymentStatus, sourceKey string) (domain.TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[reference]
	if !ok {
		return domain.TransitionResult{Outcome: domain.TransitionConflict, ToStatus: to}, nil
	}

	result := domain.TransitionResult{Outcome: domain.TransitionNoOp, FromStatus: p.Status, ToStatus: to}
	switch domain.DecideTransition(p.Status, to) {
	case domain.DecisionStale:
		return result, nil
	case domain.DecisionDefer:
		return result, domain.ErrTransitionDeferred
	}

	now := s.now()
	key := sourceKey
	p.Status = to
	p.LastEventKey = &key
	p.LastTransitionAt = now
	s.transitions = append(s.transitions, domain.PaymentTransition{
		Reference:      reference,
		FromStatus:     result.FromStatus,
		ToStatus:       to,
		SourceEventKey: sourceKey,
		CreatedAt:      now,
	})

	result.Outcome = domain.TransitionApplied
	return result, nil
}

func (s *Store) ListStalePayments(_ context.Context, olderThan time.Time, limit int) ([]domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []domain.Payment{}
	for _, p := range s.payments {
		if p.Status != domain.PaymentCreated && p.Status != domain.PaymentPending {
			continue
		}
		if !p.LastTransitionAt.Before(olderThan) {
			continue
		}
		out = append(out, *p)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastTransitionAt.Before(out[j].LastTransitionAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListTransitions(_ context.Context, reference string) ([]domain.PaymentTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []domain.PaymentTransition{}
	for _, t := range s.transitions {
		if t.Reference == reference {
			out = append(out, t)
		}
	}
	return out, nil
}

// Touch sets a payment's last transition time. Used to age payments in tests
// and local runs.
func (s *Store) Touch(reference string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[reference]; ok {
		p.LastTransitionAt = at
	}
}
