package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/google/uuid"
)

func (s *Store) visible(q *domain.QueueEntry, now time.Time) bool {
	if q.NextEligibleAt.After(now) {
		return false
	}
	return q.ClaimToken == nil || q.ClaimExpiresAt == nil || !q.ClaimExpiresAt.After(now)
}

// ClaimBatch claims up to max visible entries in priority, then arrival, order.
func (s *Store) ClaimBatch(_ context.Context, max int, visibility time.Duration) ([]domain.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var candidates []*domain.QueueEntry
	for _, q := range s.entries {
		if s.visible(q, now) {
			candidates = append(candidates, q)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.EventKey < b.EventKey
	})

	if max < 0 {
		max = 0
	}
	if len(candidates) > max {
		candidates = candidates[:max]
	}

	out := make([]domain.QueueEntry, 0, len(candidates))
	expires := now.Add(visibility)
	for _, q := range candidates {
		tok := uuid.NewString()
		exp := expires
		q.ClaimToken = &tok
		q.ClaimExpiresAt = &exp
		q.AttemptCount++

		if e, ok := s.events[q.EventKey]; ok {
			e.ProcessingState = domain.StateClaimed
			e.AttemptCount = q.AttemptCount
		}
		out = append(out, copyEntry(q))
	}
	return out, nil
}

func (s *Store) entryByToken(token string) *domain.QueueEntry {
	if token == "" {
		return nil
	}
	for _, q := range s.entries {
		if q.Token() == token {
			return q
		}
	}
	return nil
}

func (s *Store) Ack(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.entryByToken(token)
	if q == nil {
		return domain.ErrClaimNotFound
	}
	delete(s.entries, q.EventKey)
	return nil
}

func (s *Store) Release(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.entryByToken(token)
	if q == nil {
		return domain.ErrClaimNotFound
	}
	q.ClaimToken = nil
	q.ClaimExpiresAt = nil
	if e, ok := s.events[q.EventKey]; ok {
		e.ProcessingState = domain.StateQueued
	}
	return nil
}

// Reschedule stores the retry record on the entry and releases the claim.
func (s *Store) Reschedule(_ context.Context, token string, rec domain.RetryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.entryByToken(token)
	if q == nil || q.EventKey != rec.EventKey {
		return domain.ErrClaimNotFound
	}

	kind := rec.LastErrorKind
	q.ClaimToken = nil
	q.ClaimExpiresAt = nil
	q.AttemptCount = rec.AttemptCount
	q.NextEligibleAt = rec.NextEligibleAt
	q.LastErrorKind = &kind

	if e, ok := s.events[q.EventKey]; ok {
		msg := rec.LastError
		e.ProcessingState = domain.StateQueued
		e.AttemptCount = rec.AttemptCount
		e.LastErrorKind = &kind
		e.LastError = &msg
	}
	return nil
}

func (s *Store) RequeueExpiredClaims(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for _, q := range s.entries {
		if q.ClaimToken != nil && q.ClaimExpiresAt != nil && !q.ClaimExpiresAt.After(now) {
			q.ClaimToken = nil
			q.ClaimExpiresAt = nil
			if e, ok := s.events[q.EventKey]; ok {
				e.ProcessingState = domain.StateQueued
			}
			n++
		}
	}
	return n, nil
}

func (s *Store) QueueDepth(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

// Entry returns a copy of the live queue entry for key, if any.
func (s *Store) Entry(key string) (domain.QueueEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.entries[key]
	if !ok {
		return domain.QueueEntry{}, false
	}
	return copyEntry(q), true
}
