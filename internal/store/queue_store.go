package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
)

// ClaimBatch atomically claims up to max visible entries, stamping each with
// a fresh token and a claim expiry of now+visibility. Visible means unclaimed
// (or claim expired) and past next_eligible_at. Concurrent callers never get
// the same entry: SKIP LOCKED hands each row to at most one claimer.
func (s *PostgresStore) ClaimBatch(ctx context.Context, max int, visibility time.Duration) ([]domain.QueueEntry, error) {
	if max <= 0 {
		return []domain.QueueEntry{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		WITH picked AS (
			SELECT event_key
			FROM queue_entries
			WHERE (claim_token IS NULL OR claim_expires_at <= NOW())
			  AND next_eligible_at <= NOW()
			ORDER BY priority, enqueued_at, event_key
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		), claimed AS (
			UPDATE queue_entries q
			SET claim_token = gen_random_uuid(),
			    claim_expires_at = NOW() + $2::bigint * INTERVAL '1 millisecond',
			    attempt_count = q.attempt_count + 1
			FROM picked
			WHERE q.event_key = picked.event_key
			RETURNING q.event_key, q.gateway, q.priority, q.enqueued_at, q.claim_token,
			          q.claim_expires_at, q.attempt_count, q.next_eligible_at, q.last_error_kind
		), marked AS (
			UPDATE webhook_events e
			SET processing_state = 'claimed', attempt_count = claimed.attempt_count
			FROM claimed
			WHERE e.idempotency_key = claimed.event_key
		)
		SELECT event_key, gateway, priority, enqueued_at, claim_token::text,
		       claim_expires_at, attempt_count, next_eligible_at, last_error_kind
		FROM claimed
	`, max, visibility.Milliseconds())
	if err != nil {
		return nil, classify("claiming batch", err)
	}
	defer rows.Close()

	entries := []domain.QueueEntry{}
	for rows.Next() {
		var q domain.QueueEntry
		err := rows.Scan(&q.EventKey, &q.Gateway, &q.Priority, &q.EnqueuedAt, &q.ClaimToken,
			&q.ClaimExpiresAt, &q.AttemptCount, &q.NextEligibleAt, &q.LastErrorKind)
		if err != nil {
			return nil, fmt.Errorf("scanning queue entry: %w", err)
		}
		entries = append(entries, q)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("claiming batch", err)
	}

	// RETURNING order is unspecified.
	sortEntries(entries)
	return entries, nil
}

func sortEntries(entries []domain.QueueEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.EventKey < b.EventKey
	})
}

// Ack removes a claimed entry.
func (s *PostgresStore) Ack(ctx context.Context, token string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM queue_entries WHERE claim_token = $1::uuid`, token)
	if err != nil {
		return classify("acking entry", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrClaimNotFound
	}
	return nil
}

// Release drops a claim without touching backoff state, making the entry
// immediately claimable again.
func (s *PostgresStore) Release(ctx context.Context, token string) error {
	var key string
	err := s.pool.QueryRow(ctx, `
		WITH released AS (
			UPDATE queue_entries
			SET claim_token = NULL, claim_expires_at = NULL
			WHERE claim_token = $1::uuid
			RETURNING event_key
		), marked AS (
			UPDATE webhook_events e
			SET processing_state = 'queued'
			FROM released
			WHERE e.idempotency_key = released.event_key
		)
		SELECT event_key FROM released
	`, token).Scan(&key)
	if err != nil {
		if isNoRows(err) {
			return domain.ErrClaimNotFound
		}
		return classify("releasing entry", err)
	}
	return nil
}

// Reschedule writes the retry record and releases the claim in one
// statement, so attempt_count and next_eligible_at are never out of step.
func (s *PostgresStore) Reschedule(ctx context.Context, token string, rec domain.RetryRecord) error {
	var key string
	err := s.pool.QueryRow(ctx, `
		WITH rescheduled AS (
			UPDATE queue_entries
			SET claim_token = NULL, claim_expires_at = NULL,
			    attempt_count = $3, next_eligible_at = $4, last_error_kind = $5
			WHERE claim_token = $1::uuid AND event_key = $2
			RETURNING event_key
		), marked AS (
			UPDATE webhook_events e
			SET processing_state = 'queued', attempt_count = $3,
			    last_error_kind = $5, last_error = $6
			FROM rescheduled
			WHERE e.idempotency_key = rescheduled.event_key
		)
		SELECT event_key FROM rescheduled
	`, token, rec.EventKey, rec.AttemptCount, rec.NextEligibleAt, rec.LastErrorKind, rec.LastError).Scan(&key)
	if err != nil {
		if isNoRows(err) {
			return domain.ErrClaimNotFound
		}
		return classify("rescheduling entry", err)
	}
	return nil
}

// RequeueExpiredClaims clears claims whose visibility timeout has passed and
// returns how many entries it made visible again.
func (s *PostgresStore) RequeueExpiredClaims(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		WITH expired AS (
			UPDATE queue_entries
			SET claim_token = NULL, claim_expires_at = NULL
			WHERE claim_token IS NOT NULL AND claim_expires_at <= NOW()
			RETURNING event_key
		), marked AS (
			UPDATE webhook_events e
			SET processing_state = 'queued'
			FROM expired
			WHERE e.idempotency_key = expired.event_key
		)
		SELECT COUNT(*) FROM expired
	`).Scan(&n)
	if err != nil {
		return 0, classify("requeueing expired claims", err)
	}
	return n, nil
}

func (s *PostgresStore) QueueDepth(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting queue entries: %w", err)
	}
	return n, nil
}
