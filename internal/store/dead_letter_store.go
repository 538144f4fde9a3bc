package store

import (
	"context"
	"fmt"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/jackc/pgx/v5"
)

func (s *PostgresStore) ListDeadLetters(ctx context.Context, gateway domain.Gateway, limit int) ([]domain.WebhookEvent, error) {
	return s.ListEvents(ctx, domain.EventFilter{
		Gateway: gateway,
		State:   domain.StateDeadLettered,
		Limit:   limit,
	})
}

func (s *PostgresStore) GetDeadLetter(ctx context.Context, key string) (*domain.WebhookEvent, error) {
	e, err := s.GetEvent(ctx, key)
	if err != nil || e == nil {
		return nil, err
	}
	if e.ProcessingState != domain.StateDeadLettered {
		return nil, nil
	}
	return e, nil
}

// RequeueDeadLetter puts a dead-lettered event back on the queue with a fresh
// attempt budget.
func (s *PostgresStore) RequeueDeadLetter(ctx context.Context, key string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		e, err := scanEvent(tx.QueryRow(ctx, `
			UPDATE webhook_events
			SET processing_state = $2, attempt_count = 0, last_error_kind = NULL, last_error = NULL
			WHERE idempotency_key = $1 AND processing_state = $3
			RETURNING `+eventColumns,
			key, domain.StateQueued, domain.StateDeadLettered))
		if err != nil {
			if isNoRows(err) {
				return domain.ErrDeadLetterNotFound
			}
			return fmt.Errorf("resetting dead letter: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO queue_entries (event_key, gateway, priority, enqueued_at, next_eligible_at)
			VALUES ($1, $2, $3, NOW(), NOW())
			ON CONFLICT (event_key) DO NOTHING
		`, e.IdempotencyKey, e.Gateway, domain.PriorityFor(e))
		if err != nil {
			return fmt.Errorf("re-enqueueing dead letter: %w", err)
		}
		return nil
	})
}
