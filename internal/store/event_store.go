package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/jackc/pgx/v5"
)

const eventColumns = `idempotency_key, gateway, gateway_event_id, payment_reference,
	reported_status, informational, source, raw_payload, processing_state,
	attempt_count, last_error_kind, last_error, received_at, processed_at`

func scanEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	var payload []byte
	err := row.Scan(
		&e.IdempotencyKey, &e.Gateway, &e.GatewayEventID, &e.PaymentReference,
		&e.ReportedStatus, &e.Informational, &e.Source, &payload, &e.ProcessingState,
		&e.AttemptCount, &e.LastErrorKind, &e.LastError, &e.ReceivedAt, &e.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	e.RawPayload = payload
	return &e, nil
}

func collectEvents(rows pgx.Rows) ([]domain.WebhookEvent, error) {
	defer rows.Close()

	events := []domain.WebhookEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// InsertEventAndEnqueue stores the event and its queue entry in one
// transaction. A key that already exists leaves both tables untouched and
// reports inserted=false.
func (s *PostgresStore) InsertEventAndEnqueue(ctx context.Context, e *domain.WebhookEvent, q domain.QueueEntry) (bool, error) {
	inserted := false

	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO webhook_events (
				idempotency_key, gateway, gateway_event_id, payment_reference,
				reported_status, informational, source, raw_payload,
				processing_state, attempt_count, received_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)
			ON CONFLICT (idempotency_key) DO NOTHING
		`, e.IdempotencyKey, e.Gateway, e.GatewayEventID, e.PaymentReference,
			e.ReportedStatus, e.Informational, e.Source, []byte(e.RawPayload),
			domain.StateQueued, e.ReceivedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO queue_entries (event_key, gateway, priority, enqueued_at, next_eligible_at)
			VALUES ($1, $2, $3, $4, $5)
		`, q.EventKey, q.Gateway, q.Priority, q.EnqueuedAt, q.NextEligibleAt)
		if err != nil {
			return fmt.Errorf("enqueuing event: %w", err)
		}

		inserted = true
		return nil
	})
	if err != nil {
		return false, classify("insert event", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, key string) (*domain.WebhookEvent, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE idempotency_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("querying event", err)
	}
	return e, nil
}

// GetEventsByKeys loads a batch of events in one query. Missing keys are
// absent from the result.
func (s *PostgresStore) GetEventsByKeys(ctx context.Context, keys []string) (map[string]*domain.WebhookEvent, error) {
	out := make(map[string]*domain.WebhookEvent, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE idempotency_key = ANY($1)`, keys)
	if err != nil {
		return nil, classify("querying events", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, classify("querying events", err)
	}

	for i := range events {
		out[events[i].IdempotencyKey] = &events[i]
	}
	return out, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.WebhookEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events WHERE TRUE`
	args := []interface{}{}
	argIdx := 1

	if f.Gateway != "" {
		query += fmt.Sprintf(" AND gateway = $%d", argIdx)
		args = append(args, f.Gateway.Normalize())
		argIdx++
	}
	if f.Reference != "" {
		query += fmt.Sprintf(" AND payment_reference = $%d", argIdx)
		args = append(args, f.Reference)
		argIdx++
	}
	if f.State != "" {
		query += fmt.Sprintf(" AND processing_state = $%d", argIdx)
		args = append(args, f.State)
		argIdx++
	}

	query += " ORDER BY received_at DESC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	return collectEvents(rows)
}

// Complete marks the event processed and removes its queue entry, provided
// the caller still holds the claim.
func (s *PostgresStore) Complete(ctx context.Context, token, key string) error {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM queue_entries WHERE claim_token = $1::uuid AND event_key = $2`, token, key)
		if err != nil {
			return fmt.Errorf("acking entry: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrClaimNotFound
		}

		_, err = tx.Exec(ctx, `
			UPDATE webhook_events
			SET processing_state = $2, processed_at = NOW(), last_error_kind = NULL, last_error = NULL
			WHERE idempotency_key = $1
		`, key, domain.StateProcessed)
		if err != nil {
			return fmt.Errorf("marking event processed: %w", err)
		}
		return nil
	})
	return classify("complete event", err)
}

// DeadLetter marks the event dead-lettered with its last error and removes
// its queue entry, provided the caller still holds the claim.
func (s *PostgresStore) DeadLetter(ctx context.Context, token, key string, kind domain.ErrorKind, reason string) error {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var attempts int
		err := tx.QueryRow(ctx, `
			DELETE FROM queue_entries WHERE claim_token = $1::uuid AND event_key = $2
			RETURNING attempt_count
		`, token, key).Scan(&attempts)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrClaimNotFound
			}
			return fmt.Errorf("removing entry: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE webhook_events
			SET processing_state = $2, attempt_count = $3, last_error_kind = $4, last_error = $5
			WHERE idempotency_key = $1
		`, key, domain.StateDeadLettered, attempts, kind, reason)
		if err != nil {
			return fmt.Errorf("marking event dead-lettered: %w", err)
		}
		return nil
	})
	return classify("dead-letter event", err)
}
