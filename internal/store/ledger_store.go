package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/jackc/pgx/v5"
)

// maxCASAttempts bounds how often ApplyTransition re-reads a payment whose
// status changed underneath it.
const maxCASAttempts = 3

var errConcurrentTransition = errors.New("payment status changed concurrently")

const paymentColumns = `reference, gateway, status, amount, currency, last_event_key,
	created_at, last_transition_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.Reference, &p.Gateway, &p.Status, &p.Amount, &p.Currency,
		&p.LastEventKey, &p.CreatedAt, &p.LastTransitionAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayment registers a payment in the created status. It returns false
// when the reference already exists.
func (s *PostgresStore) CreatePayment(ctx context.Context, p *domain.Payment) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO payments (reference, gateway, status, amount, currency)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reference) DO NOTHING
	`, p.Reference, p.Gateway.Normalize(), domain.PaymentCreated, p.Amount, p.Currency)
	if err != nil {
		return false, fmt.Errorf("inserting payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetPayment(ctx context.Context, reference string) (*domain.Payment, error) {
	p, err := scanPayment(s.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE reference = $1`, reference))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, classify("querying payment", err)
	}
	return p, nil
}

// ApplyTransition moves a payment to status if the state machine allows it.
// The write is a compare-and-set on the status read just before, so two
// workers racing on the same payment cannot both apply.
func (s *PostgresStore) ApplyTransition(ctx context.Context, reference string, to domain.PaymentStatus, sourceKey string) (domain.TransitionResult, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var current domain.PaymentStatus
		err := s.pool.QueryRow(ctx, `SELECT status FROM payments WHERE reference = $1`, reference).Scan(&current)
		if err != nil {
			if isNoRows(err) {
				return domain.TransitionResult{Outcome: domain.TransitionConflict, ToStatus: to}, nil
			}
			return domain.TransitionResult{}, classify("reading payment status", err)
		}

		result := domain.TransitionResult{Outcome: domain.TransitionNoOp, FromStatus: current, ToStatus: to}
		switch domain.DecideTransition(current, to) {
		case domain.DecisionStale:
			return result, nil
		case domain.DecisionDefer:
			return result, domain.ErrTransitionDeferred
		}

		applied := false
		err = s.WithTx(ctx, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				UPDATE payments
				SET status = $3, last_event_key = $4, last_transition_at = NOW()
				WHERE reference = $1 AND status = $2
			`, reference, current, to, sourceKey)
			if err != nil {
				return fmt.Errorf("updating payment: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return nil
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO payment_transitions (reference, from_status, to_status, source_event_key)
				VALUES ($1, $2, $3, $4)
			`, reference, current, to, sourceKey)
			if err != nil {
				return fmt.Errorf("recording transition: %w", err)
			}
			applied = true
			return nil
		})
		if err != nil {
			return domain.TransitionResult{}, classify("applying transition", err)
		}
		if applied {
			result.Outcome = domain.TransitionApplied
			return result, nil
		}
	}

	return domain.TransitionResult{}, domain.Transient("applying transition", errConcurrentTransition)
}

// ListStalePayments returns created or pending payments whose last transition
// is older than olderThan, oldest first.
func (s *PostgresStore) ListStalePayments(ctx context.Context, olderThan time.Time, limit int) ([]domain.Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status IN ('created', 'pending') AND last_transition_at < $1
		ORDER BY last_transition_at
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("querying stale payments: %w", err)
	}
	defer rows.Close()

	payments := []domain.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (s *PostgresStore) ListTransitions(ctx context.Context, reference string) ([]domain.PaymentTransition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT reference, from_status, to_status, source_event_key, created_at
		FROM payment_transitions
		WHERE reference = $1
		ORDER BY created_at, id
	`, reference)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	transitions := []domain.PaymentTransition{}
	for rows.Next() {
		var t domain.PaymentTransition
		if err := rows.Scan(&t.Reference, &t.FromStatus, &t.ToStatus, &t.SourceEventKey, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}
