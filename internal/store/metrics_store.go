package store

import (
	"context"
	"fmt"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
)

// Metrics returns queue, event and ledger counts for the operator dashboard.
func (s *PostgresStore) Metrics(ctx context.Context) (*domain.PipelineMetrics, error) {
	m := domain.PipelineMetrics{
		EventsByState:    map[domain.ProcessingState]int64{},
		PaymentsByStatus: map[domain.PaymentStatus]int64{},
	}

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE claim_token IS NOT NULL AND claim_expires_at > NOW()),
			COUNT(*) FILTER (WHERE next_eligible_at > NOW())
		FROM queue_entries
	`).Scan(&m.QueueDepth, &m.ClaimedEntries, &m.DeferredEntries)
	if err != nil {
		return nil, fmt.Errorf("querying queue metrics: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT processing_state, COUNT(*) FROM webhook_events GROUP BY processing_state`)
	if err != nil {
		return nil, fmt.Errorf("querying event metrics: %w", err)
	}
	for rows.Next() {
		var state domain.ProcessingState
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning event metrics: %w", err)
		}
		m.EventsByState[state] = n
		m.TotalEvents += n
	}
	rows.Close()
	m.DeadLetterCount = m.EventsByState[domain.StateDeadLettered]

	rows, err = s.pool.Query(ctx, `SELECT status, COUNT(*) FROM payments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("querying payment metrics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status domain.PaymentStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning payment metrics: %w", err)
		}
		m.PaymentsByStatus[status] = n
	}

	return &m, rows.Err()
}
