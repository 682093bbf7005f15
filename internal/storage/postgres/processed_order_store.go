package postgres

import (
	"context"
	"fmt"
	"time"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

// ProcessedOrderStore implements storage.ProcessedOrderStore using PostgreSQL.
type ProcessedOrderStore struct {
	q Querier
}

// NewProcessedOrderStore creates a new ProcessedOrderStore.
func NewProcessedOrderStore(q Querier) *ProcessedOrderStore {
	return &ProcessedOrderStore{q: q}
}

// Compile-time interface check.
var _ storage.ProcessedOrderStore = (*ProcessedOrderStore)(nil)

// Insert adds a marker. Returns ErrDuplicateKey if the order already has one.
func (s *ProcessedOrderStore) Insert(ctx context.Context, p *domain.ProcessedOrder) error {
	if p == nil || p.WalkToken == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO processed_orders (order_id, walk_token, state, ancestors, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := s.q.QueryRow(ctx, query, p.OrderID, p.WalkToken, string(p.State), p.Ancestors, p.CompletedAt).Scan(&p.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isConstraintError(err) {
			return fmt.Errorf("insert processed order: %w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("insert processed order: %w", err)
	}
	return nil
}

// GetByOrder retrieves the marker. Returns ErrNotFound if not exists.
func (s *ProcessedOrderStore) GetByOrder(ctx context.Context, orderID int64) (*domain.ProcessedOrder, error) {
	query := `
		SELECT order_id, walk_token, state, ancestors, created_at, completed_at
		FROM processed_orders
		WHERE order_id = $1
	`

	var p domain.ProcessedOrder
	var state string
	err := s.q.QueryRow(ctx, query, orderID).Scan(&p.OrderID, &p.WalkToken, &state, &p.Ancestors, &p.CreatedAt, &p.CompletedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get processed order: %w", err)
	}
	p.State = domain.ProcessingState(state)
	return &p, nil
}

// MarkCompleted moves the marker to COMPLETED. Completing twice is a no-op.
func (s *ProcessedOrderStore) MarkCompleted(ctx context.Context, orderID int64, at time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE processed_orders
		SET state = 'COMPLETED', completed_at = COALESCE(completed_at, $2)
		WHERE order_id = $1
	`, orderID, at)
	if err != nil {
		return fmt.Errorf("mark processed order completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
