package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

// OrderStore implements storage.OrderStore using PostgreSQL.
type OrderStore struct {
	q Querier
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(q Querier) *OrderStore {
	return &OrderStore{q: q}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

// Insert adds an order. Returns ErrDuplicateKey if id exists.
func (s *OrderStore) Insert(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO orders (id, buyer_id, total, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err := s.q.QueryRow(ctx, query, o.ID, o.BuyerID, o.Total.StringFixed(2), string(o.Status)).Scan(&o.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isConstraintError(err) {
			return fmt.Errorf("insert order: %w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetByID retrieves an order. Returns ErrNotFound if not exists.
func (s *OrderStore) GetByID(ctx context.Context, orderID int64) (*domain.Order, error) {
	query := `
		SELECT id, buyer_id, total::text, status, created_at
		FROM orders
		WHERE id = $1
	`

	var o domain.Order
	var total, status string
	err := s.q.QueryRow(ctx, query, orderID).Scan(&o.ID, &o.BuyerID, &total, &status, &o.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}

	o.Total, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse order total %q: %w", total, err)
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}
