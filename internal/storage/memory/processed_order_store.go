package memory

import (
	"context"
	"time"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

// ProcessedOrderStore is an in-memory implementation of storage.ProcessedOrderStore.
type ProcessedOrderStore struct {
	sess *session
}

// Compile-time interface check.
var _ storage.ProcessedOrderStore = (*ProcessedOrderStore)(nil)

// Insert adds a marker. Returns ErrDuplicateKey if the order already has one.
func (s *ProcessedOrderStore) Insert(_ context.Context, p *domain.ProcessedOrder) error {
	if p == nil || p.WalkToken == "" {
		return storage.ErrInvalidInput
	}
	if p.State != domain.ProcessingAccrued && p.State != domain.ProcessingCompleted {
		return storage.ErrInvalidInput
	}

	db, unlock := s.sess.enter()
	defer unlock()

	if _, exists := db.orders[p.OrderID]; !exists {
		return storage.ErrInvalidInput
	}
	if _, exists := db.processed[p.OrderID]; exists {
		return storage.ErrDuplicateKey
	}

	p.CreatedAt = s.sess.now()
	db.processed[p.OrderID] = copyProcessed(p)
	orderID := p.OrderID
	s.sess.journal(func() { delete(db.processed, orderID) })
	return nil
}

// GetByOrder retrieves the marker. Returns ErrNotFound if not exists.
func (s *ProcessedOrderStore) GetByOrder(_ context.Context, orderID int64) (*domain.ProcessedOrder, error) {
	db, unlock := s.sess.enter()
	defer unlock()

	p, exists := db.processed[orderID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	out := copyProcessed(&p)
	return &out, nil
}

// MarkCompleted moves the marker to COMPLETED. Completing twice is a no-op.
func (s *ProcessedOrderStore) MarkCompleted(_ context.Context, orderID int64, at time.Time) error {
	db, unlock := s.sess.enter()
	defer unlock()

	p, exists := db.processed[orderID]
	if !exists {
		return storage.ErrNotFound
	}

	prev := p
	p.State = domain.ProcessingCompleted
	if p.CompletedAt == nil {
		completedAt := at
		p.CompletedAt = &completedAt
	}
	db.processed[orderID] = p
	s.sess.journal(func() { db.processed[orderID] = prev })
	return nil
}

func copyProcessed(p *domain.ProcessedOrder) domain.ProcessedOrder {
	c := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
