package memory

import (
	"context"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

// CounterStore is an in-memory implementation of storage.CounterStore.
// The global transaction lock stands in for row locks.
type CounterStore struct {
	sess *session
}

// Compile-time interface check.
var _ storage.CounterStore = (*CounterStore)(nil)

// GetForUpdate returns the user's counter, creating a zero row if absent.
func (s *CounterStore) GetForUpdate(_ context.Context, userID int64) (*domain.PairingCounter, error) {
	db, unlock := s.sess.enter()
	defer unlock()

	if _, exists := db.users[userID]; !exists {
		return nil, storage.ErrInvalidInput
	}

	c, exists := db.counters[userID]
	if !exists {
		c = domain.PairingCounter{UserID: userID, UpdatedAt: s.sess.now()}
		db.counters[userID] = c
		s.sess.journal(func() { delete(db.counters, userID) })
	}
	return &c, nil
}

// Get returns the user's counter. Absent rows read as zero.
func (s *CounterStore) Get(_ context.Context, userID int64) (*domain.PairingCounter, error) {
	db, unlock := s.sess.enter()
	defer unlock()

	c, exists := db.counters[userID]
	if !exists {
		return &domain.PairingCounter{UserID: userID}, nil
	}
	return &c, nil
}

// Update writes counter values. Returns ErrInvalidInput on any decrease.
func (s *CounterStore) Update(_ context.Context, c *domain.PairingCounter) error {
	if c == nil || !c.Valid() {
		return storage.ErrInvalidInput
	}

	db, unlock := s.sess.enter()
	defer unlock()

	prev, exists := db.counters[c.UserID]
	if !exists {
		return storage.ErrNotFound
	}
	if !c.Covers(&prev) {
		return storage.ErrInvalidInput
	}

	c.UpdatedAt = s.sess.now()
	db.counters[c.UserID] = *c
	s.sess.journal(func() { db.counters[prev.UserID] = prev })
	return nil
}
