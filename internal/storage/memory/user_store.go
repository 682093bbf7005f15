package memory

import (
	"context"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

// UserStore is an in-memory implementation of storage.UserStore.
type UserStore struct {
	sess *session
}

// Compile-time interface check.
var _ storage.UserStore = (*UserStore)(nil)

// Insert adds a user. Returns ErrDuplicateKey if id exists.
func (s *UserStore) Insert(_ context.Context, u *domain.User) error {
	if u == nil || (u.ReferredBy != nil && *u.ReferredBy == u.ID) {
		return storage.ErrInvalidInput
	}

	db, unlock := s.sess.enter()
	defer unlock()

	if _, exists := db.users[u.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if u.ReferredBy != nil {
		if _, exists := db.users[*u.ReferredBy]; !exists {
			return storage.ErrInvalidInput
		}
	}

	u.CreatedAt = s.sess.now()
	db.users[u.ID] = copyUser(u)
	id := u.ID
	s.sess.journal(func() { delete(db.users, id) })
	return nil
}

// GetByID retrieves a user. Returns ErrNotFound if not exists.
func (s *UserStore) GetByID(_ context.Context, userID int64) (*domain.User, error) {
	db, unlock := s.sess.enter()
	defer unlock()

	u, exists := db.users[userID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	out := copyUser(&u)
	return &out, nil
}

// CountReferrals returns the number of users whose referred_by is userID.
func (s *UserStore) CountReferrals(_ context.Context, userID int64) (int64, error) {
	db, unlock := s.sess.enter()
	defer unlock()

	var n int64
	for _, u := range db.users {
		if u.ReferredBy != nil && *u.ReferredBy == userID {
			n++
		}
	}
	return n, nil
}

func copyUser(u *domain.User) domain.User {
	c := *u
	if u.ReferredBy != nil {
		ref := *u.ReferredBy
		c.ReferredBy = &ref
	}
	return c
}

// OrderStore is an in-memory implementation of storage.OrderStore.
type OrderStore struct {
	sess *session
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

// Insert adds an order. Returns ErrDuplicateKey if id exists.
func (s *OrderStore) Insert(_ context.Context, o *domain.Order) error {
	if o == nil {
		return storage.ErrInvalidInput
	}

	db, unlock := s.sess.enter()
	defer unlock()

	if _, exists := db.orders[o.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := db.users[o.BuyerID]; !exists {
		return storage.ErrInvalidInput
	}

	o.CreatedAt = s.sess.now()
	db.orders[o.ID] = *o
	id := o.ID
	s.sess.journal(func() { delete(db.orders, id) })
	return nil
}

// GetByID retrieves an order. Returns ErrNotFound if not exists.
func (s *OrderStore) GetByID(_ context.Context, orderID int64) (*domain.Order, error) {
	db, unlock := s.sess.enter()
	defer unlock()

	o, exists := db.orders[orderID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return &o, nil
}
