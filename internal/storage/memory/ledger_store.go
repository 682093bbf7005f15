package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

// LedgerStore is an in-memory implementation of storage.LedgerStore.
type LedgerStore struct {
	sess *session
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// Append adds a new event and assigns ID and CreatedAt.
func (s *LedgerStore) Append(_ context.Context, e *domain.BonusEvent) error {
	if e == nil || e.IdempotencyKey == "" || !e.Status.Valid() || e.Amount.IsNegative() {
		return storage.ErrInvalidInput
	}
	if e.BonusType != domain.BonusTypeDirect && e.BonusType != domain.BonusTypeHierarchy {
		return storage.ErrInvalidInput
	}

	db, unlock := s.sess.enter()
	defer unlock()

	if _, exists := db.users[e.UserID]; !exists {
		return storage.ErrInvalidInput
	}
	if _, exists := db.orders[e.OrderID]; !exists {
		return storage.ErrInvalidInput
	}
	if _, exists := db.eventKeys[e.IdempotencyKey]; exists {
		return storage.ErrDuplicateKey
	}
	if e.BonusType == domain.BonusTypeDirect {
		if _, exists := db.directs[e.OrderID]; exists {
			return storage.ErrDuplicateKey
		}
	}

	db.nextEvent++
	e.ID = db.nextEvent
	e.CreatedAt = s.sess.now()
	e.Amount = e.Amount.Round(2)

	db.events[e.ID] = copyEvent(e)
	db.eventKeys[e.IdempotencyKey] = e.ID
	if e.BonusType == domain.BonusTypeDirect {
		db.directs[e.OrderID] = e.ID
	}

	id, key, order, direct := e.ID, e.IdempotencyKey, e.OrderID, e.BonusType == domain.BonusTypeDirect
	s.sess.journal(func() {
		delete(db.events, id)
		delete(db.eventKeys, key)
		if direct {
			delete(db.directs, order)
		}
		db.nextEvent--
	})
	return nil
}

// MarkReleased moves a PENDING event to RELEASED.
func (s *LedgerStore) MarkReleased(_ context.Context, eventID int64, at time.Time) error {
	db, unlock := s.sess.enter()
	defer unlock()

	e, exists := db.events[eventID]
	if !exists {
		return storage.ErrNotFound
	}
	if !e.Status.CanTransitionTo(domain.BonusStatusReleased) {
		return storage.ErrInvalidTransition
	}

	prev := e
	releasedAt := at
	e.Status = domain.BonusStatusReleased
	e.ReleasedAt = &releasedAt
	db.events[eventID] = e
	s.sess.journal(func() { db.events[eventID] = prev })
	return nil
}

// GetByID retrieves an event. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetByID(_ context.Context, eventID int64) (*domain.BonusEvent, error) {
	db, unlock := s.sess.enter()
	defer unlock()

	e, exists := db.events[eventID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	out := copyEvent(&e)
	return &out, nil
}

// GetByKey retrieves an event by idempotency key. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetByKey(_ context.Context, key string) (*domain.BonusEvent, error) {
	db, unlock := s.sess.enter()
	defer unlock()

	id, exists := db.eventKeys[key]
	if !exists {
		return nil, storage.ErrNotFound
	}
	e := db.events[id]
	out := copyEvent(&e)
	return &out, nil
}

// GetRecent retrieves the newest limit events for a user, newest first.
func (s *LedgerStore) GetRecent(_ context.Context, userID int64, limit int) ([]*domain.BonusEvent, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	events := s.filter(func(e *domain.BonusEvent) bool { return e.UserID == userID })

	// Sort by created_at DESC, id DESC
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.After(events[j].CreatedAt)
		}
		return events[i].ID > events[j].ID
	})

	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// GetByOrder retrieves all events sourced from an order, ordered by id.
func (s *LedgerStore) GetByOrder(_ context.Context, orderID int64) ([]*domain.BonusEvent, error) {
	events := s.filter(func(e *domain.BonusEvent) bool { return e.OrderID == orderID })
	sortByID(events)
	return events, nil
}

// GetPendingBefore retrieves up to limit PENDING events created before cutoff, oldest first.
func (s *LedgerStore) GetPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]*domain.BonusEvent, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	events := s.filter(func(e *domain.BonusEvent) bool {
		return e.Status == domain.BonusStatusPending && e.CreatedAt.Before(cutoff)
	})
	sortByID(events)

	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Totals aggregates a user's events by type and status.
func (s *LedgerStore) Totals(_ context.Context, userID int64) (*domain.BonusTotals, error) {
	events := s.filter(func(e *domain.BonusEvent) bool { return e.UserID == userID })

	t := &domain.BonusTotals{
		Direct:    decimal.Zero,
		Hierarchy: decimal.Zero,
		Released:  decimal.Zero,
		Pending:   decimal.Zero,
	}
	for _, e := range events {
		switch e.BonusType {
		case domain.BonusTypeDirect:
			t.Direct = t.Direct.Add(e.Amount)
		case domain.BonusTypeHierarchy:
			t.Hierarchy = t.Hierarchy.Add(e.Amount)
		}
		switch e.Status {
		case domain.BonusStatusReleased:
			t.Released = t.Released.Add(e.Amount)
		case domain.BonusStatusPending:
			t.Pending = t.Pending.Add(e.Amount)
		}
		t.Events++
	}
	return t, nil
}

// filter returns copies of the events matching keep.
func (s *LedgerStore) filter(keep func(e *domain.BonusEvent) bool) []*domain.BonusEvent {
	db, unlock := s.sess.enter()
	defer unlock()

	var result []*domain.BonusEvent
	for _, e := range db.events {
		e := e
		if keep(&e) {
			c := copyEvent(&e)
			result = append(result, &c)
		}
	}
	return result
}

func sortByID(events []*domain.BonusEvent) {
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
}

func copyEvent(e *domain.BonusEvent) domain.BonusEvent {
	c := *e
	if e.Lane != nil {
		l := *e.Lane
		c.Lane = &l
	}
	if e.Depth != nil {
		d := *e.Depth
		c.Depth = &d
	}
	if e.ReleasedAt != nil {
		r := *e.ReleasedAt
		c.ReleasedAt = &r
	}
	return c
}
