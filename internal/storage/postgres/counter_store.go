package postgres

import (
	"context"
	"fmt"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

// CounterStore implements storage.CounterStore using PostgreSQL.
// GetForUpdate only holds its row lock when q is a transaction.
type CounterStore struct {
	q Querier
}

// NewCounterStore creates a new CounterStore.
func NewCounterStore(q Querier) *CounterStore {
	return &CounterStore{q: q}
}

// Compile-time interface check.
var _ storage.CounterStore = (*CounterStore)(nil)

// GetForUpdate returns the user's counter, creating a zero row if absent, and
// locks it FOR UPDATE.
func (s *CounterStore) GetForUpdate(ctx context.Context, userID int64) (*domain.PairingCounter, error) {
	_, err := s.q.Exec(ctx, `
		INSERT INTO pairing_counters (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		if isConstraintError(err) {
			return nil, fmt.Errorf("create pairing counter: %w: %v", storage.ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("create pairing counter: %w", err)
	}

	query := `
		SELECT user_id, left_count, right_count, released_pairs, updated_at
		FROM pairing_counters
		WHERE user_id = $1
		FOR UPDATE
	`

	var c domain.PairingCounter
	err = s.q.QueryRow(ctx, query, userID).Scan(&c.UserID, &c.LeftCount, &c.RightCount, &c.ReleasedPairs, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("lock pairing counter: %w", err)
	}
	return &c, nil
}

// Get returns the user's counter without locking. Absent rows read as zero.
func (s *CounterStore) Get(ctx context.Context, userID int64) (*domain.PairingCounter, error) {
	query := `
		SELECT user_id, left_count, right_count, released_pairs, updated_at
		FROM pairing_counters
		WHERE user_id = $1
	`

	var c domain.PairingCounter
	err := s.q.QueryRow(ctx, query, userID).Scan(&c.UserID, &c.LeftCount, &c.RightCount, &c.ReleasedPairs, &c.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return &domain.PairingCounter{UserID: userID}, nil
		}
		return nil, fmt.Errorf("get pairing counter: %w", err)
	}
	return &c, nil
}

// Update writes counter values. The WHERE clause refuses any decrease.
func (s *CounterStore) Update(ctx context.Context, c *domain.PairingCounter) error {
	if c == nil || !c.Valid() {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE pairing_counters
		SET left_count = $2,
		    right_count = $3,
		    released_pairs = $4,
		    updated_at = NOW()
		WHERE user_id = $1
		  AND left_count <= $2
		  AND right_count <= $3
		  AND released_pairs <= $4
		RETURNING updated_at
	`

	err := s.q.QueryRow(ctx, query, c.UserID, c.LeftCount, c.RightCount, c.ReleasedPairs).Scan(&c.UpdatedAt)
	if err == nil {
		return nil
	}
	if isConstraintError(err) {
		return fmt.Errorf("update pairing counter: %w: %v", storage.ErrInvalidInput, err)
	}
	if !isNotFoundError(err) {
		return fmt.Errorf("update pairing counter: %w", err)
	}

	// No row matched: either missing or the update would decrease a value.
	var exists bool
	if err := s.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pairing_counters WHERE user_id = $1)`, c.UserID).Scan(&exists); err != nil {
		return fmt.Errorf("check pairing counter: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return fmt.Errorf("update pairing counter for user %d: %w: counters never decrease", c.UserID, storage.ErrInvalidInput)
}
