package postgres

import (
	"context"
	"fmt"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

// UserStore implements storage.UserStore using PostgreSQL.
type UserStore struct {
	q Querier
}

// NewUserStore creates a new UserStore.
func NewUserStore(q Querier) *UserStore {
	return &UserStore{q: q}
}

// Compile-time interface check.
var _ storage.UserStore = (*UserStore)(nil)

// Insert adds a user. Returns ErrDuplicateKey if id exists.
func (s *UserStore) Insert(ctx context.Context, u *domain.User) error {
	if u == nil || (u.ReferredBy != nil && *u.ReferredBy == u.ID) {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO users (id, email, referred_by)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`

	err := s.q.QueryRow(ctx, query, u.ID, u.Email, u.ReferredBy).Scan(&u.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isConstraintError(err) {
			return fmt.Errorf("insert user: %w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user. Returns ErrNotFound if not exists.
func (s *UserStore) GetByID(ctx context.Context, userID int64) (*domain.User, error) {
	query := `
		SELECT id, email, referred_by, created_at
		FROM users
		WHERE id = $1
	`

	var u domain.User
	err := s.q.QueryRow(ctx, query, userID).Scan(&u.ID, &u.Email, &u.ReferredBy, &u.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &u, nil
}

// CountReferrals returns the number of users whose referred_by is userID.
func (s *UserStore) CountReferrals(ctx context.Context, userID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM users WHERE referred_by = $1`

	var n int64
	if err := s.q.QueryRow(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}
	return n, nil
}
