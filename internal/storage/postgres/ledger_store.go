package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

// LedgerStore implements storage.LedgerStore using PostgreSQL.
// No method updates amount; the bonus_events_guard trigger enforces the same.
type LedgerStore struct {
	q Querier
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(q Querier) *LedgerStore {
	return &LedgerStore{q: q}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

const bonusColumns = `id, user_id, order_id, bonus_type, amount::text, lane, depth, status, idempotency_key, created_at, released_at`

// Append adds a new event. Returns ErrDuplicateKey if the idempotency key
// (or the DIRECT row for the order) exists.
func (s *LedgerStore) Append(ctx context.Context, e *domain.BonusEvent) error {
	if e == nil || e.IdempotencyKey == "" || !e.Status.Valid() || e.Amount.IsNegative() {
		return storage.ErrInvalidInput
	}

	var lane *string
	if e.Lane != nil {
		lane = laneParam(*e.Lane)
	}

	query := `
		INSERT INTO bonus_events (
			user_id, order_id, bonus_type, amount, lane, depth, status, idempotency_key, released_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err := s.q.QueryRow(ctx, query,
		e.UserID,
		e.OrderID,
		string(e.BonusType),
		e.Amount.StringFixed(2),
		lane,
		e.Depth,
		string(e.Status),
		e.IdempotencyKey,
		e.ReleasedAt,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isConstraintError(err) {
			return fmt.Errorf("append bonus event: %w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("append bonus event: %w", err)
	}
	e.Amount = e.Amount.Round(2)
	return nil
}

// MarkReleased moves a PENDING event to RELEASED. The status check and the
// update are one statement, so a concurrent release cannot slip in between.
func (s *LedgerStore) MarkReleased(ctx context.Context, eventID int64, at time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE bonus_events
		SET status = 'RELEASED', released_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`, eventID, at)
	if err != nil {
		return fmt.Errorf("mark bonus event released: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := s.GetByID(ctx, eventID); err != nil {
		return err
	}
	return storage.ErrInvalidTransition
}

// GetByID retrieves an event. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetByID(ctx context.Context, eventID int64) (*domain.BonusEvent, error) {
	query := `SELECT ` + bonusColumns + ` FROM bonus_events WHERE id = $1`

	e, err := scanBonusEvent(s.q.QueryRow(ctx, query, eventID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get bonus event by id: %w", err)
	}
	return e, nil
}

// GetByKey retrieves an event by idempotency key. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetByKey(ctx context.Context, key string) (*domain.BonusEvent, error) {
	query := `SELECT ` + bonusColumns + ` FROM bonus_events WHERE idempotency_key = $1`

	e, err := scanBonusEvent(s.q.QueryRow(ctx, query, key))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get bonus event by key: %w", err)
	}
	return e, nil
}

// GetRecent retrieves the newest limit events for a user, newest first.
func (s *LedgerStore) GetRecent(ctx context.Context, userID int64, limit int) ([]*domain.BonusEvent, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT ` + bonusColumns + `
		FROM bonus_events
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := s.q.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent bonus events: %w", err)
	}
	defer rows.Close()

	return scanBonusEvents(rows)
}

// GetByOrder retrieves all events sourced from an order, ordered by id.
func (s *LedgerStore) GetByOrder(ctx context.Context, orderID int64) ([]*domain.BonusEvent, error) {
	query := `
		SELECT ` + bonusColumns + `
		FROM bonus_events
		WHERE order_id = $1
		ORDER BY id ASC
	`

	rows, err := s.q.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("get bonus events by order: %w", err)
	}
	defer rows.Close()

	return scanBonusEvents(rows)
}

// GetPendingBefore retrieves up to limit PENDING events created before cutoff, oldest first.
func (s *LedgerStore) GetPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.BonusEvent, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT ` + bonusColumns + `
		FROM bonus_events
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`

	rows, err := s.q.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending bonus events: %w", err)
	}
	defer rows.Close()

	return scanBonusEvents(rows)
}

// Totals aggregates a user's events by type and status.
func (s *LedgerStore) Totals(ctx context.Context, userID int64) (*domain.BonusTotals, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE bonus_type = 'DIRECT'), 0)::text,
			COALESCE(SUM(amount) FILTER (WHERE bonus_type = 'HIERARCHY'), 0)::text,
			COALESCE(SUM(amount) FILTER (WHERE status = 'RELEASED'), 0)::text,
			COALESCE(SUM(amount) FILTER (WHERE status = 'PENDING'), 0)::text,
			COUNT(*)
		FROM bonus_events
		WHERE user_id = $1
	`

	var direct, hierarchy, released, pending string
	var t domain.BonusTotals
	err := s.q.QueryRow(ctx, query, userID).Scan(&direct, &hierarchy, &released, &pending, &t.Events)
	if err != nil {
		return nil, fmt.Errorf("get bonus totals: %w", err)
	}

	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{direct, &t.Direct},
		{hierarchy, &t.Hierarchy},
		{released, &t.Released},
		{pending, &t.Pending},
	} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("parse bonus total %q: %w", f.raw, err)
		}
		*f.dst = v
	}
	return &t, nil
}

// scanBonusEvent scans a single row into a BonusEvent.
func scanBonusEvent(row pgx.Row) (*domain.BonusEvent, error) {
	var e domain.BonusEvent
	var bonusType, amount, status string
	var lane *string

	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.OrderID,
		&bonusType,
		&amount,
		&lane,
		&e.Depth,
		&status,
		&e.IdempotencyKey,
		&e.CreatedAt,
		&e.ReleasedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse bonus amount %q: %w", amount, err)
	}
	e.BonusType = domain.BonusType(bonusType)
	e.Status = domain.BonusStatus(status)
	if lane != nil {
		l := domain.Lane(*lane)
		e.Lane = &l
	}
	return &e, nil
}

// scanBonusEvents scans multiple rows into a slice of BonusEvent.
func scanBonusEvents(rows pgx.Rows) ([]*domain.BonusEvent, error) {
	var events []*domain.BonusEvent

	for rows.Next() {
		e, err := scanBonusEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bonus event row: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bonus event rows: %w", err)
	}

	return events, nil
}
