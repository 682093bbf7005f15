// Package pairing releases balanced left/right pairs into the bonus ledger.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"binary-referral/internal/domain"
	"binary-referral/internal/idhash"
	"binary-referral/internal/observability"
	"binary-referral/internal/storage"
)

// Status is the outcome of one Release call.
type Status string

// Release outcomes.
const (
	StatusNoOp     Status = "no_op"
	StatusReleased Status = "released"
)

// Result describes one Release call.
type Result struct {
	Status        Status
	ReleasedPairs int64                  // released_pairs after the call
	Counter       *domain.PairingCounter // counter after the call
	Event         *domain.BonusEvent     // nil for no_op
}

// Options configures the engine.
type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Engine releases at most one pair per call.
type Engine struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a pair release engine.
func NewEngine(store storage.Store, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{store: store, logger: logger, now: now}
}

// Release locks userID's counter and, if a balanced pair is available,
// increments released_pairs and appends one RELEASED HIERARCHY event in the
// same transaction. It never releases more than one pair.
func (e *Engine) Release(ctx context.Context, userID int64) (*Result, error) {
	var res *Result
	err := e.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		r, err := e.release(ctx, tx, userID)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordPairRelease(string(res.Status))
	if res.Status == StatusReleased {
		observability.RecordBonusEvent(string(res.Event.BonusType), string(res.Event.Status), res.Event.Amount.InexactFloat64())
		e.logger.Info("pair released",
			slog.Int64("user_id", userID),
			slog.Int64("left_count", res.Counter.LeftCount),
			slog.Int64("right_count", res.Counter.RightCount),
			slog.Int64("released_pairs", res.ReleasedPairs),
			slog.Int64("event_id", res.Event.ID))
	} else {
		e.logger.Debug("no pair available",
			slog.Int64("user_id", userID),
			slog.Int64("left_count", res.Counter.LeftCount),
			slog.Int64("right_count", res.Counter.RightCount),
			slog.Int64("released_pairs", res.ReleasedPairs))
	}
	return res, nil
}

func (e *Engine) release(ctx context.Context, tx storage.Tx, userID int64) (*Result, error) {
	if _, err := tx.Users().GetByID(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("release pairs for %d: %w", userID, domain.ErrUserNotFound)
		}
		return nil, err
	}

	c, err := tx.Counters().GetForUpdate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock counter %d: %w", userID, err)
	}

	if c.Available() <= 0 {
		return &Result{Status: StatusNoOp, ReleasedPairs: c.ReleasedPairs, Counter: c}, nil
	}

	c.ReleasedPairs++
	if err := tx.Counters().Update(ctx, c); err != nil {
		return nil, fmt.Errorf("update counter %d: %w", userID, err)
	}

	depth := 0
	now := e.now()
	ev := &domain.BonusEvent{
		UserID:         userID,
		OrderID:        domain.SystemOrderID,
		BonusType:      domain.BonusTypeHierarchy,
		Amount:         domain.HierarchyBonusAmount,
		Depth:          &depth,
		Status:         domain.BonusStatusReleased,
		IdempotencyKey: idhash.PairReleaseKey(userID, c.ReleasedPairs),
		ReleasedAt:     &now,
	}
	if err := tx.Ledger().Append(ctx, ev); err != nil {
		e.logger.Error("ledger append failed, rolling back pair release",
			slog.Int64("user_id", userID),
			slog.Int64("order_id", domain.SystemOrderID),
			slog.Int64("left_count", c.LeftCount),
			slog.Int64("right_count", c.RightCount),
			slog.Int64("released_pairs", c.ReleasedPairs),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("append pair release for %d: %w", userID, err)
	}

	return &Result{Status: StatusReleased, ReleasedPairs: c.ReleasedPairs, Counter: c, Event: ev}, nil
}

// ReleaseAll calls Release until it reports no_op and returns the number of pairs released.
func (e *Engine) ReleaseAll(ctx context.Context, userID int64) (int, error) {
	released := 0
	for {
		res, err := e.Release(ctx, userID)
		if err != nil {
			return released, err
		}
		if res.Status == StatusNoOp {
			return released, nil
		}
		released++
	}
}
