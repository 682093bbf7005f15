// Package maturation releases PENDING bonus events once their hold period ends.
package maturation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"binary-referral/internal/observability"
	"binary-referral/internal/storage"
)

// Options configures the sweeper.
type Options struct {
	HoldPeriod time.Duration // Default: 0, events mature as soon as they exist
	BatchSize  int           // Default: 100
	Interval   time.Duration // Default: 1m, between sweeps in Run
	Logger     *slog.Logger
	Now        func() time.Time
}

// Sweeper moves matured PENDING events to RELEASED.
type Sweeper struct {
	store storage.Store
	opts  Options
}

// NewSweeper creates a sweeper.
func NewSweeper(store storage.Store, opts Options) *Sweeper {
	if opts.HoldPeriod < 0 {
		opts.HoldPeriod = 0
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Sweeper{store: store, opts: opts}
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.opts.Logger.Error("maturation sweep failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep releases every event created more than HoldPeriod ago, one batch per
// transaction, and returns how many it released.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := s.sweepBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.opts.BatchSize {
			break
		}
	}

	if total > 0 {
		observability.RecordMatured(total)
		s.opts.Logger.Info("bonus events matured", slog.Int("released", total))
	}
	return total, nil
}

func (s *Sweeper) sweepBatch(ctx context.Context) (int, error) {
	var released int
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		released = 0
		now := s.opts.Now()

		events, err := tx.Ledger().GetPendingBefore(ctx, now.Add(-s.opts.HoldPeriod), s.opts.BatchSize)
		if err != nil {
			return fmt.Errorf("list pending events: %w", err)
		}

		for _, e := range events {
			err := tx.Ledger().MarkReleased(ctx, e.ID, now)
			if errors.Is(err, storage.ErrInvalidTransition) {
				// Released by a concurrent sweep.
				continue
			}
			if err != nil {
				return fmt.Errorf("release event %d: %w", e.ID, err)
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}
