package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"

	"binary-referral/internal/observability"
	"binary-referral/internal/storage"
)

// Store implements storage.Store on PostgreSQL.
// InTx runs at SERIALIZABLE isolation and retries serialization failures.
type Store struct {
	stores
	pool        *Pool
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// StoreOptions configures transaction retry behaviour.
type StoreOptions struct {
	MaxAttempts int           // Default: 5
	BaseDelay   time.Duration // Default: 10ms, first retry delay
	Logger      *slog.Logger
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// NewStore creates a Store on top of pool.
func NewStore(pool *Pool, opts StoreOptions) *Store {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 10 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		stores:      stores{q: pool},
		pool:        pool,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger,
	}
}

// InTx runs fn inside one serializable transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.baseDelay
	bo.MaxInterval = 50 * s.baseDelay
	bo.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if isSerializationError(err) {
			observability.RecordTxRetry()
			s.logger.Debug("serialization conflict, retrying transaction",
				slog.Int("attempt", attempt), slog.String("error", err.Error()))
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.maxAttempts-1)), ctx)
	err := backoff.Retry(op, policy)
	if err != nil && isSerializationError(err) {
		observability.RecordTxConflict()
		return fmt.Errorf("%w after %d attempts: %v", storage.ErrConflict, attempt, err)
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", slog.String("error", rbErr.Error()))
		}
	}()

	if err := fn(ctx, stores{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// stores binds every store to one Querier (the pool or an open transaction).
type stores struct {
	q Querier
}

func (s stores) Users() storage.UserStore                     { return NewUserStore(s.q) }
func (s stores) Orders() storage.OrderStore                   { return NewOrderStore(s.q) }
func (s stores) Tree() storage.TreeStore                      { return NewTreeStore(s.q) }
func (s stores) Counters() storage.CounterStore               { return NewCounterStore(s.q) }
func (s stores) Ledger() storage.LedgerStore                  { return NewLedgerStore(s.q) }
func (s stores) ProcessedOrders() storage.ProcessedOrderStore { return NewProcessedOrderStore(s.q) }
