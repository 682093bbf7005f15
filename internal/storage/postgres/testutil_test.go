package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage/migrations"
)

// setupTestDB creates a PostgreSQL container for testing and applies migrations.
// Returns a cleanup function that must be called after tests complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn, PoolOptions{MaxConns: 16})
	require.NoError(t, err, "failed to create pool")

	err = migrations.RunPostgresMigrations(ctx, pool)
	require.NoError(t, err, "failed to apply migrations")

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// setupTestStore wraps setupTestDB with a Store using short retry delays.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	pool, cleanup := setupTestDB(t)
	store := NewStore(pool, StoreOptions{MaxAttempts: 10, BaseDelay: time.Millisecond})
	return store, cleanup
}

// seedUser inserts a user row, optionally referred by another user.
func seedUser(t *testing.T, ctx context.Context, s *Store, id int64, referredBy *int64) *domain.User {
	t.Helper()

	u := &domain.User{ID: id, Email: fmt.Sprintf("user%d@example.com", id), ReferredBy: referredBy}
	require.NoError(t, s.Users().Insert(ctx, u))
	return u
}

// seedOrder inserts a paid order for buyer.
func seedOrder(t *testing.T, ctx context.Context, s *Store, id, buyer int64) *domain.Order {
	t.Helper()

	o := &domain.Order{ID: id, BuyerID: buyer, Total: decimal.RequireFromString("99.90"), Status: domain.OrderStatusPaid}
	require.NoError(t, s.Orders().Insert(ctx, o))
	return o
}

// ptr is a helper to create pointers to values.
func ptr[T any](v T) *T {
	return &v
}
