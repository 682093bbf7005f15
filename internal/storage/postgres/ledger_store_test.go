package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

func newDirectEvent(user, order int64, key string, status domain.BonusStatus) *domain.BonusEvent {
	return &domain.BonusEvent{
		UserID:         user,
		OrderID:        order,
		BonusType:      domain.BonusTypeDirect,
		Amount:         domain.DirectBonusAmount,
		Depth:          ptr(0),
		Status:         status,
		IdempotencyKey: key,
	}
}

func TestLedgerStore_AppendAndRead(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	seedUser(t, ctx, store, 1, nil)
	seedUser(t, ctx, store, 2, ptr(int64(1)))
	seedOrder(t, ctx, store, 100, 2)

	ledger := store.Ledger()

	e := newDirectEvent(1, 100, "direct:100", domain.BonusStatusReleased)
	require.NoError(t, ledger.Append(ctx, e))
	assert.NotZero(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())

	lane := domain.LaneLeft
	h := &domain.BonusEvent{
		UserID:         1,
		OrderID:        domain.SystemOrderID,
		BonusType:      domain.BonusTypeHierarchy,
		Amount:         domain.HierarchyBonusAmount,
		Lane:           &lane,
		Depth:          ptr(0),
		Status:         domain.BonusStatusPending,
		IdempotencyKey: "pair:1:1",
	}
	require.NoError(t, ledger.Append(ctx, h))

	got, err := ledger.GetByKey(ctx, "direct:100")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("10.00")))
	assert.Equal(t, domain.BonusTypeDirect, got.BonusType)
	assert.Nil(t, got.Lane)

	got, err = ledger.GetByID(ctx, h.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Lane)
	assert.Equal(t, domain.LaneLeft, *got.Lane)

	recent, err := ledger.GetRecent(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, h.ID, recent[0].ID, "newest first")

	byOrder, err := ledger.GetByOrder(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, byOrder, 1)

	totals, err := ledger.Totals(ctx, 1)
	require.NoError(t, err)
	assert.True(t, totals.Direct.Equal(decimal.RequireFromString("10")))
	assert.True(t, totals.Hierarchy.Equal(decimal.RequireFromString("5")))
	assert.True(t, totals.Released.Equal(decimal.RequireFromString("10")))
	assert.True(t, totals.Pending.Equal(decimal.RequireFromString("5")))
	assert.Equal(t, int64(2), totals.Events)

	_, err = ledger.GetByKey(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLedgerStore_Idempotency(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	seedUser(t, ctx, store, 1, nil)
	seedUser(t, ctx, store, 2, ptr(int64(1)))
	seedOrder(t, ctx, store, 100, 2)

	ledger := store.Ledger()
	require.NoError(t, ledger.Append(ctx, newDirectEvent(1, 100, "direct:100", domain.BonusStatusReleased)))

	err := ledger.Append(ctx, newDirectEvent(1, 100, "direct:100", domain.BonusStatusReleased))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// A second DIRECT row for the same order is refused even with another key.
	err = ledger.Append(ctx, newDirectEvent(1, 100, "direct:100:again", domain.BonusStatusReleased))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestLedgerStore_MarkReleased(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	seedUser(t, ctx, store, 1, nil)
	seedUser(t, ctx, store, 2, ptr(int64(1)))
	seedOrder(t, ctx, store, 100, 2)

	ledger := store.Ledger()
	e := newDirectEvent(1, 100, "direct:100", domain.BonusStatusPending)
	require.NoError(t, ledger.Append(ctx, e))

	pending, err := ledger.GetPendingBefore(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	at := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, ledger.MarkReleased(ctx, e.ID, at))

	got, err := ledger.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BonusStatusReleased, got.Status)
	require.NotNil(t, got.ReleasedAt)
	assert.True(t, got.ReleasedAt.Equal(at))

	assert.ErrorIs(t, ledger.MarkReleased(ctx, e.ID, at), storage.ErrInvalidTransition)
	assert.ErrorIs(t, ledger.MarkReleased(ctx, 9999, at), storage.ErrNotFound)
}

func TestLedgerStore_TriggerGuardsImmutability(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	seedUser(t, ctx, store, 1, nil)
	seedUser(t, ctx, store, 2, ptr(int64(1)))
	seedOrder(t, ctx, store, 100, 2)

	e := newDirectEvent(1, 100, "direct:100", domain.BonusStatusReleased)
	require.NoError(t, store.Ledger().Append(ctx, e))

	_, err := store.pool.Exec(ctx, `UPDATE bonus_events SET amount = 99 WHERE id = $1`, e.ID)
	assert.Error(t, err, "amount must be immutable")

	_, err = store.pool.Exec(ctx, `UPDATE bonus_events SET status = 'PENDING' WHERE id = $1`, e.ID)
	assert.Error(t, err, "RELEASED must not go back to PENDING")

	_, err = store.pool.Exec(ctx, `DELETE FROM bonus_events WHERE id = $1`, e.ID)
	assert.Error(t, err, "ledger rows must not be deleted")

	_, err = store.pool.Exec(ctx, `DELETE FROM orders WHERE id = 100`)
	assert.Error(t, err, "orders with bonus rows are protected")
}
