package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

func TestCounterStore_LazyCreateAndUpdate(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	seedUser(t, ctx, store, 1, nil)

	got, err := store.Counters().Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.LeftCount)
	assert.Equal(t, int64(0), got.RightCount)

	err = store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		c, err := tx.Counters().GetForUpdate(ctx, 1)
		if err != nil {
			return err
		}
		c.LeftCount = 2
		c.RightCount = 1
		c.ReleasedPairs = 1
		return tx.Counters().Update(ctx, c)
	})
	require.NoError(t, err)

	got, err = store.Counters().Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.LeftCount)
	assert.Equal(t, int64(1), got.RightCount)
	assert.Equal(t, int64(1), got.ReleasedPairs)
}

func TestCounterStore_RejectsDecreaseAndInvariant(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	seedUser(t, ctx, store, 1, nil)

	_, err := store.Counters().GetForUpdate(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, store.Counters().Update(ctx, &domain.PairingCounter{UserID: 1, LeftCount: 3, RightCount: 3, ReleasedPairs: 2}))

	t.Run("decrease", func(t *testing.T) {
		err := store.Counters().Update(ctx, &domain.PairingCounter{UserID: 1, LeftCount: 2, RightCount: 3, ReleasedPairs: 2})
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
	})

	t.Run("released above pairs", func(t *testing.T) {
		err := store.Counters().Update(ctx, &domain.PairingCounter{UserID: 1, LeftCount: 3, RightCount: 3, ReleasedPairs: 4})
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
	})

	t.Run("missing row", func(t *testing.T) {
		err := store.Counters().Update(ctx, &domain.PairingCounter{UserID: 42, LeftCount: 1})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	got, err := store.Counters().Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ReleasedPairs)
}

func TestCounterStore_ConcurrentIncrementsNoLostUpdates(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	seedUser(t, ctx, store, 1, nil)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		lane := domain.Lanes[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
				c, err := tx.Counters().GetForUpdate(ctx, 1)
				if err != nil {
					return err
				}
				if err := c.Increment(lane); err != nil {
					return err
				}
				return tx.Counters().Update(ctx, c)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.Counters().Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(workers/2), got.LeftCount)
	assert.Equal(t, int64(workers/2), got.RightCount)
}
