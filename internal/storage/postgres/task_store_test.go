package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binary-referral/internal/queue"
	"binary-referral/internal/storage"
)

func TestTaskStore_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	tasks := NewTaskStore(pool)

	_, err := tasks.Claim(ctx, time.Minute)
	assert.ErrorIs(t, err, queue.ErrEmpty)

	task, err := queue.NewTask("process_purchase", "100", map[string]int64{"order_id": 100})
	require.NoError(t, err)
	require.NoError(t, tasks.Enqueue(ctx, task))

	claimed, err := tasks.Claim(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, task.ID, claimed.ID)
	assert.Equal(t, queue.StatusRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	require.NotNil(t, claimed.LockedUntil)

	var payload struct {
		OrderID int64 `json:"order_id"`
	}
	require.NoError(t, claimed.Decode(&payload))
	assert.Equal(t, int64(100), payload.OrderID)

	_, err = tasks.Claim(ctx, time.Minute)
	assert.ErrorIs(t, err, queue.ErrEmpty, "leased task is not handed out twice")

	require.NoError(t, tasks.Retry(ctx, task.ID, "transient", time.Now().Add(-time.Second)))
	claimed, err = tasks.Claim(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, claimed.Attempts)
	assert.Equal(t, "transient", claimed.LastError)

	require.NoError(t, tasks.Complete(ctx, task.ID))
	got, err := tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDone, got.Status)

	counts, err := tasks.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[queue.StatusDone])
}

func TestTaskStore_ExpiredLeaseRedelivered(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	tasks := NewTaskStore(pool)

	task, err := queue.NewTask("place_user", "7", map[string]int64{"user_id": 7})
	require.NoError(t, err)
	require.NoError(t, tasks.Enqueue(ctx, task))

	_, err = tasks.Claim(ctx, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	again, err := tasks.Claim(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, task.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestTaskStore_FailAndMissing(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	tasks := NewTaskStore(pool)

	task, err := queue.NewTask("place_user", "", map[string]int64{"user_id": 1})
	require.NoError(t, err)
	require.NoError(t, tasks.Enqueue(ctx, task))
	assert.ErrorIs(t, tasks.Enqueue(ctx, task), storage.ErrDuplicateKey)

	require.NoError(t, tasks.Fail(ctx, task.ID, "referrer not found"))
	_, err = tasks.Claim(ctx, time.Minute)
	assert.ErrorIs(t, err, queue.ErrEmpty, "failed tasks are never claimed")

	missing, err := queue.NewTask("place_user", "", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, tasks.Complete(ctx, missing.ID), storage.ErrNotFound)
	_, err = tasks.Get(ctx, missing.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
