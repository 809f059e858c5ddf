package redis_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/deficit-engine/config"
	"github.com/warp/deficit-engine/generic"
	storeredis "github.com/warp/deficit-engine/store/redis"
)

// connect skips unless REDIS_ADDRESS points at a live server.
func connect(t *testing.T) (*storeredis.Store, *storeredis.Locker) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_ADDRESS not set")
	}
	ctx := context.Background()
	rdb, err := storeredis.Connect(ctx, storeredis.Options{Address: addr})
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	prefix := "deficit-test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		keys, _ := rdb.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
	})
	return storeredis.NewStore(rdb, prefix), storeredis.NewLocker(rdb, prefix, config.DiscardLogger())
}

func TestStore_GetPut(t *testing.T) {
	store, _ := connect(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, generic.KeySettings)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, generic.KeySettings, []byte(`{"dueDateGraceDays":5}`)))
	data, ok, err := store.Get(ctx, generic.KeySettings)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"dueDateGraceDays":5}`, string(data))
}

func TestLocker_SecondAcquireIsBusy(t *testing.T) {
	_, locker := connect(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "rec-1")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "rec-1")
	assert.ErrorIs(t, err, generic.ErrBusy)

	other, err := locker.Acquire(ctx, "rec-2")
	require.NoError(t, err)
	other()

	release()
	again, err := locker.Acquire(ctx, "rec-1")
	require.NoError(t, err)
	again()
}
