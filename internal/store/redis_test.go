package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/store"
	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestPassLock_ExcludesSecondHolder(t *testing.T) {
	mr, client := newRedis(t)
	lock := store.NewPassLock(client, "licensing:pass:", time.Minute)
	ctx := context.Background()

	release, ok, err := lock.TryAcquire(ctx, "auto-revoke")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.TryAcquire(ctx, "auto-revoke")
	require.NoError(t, err)
	assert.False(t, ok)

	// Other passes are independent.
	releaseOther, ok, err := lock.TryAcquire(ctx, "retention")
	require.NoError(t, err)
	assert.True(t, ok)
	releaseOther()

	release()
	assert.False(t, mr.Exists("licensing:pass:auto-revoke"))

	_, ok, err = lock.TryAcquire(ctx, "auto-revoke")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPassLock_ExpiredLeaseIsNotDeletedByOldHolder(t *testing.T) {
	mr, client := newRedis(t)
	lock := store.NewPassLock(client, "licensing:pass:", time.Minute)
	ctx := context.Background()

	staleRelease, ok, err := lock.TryAcquire(ctx, "activity")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok, err = lock.TryAcquire(ctx, "activity")
	require.NoError(t, err)
	require.True(t, ok)

	staleRelease()
	assert.True(t, mr.Exists("licensing:pass:activity"))
}

func TestWatchlistStore_AcquireAndPutBack(t *testing.T) {
	_, client := newRedis(t)
	watchlist := store.NewWatchlistStore(client, "licensing:hyperliquid:accounts")
	ctx := context.Background()

	_, _, err := watchlist.Acquire(ctx)
	assert.ErrorIs(t, err, store.ErrNoAccounts)

	require.NoError(t, watchlist.Add(ctx, " 0xABC "))
	addr, putBack, err := watchlist.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", addr)

	list, err := watchlist.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, putBack())
	list, err = watchlist.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xabc"}, list)

	require.NoError(t, watchlist.Remove(ctx, "0xAbC"))
	list, err = watchlist.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
