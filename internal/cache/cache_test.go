package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var epoch = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func testKey(account string) Key {
	return Key{Broker: domain.BrokerExness, Account: account, Operation: "activity", From: epoch.AddDate(0, 0, -7), To: epoch}
}

func TestKey_BucketsRangeByDay(t *testing.T) {
	a := testKey("1001")
	b := a
	b.From = b.From.Add(3 * time.Hour)
	b.To = b.To.Add(time.Hour)
	assert.Equal(t, a.String(), b.String())

	c := a
	c.Operation = "performance"
	assert.NotEqual(t, a.String(), c.String())
}

func TestMemoryCache_ExpiresFromInsertion(t *testing.T) {
	clock := quartz.NewMock(t)
	clock.Set(epoch)
	c := NewMemoryCache(clock, 5*time.Minute, 100)
	ctx := context.Background()

	ltd := epoch.Add(-time.Hour)
	want := domain.ActivitySummary{HasActivity: true, TradeCount: 3, Volume: 0.3, LastTradeDate: &ltd}
	c.Put(ctx, testKey("1001"), want)

	clock.Advance(4 * time.Minute)
	got, ok := c.Get(ctx, testKey("1001"))
	require.True(t, ok)
	assert.Equal(t, want, got)

	// Reads do not extend freshness.
	clock.Advance(time.Minute)
	_, ok = c.Get(ctx, testKey("1001"))
	assert.False(t, ok)
}

func TestMemoryCache_CachesVerifiedEmptyResult(t *testing.T) {
	clock := quartz.NewMock(t)
	clock.Set(epoch)
	c := NewMemoryCache(clock, time.Minute, 100)
	ctx := context.Background()

	c.Put(ctx, testKey("1002"), domain.ZeroActivity())
	got, ok := c.Get(ctx, testKey("1002"))
	require.True(t, ok)
	assert.False(t, got.HasActivity)
}

func TestMemoryCache_ConcurrentUse(t *testing.T) {
	clock := quartz.NewMock(t)
	clock.Set(epoch)
	c := NewMemoryCache(clock, time.Minute, 1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := testKey(string(rune('a' + i)))
			c.Put(ctx, key, domain.ActivitySummary{TradeCount: int64(i)})
			_, _ = c.Get(ctx, key)
		}()
	}
	wg.Wait()

	got, ok := c.Get(ctx, testKey("c"))
	require.True(t, ok)
	assert.Equal(t, int64(2), got.TradeCount)
}

func TestRedisCache_RoundTripAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewRedisCache(client, 5*time.Minute, zap.NewNop())
	ctx := context.Background()

	want := domain.ActivitySummary{HasActivity: true, TradeCount: 1, Volume: 0.1}
	c.Put(ctx, testKey("1001"), want)

	got, ok := c.Get(ctx, testKey("1001"))
	require.True(t, ok)
	assert.Equal(t, want, got)

	mr.FastForward(5 * time.Minute)
	_, ok = c.Get(ctx, testKey("1001"))
	assert.False(t, ok)
}

func TestRedisCache_UnavailableReadsAsMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewRedisCache(client, time.Minute, zap.NewNop())

	mr.Close()
	_, ok := c.Get(context.Background(), testKey("1001"))
	assert.False(t, ok)
}
