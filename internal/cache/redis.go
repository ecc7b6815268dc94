package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "licensing:activity:"

// RedisCache shares observations between replicas. Entries expire through the
// key TTL set at insertion.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key Key) (domain.ActivitySummary, bool) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key.String()).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("activity cache read failed", zap.String("key", key.String()), zap.Error(err))
		}
		return domain.ActivitySummary{}, false
	}
	var summary domain.ActivitySummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		c.logger.Warn("activity cache entry malformed", zap.String("key", key.String()), zap.Error(err))
		return domain.ActivitySummary{}, false
	}
	return summary, true
}

func (c *RedisCache) Put(ctx context.Context, key Key, summary domain.ActivitySummary) {
	raw, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key.String(), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("activity cache write failed", zap.String("key", key.String()), zap.Error(err))
	}
}
