package cache

import (
	"context"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/ammario/tlru"
	"github.com/coder/quartz"
)

type memoryEntry struct {
	summary  domain.ActivitySummary
	storedAt time.Time
}

// MemoryCache is a bounded in-process ActivityCache.
type MemoryCache struct {
	entries *tlru.Cache[string, memoryEntry]
	clock   quartz.Clock
	ttl     time.Duration
}

func NewMemoryCache(clock quartz.Clock, ttl time.Duration, maxEntries int) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		entries: tlru.New[string](tlru.ConstantCost[memoryEntry], maxEntries),
		clock:   clock,
		ttl:     ttl,
	}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (domain.ActivitySummary, bool) {
	e, _, ok := c.entries.Get(key.String())
	if !ok {
		return domain.ActivitySummary{}, false
	}
	// Freshness is judged from insertion time on the service clock.
	if c.clock.Since(e.storedAt) >= c.ttl {
		return domain.ActivitySummary{}, false
	}
	return e.summary, true
}

func (c *MemoryCache) Put(_ context.Context, key Key, summary domain.ActivitySummary) {
	c.entries.Set(key.String(), memoryEntry{summary: summary, storedAt: c.clock.Now()}, c.ttl)
}
