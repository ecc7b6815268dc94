// Package cache memoizes broker activity lookups for a short freshness window.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
)

// DefaultTTL is how long an observation stays fresh after insertion.
const DefaultTTL = 5 * time.Minute

// Key identifies one provider query. The date range is bucketed to whole days
// so repeated checks within a day share an entry.
type Key struct {
	Broker    domain.Broker
	Account   string
	Operation string
	From      time.Time
	To        time.Time
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", k.Broker, k.Account, k.Operation, domain.DayKey(k.From), domain.DayKey(k.To))
}

// ActivityCache is safe for concurrent use. Expired entries read as absent.
type ActivityCache interface {
	Get(ctx context.Context, key Key) (domain.ActivitySummary, bool)
	Put(ctx context.Context, key Key, summary domain.ActivitySummary)
}
