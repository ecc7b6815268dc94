package broker

import (
	"context"
	"errors"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/cache"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/metrics"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single provider query.
const DefaultTimeout = 30 * time.Second

const opActivity = "activity"

// Service fronts the provider registry with the activity cache and a per-call timeout.
type Service struct {
	registry Registry
	cache    cache.ActivityCache
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewService(registry Registry, c cache.ActivityCache, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{registry: registry, cache: c, timeout: timeout, metrics: m, logger: logger}
}

// Activity returns the user's activity in w. fresh bypasses the cache read
// but still stores the result. Failures are never cached: they return the zero
// summary together with the error so callers can tell "no activity" apart
// from "could not check".
func (s *Service) Activity(ctx context.Context, user domain.User, w Window, fresh bool) (domain.ActivitySummary, error) {
	provider, err := s.registry.Get(user.Broker)
	if err != nil {
		return domain.ZeroActivity(), err
	}
	key := cache.Key{Broker: user.Broker, Account: user.AccountNumber, Operation: opActivity, From: w.From, To: w.To}
	if !fresh {
		if summary, ok := s.cache.Get(ctx, key); ok {
			s.metrics.CacheLookup(true)
			return summary, nil
		}
		s.metrics.CacheLookup(false)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	summary, err := provider.FetchActivity(callCtx, user.AccountNumber, w)
	if err != nil {
		var upstream *UpstreamError
		if !errors.As(err, &upstream) {
			upstream = upstreamErr(user.Broker, opActivity, KindUnavailable, err)
			err = upstream
		}
		s.metrics.ProviderRequest(string(user.Broker), string(upstream.Kind))
		s.logger.Warn("broker activity query failed",
			zap.String("user_id", user.ID),
			zap.String("broker", string(user.Broker)),
			zap.Error(err))
		return domain.ZeroActivity(), err
	}
	s.metrics.ProviderRequest(string(user.Broker), "ok")
	s.cache.Put(ctx, key, summary)
	return summary, nil
}

// GetActivity is the collapsed form: any failure reads as the zero summary.
func (s *Service) GetActivity(ctx context.Context, user domain.User, w Window) domain.ActivitySummary {
	summary, _ := s.Activity(ctx, user, w, false)
	return summary
}
