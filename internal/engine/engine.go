// Package engine owns the license lifecycle: creation, activity touches,
// revocation and reactivation. Every status change for a user runs under that
// user's lock, inside one transaction that also writes the audit entry and the
// notification.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/broker"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/metrics"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/store"
	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"go.uber.org/zap"
)

const (
	// ActorSystem marks transitions the service performed on its own.
	ActorSystem = "system"

	maxConflictRetries = 3
)

// ActivitySource answers activity queries. fresh skips any cached answer.
type ActivitySource interface {
	Activity(ctx context.Context, user domain.User, w broker.Window, fresh bool) (domain.ActivitySummary, error)
}

// EventSink receives lifecycle events after they are committed.
type EventSink interface {
	HandleEvent(ctx context.Context, ev domain.LicenseEvent) error
}

// Thresholds are the day counts that drive enforcement.
type Thresholds struct {
	InactivityDays int
	WarningDays    int
	LookbackDays   int
}

// DefaultThresholds are 7 days to revocation, a warning on day 6 and a
// 7 day lookback.
var DefaultThresholds = Thresholds{InactivityDays: 7, WarningDays: 6, LookbackDays: 7}

// Deps groups the collaborators of an Engine.
type Deps struct {
	Licenses      *store.LicenseStore
	Users         *store.UserStore
	Ledger        *store.ActivityStore
	Notifications *store.NotificationStore
	Activity      ActivitySource
	Sinks         []EventSink
	Clock         quartz.Clock
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

type Engine struct {
	licenses      *store.LicenseStore
	users         *store.UserStore
	ledger        *store.ActivityStore
	notifications *store.NotificationStore
	activity      ActivitySource
	sinks         []EventSink
	clock         quartz.Clock
	thresholds    Thresholds
	locks         *keyLocks
	metrics       *metrics.Metrics
	logger        *zap.Logger

	// retryInterval is the first wait before retrying a version conflict.
	retryInterval time.Duration
}

func New(d Deps, t Thresholds) *Engine {
	if d.Clock == nil {
		d.Clock = quartz.NewReal()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Engine{
		licenses:      d.Licenses,
		users:         d.Users,
		ledger:        d.Ledger,
		notifications: d.Notifications,
		activity:      d.Activity,
		sinks:         d.Sinks,
		clock:         d.Clock,
		thresholds:    t,
		locks:         newKeyLocks(),
		metrics:       d.Metrics,
		logger:        d.Logger,
		retryInterval: 50 * time.Millisecond,
	}
}

// Thresholds returns the day counts the engine enforces.
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// Now is the engine's clock reading in UTC.
func (e *Engine) Now() time.Time { return e.clock.Now().UTC() }

// Window returns the trailing lookback window ending now.
func (e *Engine) Window() broker.Window {
	return broker.LookbackWindow(e.Now(), e.thresholds.LookbackDays)
}

// AddSink registers another event receiver. It must be called before the
// engine is shared between goroutines.
func (e *Engine) AddSink(s EventSink) {
	e.sinks = append(e.sinks, s)
}

// withUser serializes fn against every other mutation for userID and retries
// it when a concurrent writer bumped the license version underneath it.
func (e *Engine) withUser(ctx context.Context, userID string, fn func() error) error {
	unlock := e.locks.Lock(userID)
	defer unlock()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(policy, maxConflictRetries), ctx)
	return backoff.RetryNotify(func() error {
		err := fn()
		if err == nil || errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		e.logger.Debug("retrying license write", zap.String("user_id", userID), zap.Duration("wait", wait), zap.Error(err))
	})
}

// emit hands ev to every sink. Sink failures are logged, the state change
// they describe is already committed.
func (e *Engine) emit(ctx context.Context, ev domain.LicenseEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.Now()
	}
	for _, s := range e.sinks {
		if err := s.HandleEvent(ctx, ev); err != nil {
			e.logger.Warn("license event delivery failed",
				zap.String("event", string(ev.Type)),
				zap.String("user_id", ev.UserID),
				zap.Error(err))
		}
	}
}

func licenseEvent(t domain.LicenseEventType, u domain.User, lic domain.License, reason string, at time.Time) domain.LicenseEvent {
	return domain.LicenseEvent{
		Type:          t,
		UserID:        u.ID,
		Broker:        u.Broker,
		AccountNumber: u.AccountNumber,
		LicenseKey:    lic.LicenseKey,
		Reason:        reason,
		OccurredAt:    at,
	}
}
