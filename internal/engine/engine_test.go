package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/broker"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/cache"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/engine"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/store"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.LicenseEvent
}

func (s *recordingSink) HandleEvent(_ context.Context, ev domain.LicenseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []domain.LicenseEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]domain.LicenseEventType, 0, len(s.events))
	for _, ev := range s.events {
		res = append(res, ev.Type)
	}
	return res
}

type harness struct {
	db            *gorm.DB
	clock         *quartz.Mock
	engine        *engine.Engine
	provider      *broker.FakeProvider
	licenses      *store.LicenseStore
	notifications *store.NotificationStore
	sink          *recordingSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	provider := broker.NewFakeProvider(domain.BrokerExness, 1)
	h := newHarnessWith(t, harnessConfig{
		providers: func(quartz.Clock) []broker.Provider { return []broker.Provider{provider} },
	})
	h.provider = provider
	return h
}

type harnessConfig struct {
	providers func(quartz.Clock) []broker.Provider
	// sinks receive license events after the recording sink.
	sinks []engine.EventSink
	// clock wraps the mock clock handed to the engine and stores.
	clock func(*quartz.Mock) quartz.Clock
}

func newHarnessWith(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	mock := testutil.NewClock(t)
	var clock quartz.Clock = mock
	if cfg.clock != nil {
		clock = cfg.clock(mock)
	}
	svc := broker.NewService(
		broker.NewRegistry(cfg.providers(clock)...),
		cache.NewMemoryCache(clock, cache.DefaultTTL, 1000),
		time.Second, nil, zap.NewNop())

	h := &harness{
		db:            db,
		clock:         mock,
		licenses:      store.NewLicenseStore(db, clock),
		notifications: store.NewNotificationStore(db, clock),
		sink:          &recordingSink{},
	}
	h.engine = engine.New(engine.Deps{
		Licenses:      h.licenses,
		Users:         store.NewUserStore(db),
		Ledger:        store.NewActivityStore(db),
		Notifications: h.notifications,
		Activity:      svc,
		Sinks:         append([]engine.EventSink{h.sink}, cfg.sinks...),
		Clock:         clock,
		Logger:        zap.NewNop(),
	}, engine.DefaultThresholds)
	return h
}

// steppingClock moves the mock forward a millisecond on every read, so each
// write gets its own timestamp.
type steppingClock struct {
	*quartz.Mock
	mu *sync.Mutex
}

func (c steppingClock) Now(tags ...string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Advance(time.Millisecond)
	return c.Mock.Now(tags...)
}

// seed registers a user whose license last traded daysAgo days back; a
// negative value stores a license that never traded.
func (h *harness) seed(t *testing.T, id, account string, daysAgo int) domain.License {
	t.Helper()
	testutil.SeedUser(t, h.db, id, domain.BrokerExness, account)
	var ltd *time.Time
	if daysAgo >= 0 {
		ltd = testutil.DaysAgo(h.clock, daysAgo)
	}
	lic, err := h.licenses.CreateLicense(t.Context(), id, ltd)
	require.NoError(t, err)
	return lic
}

func (h *harness) latest(t *testing.T, userID string) domain.License {
	t.Helper()
	lic, err := h.licenses.GetLatestLicense(t.Context(), userID)
	require.NoError(t, err)
	return lic
}

func (h *harness) audits(t *testing.T, userID string) []domain.AuditAction {
	t.Helper()
	entries, err := h.notifications.ListAudit(t.Context(), userID)
	require.NoError(t, err)
	res := make([]domain.AuditAction, 0, len(entries))
	for _, e := range entries {
		res = append(res, e.Action)
	}
	return res
}

func (h *harness) notices(t *testing.T, userID string) []domain.Notification {
	t.Helper()
	n, err := h.notifications.ListForUser(t.Context(), userID)
	require.NoError(t, err)
	return n
}

func traded() domain.ActivitySummary {
	ltd := testutil.Epoch.Add(-time.Hour)
	return domain.ActivitySummary{HasActivity: true, TradeCount: 3, Volume: 0.3, LastTradeDate: &ltd}
}

func TestCreateLicense_RequiresFreshVerifiedActivity(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	testutil.SeedUser(t, h.db, "u1", domain.BrokerExness, "1001")

	h.provider.Set("1001", domain.ZeroActivity())
	_, err := h.engine.CreateLicense(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNoVerifiedActivity)

	h.provider.Fail("1001", nil)
	_, err = h.engine.CreateLicense(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNoVerifiedActivity)
	assert.ErrorIs(t, err, broker.ErrUpstreamUnavailable)

	_, err = h.licenses.GetLatestLicense(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrLicenseNotFound)

	h.provider.Set("1001", traded())
	lic, err := h.engine.CreateLicense(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseActive, lic.Status)
	assert.Len(t, lic.LicenseKey, 64)
	require.NotNil(t, lic.LastTradeDate)
	assert.True(t, lic.LastTradeDate.Equal(testutil.Epoch))
	assert.Equal(t, 3, h.provider.Calls("1001"), "every attempt queried the broker")
	assert.Empty(t, h.audits(t, "u1"))
	assert.Equal(t, []domain.LicenseEventType{domain.EventLicenseCreated}, h.sink.types())

	_, err = h.engine.CreateLicense(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrLicenseAlreadyActive)
	assert.Equal(t, 3, h.provider.Calls("1001"))
}

func TestCreateLicense_HyperliquidWithoutSubscription(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	watchlist := store.NewWatchlistStore(client, "licensing:hyperliquid:accounts")

	var feed *broker.HyperliquidFeed
	lookups := 0
	fetch := func(_ context.Context, account string, _, _ time.Time) ([]broker.Fill, error) {
		lookups++
		return []broker.Fill{{ID: "fill-1", Account: account, Coin: "ETH", Side: "B", Size: 0.5, Price: 2000, Time: testutil.Epoch.Add(-time.Hour)}}, nil
	}
	h := newHarnessWith(t, harnessConfig{
		providers: func(clock quartz.Clock) []broker.Provider {
			feed = broker.NewHyperliquidFeed(watchlist, nil, clock, zap.NewNop())
			return []broker.Provider{broker.NewHyperliquidProvider(feed, fetch)}
		},
	})
	h.engine.AddSink(feed)
	ctx := t.Context()
	testutil.SeedUser(t, h.db, "u1", domain.BrokerHyperliquid, "0xAbC")

	lic, err := h.engine.CreateLicense(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseActive, lic.Status)
	assert.Equal(t, 1, lookups)
	assert.Equal(t, []domain.LicenseEventType{domain.EventLicenseCreated}, h.sink.types())

	// The new license puts the account on the streaming watchlist.
	accounts, err := watchlist.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xabc"}, accounts)
}

func TestCreateLicense_UnknownUser(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.CreateLicense(t.Context(), "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestIssueLicense_AuditsManualIssue(t *testing.T) {
	h := newHarness(t)
	testutil.SeedUser(t, h.db, "u1", domain.BrokerExness, "1001")

	lic, err := h.engine.IssueLicense(t.Context(), "u1", "admin-1", "partner onboarding")
	require.NoError(t, err)
	assert.True(t, lic.IsActive())
	assert.Equal(t, []domain.AuditAction{domain.AuditManualIssue}, h.audits(t, "u1"))
	assert.Zero(t, h.provider.Calls("1001"))

	_, err = h.engine.IssueLicense(t.Context(), "u1", "admin-1", "again")
	assert.ErrorIs(t, err, domain.ErrLicenseAlreadyActive)
}

func TestTouch_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u1", "1001", 3)

	first, err := h.engine.RecordSignalActivity(t.Context(), "u1")
	require.NoError(t, err)
	second, err := h.engine.RecordSignalActivity(t.Context(), "u1")
	require.NoError(t, err)

	require.NotNil(t, first.LastTradeDate)
	assert.True(t, first.LastTradeDate.Equal(*second.LastTradeDate))
	assert.True(t, h.latest(t, "u1").LastTradeDate.Equal(testutil.Epoch))
	assert.Empty(t, h.audits(t, "u1"))
	assert.Empty(t, h.notices(t, "u1"))
}

func TestTouch_RevokedLicense(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u1", "1001", 1)
	_, err := h.engine.Revoke(t.Context(), "u1", "admin", "abuse")
	require.NoError(t, err)

	_, err = h.engine.RecordSignalActivity(t.Context(), "u1")
	assert.ErrorIs(t, err, domain.ErrLicenseNotFound)
	assert.Equal(t, domain.LicenseRevoked, h.latest(t, "u1").Status)
}

func TestRecheckAndRevoke_IgnoresStaleCache(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	h.seed(t, "u1", "1001", 8)

	// A cached read stores a zero summary for the window.
	h.provider.Set("1001", domain.ZeroActivity())
	res, err := h.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeUnchanged, res.Outcome)

	h.provider.Set("1001", traded())
	res, err = h.engine.RecheckAndRevoke(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeTouched, res.Outcome)
	assert.Equal(t, 2, h.provider.Calls("1001"))

	lic := h.latest(t, "u1")
	assert.Equal(t, domain.LicenseActive, lic.Status)
	assert.True(t, lic.LastTradeDate.Equal(testutil.Epoch))
	assert.Empty(t, h.audits(t, "u1"))
}

func TestRecheckAndRevoke_FailSafeOnProviderError(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u1", "1001", 9)
	h.provider.Fail("1001", nil)

	res, err := h.engine.RecheckAndRevoke(t.Context(), "u1")
	assert.ErrorIs(t, err, broker.ErrUpstreamUnavailable)
	assert.Equal(t, engine.OutcomeUnchanged, res.Outcome)
	assert.Equal(t, domain.LicenseActive, h.latest(t, "u1").Status)
	assert.Empty(t, h.audits(t, "u1"))
}

func TestRecheckAndRevoke_RevokesVerifiedInactivity(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u1", "1001", 7)
	h.provider.Set("1001", domain.ZeroActivity())

	res, err := h.engine.RecheckAndRevoke(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeRevoked, res.Outcome)

	lic := h.latest(t, "u1")
	assert.Equal(t, domain.LicenseRevoked, lic.Status)
	assert.Equal(t, "No trading activity for 7 days", lic.RevokeReason)
	assert.Equal(t, []domain.AuditAction{domain.AuditAutoRevoke}, h.audits(t, "u1"))
	notices := h.notices(t, "u1")
	require.Len(t, notices, 1)
	assert.Equal(t, domain.NotifyLicenseRevoked, notices[0].Kind)
	assert.Equal(t, []domain.LicenseEventType{domain.EventLicenseRevoked}, h.sink.types())
}

func TestRecheckAndRevoke_SkipsLicensesNotDue(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u1", "1001", 6)

	res, err := h.engine.RecheckAndRevoke(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeUnchanged, res.Outcome)
	assert.Zero(t, h.provider.Calls("1001"))
}

func TestNeverTradedLicenseIsEligibleImmediately(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u1", "1001", -1)
	h.clock.Set(testutil.Epoch.AddDate(0, 0, 10))

	atRisk, err := h.engine.UsersAtRisk(t.Context())
	require.NoError(t, err)
	require.Len(t, atRisk, 1)
	assert.Equal(t, "u1", atRisk[0].User.ID)
	assert.Nil(t, atRisk[0].DaysSinceLastTrade)

	h.provider.Set("1001", domain.ZeroActivity())
	res, err := h.engine.RecheckAndRevoke(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeRevoked, res.Outcome)
	assert.Equal(t, "No trading activity since license creation", h.latest(t, "u1").RevokeReason)
}

func TestEvaluate_TouchesOnActivityAndRecordsLedger(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u1", "1001", 9)
	h.provider.Set("1001", traded())

	res, err := h.engine.Evaluate(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeTouched, res.Outcome)
	assert.True(t, res.Activity.HasActivity)

	rows, err := h.engine.UserActivity(t.Context(), "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-03-10", rows[0].Day)
	assert.Equal(t, int64(3), rows[0].TradeCount)
}

func TestSync_NeverRevokes(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u1", "1001", 20)
	h.provider.Set("1001", domain.ZeroActivity())

	res, err := h.engine.Sync(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeUnchanged, res.Outcome)
	assert.Equal(t, domain.LicenseActive, h.latest(t, "u1").Status)
}

func TestSync_NoLicense(t *testing.T) {
	h := newHarness(t)
	testutil.SeedUser(t, h.db, "u1", domain.BrokerExness, "1001")

	res, err := h.engine.Sync(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeNoLicense, res.Outcome)
	assert.Zero(t, h.provider.Calls("1001"))
}

func TestRevokeReactivate_RoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	h.seed(t, "u1", "1001", 2)

	revoked, err := h.engine.Revoke(ctx, "u1", "admin-1", "terms violation")
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseRevoked, revoked.Status)

	// Revoking again is a no-op.
	_, err = h.engine.Revoke(ctx, "u1", "admin-1", "terms violation")
	require.NoError(t, err)

	h.clock.Set(testutil.Epoch.Add(2 * time.Hour))
	reactivated, err := h.engine.Reactivate(ctx, "u1", "admin-1", "")
	require.NoError(t, err)

	lic := h.latest(t, "u1")
	assert.Equal(t, domain.LicenseActive, lic.Status)
	assert.Nil(t, lic.RevokedAt)
	require.NotNil(t, lic.LastTradeDate)
	assert.True(t, lic.LastTradeDate.Equal(testutil.Epoch.Add(2*time.Hour)))
	assert.Equal(t, revoked.LicenseKey, reactivated.LicenseKey)

	assert.Equal(t, []domain.AuditAction{domain.AuditManualRevoke, domain.AuditReactivate}, h.audits(t, "u1"))
	notices := h.notices(t, "u1")
	require.Len(t, notices, 2)
	assert.Equal(t, domain.NotifyLicenseReactivated, notices[0].Kind)
	assert.Equal(t, domain.NotifyLicenseRevoked, notices[1].Kind)
	assert.Equal(t, []domain.LicenseEventType{domain.EventLicenseRevoked, domain.EventLicenseReactivated}, h.sink.types())

	// Reactivating an active license is a no-op.
	_, err = h.engine.Reactivate(ctx, "u1", "admin-1", "")
	require.NoError(t, err)
	assert.Len(t, h.audits(t, "u1"), 2)
}

func TestRevoke_NoLicense(t *testing.T) {
	h := newHarness(t)
	testutil.SeedUser(t, h.db, "u1", domain.BrokerExness, "1001")
	_, err := h.engine.Revoke(t.Context(), "u1", "admin", "x")
	assert.ErrorIs(t, err, domain.ErrLicenseNotFound)
}

func TestConcurrentTouchAndRevoke(t *testing.T) {
	for i := 0; i < 10; i++ {
		h := newHarnessWith(t, harnessConfig{
			providers: func(quartz.Clock) []broker.Provider {
				return []broker.Provider{broker.NewFakeProvider(domain.BrokerExness, 1)}
			},
			clock: func(m *quartz.Mock) quartz.Clock { return steppingClock{Mock: m, mu: &sync.Mutex{}} },
		})
		seeded := h.seed(t, "42", "4242", 1)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = h.engine.RecordSignalActivity(context.Background(), "42")
		}()
		go func() {
			defer wg.Done()
			_, _ = h.engine.Revoke(context.Background(), "42", "admin", "manual")
		}()
		wg.Wait()

		lic := h.latest(t, "42")
		assert.Equal(t, domain.LicenseRevoked, lic.Status)
		require.NotNil(t, lic.RevokedAt)
		require.NotNil(t, lic.LastTradeDate)
		// Every clock read is distinct, so a touch landing after the
		// revocation would carry a later timestamp.
		assert.True(t, lic.LastTradeDate.Before(*lic.RevokedAt))
		if !lic.LastTradeDate.Equal(*seeded.LastTradeDate) {
			assert.True(t, lic.LastTradeDate.After(testutil.Epoch), "a touch that won the race uses its own time")
		}
		assert.Equal(t, []domain.AuditAction{domain.AuditManualRevoke}, h.audits(t, "42"))
	}
}

func TestAuthorizeSignal_RetriesVersionConflict(t *testing.T) {
	h := newHarness(t)
	lic := h.seed(t, "u1", "1001", 2)

	attempts := 0
	got, err := h.engine.AuthorizeSignal(t.Context(), "u1", lic.LicenseKey, func(tx *store.Tx, l domain.License) error {
		attempts++
		if attempts > 1 {
			return nil
		}
		// A concurrent writer bumps the version before the touch lands.
		_, err := tx.Touch(l, l.LastTradeDate.Add(time.Hour))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.True(t, got.LastTradeDate.Equal(testutil.Epoch))

	stored := h.latest(t, "u1")
	assert.True(t, stored.LastTradeDate.Equal(testutil.Epoch))
	assert.Equal(t, lic.Version+1, stored.Version, "the conflicting attempt was rolled back")
}

func TestAuthorizeSignal_GivesUpAfterRepeatedConflicts(t *testing.T) {
	h := newHarness(t)
	lic := h.seed(t, "u1", "1001", 2)

	attempts := 0
	_, err := h.engine.AuthorizeSignal(t.Context(), "u1", lic.LicenseKey, func(tx *store.Tx, l domain.License) error {
		attempts++
		_, err := tx.Touch(l, l.LastTradeDate.Add(time.Hour))
		return err
	})
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.Equal(t, 4, attempts, "the first try plus three retries")

	stored := h.latest(t, "u1")
	assert.Equal(t, lic.Version, stored.Version)
	assert.True(t, stored.LastTradeDate.Equal(*lic.LastTradeDate))
}

func TestAuthorizeSignal_LazyRevoke(t *testing.T) {
	h := newHarness(t)
	lic := h.seed(t, "u1", "1001", 8)

	called := false
	_, err := h.engine.AuthorizeSignal(t.Context(), "u1", lic.LicenseKey, func(*store.Tx, domain.License) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrInvalidLicense)
	assert.False(t, called)

	got := h.latest(t, "u1")
	assert.Equal(t, domain.LicenseRevoked, got.Status)
	assert.Equal(t, []domain.AuditAction{domain.AuditAutoRevoke}, h.audits(t, "u1"))
	assert.Len(t, h.notices(t, "u1"), 1)
	assert.Equal(t, []domain.LicenseEventType{domain.EventLicenseRevoked}, h.sink.types())
}

func TestAuthorizeSignal_AcceptsAndTouches(t *testing.T) {
	h := newHarness(t)
	lic := h.seed(t, "u1", "1001", 5)

	var seen domain.License
	got, err := h.engine.AuthorizeSignal(t.Context(), "u1", lic.LicenseKey, func(_ *store.Tx, l domain.License) error {
		seen = l
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, lic.ID, seen.ID)
	assert.True(t, got.LastTradeDate.Equal(testutil.Epoch))
	assert.True(t, h.latest(t, "u1").LastTradeDate.Equal(testutil.Epoch))
}

func TestAuthorizeSignal_RejectsWrongKey(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u1", "1001", 8)

	_, err := h.engine.AuthorizeSignal(t.Context(), "u1", "not-the-key", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidLicense)
	assert.Equal(t, domain.LicenseActive, h.latest(t, "u1").Status, "a wrong key never triggers revocation")

	_, err = h.engine.AuthorizeSignal(t.Context(), "nobody", "key", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidLicense)
}

func TestAuthorizeSignal_AcceptFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	lic := h.seed(t, "u1", "1001", 3)
	boom := assert.AnError

	_, err := h.engine.AuthorizeSignal(t.Context(), "u1", lic.LicenseKey, func(*store.Tx, domain.License) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.True(t, h.latest(t, "u1").LastTradeDate.Equal(*testutil.DaysAgo(h.clock, 3)))
}

func TestWarnIfDue_OncePerDay(t *testing.T) {
	h := newHarness(t)
	lic := h.seed(t, "u1", "1001", 6)

	sent, err := h.engine.WarnIfDue(t.Context(), lic)
	require.NoError(t, err)
	assert.True(t, sent)

	h.clock.Set(testutil.Epoch.Add(time.Hour))
	sent, err = h.engine.WarnIfDue(t.Context(), lic)
	require.NoError(t, err)
	assert.False(t, sent)

	h.clock.Set(testutil.Epoch.AddDate(0, 0, 1))
	sent, err = h.engine.WarnIfDue(t.Context(), lic)
	require.NoError(t, err)
	assert.False(t, sent, "only the day the threshold is reached warns")

	notices := h.notices(t, "u1")
	require.Len(t, notices, 1)
	assert.Equal(t, domain.NotifyActivityWarning, notices[0].Kind)
	assert.Contains(t, notices[0].Message, "1 day(s)")
}

func TestWarnIfDue_UsesStoredLicense(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	listed := h.seed(t, "u1", "1001", 6)

	// The user trades between the sweep listing licenses and warning.
	_, err := h.engine.RecordSignalActivity(ctx, "u1")
	require.NoError(t, err)

	sent, err := h.engine.WarnIfDue(ctx, listed)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, h.notices(t, "u1"))

	listed = h.seed(t, "u2", "1002", 6)
	_, err = h.engine.Revoke(ctx, "u2", "admin-1", "manual")
	require.NoError(t, err)
	sent, err = h.engine.WarnIfDue(ctx, listed)
	require.NoError(t, err)
	assert.False(t, sent, "a license revoked after listing gets no warning")
	for _, n := range h.notices(t, "u2") {
		assert.NotEqual(t, domain.NotifyActivityWarning, n.Kind)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u1", "1001", 6)

	st, err := h.engine.Status(t.Context(), "u1")
	require.NoError(t, err)
	assert.True(t, st.HasLicense)
	require.NotNil(t, st.DaysSinceLastTrade)
	assert.Equal(t, 6, *st.DaysSinceLastTrade)
	assert.Equal(t, 1, st.WillExpireIn)
	assert.True(t, st.AtRisk)

	st, err = h.engine.Status(t.Context(), "nobody")
	require.NoError(t, err)
	assert.False(t, st.HasLicense)
}

func TestStatsAndListings(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	h.seed(t, "u1", "1001", 1)
	h.seed(t, "u2", "1002", 6)
	h.seed(t, "u3", "1003", 9)
	h.provider.Set("1001", traded())
	_, err := h.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	_, err = h.engine.Revoke(ctx, "u3", "admin", "fraud")
	require.NoError(t, err)

	stats, err := h.engine.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, len(domain.Brokers))
	assert.Equal(t, engine.BrokerStats{
		Broker:          domain.BrokerExness,
		TotalUsers:      3,
		ActiveLicenses:  2,
		ActiveLast7Days: 1,
		Volume30Days:    0.3,
		Trades30Days:    3,
	}, stats[0])

	atRisk, err := h.engine.UsersAtRisk(ctx)
	require.NoError(t, err)
	require.Len(t, atRisk, 1)
	assert.Equal(t, "u2", atRisk[0].User.ID)

	revoked, err := h.engine.RevokedUsers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, revoked, 1)
	assert.Equal(t, "u3", revoked[0].User.ID)
	assert.Equal(t, 9, *revoked[0].DaysSinceLastTrade)
}

func TestCheckLicense_DoesNotTouch(t *testing.T) {
	h := newHarness(t)
	lic := h.seed(t, "u1", "1001", 4)

	got, err := h.engine.CheckLicense(t.Context(), "u1", lic.LicenseKey)
	require.NoError(t, err)
	assert.True(t, got.LastTradeDate.Equal(*testutil.DaysAgo(h.clock, 4)))
	assert.True(t, h.latest(t, "u1").LastTradeDate.Equal(*testutil.DaysAgo(h.clock, 4)))

	h.clock.Set(testutil.Epoch.AddDate(0, 0, 3))
	_, err = h.engine.CheckLicense(t.Context(), "u1", lic.LicenseKey)
	assert.ErrorIs(t, err, domain.ErrInvalidLicense)
	assert.Equal(t, domain.LicenseRevoked, h.latest(t, "u1").Status)
}
