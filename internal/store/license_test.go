package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/store"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLicenseStore_CreateLicense(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(t)
	testutil.SeedUser(t, db, "u1", domain.BrokerExness, "1001")
	licenses := store.NewLicenseStore(db, clock)
	ctx := context.Background()

	lic, err := licenses.CreateLicense(ctx, "u1", testutil.DaysAgo(clock, 1))
	require.NoError(t, err)
	assert.Len(t, lic.LicenseKey, 64)
	assert.Equal(t, domain.LicenseActive, lic.Status)
	require.NotNil(t, lic.LastTradeDate)

	_, err = licenses.CreateLicense(ctx, "u1", nil)
	assert.ErrorIs(t, err, domain.ErrLicenseAlreadyActive)

	_, err = licenses.CreateLicense(ctx, "ghost", nil)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	got, err := licenses.GetActiveLicense(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, lic.LicenseKey, got.LicenseKey)
}

func TestLicenseStore_KeysAreNeverReused(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(t)
	testutil.SeedUser(t, db, "u1", domain.BrokerExness, "1001")
	licenses := store.NewLicenseStore(db, clock)
	ctx := context.Background()

	first, err := licenses.CreateLicense(ctx, "u1", nil)
	require.NoError(t, err)
	_, err = licenses.SetStatus(ctx, "u1", store.Transition{To: domain.LicenseRevoked, Action: domain.AuditManualRevoke, Actor: "admin"})
	require.NoError(t, err)

	second, err := licenses.CreateLicense(ctx, "u1", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.LicenseKey, second.LicenseKey)

	revoked, err := licenses.ListRevoked(ctx, 10)
	require.NoError(t, err)
	require.Len(t, revoked, 1)
	assert.Equal(t, first.LicenseKey, revoked[0].LicenseKey)
}

func TestLicenseStore_TouchIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(t)
	testutil.SeedUser(t, db, "u1", domain.BrokerExness, "1001")
	licenses := store.NewLicenseStore(db, clock)
	ctx := context.Background()

	_, err := licenses.CreateLicense(ctx, "u1", testutil.DaysAgo(clock, 3))
	require.NoError(t, err)

	now := clock.Now()
	once, err := licenses.Touch(ctx, "u1", now)
	require.NoError(t, err)
	twice, err := licenses.Touch(ctx, "u1", now)
	require.NoError(t, err)

	assert.True(t, once.LastTradeDate.Equal(*twice.LastTradeDate))
	assert.Equal(t, once.Status, twice.Status)

	// An older observation never moves the date backwards.
	older, err := licenses.Touch(ctx, "u1", now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.True(t, older.LastTradeDate.Equal(now))

	audit, err := store.NewNotificationStore(db, clock).ListAudit(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestLicenseStore_TouchRequiresActiveLicense(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(t)
	testutil.SeedUser(t, db, "u1", domain.BrokerExness, "1001")
	licenses := store.NewLicenseStore(db, clock)
	ctx := context.Background()

	_, err := licenses.Touch(ctx, "u1", clock.Now())
	assert.ErrorIs(t, err, domain.ErrLicenseNotFound)

	_, err = licenses.CreateLicense(ctx, "u1", nil)
	require.NoError(t, err)
	_, err = licenses.SetStatus(ctx, "u1", store.Transition{To: domain.LicenseRevoked, Action: domain.AuditManualRevoke, Actor: "admin"})
	require.NoError(t, err)

	_, err = licenses.Touch(ctx, "u1", clock.Now())
	assert.ErrorIs(t, err, domain.ErrLicenseNotFound)
}

func TestLicenseStore_TransitionWritesAuditAndNotification(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(t)
	testutil.SeedUser(t, db, "u1", domain.BrokerExness, "1001")
	licenses := store.NewLicenseStore(db, clock)
	notes := store.NewNotificationStore(db, clock)
	ctx := context.Background()

	_, err := licenses.CreateLicense(ctx, "u1", nil)
	require.NoError(t, err)

	revoked, err := licenses.SetStatus(ctx, "u1", store.Transition{
		To:     domain.LicenseRevoked,
		Action: domain.AuditAutoRevoke,
		Actor:  "system",
		Reason: "inactive",
		Notice: &domain.Notification{Kind: domain.NotifyLicenseRevoked, Title: "License Expired"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseRevoked, revoked.Status)
	require.NotNil(t, revoked.RevokedAt)
	assert.Equal(t, "inactive", revoked.RevokeReason)

	audit, err := notes.ListAudit(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, domain.AuditAutoRevoke, audit[0].Action)

	list, err := notes.ListForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.NotifyLicenseRevoked, list[0].Kind)
}

func TestLicenseStore_StaleVersionConflicts(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(t)
	testutil.SeedUser(t, db, "u1", domain.BrokerExness, "1001")
	licenses := store.NewLicenseStore(db, clock)
	ctx := context.Background()

	stale, err := licenses.CreateLicense(ctx, "u1", nil)
	require.NoError(t, err)
	_, err = licenses.Touch(ctx, "u1", clock.Now())
	require.NoError(t, err)

	err = licenses.InTx(ctx, func(tx *store.Tx) error {
		_, err := tx.Transition(stale, store.Transition{To: domain.LicenseRevoked, Action: domain.AuditAutoRevoke, Actor: "system"})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	current, err := licenses.GetActiveLicense(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseActive, current.Status)
}

func TestLicenseStore_CountByStatus(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(t)
	licenses := store.NewLicenseStore(db, clock)
	ctx := context.Background()
	for _, id := range []string{"u1", "u2", "u3"} {
		testutil.SeedUser(t, db, id, domain.BrokerPUPrime, "acc-"+id)
		_, err := licenses.CreateLicense(ctx, id, nil)
		require.NoError(t, err)
	}
	_, err := licenses.SetStatus(ctx, "u2", store.Transition{To: domain.LicenseRevoked, Action: domain.AuditManualRevoke, Actor: "admin"})
	require.NoError(t, err)

	counts, err := licenses.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[domain.LicenseActive])
	assert.Equal(t, int64(1), counts[domain.LicenseRevoked])

	byBroker, err := store.NewUserStore(db).CountActiveLicensesByBroker(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), byBroker[domain.BrokerPUPrime])
}
