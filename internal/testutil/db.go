// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/config"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/store"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Epoch is the wall time mock clocks start from in tests.
var Epoch = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// NewDB opens an isolated in-memory SQLite database with the schema applied.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := store.Open(config.Config{DatabaseDriver: "sqlite", DatabaseDSN: dsn})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	t.Cleanup(func() { _ = store.Close(db) })
	return db
}

// NewClock returns a mock clock set to Epoch.
func NewClock(t testing.TB) *quartz.Mock {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(Epoch)
	return clock
}

// SeedUser stores a user registered with the given broker account.
func SeedUser(t testing.TB, db *gorm.DB, id string, b domain.Broker, account string) domain.User {
	t.Helper()
	u := domain.User{ID: id, Email: id + "@example.com", Broker: b, AccountNumber: account, ReferralCode: "REF-" + id}
	require.NoError(t, store.NewUserStore(db).Save(t.Context(), u))
	return u
}

// DaysAgo returns a pointer to the time n days before the clock's now.
func DaysAgo(clock quartz.Clock, n int) *time.Time {
	v := clock.Now().UTC().AddDate(0, 0, -n)
	return &v
}
