package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"go.uber.org/zap"
)

// LicenseStatus is the user-facing view of a license.
type LicenseStatus struct {
	HasLicense         bool            `json:"hasLicense"`
	License            *domain.License `json:"license,omitempty"`
	DaysSinceLastTrade *int            `json:"daysSinceLastTrade,omitempty"`
	WillExpireIn       int             `json:"willExpireIn"`
	AtRisk             bool            `json:"atRisk"`
}

// Status describes the user's most recent license.
func (e *Engine) Status(ctx context.Context, userID string) (LicenseStatus, error) {
	lic, err := e.licenses.GetLatestLicense(ctx, userID)
	if errors.Is(err, domain.ErrLicenseNotFound) {
		return LicenseStatus{}, nil
	}
	if err != nil {
		return LicenseStatus{}, err
	}
	st := LicenseStatus{HasLicense: true, License: &lic}
	if days, ok := lic.DaysSinceLastTrade(e.Now()); ok {
		st.DaysSinceLastTrade = &days
		if lic.IsActive() {
			st.WillExpireIn = max(0, e.thresholds.InactivityDays-days)
		}
	}
	st.AtRisk = e.AtRisk(lic)
	return st, nil
}

// AtRisk reports whether an active license is at or past the warning threshold.
func (e *Engine) AtRisk(lic domain.License) bool {
	if !lic.IsActive() {
		return false
	}
	days, ok := lic.DaysSinceLastTrade(e.Now())
	return !ok || days >= e.thresholds.WarningDays
}

// UserLicense pairs a license with its owner for admin listings.
type UserLicense struct {
	User               domain.User    `json:"user"`
	License            domain.License `json:"license"`
	DaysSinceLastTrade *int           `json:"daysSinceLastTrade"`
}

// ActiveLicenses returns every active license.
func (e *Engine) ActiveLicenses(ctx context.Context) ([]domain.License, error) {
	return e.licenses.ListActive(ctx)
}

// UsersAtRisk lists active licenses at or past the warning threshold, the
// longest inactive first. Licenses that never traded lead the list.
func (e *Engine) UsersAtRisk(ctx context.Context) ([]UserLicense, error) {
	active, err := e.licenses.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]UserLicense, 0)
	for _, lic := range active {
		if !e.AtRisk(lic) {
			continue
		}
		ul, err := e.withOwner(ctx, lic)
		if err != nil {
			return nil, err
		}
		res = append(res, ul)
	}
	slices.SortStableFunc(res, func(a, b UserLicense) int {
		return cmp.Compare(inactiveRank(b), inactiveRank(a))
	})
	return res, nil
}

func inactiveRank(ul UserLicense) int {
	if ul.DaysSinceLastTrade == nil {
		return int(^uint(0) >> 1)
	}
	return *ul.DaysSinceLastTrade
}

// RevokedUsers lists the most recently revoked licenses.
func (e *Engine) RevokedUsers(ctx context.Context, limit int) ([]UserLicense, error) {
	revoked, err := e.licenses.ListRevoked(ctx, limit)
	if err != nil {
		return nil, err
	}
	res := make([]UserLicense, 0, len(revoked))
	for _, lic := range revoked {
		ul, err := e.withOwner(ctx, lic)
		if err != nil {
			return nil, err
		}
		res = append(res, ul)
	}
	return res, nil
}

func (e *Engine) withOwner(ctx context.Context, lic domain.License) (UserLicense, error) {
	u, err := e.users.Get(ctx, lic.UserID)
	if err != nil {
		return UserLicense{}, fmt.Errorf("owner of license %d: %w", lic.ID, err)
	}
	ul := UserLicense{User: u, License: lic}
	if days, ok := lic.DaysSinceLastTrade(e.Now()); ok {
		ul.DaysSinceLastTrade = &days
	}
	return ul, nil
}

// BrokerStats summarises one broker's users and recorded activity.
type BrokerStats struct {
	Broker          domain.Broker `json:"broker"`
	TotalUsers      int64         `json:"totalUsers"`
	ActiveLicenses  int64         `json:"activeLicenses"`
	ActiveLast7Days int64         `json:"activeLast7Days"`
	Volume30Days    float64       `json:"volume30Days"`
	Trades30Days    int64         `json:"trades30Days"`
}

// Stats returns per-broker totals for every known broker.
func (e *Engine) Stats(ctx context.Context) ([]BrokerStats, error) {
	users, err := e.users.CountByBroker(ctx)
	if err != nil {
		return nil, err
	}
	active, err := e.users.CountActiveLicensesByBroker(ctx)
	if err != nil {
		return nil, err
	}
	now := e.Now()
	week, err := e.ledger.TotalsSince(ctx, domain.DayKey(now.AddDate(0, 0, -7)))
	if err != nil {
		return nil, err
	}
	month, err := e.ledger.TotalsSince(ctx, domain.DayKey(now.AddDate(0, 0, -30)))
	if err != nil {
		return nil, err
	}
	res := make([]BrokerStats, 0, len(domain.Brokers))
	for _, b := range domain.Brokers {
		res = append(res, BrokerStats{
			Broker:          b,
			TotalUsers:      users[b],
			ActiveLicenses:  active[b],
			ActiveLast7Days: week[b].ActiveUsers,
			Volume30Days:    month[b].Volume,
			Trades30Days:    month[b].TradeCount,
		})
	}
	return res, nil
}

// UserActivity returns the user's latest ledger rows.
func (e *Engine) UserActivity(ctx context.Context, userID string) ([]domain.ActivityRecord, error) {
	return e.ledger.ListForUser(ctx, userID, 30)
}

// WarnIfDue queues the inactivity warning for the day the license reaches the
// warning threshold. At most one warning is queued per user per day. Licenses
// that never traded count from their creation. lic may be stale; the decision
// is made on the license as stored when the user's lock is held.
func (e *Engine) WarnIfDue(ctx context.Context, lic domain.License) (bool, error) {
	if !lic.IsActive() {
		return false, nil
	}
	now := e.Now()
	// A stored license is never older than a snapshot of it.
	if warningAge(lic, now) < e.thresholds.WarningDays {
		return false, nil
	}

	user, err := e.users.Get(ctx, lic.UserID)
	if err != nil {
		return false, err
	}
	sent := false
	days := 0
	err = e.withUser(ctx, lic.UserID, func() error {
		current, err := e.licenses.GetActiveLicense(ctx, lic.UserID)
		if errors.Is(err, domain.ErrLicenseNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		lic = current
		days = warningAge(lic, now)
		if days != e.thresholds.WarningDays {
			return nil
		}
		exists, err := e.notifications.ExistsSince(ctx, lic.UserID, domain.NotifyActivityWarning, domain.StartOfDay(now))
		if err != nil || exists {
			return err
		}
		left := e.thresholds.InactivityDays - days
		err = e.notifications.Add(ctx, lic.UserID, domain.Notification{
			Kind:    domain.NotifyActivityWarning,
			Title:   "License Expiring Soon",
			Message: fmt.Sprintf("Your license will expire in %d day(s) due to inactivity. Please start trading to keep your license active.", left),
		})
		sent = err == nil
		return err
	})
	if err != nil {
		return false, err
	}
	if sent {
		e.logger.Info("inactivity warning queued", zap.String("user_id", lic.UserID), zap.Int("days_inactive", days))
		e.emit(ctx, licenseEvent(domain.EventActivityWarning, user, lic, "", now))
	}
	return sent, nil
}

func warningAge(lic domain.License, now time.Time) int {
	ref := lic.CreatedAt
	if lic.LastTradeDate != nil {
		ref = *lic.LastTradeDate
	}
	return domain.CalendarDaysBetween(ref, now)
}
