package store

import (
	"context"
	"fmt"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"gorm.io/gorm"
)

// RetentionPolicy holds the maximum age of each purgeable record kind.
type RetentionPolicy struct {
	ActivityRecords   time.Duration
	ReadNotifications time.Duration
	AuditEntries      time.Duration
}

// PurgeResult counts rows removed per table.
type PurgeResult struct {
	ActivityRecords int64
	Notifications   int64
	AuditEntries    int64
}

// Purger deletes ledger, notification and audit rows past their retention.
// Licenses are never deleted.
type Purger struct {
	db *gorm.DB
}

func NewPurger(db *gorm.DB) *Purger {
	return &Purger{db: db}
}

// Purge removes expired rows relative to now. Unread notifications are kept.
func (p *Purger) Purge(ctx context.Context, now time.Time, policy RetentionPolicy) (PurgeResult, error) {
	var out PurgeResult
	db := p.db.WithContext(ctx)

	cutoffDay := domain.DayKey(now.Add(-policy.ActivityRecords))
	res := db.Where("day < ?", cutoffDay).Delete(&activityRecordModel{})
	if res.Error != nil {
		return out, fmt.Errorf("purge activity records: %w", res.Error)
	}
	out.ActivityRecords = res.RowsAffected

	res = db.Where("is_read = ? AND created_at < ?", true, now.Add(-policy.ReadNotifications).UTC()).Delete(&notificationModel{})
	if res.Error != nil {
		return out, fmt.Errorf("purge notifications: %w", res.Error)
	}
	out.Notifications = res.RowsAffected

	res = db.Where("created_at < ?", now.Add(-policy.AuditEntries).UTC()).Delete(&auditEntryModel{})
	if res.Error != nil {
		return out, fmt.Errorf("purge audit entries: %w", res.Error)
	}
	out.AuditEntries = res.RowsAffected
	return out, nil
}
