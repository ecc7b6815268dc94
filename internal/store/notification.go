package store

import (
	"context"
	"fmt"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/coder/quartz"
	"gorm.io/gorm"
)

// NotificationStore reads and appends notifications and audit entries.
type NotificationStore struct {
	db    *gorm.DB
	clock quartz.Clock
}

func NewNotificationStore(db *gorm.DB, clock quartz.Clock) *NotificationStore {
	return &NotificationStore{db: db, clock: clock}
}

// Add queues a notification outside of any license transition.
func (s *NotificationStore) Add(ctx context.Context, userID string, n domain.Notification) error {
	m := notificationModel{
		UserID:    userID,
		Kind:      string(n.Kind),
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ExistsSince reports whether a notification of kind was queued for the user at or after since.
func (s *NotificationStore) ExistsSince(ctx context.Context, userID string, kind domain.NotificationKind, since time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&notificationModel{}).
		Where("user_id = ? AND kind = ? AND created_at >= ?", userID, kind, since.UTC()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("lookup %s notification: %w", kind, err)
	}
	return count > 0, nil
}

// ListForUser returns the user's notifications, newest first.
func (s *NotificationStore) ListForUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	var rows []notificationModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	res := make([]domain.Notification, 0, len(rows))
	for _, r := range rows {
		res = append(res, notificationFromModel(r))
	}
	return res, nil
}

// MarkRead flags the user's notification as read.
func (s *NotificationStore) MarkRead(ctx context.Context, userID string, id uint) error {
	res := s.db.WithContext(ctx).Model(&notificationModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return fmt.Errorf("mark notification read: %w", res.Error)
	}
	return nil
}

// ListAudit returns the user's audit trail in insertion order.
func (s *NotificationStore) ListAudit(ctx context.Context, userID string) ([]domain.AuditEntry, error) {
	var rows []auditEntryModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	res := make([]domain.AuditEntry, 0, len(rows))
	for _, r := range rows {
		res = append(res, auditFromModel(r))
	}
	return res, nil
}
