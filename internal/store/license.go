package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/coder/quartz"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LicenseStore persists licenses together with the audit and notification
// rows that accompany every status change.
type LicenseStore struct {
	db    *gorm.DB
	clock quartz.Clock
}

func NewLicenseStore(db *gorm.DB, clock quartz.Clock) *LicenseStore {
	return &LicenseStore{db: db, clock: clock}
}

// Transition describes a status change and the records written with it.
type Transition struct {
	To     domain.LicenseStatus
	Action domain.AuditAction
	Actor  string
	Reason string
	Notice *domain.Notification
	// LastTradeDate replaces the stored value when set.
	LastTradeDate *time.Time
}

// Tx exposes the license operations that must share one database transaction.
type Tx struct {
	db    *gorm.DB
	clock quartz.Clock
}

// InTx runs fn inside a database transaction.
func (s *LicenseStore) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&Tx{db: db, clock: s.clock})
	})
}

// GetActiveLicense returns the user's active license or domain.ErrLicenseNotFound.
func (s *LicenseStore) GetActiveLicense(ctx context.Context, userID string) (domain.License, error) {
	var m licenseModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, domain.LicenseActive).
		Order("id DESC").
		First(&m).Error
	if err != nil {
		return domain.License{}, notFound(err, domain.ErrLicenseNotFound)
	}
	return licenseFromModel(m), nil
}

// GetLatestLicense returns the most recently created license regardless of status.
func (s *LicenseStore) GetLatestLicense(ctx context.Context, userID string) (domain.License, error) {
	var m licenseModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		First(&m).Error
	if err != nil {
		return domain.License{}, notFound(err, domain.ErrLicenseNotFound)
	}
	return licenseFromModel(m), nil
}

// CreateLicense issues a new active license with a fresh key.
// It fails with domain.ErrLicenseAlreadyActive when the user already holds one.
func (s *LicenseStore) CreateLicense(ctx context.Context, userID string, lastTradeDate *time.Time) (domain.License, error) {
	var created domain.License
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		created, err = tx.CreateLicense(userID, lastTradeDate)
		return err
	})
	return created, err
}

// Touch records a trade observation on the user's active license.
func (s *LicenseStore) Touch(ctx context.Context, userID string, at time.Time) (domain.License, error) {
	var touched domain.License
	err := s.InTx(ctx, func(tx *Tx) error {
		lic, err := tx.LockLicense(userID)
		if err != nil {
			return err
		}
		if !lic.IsActive() {
			return domain.ErrLicenseNotFound
		}
		touched, err = tx.Touch(lic, at)
		return err
	})
	return touched, err
}

// SetStatus applies a transition to the user's latest license in its own transaction.
func (s *LicenseStore) SetStatus(ctx context.Context, userID string, t Transition) (domain.License, error) {
	var updated domain.License
	err := s.InTx(ctx, func(tx *Tx) error {
		lic, err := tx.LockLicense(userID)
		if err != nil {
			return err
		}
		updated, err = tx.Transition(lic, t)
		return err
	})
	return updated, err
}

// ListActive returns every active license ordered by id.
func (s *LicenseStore) ListActive(ctx context.Context) ([]domain.License, error) {
	return s.list(ctx, domain.LicenseActive, 0)
}

// ListRevoked returns the most recently revoked licenses, newest first.
func (s *LicenseStore) ListRevoked(ctx context.Context, limit int) ([]domain.License, error) {
	return s.list(ctx, domain.LicenseRevoked, limit)
}

func (s *LicenseStore) list(ctx context.Context, status domain.LicenseStatus, limit int) ([]domain.License, error) {
	q := s.db.WithContext(ctx).Where("status = ?", status)
	if status == domain.LicenseRevoked {
		q = q.Order("revoked_at DESC").Order("id DESC")
	} else {
		q = q.Order("id ASC")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []licenseModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list %s licenses: %w", status, err)
	}
	res := make([]domain.License, 0, len(rows))
	for _, r := range rows {
		res = append(res, licenseFromModel(r))
	}
	return res, nil
}

// CountByStatus returns the number of licenses per status.
func (s *LicenseStore) CountByStatus(ctx context.Context) (map[domain.LicenseStatus]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	if err := s.db.WithContext(ctx).Model(&licenseModel{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count licenses: %w", err)
	}
	res := make(map[domain.LicenseStatus]int64, len(rows))
	for _, r := range rows {
		res[domain.LicenseStatus(r.Status)] = r.Total
	}
	return res, nil
}

// CreateLicense inserts an active license for the user. The owning user row
// is locked first so concurrent creations for the same user queue up.
func (tx *Tx) CreateLicense(userID string, lastTradeDate *time.Time) (domain.License, error) {
	var u userModel
	if err := tx.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID).
		First(&u).Error; err != nil {
		return domain.License{}, notFound(err, domain.ErrUserNotFound)
	}

	var count int64
	if err := tx.db.Model(&licenseModel{}).
		Where("user_id = ? AND status = ?", userID, domain.LicenseActive).
		Count(&count).Error; err != nil {
		return domain.License{}, fmt.Errorf("count active licenses: %w", err)
	}
	if count > 0 {
		return domain.License{}, domain.ErrLicenseAlreadyActive
	}

	key, err := newLicenseKey()
	if err != nil {
		return domain.License{}, err
	}
	now := tx.clock.Now().UTC()
	m := licenseModel{
		UserID:        userID,
		LicenseKey:    key,
		Status:        string(domain.LicenseActive),
		CreatedAt:     now,
		UpdatedAt:     now,
		LastTradeDate: utcPtr(lastTradeDate),
		Version:       1,
	}
	if err := tx.db.Create(&m).Error; err != nil {
		return domain.License{}, fmt.Errorf("insert license: %w", err)
	}
	return licenseFromModel(m), nil
}

// LockLicense loads the user's latest license and holds a row lock on it until
// the transaction ends.
func (tx *Tx) LockLicense(userID string) (domain.License, error) {
	var m licenseModel
	err := tx.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Order("id DESC").
		First(&m).Error
	if err != nil {
		return domain.License{}, notFound(err, domain.ErrLicenseNotFound)
	}
	return licenseFromModel(m), nil
}

// Touch moves the license's last trade date forward to at. Older observations
// leave the license untouched, which keeps repeated touches idempotent.
func (tx *Tx) Touch(lic domain.License, at time.Time) (domain.License, error) {
	if !lic.IsActive() {
		return lic, domain.ErrLicenseNotFound
	}
	at = at.UTC()
	if lic.LastTradeDate != nil && !at.After(*lic.LastTradeDate) {
		return lic, nil
	}
	now := tx.clock.Now().UTC()
	res := tx.db.Model(&licenseModel{}).
		Where("id = ? AND version = ? AND status = ?", lic.ID, lic.Version, domain.LicenseActive).
		Updates(map[string]any{
			"last_trade_date": at,
			"updated_at":      now,
			"version":         gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return lic, fmt.Errorf("touch license: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return lic, domain.ErrConcurrencyConflict
	}
	lic.LastTradeDate = &at
	lic.UpdatedAt = now
	lic.Version++
	return lic, nil
}

// Transition changes the license status and appends the matching audit entry
// and notification. The caller must hold the row lock from LockLicense.
func (tx *Tx) Transition(lic domain.License, t Transition) (domain.License, error) {
	now := tx.clock.Now().UTC()
	updates := map[string]any{
		"status":     string(t.To),
		"updated_at": now,
		"version":    gorm.Expr("version + 1"),
	}
	switch t.To {
	case domain.LicenseRevoked:
		updates["revoked_at"] = now
		updates["revoke_reason"] = t.Reason
		lic.RevokedAt = &now
		lic.RevokeReason = t.Reason
	case domain.LicenseActive:
		updates["revoked_at"] = nil
		updates["revoke_reason"] = ""
		lic.RevokedAt = nil
		lic.RevokeReason = ""
	default:
		return lic, fmt.Errorf("unknown license status %q", t.To)
	}
	if t.LastTradeDate != nil {
		ltd := t.LastTradeDate.UTC()
		updates["last_trade_date"] = ltd
		lic.LastTradeDate = &ltd
	}

	res := tx.db.Model(&licenseModel{}).
		Where("id = ? AND version = ?", lic.ID, lic.Version).
		Updates(updates)
	if res.Error != nil {
		return lic, fmt.Errorf("update license status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return lic, domain.ErrConcurrencyConflict
	}

	audit := auditEntryModel{
		UserID:    lic.UserID,
		LicenseID: lic.ID,
		Action:    string(t.Action),
		Actor:     t.Actor,
		Reason:    t.Reason,
		CreatedAt: now,
	}
	if err := tx.db.Create(&audit).Error; err != nil {
		return lic, fmt.Errorf("insert audit entry: %w", err)
	}
	if t.Notice != nil {
		if err := tx.AddNotification(lic.UserID, *t.Notice); err != nil {
			return lic, err
		}
	}

	lic.Status = t.To
	lic.UpdatedAt = now
	lic.Version++
	return lic, nil
}

// AppendAudit records an audit entry without changing the license.
func (tx *Tx) AppendAudit(lic domain.License, action domain.AuditAction, actor, reason string) error {
	audit := auditEntryModel{
		UserID:    lic.UserID,
		LicenseID: lic.ID,
		Action:    string(action),
		Actor:     actor,
		Reason:    reason,
		CreatedAt: tx.clock.Now().UTC(),
	}
	if err := tx.db.Create(&audit).Error; err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AddNotification queues a notification for the user.
func (tx *Tx) AddNotification(userID string, n domain.Notification) error {
	m := notificationModel{
		UserID:    userID,
		Kind:      string(n.Kind),
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: tx.clock.Now().UTC(),
	}
	if err := tx.db.Create(&m).Error; err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// InsertOrder persists an accepted signal as a pending order.
func (tx *Tx) InsertOrder(o domain.PendingOrder) error {
	m := orderToModel(o)
	if err := tx.db.Create(&m).Error; err != nil {
		return fmt.Errorf("insert pending order: %w", err)
	}
	return nil
}

func newLicenseKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate license key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
