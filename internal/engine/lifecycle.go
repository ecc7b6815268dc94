package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/store"
	"go.uber.org/zap"
)

// CreateLicense issues a license after a fresh activity check confirms the
// broker account trades. When the check itself fails the license is not
// created and the error matches both domain.ErrNoVerifiedActivity and the
// upstream cause.
func (e *Engine) CreateLicense(ctx context.Context, userID string) (domain.License, error) {
	user, err := e.users.Get(ctx, userID)
	if err != nil {
		return domain.License{}, err
	}
	if _, err := e.licenses.GetActiveLicense(ctx, userID); err == nil {
		return domain.License{}, domain.ErrLicenseAlreadyActive
	} else if !errors.Is(err, domain.ErrLicenseNotFound) {
		return domain.License{}, err
	}

	summary, err := e.activity.Activity(ctx, user, e.Window(), true)
	if err != nil {
		return domain.License{}, fmt.Errorf("%w: %w", domain.ErrNoVerifiedActivity, err)
	}
	e.record(ctx, user, summary)
	if !summary.HasActivity {
		return domain.License{}, domain.ErrNoVerifiedActivity
	}

	var created domain.License
	err = e.withUser(ctx, userID, func() error {
		now := e.Now()
		lic, err := e.licenses.CreateLicense(ctx, userID, &now)
		created = lic
		return err
	})
	if err != nil {
		return domain.License{}, err
	}
	e.logger.Info("license created", zap.String("user_id", userID), zap.String("broker", string(user.Broker)))
	e.emit(ctx, licenseEvent(domain.EventLicenseCreated, user, created, "", created.CreatedAt))
	return created, nil
}

// IssueLicense creates a license on an administrator's authority, without an
// activity check. The issuance is audited as MANUAL_ISSUE.
func (e *Engine) IssueLicense(ctx context.Context, userID, actor, reason string) (domain.License, error) {
	user, err := e.users.Get(ctx, userID)
	if err != nil {
		return domain.License{}, err
	}
	var created domain.License
	err = e.withUser(ctx, userID, func() error {
		return e.licenses.InTx(ctx, func(tx *store.Tx) error {
			now := e.Now()
			lic, err := tx.CreateLicense(userID, &now)
			if err != nil {
				return err
			}
			created = lic
			return tx.AppendAudit(lic, domain.AuditManualIssue, actor, reason)
		})
	})
	if err != nil {
		return domain.License{}, err
	}
	e.metrics.Transition(string(domain.AuditManualIssue))
	e.logger.Info("license issued", zap.String("user_id", userID), zap.String("actor", actor))
	e.emit(ctx, licenseEvent(domain.EventLicenseCreated, user, created, reason, created.CreatedAt))
	return created, nil
}

// Revoke revokes the user's license unconditionally. Revoking a license that
// is already revoked changes nothing.
func (e *Engine) Revoke(ctx context.Context, userID, actor, reason string) (domain.License, error) {
	user, err := e.users.Get(ctx, userID)
	if err != nil {
		return domain.License{}, err
	}
	lic, _, err := e.revoke(ctx, user, domain.AuditManualRevoke, actor, reason, nil)
	return lic, err
}

// Reactivate restores a revoked license and restarts its inactivity clock.
// Reactivating an active license changes nothing.
func (e *Engine) Reactivate(ctx context.Context, userID, actor, reason string) (domain.License, error) {
	user, err := e.users.Get(ctx, userID)
	if err != nil {
		return domain.License{}, err
	}
	if reason == "" {
		reason = "Manual reactivation"
	}

	var (
		updated domain.License
		changed bool
	)
	err = e.withUser(ctx, userID, func() error {
		changed = false
		return e.licenses.InTx(ctx, func(tx *store.Tx) error {
			lic, err := tx.LockLicense(userID)
			if err != nil {
				return err
			}
			updated = lic
			if lic.IsActive() {
				return nil
			}
			now := e.Now()
			updated, err = tx.Transition(lic, store.Transition{
				To:            domain.LicenseActive,
				Action:        domain.AuditReactivate,
				Actor:         actor,
				Reason:        reason,
				LastTradeDate: &now,
				Notice: &domain.Notification{
					Kind:    domain.NotifyLicenseReactivated,
					Title:   "License Reactivated",
					Message: "Your trading license has been reactivated. You can now use the trading tools again.",
				},
			})
			changed = err == nil
			return err
		})
	})
	if err != nil {
		return domain.License{}, err
	}
	if changed {
		e.metrics.Transition(string(domain.AuditReactivate))
		e.logger.Info("license reactivated", zap.String("user_id", userID), zap.String("actor", actor))
		e.emit(ctx, licenseEvent(domain.EventLicenseReactivated, user, updated, reason, updated.UpdatedAt))
	}
	return updated, nil
}

// revoke moves the user's active license to revoked. guard runs against the
// locked row and may veto the change, which is how automatic revocations
// notice a touch that landed after their decision.
func (e *Engine) revoke(ctx context.Context, user domain.User, action domain.AuditAction, actor, reason string, guard func(domain.License) bool) (domain.License, bool, error) {
	var (
		updated domain.License
		changed bool
	)
	err := e.withUser(ctx, user.ID, func() error {
		changed = false
		return e.licenses.InTx(ctx, func(tx *store.Tx) error {
			lic, err := tx.LockLicense(user.ID)
			if err != nil {
				return err
			}
			updated = lic
			if !lic.IsActive() || (guard != nil && !guard(lic)) {
				return nil
			}
			updated, err = tx.Transition(lic, revocation(action, actor, reason))
			changed = err == nil
			return err
		})
	})
	if err != nil {
		return domain.License{}, false, err
	}
	if changed {
		e.afterRevoke(ctx, user, updated, action, reason)
	}
	return updated, changed, nil
}

func (e *Engine) afterRevoke(ctx context.Context, user domain.User, lic domain.License, action domain.AuditAction, reason string) {
	e.metrics.Transition(string(action))
	e.logger.Info("license revoked",
		zap.String("user_id", user.ID),
		zap.String("action", string(action)),
		zap.String("reason", reason))
	e.emit(ctx, licenseEvent(domain.EventLicenseRevoked, user, lic, reason, lic.UpdatedAt))
}

func revocation(action domain.AuditAction, actor, reason string) store.Transition {
	return store.Transition{
		To:     domain.LicenseRevoked,
		Action: action,
		Actor:  actor,
		Reason: reason,
		Notice: &domain.Notification{
			Kind:    domain.NotifyLicenseRevoked,
			Title:   "License Revoked",
			Message: "Your license has been revoked. Reason: " + reason,
		},
	}
}
