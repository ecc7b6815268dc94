package engine

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/store"
	"go.uber.org/zap"
)

// Outcome is what an evaluation did to the license.
type Outcome string

const (
	OutcomeTouched   Outcome = "touched"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeRevoked   Outcome = "revoked"
	// OutcomeNoLicense means the user holds no active license.
	OutcomeNoLicense Outcome = "no_license"
)

// Evaluation reports a single user's check.
type Evaluation struct {
	UserID   string                 `json:"userId"`
	Outcome  Outcome                `json:"outcome"`
	Activity domain.ActivitySummary `json:"activity"`
	License  domain.License         `json:"license"`
}

// Eligible reports whether lic has gone long enough without a trade to be
// revoked. A license that never recorded a trade is eligible immediately.
func (e *Engine) Eligible(lic domain.License) bool {
	days, ok := lic.DaysSinceLastTrade(e.Now())
	return !ok || days >= e.thresholds.InactivityDays
}

// Sync observes the user's activity, records it in the ledger and touches
// the license when the account traded. It never revokes. Cached answers are
// accepted.
func (e *Engine) Sync(ctx context.Context, userID string) (Evaluation, error) {
	return e.evaluate(ctx, userID, false, false)
}

// Evaluate runs a fresh activity check and applies its result: a touch when
// the account traded, a revocation when it did not and the license is past
// the inactivity threshold.
func (e *Engine) Evaluate(ctx context.Context, userID string) (Evaluation, error) {
	return e.evaluate(ctx, userID, true, true)
}

// RecheckAndRevoke is the revoke decision for licenses past the inactivity
// threshold. Licenses that are not yet eligible are left alone without a
// provider call. A failed check never revokes.
func (e *Engine) RecheckAndRevoke(ctx context.Context, userID string) (Evaluation, error) {
	lic, err := e.licenses.GetActiveLicense(ctx, userID)
	if errors.Is(err, domain.ErrLicenseNotFound) {
		return Evaluation{UserID: userID, Outcome: OutcomeNoLicense}, nil
	}
	if err != nil {
		return Evaluation{UserID: userID}, err
	}
	if !e.Eligible(lic) {
		return Evaluation{UserID: userID, Outcome: OutcomeUnchanged, License: lic}, nil
	}
	return e.evaluate(ctx, userID, true, true)
}

func (e *Engine) evaluate(ctx context.Context, userID string, fresh, mayRevoke bool) (Evaluation, error) {
	res := Evaluation{UserID: userID, Outcome: OutcomeUnchanged}
	user, err := e.users.Get(ctx, userID)
	if err != nil {
		return res, err
	}
	lic, err := e.licenses.GetActiveLicense(ctx, userID)
	if errors.Is(err, domain.ErrLicenseNotFound) {
		res.Outcome = OutcomeNoLicense
		return res, nil
	}
	if err != nil {
		return res, err
	}
	res.License = lic

	// The provider call happens outside the user's lock; the decision below
	// re-reads the row under the lock.
	summary, err := e.activity.Activity(ctx, user, e.Window(), fresh)
	if err != nil {
		e.logger.Warn("activity check failed, license kept",
			zap.String("user_id", userID),
			zap.String("broker", string(user.Broker)),
			zap.Error(err))
		return res, fmt.Errorf("check activity for %s: %w", userID, err)
	}
	res.Activity = summary
	e.record(ctx, user, summary)

	if summary.HasActivity {
		touched, err := e.touch(ctx, userID)
		if errors.Is(err, domain.ErrLicenseNotFound) {
			res.Outcome = OutcomeNoLicense
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res.Outcome = OutcomeTouched
		res.License = touched
		return res, nil
	}
	if !mayRevoke {
		return res, nil
	}

	days, known := lic.DaysSinceLastTrade(e.Now())
	reason := "No trading activity since license creation"
	if known {
		reason = fmt.Sprintf("No trading activity for %d days", days)
	}
	updated, changed, err := e.revoke(ctx, user, domain.AuditAutoRevoke, ActorSystem, reason, e.Eligible)
	if err != nil {
		return res, err
	}
	res.License = updated
	if changed {
		res.Outcome = OutcomeRevoked
	}
	return res, nil
}

// RecordSignalActivity touches the user's active license.
func (e *Engine) RecordSignalActivity(ctx context.Context, userID string) (domain.License, error) {
	return e.touch(ctx, userID)
}

func (e *Engine) touch(ctx context.Context, userID string) (domain.License, error) {
	var touched domain.License
	err := e.withUser(ctx, userID, func() error {
		lic, err := e.licenses.Touch(ctx, userID, e.Now())
		touched = lic
		return err
	})
	return touched, err
}

// record writes the observation to today's ledger row. Ledger failures are
// logged and do not fail the check.
func (e *Engine) record(ctx context.Context, user domain.User, s domain.ActivitySummary) {
	if e.ledger == nil {
		return
	}
	now := e.Now()
	err := e.ledger.Record(ctx, domain.ActivityRecord{
		UserID:      user.ID,
		Broker:      user.Broker,
		Day:         domain.DayKey(now),
		TradeCount:  s.TradeCount,
		Volume:      s.Volume,
		HasActivity: s.HasActivity,
		ObservedAt:  now,
	})
	if err != nil {
		e.logger.Warn("recording activity ledger failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

// AcceptFunc persists an accepted signal inside the license transaction.
type AcceptFunc func(tx *store.Tx, lic domain.License) error

// AuthorizeSignal checks licenseKey against the user's active license and,
// when it matches, runs accept and touches the license in the same
// transaction. A matching license that is past the inactivity threshold is
// revoked on the spot and the signal is refused. Every refusal reads as
// domain.ErrInvalidLicense.
func (e *Engine) AuthorizeSignal(ctx context.Context, userID, licenseKey string, accept AcceptFunc) (domain.License, error) {
	return e.authorize(ctx, userID, licenseKey, accept, true)
}

// CheckLicense validates licenseKey like AuthorizeSignal, including the lazy
// revocation, but records no activity.
func (e *Engine) CheckLicense(ctx context.Context, userID, licenseKey string) (domain.License, error) {
	return e.authorize(ctx, userID, licenseKey, nil, false)
}

func (e *Engine) authorize(ctx context.Context, userID, licenseKey string, accept AcceptFunc, touch bool) (domain.License, error) {
	var (
		result  domain.License
		revoked bool
		reason  string
	)
	err := e.withUser(ctx, userID, func() error {
		revoked = false
		return e.licenses.InTx(ctx, func(tx *store.Tx) error {
			lic, err := tx.LockLicense(userID)
			if errors.Is(err, domain.ErrLicenseNotFound) {
				return domain.ErrInvalidLicense
			}
			if err != nil {
				return err
			}
			if !lic.IsActive() || subtle.ConstantTimeCompare([]byte(lic.LicenseKey), []byte(licenseKey)) != 1 {
				return domain.ErrInvalidLicense
			}
			if e.Eligible(lic) {
				days, known := lic.DaysSinceLastTrade(e.Now())
				reason = "No trading activity since license creation (signal rejected)"
				if known {
					reason = fmt.Sprintf("No trading activity for %d days (signal rejected)", days)
				}
				result, err = tx.Transition(lic, revocation(domain.AuditAutoRevoke, ActorSystem, reason))
				revoked = err == nil
				return err
			}
			if accept != nil {
				if err := accept(tx, lic); err != nil {
					return err
				}
			}
			if !touch {
				result = lic
				return nil
			}
			result, err = tx.Touch(lic, e.Now())
			return err
		})
	})
	if err != nil {
		return domain.License{}, err
	}
	if revoked {
		if user, uerr := e.users.Get(ctx, userID); uerr == nil {
			e.afterRevoke(ctx, user, result, domain.AuditAutoRevoke, reason)
		} else {
			e.metrics.Transition(string(domain.AuditAutoRevoke))
			e.logger.Warn("license lazily revoked, user lookup failed", zap.String("user_id", userID), zap.Error(uerr))
		}
		return domain.License{}, domain.ErrInvalidLicense
	}
	return result, nil
}
