package store

import (
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/shopspring/decimal"
)

func userFromModel(m userModel) domain.User {
	return domain.User{
		ID:            m.ID,
		Email:         m.Email,
		Broker:        domain.Broker(m.Broker),
		AccountNumber: m.AccountNumber,
		ReferralCode:  m.ReferralCode,
	}
}

func licenseFromModel(m licenseModel) domain.License {
	return domain.License{
		ID:            m.ID,
		UserID:        m.UserID,
		LicenseKey:    m.LicenseKey,
		Status:        domain.LicenseStatus(m.Status),
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
		LastTradeDate: utcPtr(m.LastTradeDate),
		RevokedAt:     utcPtr(m.RevokedAt),
		RevokeReason:  m.RevokeReason,
		Version:       m.Version,
	}
}

func activityFromModel(m activityRecordModel) domain.ActivityRecord {
	return domain.ActivityRecord{
		UserID:      m.UserID,
		Broker:      domain.Broker(m.Broker),
		Day:         m.Day,
		TradeCount:  m.TradeCount,
		Volume:      m.Volume,
		HasActivity: m.HasActivity,
		ObservedAt:  m.ObservedAt.UTC(),
	}
}

func auditFromModel(m auditEntryModel) domain.AuditEntry {
	return domain.AuditEntry{
		ID:        m.ID,
		UserID:    m.UserID,
		LicenseID: m.LicenseID,
		Action:    domain.AuditAction(m.Action),
		Actor:     m.Actor,
		Reason:    m.Reason,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func notificationFromModel(m notificationModel) domain.Notification {
	return domain.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		Kind:      domain.NotificationKind(m.Kind),
		Title:     m.Title,
		Message:   m.Message,
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func orderToModel(o domain.PendingOrder) pendingOrderModel {
	return pendingOrderModel{
		ID:           o.ID,
		UserID:       o.UserID,
		LicenseID:    o.LicenseID,
		Instrument:   o.Instrument,
		Action:       string(o.Action),
		Volume:       o.Volume,
		Price:        nullDecimal(o.Price),
		StopLoss:     nullDecimal(o.StopLoss),
		TakeProfit:   nullDecimal(o.TakeProfit),
		Status:       string(o.Status),
		TicketNumber: o.TicketNumber,
		CreatedAt:    o.CreatedAt,
		ExecutedAt:   o.ExecutedAt,
	}
}

func orderFromModel(m pendingOrderModel) domain.PendingOrder {
	return domain.PendingOrder{
		ID:           m.ID,
		UserID:       m.UserID,
		LicenseID:    m.LicenseID,
		Instrument:   m.Instrument,
		Action:       domain.SignalAction(m.Action),
		Volume:       m.Volume,
		Price:        decimalPtr(m.Price),
		StopLoss:     decimalPtr(m.StopLoss),
		TakeProfit:   decimalPtr(m.TakeProfit),
		Status:       domain.OrderStatus(m.Status),
		TicketNumber: m.TicketNumber,
		CreatedAt:    m.CreatedAt.UTC(),
		ExecutedAt:   utcPtr(m.ExecutedAt),
	}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
