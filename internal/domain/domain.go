package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Broker identifies a supported brokerage whose account activity gates a license.
type Broker string

const (
	BrokerExness      Broker = "EXNESS"
	BrokerPUPrime     Broker = "PUPRIME"
	BrokerHyperliquid Broker = "HYPERLIQUID"
)

// Brokers lists every broker the service knows how to query.
var Brokers = []Broker{BrokerExness, BrokerPUPrime, BrokerHyperliquid}

// ParseBroker resolves a broker name case-insensitively.
func ParseBroker(raw string) (Broker, bool) {
	b := Broker(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Brokers {
		if b == known {
			return b, true
		}
	}
	return "", false
}

// User is owned by the registration subsystem; the licensing core only reads it.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Broker        Broker `json:"broker"`
	AccountNumber string `json:"accountNumber"`
	ReferralCode  string `json:"referralCode"`
}

type LicenseStatus string

const (
	LicenseActive  LicenseStatus = "active"
	LicenseRevoked LicenseStatus = "revoked"
)

// License grants the right to relay signals while the linked account trades.
type License struct {
	ID            uint          `json:"id"`
	UserID        string        `json:"userId"`
	LicenseKey    string        `json:"licenseKey"`
	Status        LicenseStatus `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	LastTradeDate *time.Time    `json:"lastTradeDate,omitempty"`
	RevokedAt     *time.Time    `json:"revokedAt,omitempty"`
	RevokeReason  string        `json:"revokeReason,omitempty"`
	Version       int64         `json:"-"`
}

func (l License) IsActive() bool { return l.Status == LicenseActive }

// DaysSinceLastTrade counts whole UTC calendar days between the last trade and now.
// A license that never recorded a trade reports ok=false.
func (l License) DaysSinceLastTrade(now time.Time) (days int, ok bool) {
	if l.LastTradeDate == nil {
		return 0, false
	}
	return CalendarDaysBetween(*l.LastTradeDate, now), true
}

// CalendarDaysBetween returns the number of UTC day boundaries crossed from a to b.
func CalendarDaysBetween(a, b time.Time) int {
	da := StartOfDay(a)
	db := StartOfDay(b)
	return int(db.Sub(da).Hours() / 24)
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ActivitySummary is the broker-neutral result of an activity query.
type ActivitySummary struct {
	HasActivity   bool       `json:"hasActivity"`
	TradeCount    int64      `json:"tradeCount"`
	Volume        float64    `json:"volume"`
	LastTradeDate *time.Time `json:"lastTradeDate,omitempty"`
}

// ZeroActivity is the summary returned when nothing could be observed.
func ZeroActivity() ActivitySummary { return ActivitySummary{} }

// ActivityRecord is the per-user, per-day activity ledger entry.
type ActivityRecord struct {
	UserID      string    `json:"userId"`
	Broker      Broker    `json:"broker"`
	Day         string    `json:"day"`
	TradeCount  int64     `json:"tradeCount"`
	Volume      float64   `json:"volume"`
	HasActivity bool      `json:"hasActivity"`
	ObservedAt  time.Time `json:"observedAt"`
}

// DayKey formats the ledger bucket for t.
func DayKey(t time.Time) string { return t.UTC().Format(time.DateOnly) }

type AuditAction string

const (
	AuditAutoRevoke   AuditAction = "AUTO_REVOKE"
	AuditManualRevoke AuditAction = "MANUAL_REVOKE"
	AuditReactivate   AuditAction = "REACTIVATE"
	AuditManualIssue  AuditAction = "MANUAL_ISSUE"
)

// AuditEntry is an append-only record of a license status change.
type AuditEntry struct {
	ID        uint        `json:"id"`
	UserID    string      `json:"userId"`
	LicenseID uint        `json:"licenseId"`
	Action    AuditAction `json:"action"`
	Actor     string      `json:"actor"`
	Reason    string      `json:"reason"`
	CreatedAt time.Time   `json:"createdAt"`
}

type NotificationKind string

const (
	NotifyLicenseRevoked     NotificationKind = "license_revoked"
	NotifyLicenseReactivated NotificationKind = "license_reactivated"
	NotifyActivityWarning    NotificationKind = "activity_warning"
)

// Notification is a user-facing message queued for delivery.
type Notification struct {
	ID        uint             `json:"id"`
	UserID    string           `json:"userId"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	IsRead    bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
}

type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
)

// Signal is an inbound trading instruction relayed to the user's terminal.
type Signal struct {
	Instrument string           `json:"instrument" validate:"required"`
	Action     SignalAction     `json:"action" validate:"required,oneof=BUY SELL"`
	Volume     decimal.Decimal  `json:"volume"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	StopLoss   *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit *decimal.Decimal `json:"takeProfit,omitempty"`
}

type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderExecuted OrderStatus = "executed"
	OrderFailed   OrderStatus = "failed"
)

// PendingOrder is an accepted signal waiting to be picked up by the terminal.
type PendingOrder struct {
	ID           string           `json:"id"`
	UserID       string           `json:"userId"`
	LicenseID    uint             `json:"licenseId"`
	Instrument   string           `json:"instrument"`
	Action       SignalAction     `json:"action"`
	Volume       decimal.Decimal  `json:"volume"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	StopLoss     *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit   *decimal.Decimal `json:"takeProfit,omitempty"`
	Status       OrderStatus      `json:"status"`
	TicketNumber string           `json:"ticketNumber,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	ExecutedAt   *time.Time       `json:"executedAt,omitempty"`
}

// ExecutionReport is the terminal's feedback about a pending order.
type ExecutionReport struct {
	OrderID      string      `json:"tradeId" validate:"required"`
	Status       OrderStatus `json:"status" validate:"required,oneof=executed failed"`
	TicketNumber string      `json:"ticketNumber"`
}

type LicenseEventType string

const (
	EventLicenseCreated     LicenseEventType = "license_created"
	EventLicenseRevoked     LicenseEventType = "license_revoked"
	EventLicenseReactivated LicenseEventType = "license_reactivated"
	EventActivityWarning    LicenseEventType = "activity_warning"
)

// LicenseEvent is emitted after a committed lifecycle change.
type LicenseEvent struct {
	Type          LicenseEventType `json:"type"`
	UserID        string           `json:"userId"`
	Broker        Broker           `json:"broker"`
	AccountNumber string           `json:"accountNumber"`
	LicenseKey    string           `json:"licenseKey,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	OccurredAt    time.Time        `json:"occurredAt"`
}
