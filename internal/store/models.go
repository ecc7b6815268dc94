package store

import (
	"time"

	"github.com/shopspring/decimal"
)

type userModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	Email         string `gorm:"size:255"`
	Broker        string `gorm:"size:32;index"`
	AccountNumber string `gorm:"size:64"`
	ReferralCode  string `gorm:"size:64"`
	CreatedAt     time.Time
}

func (userModel) TableName() string { return "users" }

type licenseModel struct {
	ID            uint      `gorm:"primaryKey"`
	UserID        string    `gorm:"size:64;not null;index:idx_licenses_user_status"`
	LicenseKey    string    `gorm:"size:64;not null;uniqueIndex"`
	Status        string    `gorm:"size:16;not null;index:idx_licenses_user_status"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
	LastTradeDate *time.Time
	RevokedAt     *time.Time
	RevokeReason  string `gorm:"size:255"`
	Version       int64  `gorm:"not null;default:1"`
}

func (licenseModel) TableName() string { return "licenses" }

type activityRecordModel struct {
	ID          uint      `gorm:"primaryKey"`
	UserID      string    `gorm:"size:64;not null;uniqueIndex:idx_activity_user_day"`
	Day         string    `gorm:"size:10;not null;uniqueIndex:idx_activity_user_day;index"`
	Broker      string    `gorm:"size:32;not null"`
	TradeCount  int64     `gorm:"not null"`
	Volume      float64   `gorm:"not null"`
	HasActivity bool      `gorm:"not null"`
	ObservedAt  time.Time `gorm:"not null"`
}

func (activityRecordModel) TableName() string { return "activity_records" }

type auditEntryModel struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"size:64;not null;index"`
	LicenseID uint      `gorm:"not null"`
	Action    string    `gorm:"size:32;not null;index"`
	Actor     string    `gorm:"size:64;not null"`
	Reason    string    `gorm:"size:255"`
	CreatedAt time.Time `gorm:"autoCreateTime:false;index"`
}

func (auditEntryModel) TableName() string { return "audit_entries" }

type notificationModel struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"size:64;not null;index:idx_notifications_user_kind"`
	Kind      string    `gorm:"size:32;not null;index:idx_notifications_user_kind"`
	Title     string    `gorm:"size:255"`
	Message   string    `gorm:"size:1024"`
	IsRead    bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime:false;index"`
}

func (notificationModel) TableName() string { return "notifications" }

type pendingOrderModel struct {
	ID           string              `gorm:"primaryKey;size:36"`
	UserID       string              `gorm:"size:64;not null;index:idx_orders_user_status"`
	LicenseID    uint                `gorm:"not null"`
	Instrument   string              `gorm:"size:32;not null"`
	Action       string              `gorm:"size:8;not null"`
	Volume       decimal.Decimal     `gorm:"type:numeric(20,8);not null"`
	Price        decimal.NullDecimal `gorm:"type:numeric(20,8)"`
	StopLoss     decimal.NullDecimal `gorm:"type:numeric(20,8)"`
	TakeProfit   decimal.NullDecimal `gorm:"type:numeric(20,8)"`
	Status       string              `gorm:"size:16;not null;index:idx_orders_user_status"`
	TicketNumber string              `gorm:"size:64"`
	CreatedAt    time.Time           `gorm:"autoCreateTime:false;index"`
	ExecutedAt   *time.Time
}

func (pendingOrderModel) TableName() string { return "pending_orders" }
