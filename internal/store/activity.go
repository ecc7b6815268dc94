package store

import (
	"context"
	"fmt"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActivityStore is the day-bucketed activity ledger. Re-observing a day
// replaces the stored values with the latest ones.
type ActivityStore struct {
	db *gorm.DB
}

func NewActivityStore(db *gorm.DB) *ActivityStore {
	return &ActivityStore{db: db}
}

// Record upserts the ledger row for (user, day).
func (s *ActivityStore) Record(ctx context.Context, r domain.ActivityRecord) error {
	m := activityRecordModel{
		UserID:      r.UserID,
		Day:         r.Day,
		Broker:      string(r.Broker),
		TradeCount:  r.TradeCount,
		Volume:      r.Volume,
		HasActivity: r.HasActivity,
		ObservedAt:  r.ObservedAt.UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{"broker", "trade_count", "volume", "has_activity", "observed_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("record activity for %s on %s: %w", r.UserID, r.Day, err)
	}
	return nil
}

// ListForUser returns the user's most recent ledger rows, newest first.
func (s *ActivityStore) ListForUser(ctx context.Context, userID string, limit int) ([]domain.ActivityRecord, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("day DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []activityRecordModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list activity for %s: %w", userID, err)
	}
	res := make([]domain.ActivityRecord, 0, len(rows))
	for _, r := range rows {
		res = append(res, activityFromModel(r))
	}
	return res, nil
}

// BrokerTotals aggregates ledger rows since a given day.
type BrokerTotals struct {
	ActiveUsers int64
	Volume      float64
	TradeCount  int64
}

// TotalsSince groups ledger rows from sinceDay (inclusive) by broker.
func (s *ActivityStore) TotalsSince(ctx context.Context, sinceDay string) (map[domain.Broker]BrokerTotals, error) {
	var rows []struct {
		Broker      string
		ActiveUsers int64
		Volume      float64
		TradeCount  int64
	}
	err := s.db.WithContext(ctx).Model(&activityRecordModel{}).
		Select("broker, COUNT(DISTINCT CASE WHEN has_activity THEN user_id END) AS active_users, COALESCE(SUM(volume), 0) AS volume, COALESCE(SUM(trade_count), 0) AS trade_count").
		Where("day >= ?", sinceDay).
		Group("broker").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("activity totals: %w", err)
	}
	res := make(map[domain.Broker]BrokerTotals, len(rows))
	for _, r := range rows {
		res[domain.Broker(r.Broker)] = BrokerTotals{ActiveUsers: r.ActiveUsers, Volume: r.Volume, TradeCount: r.TradeCount}
	}
	return res, nil
}
