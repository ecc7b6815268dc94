package store

import (
	"context"
	"fmt"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"gorm.io/gorm"
)

// OrderStore holds relayed signals until the trading terminal reports back.
type OrderStore struct {
	db *gorm.DB
}

func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db}
}

// Pending returns the oldest pending orders for the user.
func (s *OrderStore) Pending(ctx context.Context, userID string, limit int) ([]domain.PendingOrder, error) {
	var rows []pendingOrderModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, domain.OrderPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	return ordersFromModels(rows), nil
}

// Complete moves a pending order to its terminal status. Orders that are
// unknown or already settled yield domain.ErrOrderNotFound.
func (s *OrderStore) Complete(ctx context.Context, report domain.ExecutionReport, at time.Time) error {
	at = at.UTC()
	res := s.db.WithContext(ctx).Model(&pendingOrderModel{}).
		Where("id = ? AND status = ?", report.OrderID, domain.OrderPending).
		Updates(map[string]any{
			"status":        string(report.Status),
			"ticket_number": report.TicketNumber,
			"executed_at":   at,
		})
	if res.Error != nil {
		return fmt.Errorf("complete order %s: %w", report.OrderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// History pages through the user's orders, newest first.
func (s *OrderStore) History(ctx context.Context, userID string, page, size int) ([]domain.PendingOrder, int64, error) {
	if page < 1 {
		page = 1
	}
	scope := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&pendingOrderModel{}).Where("user_id = ?", userID)
	}
	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	var rows []pendingOrderModel
	if err := scope().Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return ordersFromModels(rows), total, nil
}

func ordersFromModels(rows []pendingOrderModel) []domain.PendingOrder {
	res := make([]domain.PendingOrder, 0, len(rows))
	for _, r := range rows {
		res = append(res, orderFromModel(r))
	}
	return res
}
