package store

import (
	"context"
	"fmt"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserStore reads users owned by the registration subsystem.
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// Get loads a user by id or returns domain.ErrUserNotFound.
func (s *UserStore) Get(ctx context.Context, id string) (domain.User, error) {
	var m userModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return domain.User{}, notFound(err, domain.ErrUserNotFound)
	}
	return userFromModel(m), nil
}

// Save inserts or refreshes a user record. Registration writes through here.
func (s *UserStore) Save(ctx context.Context, u domain.User) error {
	m := userModel{
		ID:            u.ID,
		Email:         u.Email,
		Broker:        string(u.Broker),
		AccountNumber: u.AccountNumber,
		ReferralCode:  u.ReferralCode,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "broker", "account_number", "referral_code"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return nil
}

// ListByBroker returns every user registered with the broker.
func (s *UserStore) ListByBroker(ctx context.Context, b domain.Broker) ([]domain.User, error) {
	var rows []userModel
	if err := s.db.WithContext(ctx).Where("broker = ?", b).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list users for %s: %w", b, err)
	}
	res := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		res = append(res, userFromModel(r))
	}
	return res, nil
}

// CountByBroker returns the number of registered users per broker.
func (s *UserStore) CountByBroker(ctx context.Context) (map[domain.Broker]int64, error) {
	var rows []struct {
		Broker string
		Total  int64
	}
	if err := s.db.WithContext(ctx).Model(&userModel{}).
		Select("broker, COUNT(*) AS total").
		Group("broker").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	res := make(map[domain.Broker]int64, len(rows))
	for _, r := range rows {
		res[domain.Broker(r.Broker)] = r.Total
	}
	return res, nil
}

// CountActiveLicensesByBroker returns the number of active licenses per broker.
func (s *UserStore) CountActiveLicensesByBroker(ctx context.Context) (map[domain.Broker]int64, error) {
	var rows []struct {
		Broker string
		Total  int64
	}
	if err := s.db.WithContext(ctx).Table("licenses").
		Select("users.broker AS broker, COUNT(*) AS total").
		Joins("JOIN users ON users.id = licenses.user_id").
		Where("licenses.status = ?", domain.LicenseActive).
		Group("users.broker").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count active licenses: %w", err)
	}
	res := make(map[domain.Broker]int64, len(rows))
	for _, r := range rows {
		res[domain.Broker(r.Broker)] = r.Total
	}
	return res, nil
}
