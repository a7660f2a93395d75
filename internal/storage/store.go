// Package storage persists users and their engagement stats through gorm.
package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"speakadora-bot/internal/models"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindOrCreateUser returns the user with the given telegram id, creating it
// together with its stats row when missing. created reports whether this
// call inserted the row.
func (s *Store) FindOrCreateUser(ctx context.Context, telegramID string, username *string) (*models.User, bool, error) {
	user, err := s.GetUserByTelegramID(ctx, telegramID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	user, err = s.insertUser(ctx, telegramID, username, nil)
	if errors.Is(err, ErrAlreadyExists) {
		// Lost a first-contact race, the winner's row is authoritative.
		user, err = s.GetUserByTelegramID(ctx, telegramID)
		return user, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// CreateReferredUser inserts a new user referred by referrerID along with its
// stats row. ErrAlreadyExists is returned when the telegram id is taken.
func (s *Store) CreateReferredUser(ctx context.Context, telegramID string, username *string, referrerID uint) (*models.User, error) {
	return s.insertUser(ctx, telegramID, username, &referrerID)
}

func (s *Store) insertUser(ctx context.Context, telegramID string, username *string, referredBy *uint) (*models.User, error) {
	user := models.User{
		TelegramID:    telegramID,
		Username:      username,
		Level:         1,
		AccountStatus: models.AccountStatusFree,
		ReferredBy:    referredBy,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "telegram_id"}},
			DoNothing: true,
		}).Create(&user)
		if res.Error != nil {
			return fmt.Errorf("failed to create user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyExists
		}

		if err := tx.Create(&models.Stats{UserID: user.ID}).Error; err != nil {
			return fmt.Errorf("failed to create stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUserByTelegramID(ctx context.Context, telegramID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", telegramID, err)
	}
	return &user, nil
}

// EnsureStats returns the stats row of a user, creating it when missing.
func (s *Store) EnsureStats(ctx context.Context, userID uint) (*models.Stats, error) {
	db := s.db.WithContext(ctx)

	var stats models.Stats
	err := db.Where("user_id = ?", userID).First(&stats).Error
	if err == nil {
		return &stats, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to get stats for user %d: %w", userID, err)
	}

	stats = models.Stats{UserID: userID}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&stats)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to create stats for user %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		if err := db.Where("user_id = ?", userID).First(&stats).Error; err != nil {
			return nil, fmt.Errorf("failed to reload stats for user %d: %w", userID, err)
		}
	}
	return &stats, nil
}

// QualifiedReferralCount counts users referred by userID whose level is at
// least minLevel.
func (s *Store) QualifiedReferralCount(ctx context.Context, userID uint, minLevel int) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("referred_by = ? AND level >= ?", userID, minLevel).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count referrals of user %d: %w", userID, err)
	}
	return count, nil
}

// PromoteToPremium moves a FREE user to PREMIUM. It reports false when the
// user was already premium, so only one caller ever observes the transition.
func (s *Store) PromoteToPremium(ctx context.Context, userID uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND account_status = ?", userID, models.AccountStatusFree).
		Update("account_status", models.AccountStatusPremium)
	if res.Error != nil {
		return false, fmt.Errorf("failed to promote user %d: %w", userID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// PremiumCandidates lists FREE users with at least threshold referrals of
// level minLevel or above.
func (s *Store) PremiumCandidates(ctx context.Context, minLevel, threshold int) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("account_status = ?", models.AccountStatusFree).
		Where("(SELECT COUNT(*) FROM users AS r WHERE r.referred_by = users.id AND r.level >= ?) >= ?", minLevel, threshold).
		Order("id").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list premium candidates: %w", err)
	}
	return users, nil
}
