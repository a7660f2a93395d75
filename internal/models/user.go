package models

import (
	"time"
)

type AccountStatus string

const (
	AccountStatusFree    AccountStatus = "FREE"
	AccountStatusPremium AccountStatus = "PREMIUM"
)

type User struct {
	ID            uint          `gorm:"primaryKey"`
	TelegramID    string        `gorm:"size:64;uniqueIndex;not null"`
	Username      *string       `gorm:"size:255"`
	Level         int           `gorm:"not null;default:1"`
	AccountStatus AccountStatus `gorm:"size:16;not null;default:'FREE'"`
	ReferredBy    *uint         `gorm:"index"`
	Referrer      *User         `gorm:"foreignKey:ReferredBy;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	CreatedAt     time.Time
}

// DisplayName returns the stored username or the given fallback.
func (u *User) DisplayName(fallback string) string {
	if u.Username == nil || *u.Username == "" {
		return fallback
	}
	return *u.Username
}

func (u *User) IsPremium() bool {
	return u.AccountStatus == AccountStatusPremium
}
