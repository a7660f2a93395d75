package models

// Stats holds the engagement counters of a single user.
type Stats struct {
	ID             uint  `gorm:"primaryKey"`
	UserID         uint  `gorm:"uniqueIndex;not null"`
	User           *User `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	TalkTimeToday  int   `gorm:"not null;default:0"`
	TalkTimeWeekly int   `gorm:"not null;default:0"`
	TalkTimeTotal  int   `gorm:"not null;default:0"`
	ListenedTime   int   `gorm:"not null;default:0"`
	DaysEngaged    int   `gorm:"not null;default:0"`
}

func (Stats) TableName() string {
	return "stats"
}
