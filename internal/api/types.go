package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"speakadora-bot/internal/models"
)

const (
	defaultProfileName = "Student"
	defaultAvatarPath  = "/static/image/student_avatar.png"
)

// externalID accepts a Telegram id sent either as a JSON string or number.
type externalID string

func (id *externalID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = externalID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("telegram id must be a string or a number")
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram id must be an integer: %s", n)
	}
	*id = externalID(strconv.FormatInt(v, 10))
	return nil
}

type createUserRequest struct {
	TelegramID externalID `json:"telegram_id"`
	Username   string     `json:"username"`
}

type trackReferralRequest struct {
	ReferrerID externalID `json:"referrer_id"`
	RefereeID  externalID `json:"referee_id"`
	Username   string     `json:"username"`
}

type userResponse struct {
	ID            uint                 `json:"id"`
	TelegramID    string               `json:"telegram_id"`
	Username      *string              `json:"username"`
	Level         int                  `json:"level"`
	AccountStatus models.AccountStatus `json:"account_status"`
}

func newUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:            u.ID,
		TelegramID:    u.TelegramID,
		Username:      u.Username,
		Level:         u.Level,
		AccountStatus: u.AccountStatus,
	}
}

type talkTime struct {
	Today  int `json:"today"`
	Weekly int `json:"weekly"`
	Total  int `json:"total"`
}

type statsResponse struct {
	TalkTime           talkTime             `json:"talk_time"`
	ListenedTime       int                  `json:"listened_time"`
	DaysEngaged        int                  `json:"days_engaged"`
	InvitedFriends     int64                `json:"invited_friends"`
	ReferralsToPremium int64                `json:"referrals_to_premium"`
	Level              int                  `json:"level"`
	AccountStatus      models.AccountStatus `json:"account_status"`
}

type profileResponse struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type referralResponse struct {
	Success       bool                 `json:"success"`
	ReferralCount int64                `json:"referral_count"`
	PremiumEarned bool                 `json:"premium_earned"`
	AccountStatus models.AccountStatus `json:"account_status"`
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
