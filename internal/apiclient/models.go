package apiclient

type CreateUserRequest struct {
	TelegramID string `json:"telegram_id"`
	Username   string `json:"username,omitempty"`
}

type UserResponse struct {
	ID            uint    `json:"id"`
	TelegramID    string  `json:"telegram_id"`
	Username      *string `json:"username"`
	Level         int     `json:"level"`
	AccountStatus string  `json:"account_status"`
}

type TrackReferralRequest struct {
	ReferrerID string `json:"referrer_id"`
	RefereeID  string `json:"referee_id"`
	Username   string `json:"username,omitempty"`
}

type ReferralResponse struct {
	Success       bool   `json:"success"`
	ReferralCount int64  `json:"referral_count"`
	PremiumEarned bool   `json:"premium_earned"`
	AccountStatus string `json:"account_status"`
}

type errorResponse struct {
	Error string `json:"error"`
}
