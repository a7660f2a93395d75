package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"speakadora-bot/internal/models"
	"speakadora-bot/internal/referral"
)

type UserStore interface {
	FindOrCreateUser(ctx context.Context, telegramID string, username *string) (*models.User, bool, error)
	EnsureStats(ctx context.Context, userID uint) (*models.Stats, error)
}

type ReferralService interface {
	Track(ctx context.Context, referrerID, refereeID string, username *string) (*referral.Result, error)
	QualifiedCount(ctx context.Context, user *models.User) (int64, error)
	Threshold() int
}

// handleCreateUser returns the user for a telegram id, creating it on first
// contact.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TelegramID == "" {
		writeError(w, http.StatusBadRequest, "telegram_id is required", nil)
		return
	}

	user, created, err := s.users.FindOrCreateUser(r.Context(), string(req.TelegramID), optionalString(req.Username))
	if err != nil {
		s.internalError(w, r, err, "failed to create user")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.requestLog(r).WithField("telegram_id", user.TelegramID).Info("User created")
	}
	writeJSON(w, status, newUserResponse(user))
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userFromQuery(w, r)
	if !ok {
		return
	}

	stats, err := s.users.EnsureStats(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, r, err, "failed to load stats")
		return
	}

	invited, err := s.referrals.QualifiedCount(r.Context(), user)
	if err != nil {
		s.internalError(w, r, err, "failed to count referrals")
		return
	}

	var remaining int64
	if !user.IsPremium() {
		remaining = int64(s.referrals.Threshold()) - invited
		if remaining < 0 {
			remaining = 0
		}
	}

	writeJSON(w, http.StatusOK, statsResponse{
		TalkTime: talkTime{
			Today:  stats.TalkTimeToday,
			Weekly: stats.TalkTimeWeekly,
			Total:  stats.TalkTimeTotal,
		},
		ListenedTime:       stats.ListenedTime,
		DaysEngaged:        stats.DaysEngaged,
		InvitedFriends:     invited,
		ReferralsToPremium: remaining,
		Level:              user.Level,
		AccountStatus:      user.AccountStatus,
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userFromQuery(w, r)
	if !ok {
		return
	}

	// Keep every user paired with a stats row even though the profile does
	// not show it.
	if _, err := s.users.EnsureStats(r.Context(), user.ID); err != nil {
		s.internalError(w, r, err, "failed to load stats")
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		Name:   user.DisplayName(defaultProfileName),
		Avatar: defaultAvatarPath,
	})
}

func (s *Server) handleTrackReferral(w http.ResponseWriter, r *http.Request) {
	var req trackReferralRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ReferrerID == "" || req.RefereeID == "" {
		writeError(w, http.StatusBadRequest, "Both referrer_id and referee_id are required", nil)
		return
	}

	result, err := s.referrals.Track(r.Context(), string(req.ReferrerID), string(req.RefereeID), optionalString(req.Username))
	if err != nil {
		var exists *referral.RefereeExistsError
		switch {
		case errors.As(err, &exists):
			writeError(w, http.StatusBadRequest, exists.Error(), map[string]interface{}{
				"referral_count": exists.ReferralCount,
			})
		case errors.Is(err, referral.ErrReferrerNotFound):
			writeError(w, http.StatusNotFound, "Referrer not found", nil)
		default:
			s.internalError(w, r, err, "failed to track referral")
		}
		return
	}

	writeJSON(w, http.StatusOK, referralResponse{
		Success:       true,
		ReferralCount: result.ReferralCount,
		PremiumEarned: result.PremiumEarned,
		AccountStatus: result.Referrer.AccountStatus,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// userFromQuery resolves ?telegram_id=, creating the user on first contact.
func (s *Server) userFromQuery(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	telegramID := strings.TrimSpace(r.URL.Query().Get("telegram_id"))
	if telegramID == "" {
		writeError(w, http.StatusBadRequest, "telegram_id is required", nil)
		return nil, false
	}

	user, _, err := s.users.FindOrCreateUser(r.Context(), telegramID, nil)
	if err != nil {
		s.internalError(w, r, err, "failed to load user")
		return nil, false
	}
	return user, true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	s.requestLog(r).WithError(err).Error(msg)
	writeError(w, http.StatusInternalServerError, "internal server error", nil)
}

func (s *Server) requestLog(r *http.Request) *logrus.Entry {
	return s.log.WithFields(logrus.Fields{
		"request_id": RequestIDFromContext(r.Context()),
		"path":       r.URL.Path,
	})
}
