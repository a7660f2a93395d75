// Package referral implements the referral reward program: registering
// referred users and promoting referrers to the premium tier.
package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"speakadora-bot/internal/metrics"
	"speakadora-bot/internal/models"
	"speakadora-bot/internal/storage"
)

var ErrReferrerNotFound = errors.New("referrer not found")

// RefereeExistsError rejects a referral for a user that is already registered.
type RefereeExistsError struct {
	AlreadyReferred bool
	ReferralCount   int64
}

func (e *RefereeExistsError) Error() string {
	if e.AlreadyReferred {
		return "User already registered through another referral"
	}
	return "User already registered"
}

type Store interface {
	GetUserByTelegramID(ctx context.Context, telegramID string) (*models.User, error)
	CreateReferredUser(ctx context.Context, telegramID string, username *string, referrerID uint) (*models.User, error)
	QualifiedReferralCount(ctx context.Context, userID uint, minLevel int) (int64, error)
	PromoteToPremium(ctx context.Context, userID uint) (bool, error)
	PremiumCandidates(ctx context.Context, minLevel, threshold int) ([]models.User, error)
}

type Service struct {
	store          Store
	log            logrus.FieldLogger
	threshold      int
	qualifiedLevel int
}

func NewService(store Store, log logrus.FieldLogger, threshold, qualifiedLevel int) *Service {
	return &Service{
		store:          store,
		log:            log,
		threshold:      threshold,
		qualifiedLevel: qualifiedLevel,
	}
}

// Result describes the referrer after a referral was tracked.
type Result struct {
	Referrer      *models.User
	ReferralCount int64
	// PremiumEarned is true only for the call that moved the referrer to PREMIUM.
	PremiumEarned bool
}

func (s *Service) Threshold() int {
	return s.threshold
}

// QualifiedCount returns how many of the user's referrals reached the
// qualifying level.
func (s *Service) QualifiedCount(ctx context.Context, user *models.User) (int64, error) {
	return s.store.QualifiedReferralCount(ctx, user.ID, s.qualifiedLevel)
}

// Track registers refereeID as a new user referred by referrerID.
func (s *Service) Track(ctx context.Context, referrerID, refereeID string, username *string) (*Result, error) {
	if err := s.rejectExisting(ctx, refereeID); err != nil {
		metrics.RecordReferral("rejected")
		return nil, err
	}

	referrer, err := s.store.GetUserByTelegramID(ctx, referrerID)
	if errors.Is(err, storage.ErrNotFound) {
		metrics.RecordReferral("referrer_not_found")
		return nil, ErrReferrerNotFound
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.store.CreateReferredUser(ctx, refereeID, username, referrer.ID); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			metrics.RecordReferral("rejected")
			if rejectErr := s.rejectExisting(ctx, refereeID); rejectErr != nil {
				return nil, rejectErr
			}
		}
		return nil, fmt.Errorf("failed to register referral: %w", err)
	}

	count, err := s.QualifiedCount(ctx, referrer)
	if err != nil {
		return nil, err
	}

	result := &Result{Referrer: referrer, ReferralCount: count}
	if count >= int64(s.threshold) {
		promoted, err := s.store.PromoteToPremium(ctx, referrer.ID)
		if err != nil {
			return nil, err
		}
		if promoted {
			metrics.RecordPromotion("referral")
			s.log.WithFields(logrus.Fields{
				"telegram_id":    referrer.TelegramID,
				"referral_count": count,
			}).Info("Referrer promoted to premium")
		}
		result.PremiumEarned = promoted
		referrer.AccountStatus = models.AccountStatusPremium
	}

	metrics.RecordReferral("registered")
	s.log.WithFields(logrus.Fields{
		"referrer": referrerID,
		"referee":  refereeID,
	}).Info("Referral registered")

	return result, nil
}

func (s *Service) rejectExisting(ctx context.Context, refereeID string) error {
	existing, err := s.store.GetUserByTelegramID(ctx, refereeID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	count, err := s.QualifiedCount(ctx, existing)
	if err != nil {
		return err
	}
	return &RefereeExistsError{
		AlreadyReferred: existing.ReferredBy != nil,
		ReferralCount:   count,
	}
}

// PromoteEligible promotes every FREE user that crossed the threshold since
// the last referral call and returns the users it promoted.
func (s *Service) PromoteEligible(ctx context.Context) ([]models.User, error) {
	candidates, err := s.store.PremiumCandidates(ctx, s.qualifiedLevel, s.threshold)
	if err != nil {
		return nil, err
	}

	var promoted []models.User
	for _, user := range candidates {
		ok, err := s.store.PromoteToPremium(ctx, user.ID)
		if err != nil {
			s.log.WithError(err).WithField("telegram_id", user.TelegramID).Error("Failed to promote user")
			continue
		}
		if !ok {
			continue
		}
		metrics.RecordPromotion("sweep")
		user.AccountStatus = models.AccountStatusPremium
		promoted = append(promoted, user)
	}
	return promoted, nil
}
