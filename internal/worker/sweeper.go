package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"speakadora-bot/internal/models"
)

type Promoter interface {
	PromoteEligible(ctx context.Context) ([]models.User, error)
}

type Notifier interface {
	NotifyPremium(ctx context.Context, telegramID string) error
}

// Sweeper promotes referrers whose referrals reached the qualifying level
// after the referral itself was tracked.
type Sweeper struct {
	promoter Promoter
	notifier Notifier
	interval time.Duration
	log      logrus.FieldLogger
}

// NewSweeper builds a sweeper. notifier may be nil, in which case promoted
// users are not messaged.
func NewSweeper(promoter Promoter, notifier Notifier, interval time.Duration, log logrus.FieldLogger) *Sweeper {
	return &Sweeper{
		promoter: promoter,
		notifier: notifier,
		interval: interval,
		log:      log,
	}
}

// Start runs one sweep immediately and then every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.WithField("interval", s.interval.String()).Info("Premium sweeper started")

	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Premium sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs a single promotion cycle and returns how many users it promoted.
func (s *Sweeper) Sweep(ctx context.Context) int {
	promoted, err := s.promoter.PromoteEligible(ctx)
	if err != nil {
		s.log.WithError(err).Error("Error querying premium candidates")
		return 0
	}

	for _, user := range promoted {
		log := s.log.WithField("telegram_id", user.TelegramID)
		log.Info("Promoted user to premium")

		if s.notifier == nil {
			continue
		}
		if err := s.notifier.NotifyPremium(ctx, user.TelegramID); err != nil {
			log.WithError(err).Warn("Failed to send premium notification")
		}
	}
	return len(promoted)
}
