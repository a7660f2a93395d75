// Package notify delivers the premium congratulation to referrers at most
// once per user.
package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const PremiumMessage = "🎉 Поздравляем! Вы пригласили 10 друзей и получили Premium статус!"

// Sender is the part of *telego.Bot used to deliver messages.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Marker records that a notification was delivered.
type Marker interface {
	// Mark sets key and reports whether it was previously unset.
	Mark(ctx context.Context, key string) (bool, error)
	Unmark(ctx context.Context, key string) error
}

type RedisMarker struct {
	rdb *redis.Client
}

func NewRedisMarker(rdb *redis.Client) *RedisMarker {
	return &RedisMarker{rdb: rdb}
}

func (m *RedisMarker) Mark(ctx context.Context, key string) (bool, error) {
	return m.rdb.SetNX(ctx, key, "true", 0).Result()
}

func (m *RedisMarker) Unmark(ctx context.Context, key string) error {
	return m.rdb.Del(ctx, key).Err()
}

type PremiumNotifier struct {
	sender Sender
	marker Marker
	log    logrus.FieldLogger
}

func NewPremiumNotifier(sender Sender, marker Marker, log logrus.FieldLogger) *PremiumNotifier {
	return &PremiumNotifier{sender: sender, marker: marker, log: log}
}

// NotifyPremium congratulates the user on the premium tier. Repeated calls
// for the same user are dropped.
func (n *PremiumNotifier) NotifyPremium(ctx context.Context, telegramID string) error {
	chatID, err := strconv.ParseInt(telegramID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram id %q: %w", telegramID, err)
	}

	key := fmt.Sprintf("premium_notified_%s", telegramID)
	fresh, err := n.marker.Mark(ctx, key)
	if err != nil {
		n.log.WithError(err).WithField("telegram_id", telegramID).Warn("Failed to check premium notification marker")
		fresh = true
	}
	if !fresh {
		n.log.WithField("telegram_id", telegramID).Debug("Premium notification already sent")
		return nil
	}

	if _, err := n.sender.SendMessage(ctx, tu.Message(tu.ID(chatID), PremiumMessage)); err != nil {
		if unmarkErr := n.marker.Unmark(ctx, key); unmarkErr != nil {
			n.log.WithError(unmarkErr).WithField("telegram_id", telegramID).Warn("Failed to clear premium notification marker")
		}
		return fmt.Errorf("failed to send premium notification: %w", err)
	}

	n.log.WithField("telegram_id", telegramID).Info("Sent premium notification")
	return nil
}
