package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/sirupsen/logrus"

	"speakadora-bot/internal/apiclient"
	"speakadora-bot/internal/notify"
)

const (
	welcomeText         = "Привет! 👋\nНажми на кнопку ниже, чтобы посмотреть свою статистику."
	referralWelcomeText = "Добро пожаловать! Вы были приглашены другим пользователем. 🎉"
	failureText         = "Произошла ошибка. Пожалуйста, попробуйте позже."
	webAppButtonText    = "📊 Открыть статистику"
	referralPrefix      = "ref"
)

type API interface {
	CreateUser(ctx context.Context, telegramID, username string) (*apiclient.UserResponse, error)
	TrackReferral(ctx context.Context, referrerID, refereeID, username string) (*apiclient.ReferralResponse, error)
}

type PremiumNotifier interface {
	NotifyPremium(ctx context.Context, telegramID string) error
}

type Bot struct {
	Instance  *telego.Bot
	sender    notify.Sender
	api       API
	notifier  PremiumNotifier
	webAppURL string
	log       logrus.FieldLogger
}

func NewBot(instance *telego.Bot, api API, notifier PremiumNotifier, webAppURL string, log logrus.FieldLogger) *Bot {
	return &Bot{
		Instance:  instance,
		sender:    instance,
		api:       api,
		notifier:  notifier,
		webAppURL: webAppURL,
		log:       log,
	}
}

// Start long-polls Telegram until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("failed to create bot handler: %w", err)
	}

	// /start command
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		b.handleStart(ctx, update.Message)
		return nil
	}, th.CommandEqual("start"))

	// Data submitted from the embedded web view
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		if update.Message.WebAppData != nil {
			b.handleWebAppData(ctx, update.Message)
		}
		return nil
	}, th.AnyMessage())

	go func() {
		<-ctx.Done()
		if err := handler.Stop(); err != nil {
			b.log.WithError(err).Error("Failed to stop bot handler")
		}
	}()

	b.log.Info("Bot started, waiting for updates")
	if err := handler.Start(); err != nil {
		return fmt.Errorf("bot handler failed: %w", err)
	}
	return nil
}

func (b *Bot) handleStart(ctx context.Context, message *telego.Message) {
	if message == nil || message.From == nil {
		return
	}

	telegramID := strconv.FormatInt(message.From.ID, 10)
	username := message.From.Username
	if username == "" {
		username = fmt.Sprintf("User %d", message.From.ID)
	}
	chatID := tu.ID(message.Chat.ID)
	log := b.log.WithField("telegram_id", telegramID)

	// The referral has to be registered before the user row exists,
	// otherwise the API rejects the referee as already registered.
	var referral *apiclient.ReferralResponse
	referrerID, ok := parseReferrer(message.Text)
	if ok && referrerID != telegramID {
		result, err := b.api.TrackReferral(ctx, referrerID, telegramID, username)
		if err != nil {
			log.WithError(err).WithField("referrer", referrerID).Warn("Error processing referral")
		} else if result.Success {
			referral = result
		}
	}

	if _, err := b.api.CreateUser(ctx, telegramID, username); err != nil {
		log.WithError(err).Error("Error creating user")
		b.send(ctx, tu.Message(chatID, failureText))
		return
	}

	keyboard := b.webAppKeyboard()
	if referral == nil {
		b.send(ctx, tu.Message(chatID, welcomeText).WithReplyMarkup(keyboard))
		return
	}

	b.send(ctx, tu.Message(chatID, referralWelcomeText).WithReplyMarkup(keyboard))
	if referral.PremiumEarned && b.notifier != nil {
		if err := b.notifier.NotifyPremium(ctx, referrerID); err != nil {
			log.WithError(err).WithField("referrer", referrerID).Warn("Error sending premium notification")
		}
	}
}

func (b *Bot) handleWebAppData(ctx context.Context, message *telego.Message) {
	b.send(ctx, tu.Message(tu.ID(message.Chat.ID), fmt.Sprintf("Received data: %s", message.WebAppData.Data)))
}

func (b *Bot) webAppKeyboard() *telego.ReplyKeyboardMarkup {
	return tu.Keyboard(
		tu.KeyboardRow(
			tu.KeyboardButton(webAppButtonText).WithWebApp(&telego.WebAppInfo{URL: b.webAppURL}),
		),
	).WithResizeKeyboard()
}

func (b *Bot) send(ctx context.Context, params *telego.SendMessageParams) {
	if _, err := b.sender.SendMessage(ctx, params); err != nil {
		b.log.WithError(err).WithField("chat_id", params.ChatID.ID).Error("Failed to send message")
	}
}

// parseReferrer extracts the referrer id from a "/start ref<id>" command.
func parseReferrer(text string) (string, bool) {
	parts := strings.Fields(text)
	if len(parts) < 2 || !strings.HasPrefix(parts[1], referralPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(parts[1], referralPrefix)
	if id == "" {
		return "", false
	}
	return id, true
}
