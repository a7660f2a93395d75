package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mymmrac/telego"

	"speakadora-bot/internal/apiclient"
	"speakadora-bot/internal/bot"
	"speakadora-bot/internal/config"
	"speakadora-bot/internal/database"
	"speakadora-bot/internal/logger"
	"speakadora-bot/internal/notify"
)

func main() {
	// Load Configuration
	cfg := config.LoadConfig()
	log := logger.New(cfg.LogLevel)

	if cfg.BotToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to Redis
	rdb, err := database.ConnectRedis(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Could not connect to redis")
	}
	defer rdb.Close()

	tgBot, err := telego.NewBot(cfg.BotToken, telego.WithLogger(logger.NewTelegoLogger(log, cfg.BotToken)))
	if err != nil {
		log.WithError(err).Fatal("Could not create bot")
	}

	// Long polling does not work while a webhook is set
	if err := tgBot.DeleteWebhook(ctx, &telego.DeleteWebhookParams{DropPendingUpdates: true}); err != nil {
		log.WithError(err).Warn("Error removing webhook")
	}

	notifier := notify.NewPremiumNotifier(tgBot, notify.NewRedisMarker(rdb), log)
	client := apiclient.NewClient(cfg.APIURL)
	client.InternalToken = cfg.InternalAPIToken

	b := bot.NewBot(tgBot, client, notifier, cfg.WebAppURL(), log)

	if err := b.Start(ctx); err != nil {
		log.WithError(err).Fatal("Bot stopped")
	}
	log.Info("Bot stopped")
}
