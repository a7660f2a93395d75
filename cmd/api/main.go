package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mymmrac/telego"

	"speakadora-bot/internal/api"
	"speakadora-bot/internal/config"
	"speakadora-bot/internal/database"
	"speakadora-bot/internal/logger"
	"speakadora-bot/internal/notify"
	"speakadora-bot/internal/referral"
	"speakadora-bot/internal/storage"
	"speakadora-bot/internal/utils"
	"speakadora-bot/internal/worker"
)

func main() {
	cfg := config.LoadConfig()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to Database
	db, err := database.ConnectPostgres(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Could not connect to database")
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	store := storage.NewStore(db)
	referrals := referral.NewService(store, log, cfg.PremiumThreshold, cfg.QualifiedLevel)

	metricsAllowed, err := utils.ParseCIDRs(cfg.MetricsAllowedCIDRs)
	if err != nil {
		log.WithError(err).Fatal("Invalid METRICS_ALLOWED_CIDRS")
	}
	trustedProxies, err := utils.ParseCIDRs(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.WithError(err).Fatal("Invalid TRUSTED_PROXY_CIDRS")
	}
	if cfg.InternalAPIToken == "" {
		log.Warn("INTERNAL_API_TOKEN not set, bot requests share the per-client rate limit")
	}

	if cfg.SweepInterval > 0 {
		var notifier worker.Notifier
		if cfg.BotToken != "" {
			rdb, err := database.ConnectRedis(ctx, cfg, log)
			if err != nil {
				log.WithError(err).Fatal("Could not connect to redis")
			}
			defer rdb.Close()

			tgBot, err := telego.NewBot(cfg.BotToken, telego.WithLogger(logger.NewTelegoLogger(log, cfg.BotToken)))
			if err != nil {
				log.WithError(err).Fatal("Could not create bot")
			}
			notifier = notify.NewPremiumNotifier(tgBot, notify.NewRedisMarker(rdb), log)
		} else {
			log.Warn("TELEGRAM_BOT_TOKEN not set, promoted users will not be notified")
		}

		go worker.NewSweeper(referrals, notifier, cfg.SweepInterval, log).Start(ctx)
	}

	server := api.NewServer(api.Config{
		Addr:           cfg.HTTPAddr,
		StaticDir:      cfg.StaticDir,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		MetricsAllowed: metricsAllowed,
		TrustedProxies: trustedProxies,
		InternalToken:  cfg.InternalAPIToken,
	}, store, referrals, log)

	if err := server.Run(ctx); err != nil {
		log.WithError(err).Fatal("HTTP API failed")
	}
}
