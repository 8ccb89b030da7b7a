package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/clubpicks/subsbot/internal/circuitbreaker"
	"github.com/clubpicks/subsbot/internal/config"
	"github.com/clubpicks/subsbot/internal/httpserver"
	"github.com/clubpicks/subsbot/internal/lifecycle"
	"github.com/clubpicks/subsbot/internal/logger"
	"github.com/clubpicks/subsbot/internal/metrics"
	"github.com/clubpicks/subsbot/internal/reconcile"
	"github.com/clubpicks/subsbot/internal/records"
	"github.com/clubpicks/subsbot/internal/sched"
	"github.com/clubpicks/subsbot/internal/telegram"
	"github.com/clubpicks/subsbot/internal/wompi"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("SUBSBOT_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := bootLogger()
		boot.Fatal().Err(err).Msg("configuration load failed")
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "subsbot",
		Environment: cfg.Logging.Environment,
	})

	resources := lifecycle.NewManager(appLogger)
	defer func() {
		if err := resources.Close(); err != nil {
			appLogger.Error().Err(err).Msg("shutdown finished with errors")
		}
	}()

	store, err := records.New(cfg.Storage, cfg.Location)
	if err != nil {
		appLogger.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("record store init failed")
	}
	resources.Register("record-store", store)

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)

	breakers := circuitbreaker.NewManager(cfg.Breaker)
	gateway := wompi.NewClient(cfg.Wompi, breakers)

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("telegram authorization failed")
	}
	appLogger.Info().Str("bot", api.Self.UserName).Msg("telegram bot authorized")

	channel := telegram.NewChannel(api, cfg.Telegram.ChannelID)

	scheduler := sched.New(channel, channel, cfg.Subscription, metricsCollector, appLogger)
	resources.Register("expiry-scheduler", scheduler)

	engine := reconcile.NewService(cfg, store, gateway, scheduler, channel, metricsCollector)
	bot := telegram.New(api, cfg, engine, store, appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, appLogger)

	// Health and metrics are served in both modes; webhook mode additionally
	// receives Telegram updates over the same listener.
	srv := httpserver.New(cfg, bot, appLogger)
	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info().Str("address", cfg.Server.Address).Msg("http server listening")
		serverErr <- srv.ListenAndServe()
	}()

	if cfg.Mode == "webhook" {
		if err := bot.EnsureWebhook(cfg.Telegram.WebhookURL); err != nil {
			appLogger.Fatal().Err(err).Str("url", cfg.Telegram.WebhookURL).Msg("webhook registration failed")
		}
		select {
		case <-ctx.Done():
		case err := <-serverErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error().Err(err).Msg("http server stopped unexpectedly")
			}
		}
	} else {
		if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error().Err(err).Msg("update loop stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("http server shutdown failed")
	}

	appLogger.Info().Msg("shutdown complete")
}

// bootLogger covers failures before the configured logger exists.
func bootLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
