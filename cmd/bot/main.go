package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"study_engagement_bot/internal/app"
	"study_engagement_bot/internal/domain/milestone"
	"study_engagement_bot/internal/domain/participant"
	"study_engagement_bot/internal/infra/config"
	idb "study_engagement_bot/internal/infra/database"
	"study_engagement_bot/internal/infra/httpapi"
	"study_engagement_bot/internal/infra/logger"
	"study_engagement_bot/internal/infra/redisstore"
	"study_engagement_bot/internal/infra/scheduler"
	"study_engagement_bot/internal/infra/telegram"

	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("FATAL: Could not load application configuration: %v", err)
	}

	logger.Init(cfg)
	log := logger.Get().WithField("component", "main")
	log.Infof("Configuration loaded. Store: %s, Environment: %s, Thresholds: %v", cfg.StoreDriver, cfg.Environment, cfg.Thresholds)

	ctx := context.Background()

	// Initialize the participant store
	var repo participant.Repository
	var db *sql.DB
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err = idb.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("FATAL: Could not connect to database: %v", err)
		}
		defer db.Close()
		repo = idb.NewPostgresParticipantRepository(db)
		log.Info("Postgres participant store initialized")
	case config.StoreDriverRedis:
		client, err := redisstore.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Fatalf("FATAL: Could not connect to Redis: %v", err)
		}
		defer client.Close()
		repo = redisstore.NewRedisParticipantRepository(client)
		log.Info("Redis participant store initialized")
	}

	// Initialize Telegram Bot
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) { // Global error handler
			entry := logger.Get().WithField("component", "telebot").WithError(err)
			if c != nil && c.Sender() != nil {
				entry = entry.WithField("sender_id", c.Sender().ID)
			}
			entry.Error("Telegram handler error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		log.Fatalf("FATAL: Could not create Telegram bot: %v", err)
	}
	gateway := telegram.NewTelebotAdapter(bot)

	// Initialize application services
	links := milestone.Links{FinalSurveyURL: cfg.FinalSurveyURL, SchedulingURL: cfg.SchedulingURL}
	ledger := app.NewLedgerService(
		repo,
		gateway,
		logger.Get().WithField("component", "ledger"),
		cfg.StudyTimezone,
		cfg.Thresholds,
		cfg.QuestionBatch,
		links,
	)
	registration := app.NewRegistrationService(repo, logger.Get().WithField("component", "registration"))
	prompts := app.NewPromptService(repo, gateway, logger.Get().WithField("component", "prompts"), cfg.Thresholds, cfg.DailyPromptText)
	log.Info("Application services initialized")

	// Register bot command handlers
	telegram.RegisterBotCommands(ctx, bot, registration, ledger, cfg.SurveyBaseURL, logger.Get().WithField("component", "bot"))
	log.Info("Bot command handlers registered")

	// Start the daily prompt scheduler
	promptScheduler := scheduler.NewPromptScheduler(prompts, logger.Get().WithField("component", "scheduler"), cfg.CronSpecPrompt)
	promptScheduler.Start()

	// Start the ingress HTTP server
	router := httpapi.NewRouter(ledger, logger.Get().WithField("component", "httpapi"))
	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("Ingress HTTP server listening on %s", cfg.HTTPListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("FATAL: HTTP server failed: %v", err)
		}
	}()

	// Start bot in a goroutine so it doesn't block graceful shutdown handling
	go bot.Start()
	log.Info("Application setup complete. Bot, scheduler and HTTP server are running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit // Block until a signal is received

	log.Info("Shutting down application...")
	promptScheduler.Stop()
	bot.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	log.Info("Application shut down gracefully")
}
