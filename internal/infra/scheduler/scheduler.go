package scheduler

import (
	"context"
	"time"

	"study_engagement_bot/internal/app" // For PromptService interface

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// PromptScheduler triggers the daily check-in prompt broadcast.
type PromptScheduler struct {
	cronEngine     *cron.Cron
	promptService  app.PromptService
	logger         *logrus.Entry
	cronSpecPrompt string
}

func NewPromptScheduler(
	promptService app.PromptService,
	logger *logrus.Entry,
	cronSpecPrompt string, // e.g., "0 18 * * *" (18:00 daily)
) *PromptScheduler {
	return &PromptScheduler{
		cronEngine:     cron.New(cron.WithLocation(time.Local)), // Use server's local time for cron
		promptService:  promptService,
		logger:         logger,
		cronSpecPrompt: cronSpecPrompt,
	}
}

func (s *PromptScheduler) Start() {
	s.logger.Info("Starting prompt scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpecPrompt, func() {
		s.logger.Info("Cron job triggered for daily prompt broadcast")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.promptService.SendDailyPrompts(ctx); err != nil {
			s.logger.WithError(err).Error("Daily prompt broadcast failed")
		}
	})
	if err != nil {
		s.logger.WithError(err).Fatal("Could not add daily prompt cron job")
	}

	s.cronEngine.Start()
	s.logger.Info("Prompt scheduler started")
}

func (s *PromptScheduler) Stop() {
	s.logger.Info("Stopping prompt scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()               // Wait for graceful shutdown
	s.logger.Info("Prompt scheduler gracefully stopped")
}
