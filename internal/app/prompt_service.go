package app

import (
	"context"
	"fmt"

	"study_engagement_bot/internal/domain/participant"
	domainTelegram "study_engagement_bot/internal/domain/telegram"

	"github.com/sirupsen/logrus"
)

// PromptService sends the daily check-in prompt to every participant who still
// has notifications enabled and has not yet exhausted the study's active-day
// quota. Invoked by the cron scheduler.
type PromptService interface {
	SendDailyPrompts(ctx context.Context) error
}

type PromptServiceImpl struct {
	repo           participant.Repository
	telegramClient domainTelegram.Client
	logger         *logrus.Entry
	quota          int // highest milestone threshold; reaching it ends tracking
	promptText     string
}

func NewPromptService(
	repo participant.Repository,
	tc domainTelegram.Client,
	logger *logrus.Entry,
	thresholds []int,
	promptText string,
) *PromptServiceImpl {
	quota := 0
	for _, t := range thresholds {
		if t > quota {
			quota = t
		}
	}
	return &PromptServiceImpl{
		repo:           repo,
		telegramClient: tc,
		logger:         logger,
		quota:          quota,
		promptText:     promptText,
	}
}

// SendDailyPrompts delivers the prompt to all eligible participants. Send
// failures are logged per participant and do not abort the broadcast.
func (s *PromptServiceImpl) SendDailyPrompts(ctx context.Context) error {
	recs, err := s.repo.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("listing participants for daily prompt: %w", err)
	}
	if len(recs) == 0 {
		s.logger.Info("No participants with notifications enabled, nothing to prompt")
		return nil
	}

	sent := 0
	for _, rec := range recs {
		if rec.ActiveDayCount() >= s.quota {
			s.logger.WithField("chat_id", rec.ChatID).Debug("Participant completed the study, skipping prompt")
			continue
		}
		if err := s.telegramClient.SendMessage(rec.ChatID, s.promptText, nil); err != nil {
			s.logger.WithError(err).WithField("chat_id", rec.ChatID).Error("Failed to send daily prompt")
			continue
		}
		sent++
	}

	s.logger.WithField("eligible", len(recs)).WithField("sent", sent).Info("Daily prompt broadcast finished")
	return nil
}
