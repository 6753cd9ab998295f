// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"study_engagement_bot/internal/app"
	"study_engagement_bot/internal/domain/participant"
	"study_engagement_bot/internal/domain/survey"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(
	ctx context.Context,
	b *telebot.Bot,
	registration *app.RegistrationService,
	ledger *app.LedgerService,
	surveyBaseURL string,
	baseLogger *logrus.Entry, // For contextual logging
) {
	cmdLogger := baseLogger.WithField("handler_group", "bot_commands")

	b.Handle("/start", func(c telebot.Context) error {
		chatID := strconv.FormatInt(c.Sender().ID, 10)
		logCtx := cmdLogger.WithField("command", "/start").WithField("chat_id", chatID)
		logCtx.Info("Processing /start command")

		name := strings.TrimSpace(c.Sender().FirstName + " " + c.Sender().LastName)
		if name == "" {
			name = "Unknown"
		}

		_, created, err := registration.Register(ctx, chatID, name, c.Sender().Username, c.Message().Payload)
		if err != nil {
			logCtx.WithError(err).Error("Registration failed")
			return c.Send("There was an error registering your data. Please try again later.")
		}
		if !created {
			logCtx.Info("Participant was already registered")
			return c.Send("You are already registered and will receive notifications.")
		}
		logCtx.Info("Participant registered")
		return c.Send("Welcome to the study! You are registered and will receive notifications.")
	})

	b.Handle("/stop", func(c telebot.Context) error {
		chatID := strconv.FormatInt(c.Sender().ID, 10)
		logCtx := cmdLogger.WithField("command", "/stop").WithField("chat_id", chatID)
		logCtx.Info("Processing /stop command")

		if err := registration.SetNotifications(ctx, chatID, false); err != nil {
			if errors.Is(err, participant.ErrNotFound) {
				return c.Send("You are not registered yet. Send /start to join the study.")
			}
			logCtx.WithError(err).Error("Failed to disable notifications")
			return c.Send("Something went wrong. Please try again later.")
		}
		return c.Send("Notifications paused. Send /resume to receive them again.")
	})

	b.Handle("/resume", func(c telebot.Context) error {
		chatID := strconv.FormatInt(c.Sender().ID, 10)
		logCtx := cmdLogger.WithField("command", "/resume").WithField("chat_id", chatID)
		logCtx.Info("Processing /resume command")

		if err := registration.SetNotifications(ctx, chatID, true); err != nil {
			if errors.Is(err, participant.ErrNotFound) {
				return c.Send("You are not registered yet. Send /start to join the study.")
			}
			logCtx.WithError(err).Error("Failed to enable notifications")
			return c.Send("Something went wrong. Please try again later.")
		}
		return c.Send("Notifications resumed. See you at the next check-in!")
	})

	b.Handle("/survey", func(c telebot.Context) error {
		chatID := strconv.FormatInt(c.Sender().ID, 10)
		logCtx := cmdLogger.WithField("command", "/survey").WithField("chat_id", chatID)
		logCtx.Info("Processing /survey command")

		questions, err := ledger.NextQuestions(ctx, chatID)
		if err != nil {
			if errors.Is(err, participant.ErrNotFound) {
				return c.Send("You are not registered yet. Send /start to join the study.")
			}
			logCtx.WithError(err).Error("Failed to select next questions")
			return c.Send("Something went wrong. Please try again later.")
		}
		if len(questions) == 0 {
			return c.Send("No survey questions are available for you right now.")
		}

		link := buildSurveyLink(surveyBaseURL, chatID, questions)
		logCtx.WithField("question_count", len(questions)).Info("Survey link sent")
		return c.Send(fmt.Sprintf("Here is your next survey: %s", link))
	})

	b.Handle("/help", func(c telebot.Context) error {
		chatID := strconv.FormatInt(c.Sender().ID, 10)
		cmdLogger.WithField("command", "/help").WithField("chat_id", chatID).Info("Processing /help command")

		var helpText strings.Builder
		helpText.WriteString("Available commands:\n\n")
		helpText.WriteString("/start - Register for the study.\n")
		helpText.WriteString("/survey - Get a link to your next survey questions.\n")
		helpText.WriteString("/stop - Pause daily notifications.\n")
		helpText.WriteString("/resume - Resume daily notifications.\n")
		helpText.WriteString("/help - Show this help message.")
		return c.Send(helpText.String())
	})
}

// buildSurveyLink appends the participant and selected question IDs to the
// configured survey base URL.
func buildSurveyLink(baseURL, chatID string, questions []survey.QuestionID) string {
	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = string(q)
	}
	params := url.Values{}
	params.Set("STUDY_ID", chatID)
	params.Set("QUESTION_IDS", strings.Join(ids, ","))
	return baseURL + "?" + params.Encode()
}
