package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"study_engagement_bot/internal/domain/milestone"
	"study_engagement_bot/internal/domain/participant"
	"study_engagement_bot/internal/domain/survey"
	domainTelegram "study_engagement_bot/internal/domain/telegram"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const dayFormat = "2006-01-02"

// maxConflictRetries bounds how often a lost optimistic-update race is
// replayed before the call is surfaced as retryable to the ingress adapter.
const maxConflictRetries = 5

// ActivityResult reports the outcome of one activity report.
type ActivityResult struct {
	ActiveDayCount   int
	NewlyActiveToday bool
	MilestonesFired  []int
}

// LedgerService is the participant engagement ledger. It owns the only
// mutating paths into a participant's study record: activity reports and
// survey-answer callbacks. All record mutation goes through the repository's
// atomic Update, so concurrent reports for the same participant serialize and
// each milestone fires at most once.
type LedgerService struct {
	repo           participant.Repository
	telegramClient domainTelegram.Client
	logger         *logrus.Entry
	location       *time.Location
	thresholds     []int
	batchSize      int
	links          milestone.Links
	newBackoff     func() backoff.BackOff
}

func defaultBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxConflictRetries)
}

func NewLedgerService(
	repo participant.Repository,
	tc domainTelegram.Client,
	logger *logrus.Entry,
	studyLocation *time.Location,
	thresholds []int,
	questionBatchSize int,
	links milestone.Links,
) *LedgerService {
	return &LedgerService{
		repo:           repo,
		telegramClient: tc,
		logger:         logger,
		location:       studyLocation,
		thresholds:     thresholds,
		batchSize:      questionBatchSize,
		links:          links,
		newBackoff:     defaultBackoff,
	}
}

// RecordActivity processes one activity report for a participant.
//
// The raw report is always appended to the activity log. If isActive is true,
// the report's calendar date (in the study timezone) is added to the
// active-day set unless already present, and any milestone thresholds newly
// crossed are marked sent, all inside one atomic repository Update. Milestone
// messages go out strictly after the update has been persisted; a delivery
// failure is logged and swallowed, never unmarked, so a milestone is attempted
// at most once no matter how reports are duplicated or interleaved.
func (s *LedgerService) RecordActivity(ctx context.Context, chatID string, isActive bool, occurredAt time.Time) (*ActivityResult, error) {
	logCtx := s.logger.WithField("chat_id", chatID).WithField("is_active", isActive)

	var res ActivityResult
	var updated *participant.Record

	op := func() error {
		res = ActivityResult{MilestonesFired: []int{}}
		rec, err := s.repo.Update(ctx, chatID, func(r *participant.Record) error {
			r.AppendActivity(occurredAt, isActive)
			if !isActive {
				return nil
			}
			day := occurredAt.In(s.location).Format(dayFormat)
			prev := r.ActiveDayCount()
			res.NewlyActiveToday = r.MarkActiveDay(day)
			fired := milestone.Detect(prev, r.ActiveDayCount(), r.MilestonesSent, s.thresholds)
			for _, t := range fired {
				r.MilestonesSent[t] = true
			}
			res.MilestonesFired = fired
			return nil
		})
		if err != nil {
			if errors.Is(err, participant.ErrConflict) {
				return err // retried with backoff
			}
			return backoff.Permanent(err)
		}
		updated = rec
		res.ActiveDayCount = rec.ActiveDayCount()
		return nil
	}

	policy := backoff.WithContext(s.newBackoff(), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, participant.ErrConflict) || errors.Is(err, context.DeadlineExceeded) {
			logCtx.WithError(err).Warn("Activity update did not settle within the retry budget")
			return nil, fmt.Errorf("recording activity for participant %s: %w", chatID, ErrRetryable)
		}
		if errors.Is(err, participant.ErrNotFound) {
			return nil, err
		}
		logCtx.WithError(err).Error("Failed to record activity")
		return nil, fmt.Errorf("recording activity for participant %s: %w", chatID, err)
	}

	logCtx.WithField("active_day_count", res.ActiveDayCount).
		WithField("newly_active", res.NewlyActiveToday).
		Info("Activity report recorded")

	// The update is committed; from here on, milestone delivery is best-effort.
	for _, t := range res.MilestonesFired {
		text, ok := milestone.MessageFor(t, string(updated.Group), s.links)
		if !ok {
			logCtx.WithField("threshold", t).Warn("No milestone template configured, skipping send")
			continue
		}
		if err := s.telegramClient.SendMessage(chatID, text, nil); err != nil {
			// The milestone stays marked as sent: at most one attempt ever.
			logCtx.WithError(err).WithField("threshold", t).Error("Failed to deliver milestone message")
			continue
		}
		logCtx.WithField("threshold", t).Info("Milestone message delivered")
	}

	return &res, nil
}

// RecordAnswer atomically increments the answer counter for one question.
// It runs as its own transaction, independent of RecordActivity; no ordering
// between the two is guaranteed or needed.
func (s *LedgerService) RecordAnswer(ctx context.Context, chatID string, questionID string) error {
	qid := survey.QuestionID(questionID)

	op := func() error {
		_, err := s.repo.Update(ctx, chatID, func(r *participant.Record) error {
			if _, ok := r.QuestionCounts[qid]; !ok {
				return ErrUnknownQuestion
			}
			r.QuestionCounts[qid]++
			return nil
		})
		if err != nil {
			if errors.Is(err, participant.ErrConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithContext(s.newBackoff(), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, participant.ErrNotFound) {
			return err
		}
		if errors.Is(err, participant.ErrConflict) {
			return fmt.Errorf("recording answer for participant %s: %w", chatID, ErrRetryable)
		}
		s.logger.WithError(err).WithField("chat_id", chatID).WithField("question_id", questionID).Error("Failed to record answer")
		return fmt.Errorf("recording answer for participant %s: %w", chatID, err)
	}

	s.logger.WithField("chat_id", chatID).WithField("question_id", questionID).Info("Survey answer recorded")
	return nil
}

// NextQuestions returns the next batch of survey questions for a participant,
// least-answered first. Read-only; counters move via RecordAnswer.
func (s *LedgerService) NextQuestions(ctx context.Context, chatID string) ([]survey.QuestionID, error) {
	rec, err := s.repo.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, participant.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("loading participant %s: %w", chatID, err)
	}
	pool := survey.PoolForGroup(string(rec.Group))
	return survey.SelectNext(pool, rec.QuestionCounts, s.batchSize), nil
}
