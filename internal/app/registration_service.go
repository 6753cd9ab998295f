package app

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"study_engagement_bot/internal/domain/participant"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// RegistrationService handles participant enrollment and the notification
// opt-out/opt-in toggles. Registration is the only path that creates records;
// the ledger never auto-creates on unknown IDs.
type RegistrationService struct {
	repo       participant.Repository
	logger     *logrus.Entry
	newBackoff func() backoff.BackOff
}

func NewRegistrationService(repo participant.Repository, logger *logrus.Entry) *RegistrationService {
	return &RegistrationService{repo: repo, logger: logger, newBackoff: defaultBackoff}
}

// Register enrolls a participant, assigning a study group exactly once.
// groupHint comes from the /start deep-link payload ("groupa"/"groupb"); when
// absent the chat ID hashes deterministically onto a group, so a re-delivered
// /start lands on the same assignment. Registering an already known
// participant is a no-op unless an explicit hint reassigns the group, which
// also rebuilds the question counters from the new group's pool.
func (s *RegistrationService) Register(ctx context.Context, chatID, name, username, groupHint string) (*participant.Record, bool, error) {
	logCtx := s.logger.WithField("chat_id", chatID)

	existing, err := s.repo.GetByID(ctx, chatID)
	if err == nil {
		if hinted, ok := groupFromHint(groupHint); ok && hinted != existing.Group {
			logCtx.WithField("group", hinted).Info("Re-registration with explicit group, reassigning")
			updated, err := s.update(ctx, chatID, func(r *participant.Record) error {
				r.AssignGroup(hinted)
				return nil
			})
			if err != nil {
				return nil, false, fmt.Errorf("reassigning group for participant %s: %w", chatID, err)
			}
			return updated, false, nil
		}
		logCtx.Info("Participant already registered")
		return existing, false, nil
	}
	if !errors.Is(err, participant.ErrNotFound) {
		return nil, false, fmt.Errorf("checking existing participant %s: %w", chatID, err)
	}

	group, ok := groupFromHint(groupHint)
	if !ok {
		group = assignGroup(chatID)
	}

	rec := participant.NewRecord(chatID, name, username, group, time.Now())
	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, participant.ErrDuplicate) {
			// Lost a race against a concurrent /start for the same chat.
			existing, getErr := s.repo.GetByID(ctx, chatID)
			if getErr != nil {
				return nil, false, fmt.Errorf("loading participant %s after duplicate create: %w", chatID, getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("creating participant %s: %w", chatID, err)
	}

	logCtx.WithField("group", group).Info("Participant registered")
	return rec, true, nil
}

// SetNotifications flips the daily-prompt toggle for /stop and /resume.
func (s *RegistrationService) SetNotifications(ctx context.Context, chatID string, enabled bool) error {
	_, err := s.update(ctx, chatID, func(r *participant.Record) error {
		r.NotificationsEnabled = enabled
		return nil
	})
	if err != nil {
		if errors.Is(err, participant.ErrNotFound) {
			return err
		}
		return fmt.Errorf("updating notification toggle for participant %s: %w", chatID, err)
	}
	s.logger.WithField("chat_id", chatID).WithField("enabled", enabled).Info("Notification toggle updated")
	return nil
}

// update applies mutate through the repository with the same conflict
// treatment as the ledger: lost optimistic races are retried with backoff and
// surface as ErrRetryable once the budget is spent.
func (s *RegistrationService) update(ctx context.Context, chatID string, mutate func(*participant.Record) error) (*participant.Record, error) {
	var updated *participant.Record
	op := func() error {
		rec, err := s.repo.Update(ctx, chatID, mutate)
		if err != nil {
			if errors.Is(err, participant.ErrConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		updated = rec
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(s.newBackoff(), ctx)); err != nil {
		if errors.Is(err, participant.ErrConflict) {
			return nil, fmt.Errorf("updating participant %s: %w", chatID, ErrRetryable)
		}
		return nil, err
	}
	return updated, nil
}

func groupFromHint(hint string) (participant.Group, bool) {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "groupa", "a":
		return participant.GroupA, true
	case "groupb", "b":
		return participant.GroupB, true
	default:
		return participant.GroupUnassigned, false
	}
}

// assignGroup maps a chat ID onto a group by FNV-1a parity: deterministic, so
// duplicate registration attempts agree without coordination.
func assignGroup(chatID string) participant.Group {
	h := fnv.New32a()
	h.Write([]byte(chatID))
	if h.Sum32()%2 == 0 {
		return participant.GroupA
	}
	return participant.GroupB
}
