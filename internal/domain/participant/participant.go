package participant

import (
	"time"

	"study_engagement_bot/internal/domain/survey"

	"github.com/google/uuid"
)

// Group is the study arm a participant is assigned to.
type Group string

const (
	GroupUnassigned Group = "UNASSIGNED"
	GroupA          Group = "GROUP_A"
	GroupB          Group = "GROUP_B"
)

// LogEntry is one raw interaction report. Entries are appended for every
// report, qualifying or not, and are never deduplicated.
type LogEntry struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Active     bool      `json:"active"`
}

// Record is the per-participant study document, keyed by the stable chat ID.
type Record struct {
	ChatID               string                    `json:"chat_id"`
	Name                 string                    `json:"name"`
	Username             string                    `json:"username"`
	Group                Group                     `json:"group"`
	ActiveDays           map[string]bool           `json:"active_days"` // keys are dates "2006-01-02" in the study timezone
	ActivityLog          []LogEntry                `json:"activity_log"`
	QuestionCounts       map[survey.QuestionID]int `json:"question_counts"`
	MilestonesSent       map[int]bool              `json:"milestones_sent"`
	NotificationsEnabled bool                      `json:"notifications_enabled"`
	CreatedAt            time.Time                 `json:"created_at"`
	UpdatedAt            time.Time                 `json:"updated_at"`
}

// NewRecord creates a record for a freshly registered participant. The
// question-count keys are fixed here, at creation, from the group's pool.
func NewRecord(chatID, name, username string, group Group, now time.Time) *Record {
	counts := make(map[survey.QuestionID]int)
	for _, q := range survey.PoolForGroup(string(group)) {
		counts[q] = 0
	}
	return &Record{
		ChatID:               chatID,
		Name:                 name,
		Username:             username,
		Group:                group,
		ActiveDays:           make(map[string]bool),
		ActivityLog:          make([]LogEntry, 0),
		QuestionCounts:       counts,
		MilestonesSent:       make(map[int]bool),
		NotificationsEnabled: true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// AppendActivity records a raw report in the activity log.
func (r *Record) AppendActivity(occurredAt time.Time, active bool) {
	r.ActivityLog = append(r.ActivityLog, LogEntry{
		ID:         uuid.NewString(),
		OccurredAt: occurredAt,
		Active:     active,
	})
}

// AssignGroup moves the participant to a new group and rebuilds the question
// counters from that group's pool, keeping the keys-match-pool invariant.
// Counts carry over for question IDs present in both pools; questions new to
// the participant start at zero.
func (r *Record) AssignGroup(group Group) {
	counts := make(map[survey.QuestionID]int)
	for _, q := range survey.PoolForGroup(string(group)) {
		counts[q] = r.QuestionCounts[q]
	}
	r.Group = group
	r.QuestionCounts = counts
}

// MarkActiveDay adds the given date to the active-day set. It reports whether
// the date was newly added. Dates are only ever added, never removed.
func (r *Record) MarkActiveDay(day string) bool {
	if r.ActiveDays[day] {
		return false
	}
	r.ActiveDays[day] = true
	return true
}

// ActiveDayCount returns the number of distinct active days recorded so far.
func (r *Record) ActiveDayCount() int {
	return len(r.ActiveDays)
}
