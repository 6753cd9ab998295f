package participant

import (
	"testing"
	"time"

	"study_engagement_bot/internal/domain/survey"
)

func TestNewRecord_InitializesGroupPool(t *testing.T) {
	rec := NewRecord("1001", "Ada", "ada", GroupA, time.Now())

	if len(rec.QuestionCounts) == 0 {
		t.Fatal("question counts not initialized from group pool")
	}
	for qid, count := range rec.QuestionCounts {
		if count != 0 {
			t.Errorf("question %s starts at %d, want 0", qid, count)
		}
	}
	if !rec.NotificationsEnabled {
		t.Error("new records should have notifications enabled")
	}
	if rec.ActiveDayCount() != 0 {
		t.Errorf("new record has %d active days", rec.ActiveDayCount())
	}
}

func TestNewRecord_UnassignedHasNoPool(t *testing.T) {
	rec := NewRecord("1001", "Ada", "ada", GroupUnassigned, time.Now())
	if len(rec.QuestionCounts) != 0 {
		t.Errorf("unassigned record got %d questions", len(rec.QuestionCounts))
	}
}

func TestAssignGroup_RebuildsPool(t *testing.T) {
	rec := NewRecord("1001", "Ada", "ada", GroupA, time.Now())
	for qid := range rec.QuestionCounts {
		rec.QuestionCounts[qid] = 3
	}

	rec.AssignGroup(GroupB)

	if rec.Group != GroupB {
		t.Errorf("group = %s, want GROUP_B", rec.Group)
	}
	poolB := survey.PoolForGroup(string(GroupB))
	if len(rec.QuestionCounts) != len(poolB) {
		t.Fatalf("counter keys = %d, want %d from the new pool", len(rec.QuestionCounts), len(poolB))
	}
	for _, qid := range poolB {
		if count, ok := rec.QuestionCounts[qid]; !ok {
			t.Errorf("counter missing for %s", qid)
		} else if count != 0 {
			t.Errorf("counter for %s = %d, questions new to the participant start at zero", qid, count)
		}
	}
	for _, qid := range survey.PoolForGroup(string(GroupA)) {
		if _, ok := rec.QuestionCounts[qid]; ok {
			t.Errorf("counter for %s from the old pool survived", qid)
		}
	}
}

func TestMarkActiveDay(t *testing.T) {
	rec := NewRecord("1001", "Ada", "ada", GroupB, time.Now())

	if !rec.MarkActiveDay("2025-02-10") {
		t.Error("first mark of a day should report newly added")
	}
	if rec.MarkActiveDay("2025-02-10") {
		t.Error("second mark of the same day should report false")
	}
	if rec.ActiveDayCount() != 1 {
		t.Errorf("count = %d, want 1", rec.ActiveDayCount())
	}

	rec.MarkActiveDay("2025-02-11")
	if rec.ActiveDayCount() != 2 {
		t.Errorf("count = %d, want 2", rec.ActiveDayCount())
	}
}

func TestAppendActivity_NeverDeduplicates(t *testing.T) {
	rec := NewRecord("1001", "Ada", "ada", GroupB, time.Now())
	at := time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)

	rec.AppendActivity(at, true)
	rec.AppendActivity(at, true)
	rec.AppendActivity(at, false)

	if len(rec.ActivityLog) != 3 {
		t.Fatalf("log length = %d, want 3", len(rec.ActivityLog))
	}
	if rec.ActivityLog[0].ID == rec.ActivityLog[1].ID {
		t.Error("log entries should get distinct IDs")
	}
	if rec.ActivityLog[2].Active {
		t.Error("third entry should record active=false")
	}
}
