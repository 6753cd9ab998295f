package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"study_engagement_bot/internal/domain/milestone"
	"study_engagement_bot/internal/domain/participant"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// stubParticipantRepo is an in-memory store whose Update serializes on a
// mutex, matching the per-participant atomicity contract.
type stubParticipantRepo struct {
	mu   sync.Mutex
	recs map[string]*participant.Record
}

func newStubParticipantRepo() *stubParticipantRepo {
	return &stubParticipantRepo{recs: map[string]*participant.Record{}}
}

func cloneRecord(rec *participant.Record) *participant.Record {
	data, err := json.Marshal(rec)
	if err != nil {
		panic(err)
	}
	out := &participant.Record{}
	if err := json.Unmarshal(data, out); err != nil {
		panic(err)
	}
	return out
}

func (s *stubParticipantRepo) Create(ctx context.Context, rec *participant.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.ChatID]; ok {
		return participant.ErrDuplicate
	}
	s.recs[rec.ChatID] = cloneRecord(rec)
	return nil
}

func (s *stubParticipantRepo) GetByID(ctx context.Context, chatID string) (*participant.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[chatID]
	if !ok {
		return nil, participant.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *stubParticipantRepo) Update(ctx context.Context, chatID string, mutate func(*participant.Record) error) (*participant.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[chatID]
	if !ok {
		return nil, participant.ErrNotFound
	}
	next := cloneRecord(rec)
	if err := mutate(next); err != nil {
		return nil, err
	}
	s.recs[chatID] = next
	return cloneRecord(next), nil
}

func (s *stubParticipantRepo) ListEnabled(ctx context.Context) ([]*participant.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*participant.Record, 0, len(s.recs))
	for _, rec := range s.recs {
		if rec.NotificationsEnabled {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

// conflictingRepo fails the first n Updates with ErrConflict, then delegates.
type conflictingRepo struct {
	*stubParticipantRepo
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingRepo) Update(ctx context.Context, chatID string, mutate func(*participant.Record) error) (*participant.Record, error) {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return nil, participant.ErrConflict
	}
	c.mu.Unlock()
	return c.stubParticipantRepo.Update(ctx, chatID, mutate)
}

type sentMessage struct {
	chatID string
	text   string
}

type stubGateway struct {
	mu       sync.Mutex
	sent     []sentMessage
	failWith error
}

func (g *stubGateway) SendMessage(chatID string, text string, _ *telebot.SendOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return g.failWith
	}
	g.sent = append(g.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (g *stubGateway) messages() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]sentMessage, len(g.sent))
	copy(out, g.sent)
	return out
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newTestLedger(repo participant.Repository, gw *stubGateway) *LedgerService {
	s := NewLedgerService(
		repo,
		gw,
		testLogger(),
		time.UTC,
		milestone.DefaultThresholds,
		5,
		milestone.Links{FinalSurveyURL: "https://example.org/final", SchedulingURL: "https://example.org/book"},
	)
	// Keep conflict-retry tests fast.
	s.newBackoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), maxConflictRetries)
	}
	return s
}

func seedParticipant(t *testing.T, repo participant.Repository, chatID string, priorDays int) {
	t.Helper()
	rec := participant.NewRecord(chatID, "Test Person", "testperson", participant.GroupA, time.Now())
	for i := 0; i < priorDays; i++ {
		rec.MarkActiveDay(fmt.Sprintf("2025-01-%02d", i+1))
	}
	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("seeding participant: %v", err)
	}
}

func TestRecordActivity_FirstActiveDay(t *testing.T) {
	repo := newStubParticipantRepo()
	gw := &stubGateway{}
	ledger := newTestLedger(repo, gw)
	seedParticipant(t, repo, "1001", 0)

	day := time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)
	res, err := ledger.RecordActivity(context.Background(), "1001", true, day)
	if err != nil {
		t.Fatalf("RecordActivity() error = %v", err)
	}
	if res.ActiveDayCount != 1 {
		t.Errorf("ActiveDayCount = %d, expected 1", res.ActiveDayCount)
	}
	if !res.NewlyActiveToday {
		t.Error("expected NewlyActiveToday = true")
	}
	if len(res.MilestonesFired) != 0 {
		t.Errorf("MilestonesFired = %v, expected none", res.MilestonesFired)
	}
	if got := len(gw.messages()); got != 0 {
		t.Errorf("gateway sends = %d, expected 0", got)
	}
}

func TestRecordActivity_SameDayIsIdempotent(t *testing.T) {
	repo := newStubParticipantRepo()
	gw := &stubGateway{}
	ledger := newTestLedger(repo, gw)
	seedParticipant(t, repo, "1001", 0)

	day := time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		res, err := ledger.RecordActivity(context.Background(), "1001", true, day.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatalf("RecordActivity() call %d error = %v", i, err)
		}
		if res.ActiveDayCount != 1 {
			t.Errorf("call %d: ActiveDayCount = %d, expected 1", i, res.ActiveDayCount)
		}
		if res.NewlyActiveToday != (i == 0) {
			t.Errorf("call %d: NewlyActiveToday = %v", i, res.NewlyActiveToday)
		}
	}

	rec, err := repo.GetByID(context.Background(), "1001")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got := len(rec.ActivityLog); got != 4 {
		t.Errorf("activity log length = %d, expected 4 (every report appends)", got)
	}
}

func TestRecordActivity_InactiveReportOnlyLogs(t *testing.T) {
	repo := newStubParticipantRepo()
	gw := &stubGateway{}
	ledger := newTestLedger(repo, gw)
	seedParticipant(t, repo, "1001", 6)

	res, err := ledger.RecordActivity(context.Background(), "1001", false, time.Now())
	if err != nil {
		t.Fatalf("RecordActivity() error = %v", err)
	}
	if res.ActiveDayCount != 6 {
		t.Errorf("ActiveDayCount = %d, expected 6", res.ActiveDayCount)
	}
	if res.NewlyActiveToday {
		t.Error("inactive report must not count a day")
	}
	if len(res.MilestonesFired) != 0 {
		t.Errorf("MilestonesFired = %v, expected none for inactive report", res.MilestonesFired)
	}

	rec, _ := repo.GetByID(context.Background(), "1001")
	if got := len(rec.ActivityLog); got != 1 {
		t.Errorf("activity log length = %d, expected 1", got)
	}
	if rec.ActivityLog[0].Active {
		t.Error("log entry should record active=false")
	}
}

func TestRecordActivity_MilestoneFiresOnce(t *testing.T) {
	repo := newStubParticipantRepo()
	gw := &stubGateway{}
	ledger := newTestLedger(repo, gw)
	seedParticipant(t, repo, "1001", 6)

	day := time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)
	res, err := ledger.RecordActivity(context.Background(), "1001", true, day)
	if err != nil {
		t.Fatalf("RecordActivity() error = %v", err)
	}
	if res.ActiveDayCount != 7 {
		t.Errorf("ActiveDayCount = %d, expected 7", res.ActiveDayCount)
	}
	if len(res.MilestonesFired) != 1 || res.MilestonesFired[0] != 7 {
		t.Fatalf("MilestonesFired = %v, expected [7]", res.MilestonesFired)
	}
	if got := len(gw.messages()); got != 1 {
		t.Fatalf("gateway sends = %d, expected 1", got)
	}

	// A duplicate report for the same day must not fire again.
	res, err = ledger.RecordActivity(context.Background(), "1001", true, day.Add(time.Hour))
	if err != nil {
		t.Fatalf("RecordActivity() error = %v", err)
	}
	if len(res.MilestonesFired) != 0 {
		t.Errorf("duplicate report fired milestones: %v", res.MilestonesFired)
	}
	if got := len(gw.messages()); got != 1 {
		t.Errorf("gateway sends after duplicate = %d, expected still 1", got)
	}
}

func TestRecordActivity_ConcurrentReportsFireMilestoneOnce(t *testing.T) {
	repo := newStubParticipantRepo()
	gw := &stubGateway{}
	ledger := newTestLedger(repo, gw)
	seedParticipant(t, repo, "1001", 6)

	day := time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)
	const workers = 16

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			_, err := ledger.RecordActivity(context.Background(), "1001", true, day.Add(time.Duration(offset)*time.Minute))
			if err != nil {
				t.Errorf("concurrent RecordActivity() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	rec, err := repo.GetByID(context.Background(), "1001")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got := rec.ActiveDayCount(); got != 7 {
		t.Errorf("ActiveDayCount = %d, expected 7 (not 6+%d)", got, workers)
	}
	if !rec.MilestonesSent[7] {
		t.Error("milestone 7 not marked sent")
	}
	if got := len(gw.messages()); got != 1 {
		t.Errorf("gateway sends = %d, expected exactly 1", got)
	}
	if got := len(rec.ActivityLog); got != workers {
		t.Errorf("activity log length = %d, expected %d", got, workers)
	}
}

func TestRecordActivity_CompletionExhaustsThresholds(t *testing.T) {
	repo := newStubParticipantRepo()
	gw := &stubGateway{}
	ledger := newTestLedger(repo, gw)
	seedParticipant(t, repo, "1001", 13)

	day := time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)
	res, err := ledger.RecordActivity(context.Background(), "1001", true, day)
	if err != nil {
		t.Fatalf("RecordActivity() error = %v", err)
	}
	if len(res.MilestonesFired) != 1 || res.MilestonesFired[0] != 14 {
		t.Fatalf("MilestonesFired = %v, expected [14]", res.MilestonesFired)
	}

	msgs := gw.messages()
	if len(msgs) != 1 {
		t.Fatalf("gateway sends = %d, expected 1", len(msgs))
	}
	if !strings.Contains(msgs[0].text, "https://example.org/final") {
		t.Errorf("completion message missing final survey link: %q", msgs[0].text)
	}
	if !strings.Contains(msgs[0].text, "https://example.org/book") {
		t.Errorf("completion message missing scheduling link: %q", msgs[0].text)
	}

	// Days keep counting afterwards, but nothing fires any more.
	res, err = ledger.RecordActivity(context.Background(), "1001", true, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("RecordActivity() error = %v", err)
	}
	if res.ActiveDayCount != 15 {
		t.Errorf("ActiveDayCount = %d, expected 15", res.ActiveDayCount)
	}
	if len(res.MilestonesFired) != 0 {
		t.Errorf("MilestonesFired = %v, expected none past the quota", res.MilestonesFired)
	}
	if got := len(gw.messages()); got != 1 {
		t.Errorf("gateway sends = %d, expected still 1", got)
	}
}

func TestRecordActivity_UnknownParticipant(t *testing.T) {
	repo := newStubParticipantRepo()
	ledger := newTestLedger(repo, &stubGateway{})

	_, err := ledger.RecordActivity(context.Background(), "9999", true, time.Now())
	if !errors.Is(err, participant.ErrNotFound) {
		t.Errorf("error = %v, expected participant.ErrNotFound", err)
	}
}

func TestRecordActivity_GatewayFailureIsSwallowed(t *testing.T) {
	repo := newStubParticipantRepo()
	gw := &stubGateway{failWith: fmt.Errorf("telegram is down")}
	ledger := newTestLedger(repo, gw)
	seedParticipant(t, repo, "1001", 6)

	res, err := ledger.RecordActivity(context.Background(), "1001", true, time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RecordActivity() error = %v, delivery failures must not surface", err)
	}
	if len(res.MilestonesFired) != 1 {
		t.Fatalf("MilestonesFired = %v, expected [7]", res.MilestonesFired)
	}

	// The milestone stays marked sent: the attempt is never repeated.
	rec, _ := repo.GetByID(context.Background(), "1001")
	if !rec.MilestonesSent[7] {
		t.Error("milestone 7 should remain marked sent after a failed delivery")
	}
}

func TestRecordActivity_RetriesConflicts(t *testing.T) {
	base := newStubParticipantRepo()
	repo := &conflictingRepo{stubParticipantRepo: base, conflicts: 2}
	gw := &stubGateway{}
	ledger := newTestLedger(repo, gw)
	seedParticipant(t, base, "1001", 0)

	res, err := ledger.RecordActivity(context.Background(), "1001", true, time.Now())
	if err != nil {
		t.Fatalf("RecordActivity() error = %v, expected conflicts to be retried", err)
	}
	if res.ActiveDayCount != 1 {
		t.Errorf("ActiveDayCount = %d, expected 1", res.ActiveDayCount)
	}
}

func TestRecordActivity_ExhaustedConflictsAreRetryable(t *testing.T) {
	base := newStubParticipantRepo()
	repo := &conflictingRepo{stubParticipantRepo: base, conflicts: 100}
	ledger := newTestLedger(repo, &stubGateway{})
	seedParticipant(t, base, "1001", 0)

	_, err := ledger.RecordActivity(context.Background(), "1001", true, time.Now())
	if !errors.Is(err, ErrRetryable) {
		t.Errorf("error = %v, expected ErrRetryable", err)
	}
}

func TestRecordAnswer(t *testing.T) {
	repo := newStubParticipantRepo()
	ledger := newTestLedger(repo, &stubGateway{})
	seedParticipant(t, repo, "1001", 0)

	if err := ledger.RecordAnswer(context.Background(), "1001", "GA_Q03"); err != nil {
		t.Fatalf("RecordAnswer() error = %v", err)
	}
	if err := ledger.RecordAnswer(context.Background(), "1001", "GA_Q03"); err != nil {
		t.Fatalf("RecordAnswer() second call error = %v", err)
	}

	rec, _ := repo.GetByID(context.Background(), "1001")
	if got := rec.QuestionCounts["GA_Q03"]; got != 2 {
		t.Errorf("count for GA_Q03 = %d, expected 2", got)
	}
}

func TestRecordAnswer_UnknownQuestion(t *testing.T) {
	repo := newStubParticipantRepo()
	ledger := newTestLedger(repo, &stubGateway{})
	seedParticipant(t, repo, "1001", 0)

	err := ledger.RecordAnswer(context.Background(), "1001", "NOT_A_QUESTION")
	if !errors.Is(err, participant.ErrNotFound) {
		t.Errorf("error = %v, expected a not-found error", err)
	}
}

func TestNextQuestions_LeastAnsweredFirst(t *testing.T) {
	repo := newStubParticipantRepo()
	ledger := newTestLedger(repo, &stubGateway{})
	seedParticipant(t, repo, "1001", 0)

	for _, qid := range []string{"GA_Q01", "GA_Q01", "GA_Q02"} {
		if err := ledger.RecordAnswer(context.Background(), "1001", qid); err != nil {
			t.Fatalf("RecordAnswer(%s) error = %v", qid, err)
		}
	}

	questions, err := ledger.NextQuestions(context.Background(), "1001")
	if err != nil {
		t.Fatalf("NextQuestions() error = %v", err)
	}
	if len(questions) != 5 {
		t.Fatalf("got %d questions, expected batch of 5", len(questions))
	}
	// Q01 (2 answers) and Q02 (1 answer) must be pushed behind the untouched rest.
	for _, q := range questions {
		if q == "GA_Q01" || q == "GA_Q02" {
			t.Errorf("answered question %s selected before unanswered ones", q)
		}
	}
}
