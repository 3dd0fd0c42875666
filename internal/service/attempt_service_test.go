package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/repository"
	"github.com/stemsi/exstem-guard/internal/repository/memory"
)

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *memCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[key]++
	return c.counts[key], nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store    *memory.Store
	attempts *AttemptService
	monitor  *MonitorService
	clock    *clock
	exam     model.Exam
	qs       []model.ExamQuestion
}

func newFixture(t *testing.T, password string) *fixture {
	t.Helper()
	start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	clk := &clock{t: start.Add(time.Minute)}

	exam := model.Exam{
		ID:              uuid.New(),
		Title:           "Fisika",
		Status:          model.ExamStatusLive,
		DurationMinutes: 60,
		PassPercentage:  60,
		ExamPassword:    password,
		StartDate:       start,
		EndDate:         start.Add(6 * time.Hour),
		EnableAutoSave:  true,
	}
	qs := []model.ExamQuestion{
		{QuestionID: uuid.New(), OrderNum: 1, Points: 5},
		{QuestionID: uuid.New(), OrderNum: 2, Points: 3},
		{QuestionID: uuid.New(), OrderNum: 3, Points: 2},
	}

	store := memory.New()
	store.AddExam(exam, qs...)

	log := zerolog.Nop()
	monitor := NewMonitorService(store, nil, nil, log)
	monitor.now = clk.Now
	attempts := NewAttemptService(store, monitor, &memCounter{}, AttemptPolicy{
		HeartbeatWindow:     5 * time.Minute,
		BruteForceThreshold: 2,
		BruteForceWindow:    15 * time.Minute,
	}, log)
	attempts.now = clk.Now

	return &fixture{store: store, attempts: attempts, monitor: monitor, clock: clk, exam: exam, qs: qs}
}

func (f *fixture) device(hash string) *model.DeviceSession {
	now := f.clock.Now()
	d := &model.DeviceSession{
		ID:           uuid.New(),
		UserID:       7,
		DeviceHash:   hash,
		Browser:      "Chrome",
		OS:           "Windows",
		DeviceType:   "desktop",
		IPAddress:    "10.0.0.1",
		FirstSeen:    now,
		LastActivity: now,
		IsActive:     true,
	}
	if err := f.store.DeviceSessions().Create(context.Background(), d); err != nil {
		panic(err)
	}
	return d
}

func (f *fixture) start(t *testing.T, d *model.DeviceSession, password *string) *StartResult {
	t.Helper()
	res, err := f.attempts.StartExam(context.Background(), f.exam.ID, 7, d, password)
	if err != nil {
		t.Fatalf("StartExam: %v", err)
	}
	return res
}

// assertReconciled checks that the attempt is IN_PROGRESS iff its session is ACTIVE.
func (f *fixture) assertReconciled(t *testing.T, attemptID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	a, err := f.store.Attempts().GetByID(ctx, attemptID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	sess, err := f.store.ActiveSessions().GetByExamAndStudent(ctx, a.ExamID, a.StudentID)
	active := err == nil && sess.IsActive() && sess.AttemptID == a.ID
	if (a.Status == model.AttemptInProgress) != active {
		t.Fatalf("Attempt status %s but session active=%v", a.Status, active)
	}
	if active && *a.SessionToken != sess.SessionToken {
		t.Fatalf("Session token not mirrored")
	}
}

func strPtr(s string) *string { return &s }

func TestStartExamPasswordScenario(t *testing.T) {
	f := newFixture(t, "secret")
	dev := f.device("dev-a")

	res := f.start(t, dev, nil)
	if res.Success || res.Outcome != OutcomePasswordRequired {
		t.Fatalf("Expected password required, got %+v", res)
	}
	if res.Attempt.Status != model.AttemptPasswordRequired || res.Attempt.PasswordAttempts != 0 || res.Attempt.StartTime != nil {
		t.Fatalf("Unexpected attempt: %+v", res.Attempt)
	}

	res = f.start(t, dev, strPtr("wrong"))
	if res.Success || res.Outcome != OutcomeWrongPassword {
		t.Fatalf("Expected wrong password, got %+v", res)
	}
	if res.Attempt.Status != model.AttemptPasswordRequired || res.Attempt.PasswordAttempts != 1 {
		t.Fatalf("Counter not persisted: %+v", res.Attempt)
	}

	stored, _ := f.store.Attempts().GetByID(context.Background(), res.Attempt.ID)
	if stored.PasswordAttempts != 1 || stored.LastPasswordAttempt == nil {
		t.Fatalf("Failure counter must survive the failed start: %+v", stored)
	}

	res = f.start(t, dev, strPtr("secret"))
	if !res.Success || res.Attempt.Status != model.AttemptInProgress || res.Attempt.StartTime == nil {
		t.Fatalf("Expected started attempt, got %+v", res)
	}
	if f.store.CountActive(f.exam.ID, 7) != 1 {
		t.Fatalf("Expected an active session")
	}
	f.assertReconciled(t, res.Attempt.ID)
}

func TestStartExamBruteForceEvent(t *testing.T) {
	f := newFixture(t, "secret")
	dev := f.device("dev-a")
	ctx := context.Background()

	var attemptID uuid.UUID
	for i := 0; i < 4; i++ {
		attemptID = f.start(t, dev, strPtr("nope")).Attempt.ID
	}

	events, _, err := f.monitor.List(ctx, model.EventFilter{AttemptID: &attemptID, EventType: model.EventPasswordBruteForce})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	// threshold 2: the 3rd and 4th failures exceed it
	if len(events) != 2 {
		t.Fatalf("Expected 2 brute force events, got %d", len(events))
	}
}

func TestStartExamSecondDeviceIsConcurrencyViolation(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	devA, devB := f.device("dev-a"), f.device("dev-b")

	first := f.start(t, devA, nil)
	startedAt := *first.Attempt.StartTime
	token := *first.Attempt.SessionToken

	f.clock.Advance(time.Minute)
	_, err := f.attempts.StartExam(ctx, f.exam.ID, 7, devB, nil)
	if !errors.Is(err, ErrConcurrencyViolation) {
		t.Fatalf("Expected concurrency violation, got %v", err)
	}
	var cv *ConcurrencyViolationError
	if !errors.As(err, &cv) || !cv.StartedAt.Equal(startedAt) {
		t.Fatalf("Violation should name device A's start time, got %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("Concurrency violation must not look like a validation error")
	}

	a, _ := f.store.Attempts().GetByID(ctx, first.Attempt.ID)
	if !a.IsBoundTo(devA.ID) || *a.SessionToken != token || a.Status != model.AttemptInProgress {
		t.Fatalf("Device A's attempt must be untouched: %+v", a)
	}
	f.assertReconciled(t, a.ID)

	events, _, _ := f.monitor.List(ctx, model.EventFilter{AttemptID: &a.ID, EventType: model.EventDeviceMismatch})
	if len(events) != 1 {
		t.Fatalf("Expected a device mismatch audit event, got %d", len(events))
	}
}

func TestStartExamSameDeviceResumes(t *testing.T) {
	f := newFixture(t, "")
	dev := f.device("dev-a")

	first := f.start(t, dev, nil)
	f.clock.Advance(2 * time.Minute)
	again := f.start(t, dev, nil)

	if !again.Success || again.Outcome != OutcomeResumed {
		t.Fatalf("Expected resume, got %+v", again)
	}
	if *again.Attempt.SessionToken != *first.Attempt.SessionToken || !again.Attempt.StartTime.Equal(*first.Attempt.StartTime) {
		t.Fatalf("Resume must keep token and start time")
	}
}

func TestStartExamTakeoverAfterLapse(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	devA, devB := f.device("dev-a"), f.device("dev-b")

	first := f.start(t, devA, nil)
	f.clock.Advance(6 * time.Minute)

	res := f.start(t, devB, nil)
	if !res.Success || res.Outcome != OutcomeTakenOver {
		t.Fatalf("Expected takeover, got %+v", res)
	}
	if !res.Attempt.IsBoundTo(devB.ID) || *res.Attempt.SessionToken == *first.Attempt.SessionToken {
		t.Fatalf("Takeover must rebind and mint a new token")
	}
	if !res.Attempt.StartTime.Equal(*first.Attempt.StartTime) {
		t.Fatalf("Takeover must keep the original start time")
	}
	f.assertReconciled(t, res.Attempt.ID)

	if _, err := f.attempts.SaveDraft(ctx, res.Attempt.ID, f.qs[0].QuestionID, 7, "dev-a", "x"); !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("Old device must be locked out, got %v", err)
	}
}

func TestConcurrentStartOnlyOneWins(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	const devices = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		wins       int
		violations int
	)
	for i := 0; i < devices; i++ {
		d := f.device(uuid.NewString())
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.attempts.StartExam(ctx, f.exam.ID, 7, d, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Success:
				wins++
			case errors.Is(err, ErrConcurrencyViolation):
				violations++
			default:
				t.Errorf("Unexpected result: res=%+v err=%v", res, err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || violations != devices-1 {
		t.Fatalf("Expected 1 winner and %d violations, got %d/%d", devices-1, wins, violations)
	}
	if n := f.store.CountActive(f.exam.ID, 7); n != 1 {
		t.Fatalf("Expected exactly one active session, got %d", n)
	}
}

func TestStartExamRollsBackWhenReconciliationFails(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	boom := errors.New("disk full")
	f.store.FailOn("active_sessions.upsert", boom)

	if _, err := f.attempts.StartExam(ctx, f.exam.ID, 7, f.device("dev-a"), nil); !errors.Is(err, boom) {
		t.Fatalf("Expected storage error, got %v", err)
	}
	if _, err := f.store.Attempts().GetByExamAndStudent(ctx, f.exam.ID, 7); err == nil {
		t.Fatalf("Attempt write must roll back with the failed reconciliation")
	}
	if f.store.CountActive(f.exam.ID, 7) != 0 {
		t.Fatalf("No session row may survive a rolled back start")
	}
}

func TestStartExamUniqueViolationIsConcurrencyViolation(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.store.FailOn("active_sessions.upsert", repository.ErrUniqueViolation)

	_, err := f.attempts.StartExam(ctx, f.exam.ID, 7, f.device("dev-a"), nil)
	if !errors.Is(err, ErrConcurrencyViolation) {
		t.Fatalf("Expected ErrConcurrencyViolation, got %v", err)
	}
	var cv *ConcurrencyViolationError
	if !errors.As(err, &cv) || cv.StartedAt.IsZero() {
		t.Fatalf("Expected *ConcurrencyViolationError with a start time, got %#v", err)
	}
	if _, err := f.store.Attempts().GetByExamAndStudent(ctx, f.exam.ID, 7); err == nil {
		t.Fatalf("Attempt write must roll back on a unique violation")
	}
	if f.store.CountActive(f.exam.ID, 7) != 0 {
		t.Fatalf("No session row may survive a rejected start")
	}
}

func TestStartExamOutsideWindow(t *testing.T) {
	f := newFixture(t, "")
	f.clock.Advance(24 * time.Hour)
	_, err := f.attempts.StartExam(context.Background(), f.exam.ID, 7, f.device("dev-a"), nil)
	if !errors.Is(err, ErrExamNotAvailable) {
		t.Fatalf("Expected ErrExamNotAvailable, got %v", err)
	}
}

func TestStartExamRejectsBrokenDefinition(t *testing.T) {
	f := newFixture(t, "")
	f.exam.DurationMinutes = 0
	f.store.AddExam(f.exam, f.qs...)

	_, err := f.attempts.StartExam(context.Background(), f.exam.ID, 7, f.device("dev-a"), nil)
	if !errors.Is(err, ErrExamNotAvailable) || !errors.Is(err, model.ErrExamDuration) {
		t.Fatalf("Expected ErrExamNotAvailable for a zero-length exam, got %v", err)
	}
}

func TestTimeRemainingAutoSubmitsLazily(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	res := f.start(t, f.device("dev-a"), nil)

	f.clock.Advance(61 * time.Minute)
	left, err := f.attempts.TimeRemaining(ctx, res.Attempt.ID, 7, "dev-a")
	if err != nil {
		t.Fatalf("TimeRemaining: %v", err)
	}
	if left != 0 {
		t.Fatalf("Expected 0 seconds left, got %v", left)
	}

	a, _ := f.store.Attempts().GetByID(ctx, res.Attempt.ID)
	if a.Status != model.AttemptAutoSubmitted || a.EndTime == nil {
		t.Fatalf("Expected AUTO_SUBMITTED, got %+v", a)
	}
	f.assertReconciled(t, a.ID)
}

func TestTerminateSession(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	dev := f.device("dev-a")
	res := f.start(t, dev, nil)

	a, err := f.attempts.TerminateSession(ctx, res.Attempt.ID, "policy violation")
	if err != nil {
		t.Fatalf("TerminateSession: %v", err)
	}
	if a.Status != model.AttemptTerminated || a.TerminationReason != "policy violation" || a.EndTime == nil {
		t.Fatalf("Unexpected terminated attempt: %+v", a)
	}
	sess, _ := f.store.ActiveSessions().GetByExamAndStudent(ctx, f.exam.ID, 7)
	if sess.IsActive() || sess.State != model.ActiveSessionTerminated {
		t.Fatalf("Session must be deactivated, got %s", sess.State)
	}

	f.clock.Advance(time.Minute)
	again, err := f.attempts.TerminateSession(ctx, res.Attempt.ID, "again")
	if err != nil {
		t.Fatalf("Second terminate must not fail: %v", err)
	}
	if again.TerminationReason != "policy violation" || !again.EndTime.Equal(*a.EndTime) {
		t.Fatalf("Second terminate must not change state: %+v", again)
	}
	f.assertReconciled(t, a.ID)

	if _, err := f.attempts.StartExam(ctx, f.exam.ID, 7, dev, nil); !errors.Is(err, ErrAttemptClosed) {
		t.Fatalf("Terminated attempt must not restart, got %v", err)
	}
}

func TestResponsesDraftFinalAndFilter(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	res := f.start(t, f.device("dev-a"), nil)
	id := res.Attempt.ID

	all, err := f.attempts.ListResponses(ctx, id, 7, "dev-a", nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("Expected 3 pre-created responses, got %d (%v)", len(all), err)
	}

	draft, err := f.attempts.SaveDraft(ctx, id, f.qs[0].QuestionID, 7, "dev-a", "X")
	if err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if *draft.DraftAnswer != "X" || draft.AutoSaveCount != 1 {
		t.Fatalf("Unexpected draft: %+v", draft)
	}

	for _, q := range f.qs[:2] {
		final, err := f.attempts.FinalizeAnswer(ctx, id, q.QuestionID, 7, "dev-a", "Y")
		if err != nil {
			t.Fatalf("FinalizeAnswer: %v", err)
		}
		if *final.StudentAnswer != "Y" || final.DraftAnswer != nil {
			t.Fatalf("Unexpected final: %+v", final)
		}
	}

	unsubmitted := false
	open, err := f.attempts.ListResponses(ctx, id, 7, "dev-a", &unsubmitted)
	if err != nil || len(open) != 1 || open[0].QuestionID != f.qs[2].QuestionID {
		t.Fatalf("Expected exactly one unsubmitted response, got %+v (%v)", open, err)
	}

	a, _ := f.store.Attempts().GetByID(ctx, id)
	if a.AutoSaveCount != 1 || a.LastAutoSave == nil {
		t.Fatalf("Attempt autosave counters not bumped: %+v", a)
	}
}

func TestFinalizeLockPolicy(t *testing.T) {
	f := newFixture(t, "")
	f.attempts.policy.LockOnFinalize = true
	ctx := context.Background()
	res := f.start(t, f.device("dev-a"), nil)

	q := f.qs[0].QuestionID
	if _, err := f.attempts.FinalizeAnswer(ctx, res.Attempt.ID, q, 7, "dev-a", "A"); err != nil {
		t.Fatalf("FinalizeAnswer: %v", err)
	}
	if _, err := f.attempts.FinalizeAnswer(ctx, res.Attempt.ID, q, 7, "dev-a", "B"); !errors.Is(err, ErrAnswerLocked) {
		t.Fatalf("Expected ErrAnswerLocked, got %v", err)
	}
}

func TestWritesRequireLiveSession(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	dev := f.device("dev-a")
	res := f.start(t, dev, nil)

	f.clock.Advance(4 * time.Minute)
	if _, err := f.attempts.Heartbeat(ctx, res.Attempt.ID, 7, "dev-a"); err != nil {
		t.Fatalf("Heartbeat inside window: %v", err)
	}

	f.clock.Advance(6 * time.Minute)
	if _, err := f.attempts.SaveDraft(ctx, res.Attempt.ID, f.qs[0].QuestionID, 7, "dev-a", "late"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired, got %v", err)
	}
	sess, _ := f.store.ActiveSessions().GetByExamAndStudent(ctx, f.exam.ID, 7)
	if sess.State != model.ActiveSessionExpired {
		t.Fatalf("Lapsed session must be recorded as EXPIRED, got %s", sess.State)
	}

	resumed := f.start(t, dev, nil)
	if resumed.Outcome != OutcomeResumed {
		t.Fatalf("Expected resume after lapse, got %s", resumed.Outcome)
	}
	if _, err := f.attempts.SaveDraft(ctx, res.Attempt.ID, f.qs[0].QuestionID, 7, "dev-a", "back"); err != nil {
		t.Fatalf("SaveDraft after resume: %v", err)
	}
	f.assertReconciled(t, res.Attempt.ID)
}

func TestSubmitRequiresLiveSession(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	dev := f.device("dev-a")
	res := f.start(t, dev, nil)

	f.clock.Advance(10 * time.Minute)
	if _, err := f.attempts.Submit(ctx, res.Attempt.ID, 7, "dev-a"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired, got %v", err)
	}
	a, _ := f.store.Attempts().GetByID(ctx, res.Attempt.ID)
	if a.Status != model.AttemptInProgress || a.EndTime != nil {
		t.Fatalf("Lapsed submit must not complete the attempt, got %s", a.Status)
	}
	sess, _ := f.store.ActiveSessions().GetByExamAndStudent(ctx, f.exam.ID, 7)
	if sess.State != model.ActiveSessionExpired {
		t.Fatalf("Lapsed session must be recorded as EXPIRED, got %s", sess.State)
	}

	if resumed := f.start(t, dev, nil); resumed.Outcome != OutcomeResumed {
		t.Fatalf("Expected resume after lapse, got %s", resumed.Outcome)
	}
	summary, err := f.attempts.Submit(ctx, res.Attempt.ID, 7, "dev-a")
	if err != nil {
		t.Fatalf("Submit after resume: %v", err)
	}
	if summary.Attempt.Status != model.AttemptSubmitted {
		t.Fatalf("Expected SUBMITTED, got %s", summary.Attempt.Status)
	}
	f.assertReconciled(t, res.Attempt.ID)
}

func TestDraftSavesWithAutoSaveDisabled(t *testing.T) {
	f := newFixture(t, "")
	f.exam.EnableAutoSave = false
	f.store.AddExam(f.exam, f.qs...)
	ctx := context.Background()
	res := f.start(t, f.device("dev-a"), nil)
	q := f.qs[0].QuestionID

	tests := []struct {
		name    string
		save    func(context.Context, uuid.UUID, uuid.UUID, int, string, string) (*model.QuestionResponse, error)
		wantErr error
	}{
		{"explicit draft", f.attempts.SaveDraft, nil},
		{"periodic autosave", f.attempts.AutoSave, ErrAutoSaveDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.save(ctx, res.Attempt.ID, q, 7, "dev-a", "draft")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && (resp.DraftAnswer == nil || *resp.DraftAnswer != "draft") {
				t.Fatalf("Draft not stored: %+v", resp)
			}
		})
	}

	a, _ := f.store.Attempts().GetByID(ctx, res.Attempt.ID)
	if a.AutoSaveCount != 1 {
		t.Fatalf("Only the accepted draft counts, got %d", a.AutoSaveCount)
	}
}

func TestListResponsesTouchesSession(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	res := f.start(t, f.device("dev-a"), nil)
	id := res.Attempt.ID

	f.clock.Advance(4 * time.Minute)
	if _, err := f.attempts.ListResponses(ctx, id, 7, "dev-a", nil); err != nil {
		t.Fatalf("ListResponses: %v", err)
	}
	sess, _ := f.store.ActiveSessions().GetByExamAndStudent(ctx, f.exam.ID, 7)
	if !sess.LastActivity.Equal(f.clock.Now()) {
		t.Fatalf("Listing must refresh the session, last activity %s", sess.LastActivity)
	}

	f.clock.Advance(4 * time.Minute)
	if _, err := f.attempts.SaveDraft(ctx, id, f.qs[0].QuestionID, 7, "dev-a", "X"); err != nil {
		t.Fatalf("SaveDraft inside the refreshed window: %v", err)
	}

	f.clock.Advance(time.Hour)
	if _, err := f.attempts.ListResponses(ctx, id, 7, "dev-a", nil); err != nil {
		t.Fatalf("ListResponses after budget: %v", err)
	}
	a, _ := f.store.Attempts().GetByID(ctx, id)
	if a.Status != model.AttemptAutoSubmitted {
		t.Fatalf("Listing an expired attempt must auto-submit it, got %s", a.Status)
	}
	f.assertReconciled(t, id)
}

func TestSubmitAndResult(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	res := f.start(t, f.device("dev-a"), nil)
	id := res.Attempt.ID

	if _, err := f.attempts.GetResult(ctx, id, 7); !errors.Is(err, ErrResultUnavailable) {
		t.Fatalf("Expected ErrResultUnavailable, got %v", err)
	}

	_, _ = f.attempts.FinalizeAnswer(ctx, id, f.qs[0].QuestionID, 7, "dev-a", "A")
	_, _ = f.attempts.FinalizeAnswer(ctx, id, f.qs[1].QuestionID, 7, "dev-a", "B")

	summary, err := f.attempts.Submit(ctx, id, 7, "dev-a")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if summary.Attempt.Status != model.AttemptSubmitted || summary.Answered != 2 || summary.Unanswered != 1 {
		t.Fatalf("Unexpected summary: %+v", summary)
	}
	f.assertReconciled(t, id)

	if _, err := f.attempts.RecordGrade(ctx, id, f.qs[0].QuestionID, 6); !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected validation error for points above max, got %v", err)
	}
	if _, err := f.attempts.RecordGrade(ctx, id, f.qs[0].QuestionID, 5); err != nil {
		t.Fatalf("RecordGrade: %v", err)
	}
	if _, err := f.attempts.RecordGrade(ctx, id, f.qs[1].QuestionID, 2); err != nil {
		t.Fatalf("RecordGrade: %v", err)
	}

	result, err := f.attempts.GetResult(ctx, id, 7)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if result.Score != 70 || !result.Passed {
		t.Fatalf("Expected 70%% passing score, got %+v", result)
	}

	if _, err := f.attempts.Submit(ctx, id, 7, "dev-a"); !errors.Is(err, ErrAttemptClosed) {
		t.Fatalf("Expected ErrAttemptClosed on second submit, got %v", err)
	}
}

func TestSubmitAfterBudgetIsAutoSubmitted(t *testing.T) {
	f := newFixture(t, "")
	res := f.start(t, f.device("dev-a"), nil)
	f.clock.Advance(90 * time.Minute)

	summary, err := f.attempts.Submit(context.Background(), res.Attempt.ID, 7, "dev-a")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if summary.Attempt.Status != model.AttemptAutoSubmitted {
		t.Fatalf("Expected AUTO_SUBMITTED, got %s", summary.Attempt.Status)
	}
}

func TestOtherStudentCannotSeeAttempt(t *testing.T) {
	f := newFixture(t, "")
	res := f.start(t, f.device("dev-a"), nil)

	if _, err := f.attempts.GetState(context.Background(), res.Attempt.ID, 99, "dev-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestSweeps(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	res := f.start(t, f.device("dev-a"), nil)

	f.clock.Advance(10 * time.Minute)
	n, err := f.attempts.ExpireLapsedSessions(ctx, 100)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 expired session, got %d (%v)", n, err)
	}

	f.clock.Advance(time.Hour)
	n, err = f.attempts.SweepExpired(ctx, 100)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 swept attempt, got %d (%v)", n, err)
	}
	a, _ := f.store.Attempts().GetByID(ctx, res.Attempt.ID)
	if a.Status != model.AttemptAutoSubmitted {
		t.Fatalf("Expected AUTO_SUBMITTED, got %s", a.Status)
	}
	f.assertReconciled(t, a.ID)
}
