package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/repository"
)

// AttemptPolicy carries the tunables of the attempt lifecycle.
type AttemptPolicy struct {
	HeartbeatWindow     time.Duration
	BruteForceThreshold int
	BruteForceWindow    time.Duration
	LockOnFinalize      bool
}

// PolicyFromConfig builds an AttemptPolicy from the loaded config.
func PolicyFromConfig(cfg *config.Config) AttemptPolicy {
	return AttemptPolicy{
		HeartbeatWindow:     cfg.HeartbeatWindow,
		BruteForceThreshold: cfg.BruteForceThreshold,
		BruteForceWindow:    cfg.BruteForceWindow,
		LockOnFinalize:      cfg.LockOnFinalize,
	}
}

// StartOutcome names what StartExam did.
type StartOutcome string

const (
	OutcomeStarted          StartOutcome = "STARTED"
	OutcomeResumed          StartOutcome = "RESUMED"
	OutcomeTakenOver        StartOutcome = "TAKEN_OVER"
	OutcomePasswordRequired StartOutcome = "PASSWORD_REQUIRED"
	OutcomeWrongPassword    StartOutcome = "WRONG_PASSWORD"
	OutcomeTimeExpired      StartOutcome = "TIME_EXPIRED"
)

// StartResult is the typed result of StartExam. Policy failures come back as
// Success=false with a nil error; concurrency violations come back as a
// *ConcurrencyViolationError.
type StartResult struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Outcome StartOutcome       `json:"outcome"`
	Attempt *model.ExamAttempt `json:"attempt"`
	Exam    *model.Exam        `json:"-"`
}

// AttemptService drives the attempt state machine. Every attempt write goes
// through saveAttempt, which reconciles the active session in the same
// transaction.
type AttemptService struct {
	store    repository.Store
	monitor  *MonitorService
	failures FailureCounter
	policy   AttemptPolicy
	log      zerolog.Logger
	now      func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(store repository.Store, monitor *MonitorService, failures FailureCounter, policy AttemptPolicy, log zerolog.Logger) *AttemptService {
	return &AttemptService{
		store:    store,
		monitor:  monitor,
		failures: failures,
		policy:   policy,
		log:      log.With().Str("component", "attempt_service").Logger(),
		now:      time.Now,
	}
}

// ─── Start ───────────────────────────────────────────────────────────────────

// StartExam starts, resumes or takes over the student's attempt at an exam
// from the given device.
func (s *AttemptService) StartExam(ctx context.Context, examID uuid.UUID, studentID int, device *model.DeviceSession, password *string) (*StartResult, error) {
	var (
		result      *StartResult
		pending     []*model.MonitoringEvent
		wrongPasswd bool
	)

	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		pending = nil
		now := s.now()

		exam, err := tx.Exams().GetByID(ctx, examID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get exam: %w", err)
		}

		attempt, err := s.loadOrCreateAttempt(ctx, tx, examID, studentID, now)
		if err != nil {
			return err
		}
		if attempt.Status.IsTerminal() {
			return ErrAttemptClosed
		}

		if attempt.Status == model.AttemptInProgress {
			var ev *model.MonitoringEvent
			result, ev, err = s.continueInProgress(ctx, tx, exam, attempt, device, now)
			if ev != nil {
				pending = append(pending, ev)
			}
			return err
		}

		if err := exam.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrExamNotAvailable, err)
		}
		if !exam.IsActive(now) {
			return ErrExamNotAvailable
		}

		if exam.RequiresPassword() {
			if password == nil {
				if err := attempt.RequirePassword(now); err != nil {
					return err
				}
				if err := s.saveAttempt(ctx, tx, attempt, now); err != nil {
					return err
				}
				result = &StartResult{Message: "This exam requires a password", Outcome: OutcomePasswordRequired, Attempt: attempt, Exam: exam}
				return nil
			}
			if !exam.CheckPassword(*password) {
				attempt.RecordPasswordFailure(now)
				if err := s.saveAttempt(ctx, tx, attempt, now); err != nil {
					return err
				}
				wrongPasswd = true
				result = &StartResult{Message: "Incorrect exam password", Outcome: OutcomeWrongPassword, Attempt: attempt, Exam: exam}
				return nil
			}
		}

		if err := s.checkNoConflictingSession(ctx, tx, attempt, device, now); err != nil {
			return err
		}
		if err := attempt.Begin(device, device.IPAddress, now); err != nil {
			return err
		}
		if err := s.allocateResponses(ctx, tx, attempt, now); err != nil {
			return err
		}
		if err := s.saveAttempt(ctx, tx, attempt, now); err != nil {
			return err
		}

		result = &StartResult{Success: true, Message: "Exam started", Outcome: OutcomeStarted, Attempt: attempt, Exam: exam}
		return nil
	})

	if err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			err = s.violationFromStore(ctx, examID, studentID)
		}
		if errors.Is(err, ErrConcurrencyViolation) {
			s.log.Warn().Str("exam_id", examID.String()).Int("student_id", studentID).
				Str("device_id", device.ID.String()).Msg("Concurrent start rejected")
			s.recordRejectedDevice(ctx, examID, studentID, device)
		}
		return nil, err
	}

	for _, ev := range pending {
		s.monitor.publish(ctx, ev)
	}
	if wrongPasswd {
		s.checkBruteForce(ctx, result.Attempt)
	}

	s.log.Info().
		Str("attempt_id", result.Attempt.ID.String()).
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Str("outcome", string(result.Outcome)).
		Str("status", string(result.Attempt.Status)).
		Msg("Start exam handled")

	return result, nil
}

func (s *AttemptService) loadOrCreateAttempt(ctx context.Context, tx repository.Store, examID uuid.UUID, studentID int, now time.Time) (*model.ExamAttempt, error) {
	if _, err := tx.Attempts().CreateIfAbsent(ctx, model.NewExamAttempt(examID, studentID, now)); err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	attempt, err := tx.Attempts().GetByExamAndStudentForUpdate(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("lock attempt: %w", err)
	}
	return attempt, nil
}

// continueInProgress handles a start request against an IN_PROGRESS attempt:
// expire it, resume it on the bound device, or hand it to a new device when
// the previous session is no longer live.
func (s *AttemptService) continueInProgress(ctx context.Context, tx repository.Store, exam *model.Exam, attempt *model.ExamAttempt, device *model.DeviceSession, now time.Time) (*StartResult, *model.MonitoringEvent, error) {
	if attempt.TimeRemaining(exam.Duration(), now) == 0 {
		if err := attempt.Complete(true, now); err != nil {
			return nil, nil, err
		}
		if err := s.saveAttempt(ctx, tx, attempt, now); err != nil {
			return nil, nil, err
		}
		return &StartResult{Message: "Time is up, the attempt was submitted automatically", Outcome: OutcomeTimeExpired, Attempt: attempt, Exam: exam}, nil, nil
	}

	if attempt.IsBoundTo(device.ID) {
		if err := s.saveAttempt(ctx, tx, attempt, now); err != nil {
			return nil, nil, err
		}
		return &StartResult{Success: true, Message: "Exam resumed", Outcome: OutcomeResumed, Attempt: attempt, Exam: exam}, nil, nil
	}

	if err := s.checkNoConflictingSession(ctx, tx, attempt, device, now); err != nil {
		return nil, nil, err
	}

	previous := attempt.DeviceSessionID
	if err := attempt.Rebind(device, device.IPAddress, now); err != nil {
		return nil, nil, err
	}
	if err := s.saveAttempt(ctx, tx, attempt, now); err != nil {
		return nil, nil, err
	}

	evidence, _ := json.Marshal(map[string]any{
		"reason":             "session_takeover",
		"previous_device_id": previous,
		"device_id":          device.ID,
		"ip_address":         device.IPAddress,
	})
	ev, err := s.monitor.recordTx(ctx, tx, attempt, model.EventDeviceMismatch, 6, evidence)
	if err != nil {
		return nil, nil, err
	}
	return &StartResult{Success: true, Message: "Exam resumed on this device", Outcome: OutcomeTakenOver, Attempt: attempt, Exam: exam}, ev, nil
}

// checkNoConflictingSession rejects the transition into IN_PROGRESS when a
// live session for the same (student, exam) belongs to another attempt or
// another device.
func (s *AttemptService) checkNoConflictingSession(ctx context.Context, tx repository.Store, attempt *model.ExamAttempt, device *model.DeviceSession, now time.Time) error {
	sess, err := tx.ActiveSessions().GetByExamAndStudent(ctx, attempt.ExamID, attempt.StudentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get active session: %w", err)
	}
	if !sess.IsActive() || sess.Lapsed(now, s.policy.HeartbeatWindow) {
		return nil
	}
	if sess.AttemptID == attempt.ID && sess.DeviceSessionID == device.ID {
		return nil
	}
	return &ConcurrencyViolationError{StartedAt: sess.StartedAt}
}

func (s *AttemptService) violationFromStore(ctx context.Context, examID uuid.UUID, studentID int) error {
	sess, err := s.store.ActiveSessions().GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		return &ConcurrencyViolationError{StartedAt: s.now()}
	}
	return &ConcurrencyViolationError{StartedAt: sess.StartedAt}
}

func (s *AttemptService) allocateResponses(ctx context.Context, tx repository.Store, attempt *model.ExamAttempt, now time.Time) error {
	questions, err := tx.Exams().ListQuestions(ctx, attempt.ExamID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	slots := make([]model.QuestionResponse, 0, len(questions))
	for _, q := range questions {
		slots = append(slots, model.NewQuestionResponse(attempt.ID, q, now))
	}
	if err := tx.Responses().CreateBatch(ctx, slots); err != nil {
		return fmt.Errorf("allocate responses: %w", err)
	}
	return nil
}

// recordRejectedDevice audits a start refused for concurrency. It runs after
// the refused transaction rolled back.
func (s *AttemptService) recordRejectedDevice(ctx context.Context, examID uuid.UUID, studentID int, device *model.DeviceSession) {
	attempt, err := s.store.Attempts().GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load attempt for device mismatch audit")
		return
	}
	evidence, _ := json.Marshal(map[string]any{
		"reason":     "concurrent_start_rejected",
		"device_id":  device.ID,
		"browser":    device.Browser,
		"os":         device.OS,
		"ip_address": device.IPAddress,
	})
	if _, err := s.monitor.Record(ctx, attempt.ID, model.EventDeviceMismatch, 7, evidence); err != nil {
		s.log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to record device mismatch")
	}
}

// checkBruteForce counts a wrong password inside the policy window and emits
// a PASSWORD_BRUTE_FORCE event once the threshold is exceeded.
func (s *AttemptService) checkBruteForce(ctx context.Context, attempt *model.ExamAttempt) {
	if s.failures == nil || s.policy.BruteForceThreshold <= 0 {
		return
	}
	key := config.CacheKey.PasswordFailuresKey(attempt.ExamID.String(), attempt.StudentID)
	count, err := s.failures.Incr(ctx, key, s.policy.BruteForceWindow)
	if err != nil {
		s.log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to count password failure")
		return
	}
	over := int(count) - s.policy.BruteForceThreshold
	if over <= 0 {
		return
	}

	severity := min(model.MaxSeverity, 5+over)
	evidence, _ := json.Marshal(map[string]any{
		"failures_in_window": count,
		"window":             s.policy.BruteForceWindow.String(),
		"password_attempts":  attempt.PasswordAttempts,
		"ip_address":         attempt.IPAddress,
	})
	if _, err := s.monitor.Record(ctx, attempt.ID, model.EventPasswordBruteForce, severity, evidence); err != nil {
		s.log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to record brute force event")
	}
}

// ─── Reconciliation ──────────────────────────────────────────────────────────

// saveAttempt persists the attempt and reconciles its active session inside
// the same transaction.
func (s *AttemptService) saveAttempt(ctx context.Context, tx repository.Store, attempt *model.ExamAttempt, now time.Time) error {
	if err := tx.Attempts().Update(ctx, attempt); err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	return s.reconcileActiveSession(ctx, tx, attempt, now)
}

// reconcileActiveSession derives the (student, exam) claim from attempt state:
// IN_PROGRESS with a device claims it, a terminal status closes it.
func (s *AttemptService) reconcileActiveSession(ctx context.Context, tx repository.Store, attempt *model.ExamAttempt, now time.Time) error {
	sess, err := tx.ActiveSessions().GetByExamAndStudent(ctx, attempt.ExamID, attempt.StudentID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("get active session: %w", err)
	}

	switch {
	case attempt.Status == model.AttemptInProgress && attempt.DeviceSessionID != nil:
		if sess == nil {
			sess = &model.ActiveExamSession{ID: uuid.New()}
		}
		sess.Claim(attempt, now)
		if err := tx.ActiveSessions().Upsert(ctx, sess); err != nil {
			return fmt.Errorf("upsert active session: %w", err)
		}
	case attempt.Status.IsTerminal():
		if sess == nil || sess.State == model.ActiveSessionTerminated {
			return nil
		}
		reason := attempt.TerminationReason
		if reason == "" {
			reason = string(attempt.Status)
		}
		sess.Close(reason, now)
		if err := tx.ActiveSessions().Update(ctx, sess); err != nil {
			return fmt.Errorf("close active session: %w", err)
		}
	}
	return nil
}

// ─── In-progress operations ──────────────────────────────────────────────────

// access is the per-request context of a student touching their attempt.
type access struct {
	studentID  int
	deviceHash string
}

// loadOwned locks the attempt and hides attempts of other students.
func (s *AttemptService) loadOwned(ctx context.Context, tx repository.Store, attemptID uuid.UUID, studentID int) (*model.ExamAttempt, *model.Exam, error) {
	attempt, err := tx.Attempts().GetForUpdate(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("get attempt: %w", err)
	}
	if studentID != 0 && attempt.StudentID != studentID {
		return nil, nil, ErrNotFound
	}
	exam, err := tx.Exams().GetByID(ctx, attempt.ExamID)
	if err != nil {
		return nil, nil, fmt.Errorf("get exam: %w", err)
	}
	return attempt, exam, nil
}

// expireIfDue auto-submits an IN_PROGRESS attempt whose budget is gone.
func (s *AttemptService) expireIfDue(ctx context.Context, tx repository.Store, attempt *model.ExamAttempt, exam *model.Exam, now time.Time) (bool, error) {
	if attempt.Status != model.AttemptInProgress || attempt.TimeRemaining(exam.Duration(), now) > 0 {
		return false, nil
	}
	if err := attempt.Complete(true, now); err != nil {
		return false, err
	}
	if err := s.saveAttempt(ctx, tx, attempt, now); err != nil {
		return false, err
	}
	s.log.Info().Str("attempt_id", attempt.ID.String()).Msg("Attempt auto-submitted on expiry")
	return true, nil
}

// checkLiveSession verifies the caller's session for a write. A lapsed
// session is moved to EXPIRED and reported through expired so the caller can
// commit that before failing.
func (s *AttemptService) checkLiveSession(ctx context.Context, tx repository.Store, attempt *model.ExamAttempt, deviceHash string, now time.Time) (expired bool, err error) {
	if !attempt.CanAccessFromDevice(deviceHash) {
		return false, ErrDeviceMismatch
	}
	sess, err := tx.ActiveSessions().GetByExamAndStudent(ctx, attempt.ExamID, attempt.StudentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("get active session: %w", err)
	}
	if sess.IsValid(deviceHash, now, s.policy.HeartbeatWindow) {
		return false, nil
	}
	if sess.IsActive() && sess.Lapsed(now, s.policy.HeartbeatWindow) {
		sess.Expire(now)
		if err := tx.ActiveSessions().Update(ctx, sess); err != nil {
			return false, fmt.Errorf("expire active session: %w", err)
		}
		s.log.Info().Str("attempt_id", attempt.ID.String()).Msg("Active session heartbeat lapsed")
	}
	return true, nil
}

// mutate runs fn against a locked, owned, live IN_PROGRESS attempt. State
// changes made before a deferred failure (expiry, lapse) are committed.
func (s *AttemptService) mutate(ctx context.Context, attemptID uuid.UUID, acc access, fn func(tx repository.Store, attempt *model.ExamAttempt, exam *model.Exam, now time.Time) error) error {
	var deferred error
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		deferred = nil
		now := s.now()

		attempt, exam, err := s.loadOwned(ctx, tx, attemptID, acc.studentID)
		if err != nil {
			return err
		}
		if attempt.Status != model.AttemptInProgress {
			return ErrAttemptClosed
		}
		if !attempt.CanAccessFromDevice(acc.deviceHash) {
			return ErrDeviceMismatch
		}
		if expired, err := s.expireIfDue(ctx, tx, attempt, exam, now); err != nil {
			return err
		} else if expired {
			deferred = ErrAttemptClosed
			return nil
		}
		lapsed, err := s.checkLiveSession(ctx, tx, attempt, acc.deviceHash, now)
		if err != nil {
			return err
		}
		if lapsed {
			deferred = ErrSessionExpired
			return nil
		}
		return fn(tx, attempt, exam, now)
	})
	if err != nil {
		return err
	}
	return deferred
}

// Heartbeat refreshes the active session of a live attempt.
func (s *AttemptService) Heartbeat(ctx context.Context, attemptID uuid.UUID, studentID int, deviceHash string) (*model.AttemptState, error) {
	var state *model.AttemptState
	err := s.mutate(ctx, attemptID, access{studentID, deviceHash}, func(tx repository.Store, attempt *model.ExamAttempt, exam *model.Exam, now time.Time) error {
		if err := s.reconcileActiveSession(ctx, tx, attempt, now); err != nil {
			return err
		}
		state = s.stateOf(attempt, exam, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// SaveDraft stores a scratch answer and bumps the autosave counters. It works
// whatever the exam's autosave setting is.
func (s *AttemptService) SaveDraft(ctx context.Context, attemptID, questionID uuid.UUID, studentID int, deviceHash, answer string) (*model.QuestionResponse, error) {
	return s.saveDraft(ctx, attemptID, questionID, access{studentID, deviceHash}, answer, false)
}

// AutoSave is the client's periodic draft write. Exams with autosave turned
// off reject it.
func (s *AttemptService) AutoSave(ctx context.Context, attemptID, questionID uuid.UUID, studentID int, deviceHash, answer string) (*model.QuestionResponse, error) {
	return s.saveDraft(ctx, attemptID, questionID, access{studentID, deviceHash}, answer, true)
}

func (s *AttemptService) saveDraft(ctx context.Context, attemptID, questionID uuid.UUID, acc access, answer string, periodic bool) (*model.QuestionResponse, error) {
	var out *model.QuestionResponse
	err := s.mutate(ctx, attemptID, acc, func(tx repository.Store, attempt *model.ExamAttempt, exam *model.Exam, now time.Time) error {
		if periodic && !exam.EnableAutoSave {
			return ErrAutoSaveDisabled
		}
		resp, err := s.loadResponse(ctx, tx, attempt.ID, questionID)
		if err != nil {
			return err
		}
		resp.SaveDraft(answer, now)
		if err := tx.Responses().Update(ctx, resp); err != nil {
			return fmt.Errorf("update response: %w", err)
		}
		attempt.RecordAutoSave(now)
		if err := s.saveAttempt(ctx, tx, attempt, now); err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FinalizeAnswer stores the evaluation-eligible answer for a question.
func (s *AttemptService) FinalizeAnswer(ctx context.Context, attemptID, questionID uuid.UUID, studentID int, deviceHash, answer string) (*model.QuestionResponse, error) {
	var out *model.QuestionResponse
	err := s.mutate(ctx, attemptID, access{studentID, deviceHash}, func(tx repository.Store, attempt *model.ExamAttempt, exam *model.Exam, now time.Time) error {
		resp, err := s.loadResponse(ctx, tx, attempt.ID, questionID)
		if err != nil {
			return err
		}
		if s.policy.LockOnFinalize && resp.IsSubmitted {
			return ErrAnswerLocked
		}
		resp.FinalizeAnswer(answer, now)
		if err := tx.Responses().Update(ctx, resp); err != nil {
			return fmt.Errorf("update response: %w", err)
		}
		if err := s.saveAttempt(ctx, tx, attempt, now); err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *AttemptService) loadResponse(ctx context.Context, tx repository.Store, attemptID, questionID uuid.UUID) (*model.QuestionResponse, error) {
	resp, err := tx.Responses().Get(ctx, attemptID, questionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get response: %w", err)
	}
	return resp, nil
}

// Submit completes the attempt. Submitting after the budget ran out records
// AUTO_SUBMITTED instead. Inside the budget the session must still be live.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, studentID int, deviceHash string) (*model.SubmitSummary, error) {
	var summary *model.SubmitSummary
	var deferred error
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		deferred = nil
		now := s.now()
		attempt, exam, err := s.loadOwned(ctx, tx, attemptID, studentID)
		if err != nil {
			return err
		}
		if attempt.Status != model.AttemptInProgress {
			return ErrAttemptClosed
		}
		if !attempt.CanAccessFromDevice(deviceHash) {
			return ErrDeviceMismatch
		}

		auto := attempt.TimeRemaining(exam.Duration(), now) == 0
		if !auto {
			lapsed, err := s.checkLiveSession(ctx, tx, attempt, deviceHash, now)
			if err != nil {
				return err
			}
			if lapsed {
				deferred = ErrSessionExpired
				return nil
			}
		}
		if err := attempt.Complete(auto, now); err != nil {
			return err
		}
		if err := s.saveAttempt(ctx, tx, attempt, now); err != nil {
			return err
		}

		responses, err := tx.Responses().ListByAttempt(ctx, attempt.ID, nil)
		if err != nil {
			return fmt.Errorf("list responses: %w", err)
		}
		summary = &model.SubmitSummary{Attempt: attempt}
		for _, r := range responses {
			if r.IsSubmitted {
				summary.Answered++
			} else {
				summary.Unanswered++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if deferred != nil {
		return nil, deferred
	}

	s.log.Info().Str("attempt_id", attemptID.String()).Int("student_id", studentID).
		Str("status", string(summary.Attempt.Status)).Msg("Attempt submitted")
	return summary, nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// GetState returns the attempt as seen by the taking client. Reading an
// expired attempt auto-submits it; reading a live one refreshes its session.
func (s *AttemptService) GetState(ctx context.Context, attemptID uuid.UUID, studentID int, deviceHash string) (*model.AttemptState, error) {
	var state *model.AttemptState
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		now := s.now()
		attempt, exam, err := s.loadOwned(ctx, tx, attemptID, studentID)
		if err != nil {
			return err
		}
		if !attempt.CanAccessFromDevice(deviceHash) {
			return ErrDeviceMismatch
		}
		if err := s.touch(ctx, tx, attempt, exam, deviceHash, now); err != nil {
			return err
		}
		state = s.stateOf(attempt, exam, now)
		sess, err := tx.ActiveSessions().GetByExamAndStudent(ctx, attempt.ExamID, attempt.StudentID)
		if err == nil {
			state.SessionState = sess.State
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// touch applies the lazy transitions a read owes an attempt: expiry of the
// budget, then lapse or refresh of the caller's session.
func (s *AttemptService) touch(ctx context.Context, tx repository.Store, attempt *model.ExamAttempt, exam *model.Exam, deviceHash string, now time.Time) error {
	if _, err := s.expireIfDue(ctx, tx, attempt, exam, now); err != nil {
		return err
	}
	if attempt.Status != model.AttemptInProgress {
		return nil
	}
	if _, err := s.checkLiveSession(ctx, tx, attempt, deviceHash, now); err != nil {
		return err
	}
	return s.refreshIfValid(ctx, tx, attempt, deviceHash, now)
}

func (s *AttemptService) refreshIfValid(ctx context.Context, tx repository.Store, attempt *model.ExamAttempt, deviceHash string, now time.Time) error {
	sess, err := tx.ActiveSessions().GetByExamAndStudent(ctx, attempt.ExamID, attempt.StudentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if !sess.IsValid(deviceHash, now, s.policy.HeartbeatWindow) {
		return nil
	}
	sess.RefreshActivity(now)
	return tx.ActiveSessions().Update(ctx, sess)
}

// TimeRemaining returns the seconds left on the attempt's budget.
func (s *AttemptService) TimeRemaining(ctx context.Context, attemptID uuid.UUID, studentID int, deviceHash string) (float64, error) {
	state, err := s.GetState(ctx, attemptID, studentID, deviceHash)
	if err != nil {
		return 0, err
	}
	return state.TimeRemaining, nil
}

func (s *AttemptService) stateOf(attempt *model.ExamAttempt, exam *model.Exam, now time.Time) *model.AttemptState {
	return &model.AttemptState{
		AttemptID:        attempt.ID,
		ExamID:           attempt.ExamID,
		Status:           attempt.Status,
		SessionToken:     attempt.SessionToken,
		StartTime:        attempt.StartTime,
		EndTime:          attempt.EndTime,
		TimeRemaining:    attempt.TimeRemaining(exam.Duration(), now).Seconds(),
		AutoSaveCount:    attempt.AutoSaveCount,
		LastAutoSave:     attempt.LastAutoSave,
		RequiresPassword: attempt.RequiresPasswordInput(exam.RequiresPassword()),
	}
}

// ListResponses returns the attempt's answer slots, optionally filtered by
// submission state. Like GetState it expires or refreshes a live attempt.
func (s *AttemptService) ListResponses(ctx context.Context, attemptID uuid.UUID, studentID int, deviceHash string, submitted *bool) ([]model.QuestionResponse, error) {
	var out []model.QuestionResponse
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		now := s.now()
		attempt, exam, err := s.loadOwned(ctx, tx, attemptID, studentID)
		if err != nil {
			return err
		}
		if !attempt.CanAccessFromDevice(deviceHash) {
			return ErrDeviceMismatch
		}
		if err := s.touch(ctx, tx, attempt, exam, deviceHash, now); err != nil {
			return err
		}
		out, err = tx.Responses().ListByAttempt(ctx, attempt.ID, submitted)
		if err != nil {
			return fmt.Errorf("list responses: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetResult scores a finished attempt and stores the score.
func (s *AttemptService) GetResult(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptResult, error) {
	var result model.AttemptResult
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		now := s.now()
		attempt, exam, err := s.loadOwned(ctx, tx, attemptID, studentID)
		if err != nil {
			return err
		}
		if _, err := s.expireIfDue(ctx, tx, attempt, exam, now); err != nil {
			return err
		}
		if !attempt.Status.IsFinished() {
			return ErrResultUnavailable
		}

		questions, err := tx.Exams().ListQuestions(ctx, exam.ID)
		if err != nil {
			return fmt.Errorf("list questions: %w", err)
		}
		responses, err := tx.Responses().ListByAttempt(ctx, attempt.ID, nil)
		if err != nil {
			return fmt.Errorf("list responses: %w", err)
		}

		result = model.ComputeResult(attempt, exam, questions, responses)
		score := result.Score
		attempt.Score = &score
		attempt.UpdatedAt = now
		return s.saveAttempt(ctx, tx, attempt, now)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ─── Staff operations ────────────────────────────────────────────────────────

// TerminateSession force-closes an attempt. Terminating an attempt that is
// already terminal is a no-op.
func (s *AttemptService) TerminateSession(ctx context.Context, attemptID uuid.UUID, reason string) (*model.ExamAttempt, error) {
	if reason == "" {
		return nil, validationError(errors.New("termination reason is required"))
	}

	var (
		out     *model.ExamAttempt
		changed bool
	)
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		now := s.now()
		attempt, _, err := s.loadOwned(ctx, tx, attemptID, 0)
		if err != nil {
			return err
		}
		out = attempt
		changed = attempt.Terminate(reason, now)
		if !changed {
			return nil
		}
		return s.saveAttempt(ctx, tx, attempt, now)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.log.Warn().Str("attempt_id", attemptID.String()).Str("reason", reason).Msg("Attempt terminated")
	}
	return out, nil
}

// RecordGrade writes points from the grading workflow back onto a response.
func (s *AttemptService) RecordGrade(ctx context.Context, attemptID, questionID uuid.UUID, points float64) (*model.QuestionResponse, error) {
	var out *model.QuestionResponse
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		attempt, _, err := s.loadOwned(ctx, tx, attemptID, 0)
		if err != nil {
			return err
		}
		questions, err := tx.Exams().ListQuestions(ctx, attempt.ExamID)
		if err != nil {
			return fmt.Errorf("list questions: %w", err)
		}
		maxPoints := -1.0
		for _, q := range questions {
			if q.QuestionID == questionID {
				maxPoints = q.Points
				break
			}
		}
		if maxPoints < 0 {
			return ErrNotFound
		}

		resp, err := s.loadResponse(ctx, tx, attempt.ID, questionID)
		if err != nil {
			return err
		}
		if err := resp.Grade(points, maxPoints, s.now()); err != nil {
			return validationError(err)
		}
		if err := tx.Responses().Update(ctx, resp); err != nil {
			return fmt.Errorf("update response: %w", err)
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ─── Sweeps ──────────────────────────────────────────────────────────────────

// SweepExpired auto-submits IN_PROGRESS attempts whose budget ran out.
func (s *AttemptService) SweepExpired(ctx context.Context, limit int) (int, error) {
	ids, err := s.store.Attempts().ListExpired(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	swept := 0
	for _, id := range ids {
		err := s.store.WithTx(ctx, func(tx repository.Store) error {
			attempt, exam, err := s.loadOwned(ctx, tx, id, 0)
			if err != nil {
				return err
			}
			expired, err := s.expireIfDue(ctx, tx, attempt, exam, s.now())
			if expired {
				swept++
			}
			return err
		})
		if err != nil {
			s.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Failed to auto-submit expired attempt")
		}
	}
	return swept, nil
}

// ExpireLapsedSessions moves ACTIVE sessions past the heartbeat window to
// EXPIRED.
func (s *AttemptService) ExpireLapsedSessions(ctx context.Context, limit int) (int, error) {
	lapsed, err := s.store.ActiveSessions().ListLapsed(ctx, s.now().Add(-s.policy.HeartbeatWindow), limit)
	if err != nil {
		return 0, fmt.Errorf("list lapsed: %w", err)
	}

	expired := 0
	for _, candidate := range lapsed {
		err := s.store.WithTx(ctx, func(tx repository.Store) error {
			now := s.now()
			sess, err := tx.ActiveSessions().GetByExamAndStudent(ctx, candidate.ExamID, candidate.StudentID)
			if err != nil {
				return err
			}
			if !sess.IsActive() || !sess.Lapsed(now, s.policy.HeartbeatWindow) {
				return nil
			}
			sess.Expire(now)
			expired++
			return tx.ActiveSessions().Update(ctx, sess)
		})
		if err != nil {
			s.log.Error().Err(err).Str("exam_id", candidate.ExamID.String()).
				Int("student_id", candidate.StudentID).Msg("Failed to expire session")
		}
	}
	return expired, nil
}
