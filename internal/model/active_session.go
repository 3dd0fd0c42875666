package model

import (
	"time"

	"github.com/google/uuid"
)

// ActiveSessionState is the lifecycle of the exclusive claim on a
// (student, exam) pair.
type ActiveSessionState string

const (
	ActiveSessionActive     ActiveSessionState = "ACTIVE"
	ActiveSessionExpired    ActiveSessionState = "EXPIRED"
	ActiveSessionTerminated ActiveSessionState = "TERMINATED"
)

// ActiveExamSession is derived from attempt state. At most one row exists per
// (student, exam); closing it keeps the row.
type ActiveExamSession struct {
	ID              uuid.UUID          `json:"id"`
	ExamID          uuid.UUID          `json:"exam_id"`
	StudentID       int                `json:"student_id"`
	AttemptID       uuid.UUID          `json:"attempt_id"`
	DeviceSessionID uuid.UUID          `json:"device_session_id"`
	DeviceHash      string             `json:"-"`
	SessionToken    uuid.UUID          `json:"session_token"`
	State           ActiveSessionState `json:"state"`
	StartedAt       time.Time          `json:"started_at"`
	LastActivity    time.Time          `json:"last_activity"`
	ClosedAt        *time.Time         `json:"closed_at,omitempty"`
	ClosedReason    string             `json:"closed_reason,omitempty"`
}

func (s *ActiveExamSession) IsActive() bool {
	return s.State == ActiveSessionActive
}

// Lapsed reports whether the heartbeat window elapsed since the last activity.
func (s *ActiveExamSession) Lapsed(now time.Time, window time.Duration) bool {
	return now.Sub(s.LastActivity) > window
}

// IsValid is true iff the session is ACTIVE, bound to deviceHash, and was
// refreshed within window.
func (s *ActiveExamSession) IsValid(deviceHash string, now time.Time, window time.Duration) bool {
	return s.IsActive() && s.DeviceHash == deviceHash && !s.Lapsed(now, window)
}

// RefreshActivity extends the heartbeat window of an ACTIVE session.
func (s *ActiveExamSession) RefreshActivity(now time.Time) bool {
	if !s.IsActive() {
		return false
	}
	s.LastActivity = now
	return true
}

// Expire moves an ACTIVE session whose heartbeat lapsed to EXPIRED.
func (s *ActiveExamSession) Expire(now time.Time) bool {
	if !s.IsActive() {
		return false
	}
	t := now
	s.State = ActiveSessionExpired
	s.ClosedAt = &t
	s.ClosedReason = "heartbeat lapsed"
	return true
}

// Close tears the claim down for good.
func (s *ActiveExamSession) Close(reason string, now time.Time) {
	if s.State == ActiveSessionTerminated {
		return
	}
	t := now
	s.State = ActiveSessionTerminated
	s.ClosedAt = &t
	s.ClosedReason = reason
}

// Claim (re)activates the session for an IN_PROGRESS attempt. A new session
// token starts a new epoch and resets StartedAt.
func (s *ActiveExamSession) Claim(a *ExamAttempt, now time.Time) {
	if s.SessionToken != *a.SessionToken || s.State != ActiveSessionActive {
		s.StartedAt = now
	}
	s.AttemptID = a.ID
	s.ExamID = a.ExamID
	s.StudentID = a.StudentID
	s.DeviceSessionID = *a.DeviceSessionID
	s.DeviceHash = a.DeviceHash
	s.SessionToken = *a.SessionToken
	s.State = ActiveSessionActive
	s.LastActivity = now
	s.ClosedAt = nil
	s.ClosedReason = ""
}
