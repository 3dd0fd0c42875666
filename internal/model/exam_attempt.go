package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates the lifecycle of one student's attempt at one exam.
type AttemptStatus string

const (
	AttemptNotStarted       AttemptStatus = "NOT_STARTED"
	AttemptPasswordRequired AttemptStatus = "PASSWORD_REQUIRED"
	AttemptInProgress       AttemptStatus = "IN_PROGRESS"
	AttemptSubmitted        AttemptStatus = "SUBMITTED"
	AttemptAutoSubmitted    AttemptStatus = "AUTO_SUBMITTED"
	AttemptTerminated       AttemptStatus = "TERMINATED"
)

// IsTerminal reports whether no further transition is possible.
func (s AttemptStatus) IsTerminal() bool {
	switch s {
	case AttemptSubmitted, AttemptAutoSubmitted, AttemptTerminated:
		return true
	}
	return false
}

// IsFinished reports whether the attempt completed normally and can be scored.
func (s AttemptStatus) IsFinished() bool {
	return s == AttemptSubmitted || s == AttemptAutoSubmitted
}

var ErrInvalidTransition = errors.New("invalid attempt status transition")

// ExamAttempt is unique per (exam, student). Status is only changed through
// the transition methods below.
type ExamAttempt struct {
	ID                  uuid.UUID     `json:"id"`
	ExamID              uuid.UUID     `json:"exam_id"`
	StudentID           int           `json:"student_id"`
	Status              AttemptStatus `json:"status"`
	StartTime           *time.Time    `json:"start_time,omitempty"`
	EndTime             *time.Time    `json:"end_time,omitempty"`
	DeviceSessionID     *uuid.UUID    `json:"device_session_id,omitempty"`
	DeviceHash          string        `json:"-"` // joined from device_sessions on read
	SessionToken        *uuid.UUID    `json:"session_token,omitempty"`
	TerminationReason   string        `json:"termination_reason,omitempty"`
	PasswordAttempts    int           `json:"password_attempts"`
	LastPasswordAttempt *time.Time    `json:"last_password_attempt,omitempty"`
	AutoSaveCount       int           `json:"auto_save_count"`
	LastAutoSave        *time.Time    `json:"last_auto_save,omitempty"`
	IPAddress           string        `json:"ip_address,omitempty"`
	Score               *float64      `json:"score,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// NewExamAttempt returns a NOT_STARTED attempt.
func NewExamAttempt(examID uuid.UUID, studentID int, now time.Time) *ExamAttempt {
	return &ExamAttempt{
		ID:        uuid.New(),
		ExamID:    examID,
		StudentID: studentID,
		Status:    AttemptNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TimeRemaining is max(0, budget - elapsed) while IN_PROGRESS, else zero.
func (a *ExamAttempt) TimeRemaining(budget time.Duration, now time.Time) time.Duration {
	if a.Status != AttemptInProgress || a.StartTime == nil {
		return 0
	}
	remaining := budget - now.Sub(*a.StartTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Duration returns end_time - start_time once both are set.
func (a *ExamAttempt) Duration() (time.Duration, bool) {
	if a.StartTime == nil || a.EndTime == nil {
		return 0, false
	}
	return a.EndTime.Sub(*a.StartTime), true
}

func (a *ExamAttempt) RequiresPasswordInput(examRequiresPassword bool) bool {
	if a.Status == AttemptPasswordRequired {
		return true
	}
	return a.Status == AttemptNotStarted && examRequiresPassword
}

// CanAccessFromDevice is the read-time device guard. Finished attempts are
// viewable from anywhere; an in-progress attempt only from its bound device.
func (a *ExamAttempt) CanAccessFromDevice(deviceHash string) bool {
	if a.DeviceSessionID == nil {
		return true
	}
	if a.Status != AttemptInProgress {
		return true
	}
	return a.DeviceHash == deviceHash
}

func (a *ExamAttempt) IsBoundTo(deviceSessionID uuid.UUID) bool {
	return a.DeviceSessionID != nil && *a.DeviceSessionID == deviceSessionID
}

// RequirePassword moves a fresh attempt into PASSWORD_REQUIRED. Timers are
// left untouched.
func (a *ExamAttempt) RequirePassword(now time.Time) error {
	switch a.Status {
	case AttemptNotStarted:
		a.Status = AttemptPasswordRequired
		a.UpdatedAt = now
		return nil
	case AttemptPasswordRequired:
		return nil
	}
	return ErrInvalidTransition
}

// RecordPasswordFailure bumps the brute-force counter. Status is unchanged.
func (a *ExamAttempt) RecordPasswordFailure(now time.Time) {
	a.PasswordAttempts++
	t := now
	a.LastPasswordAttempt = &t
	a.UpdatedAt = now
}

// Begin moves the attempt into IN_PROGRESS bound to a device, with a fresh
// session token.
func (a *ExamAttempt) Begin(device *DeviceSession, ip string, now time.Time) error {
	if a.Status != AttemptNotStarted && a.Status != AttemptPasswordRequired {
		return ErrInvalidTransition
	}
	t := now
	a.Status = AttemptInProgress
	a.StartTime = &t
	a.EndTime = nil
	a.bind(device, ip)
	a.UpdatedAt = now
	return nil
}

// Rebind moves an IN_PROGRESS attempt to another device and opens a new
// session epoch. The time budget keeps running from the original start.
func (a *ExamAttempt) Rebind(device *DeviceSession, ip string, now time.Time) error {
	if a.Status != AttemptInProgress {
		return ErrInvalidTransition
	}
	a.bind(device, ip)
	a.UpdatedAt = now
	return nil
}

func (a *ExamAttempt) bind(device *DeviceSession, ip string) {
	id := device.ID
	token := uuid.New()
	a.DeviceSessionID = &id
	a.DeviceHash = device.DeviceHash
	a.SessionToken = &token
	if ip != "" {
		a.IPAddress = ip
	}
}

// Complete ends an IN_PROGRESS attempt as SUBMITTED, or AUTO_SUBMITTED when
// auto is set.
func (a *ExamAttempt) Complete(auto bool, now time.Time) error {
	if a.Status != AttemptInProgress {
		return ErrInvalidTransition
	}
	t := now
	a.EndTime = &t
	a.Status = AttemptSubmitted
	if auto {
		a.Status = AttemptAutoSubmitted
	}
	a.UpdatedAt = now
	return nil
}

// Terminate force-closes the attempt. It returns false without changing
// anything when the attempt already reached a terminal state.
func (a *ExamAttempt) Terminate(reason string, now time.Time) bool {
	if a.Status.IsTerminal() {
		return false
	}
	t := now
	a.Status = AttemptTerminated
	a.TerminationReason = reason
	a.EndTime = &t
	a.UpdatedAt = now
	return true
}

// RecordAutoSave stamps the attempt-level autosave counters.
func (a *ExamAttempt) RecordAutoSave(now time.Time) {
	a.AutoSaveCount++
	t := now
	a.LastAutoSave = &t
	a.UpdatedAt = now
}

// StartExamRequest is the payload for starting or resuming an exam.
type StartExamRequest struct {
	Password *string `json:"password" binding:"omitempty,max=128"`
}

// TerminateAttemptRequest is the staff payload for a forced termination.
type TerminateAttemptRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=500"`
}
