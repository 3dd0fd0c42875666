package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of observations the feed accepts.
type EventType string

const (
	EventTabSwitch          EventType = "TAB_SWITCH"
	EventCopyPaste          EventType = "COPY_PASTE"
	EventFullscreenExit     EventType = "FULLSCREEN_EXIT"
	EventMultipleFaces      EventType = "MULTIPLE_FACES"
	EventNoFace             EventType = "NO_FACE"
	EventVoiceDetected      EventType = "VOICE_DETECTED"
	EventManualFlag         EventType = "MANUAL_FLAG"
	EventDeviceMismatch     EventType = "DEVICE_MISMATCH"
	EventPasswordBruteForce EventType = "PASSWORD_BRUTE_FORCE"
)

var eventTypes = map[EventType]struct{}{
	EventTabSwitch: {}, EventCopyPaste: {}, EventFullscreenExit: {},
	EventMultipleFaces: {}, EventNoFace: {}, EventVoiceDetected: {},
	EventManualFlag: {}, EventDeviceMismatch: {}, EventPasswordBruteForce: {},
}

func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// ReviewStatus tracks the staff review of an event.
type ReviewStatus string

const (
	ReviewPending    ReviewStatus = "PENDING"
	ReviewReviewing  ReviewStatus = "REVIEWING"
	ReviewApproved   ReviewStatus = "APPROVED"
	ReviewViolation  ReviewStatus = "VIOLATION"
	ReviewFalseAlarm ReviewStatus = "FALSE_ALARM"
)

// IsOutcome reports whether s closes a review.
func (s ReviewStatus) IsOutcome() bool {
	return s == ReviewApproved || s == ReviewViolation || s == ReviewFalseAlarm
}

const (
	MinSeverity = 1
	MaxSeverity = 10
	// AttentionSeverity is the threshold for RequiresImmediateAttention.
	AttentionSeverity = 8
)

var (
	ErrInvalidEventType    = errors.New("unknown monitoring event type")
	ErrInvalidSeverity     = fmt.Errorf("severity must be between %d and %d", MinSeverity, MaxSeverity)
	ErrInvalidReviewStatus = errors.New("review outcome must be APPROVED, VIOLATION or FALSE_ALARM")
)

// MonitoringEvent is an append-only observation tied to an attempt. Only the
// review fields change after creation.
type MonitoringEvent struct {
	ID             uuid.UUID       `json:"id"`
	AttemptID      uuid.UUID       `json:"attempt_id"`
	ExamID         uuid.UUID       `json:"exam_id"`
	StudentID      int             `json:"student_id"`
	EventType      EventType       `json:"event_type"`
	Severity       int             `json:"severity"`
	Evidence       json.RawMessage `json:"evidence"`
	ReviewedStatus ReviewStatus    `json:"reviewed_status"`
	ReviewedBy     *int            `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time      `json:"reviewed_at,omitempty"`
	ReviewNotes    string          `json:"review_notes,omitempty"`
	ActionTaken    string          `json:"action_taken,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewMonitoringEvent validates type and severity and returns a PENDING event.
func NewMonitoringEvent(a *ExamAttempt, eventType EventType, severity int, evidence json.RawMessage, now time.Time) (*MonitoringEvent, error) {
	if !eventType.Valid() {
		return nil, ErrInvalidEventType
	}
	if severity < MinSeverity || severity > MaxSeverity {
		return nil, ErrInvalidSeverity
	}
	if len(evidence) == 0 {
		evidence = json.RawMessage(`{}`)
	}
	return &MonitoringEvent{
		ID:             uuid.New(),
		AttemptID:      a.ID,
		ExamID:         a.ExamID,
		StudentID:      a.StudentID,
		EventType:      eventType,
		Severity:       severity,
		Evidence:       evidence,
		ReviewedStatus: ReviewPending,
		CreatedAt:      now,
	}, nil
}

func (e *MonitoringEvent) RequiresImmediateAttention() bool {
	return e.Severity >= AttentionSeverity
}

// Validate checks an event built outside NewMonitoringEvent, such as one read
// back from the telemetry queue.
func (e *MonitoringEvent) Validate() error {
	if e.ID == uuid.Nil || e.AttemptID == uuid.Nil {
		return errors.New("event and attempt ids are required")
	}
	if !e.EventType.Valid() {
		return ErrInvalidEventType
	}
	if e.Severity < MinSeverity || e.Severity > MaxSeverity {
		return ErrInvalidSeverity
	}
	return nil
}

// AssignForReview hands the event to a reviewer.
func (e *MonitoringEvent) AssignForReview(reviewerID int) {
	id := reviewerID
	e.ReviewedStatus = ReviewReviewing
	e.ReviewedBy = &id
}

// CompleteReview closes the review with one of the outcome statuses.
func (e *MonitoringEvent) CompleteReview(reviewerID int, status ReviewStatus, notes, actionTaken string, now time.Time) error {
	if !status.IsOutcome() {
		return ErrInvalidReviewStatus
	}
	id := reviewerID
	t := now
	e.ReviewedStatus = status
	e.ReviewedBy = &id
	e.ReviewedAt = &t
	e.ReviewNotes = notes
	e.ActionTaken = actionTaken
	return nil
}

// RecordEventRequest is a client-side telemetry event.
type RecordEventRequest struct {
	EventType EventType       `json:"event_type" binding:"required,event_type"`
	Severity  int             `json:"severity" binding:"required,min=1,max=10"`
	Evidence  json.RawMessage `json:"evidence"`
}

// ProctoringWebhookRequest is posted by the external proctoring producer.
type ProctoringWebhookRequest struct {
	AttemptID uuid.UUID       `json:"attempt_id" binding:"required"`
	EventType EventType       `json:"event_type" binding:"required,event_type"`
	Severity  int             `json:"severity" binding:"required,min=1,max=10"`
	Evidence  json.RawMessage `json:"evidence"`
}

// FlagAttemptRequest lets staff raise a manual flag.
type FlagAttemptRequest struct {
	Severity int    `json:"severity" binding:"required,min=1,max=10"`
	Note     string `json:"note" binding:"required,max=1000"`
}

// ReviewEventRequest completes a review.
type ReviewEventRequest struct {
	ReviewedStatus ReviewStatus `json:"reviewed_status" binding:"required,oneof=APPROVED VIOLATION FALSE_ALARM"`
	ReviewNotes    string       `json:"review_notes" binding:"max=2000"`
	ActionTaken    string       `json:"action_taken" binding:"max=500"`
}

// EventFilter narrows a monitoring event listing.
type EventFilter struct {
	ExamID         *uuid.UUID
	AttemptID      *uuid.UUID
	ReviewedStatus ReviewStatus
	EventType      EventType
	NeedsAttention bool
	Limit          int
	Offset         int
}
