package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// ConcurrencyReport summarizes session integrity for one exam.
type ConcurrencyReport struct {
	ExamID              uuid.UUID         `json:"exam_id"`
	TotalAttempts       int               `json:"total_attempts"`
	MultiDeviceAttempts int               `json:"multi_device_attempts"`
	TerminatedSessions  int               `json:"terminated_sessions"`
	AverageAutoSaves    float64           `json:"average_auto_saves"`
	ViolationRate       float64           `json:"violation_rate"`
	EventsByType        map[EventType]int `json:"events_by_type"`
	GeneratedAt         time.Time         `json:"generated_at"`
}

// ComputeViolationRate is multi-device attempts as a percentage of all attempts.
func (r *ConcurrencyReport) ComputeViolationRate() float64 {
	if r.TotalAttempts == 0 {
		return 0
	}
	return round2(float64(r.MultiDeviceAttempts) / float64(r.TotalAttempts) * 100)
}

// AttemptResult is the scored view of a finished attempt.
type AttemptResult struct {
	AttemptID      uuid.UUID     `json:"attempt_id"`
	Status         AttemptStatus `json:"status"`
	AwardedPoints  float64       `json:"awarded_points"`
	TotalPoints    float64       `json:"total_points"`
	Score          float64       `json:"score"`
	PassPercentage float64       `json:"pass_percentage"`
	Passed         bool          `json:"passed"`
	Answered       int           `json:"answered"`
	Unanswered     int           `json:"unanswered"`
	PendingGrading int           `json:"pending_grading"`
}

// ComputeResult scores responses against the question weights.
// Ungraded responses count as zero.
func ComputeResult(a *ExamAttempt, exam *Exam, questions []ExamQuestion, responses []QuestionResponse) AttemptResult {
	res := AttemptResult{
		AttemptID:      a.ID,
		Status:         a.Status,
		TotalPoints:    TotalPoints(questions),
		PassPercentage: exam.PassPercentage,
	}
	for _, r := range responses {
		if r.IsSubmitted {
			res.Answered++
		} else {
			res.Unanswered++
		}
		if r.PointsAwarded != nil {
			res.AwardedPoints += *r.PointsAwarded
		} else if r.IsSubmitted {
			res.PendingGrading++
		}
	}
	if res.TotalPoints > 0 {
		res.Score = round2(res.AwardedPoints / res.TotalPoints * 100)
	}
	res.Passed = res.Score >= exam.PassPercentage
	return res
}

// SubmitSummary is returned when an attempt is completed.
type SubmitSummary struct {
	Attempt    *ExamAttempt `json:"attempt"`
	Answered   int          `json:"answered"`
	Unanswered int          `json:"unanswered"`
}

// AttemptState is the wire view of an attempt for the taking client.
type AttemptState struct {
	AttemptID        uuid.UUID     `json:"attempt_id"`
	ExamID           uuid.UUID     `json:"exam_id"`
	Status           AttemptStatus `json:"status"`
	SessionToken     *uuid.UUID    `json:"session_token,omitempty"`
	StartTime        *time.Time    `json:"start_time,omitempty"`
	EndTime          *time.Time    `json:"end_time,omitempty"`
	TimeRemaining    float64       `json:"time_remaining"`
	AutoSaveCount    int           `json:"auto_save_count"`
	LastAutoSave     *time.Time    `json:"last_auto_save,omitempty"`
	RequiresPassword bool          `json:"requires_password"`

	SessionState ActiveSessionState `json:"session_state,omitempty"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
