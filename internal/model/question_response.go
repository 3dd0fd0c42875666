package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidPoints = errors.New("points must be between 0 and the question's points")

// QuestionResponse is one pre-allocated answer slot per (attempt, question).
type QuestionResponse struct {
	ID            uuid.UUID  `json:"id"`
	AttemptID     uuid.UUID  `json:"attempt_id"`
	QuestionID    uuid.UUID  `json:"question_id"`
	OrderNum      int        `json:"order_num"`
	StudentAnswer *string    `json:"student_answer"`
	DraftAnswer   *string    `json:"draft_answer"`
	AutoSaveCount int        `json:"auto_save_count"`
	LastAutoSave  *time.Time `json:"last_auto_save,omitempty"`
	PointsAwarded *float64   `json:"points_awarded,omitempty"`
	IsSubmitted   bool       `json:"is_submitted"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewQuestionResponse allocates an empty slot for q.
func NewQuestionResponse(attemptID uuid.UUID, q ExamQuestion, now time.Time) QuestionResponse {
	return QuestionResponse{
		ID:         uuid.New(),
		AttemptID:  attemptID,
		QuestionID: q.QuestionID,
		OrderNum:   q.OrderNum,
		UpdatedAt:  now,
	}
}

// SaveDraft overwrites the scratch answer. The final answer is untouched.
func (r *QuestionResponse) SaveDraft(answer string, now time.Time) {
	a := answer
	t := now
	r.DraftAnswer = &a
	r.AutoSaveCount++
	r.LastAutoSave = &t
	r.UpdatedAt = now
}

// FinalizeAnswer stores the evaluation-eligible answer and clears the draft.
// Calling it again overwrites the previous final answer.
func (r *QuestionResponse) FinalizeAnswer(answer string, now time.Time) {
	a := answer
	t := now
	r.StudentAnswer = &a
	r.DraftAnswer = nil
	r.IsSubmitted = true
	r.SubmittedAt = &t
	r.UpdatedAt = now
}

// Grade stores points awarded by the grading workflow.
func (r *QuestionResponse) Grade(points, max float64, now time.Time) error {
	if points < 0 || points > max {
		return ErrInvalidPoints
	}
	p := points
	r.PointsAwarded = &p
	r.UpdatedAt = now
	return nil
}

// SaveAnswerRequest carries a draft or final answer.
type SaveAnswerRequest struct {
	Answer string `json:"answer" binding:"max=20000"`
}

// GradeResponseRequest carries points from the grading workflow.
type GradeResponseRequest struct {
	Points *float64 `json:"points" binding:"required"`
}
