package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/stemsi/exstem-guard/internal/model"
)

// AttemptView is what a student sees of their attempt. Device binding, IP and
// password counters stay server side.
type AttemptView struct {
	ID                uuid.UUID           `json:"id"`
	ExamID            uuid.UUID           `json:"exam_id"`
	Status            model.AttemptStatus `json:"status"`
	StartTime         *time.Time          `json:"start_time,omitempty"`
	EndTime           *time.Time          `json:"end_time,omitempty"`
	SessionToken      *uuid.UUID          `json:"session_token,omitempty"`
	TerminationReason string              `json:"termination_reason,omitempty"`
	AutoSaveCount     int                 `json:"auto_save_count"`
	LastAutoSave      *time.Time          `json:"last_auto_save,omitempty"`
	Score             *float64            `json:"score,omitempty"`
}

// ResponseView hides grading fields from students until results are out.
type ResponseView struct {
	QuestionID    uuid.UUID  `json:"question_id"`
	OrderNum      int        `json:"order_num"`
	StudentAnswer *string    `json:"student_answer"`
	DraftAnswer   *string    `json:"draft_answer"`
	AutoSaveCount int        `json:"auto_save_count"`
	LastAutoSave  *time.Time `json:"last_auto_save,omitempty"`
	IsSubmitted   bool       `json:"is_submitted"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
}

// StartView is the payload of the start endpoint.
type StartView struct {
	Outcome       string      `json:"outcome"`
	Message       string      `json:"message"`
	Attempt       AttemptView `json:"attempt"`
	TimeRemaining float64     `json:"time_remaining"`
}

// SubmitView is the payload of the submit endpoint.
type SubmitView struct {
	Attempt    AttemptView `json:"attempt"`
	Answered   int         `json:"answered"`
	Unanswered int         `json:"unanswered"`
}

func toAttemptView(a *model.ExamAttempt) AttemptView {
	var v AttemptView
	_ = copier.Copy(&v, a)
	return v
}

func toResponseView(r *model.QuestionResponse) ResponseView {
	var v ResponseView
	_ = copier.Copy(&v, r)
	return v
}

func toResponseViews(rs []model.QuestionResponse) []ResponseView {
	views := make([]ResponseView, 0, len(rs))
	for i := range rs {
		views = append(views, toResponseView(&rs[i]))
	}
	return views
}
