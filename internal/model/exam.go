package model

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusScheduled ExamStatus = "SCHEDULED"
	ExamStatusLive      ExamStatus = "LIVE"
	ExamStatusCompleted ExamStatus = "COMPLETED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam is the read-mostly definition consumed by the attempt lifecycle.
// Authoring lives elsewhere; this service never writes exams except for the
// password rotation CLI.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Status          ExamStatus `json:"status"`
	DurationMinutes int        `json:"duration_minutes"`
	MaxAttempts     int        `json:"max_attempts"`
	PassPercentage  float64    `json:"pass_percentage"`
	ExamPassword    string     `json:"-"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         time.Time  `json:"end_date"`
	TimeZone        string     `json:"time_zone"`

	ShuffleQuestions   bool `json:"shuffle_questions"`
	DisableCopyPaste   bool `json:"disable_copy_paste"`
	FullScreenRequired bool `json:"full_screen_required"`
	RequireWebcam      bool `json:"require_webcam"`
	AllowBacktracking  bool `json:"allow_backtracking"`
	EnableAutoSave     bool `json:"enable_auto_save"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExamQuestion pins a question to an exam with its order and weight.
type ExamQuestion struct {
	ExamID     uuid.UUID `json:"exam_id"`
	QuestionID uuid.UUID `json:"question_id"`
	OrderNum   int       `json:"order_num"`
	Points     float64   `json:"points"`
}

var (
	ErrExamWindow         = errors.New("exam start_date must be before end_date")
	ErrExamPassPercentage = errors.New("exam pass_percentage must be between 0 and 100")
	ErrExamDuration       = errors.New("exam duration must be positive")
)

// Validate checks the definition invariants.
func (e *Exam) Validate() error {
	if !e.StartDate.Before(e.EndDate) {
		return ErrExamWindow
	}
	if e.PassPercentage < 0 || e.PassPercentage > 100 {
		return ErrExamPassPercentage
	}
	if e.DurationMinutes <= 0 {
		return ErrExamDuration
	}
	return nil
}

// IsActive reports whether the exam is LIVE and now falls inside its window.
func (e *Exam) IsActive(now time.Time) bool {
	if e.Status != ExamStatusLive {
		return false
	}
	return !now.Before(e.StartDate) && !now.After(e.EndDate)
}

// Duration returns the time budget of one attempt.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

func (e *Exam) RequiresPassword() bool {
	return e.ExamPassword != ""
}

// CheckPassword compares a supplied password with the stored one. Stored
// values carrying a bcrypt prefix are verified with bcrypt, anything else is
// compared as plaintext in constant time.
func (e *Exam) CheckPassword(supplied string) bool {
	if !e.RequiresPassword() {
		return true
	}
	if IsBcryptHash(e.ExamPassword) {
		return bcrypt.CompareHashAndPassword([]byte(e.ExamPassword), []byte(supplied)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(e.ExamPassword), []byte(supplied)) == 1
}

// IsBcryptHash reports whether s looks like a bcrypt digest.
func IsBcryptHash(s string) bool {
	if len(s) != 60 {
		return false
	}
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// TotalPoints sums the weight of every question.
func TotalPoints(questions []ExamQuestion) float64 {
	var total float64
	for _, q := range questions {
		total += q.Points
	}
	return total
}
