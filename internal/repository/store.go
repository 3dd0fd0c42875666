package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stemsi/exstem-guard/internal/model"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrUniqueViolation = errors.New("unique constraint violated")
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Exams reads exam definitions. Authoring is owned by another service.
type Exams interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.ExamQuestion, error)
}

type DeviceSessions interface {
	GetByUserAndHash(ctx context.Context, userID int, deviceHash string) (*model.DeviceSession, error)
	Create(ctx context.Context, d *model.DeviceSession) error
	Update(ctx context.Context, d *model.DeviceSession) error
	// DeactivateIdle soft-deletes every active device not seen since before.
	DeactivateIdle(ctx context.Context, before time.Time) (int64, error)
}

// AttemptStats feeds the concurrency report.
type AttemptStats struct {
	Total            int
	Terminated       int
	AverageAutoSaves float64
}

type Attempts interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error)
	// GetForUpdate locks the attempt row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error)
	GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error)
	GetByExamAndStudentForUpdate(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error)
	// CreateIfAbsent inserts a when no attempt exists for its (exam, student).
	CreateIfAbsent(ctx context.Context, a *model.ExamAttempt) (bool, error)
	Update(ctx context.Context, a *model.ExamAttempt) error
	// ListExpired returns IN_PROGRESS attempts whose time budget ran out at now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	Stats(ctx context.Context, examID uuid.UUID) (AttemptStats, error)
}

type ActiveSessions interface {
	GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ActiveExamSession, error)
	// Upsert writes the row keyed by (exam, student).
	Upsert(ctx context.Context, s *model.ActiveExamSession) error
	Update(ctx context.Context, s *model.ActiveExamSession) error
	ListLapsed(ctx context.Context, before time.Time, limit int) ([]model.ActiveExamSession, error)
}

type Responses interface {
	// CreateBatch inserts slots, leaving existing (attempt, question) rows intact.
	CreateBatch(ctx context.Context, rs []model.QuestionResponse) error
	Get(ctx context.Context, attemptID, questionID uuid.UUID) (*model.QuestionResponse, error)
	ListByAttempt(ctx context.Context, attemptID uuid.UUID, submitted *bool) ([]model.QuestionResponse, error)
	Update(ctx context.Context, r *model.QuestionResponse) error
}

type MonitoringEvents interface {
	Create(ctx context.Context, e *model.MonitoringEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.MonitoringEvent, error)
	// UpdateReview writes only the review columns.
	UpdateReview(ctx context.Context, e *model.MonitoringEvent) error
	List(ctx context.Context, f model.EventFilter) ([]model.MonitoringEvent, int64, error)
	CountByType(ctx context.Context, examID uuid.UUID) (map[model.EventType]int, error)
	CountAttemptsWithType(ctx context.Context, examID uuid.UUID, t model.EventType) (int, error)
}

// Store groups the repositories. WithTx runs fn against a transactional
// Store; returning an error from fn rolls everything back.
type Store interface {
	Exams() Exams
	DeviceSessions() DeviceSessions
	Attempts() Attempts
	ActiveSessions() ActiveSessions
	Responses() Responses
	MonitoringEvents() MonitoringEvents
	WithTx(ctx context.Context, fn func(Store) error) error
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUniqueViolation
	}
	return err
}
