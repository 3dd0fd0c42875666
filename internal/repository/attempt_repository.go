package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-guard/internal/model"
)

// AttemptRepository handles exam attempt data access.
type AttemptRepository struct {
	db DBTX
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(db DBTX) *AttemptRepository {
	return &AttemptRepository{db: db}
}

const attemptColumns = `a.id, a.exam_id, a.student_id, a.status, a.start_time, a.end_time,
	a.device_session_id, COALESCE(d.device_hash, ''), a.session_token, a.termination_reason,
	a.password_attempts, a.last_password_attempt, a.auto_save_count, a.last_auto_save,
	a.ip_address, a.score, a.created_at, a.updated_at`

const attemptFrom = ` FROM exam_attempts a
	LEFT JOIN device_sessions d ON d.id = a.device_session_id`

func scanAttempt(row interface{ Scan(dest ...any) error }) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	err := row.Scan(
		&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.StartTime, &a.EndTime,
		&a.DeviceSessionID, &a.DeviceHash, &a.SessionToken, &a.TerminationReason,
		&a.PasswordAttempts, &a.LastPasswordAttempt, &a.AutoSaveCount, &a.LastAutoSave,
		&a.IPAddress, &a.Score, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return a, nil
}

// GetByID retrieves an attempt without locking.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	return scanAttempt(r.db.QueryRow(ctx, `SELECT `+attemptColumns+attemptFrom+` WHERE a.id = $1`, id))
}

// GetForUpdate retrieves an attempt and locks its row.
func (r *AttemptRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	return scanAttempt(r.db.QueryRow(ctx,
		`SELECT `+attemptColumns+attemptFrom+` WHERE a.id = $1 FOR UPDATE OF a`, id))
}

// GetByExamAndStudent retrieves the attempt for a pair without locking.
func (r *AttemptRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	return scanAttempt(r.db.QueryRow(ctx,
		`SELECT `+attemptColumns+attemptFrom+` WHERE a.exam_id = $1 AND a.student_id = $2`, examID, studentID))
}

// GetByExamAndStudentForUpdate retrieves and locks the attempt for a pair.
func (r *AttemptRepository) GetByExamAndStudentForUpdate(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	return scanAttempt(r.db.QueryRow(ctx,
		`SELECT `+attemptColumns+attemptFrom+`
		 WHERE a.exam_id = $1 AND a.student_id = $2 FOR UPDATE OF a`, examID, studentID))
}

// CreateIfAbsent inserts a NOT_STARTED attempt unless the pair already has one.
func (r *AttemptRepository) CreateIfAbsent(ctx context.Context, a *model.ExamAttempt) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO exam_attempts (id, exam_id, student_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (exam_id, student_id) DO NOTHING`,
		a.ID, a.ExamID, a.StudentID, a.Status, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Update writes every mutable column.
func (r *AttemptRepository) Update(ctx context.Context, a *model.ExamAttempt) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = $1, start_time = $2, end_time = $3, device_session_id = $4,
		     session_token = $5, termination_reason = $6, password_attempts = $7,
		     last_password_attempt = $8, auto_save_count = $9, last_auto_save = $10,
		     ip_address = $11, score = $12, updated_at = $13
		 WHERE id = $14`,
		a.Status, a.StartTime, a.EndTime, a.DeviceSessionID,
		a.SessionToken, a.TerminationReason, a.PasswordAttempts,
		a.LastPasswordAttempt, a.AutoSaveCount, a.LastAutoSave,
		a.IPAddress, a.Score, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExpired returns IN_PROGRESS attempts past their exam's duration.
func (r *AttemptRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT a.id
		 FROM exam_attempts a
		 JOIN exams e ON e.id = a.exam_id
		 WHERE a.status = 'IN_PROGRESS'
		   AND a.start_time + make_interval(mins => e.duration_minutes) <= $1
		 ORDER BY a.start_time ASC
		 LIMIT $2`, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats aggregates started attempts for one exam.
func (r *AttemptRepository) Stats(ctx context.Context, examID uuid.UUID) (AttemptStats, error) {
	var s AttemptStats
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'TERMINATED'),
		        COALESCE(AVG(auto_save_count), 0)::float8
		 FROM exam_attempts
		 WHERE exam_id = $1 AND start_time IS NOT NULL`, examID,
	).Scan(&s.Total, &s.Terminated, &s.AverageAutoSaves)
	return s, err
}
