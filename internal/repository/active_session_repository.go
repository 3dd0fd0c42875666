package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-guard/internal/model"
)

// ActiveSessionRepository persists the (student, exam) exclusive claim.
type ActiveSessionRepository struct {
	db DBTX
}

// NewActiveSessionRepository creates a new ActiveSessionRepository.
func NewActiveSessionRepository(db DBTX) *ActiveSessionRepository {
	return &ActiveSessionRepository{db: db}
}

const activeSessionColumns = `s.id, s.exam_id, s.student_id, s.attempt_id, s.device_session_id,
	d.device_hash, s.session_token, s.state, s.started_at, s.last_activity,
	s.closed_at, s.closed_reason`

func scanActiveSession(row interface{ Scan(dest ...any) error }) (*model.ActiveExamSession, error) {
	s := &model.ActiveExamSession{}
	err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.AttemptID, &s.DeviceSessionID,
		&s.DeviceHash, &s.SessionToken, &s.State, &s.StartedAt, &s.LastActivity,
		&s.ClosedAt, &s.ClosedReason)
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

// GetByExamAndStudent retrieves the claim row for a pair, whatever its state.
func (r *ActiveSessionRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ActiveExamSession, error) {
	return scanActiveSession(r.db.QueryRow(ctx,
		`SELECT `+activeSessionColumns+`
		 FROM active_exam_sessions s
		 JOIN device_sessions d ON d.id = s.device_session_id
		 WHERE s.exam_id = $1 AND s.student_id = $2`, examID, studentID))
}

// Upsert creates or replaces the claim for (exam, student).
func (r *ActiveSessionRepository) Upsert(ctx context.Context, s *model.ActiveExamSession) error {
	return mapErr(r.db.QueryRow(ctx,
		`INSERT INTO active_exam_sessions (id, exam_id, student_id, attempt_id, device_session_id,
		                                   session_token, state, started_at, last_activity,
		                                   closed_at, closed_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (exam_id, student_id) DO UPDATE
		 SET attempt_id = EXCLUDED.attempt_id,
		     device_session_id = EXCLUDED.device_session_id,
		     session_token = EXCLUDED.session_token,
		     state = EXCLUDED.state,
		     started_at = EXCLUDED.started_at,
		     last_activity = EXCLUDED.last_activity,
		     closed_at = EXCLUDED.closed_at,
		     closed_reason = EXCLUDED.closed_reason
		 RETURNING id`,
		s.ID, s.ExamID, s.StudentID, s.AttemptID, s.DeviceSessionID,
		s.SessionToken, s.State, s.StartedAt, s.LastActivity,
		s.ClosedAt, s.ClosedReason,
	).Scan(&s.ID))
}

// Update writes state and activity columns of an existing claim.
func (r *ActiveSessionRepository) Update(ctx context.Context, s *model.ActiveExamSession) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE active_exam_sessions
		 SET state = $1, last_activity = $2, closed_at = $3, closed_reason = $4
		 WHERE id = $5`,
		s.State, s.LastActivity, s.ClosedAt, s.ClosedReason, s.ID,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLapsed returns ACTIVE claims with no activity since before.
func (r *ActiveSessionRepository) ListLapsed(ctx context.Context, before time.Time, limit int) ([]model.ActiveExamSession, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+activeSessionColumns+`
		 FROM active_exam_sessions s
		 JOIN device_sessions d ON d.id = s.device_session_id
		 WHERE s.state = 'ACTIVE' AND s.last_activity < $1
		 ORDER BY s.last_activity ASC
		 LIMIT $2`, before, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ActiveExamSession
	for rows.Next() {
		s, err := scanActiveSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}
