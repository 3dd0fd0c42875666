package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-guard/internal/model"
)

// ExamRepository reads exam definitions.
type ExamRepository struct {
	db DBTX
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(db DBTX) *ExamRepository {
	return &ExamRepository{db: db}
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.db.QueryRow(ctx,
		`SELECT id, title, status, duration_minutes, max_attempts, pass_percentage,
		        exam_password, start_date, end_date, time_zone,
		        shuffle_questions, disable_copy_paste, full_screen_required,
		        require_webcam, allow_backtracking, enable_auto_save,
		        created_at, updated_at
		 FROM exams WHERE id = $1`, id,
	).Scan(
		&e.ID, &e.Title, &e.Status, &e.DurationMinutes, &e.MaxAttempts, &e.PassPercentage,
		&e.ExamPassword, &e.StartDate, &e.EndDate, &e.TimeZone,
		&e.ShuffleQuestions, &e.DisableCopyPaste, &e.FullScreenRequired,
		&e.RequireWebcam, &e.AllowBacktracking, &e.EnableAutoSave,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return e, nil
}

// ListQuestions returns the exam's questions in their fixed order.
func (r *ExamRepository) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.ExamQuestion, error) {
	rows, err := r.db.Query(ctx,
		`SELECT exam_id, question_id, order_num, points
		 FROM exam_questions
		 WHERE exam_id = $1
		 ORDER BY order_num ASC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.ExamQuestion
	for rows.Next() {
		var q model.ExamQuestion
		if err := rows.Scan(&q.ExamID, &q.QuestionID, &q.OrderNum, &q.Points); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// UpdatePassword replaces the stored exam password.
func (r *ExamRepository) UpdatePassword(ctx context.Context, id uuid.UUID, password string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE exams SET exam_password = $1, updated_at = NOW() WHERE id = $2`,
		password, id,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
