package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-guard/internal/model"
)

// ResponseRepository handles per-question answer slots.
type ResponseRepository struct {
	db DBTX
}

// NewResponseRepository creates a new ResponseRepository.
func NewResponseRepository(db DBTX) *ResponseRepository {
	return &ResponseRepository{db: db}
}

const responseColumns = `id, attempt_id, question_id, order_num, student_answer, draft_answer,
	auto_save_count, last_auto_save, points_awarded, is_submitted, submitted_at, updated_at`

func scanResponse(row interface{ Scan(dest ...any) error }) (*model.QuestionResponse, error) {
	r := &model.QuestionResponse{}
	err := row.Scan(&r.ID, &r.AttemptID, &r.QuestionID, &r.OrderNum, &r.StudentAnswer, &r.DraftAnswer,
		&r.AutoSaveCount, &r.LastAutoSave, &r.PointsAwarded, &r.IsSubmitted, &r.SubmittedAt, &r.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return r, nil
}

// CreateBatch pre-allocates slots in one round trip.
func (r *ResponseRepository) CreateBatch(ctx context.Context, rs []model.QuestionResponse) error {
	if len(rs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, resp := range rs {
		batch.Queue(
			`INSERT INTO question_responses (id, attempt_id, question_id, order_num, updated_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (attempt_id, question_id) DO NOTHING`,
			resp.ID, resp.AttemptID, resp.QuestionID, resp.OrderNum, resp.UpdatedAt,
		)
	}

	sender, ok := r.db.(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		for _, resp := range rs {
			if _, err := r.db.Exec(ctx,
				`INSERT INTO question_responses (id, attempt_id, question_id, order_num, updated_at)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (attempt_id, question_id) DO NOTHING`,
				resp.ID, resp.AttemptID, resp.QuestionID, resp.OrderNum, resp.UpdatedAt,
			); err != nil {
				return mapErr(err)
			}
		}
		return nil
	}

	br := sender.SendBatch(ctx, batch)
	defer br.Close()
	for range rs {
		if _, err := br.Exec(); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

// Get retrieves one slot.
func (r *ResponseRepository) Get(ctx context.Context, attemptID, questionID uuid.UUID) (*model.QuestionResponse, error) {
	return scanResponse(r.db.QueryRow(ctx,
		`SELECT `+responseColumns+` FROM question_responses
		 WHERE attempt_id = $1 AND question_id = $2`, attemptID, questionID))
}

// ListByAttempt returns slots in order, optionally filtered by is_submitted.
func (r *ResponseRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID, submitted *bool) ([]model.QuestionResponse, error) {
	query := `SELECT ` + responseColumns + ` FROM question_responses WHERE attempt_id = $1`
	args := []any{attemptID}
	if submitted != nil {
		query += ` AND is_submitted = $2`
		args = append(args, *submitted)
	}
	query += ` ORDER BY order_num ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.QuestionResponse
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *resp)
	}
	return out, rows.Err()
}

// Update writes answer, autosave and grading columns.
func (r *ResponseRepository) Update(ctx context.Context, resp *model.QuestionResponse) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE question_responses
		 SET student_answer = $1, draft_answer = $2, auto_save_count = $3, last_auto_save = $4,
		     points_awarded = $5, is_submitted = $6, submitted_at = $7, updated_at = $8
		 WHERE id = $9`,
		resp.StudentAnswer, resp.DraftAnswer, resp.AutoSaveCount, resp.LastAutoSave,
		resp.PointsAwarded, resp.IsSubmitted, resp.SubmittedAt, resp.UpdatedAt, resp.ID,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
