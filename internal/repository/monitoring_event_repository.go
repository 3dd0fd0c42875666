package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-guard/internal/model"
)

// MonitoringEventRepository persists the append-only event feed.
type MonitoringEventRepository struct {
	db DBTX
}

// NewMonitoringEventRepository creates a new MonitoringEventRepository.
func NewMonitoringEventRepository(db DBTX) *MonitoringEventRepository {
	return &MonitoringEventRepository{db: db}
}

const eventColumns = `id, attempt_id, exam_id, student_id, event_type, severity, evidence,
	reviewed_status, reviewed_by, reviewed_at, review_notes, action_taken, created_at`

func scanEvent(row interface{ Scan(dest ...any) error }) (*model.MonitoringEvent, error) {
	e := &model.MonitoringEvent{}
	err := row.Scan(&e.ID, &e.AttemptID, &e.ExamID, &e.StudentID, &e.EventType, &e.Severity, &e.Evidence,
		&e.ReviewedStatus, &e.ReviewedBy, &e.ReviewedAt, &e.ReviewNotes, &e.ActionTaken, &e.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return e, nil
}

// Create appends an event.
func (r *MonitoringEventRepository) Create(ctx context.Context, e *model.MonitoringEvent) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO monitoring_events (id, attempt_id, exam_id, student_id, event_type, severity,
		                                evidence, reviewed_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.AttemptID, e.ExamID, e.StudentID, e.EventType, e.Severity,
		e.Evidence, e.ReviewedStatus, e.CreatedAt,
	)
	return mapErr(err)
}

// GetByID retrieves one event.
func (r *MonitoringEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.MonitoringEvent, error) {
	return scanEvent(r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM monitoring_events WHERE id = $1`, id))
}

// UpdateReview writes the review workflow columns only.
func (r *MonitoringEventRepository) UpdateReview(ctx context.Context, e *model.MonitoringEvent) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE monitoring_events
		 SET reviewed_status = $1, reviewed_by = $2, reviewed_at = $3, review_notes = $4, action_taken = $5
		 WHERE id = $6`,
		e.ReviewedStatus, e.ReviewedBy, e.ReviewedAt, e.ReviewNotes, e.ActionTaken, e.ID,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a filtered page of events, newest first, with the total count.
func (r *MonitoringEventRepository) List(ctx context.Context, f model.EventFilter) ([]model.MonitoringEvent, int64, error) {
	where := ` WHERE 1=1`
	var args []any

	if f.ExamID != nil {
		args = append(args, *f.ExamID)
		where += fmt.Sprintf(" AND exam_id = $%d", len(args))
	}
	if f.AttemptID != nil {
		args = append(args, *f.AttemptID)
		where += fmt.Sprintf(" AND attempt_id = $%d", len(args))
	}
	if f.ReviewedStatus != "" {
		args = append(args, f.ReviewedStatus)
		where += fmt.Sprintf(" AND reviewed_status = $%d", len(args))
	}
	if f.EventType != "" {
		args = append(args, f.EventType)
		where += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if f.NeedsAttention {
		args = append(args, model.AttentionSeverity)
		where += fmt.Sprintf(" AND severity >= $%d", len(args))
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM monitoring_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + eventColumns + ` FROM monitoring_events` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []model.MonitoringEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *e)
	}
	return events, total, rows.Err()
}

// CountByType returns event counts per type for an exam.
func (r *MonitoringEventRepository) CountByType(ctx context.Context, examID uuid.UUID) (map[model.EventType]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT event_type, COUNT(*) FROM monitoring_events
		 WHERE exam_id = $1 GROUP BY event_type`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.EventType]int)
	for rows.Next() {
		var t model.EventType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// CountAttemptsWithType counts distinct attempts carrying at least one event of type t.
func (r *MonitoringEventRepository) CountAttemptsWithType(ctx context.Context, examID uuid.UUID, t model.EventType) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(DISTINCT attempt_id) FROM monitoring_events
		 WHERE exam_id = $1 AND event_type = $2`, examID, t,
	).Scan(&n)
	return n, err
}
