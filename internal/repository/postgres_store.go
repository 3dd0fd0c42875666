package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-guard/internal/model"
)

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   DBTX
	inTx bool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

func (s *PostgresStore) Exams() Exams                   { return NewExamRepository(s.db) }
func (s *PostgresStore) DeviceSessions() DeviceSessions { return NewDeviceSessionRepository(s.db) }
func (s *PostgresStore) Attempts() Attempts             { return NewAttemptRepository(s.db) }
func (s *PostgresStore) ActiveSessions() ActiveSessions { return NewActiveSessionRepository(s.db) }
func (s *PostgresStore) Responses() Responses           { return NewResponseRepository(s.db) }

func (s *PostgresStore) MonitoringEvents() MonitoringEvents {
	return NewMonitoringEventRepository(s.db)
}

// WithTx runs fn inside a READ COMMITTED transaction. Nested calls reuse the
// outer transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PostgresStore{pool: s.pool, db: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// CopyMonitoringEvents bulk-inserts events with the COPY protocol. The batch
// is all or nothing.
func (s *PostgresStore) CopyMonitoringEvents(ctx context.Context, events []*model.MonitoringEvent) (int64, error) {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, []any{
			e.ID, e.AttemptID, e.ExamID, e.StudentID, string(e.EventType), e.Severity,
			[]byte(e.Evidence), string(e.ReviewedStatus), e.CreatedAt,
		})
	}
	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"monitoring_events"},
		[]string{"id", "attempt_id", "exam_id", "student_id", "event_type", "severity",
			"evidence", "reviewed_status", "created_at"},
		pgx.CopyFromRows(rows),
	)
	return n, mapErr(err)
}
