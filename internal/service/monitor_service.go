package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/repository"
)

// MonitorService owns the monitoring event feed and its review workflow.
// It records and reviews events but never changes attempt state.
type MonitorService struct {
	store     repository.Store
	publisher EventPublisher
	queue     EventQueue
	log       zerolog.Logger
	now       func() time.Time
}

// NewMonitorService creates a new MonitorService. publisher and queue may be
// nil: events are then only stored, synchronously.
func NewMonitorService(store repository.Store, publisher EventPublisher, queue EventQueue, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		store:     store,
		publisher: publisher,
		queue:     queue,
		log:       log.With().Str("component", "monitor_service").Logger(),
		now:       time.Now,
	}
}

// Record validates and stores an event for an attempt, then publishes it.
func (s *MonitorService) Record(ctx context.Context, attemptID uuid.UUID, eventType model.EventType, severity int, evidence json.RawMessage) (*model.MonitoringEvent, error) {
	attempt, err := s.store.Attempts().GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	ev, err := s.recordTx(ctx, s.store, attempt, eventType, severity, evidence)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, ev)
	return ev, nil
}

// RecordForStudent records client telemetry for the student's own attempt,
// sent from the device the attempt is bound to. With a queue configured the
// write is deferred to the event worker.
func (s *MonitorService) RecordForStudent(ctx context.Context, attemptID uuid.UUID, studentID int, deviceHash string, req model.RecordEventRequest) (*model.MonitoringEvent, error) {
	attempt, err := s.store.Attempts().GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, ErrNotFound
	}
	if attempt.Status != model.AttemptInProgress {
		return nil, ErrAttemptClosed
	}
	if !attempt.CanAccessFromDevice(deviceHash) {
		return nil, ErrDeviceMismatch
	}

	if s.queue == nil {
		ev, err := s.recordTx(ctx, s.store, attempt, req.EventType, req.Severity, req.Evidence)
		if err != nil {
			return nil, err
		}
		s.publish(ctx, ev)
		return ev, nil
	}

	ev, err := model.NewMonitoringEvent(attempt, req.EventType, req.Severity, req.Evidence, s.now())
	if err != nil {
		return nil, validationError(err)
	}
	if err := s.queue.Push(ctx, ev); err != nil {
		return nil, fmt.Errorf("enqueue event: %w", err)
	}
	s.publish(ctx, ev)
	return ev, nil
}

// Flag records a MANUAL_FLAG raised by staff.
func (s *MonitorService) Flag(ctx context.Context, attemptID uuid.UUID, staffID int, req model.FlagAttemptRequest) (*model.MonitoringEvent, error) {
	evidence, _ := json.Marshal(map[string]any{"flagged_by": staffID, "note": req.Note})
	return s.Record(ctx, attemptID, model.EventManualFlag, req.Severity, evidence)
}

// recordTx writes an event through store, which may be a transaction.
// Callers publish after commit.
func (s *MonitorService) recordTx(ctx context.Context, store repository.Store, attempt *model.ExamAttempt, eventType model.EventType, severity int, evidence json.RawMessage) (*model.MonitoringEvent, error) {
	ev, err := model.NewMonitoringEvent(attempt, eventType, severity, evidence, s.now())
	if err != nil {
		return nil, validationError(err)
	}
	if err := store.MonitoringEvents().Create(ctx, ev); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	logEv := s.log.Info()
	if ev.RequiresImmediateAttention() {
		logEv = s.log.Warn()
	}
	logEv.Str("event_id", ev.ID.String()).
		Str("attempt_id", ev.AttemptID.String()).
		Str("event_type", string(ev.EventType)).
		Int("severity", ev.Severity).
		Msg("Monitoring event recorded")
	return ev, nil
}

func (s *MonitorService) publish(ctx context.Context, ev *model.MonitoringEvent) {
	if s.publisher == nil || ev == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("Failed to publish monitoring event")
	}
}

// Get retrieves one event.
func (s *MonitorService) Get(ctx context.Context, id uuid.UUID) (*model.MonitoringEvent, error) {
	ev, err := s.store.MonitoringEvents().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ev, nil
}

// List returns a filtered page of events.
func (s *MonitorService) List(ctx context.Context, f model.EventFilter) ([]model.MonitoringEvent, int64, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.EventType != "" && !f.EventType.Valid() {
		return nil, 0, validationError(model.ErrInvalidEventType)
	}
	return s.store.MonitoringEvents().List(ctx, f)
}

// AssignForReview hands an event to a reviewer.
func (s *MonitorService) AssignForReview(ctx context.Context, id uuid.UUID, reviewerID int) (*model.MonitoringEvent, error) {
	return s.review(ctx, id, func(ev *model.MonitoringEvent) error {
		ev.AssignForReview(reviewerID)
		return nil
	})
}

// CompleteReview closes the review of an event.
func (s *MonitorService) CompleteReview(ctx context.Context, id uuid.UUID, reviewerID int, req model.ReviewEventRequest) (*model.MonitoringEvent, error) {
	return s.review(ctx, id, func(ev *model.MonitoringEvent) error {
		if err := ev.CompleteReview(reviewerID, req.ReviewedStatus, req.ReviewNotes, req.ActionTaken, s.now()); err != nil {
			return validationError(err)
		}
		return nil
	})
}

func (s *MonitorService) review(ctx context.Context, id uuid.UUID, apply func(*model.MonitoringEvent) error) (*model.MonitoringEvent, error) {
	var out *model.MonitoringEvent
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		ev, err := tx.MonitoringEvents().GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := apply(ev); err != nil {
			return err
		}
		if err := tx.MonitoringEvents().UpdateReview(ctx, ev); err != nil {
			return fmt.Errorf("update review: %w", err)
		}
		out = ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("event_id", id.String()).
		Str("reviewed_status", string(out.ReviewedStatus)).
		Msg("Monitoring event review updated")
	return out, nil
}

// ConcurrencyReport summarizes session integrity for an exam. The three
// aggregates are fetched in parallel.
func (s *MonitorService) ConcurrencyReport(ctx context.Context, examID uuid.UUID) (*model.ConcurrencyReport, error) {
	if _, err := s.store.Exams().GetByID(ctx, examID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var (
		stats       repository.AttemptStats
		multiDevice int
		byType      map[model.EventType]int
		statsErr    error
		multiErr    error
		typeErr     error
		wg          sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		stats, statsErr = s.store.Attempts().Stats(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		multiDevice, multiErr = s.store.MonitoringEvents().CountAttemptsWithType(ctx, examID, model.EventDeviceMismatch)
	}()
	go func() {
		defer wg.Done()
		byType, typeErr = s.store.MonitoringEvents().CountByType(ctx, examID)
	}()
	wg.Wait()

	if err := errors.Join(statsErr, multiErr, typeErr); err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}

	report := &model.ConcurrencyReport{
		ExamID:              examID,
		TotalAttempts:       stats.Total,
		MultiDeviceAttempts: multiDevice,
		TerminatedSessions:  stats.Terminated,
		AverageAutoSaves:    stats.AverageAutoSaves,
		EventsByType:        byType,
		GeneratedAt:         s.now(),
	}
	report.ViolationRate = report.ComputeViolationRate()
	return report, nil
}
