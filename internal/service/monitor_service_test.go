package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-guard/internal/model"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.MonitoringEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev *model.MonitoringEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type recordingQueue struct {
	pushed []*model.MonitoringEvent
}

func (q *recordingQueue) Push(_ context.Context, ev *model.MonitoringEvent) error {
	q.pushed = append(q.pushed, ev)
	return nil
}

func TestRecordValidatesEvents(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	res := f.start(t, f.device("dev-a"), nil)

	tests := []struct {
		name      string
		eventType model.EventType
		severity  int
		wantErr   bool
	}{
		{"valid tab switch", model.EventTabSwitch, 3, false},
		{"severity upper bound", model.EventMultipleFaces, 10, false},
		{"severity too high", model.EventTabSwitch, 11, true},
		{"severity zero", model.EventTabSwitch, 0, true},
		{"unknown type", model.EventType("SNEEZE"), 2, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.monitor.Record(ctx, res.Attempt.ID, tc.eventType, tc.severity, nil)
			if tc.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Record: %v", err)
			}
		})
	}

	if _, err := f.monitor.Record(ctx, uuid.New(), model.EventTabSwitch, 3, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for unknown attempt, got %v", err)
	}
}

func TestRecordNeverChangesAttempt(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	res := f.start(t, f.device("dev-a"), nil)

	if _, err := f.monitor.Record(ctx, res.Attempt.ID, model.EventMultipleFaces, 10, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	a, _ := f.store.Attempts().GetByID(ctx, res.Attempt.ID)
	if a.Status != model.AttemptInProgress {
		t.Fatalf("Monitoring must not change attempt state, got %s", a.Status)
	}
}

func TestRecordForStudent(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	res := f.start(t, f.device("dev-a"), nil)
	req := model.RecordEventRequest{EventType: model.EventTabSwitch, Severity: 2, Evidence: json.RawMessage(`{"count":1}`)}

	if _, err := f.monitor.RecordForStudent(ctx, res.Attempt.ID, 99, "dev-a", req); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for foreign attempt, got %v", err)
	}
	if _, err := f.monitor.RecordForStudent(ctx, res.Attempt.ID, 7, "dev-b", req); !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("Expected ErrDeviceMismatch from another device, got %v", err)
	}
	if _, total, _ := f.monitor.List(ctx, model.EventFilter{AttemptID: &res.Attempt.ID, EventType: model.EventTabSwitch}); total != 0 {
		t.Fatalf("Rejected telemetry must not be stored, got %d", total)
	}

	pub, queue := &recordingPublisher{}, &recordingQueue{}
	f.monitor.publisher = pub
	f.monitor.queue = queue

	ev, err := f.monitor.RecordForStudent(ctx, res.Attempt.ID, 7, "dev-a", req)
	if err != nil {
		t.Fatalf("RecordForStudent: %v", err)
	}
	if len(queue.pushed) != 1 || queue.pushed[0].ID != ev.ID {
		t.Fatalf("Expected the event on the persist queue")
	}
	if len(pub.events) != 1 || pub.events[0].ExamID != f.exam.ID {
		t.Fatalf("Expected the event on the live feed")
	}
	if _, err := f.monitor.Get(ctx, ev.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Queued events are written by the worker, got %v", err)
	}

	if _, err := f.attempts.Submit(ctx, res.Attempt.ID, 7, "dev-a"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.monitor.RecordForStudent(ctx, res.Attempt.ID, 7, "dev-a", req); !errors.Is(err, ErrAttemptClosed) {
		t.Fatalf("Expected ErrAttemptClosed after submit, got %v", err)
	}
}

func TestReviewLifecycle(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	res := f.start(t, f.device("dev-a"), nil)

	ev, err := f.monitor.Flag(ctx, res.Attempt.ID, 3, model.FlagAttemptRequest{Severity: 9, Note: "phone on desk"})
	if err != nil {
		t.Fatalf("Flag: %v", err)
	}
	if ev.EventType != model.EventManualFlag || ev.ReviewedStatus != model.ReviewPending || !ev.RequiresImmediateAttention() {
		t.Fatalf("Unexpected flag event: %+v", ev)
	}

	assigned, err := f.monitor.AssignForReview(ctx, ev.ID, 3)
	if err != nil {
		t.Fatalf("AssignForReview: %v", err)
	}
	if assigned.ReviewedStatus != model.ReviewReviewing || *assigned.ReviewedBy != 3 {
		t.Fatalf("Unexpected assignment: %+v", assigned)
	}

	if _, err := f.monitor.CompleteReview(ctx, ev.ID, 3, model.ReviewEventRequest{ReviewedStatus: model.ReviewPending}); !errors.Is(err, ErrValidation) {
		t.Fatalf("PENDING is not a review outcome, got %v", err)
	}

	done, err := f.monitor.CompleteReview(ctx, ev.ID, 3, model.ReviewEventRequest{
		ReviewedStatus: model.ReviewViolation,
		ReviewNotes:    "confirmed on camera",
		ActionTaken:    "warned",
	})
	if err != nil {
		t.Fatalf("CompleteReview: %v", err)
	}
	if done.ReviewedStatus != model.ReviewViolation || done.ReviewedAt == nil || done.ActionTaken != "warned" {
		t.Fatalf("Unexpected reviewed event: %+v", done)
	}

	pending, _, err := f.monitor.List(ctx, model.EventFilter{ExamID: &f.exam.ID, ReviewedStatus: model.ReviewPending})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("Expected no pending events, got %d", len(pending))
	}
}

func TestListRejectsUnknownType(t *testing.T) {
	f := newFixture(t, "")
	if _, _, err := f.monitor.List(context.Background(), model.EventFilter{EventType: "BOGUS"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestConcurrencyReport(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	res := f.start(t, f.device("dev-a"), nil)
	if _, err := f.attempts.StartExam(ctx, f.exam.ID, 7, f.device("dev-b"), nil); !errors.Is(err, ErrConcurrencyViolation) {
		t.Fatalf("Expected concurrency violation, got %v", err)
	}
	if _, err := f.attempts.TerminateSession(ctx, res.Attempt.ID, "second device"); err != nil {
		t.Fatalf("TerminateSession: %v", err)
	}

	report, err := f.monitor.ConcurrencyReport(ctx, f.exam.ID)
	if err != nil {
		t.Fatalf("ConcurrencyReport: %v", err)
	}
	if report.TotalAttempts != 1 || report.MultiDeviceAttempts != 1 || report.TerminatedSessions != 1 {
		t.Fatalf("Unexpected report: %+v", report)
	}
	if report.ViolationRate != 100 {
		t.Fatalf("Expected 100%% violation rate, got %v", report.ViolationRate)
	}
	if report.EventsByType[model.EventDeviceMismatch] != 1 {
		t.Fatalf("Expected one DEVICE_MISMATCH event, got %v", report.EventsByType)
	}

	if _, err := f.monitor.ConcurrencyReport(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for unknown exam, got %v", err)
	}
}
