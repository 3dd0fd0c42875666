package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/repository"
	"github.com/stemsi/exstem-guard/internal/repository/memory"
	"github.com/stemsi/exstem-guard/internal/service"
)

// copyFailingSink wraps the memory store and fails every COPY.
type copyFailingSink struct {
	*memory.Store
	copyCalls int
}

func (s *copyFailingSink) CopyMonitoringEvents(_ context.Context, events []*model.MonitoringEvent) (int64, error) {
	s.copyCalls++
	return 0, errors.New("copy: connection reset")
}

type copySink struct {
	*memory.Store
}

func (s copySink) CopyMonitoringEvents(ctx context.Context, events []*model.MonitoringEvent) (int64, error) {
	for _, e := range events {
		if err := s.MonitoringEvents().Create(ctx, e); err != nil {
			return 0, err
		}
	}
	return int64(len(events)), nil
}

func newEvent(t *testing.T, attempt *model.ExamAttempt, typ model.EventType) *model.MonitoringEvent {
	t.Helper()
	ev, err := model.NewMonitoringEvent(attempt, typ, 3, nil, time.Now())
	if err != nil {
		t.Fatalf("NewMonitoringEvent: %v", err)
	}
	return ev
}

func TestDecodeEvent(t *testing.T) {
	attempt := model.NewExamAttempt(uuid.New(), 7, time.Now())
	good, _ := json.Marshal(newEvent(t, attempt, model.EventTabSwitch))

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid", string(good), false},
		{"not json", "{", true},
		{"unknown type", `{"id":"` + uuid.NewString() + `","attempt_id":"` + uuid.NewString() + `","event_type":"SNEEZE","severity":3}`, true},
		{"missing ids", `{"event_type":"TAB_SWITCH","severity":3}`, true},
		{"severity out of range", `{"id":"` + uuid.NewString() + `","attempt_id":"` + uuid.NewString() + `","event_type":"TAB_SWITCH","severity":11}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decodeEvent([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && ev.ReviewedStatus != model.ReviewPending {
				t.Errorf("ReviewedStatus = %q, want PENDING", ev.ReviewedStatus)
			}
		})
	}
}

func TestFlushUsesCopy(t *testing.T) {
	store := memory.New()
	w := NewEventWorker(copySink{store}, nil, zerolog.Nop())
	attempt := model.NewExamAttempt(uuid.New(), 7, time.Now())

	batch := []*model.MonitoringEvent{
		newEvent(t, attempt, model.EventTabSwitch),
		newEvent(t, attempt, model.EventCopyPaste),
	}
	w.flushSafe(context.Background(), batch)

	_, total, err := store.MonitoringEvents().List(context.Background(), model.EventFilter{AttemptID: &attempt.ID, Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 {
		t.Errorf("persisted %d events, want 2", total)
	}
}

func TestFlushFallsBackRowByRow(t *testing.T) {
	store := memory.New()
	sink := &copyFailingSink{Store: store}
	w := NewEventWorker(sink, nil, zerolog.Nop())
	w.requeueBackoff = 0
	attempt := model.NewExamAttempt(uuid.New(), 7, time.Now())

	dup := newEvent(t, attempt, model.EventTabSwitch)
	if err := store.MonitoringEvents().Create(context.Background(), dup); err != nil {
		t.Fatalf("seed: %v", err)
	}
	fresh := newEvent(t, attempt, model.EventFullscreenExit)

	failed := w.fallbackInsert(context.Background(), []*model.MonitoringEvent{dup, fresh})
	if len(failed) != 0 {
		t.Fatalf("fallbackInsert() returned %d failures, want 0 (duplicates are skipped)", len(failed))
	}

	w.flushSafe(context.Background(), []*model.MonitoringEvent{newEvent(t, attempt, model.EventNoFace)})
	if sink.copyCalls != 1 {
		t.Errorf("copy called %d times, want 1", sink.copyCalls)
	}

	_, total, _ := store.MonitoringEvents().List(context.Background(), model.EventFilter{AttemptID: &attempt.ID, Limit: 10})
	if total != 3 {
		t.Errorf("persisted %d events, want 3", total)
	}
}

func TestFallbackReportsStoreFailures(t *testing.T) {
	store := memory.New()
	store.FailOn("monitoring_events.create", errors.New("db down"))
	w := NewEventWorker(&copyFailingSink{Store: store}, nil, zerolog.Nop())
	attempt := model.NewExamAttempt(uuid.New(), 7, time.Now())

	failed := w.fallbackInsert(context.Background(), []*model.MonitoringEvent{newEvent(t, attempt, model.EventTabSwitch)})
	if len(failed) != 1 {
		t.Fatalf("fallbackInsert() returned %d failures, want 1", len(failed))
	}
}

func TestExpirySweeperDisabled(t *testing.T) {
	w := NewExpirySweeper(nil, nil, 0, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled sweeper did not return")
	}
}

func TestExpirySweeperSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	log := zerolog.Nop()

	store := memory.New()
	exam := model.Exam{
		ID:              uuid.New(),
		Title:           "Kimia",
		Status:          model.ExamStatusLive,
		DurationMinutes: 60,
		PassPercentage:  60,
		StartDate:       now.Add(-3 * time.Hour),
		EndDate:         now.Add(3 * time.Hour),
	}
	store.AddExam(exam, model.ExamQuestion{QuestionID: uuid.New(), OrderNum: 1, Points: 1})

	device := &model.DeviceSession{ID: uuid.New(), UserID: 7, DeviceHash: "dev-a", FirstSeen: now, LastActivity: now, IsActive: true}
	idle := &model.DeviceSession{ID: uuid.New(), UserID: 8, DeviceHash: "dev-b", FirstSeen: now.Add(-3 * time.Hour), LastActivity: now.Add(-3 * time.Hour), IsActive: true}
	for _, d := range []*model.DeviceSession{device, idle} {
		if err := store.DeviceSessions().Create(ctx, d); err != nil {
			t.Fatalf("create device: %v", err)
		}
	}

	monitor := service.NewMonitorService(store, nil, nil, log)
	attempts := service.NewAttemptService(store, monitor, nil, service.AttemptPolicy{HeartbeatWindow: 5 * time.Minute}, log)
	devices := service.NewDeviceService(store, "secret", time.Hour, log)

	res, err := attempts.StartExam(ctx, exam.ID, 7, device, nil)
	if err != nil || !res.Success {
		t.Fatalf("StartExam: res=%+v err=%v", res, err)
	}
	store.SetAttemptStart(res.Attempt.ID, now.Add(-2*time.Hour))

	NewExpirySweeper(attempts, devices, time.Minute, log).Sweep(ctx)

	got, err := store.Attempts().GetByID(ctx, res.Attempt.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != model.AttemptAutoSubmitted {
		t.Errorf("Status = %s, want AUTO_SUBMITTED", got.Status)
	}
	if n := store.CountActive(exam.ID, 7); n != 0 {
		t.Errorf("active sessions = %d, want 0", n)
	}

	d, err := store.DeviceSessions().GetByUserAndHash(ctx, 8, "dev-b")
	if err == nil && d.IsActive {
		t.Error("idle device still active")
	}
}

var _ EventSink = (*repository.PostgresStore)(nil)
