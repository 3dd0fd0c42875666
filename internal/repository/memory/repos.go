package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/repository"
)

type examRepo struct{ s *Store }

func (r examRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	defer r.s.lock()()
	e, ok := r.s.db.exams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (r examRepo) ListQuestions(_ context.Context, examID uuid.UUID) ([]model.ExamQuestion, error) {
	defer r.s.lock()()
	return append([]model.ExamQuestion(nil), r.s.db.questions[examID]...), nil
}

type deviceRepo struct{ s *Store }

func (r deviceRepo) GetByUserAndHash(_ context.Context, userID int, hash string) (*model.DeviceSession, error) {
	defer r.s.lock()()
	for _, d := range r.s.db.devices {
		if d.UserID == userID && d.DeviceHash == hash {
			return &d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r deviceRepo) Create(_ context.Context, d *model.DeviceSession) error {
	defer r.s.lock()()
	if err := r.s.fault("device_sessions.create"); err != nil {
		return err
	}
	for _, existing := range r.s.db.devices {
		if (deviceKey{existing.UserID, existing.DeviceHash}) == (deviceKey{d.UserID, d.DeviceHash}) {
			return repository.ErrUniqueViolation
		}
	}
	r.s.db.devices[d.ID] = *d
	return nil
}

func (r deviceRepo) Update(_ context.Context, d *model.DeviceSession) error {
	defer r.s.lock()()
	cur, ok := r.s.db.devices[d.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.IPAddress = d.IPAddress
	cur.LastActivity = d.LastActivity
	cur.IsActive = d.IsActive
	r.s.db.devices[d.ID] = cur
	return nil
}

func (r deviceRepo) DeactivateIdle(_ context.Context, before time.Time) (int64, error) {
	defer r.s.lock()()
	var n int64
	for id, d := range r.s.db.devices {
		if d.IsActive && d.LastActivity.Before(before) {
			d.Deactivate()
			r.s.db.devices[id] = d
			n++
		}
	}
	return n, nil
}

type attemptRepo struct{ s *Store }

func (r attemptRepo) withHash(a model.ExamAttempt) *model.ExamAttempt {
	a.DeviceHash = ""
	if a.DeviceSessionID != nil {
		a.DeviceHash = r.s.db.devices[*a.DeviceSessionID].DeviceHash
	}
	return &a
}

func (r attemptRepo) GetByID(_ context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	defer r.s.lock()()
	a, ok := r.s.db.attempts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.withHash(a), nil
}

func (r attemptRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	return r.GetByID(ctx, id)
}

func (r attemptRepo) GetByExamAndStudentForUpdate(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	return r.GetByExamAndStudent(ctx, examID, studentID)
}

func (r attemptRepo) GetByExamAndStudent(_ context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	defer r.s.lock()()
	for _, a := range r.s.db.attempts {
		if a.ExamID == examID && a.StudentID == studentID {
			return r.withHash(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r attemptRepo) CreateIfAbsent(_ context.Context, a *model.ExamAttempt) (bool, error) {
	defer r.s.lock()()
	for _, existing := range r.s.db.attempts {
		if existing.ExamID == a.ExamID && existing.StudentID == a.StudentID {
			return false, nil
		}
	}
	r.s.db.attempts[a.ID] = *a
	return true, nil
}

func (r attemptRepo) Update(_ context.Context, a *model.ExamAttempt) error {
	defer r.s.lock()()
	if err := r.s.fault("attempts.update"); err != nil {
		return err
	}
	if _, ok := r.s.db.attempts[a.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *a
	cp.DeviceHash = ""
	r.s.db.attempts[a.ID] = cp
	return nil
}

func (r attemptRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	defer r.s.lock()()
	var ids []uuid.UUID
	for _, a := range r.s.db.attempts {
		if a.Status != model.AttemptInProgress || a.StartTime == nil {
			continue
		}
		exam := r.s.db.exams[a.ExamID]
		if !a.StartTime.Add(exam.Duration()).After(now) {
			ids = append(ids, a.ID)
		}
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r attemptRepo) Stats(_ context.Context, examID uuid.UUID) (repository.AttemptStats, error) {
	defer r.s.lock()()
	var st repository.AttemptStats
	saves := 0
	for _, a := range r.s.db.attempts {
		if a.ExamID != examID || a.StartTime == nil {
			continue
		}
		st.Total++
		saves += a.AutoSaveCount
		if a.Status == model.AttemptTerminated {
			st.Terminated++
		}
	}
	if st.Total > 0 {
		st.AverageAutoSaves = float64(saves) / float64(st.Total)
	}
	return st, nil
}

type activeRepo struct{ s *Store }

func (r activeRepo) withHash(sess model.ActiveExamSession) model.ActiveExamSession {
	sess.DeviceHash = r.s.db.devices[sess.DeviceSessionID].DeviceHash
	return sess
}

func (r activeRepo) GetByExamAndStudent(_ context.Context, examID uuid.UUID, studentID int) (*model.ActiveExamSession, error) {
	defer r.s.lock()()
	sess, ok := r.s.db.active[pairKey{examID, studentID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	sess = r.withHash(sess)
	return &sess, nil
}

func (r activeRepo) Upsert(_ context.Context, sess *model.ActiveExamSession) error {
	defer r.s.lock()()
	if err := r.s.fault("active_sessions.upsert"); err != nil {
		return err
	}
	k := pairKey{sess.ExamID, sess.StudentID}
	if cur, ok := r.s.db.active[k]; ok {
		sess.ID = cur.ID
	}
	cp := *sess
	cp.DeviceHash = ""
	r.s.db.active[k] = cp
	return nil
}

func (r activeRepo) Update(_ context.Context, sess *model.ActiveExamSession) error {
	defer r.s.lock()()
	if err := r.s.fault("active_sessions.update"); err != nil {
		return err
	}
	k := pairKey{sess.ExamID, sess.StudentID}
	cur, ok := r.s.db.active[k]
	if !ok || cur.ID != sess.ID {
		return repository.ErrNotFound
	}
	cur.State = sess.State
	cur.LastActivity = sess.LastActivity
	cur.ClosedAt = sess.ClosedAt
	cur.ClosedReason = sess.ClosedReason
	r.s.db.active[k] = cur
	return nil
}

func (r activeRepo) ListLapsed(_ context.Context, before time.Time, limit int) ([]model.ActiveExamSession, error) {
	defer r.s.lock()()
	var out []model.ActiveExamSession
	for _, sess := range r.s.db.active {
		if sess.State == model.ActiveSessionActive && sess.LastActivity.Before(before) {
			out = append(out, r.withHash(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.Before(out[j].LastActivity) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type responseRepo struct{ s *Store }

func (r responseRepo) CreateBatch(_ context.Context, rs []model.QuestionResponse) error {
	defer r.s.lock()()
	if err := r.s.fault("responses.create_batch"); err != nil {
		return err
	}
	for _, resp := range rs {
		exists := false
		for _, cur := range r.s.db.responses {
			if cur.AttemptID == resp.AttemptID && cur.QuestionID == resp.QuestionID {
				exists = true
				break
			}
		}
		if !exists {
			r.s.db.responses[resp.ID] = resp
		}
	}
	return nil
}

func (r responseRepo) Get(_ context.Context, attemptID, questionID uuid.UUID) (*model.QuestionResponse, error) {
	defer r.s.lock()()
	for _, resp := range r.s.db.responses {
		if resp.AttemptID == attemptID && resp.QuestionID == questionID {
			return &resp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r responseRepo) ListByAttempt(_ context.Context, attemptID uuid.UUID, submitted *bool) ([]model.QuestionResponse, error) {
	defer r.s.lock()()
	var out []model.QuestionResponse
	for _, resp := range r.s.db.responses {
		if resp.AttemptID != attemptID {
			continue
		}
		if submitted != nil && resp.IsSubmitted != *submitted {
			continue
		}
		out = append(out, resp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNum < out[j].OrderNum })
	return out, nil
}

func (r responseRepo) Update(_ context.Context, resp *model.QuestionResponse) error {
	defer r.s.lock()()
	if _, ok := r.s.db.responses[resp.ID]; !ok {
		return repository.ErrNotFound
	}
	r.s.db.responses[resp.ID] = *resp
	return nil
}

type eventRepo struct{ s *Store }

func (r eventRepo) Create(_ context.Context, e *model.MonitoringEvent) error {
	defer r.s.lock()()
	if err := r.s.fault("monitoring_events.create"); err != nil {
		return err
	}
	if _, ok := r.s.db.events[e.ID]; ok {
		return repository.ErrUniqueViolation
	}
	r.s.db.events[e.ID] = *e
	return nil
}

func (r eventRepo) GetByID(_ context.Context, id uuid.UUID) (*model.MonitoringEvent, error) {
	defer r.s.lock()()
	e, ok := r.s.db.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (r eventRepo) UpdateReview(_ context.Context, e *model.MonitoringEvent) error {
	defer r.s.lock()()
	cur, ok := r.s.db.events[e.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.ReviewedStatus = e.ReviewedStatus
	cur.ReviewedBy = e.ReviewedBy
	cur.ReviewedAt = e.ReviewedAt
	cur.ReviewNotes = e.ReviewNotes
	cur.ActionTaken = e.ActionTaken
	r.s.db.events[e.ID] = cur
	return nil
}

func (r eventRepo) List(_ context.Context, f model.EventFilter) ([]model.MonitoringEvent, int64, error) {
	defer r.s.lock()()
	var matched []model.MonitoringEvent
	for _, e := range r.s.db.events {
		if f.ExamID != nil && e.ExamID != *f.ExamID {
			continue
		}
		if f.AttemptID != nil && e.AttemptID != *f.AttemptID {
			continue
		}
		if f.ReviewedStatus != "" && e.ReviewedStatus != f.ReviewedStatus {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if f.NeedsAttention && !e.RequiresImmediateAttention() {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	if f.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (r eventRepo) CountByType(_ context.Context, examID uuid.UUID) (map[model.EventType]int, error) {
	defer r.s.lock()()
	counts := make(map[model.EventType]int)
	for _, e := range r.s.db.events {
		if e.ExamID == examID {
			counts[e.EventType]++
		}
	}
	return counts, nil
}

func (r eventRepo) CountAttemptsWithType(_ context.Context, examID uuid.UUID, t model.EventType) (int, error) {
	defer r.s.lock()()
	seen := make(map[uuid.UUID]struct{})
	for _, e := range r.s.db.events {
		if e.ExamID == examID && e.EventType == t {
			seen[e.AttemptID] = struct{}{}
		}
	}
	return len(seen), nil
}
