// Package memory is an in-process repository.Store for tests. Transactions
// hold a store-wide lock and restore a snapshot on error.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/repository"
)

type pairKey struct {
	examID    uuid.UUID
	studentID int
}

type deviceKey struct {
	userID int
	hash   string
}

type data struct {
	exams     map[uuid.UUID]model.Exam
	questions map[uuid.UUID][]model.ExamQuestion
	devices   map[uuid.UUID]model.DeviceSession
	attempts  map[uuid.UUID]model.ExamAttempt
	active    map[pairKey]model.ActiveExamSession
	responses map[uuid.UUID]model.QuestionResponse
	events    map[uuid.UUID]model.MonitoringEvent
}

func newData() *data {
	return &data{
		exams:     make(map[uuid.UUID]model.Exam),
		questions: make(map[uuid.UUID][]model.ExamQuestion),
		devices:   make(map[uuid.UUID]model.DeviceSession),
		attempts:  make(map[uuid.UUID]model.ExamAttempt),
		active:    make(map[pairKey]model.ActiveExamSession),
		responses: make(map[uuid.UUID]model.QuestionResponse),
		events:    make(map[uuid.UUID]model.MonitoringEvent),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.exams {
		c.exams[k] = v
	}
	for k, v := range d.questions {
		c.questions[k] = append([]model.ExamQuestion(nil), v...)
	}
	for k, v := range d.devices {
		c.devices[k] = v
	}
	for k, v := range d.attempts {
		c.attempts[k] = v
	}
	for k, v := range d.active {
		c.active[k] = v
	}
	for k, v := range d.responses {
		c.responses[k] = v
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	return c
}

// Store implements repository.Store in memory.
type Store struct {
	mu     *sync.Mutex
	db     *data
	inTx   bool
	faults *faults
}

type faults struct {
	mu  sync.Mutex
	ops map[string]error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		mu:     &sync.Mutex{},
		db:     newData(),
		faults: &faults{ops: make(map[string]error)},
	}
}

// FailOn makes the next call of op return err. Ops are named
// "<repo>.<method>", e.g. "active_sessions.upsert".
func (s *Store) FailOn(op string, err error) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	s.faults.ops[op] = err
}

func (s *Store) fault(op string) error {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	err := s.faults.ops[op]
	delete(s.faults.ops, op)
	return err
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// AddExam seeds an exam definition with its questions.
func (s *Store) AddExam(e model.Exam, questions ...model.ExamQuestion) {
	defer s.lock()()
	s.db.exams[e.ID] = e
	qs := append([]model.ExamQuestion(nil), questions...)
	sort.Slice(qs, func(i, j int) bool { return qs[i].OrderNum < qs[j].OrderNum })
	for i := range qs {
		qs[i].ExamID = e.ID
	}
	s.db.questions[e.ID] = qs
}

// SetAttemptStart rewinds an attempt's start time. Tests use it to simulate
// elapsed time without sleeping.
func (s *Store) SetAttemptStart(id uuid.UUID, start time.Time) {
	defer s.lock()()
	a, ok := s.db.attempts[id]
	if !ok {
		return
	}
	a.StartTime = &start
	s.db.attempts[id] = a
}

// SetSessionActivity rewinds the claim's last activity.
func (s *Store) SetSessionActivity(examID uuid.UUID, studentID int, at time.Time) {
	defer s.lock()()
	k := pairKey{examID, studentID}
	sess, ok := s.db.active[k]
	if !ok {
		return
	}
	sess.LastActivity = at
	s.db.active[k] = sess
}

// CountActive returns how many ACTIVE claims exist for the pair.
func (s *Store) CountActive(examID uuid.UUID, studentID int) int {
	defer s.lock()()
	n := 0
	for k, v := range s.db.active {
		if k.examID == examID && k.studentID == studentID && v.State == model.ActiveSessionActive {
			n++
		}
	}
	return n
}

func (s *Store) Exams() repository.Exams                       { return examRepo{s} }
func (s *Store) DeviceSessions() repository.DeviceSessions     { return deviceRepo{s} }
func (s *Store) Attempts() repository.Attempts                 { return attemptRepo{s} }
func (s *Store) ActiveSessions() repository.ActiveSessions     { return activeRepo{s} }
func (s *Store) Responses() repository.Responses               { return responseRepo{s} }
func (s *Store) MonitoringEvents() repository.MonitoringEvents { return eventRepo{s} }

// WithTx serializes fn against every other transaction and restores the
// pre-transaction snapshot if fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.db.clone()
	tx := &Store{mu: s.mu, db: s.db, inTx: true, faults: s.faults}
	if err := fn(tx); err != nil {
		*s.db = *snapshot
		return err
	}
	return nil
}
