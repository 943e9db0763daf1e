package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crewhall/skilltest/internal/model"
)

// Persister is the external persistence collaborator. A missing test is
// reported as ErrNotFound. Implementations are expected to make CompleteTest
// atomic: status, result, score and results land together or not at all.
type Persister interface {
	CreateTest(t model.TestSession) error
	GetTest(id string) (model.TestSession, error)
	SetStatus(id string, status model.SessionStatus) error
	SaveProgress(id string, sections []model.SectionResult, elapsedSeconds int) error
	CompleteTest(id string, sections []model.SectionResult, elapsedSeconds int, result model.TestResult, score float64, at time.Time) error
	DiscardTest(id string) error
}

// TemplateSource resolves immutable test templates.
type TemplateSource interface {
	GetTemplate(id string) (model.Template, error)
}

// Notifier delivers completed results out of band. Fire-and-forget from the
// engine's perspective: delivery never changes session state.
type Notifier interface {
	EmailResults(t model.TestSession) (string, error)
}

// Manager owns the active sessions and drives their clocks. It layers the
// persistence ordering guarantees over Session's in-memory transitions:
// frozen state is saved before review begins, completion is atomic, and a
// failed save never rolls back local edits.
type Manager struct {
	store     Persister
	templates TemplateSource
	notifier  Notifier

	// Strategy is the pluggable scoring formula; nil means PointsStrategy.
	Strategy ScoringStrategy
	// TickInterval is the scheduler period; zero means one second.
	TickInterval time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	stops    map[string]chan struct{}

	now func() time.Time
}

// NewManager creates a session manager over the given collaborators.
func NewManager(store Persister, templates TemplateSource, notifier Notifier) *Manager {
	return &Manager{
		store:     store,
		templates: templates,
		notifier:  notifier,
		sessions:  make(map[string]*Session),
		stops:     make(map[string]chan struct{}),
		now:       time.Now,
	}
}

// Create makes a new draft test for the template and registers it as an
// active session with its own clock.
func (m *Manager) Create(templateID string, spec SessionSpec) (*Session, error) {
	tpl, err := m.templates.GetTemplate(templateID)
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", templateID, err)
	}
	s := NewSession(tpl, spec)
	if err := m.store.CreateTest(s.Snapshot()); err != nil {
		return nil, &PersistenceError{Op: "create test", Err: err}
	}
	s = m.register(s)
	slog.Info("created test", "id", s.ID(), "template", templateID, "practice", spec.Practice)
	return s, nil
}

// Get returns the active session for id, loading and hydrating it from
// persistence when it is not in memory. A discarded or never-created test
// yields ErrNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	test, err := m.store.GetTest(id)
	if err != nil {
		return nil, err
	}
	tpl, err := m.templates.GetTemplate(test.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", test.TemplateID, err)
	}
	s, err := Hydrate(tpl, test)
	if err != nil {
		return nil, err
	}
	return m.register(s), nil
}

// register adds the session to the registry and returns the canonical
// session for its id: when two loads race, the first registration wins and
// both callers get the same session. Clocks only run for sessions that can
// still advance; a completed or cancelled test fetched for display must not
// hold a ticker goroutine.
func (m *Manager) register(s *Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := s.ID()
	if existing, ok := m.sessions[id]; ok {
		return existing
	}
	m.sessions[id] = s
	if s.Active() {
		stop := make(chan struct{})
		m.stops[id] = stop
		go m.runClock(s, stop)
	}
	return s
}

func (m *Manager) runClock(s *Session, stop chan struct{}) {
	interval := m.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Tick()
		case <-stop:
			return
		}
	}
}

// Dispose tears down a session's clock and drops it from memory without
// touching persisted state.
func (m *Manager) Dispose(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stop, ok := m.stops[id]; ok {
		close(stop)
		delete(m.stops, id)
	}
	delete(m.sessions, id)
}

// Close disposes every active session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, stop := range m.stops {
		close(stop)
		delete(m.stops, id)
	}
	m.sessions = make(map[string]*Session)
}

// Start begins the global timer, persisting the draft-to-in_progress status
// change on the first start. A failed save keeps the local transition and
// surfaces a retryable error.
func (m *Manager) Start(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	changed, err := s.Start()
	if err != nil {
		return err
	}
	if changed {
		if err := m.store.SetStatus(id, model.StatusInProgress); err != nil {
			return &PersistenceError{Op: "persist status", Err: err}
		}
	}
	return nil
}

// SaveProgress persists the current results and elapsed time. Local state is
// already authoritative; this only reconciles the stored copy.
func (m *Manager) SaveProgress(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	t := s.Snapshot()
	if err := m.store.SaveProgress(id, t.Sections, t.ElapsedSeconds); err != nil {
		return &PersistenceError{Op: "save progress", Err: err}
	}
	return nil
}

// Complete freezes the test for review: stop the timer, count unevaluated
// criteria (advisory gate unless forced), persist the frozen state, and only
// then enter review. Review never sees a still-ticking or unsaved test.
func (m *Manager) Complete(id string, force bool) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if _, err := s.StopForReview(force); err != nil {
		return err
	}
	t := s.Snapshot()
	if err := m.store.SaveProgress(id, t.Sections, t.ElapsedSeconds); err != nil {
		return &PersistenceError{Op: "save before review", Err: err}
	}
	return s.BeginReview()
}

// Back leaves review and returns to live editing.
func (m *Manager) Back(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Back()
}

// Submit finalizes a reviewed test: reviewer notes are merged in, the
// outcome is calculated, and status, result, score and results are persisted
// atomically before the in-memory session commits. Irreversible for official
// tests; requires explicit confirmation.
func (m *Manager) Submit(id string, notes map[string]string, confirm bool) (model.TestSession, error) {
	s, err := m.Get(id)
	if err != nil {
		return model.TestSession{}, err
	}
	if !confirm {
		return model.TestSession{}, &ConfirmationRequiredError{Action: "submit"}
	}
	merged, out, err := s.PrepareSubmission(notes, m.Strategy)
	if err != nil {
		return model.TestSession{}, err
	}
	at := m.now()
	t := s.Snapshot()
	if err := m.store.CompleteTest(id, merged, t.ElapsedSeconds, out.Result, out.OverallScore, at); err != nil {
		return model.TestSession{}, &PersistenceError{Op: "complete test", Err: err}
	}
	if err := s.Commit(merged, out, at); err != nil {
		return model.TestSession{}, err
	}
	// Completed tests no longer tick.
	m.stopClock(id)
	slog.Info("completed test", "id", id, "result", out.Result, "score", out.OverallScore)
	return s.Snapshot(), nil
}

func (m *Manager) stopClock(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stop, ok := m.stops[id]; ok {
		close(stop)
		delete(m.stops, id)
	}
}

// Discard irreversibly destroys a practice test. Requires explicit
// confirmation; once it succeeds the test is unrecoverable and submit is
// unreachable.
func (m *Manager) Discard(id string, confirm bool) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := s.CheckDiscard(); err != nil {
		return err
	}
	if !confirm {
		return &ConfirmationRequiredError{Action: "discard"}
	}
	if err := m.store.DiscardTest(id); err != nil {
		return &PersistenceError{Op: "discard test", Err: err}
	}
	m.Dispose(id)
	slog.Info("discarded practice test", "id", id)
	return nil
}

// Retake spawns a brand-new draft test for the same template and candidate.
// The new session has an independent lifecycle.
func (m *Manager) Retake(id string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if err := s.CheckRetake(); err != nil {
		return nil, err
	}
	prev := s.Snapshot()
	return m.Create(prev.TemplateID, SessionSpec{
		CandidateID:   prev.CandidateID,
		CandidateName: prev.CandidateName,
		ExaminerID:    prev.ExaminerID,
		ExaminerName:  prev.ExaminerName,
		Practice:      true,
	})
}

// Email sends a completed practice test's results through the notification
// collaborator and returns its confirmation message. State never changes.
func (m *Manager) Email(id string) (string, error) {
	s, err := m.Get(id)
	if err != nil {
		return "", err
	}
	if err := s.CheckEmail(); err != nil {
		return "", err
	}
	msg, err := m.notifier.EmailResults(s.Snapshot())
	if err != nil {
		return "", &PersistenceError{Op: "email results", Err: err}
	}
	return msg, nil
}

// Cancel administratively ends a test and persists the cancelled status.
func (m *Manager) Cancel(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := s.Cancel(); err != nil {
		return err
	}
	if err := m.store.SetStatus(id, model.StatusCancelled); err != nil {
		return &PersistenceError{Op: "persist status", Err: err}
	}
	m.stopClock(id)
	return nil
}
