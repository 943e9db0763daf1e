package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/crewhall/skilltest/internal/model"
)

// fakeStore is an in-memory Persister for manager tests. failOn makes the
// named operation fail to exercise persistence-failure recovery.
type fakeStore struct {
	tests  map[string]model.TestSession
	failOn string
	saves  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tests: make(map[string]model.TestSession)}
}

func (f *fakeStore) fail(op string) error {
	if f.failOn == op {
		return fmt.Errorf("%s: connection refused", op)
	}
	return nil
}

func (f *fakeStore) CreateTest(t model.TestSession) error {
	if err := f.fail("create"); err != nil {
		return err
	}
	f.tests[t.ID] = t
	return nil
}

func (f *fakeStore) GetTest(id string) (model.TestSession, error) {
	t, ok := f.tests[id]
	if !ok {
		return model.TestSession{}, ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) SetStatus(id string, status model.SessionStatus) error {
	if err := f.fail("status"); err != nil {
		return err
	}
	t := f.tests[id]
	t.Status = status
	f.tests[id] = t
	return nil
}

func (f *fakeStore) SaveProgress(id string, sections []model.SectionResult, elapsedSeconds int) error {
	if err := f.fail("save"); err != nil {
		return err
	}
	f.saves++
	t := f.tests[id]
	t.Sections = sections
	t.ElapsedSeconds = elapsedSeconds
	f.tests[id] = t
	return nil
}

func (f *fakeStore) CompleteTest(id string, sections []model.SectionResult, elapsedSeconds int, result model.TestResult, score float64, at time.Time) error {
	if err := f.fail("complete"); err != nil {
		return err
	}
	t := f.tests[id]
	t.Status = model.StatusCompleted
	t.Result = result
	t.OverallScore = &score
	t.Sections = sections
	t.ElapsedSeconds = elapsedSeconds
	t.CompletedAt = &at
	f.tests[id] = t
	return nil
}

func (f *fakeStore) DiscardTest(id string) error {
	if err := f.fail("discard"); err != nil {
		return err
	}
	delete(f.tests, id)
	return nil
}

type fakeTemplates struct{ tpl model.Template }

func (f fakeTemplates) GetTemplate(id string) (model.Template, error) {
	if id != f.tpl.ID {
		return model.Template{}, ErrNotFound
	}
	return f.tpl, nil
}

type fakeNotifier struct{ sent []string }

func (f *fakeNotifier) EmailResults(t model.TestSession) (string, error) {
	f.sent = append(f.sent, t.ID)
	return "sent " + t.ID, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeStore, *fakeNotifier) {
	t.Helper()
	fs := newFakeStore()
	fn := &fakeNotifier{}
	m := NewManager(fs, fakeTemplates{tpl: drillTemplate()}, fn)
	// Keep the background scheduler out of the way; tests tick explicitly.
	m.TickInterval = time.Hour
	t.Cleanup(m.Close)
	return m, fs, fn
}

func createTest(t *testing.T, m *Manager, practice bool) *Session {
	t.Helper()
	s, err := m.Create("tpl-1", SessionSpec{CandidateID: "cand-1", CandidateName: "Pat Doyle", Practice: practice})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

// finishTest drives a test to completed through the manager.
func finishTest(t *testing.T, m *Manager, s *Session) model.TestSession {
	t.Helper()
	if err := m.Start(s.ID()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	evaluateAll(t, s)
	if err := m.Complete(s.ID(), false); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	test, err := m.Submit(s.ID(), map[string]string{"sec-1": "well drilled"}, true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return test
}

func TestManagerCreatePersists(t *testing.T) {
	m, fs, _ := newTestManager(t)
	s := createTest(t, m, false)

	stored, ok := fs.tests[s.ID()]
	if !ok {
		t.Fatal("expected test persisted on create")
	}
	if stored.Status != model.StatusDraft || len(stored.Sections) != 2 {
		t.Errorf("unexpected stored test: %+v", stored)
	}
}

func TestManagerStartPersistsStatus(t *testing.T) {
	m, fs, _ := newTestManager(t)
	s := createTest(t, m, false)

	if err := m.Start(s.ID()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := fs.tests[s.ID()].Status; got != model.StatusInProgress {
		t.Errorf("expected persisted in_progress, got %s", got)
	}
}

func TestManagerPersistenceFailureKeepsLocalState(t *testing.T) {
	m, fs, _ := newTestManager(t)
	s := createTest(t, m, false)

	fs.failOn = "status"
	err := m.Start(s.ID())
	var persistence *PersistenceError
	if !errors.As(err, &persistence) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	// Local edits are never rolled back silently; the caller may retry.
	if got := s.Snapshot().Status; got != model.StatusInProgress {
		t.Errorf("expected local in_progress preserved, got %s", got)
	}
	if got := fs.tests[s.ID()].Status; got != model.StatusDraft {
		t.Errorf("expected stored status unchanged, got %s", got)
	}
}

func TestManagerCompletePersistsBeforeReview(t *testing.T) {
	m, fs, _ := newTestManager(t)
	s := createTest(t, m, false)
	if err := m.Start(s.ID()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	evaluateAll(t, s)
	s.Tick()
	s.Tick()

	// A failed save must leave the session out of review so Complete can be
	// retried against the frozen state.
	fs.failOn = "save"
	err := m.Complete(s.ID(), false)
	var persistence *PersistenceError
	if !errors.As(err, &persistence) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if s.InReview() {
		t.Fatal("review must not begin before the frozen state is saved")
	}

	fs.failOn = ""
	if err := m.Complete(s.ID(), false); err != nil {
		t.Fatalf("retried Complete: %v", err)
	}
	if !s.InReview() {
		t.Fatal("expected session in review")
	}
	if got := fs.tests[s.ID()].ElapsedSeconds; got != 2 {
		t.Errorf("expected frozen elapsed persisted, got %d", got)
	}
}

func TestManagerCompleteGate(t *testing.T) {
	m, fs, _ := newTestManager(t)
	s := createTest(t, m, false)
	if err := m.Start(s.ID()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := m.Complete(s.ID(), false)
	var unevaluated *UnevaluatedError
	if !errors.As(err, &unevaluated) {
		t.Fatalf("expected UnevaluatedError, got %v", err)
	}
	if fs.saves != 0 {
		t.Error("declined gate must not persist")
	}

	// Advisory, not blocking: force enters review.
	if err := m.Complete(s.ID(), true); err != nil {
		t.Fatalf("forced Complete: %v", err)
	}
	if !s.InReview() {
		t.Error("expected session in review")
	}
}

func TestManagerSubmit(t *testing.T) {
	m, fs, _ := newTestManager(t)
	s := createTest(t, m, false)

	if err := m.Start(s.ID()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	evaluateAll(t, s)
	if err := m.Complete(s.ID(), false); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Destructive finalization needs explicit confirmation.
	_, err := m.Submit(s.ID(), nil, false)
	var confirmation *ConfirmationRequiredError
	if !errors.As(err, &confirmation) {
		t.Fatalf("expected ConfirmationRequiredError, got %v", err)
	}

	test, err := m.Submit(s.ID(), map[string]string{"sec-2": "strong hose work"}, true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if test.Status != model.StatusCompleted || test.Result != model.ResultPass {
		t.Errorf("unexpected submitted test: %s/%s", test.Status, test.Result)
	}

	// Status, result and score land together in the store.
	stored := fs.tests[s.ID()]
	if stored.Status != model.StatusCompleted || stored.Result != model.ResultPass || stored.OverallScore == nil {
		t.Errorf("completion not atomic in store: %+v", stored)
	}
	notes := SectionNotes(stored.Sections)
	if notes["sec-2"] != "strong hose work" {
		t.Errorf("review notes not persisted: %v", notes)
	}
}

func TestManagerSubmitPersistenceFailure(t *testing.T) {
	m, fs, _ := newTestManager(t)
	s := createTest(t, m, false)
	if err := m.Start(s.ID()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	evaluateAll(t, s)
	if err := m.Complete(s.ID(), false); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	fs.failOn = "complete"
	if _, err := m.Submit(s.ID(), nil, true); err == nil {
		t.Fatal("expected submit failure")
	}
	// The session is still reviewable and re-submittable.
	if got := s.Snapshot().Status; got != model.StatusInProgress {
		t.Errorf("expected local state preserved, got %s", got)
	}
	if !s.InReview() {
		t.Error("expected session still in review")
	}

	fs.failOn = ""
	if _, err := m.Submit(s.ID(), nil, true); err != nil {
		t.Fatalf("retried Submit: %v", err)
	}
}

func TestManagerDiscard(t *testing.T) {
	m, fs, _ := newTestManager(t)
	s := createTest(t, m, true)
	id := s.ID()

	// Confirmation guard first.
	err := m.Discard(id, false)
	var confirmation *ConfirmationRequiredError
	if !errors.As(err, &confirmation) {
		t.Fatalf("expected ConfirmationRequiredError, got %v", err)
	}
	if _, ok := fs.tests[id]; !ok {
		t.Fatal("unconfirmed discard must not delete")
	}

	if err := m.Discard(id, true); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	// Unrecoverable: a subsequent fetch reports not found, not a cached
	// draft, and submit is unreachable.
	if _, err := m.Get(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after discard, got %v", err)
	}
	if _, err := m.Submit(id, nil, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected submit unreachable after discard, got %v", err)
	}
}

func TestManagerDiscardOfficialRejected(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := createTest(t, m, false)

	err := m.Discard(s.ID(), true)
	var illegal *IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Errorf("expected IllegalTransitionError, got %v", err)
	}
}

func TestManagerRetake(t *testing.T) {
	m, fs, _ := newTestManager(t)
	s := createTest(t, m, true)
	finishTest(t, m, s)

	retake, err := m.Retake(s.ID())
	if err != nil {
		t.Fatalf("Retake: %v", err)
	}
	if retake.ID() == s.ID() {
		t.Error("retake must have an independent lifecycle")
	}
	snap := retake.Snapshot()
	if snap.Status != model.StatusDraft || !snap.Practice {
		t.Errorf("expected fresh practice draft, got %+v", snap)
	}
	if snap.CandidateID != "cand-1" || snap.TemplateID != "tpl-1" {
		t.Errorf("retake must keep template and candidate: %+v", snap)
	}
	// Both sessions persisted independently.
	if len(fs.tests) != 2 {
		t.Errorf("expected 2 stored tests, got %d", len(fs.tests))
	}
	// The original remains completed and discardable.
	if got := s.Snapshot().Status; got != model.StatusCompleted {
		t.Errorf("original changed by retake: %s", got)
	}
}

func TestManagerEmail(t *testing.T) {
	m, _, fn := newTestManager(t)
	s := createTest(t, m, true)

	// Practice-only and completion-only.
	if _, err := m.Email(s.ID()); err == nil {
		t.Error("expected error emailing an unfinished test")
	}
	finishTest(t, m, s)

	msg, err := m.Email(s.ID())
	if err != nil {
		t.Fatalf("Email: %v", err)
	}
	if msg != "sent "+s.ID() {
		t.Errorf("unexpected confirmation: %q", msg)
	}
	if len(fn.sent) != 1 {
		t.Errorf("expected one delivery, got %d", len(fn.sent))
	}
	// Fire-and-forget: state unchanged.
	if got := s.Snapshot().Status; got != model.StatusCompleted {
		t.Errorf("email changed state: %s", got)
	}
}

func TestManagerHydratesFromStore(t *testing.T) {
	m, fs, _ := newTestManager(t)
	s := createTest(t, m, false)
	id := s.ID()
	if err := m.Start(id); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Evaluate("c1", Input{Pass: boolPtr(true)}); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if err := m.SaveProgress(id); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	// Drop the in-memory session; Get must rebuild it from the store.
	m.Dispose(id)
	loaded, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get after dispose: %v", err)
	}
	snap := loaded.Snapshot()
	if snap.Status != model.StatusInProgress {
		t.Errorf("expected in_progress, got %s", snap.Status)
	}
	sec := snap.Section("sec-1")
	if sec == nil || len(sec.Criteria) == 0 || sec.Criteria[0].Verdict != model.VerdictPassed {
		t.Errorf("expected hydrated results, got %+v", snap.Sections)
	}

	// Hydration surfaces template drift instead of dropping results.
	broken := fs.tests[id]
	broken.Sections[0].Criteria = append(broken.Sections[0].Criteria, model.CriterionResult{CriterionID: "ghost"})
	fs.tests[id] = broken
	m.Dispose(id)
	_, err = m.Get(id)
	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Errorf("expected IntegrityError, got %v", err)
	}
}

func TestManagerTerminalSessionsGetNoClock(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := createTest(t, m, false)
	id := s.ID()
	finishTest(t, m, s)

	// Viewing a past test must not spawn a ticker goroutine that only
	// Close would stop.
	m.Dispose(id)
	loaded, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := loaded.Snapshot().Status; got != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	m.mu.Lock()
	_, ticking := m.stops[id]
	m.mu.Unlock()
	if ticking {
		t.Error("a completed test must not hold a clock")
	}
}

func TestManagerRegisterKeepsCanonicalSession(t *testing.T) {
	m, fs, _ := newTestManager(t)
	s := createTest(t, m, false)
	id := s.ID()

	// Two cold loads of the same id hydrate distinct sessions; the registry
	// must hand every caller the one that registered first.
	m.Dispose(id)
	first, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	dup, err := Hydrate(drillTemplate(), fs.tests[id])
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if got := m.register(dup); got != first {
		t.Error("register must return the canonical session")
	}
	again, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again != first {
		t.Error("Get must keep returning the canonical session")
	}
}
