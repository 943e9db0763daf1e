package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewhall/skilltest/internal/model"
)

// Session owns one live test: its state-machine status, the transient review
// phase, the global stopwatch, and one stopwatch per time-limit criterion.
// A single examiner drives a session at a time; the mutex only reconciles
// the examiner's updates with the scheduler's ticks.
//
// Session methods mutate in-memory state only. Persistence ordering (save
// before review, atomic completion) is the Manager's job.
type Session struct {
	mu   sync.Mutex
	test model.TestSession
	tpl  model.Template

	review     bool
	timer      Stopwatch
	critTimers map[string]*Stopwatch

	now func() time.Time
}

// SessionSpec describes a new test to create.
type SessionSpec struct {
	CandidateID   string
	CandidateName string
	ExaminerID    string
	ExaminerName  string
	Practice      bool
}

// NewSession creates a draft session for the given template with empty
// results for every section.
func NewSession(tpl model.Template, spec SessionSpec) *Session {
	s := &Session{tpl: tpl, now: time.Now}
	s.test = model.TestSession{
		ID:            uuid.NewString(),
		TemplateID:    tpl.ID,
		CandidateID:   spec.CandidateID,
		CandidateName: spec.CandidateName,
		ExaminerID:    spec.ExaminerID,
		ExaminerName:  spec.ExaminerName,
		Practice:      spec.Practice,
		Status:        model.StatusDraft,
		CreatedAt:     s.now(),
	}
	for _, sec := range tpl.Sections {
		s.test.Sections = append(s.test.Sections, model.SectionResult{
			SectionID:   sec.ID,
			SectionName: sec.Name,
		})
	}
	s.initTimers()
	return s
}

// Hydrate rebuilds a session around a test fetched from persistence,
// verifying that every recorded result still matches the template. Results
// referencing ids the template no longer defines indicate template drift and
// are rejected with IntegrityError.
func Hydrate(tpl model.Template, test model.TestSession) (*Session, error) {
	var unknown []string
	for _, sec := range test.Sections {
		known := false
		for _, def := range tpl.Sections {
			if def.ID == sec.SectionID {
				known = true
				break
			}
		}
		if !known {
			unknown = append(unknown, sec.SectionID)
			continue
		}
		for _, r := range sec.Criteria {
			if r.IsReviewNotes() {
				continue
			}
			if tpl.Criterion(r.CriterionID) == nil {
				unknown = append(unknown, r.CriterionID)
			}
		}
	}
	if len(unknown) > 0 {
		return nil, &IntegrityError{TestID: test.ID, Unknown: unknown}
	}

	s := &Session{tpl: tpl, test: test, now: time.Now}
	s.initTimers()
	s.timer.seconds = test.ElapsedSeconds
	for _, sec := range test.Sections {
		for _, r := range sec.Criteria {
			if r.TimeSeconds != nil {
				if sw, ok := s.critTimers[r.CriterionID]; ok {
					sw.seconds = *r.TimeSeconds
				}
			}
		}
	}
	return s, nil
}

func (s *Session) initTimers() {
	s.critTimers = make(map[string]*Stopwatch)
	for _, sec := range s.tpl.Sections {
		for _, c := range sec.Criteria {
			if c.Type == model.EvalTimeLimit {
				s.critTimers[c.ID] = &Stopwatch{}
			}
		}
	}
}

// ID returns the session's test id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.test.ID
}

// Practice reports whether this is a practice test.
func (s *Session) Practice() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.test.Practice
}

// Active reports whether the session can still advance. Terminal statuses
// never tick again.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.test.Status == model.StatusDraft || s.test.Status == model.StatusInProgress
}

// Template returns the session's template.
func (s *Session) Template() model.Template { return s.tpl }

// Snapshot returns a copy of the current test state safe to read and
// serialize while the session keeps ticking.
func (s *Session) Snapshot() model.TestSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyTest()
}

func (s *Session) copyTest() model.TestSession {
	t := s.test
	t.Sections = make([]model.SectionResult, len(s.test.Sections))
	for i, sec := range s.test.Sections {
		cp := sec
		cp.Criteria = make([]model.CriterionResult, len(sec.Criteria))
		copy(cp.Criteria, sec.Criteria)
		t.Sections[i] = cp
	}
	return t
}

// InReview reports whether the session is in the transient review phase.
func (s *Session) InReview() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.review
}

// Tick advances the global stopwatch and every running criterion stopwatch
// by one second. Driven by the Manager's scheduler, once per second per
// active session.
func (s *Session) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer.Tick()
	s.test.ElapsedSeconds = s.timer.Seconds()
	for _, sw := range s.critTimers {
		sw.Tick()
	}
}

// Start begins (or resumes) the global timer. The first start moves a draft
// to in_progress and reports statusChanged so the caller can persist it;
// re-starting an already running session is a state-wise no-op.
func (s *Session) Start() (statusChanged bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.review {
		return false, &IllegalTransitionError{Action: "start", Status: s.test.Status, Review: true}
	}
	switch s.test.Status {
	case model.StatusDraft:
		now := s.now()
		s.test.Status = model.StatusInProgress
		s.test.StartedAt = &now
		s.timer.Start()
		return true, nil
	case model.StatusInProgress:
		s.timer.Start()
		return false, nil
	default:
		return false, &IllegalTransitionError{Action: "start", Status: s.test.Status}
	}
}

// Pause stops the global timer without leaving in_progress.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.test.Status != model.StatusInProgress || s.review {
		return &IllegalTransitionError{Action: "pause", Status: s.test.Status, Review: s.review}
	}
	s.timer.Stop()
	return nil
}

// Evaluate applies a partial update to one criterion and returns the new
// result. Legal only while in_progress and not reviewing.
func (s *Session) Evaluate(criterionID string, in Input) (model.CriterionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.test.Status != model.StatusInProgress || s.review {
		return model.CriterionResult{}, &IllegalTransitionError{Action: "evaluate", Status: s.test.Status, Review: s.review}
	}
	return s.applyLocked(criterionID, in)
}

func (s *Session) applyLocked(criterionID string, in Input) (model.CriterionResult, error) {
	c := s.tpl.Criterion(criterionID)
	if c == nil {
		return model.CriterionResult{}, &InvalidInputError{CriterionID: criterionID, Reason: "unknown criterion"}
	}
	var secIdx int
	found := false
	for i, sec := range s.tpl.Sections {
		for _, cc := range sec.Criteria {
			if cc.ID == criterionID {
				secIdx, found = i, true
			}
		}
	}
	if !found {
		return model.CriterionResult{}, &InvalidInputError{CriterionID: criterionID, Reason: "unknown criterion"}
	}

	res := s.test.Section(s.tpl.Sections[secIdx].ID)
	var prev model.CriterionResult
	if p := res.Result(*c); p != nil {
		prev = *p
	}
	next, err := Apply(*c, prev, in)
	if err != nil {
		return model.CriterionResult{}, err
	}
	if p := res.Result(*c); p != nil {
		*p = next
	} else {
		res.Criteria = append(res.Criteria, next)
	}
	return next, nil
}

// StartCriterionTimer starts the independent stopwatch of a time-limit
// criterion. It does not interact with the global timer.
func (s *Session) StartCriterionTimer(criterionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.test.Status != model.StatusInProgress || s.review {
		return &IllegalTransitionError{Action: "start criterion timer", Status: s.test.Status, Review: s.review}
	}
	sw, err := s.critTimerLocked(criterionID)
	if err != nil {
		return err
	}
	sw.Start()
	return nil
}

// StopCriterionTimer stops the criterion stopwatch and records the elapsed
// time as the criterion's evaluation.
func (s *Session) StopCriterionTimer(criterionID string) (model.CriterionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.test.Status != model.StatusInProgress || s.review {
		return model.CriterionResult{}, &IllegalTransitionError{Action: "stop criterion timer", Status: s.test.Status, Review: s.review}
	}
	sw, err := s.critTimerLocked(criterionID)
	if err != nil {
		return model.CriterionResult{}, err
	}
	sw.Stop()
	secs := sw.Seconds()
	return s.applyLocked(criterionID, Input{ElapsedSeconds: &secs})
}

// ResetCriterionTimer stops and zeroes the criterion stopwatch and returns
// the criterion to unevaluated.
func (s *Session) ResetCriterionTimer(criterionID string) (model.CriterionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.test.Status != model.StatusInProgress || s.review {
		return model.CriterionResult{}, &IllegalTransitionError{Action: "reset criterion timer", Status: s.test.Status, Review: s.review}
	}
	sw, err := s.critTimerLocked(criterionID)
	if err != nil {
		return model.CriterionResult{}, err
	}
	sw.Reset()
	return s.applyLocked(criterionID, Input{ResetTime: true})
}

func (s *Session) critTimerLocked(criterionID string) (*Stopwatch, error) {
	sw, ok := s.critTimers[criterionID]
	if !ok {
		return nil, &InvalidInputError{CriterionID: criterionID, Reason: "not a time-limit criterion"}
	}
	return sw, nil
}

// CriterionTimer reports a criterion stopwatch's current reading.
func (s *Session) CriterionTimer(criterionID string) (seconds int, running bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sw, err := s.critTimerLocked(criterionID)
	if err != nil {
		return 0, false, err
	}
	return sw.Seconds(), sw.Running(), nil
}

// StopForReview freezes the session for review: the global timer and every
// criterion stopwatch are stopped unconditionally, then unevaluated
// non-statement criteria are counted. With unevaluated criteria and force
// unset it returns UnevaluatedError so the caller can confirm; the timers
// stay stopped either way. It does not enter review itself: the caller must
// persist the frozen state first and then call BeginReview.
func (s *Session) StopForReview(force bool) (unevaluated int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.test.Status != model.StatusInProgress || s.review {
		return 0, &IllegalTransitionError{Action: "complete", Status: s.test.Status, Review: s.review}
	}
	s.timer.Stop()
	// A drill stopwatch the examiner forgot must not keep counting while
	// the test is frozen.
	for _, sw := range s.critTimers {
		sw.Stop()
	}
	n := UnevaluatedCount(s.tpl, s.test.Sections)
	if n > 0 && !force {
		return n, &UnevaluatedError{Count: n}
	}
	return n, nil
}

// BeginReview enters the transient review phase.
func (s *Session) BeginReview() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.test.Status != model.StatusInProgress || s.review {
		return &IllegalTransitionError{Action: "review", Status: s.test.Status, Review: s.review}
	}
	s.review = true
	return nil
}

// Back abandons the review phase and returns to live editing. Nothing is
// lost: reviewer notes are caller-held until submission.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.review {
		return &IllegalTransitionError{Action: "back", Status: s.test.Status}
	}
	s.review = false
	return nil
}

// PrepareSubmission merges reviewer notes into the results and computes the
// final outcome without mutating the session. The caller persists the merged
// state atomically and then calls Commit; a failed save leaves the session
// exactly as it was.
func (s *Session) PrepareSubmission(notes map[string]string, strategy ScoringStrategy) ([]model.SectionResult, Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.review {
		return nil, Outcome{}, &IllegalTransitionError{Action: "submit", Status: s.test.Status, Review: s.review}
	}
	merged := MergeNotes(s.test.Sections, notes)
	return merged, Calculate(s.tpl, merged, strategy), nil
}

// Commit finishes the review-to-completed transition after a successful
// atomic save. Completed is terminal: for official tests no transition out
// exists, for practice tests only discard remains.
func (s *Session) Commit(sections []model.SectionResult, out Outcome, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.review {
		return &IllegalTransitionError{Action: "submit", Status: s.test.Status, Review: s.review}
	}
	s.test.Sections = sections
	s.test.Status = model.StatusCompleted
	s.test.Result = out.Result
	score := out.OverallScore
	s.test.OverallScore = &score
	s.test.CompletedAt = &at
	s.review = false
	return nil
}

// CheckDiscard verifies that discarding is legal: only practice tests may be
// destroyed, from any state, and never twice.
func (s *Session) CheckDiscard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.test.Practice {
		return &IllegalTransitionError{Action: "discard", Status: s.test.Status}
	}
	return nil
}

// CheckRetake verifies that a retake may be spawned: practice tests only,
// after completion.
func (s *Session) CheckRetake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.test.Practice || s.test.Status != model.StatusCompleted {
		return &IllegalTransitionError{Action: "retake", Status: s.test.Status}
	}
	return nil
}

// CheckEmail verifies that emailing results is legal: completed practice
// tests only. Emailing never changes state.
func (s *Session) CheckEmail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.test.Practice || s.test.Status != model.StatusCompleted {
		return &IllegalTransitionError{Action: "email results for", Status: s.test.Status}
	}
	return nil
}

// Cancel administratively ends a test that was never completed.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.test.Status {
	case model.StatusDraft, model.StatusInProgress:
		s.timer.Stop()
		s.review = false
		s.test.Status = model.StatusCancelled
		return nil
	default:
		return &IllegalTransitionError{Action: "cancel", Status: s.test.Status}
	}
}

// Tallies derives the live per-section display aggregates.
func (s *Session) Tallies() []SectionTally {
	s.mu.Lock()
	defer s.mu.Unlock()
	tallies := make([]SectionTally, 0, len(s.tpl.Sections))
	for _, sec := range s.tpl.Sections {
		res := model.SectionResult{SectionID: sec.ID}
		if r := s.test.Section(sec.ID); r != nil {
			res = *r
		}
		tallies = append(tallies, TallySection(sec, res))
	}
	return tallies
}
