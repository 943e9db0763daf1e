package model

import "time"

// EvaluationType identifies how a criterion is evaluated in the field.
type EvaluationType string

const (
	// EvalPassFail is a direct pass/fail choice.
	EvalPassFail EvaluationType = "pass_fail"
	// EvalScore is an integer score against a configured maximum.
	EvalScore EvaluationType = "score"
	// EvalTimeLimit is a stopwatch measured against an optional limit.
	EvalTimeLimit EvaluationType = "time_limit"
	// EvalChecklist is a set of items that must all be checked off.
	EvalChecklist EvaluationType = "checklist"
	// EvalStatement is informational text acknowledged by the examiner.
	EvalStatement EvaluationType = "statement"
)

// Valid reports whether t is a known evaluation type.
func (t EvaluationType) Valid() bool {
	switch t {
	case EvalPassFail, EvalScore, EvalTimeLimit, EvalChecklist, EvalStatement:
		return true
	}
	return false
}

// Criterion is one evaluable unit within a section.
type Criterion struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	Description string         `json:"description,omitempty"`
	Type        EvaluationType `json:"evaluation_type"`
	// Required marks a critical criterion: failing it fails the whole test.
	Required bool `json:"required"`

	// Score configuration.
	PassingScore int `json:"passing_score,omitempty"`
	MaxScore     int `json:"max_score,omitempty"`

	// TimeLimit configuration. Zero means no limit is enforced.
	TimeLimitSeconds int `json:"time_limit_seconds,omitempty"`

	// Checklist configuration.
	ChecklistItems []string `json:"checklist_items,omitempty"`

	// Statement configuration.
	StatementText string `json:"statement_text,omitempty"`
}

// Section is an ordered group of criteria within a template.
type Section struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Criteria []Criterion `json:"criteria"`
}

// Template is the immutable definition of a skill test.
type Template struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	PassingPercentage float64   `json:"passing_percentage"`
	Sections          []Section `json:"sections"`
}

// Criterion returns the criterion with the given id, or nil.
func (t *Template) Criterion(id string) *Criterion {
	for si := range t.Sections {
		for ci := range t.Sections[si].Criteria {
			if t.Sections[si].Criteria[ci].ID == id {
				return &t.Sections[si].Criteria[ci]
			}
		}
	}
	return nil
}

// Verdict is the evaluation state of a single criterion.
type Verdict string

const (
	// VerdictPending means the criterion has not been evaluated yet.
	// Distinct from failed.
	VerdictPending Verdict = "pending"
	VerdictPassed  Verdict = "passed"
	VerdictFailed  Verdict = "failed"
)

// CriterionResult is the mutable evaluation record for one criterion.
type CriterionResult struct {
	CriterionID string `json:"criterion_id"`
	// Label mirrors the criterion label and serves as a fallback key
	// for results recorded before an id existed.
	Label         string  `json:"label,omitempty"`
	Verdict       Verdict `json:"verdict"`
	Score         *int    `json:"score,omitempty"`
	TimeSeconds   *int    `json:"time_seconds,omitempty"`
	ChecklistDone []bool  `json:"checklist_completed,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

// ReviewNotesSuffix is appended to a section id to form the criterion id of
// the synthetic entry carrying section-level reviewer commentary.
const ReviewNotesSuffix = "-review-notes"

// ReviewNotesID returns the synthetic criterion id for a section's notes.
func ReviewNotesID(sectionID string) string {
	return sectionID + ReviewNotesSuffix
}

// IsReviewNotes reports whether r is the synthetic section-notes entry.
func (r CriterionResult) IsReviewNotes() bool {
	return len(r.CriterionID) > len(ReviewNotesSuffix) &&
		r.CriterionID[len(r.CriterionID)-len(ReviewNotesSuffix):] == ReviewNotesSuffix
}

// SectionResult holds the results for every criterion of one section.
type SectionResult struct {
	SectionID   string            `json:"section_id"`
	SectionName string            `json:"section_name"`
	Criteria    []CriterionResult `json:"criteria_results"`
}

// Result returns the result for the given criterion, matching by id with a
// label fallback, or nil when the criterion has no result yet.
func (s *SectionResult) Result(c Criterion) *CriterionResult {
	for i := range s.Criteria {
		if s.Criteria[i].CriterionID == c.ID {
			return &s.Criteria[i]
		}
	}
	for i := range s.Criteria {
		if s.Criteria[i].CriterionID == "" && s.Criteria[i].Label == c.Label {
			return &s.Criteria[i]
		}
	}
	return nil
}

// SessionStatus is the persisted state of a test session. The review phase
// is transient engine state and never stored; a discarded test is deleted
// outright rather than kept in a terminal status.
type SessionStatus string

const (
	StatusDraft      SessionStatus = "draft"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusCancelled  SessionStatus = "cancelled"
)

// TestResult is the final outcome of a completed test.
type TestResult string

const (
	ResultPass       TestResult = "pass"
	ResultFail       TestResult = "fail"
	ResultIncomplete TestResult = "incomplete"
)

// TestSession is one administration of a template to a candidate.
// Candidate and examiner names are denormalized display strings supplied by
// the caller; the engine never resolves them itself.
type TestSession struct {
	ID            string        `json:"id"`
	TemplateID    string        `json:"template_id"`
	CandidateID   string        `json:"candidate_id"`
	CandidateName string        `json:"candidate_name"`
	ExaminerID    string        `json:"examiner_id"`
	ExaminerName  string        `json:"examiner_name"`
	Practice      bool          `json:"practice"`
	Status        SessionStatus `json:"status"`
	// Result is only meaningful once Status is completed.
	Result         TestResult      `json:"result,omitempty"`
	ElapsedSeconds int             `json:"elapsed_seconds"`
	OverallScore   *float64        `json:"overall_score,omitempty"`
	Sections       []SectionResult `json:"section_results"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Section returns the section result with the given id, or nil.
func (t *TestSession) Section(sectionID string) *SectionResult {
	for i := range t.Sections {
		if t.Sections[i].SectionID == sectionID {
			return &t.Sections[i]
		}
	}
	return nil
}
