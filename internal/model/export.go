package model

import "time"

// TestExport is the top-level JSON structure for test result export.
type TestExport struct {
	EventID   string            `json:"event_id"`
	Station   string            `json:"station"`
	Date      string            `json:"date"`
	NumTests  int               `json:"num_tests"`
	Results   []CandidateResult `json:"results"`
}

// CandidateResult holds one candidate's test session data for export.
type CandidateResult struct {
	CandidateID   string          `json:"candidate_id"`
	CandidateName string          `json:"candidate_name"`
	ExaminerName  string          `json:"examiner_name"`
	TemplateName  string          `json:"template_name"`
	Practice      bool            `json:"practice"`
	Status        SessionStatus   `json:"status"`
	Result        TestResult      `json:"result,omitempty"`
	OverallScore  *float64        `json:"overall_score,omitempty"`
	ElapsedSeconds int            `json:"elapsed_seconds"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Sections      []SectionExport `json:"sections"`
}

// SectionExport holds per-section data for export.
type SectionExport struct {
	Name        string            `json:"name"`
	ReviewNotes string            `json:"review_notes,omitempty"`
	Criteria    []CriterionExport `json:"criteria"`
}

// CriterionExport holds per-criterion data for export.
type CriterionExport struct {
	Label       string         `json:"label"`
	Type        EvaluationType `json:"evaluation_type"`
	Required    bool           `json:"required"`
	Verdict     Verdict        `json:"verdict"`
	Score       *int           `json:"score,omitempty"`
	MaxScore    int            `json:"max_score,omitempty"`
	TimeSeconds *int           `json:"time_seconds,omitempty"`
	Notes       string         `json:"notes,omitempty"`
}

// EventInfo holds event-level export metadata stored alongside tests.
type EventInfo struct {
	EventID  string `json:"event_id"`
	Station  string `json:"station"`
	Date     string `json:"date"`
	NumTests int    `json:"num_tests"`
}
