package engine

import "github.com/crewhall/skilltest/internal/model"

// PointTotal is the earned/available point sum over a section's score
// criteria.
type PointTotal struct {
	Earned    int `json:"earned"`
	Available int `json:"available"`
}

// SectionTally holds live display counts for one section. Statement criteria
// and the synthetic review-notes entry never count toward any total.
type SectionTally struct {
	SectionID   string `json:"section_id"`
	Evaluated   int    `json:"evaluated"`
	Passed      int    `json:"passed"`
	Failed      int    `json:"failed"`
	Unevaluated int    `json:"unevaluated"`
	// Points is nil for sections with no score criteria: absent, not zero.
	Points *PointTotal `json:"points,omitempty"`
}

// TallySection derives the display aggregates for one section from its
// definition and current results. It is a pure function recomputed on every
// mutation; nothing here is stored.
func TallySection(sec model.Section, res model.SectionResult) SectionTally {
	t := SectionTally{SectionID: sec.ID}
	for _, c := range sec.Criteria {
		if c.Type == model.EvalStatement {
			continue
		}
		r := res.Result(c)
		if r != nil && r.Verdict != model.VerdictPending {
			t.Evaluated++
			if r.Verdict == model.VerdictPassed {
				t.Passed++
			} else {
				t.Failed++
			}
		}
		if c.Type == model.EvalScore && c.MaxScore > 0 {
			if t.Points == nil {
				t.Points = &PointTotal{}
			}
			t.Points.Available += c.MaxScore
			if r != nil && r.Score != nil {
				t.Points.Earned += *r.Score
			}
		}
	}
	nonStatement := 0
	for _, c := range sec.Criteria {
		if c.Type != model.EvalStatement {
			nonStatement++
		}
	}
	t.Unevaluated = nonStatement - t.Passed - t.Failed
	return t
}

// UnevaluatedCount sums unevaluated non-statement criteria across all
// sections of a test.
func UnevaluatedCount(tpl model.Template, sections []model.SectionResult) int {
	total := 0
	for _, sec := range tpl.Sections {
		res := model.SectionResult{SectionID: sec.ID}
		for i := range sections {
			if sections[i].SectionID == sec.ID {
				res = sections[i]
				break
			}
		}
		total += TallySection(sec, res).Unevaluated
	}
	return total
}
