package store

import (
	"fmt"

	"github.com/crewhall/skilltest/internal/engine"
	"github.com/crewhall/skilltest/internal/model"
)

// ExportAllTests builds export-ready candidate results from every completed
// test, joined with its template for labels and criterion metadata. Drafts
// and tests still in progress have no outcome and are skipped.
func (s *Store) ExportAllTests() ([]model.CandidateResult, error) {
	tests, err := s.ListTests()
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}

	templates := make(map[string]model.Template)
	var results []model.CandidateResult
	for _, t := range tests {
		if t.Status != model.StatusCompleted {
			continue
		}
		tpl, ok := templates[t.TemplateID]
		if !ok {
			tpl, err = s.GetTemplate(t.TemplateID)
			if err != nil {
				return nil, fmt.Errorf("get template %s: %w", t.TemplateID, err)
			}
			templates[t.TemplateID] = tpl
		}

		notes := engine.SectionNotes(t.Sections)
		var sections []model.SectionExport
		for _, def := range tpl.Sections {
			se := model.SectionExport{Name: def.Name, ReviewNotes: notes[def.ID]}
			res := model.SectionResult{SectionID: def.ID}
			if r := t.Section(def.ID); r != nil {
				res = *r
			}
			for _, c := range def.Criteria {
				ce := model.CriterionExport{
					Label:    c.Label,
					Type:     c.Type,
					Required: c.Required,
					MaxScore: c.MaxScore,
					Verdict:  model.VerdictPending,
				}
				if r := res.Result(c); r != nil {
					ce.Verdict = r.Verdict
					ce.Score = r.Score
					ce.TimeSeconds = r.TimeSeconds
					ce.Notes = r.Notes
				}
				se.Criteria = append(se.Criteria, ce)
			}
			sections = append(sections, se)
		}

		results = append(results, model.CandidateResult{
			CandidateID:    t.CandidateID,
			CandidateName:  t.CandidateName,
			ExaminerName:   t.ExaminerName,
			TemplateName:   tpl.Name,
			Practice:       t.Practice,
			Status:         t.Status,
			Result:         t.Result,
			OverallScore:   t.OverallScore,
			ElapsedSeconds: t.ElapsedSeconds,
			StartedAt:      t.StartedAt,
			CompletedAt:    t.CompletedAt,
			Sections:       sections,
		})
	}

	return results, nil
}
