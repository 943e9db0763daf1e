package engine

import "github.com/crewhall/skilltest/internal/model"

// MergeNotes folds section-level reviewer notes into the results as synthetic
// review-notes entries, immediately before finalization. For each section
// with a non-empty note it updates the existing entry in place or appends a
// new one; it never duplicates. Calling it twice with the same note map
// yields the same results, and per-criterion notes are left untouched.
func MergeNotes(sections []model.SectionResult, notes map[string]string) []model.SectionResult {
	merged := make([]model.SectionResult, len(sections))
	for i, sec := range sections {
		out := sec
		out.Criteria = make([]model.CriterionResult, len(sec.Criteria))
		copy(out.Criteria, sec.Criteria)

		note, ok := notes[sec.SectionID]
		if !ok || note == "" {
			merged[i] = out
			continue
		}

		id := model.ReviewNotesID(sec.SectionID)
		found := false
		for j := range out.Criteria {
			if out.Criteria[j].CriterionID == id {
				out.Criteria[j].Notes = note
				found = true
				break
			}
		}
		if !found {
			out.Criteria = append(out.Criteria, model.CriterionResult{
				CriterionID: id,
				Verdict:     model.VerdictPending,
				Notes:       note,
			})
		}
		merged[i] = out
	}
	return merged
}

// SectionNotes extracts the current review-notes text per section id,
// the inverse of MergeNotes for display and export.
func SectionNotes(sections []model.SectionResult) map[string]string {
	notes := make(map[string]string)
	for _, sec := range sections {
		id := model.ReviewNotesID(sec.SectionID)
		for _, r := range sec.Criteria {
			if r.CriterionID == id && r.Notes != "" {
				notes[sec.SectionID] = r.Notes
			}
		}
	}
	return notes
}
