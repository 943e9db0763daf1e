// Package template is the parse/validate boundary between externally
// authored template JSON and the typed model. Parsing fails closed:
// structurally invalid input is rejected, never defaulted.
package template

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/crewhall/skilltest/internal/model"
)

// ParseError describes why a raw template was rejected.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid template at %s: %s", e.Path, e.Reason)
}

// rawTemplate mirrors the authored JSON, with every field optional so that
// validation, not decoding, decides what is acceptable.
type rawTemplate struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	PassingPercentage float64      `json:"passing_percentage"`
	Sections          []rawSection `json:"sections"`
}

type rawSection struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Criteria []rawCriterion `json:"criteria"`
}

type rawCriterion struct {
	ID               string   `json:"id"`
	Label            string   `json:"label"`
	Description      string   `json:"description"`
	Type             string   `json:"evaluation_type"`
	Required         bool     `json:"required"`
	PassingScore     int      `json:"passing_score"`
	MaxScore         int      `json:"max_score"`
	TimeLimitSeconds int      `json:"time_limit_seconds"`
	ChecklistItems   []string `json:"checklist_items"`
	StatementText    string   `json:"statement_text"`
}

// Parse decodes and validates raw template JSON. Section and criterion ids
// are synthesized deterministically (section-{i}, criterion-{i}-{j}) only
// when the source lacks them; supplied ids are kept and checked for
// uniqueness.
func Parse(raw []byte) (model.Template, error) {
	var rt rawTemplate
	if err := json.Unmarshal(raw, &rt); err != nil {
		return model.Template{}, &ParseError{Path: "$", Reason: err.Error()}
	}
	return build(rt)
}

func build(rt rawTemplate) (model.Template, error) {
	if rt.Name == "" {
		return model.Template{}, &ParseError{Path: "$.name", Reason: "template name is required"}
	}
	if len(rt.Sections) == 0 {
		return model.Template{}, &ParseError{Path: "$.sections", Reason: "template has no sections"}
	}
	if rt.PassingPercentage < 0 || rt.PassingPercentage > 100 {
		return model.Template{}, &ParseError{Path: "$.passing_percentage", Reason: "must be within [0, 100]"}
	}

	tpl := model.Template{
		ID:                rt.ID,
		Name:              rt.Name,
		PassingPercentage: rt.PassingPercentage,
	}

	seenSections := make(map[string]bool)
	seenCriteria := make(map[string]bool)
	for si, rs := range rt.Sections {
		path := fmt.Sprintf("$.sections[%d]", si)
		if rs.Name == "" {
			return model.Template{}, &ParseError{Path: path + ".name", Reason: "section name is required"}
		}
		if len(rs.Criteria) == 0 {
			return model.Template{}, &ParseError{Path: path + ".criteria", Reason: "section has no criteria"}
		}
		sec := model.Section{ID: rs.ID, Name: rs.Name}
		if sec.ID == "" {
			sec.ID = fmt.Sprintf("section-%d", si)
		}
		if seenSections[sec.ID] {
			return model.Template{}, &ParseError{Path: path + ".id", Reason: fmt.Sprintf("duplicate section id %q", sec.ID)}
		}
		seenSections[sec.ID] = true

		for ci, rc := range rs.Criteria {
			cpath := fmt.Sprintf("%s.criteria[%d]", path, ci)
			c, err := buildCriterion(rc, cpath, si, ci)
			if err != nil {
				return model.Template{}, err
			}
			if seenCriteria[c.ID] {
				return model.Template{}, &ParseError{Path: cpath + ".id", Reason: fmt.Sprintf("duplicate criterion id %q", c.ID)}
			}
			seenCriteria[c.ID] = true
			sec.Criteria = append(sec.Criteria, c)
		}
		tpl.Sections = append(tpl.Sections, sec)
	}
	return tpl, nil
}

func buildCriterion(rc rawCriterion, path string, si, ci int) (model.Criterion, error) {
	c := model.Criterion{
		ID:               rc.ID,
		Label:            rc.Label,
		Description:      rc.Description,
		Type:             model.EvaluationType(rc.Type),
		Required:         rc.Required,
		PassingScore:     rc.PassingScore,
		MaxScore:         rc.MaxScore,
		TimeLimitSeconds: rc.TimeLimitSeconds,
		ChecklistItems:   rc.ChecklistItems,
		StatementText:    rc.StatementText,
	}
	if c.ID == "" {
		c.ID = fmt.Sprintf("criterion-%d-%d", si, ci)
	}
	// The suffix marks the synthetic section-notes entry in results; an
	// authored criterion carrying it would be mistaken for one.
	if strings.HasSuffix(c.ID, model.ReviewNotesSuffix) {
		return model.Criterion{}, &ParseError{Path: path + ".id", Reason: fmt.Sprintf("criterion id suffix %q is reserved", model.ReviewNotesSuffix)}
	}
	if c.Label == "" {
		return model.Criterion{}, &ParseError{Path: path + ".label", Reason: "criterion label is required"}
	}
	if !c.Type.Valid() {
		return model.Criterion{}, &ParseError{Path: path + ".evaluation_type", Reason: fmt.Sprintf("unknown evaluation type %q", rc.Type)}
	}

	switch c.Type {
	case model.EvalScore:
		if c.MaxScore <= 0 {
			return model.Criterion{}, &ParseError{Path: path + ".max_score", Reason: "score criterion needs a positive max score"}
		}
		if c.PassingScore < 0 || c.PassingScore > c.MaxScore {
			return model.Criterion{}, &ParseError{Path: path + ".passing_score", Reason: "passing score must be within [0, max score]"}
		}
	case model.EvalTimeLimit:
		if c.TimeLimitSeconds < 0 {
			return model.Criterion{}, &ParseError{Path: path + ".time_limit_seconds", Reason: "time limit cannot be negative"}
		}
	case model.EvalChecklist:
		// An empty checklist would pass vacuously; authoring one is
		// rejected here so the engine never has to decide.
		if len(c.ChecklistItems) == 0 {
			return model.Criterion{}, &ParseError{Path: path + ".checklist_items", Reason: "checklist criterion needs at least one item"}
		}
	case model.EvalStatement:
		if c.StatementText == "" {
			return model.Criterion{}, &ParseError{Path: path + ".statement_text", Reason: "statement criterion needs statement text"}
		}
	}
	return c, nil
}
