package engine

import "github.com/crewhall/skilltest/internal/model"

// ScoringStrategy converts a test's results into an overall percentage.
// Templates may weight sections differently, so the formula is pluggable;
// the critical-failure override in Calculate is not.
type ScoringStrategy interface {
	OverallScore(tpl model.Template, sections []model.SectionResult) float64
}

// PointsStrategy is the default scoring formula: score criteria contribute
// their earned points against their maximum, and critical pass/fail criteria
// contribute a fixed binary weight. Non-critical pass/fail criteria do not
// move the percentage.
type PointsStrategy struct {
	// PassFailWeight is the point value of each critical pass/fail
	// criterion. Zero means 1.
	PassFailWeight int
}

// OverallScore implements ScoringStrategy.
func (p PointsStrategy) OverallScore(tpl model.Template, sections []model.SectionResult) float64 {
	weight := p.PassFailWeight
	if weight <= 0 {
		weight = 1
	}

	earned, available := 0, 0
	for _, sec := range tpl.Sections {
		res := resultsFor(sections, sec.ID)
		for _, c := range sec.Criteria {
			switch c.Type {
			case model.EvalScore:
				if c.MaxScore <= 0 {
					continue
				}
				available += c.MaxScore
				if r := res.Result(c); r != nil && r.Score != nil {
					earned += *r.Score
				}
			case model.EvalPassFail:
				if !c.Required {
					continue
				}
				available += weight
				if r := res.Result(c); r != nil && r.Verdict == model.VerdictPassed {
					earned += weight
				}
			}
		}
	}
	if available == 0 {
		return 0
	}
	return float64(earned) / float64(available) * 100
}

// Outcome is the final result of a completed test.
type Outcome struct {
	Result       model.TestResult
	OverallScore float64
}

// Calculate computes the final outcome from all section results. It runs
// exactly once per test, at submission, and the same function backs both the
// engine and the store-side completion path so the two can never disagree.
//
// A failed critical criterion fails the test outright regardless of
// percentage. Critical criteria still pending make the outcome incomplete.
// Otherwise the test passes iff the strategy's percentage meets the
// template's threshold; with no threshold configured the default is zero,
// i.e. pass unless a critical criterion failed.
func Calculate(tpl model.Template, sections []model.SectionResult, strategy ScoringStrategy) Outcome {
	if strategy == nil {
		strategy = PointsStrategy{}
	}
	score := strategy.OverallScore(tpl, sections)

	criticalFailed := false
	criticalPending := false
	for _, sec := range tpl.Sections {
		res := resultsFor(sections, sec.ID)
		for _, c := range sec.Criteria {
			if !c.Required || c.Type == model.EvalStatement {
				continue
			}
			r := res.Result(c)
			switch {
			case r == nil || r.Verdict == model.VerdictPending:
				criticalPending = true
			case r.Verdict == model.VerdictFailed:
				criticalFailed = true
			}
		}
	}

	out := Outcome{OverallScore: score}
	switch {
	case criticalFailed:
		out.Result = model.ResultFail
	case criticalPending:
		out.Result = model.ResultIncomplete
	case score >= tpl.PassingPercentage:
		out.Result = model.ResultPass
	default:
		out.Result = model.ResultFail
	}
	return out
}

func resultsFor(sections []model.SectionResult, sectionID string) model.SectionResult {
	for i := range sections {
		if sections[i].SectionID == sectionID {
			return sections[i]
		}
	}
	return model.SectionResult{SectionID: sectionID}
}
