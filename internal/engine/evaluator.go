package engine

import (
	"fmt"

	"github.com/crewhall/skilltest/internal/model"
)

// Input is a partial update to a single criterion. At most one evaluating
// field may be set; Notes may accompany any update or stand alone.
type Input struct {
	// Pass is the choice for a pass/fail criterion.
	Pass *bool
	// Score is the earned points for a score criterion.
	Score *int
	// ToggleItem is the index of a checklist item to flip.
	ToggleItem *int
	// ElapsedSeconds records a stopped time-limit stopwatch reading.
	ElapsedSeconds *int
	// ResetTime clears a time-limit recording back to unevaluated.
	ResetTime bool
	// Acknowledge marks a statement criterion as displayed.
	Acknowledge bool
	// Notes sets free-text examiner notes on the criterion.
	Notes *string
}

func (in Input) evaluating() int {
	n := 0
	if in.Pass != nil {
		n++
	}
	if in.Score != nil {
		n++
	}
	if in.ToggleItem != nil {
		n++
	}
	if in.ElapsedSeconds != nil {
		n++
	}
	if in.ResetTime {
		n++
	}
	if in.Acknowledge {
		n++
	}
	return n
}

// Apply evaluates a single criterion: given its definition, the previous
// result, and a partial update, it returns the new result. Inputs that do
// not match the criterion type, or carry out-of-range values, are rejected
// with InvalidInputError rather than clamped or defaulted.
func Apply(c model.Criterion, prev model.CriterionResult, in Input) (model.CriterionResult, error) {
	if !c.Type.Valid() {
		return prev, &InvalidInputError{CriterionID: c.ID, Reason: fmt.Sprintf("unsupported evaluation type %q", c.Type)}
	}
	if in.evaluating() > 1 {
		return prev, &InvalidInputError{CriterionID: c.ID, Reason: "multiple evaluation inputs in one update"}
	}

	r := prev
	r.CriterionID = c.ID
	r.Label = c.Label
	if r.Verdict == "" {
		r.Verdict = model.VerdictPending
	}
	if in.Notes != nil {
		r.Notes = *in.Notes
	}
	if in.evaluating() == 0 {
		if in.Notes == nil {
			return prev, &InvalidInputError{CriterionID: c.ID, Reason: "empty update"}
		}
		return r, nil
	}

	switch c.Type {
	case model.EvalPassFail:
		if in.Pass == nil {
			return prev, &InvalidInputError{CriterionID: c.ID, Reason: "pass/fail criterion expects a pass choice"}
		}
		if *in.Pass {
			r.Verdict = model.VerdictPassed
		} else {
			r.Verdict = model.VerdictFailed
		}

	case model.EvalScore:
		if in.Score == nil {
			return prev, &InvalidInputError{CriterionID: c.ID, Reason: "score criterion expects a score"}
		}
		if *in.Score < 0 || *in.Score > c.MaxScore {
			return prev, &InvalidInputError{
				CriterionID: c.ID,
				Reason:      fmt.Sprintf("score %d out of range [0, %d]", *in.Score, c.MaxScore),
			}
		}
		score := *in.Score
		r.Score = &score
		// Only critical score criteria can fail; a non-critical score
		// always passes and affects the percentage alone.
		if !c.Required || score >= c.PassingScore {
			r.Verdict = model.VerdictPassed
		} else {
			r.Verdict = model.VerdictFailed
		}

	case model.EvalTimeLimit:
		switch {
		case in.ResetTime:
			r.TimeSeconds = nil
			r.Verdict = model.VerdictPending
		case in.ElapsedSeconds != nil:
			if *in.ElapsedSeconds < 0 {
				return prev, &InvalidInputError{CriterionID: c.ID, Reason: "negative elapsed time"}
			}
			secs := *in.ElapsedSeconds
			r.TimeSeconds = &secs
			if c.TimeLimitSeconds > 0 && secs > c.TimeLimitSeconds {
				r.Verdict = model.VerdictFailed
			} else {
				r.Verdict = model.VerdictPassed
			}
		default:
			return prev, &InvalidInputError{CriterionID: c.ID, Reason: "time-limit criterion expects a recorded time or reset"}
		}

	case model.EvalChecklist:
		if in.ToggleItem == nil {
			return prev, &InvalidInputError{CriterionID: c.ID, Reason: "checklist criterion expects an item toggle"}
		}
		i := *in.ToggleItem
		if i < 0 || i >= len(c.ChecklistItems) {
			return prev, &InvalidInputError{
				CriterionID: c.ID,
				Reason:      fmt.Sprintf("checklist item %d out of range [0, %d)", i, len(c.ChecklistItems)),
			}
		}
		done := make([]bool, len(c.ChecklistItems))
		copy(done, prev.ChecklistDone)
		done[i] = !done[i]
		r.ChecklistDone = done
		// The verdict is always derived from the items, never set directly.
		r.Verdict = model.VerdictPassed
		for _, d := range done {
			if !d {
				r.Verdict = model.VerdictFailed
				break
			}
		}

	case model.EvalStatement:
		if !in.Acknowledge {
			return prev, &InvalidInputError{CriterionID: c.ID, Reason: "statement criterion only accepts acknowledgement"}
		}
		// First display passes the statement; redisplaying changes nothing.
		r.Verdict = model.VerdictPassed
	}

	return r, nil
}
