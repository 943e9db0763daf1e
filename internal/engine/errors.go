package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/crewhall/skilltest/internal/model"
)

// ErrNotFound indicates a test session that does not exist (never created,
// or discarded).
var ErrNotFound = errors.New("test not found")

// InvalidInputError rejects an evaluation update the engine cannot apply:
// unknown criterion, mismatched input for the criterion type, or an
// out-of-range value. Values are never silently clamped.
type InvalidInputError struct {
	CriterionID string
	Reason      string
}

func (e *InvalidInputError) Error() string {
	if e.CriterionID == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input for criterion %s: %s", e.CriterionID, e.Reason)
}

// IllegalTransitionError rejects a state-machine action not valid from the
// session's current state.
type IllegalTransitionError struct {
	Action string
	Status model.SessionStatus
	Review bool
}

func (e *IllegalTransitionError) Error() string {
	state := string(e.Status)
	if e.Review {
		state += " (review)"
	}
	return fmt.Sprintf("cannot %s a test in state %s", e.Action, state)
}

// UnevaluatedError is the advisory gate raised when completing a test that
// still has unevaluated criteria. The caller may confirm and retry with
// force; it never blocks on its own.
type UnevaluatedError struct {
	Count int
}

func (e *UnevaluatedError) Error() string {
	return fmt.Sprintf("%d criteria not yet evaluated", e.Count)
}

// ConfirmationRequiredError guards destructive, unrecoverable actions.
type ConfirmationRequiredError struct {
	Action string
}

func (e *ConfirmationRequiredError) Error() string {
	return e.Action + " requires explicit confirmation"
}

// PersistenceError wraps a failed call to the persistence collaborator. The
// in-memory session is left unchanged; the caller decides whether to retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IntegrityError reports a fetched test whose results reference section or
// criterion ids absent from its template. This indicates template drift
// after the test was created and is surfaced rather than silently dropped.
type IntegrityError struct {
	TestID  string
	Unknown []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("test %s references unknown ids: %s", e.TestID, strings.Join(e.Unknown, ", "))
}
