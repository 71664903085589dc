// Package workflow holds the status state machine for workflow records.
//
// A record starts Initial, may move to InProgress while steps execute, and
// ends in exactly one of the terminal states Completed or Failed. The current
// step never moves backwards; the only exception is step 0, which marks a
// workflow that reached a terminal state without running any step (empty or
// malformed step list).
package workflow

import (
	"errors"
	"fmt"

	"loanflow/pkg/models"
)

var (
	// ErrTerminal is returned for any transition out of Completed or Failed.
	ErrTerminal = errors.New("workflow is in a terminal state")
	// ErrInvalidTransition is returned for transitions the machine does not allow.
	ErrInvalidTransition = errors.New("invalid workflow status transition")
	// ErrStepRegression is returned when current_step would decrease.
	ErrStepRegression = errors.New("current step cannot decrease")
	// ErrInvalidStep is returned for negative step indices.
	ErrInvalidStep = errors.New("invalid step index")
)

var transitions = map[models.Status][]models.Status{
	models.StatusInitial:    {models.StatusInProgress, models.StatusCompleted, models.StatusFailed},
	models.StatusInProgress: {models.StatusInProgress, models.StatusCompleted, models.StatusFailed},
}

// IsTerminal reports whether no further transitions may leave s.
func IsTerminal(s models.Status) bool {
	return s == models.StatusCompleted || s == models.StatusFailed
}

// CanTransition reports whether the machine allows from -> to.
func CanTransition(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Apply moves rec to status to at the given step, enforcing the transition
// table and the step monotonicity invariant. rec is left untouched on error.
func Apply(rec *models.WorkflowRecord, to models.Status, step int) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if step < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidStep, step)
	}
	if IsTerminal(rec.Status) {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, rec.ID, rec.Status)
	}
	if !CanTransition(rec.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, to)
	}
	if step < rec.CurrentStep && !noStepTerminal(rec.Status, to, step) {
		return fmt.Errorf("%w: %d -> %d", ErrStepRegression, rec.CurrentStep, step)
	}

	rec.Status = to
	rec.CurrentStep = step
	return nil
}

// noStepTerminal is the step-0 exception: a workflow that never ran a step
// goes straight from Initial to a terminal state at step 0.
func noStepTerminal(from, to models.Status, step int) bool {
	return step == 0 && from == models.StatusInitial && IsTerminal(to)
}
