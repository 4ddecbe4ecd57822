package optimization

import (
	"errors"
	"fmt"
)

// Stage names the part of the step loop that failed.
type Stage string

const (
	StageObjective  Stage = "objective"
	StageController Stage = "controller"
	StageCancelled  Stage = "cancelled"
)

// RunError aborts a run. Step 0 is the initial evaluation; step k is the
// k-th controller step.
type RunError struct {
	Stage Stage
	Step  int
	Err   error
}

func (e *RunError) Error() string {
	if e.Step == 0 {
		return fmt.Sprintf("run aborted at initial evaluation (%s): %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("run aborted at step %d (%s): %v", e.Step, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Abort wraps err as a *RunError. A nil err stays nil.
func Abort(stage Stage, step int, err error) error {
	if err == nil {
		return nil
	}
	return &RunError{Stage: stage, Step: step, Err: err}
}

// AsRunError finds the *RunError in err's chain.
func AsRunError(err error) (*RunError, bool) {
	var re *RunError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
