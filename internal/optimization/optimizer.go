package optimization

import (
	"context"

	"github.com/copyleftdev/dro/internal/controller"
	"github.com/copyleftdev/dro/internal/trajectory"
)

// Optimizer runs one optimization from start to termination.
type Optimizer interface {
	// Run drives the optimization until the step budget is exhausted or the
	// objective asks to stop. An error aborts the run and no trajectory is
	// returned.
	Run(ctx context.Context) (*Result, error)
}

// Phase is the lifecycle position of a run.
type Phase int

const (
	Initializing Phase = iota
	Stepping
	TerminatedNormal
	TerminatedEarlyStop
)

func (p Phase) String() string {
	switch p {
	case Initializing:
		return "initializing"
	case Stepping:
		return "stepping"
	case TerminatedNormal:
		return "terminated_normal"
	case TerminatedEarlyStop:
		return "terminated_early_stop"
	default:
		return "unknown"
	}
}

// Result is the outcome of a run that terminated without error.
type Result struct {
	// Trajectory holds the initial evaluation and every completed step.
	Trajectory *trajectory.Trajectory
	// State is the recurrent state after the last controller step.
	State controller.State
	// Steps counts controller cell invocations.
	Steps int
	// Evaluations counts objective calls, including one answered with stop.
	Evaluations int
	Phase       Phase
}

// StoppedEarly reports whether the objective ended the run.
func (r *Result) StoppedEarly() bool {
	return r.Phase == TerminatedEarlyStop
}

// Best returns the lowest-valued recorded point and its value, in the
// controller's minimization convention.
func (r *Result) Best() ([]float64, float64, bool) {
	i, ok := r.Trajectory.Best()
	if !ok {
		return nil, 0, false
	}
	return r.Trajectory.Points[i], r.Trajectory.Values[i], true
}
