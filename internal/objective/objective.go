// Package objective adapts black-box objective functions to the calling
// contract of the step optimizer.
//
// Points cross this boundary in normalized [0,1]^N coordinates. Adapters
// denormalize them into native parameter units, evaluate, and flip the sign
// of maximization objectives so that the controller always minimizes.
package objective

import (
	"context"
)

// StopSentinel is the reserved reply a remote peer sends to end a run.
const StopSentinel = -1.0

// Evaluation is the tagged result of one objective call. When Stop is set,
// Value holds StopSentinel and must not be treated as an objective value.
type Evaluation struct {
	Value float64
	Stop  bool
}

// Objective evaluates a normalized point.
type Objective interface {
	Evaluate(ctx context.Context, point []float64) (Evaluation, error)
}

// Func is an in-process objective in native parameter units.
type Func func(x []float64) float64

// Mode labels for metrics.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)
