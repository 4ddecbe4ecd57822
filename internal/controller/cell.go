// Package controller defines the recurrent controller cell that proposes the
// next candidate point, and the explicit recurrent state threaded through it.
//
// A Cell holds only its trained parameters. Everything that evolves during a
// run lives in State, which the caller passes into Step and receives back,
// so a run can be replayed or resumed from any step.
package controller

import (
	"fmt"
)

// LayerState is the (cell memory, hidden output) pair of one recurrent
// layer.
type LayerState struct {
	C []float64 `json:"c"`
	H []float64 `json:"h"`
}

// State is the per-layer recurrent state, ordered from the input layer up.
type State []LayerState

// Clone returns a deep copy.
func (s State) Clone() State {
	out := make(State, len(s))
	for i, l := range s {
		out[i] = LayerState{
			C: append([]float64(nil), l.C...),
			H: append([]float64(nil), l.H...),
		}
	}
	return out
}

// ZeroState returns layers zero-filled pairs of width hidden.
func ZeroState(layers, hidden int) State {
	s := make(State, layers)
	for i := range s {
		s[i] = LayerState{C: make([]float64, hidden), H: make([]float64, hidden)}
	}
	return s
}

// CheckShape reports whether s has the given number of layers and width.
func (s State) CheckShape(layers, hidden int) error {
	if len(s) != layers {
		return fmt.Errorf("state has %d layers, want %d", len(s), layers)
	}
	for i, l := range s {
		if len(l.C) != hidden || len(l.H) != hidden {
			return fmt.Errorf("state layer %d has widths (%d, %d), want %d", i, len(l.C), len(l.H), hidden)
		}
	}
	return nil
}

// Cell maps (point, value, state) to (next point, next state).
// Implementations must not keep mutable state between calls and must not
// modify their arguments.
type Cell interface {
	// InitialState returns the state for a batch of one at the start of a run.
	InitialState() State
	// Step proposes the next normalized point from the current point, its
	// objective value and the recurrent state.
	Step(point []float64, value float64, state State) ([]float64, State, error)
}

// Shape fixes the dimensions of a controller.
type Shape struct {
	// Params is the number of optimized parameters (N).
	Params int `json:"params"`
	Hidden int `json:"hidden"`
	Layers int `json:"layers"`
	// Reuse shares one set of weights across every layer above the first.
	Reuse bool `json:"reuse"`
}

// Validate checks that all dimensions are positive.
func (s Shape) Validate() error {
	if s.Params <= 0 || s.Hidden <= 0 || s.Layers <= 0 {
		return fmt.Errorf("controller shape %+v: dimensions must be positive", s)
	}
	return nil
}

// StoredLayers is the number of distinct weight sets the shape needs.
func (s Shape) StoredLayers() int {
	if s.Reuse && s.Layers > 2 {
		return 2
	}
	return s.Layers
}

// layerInputs is the input width of stored layer i.
func (s Shape) layerInputs(i int) int {
	if i == 0 {
		return s.Params + 1
	}
	return s.Hidden
}
