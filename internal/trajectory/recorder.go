// Package trajectory records the (point, value) sequence of an optimization
// run and persists finished runs.
package trajectory

import (
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/dro/internal/objective"
)

// Trajectory is a finalized run history. Points and Values always have the
// same length. Values are in the minimization sign convention the
// controller sees.
//
// InitialStop marks a run stopped by its very first evaluation: the single
// entry holds the start point and the stop sentinel, which is not an
// objective value.
type Trajectory struct {
	Points      [][]float64
	Values      []float64
	InitialStop bool
}

// Len is the number of recorded entries.
func (t *Trajectory) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Values)
}

// Best returns the index of the lowest value, or false when no entry
// carries an objective value.
func (t *Trajectory) Best() (int, bool) {
	first := 0
	if t.Len() > 0 && t.InitialStop {
		first = 1
	}
	if t.Len() <= first {
		return 0, false
	}
	return first + floats.MinIdx(t.Values[first:]), true
}

// Recorder accumulates entries during a run. It is owned by a single run and
// is not safe for concurrent use.
type Recorder struct {
	points      [][]float64
	values      []float64
	initialStop bool
}

// NewRecorder returns a Recorder with room for capacity entries.
func NewRecorder(capacity int) *Recorder {
	if capacity < 0 {
		capacity = 0
	}
	return &Recorder{
		points: make([][]float64, 0, capacity),
		values: make([]float64, 0, capacity),
	}
}

// Append records one entry. The point is copied.
func (r *Recorder) Append(point []float64, value float64) {
	r.points = append(r.points, append([]float64(nil), point...))
	r.values = append(r.values, value)
}

// AppendInitialStop records the start point of a run whose first evaluation
// asked to stop. It must be the first entry.
func (r *Recorder) AppendInitialStop(point []float64) {
	if len(r.values) != 0 {
		panic("trajectory: initial stop recorded after other entries")
	}
	r.Append(point, objective.StopSentinel)
	r.initialStop = true
}

// Len is the number of entries recorded so far.
func (r *Recorder) Len() int {
	return len(r.values)
}

// Finalize returns the entries recorded so far, truncated to what was
// actually appended.
func (r *Recorder) Finalize() *Trajectory {
	return &Trajectory{
		Points:      r.points[:len(r.points):len(r.points)],
		Values:      r.values[:len(r.values):len(r.values)],
		InitialStop: r.initialStop,
	}
}
