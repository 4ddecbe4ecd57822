package objective

import (
	"context"
	"fmt"
)

// Local evaluates an in-process function. It never reports Stop.
type Local struct {
	fn        Func
	scaler    *Scaler
	direction Direction
	dim       int
}

// NewLocal wraps fn. ranges may be empty, in which case points are passed
// through unscaled.
func NewLocal(fn Func, dim int, ranges []Range, direction Direction) (*Local, error) {
	if fn == nil {
		return nil, fmt.Errorf("local objective: nil function")
	}
	if len(ranges) != 0 && len(ranges) != dim {
		return nil, fmt.Errorf("local objective: %d ranges for %d parameters", len(ranges), dim)
	}
	scaler, err := NewScaler(ranges)
	if err != nil {
		return nil, fmt.Errorf("local objective: %w", err)
	}
	return &Local{fn: fn, scaler: scaler, direction: direction, dim: dim}, nil
}

// Evaluate implements Objective.
func (l *Local) Evaluate(_ context.Context, point []float64) (Evaluation, error) {
	if len(point) != l.dim {
		return Evaluation{}, fmt.Errorf("local objective: point has %d coordinates, want %d", len(point), l.dim)
	}
	y := l.fn(l.scaler.Denormalize(point))
	return Evaluation{Value: l.direction.Sign() * y}, nil
}
