package objective

import (
	"fmt"
	"strings"
)

// Range is the closed interval a single parameter may take in its native
// units.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Width returns Max-Min.
func (r Range) Width() float64 { return r.Max - r.Min }

// Scaler maps points between normalized [0,1]^N coordinates, which the
// controller works in, and the native parameter ranges the objective
// expects.
type Scaler struct {
	ranges []Range
}

// NewScaler returns a Scaler for the given ranges. An empty range list
// yields an identity scaler.
func NewScaler(ranges []Range) (*Scaler, error) {
	for i, r := range ranges {
		if !(r.Min < r.Max) {
			return nil, fmt.Errorf("range %d: min %v must be below max %v", i, r.Min, r.Max)
		}
	}
	return &Scaler{ranges: append([]Range(nil), ranges...)}, nil
}

// Dim returns the number of ranges, or 0 for an identity scaler.
func (s *Scaler) Dim() int { return len(s.ranges) }

// Denormalize maps p from [0,1]^N to native units: min + p*(max-min).
func (s *Scaler) Denormalize(p []float64) []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		if i < len(s.ranges) {
			r := s.ranges[i]
			out[i] = r.Min + v*r.Width()
		} else {
			out[i] = v
		}
	}
	return out
}

// Normalize maps x from native units to [0,1]^N: (x-min)/(max-min).
func (s *Scaler) Normalize(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if i < len(s.ranges) {
			r := s.ranges[i]
			out[i] = (v - r.Min) / r.Width()
		} else {
			out[i] = v
		}
	}
	return out
}

// Direction is the sense in which the objective is optimized. The controller
// always minimizes, so maximization flips the sign at the boundary.
type Direction int

const (
	Minimize Direction = iota
	Maximize
)

// ParseDirection accepts "min", "minimize", "max" and "maximize" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "min", "minimize", "minimise":
		return Minimize, nil
	case "max", "maximize", "maximise":
		return Maximize, nil
	default:
		return Minimize, fmt.Errorf("unknown optimization direction %q", s)
	}
}

// Sign is +1 for Minimize and -1 for Maximize.
func (d Direction) Sign() float64 {
	if d == Maximize {
		return -1
	}
	return 1
}

func (d Direction) String() string {
	if d == Maximize {
		return "maximize"
	}
	return "minimize"
}
