package objective

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize/functions"
)

// builtin describes a named local objective and the dimensions it accepts.
type builtin struct {
	fn    Func
	valid func(dim int) bool
}

func anyDim(dim int) bool { return dim >= 1 }

var builtins = map[string]builtin{
	"quadratic": {
		fn:    quadratic,
		valid: anyDim,
	},
	"constrained_quadratic": {
		fn:    constrainedQuadratic,
		valid: anyDim,
	},
	"rosenbrock": {
		fn:    functions.ExtendedRosenbrock{}.Func,
		valid: func(dim int) bool { return dim >= 2 },
	},
	"beale": {
		fn:    functions.Beale{}.Func,
		valid: func(dim int) bool { return dim == 2 },
	},
	"powell": {
		fn:    functions.ExtendedPowellSingular{}.Func,
		valid: func(dim int) bool { return dim%4 == 0 },
	},
}

// Lookup returns the builtin objective registered under name for a problem
// of dimension dim.
func Lookup(name string, dim int) (Func, error) {
	b, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown objective %q (known: %v)", name, Names())
	}
	if !b.valid(dim) {
		return nil, fmt.Errorf("objective %q does not accept %d parameters", name, dim)
	}
	return b.fn, nil
}

// Names lists the builtin objectives.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// quadratic is the sum of squares, minimal at the origin.
func quadratic(x []float64) float64 {
	return floats.Dot(x, x)
}

// constrainedQuadratic is a quadratic centred at 0.5 with a steep penalty
// for leaving the unit box.
func constrainedQuadratic(x []float64) float64 {
	var f, penalty float64
	for _, v := range x {
		d := v - 0.5
		f += d * d
		switch {
		case v < 0:
			penalty += v * v
		case v > 1:
			penalty += (v - 1) * (v - 1)
		}
	}
	return f + 100*penalty
}
