package server

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/copyleftdev/dro/internal/objective"
	"github.com/copyleftdev/dro/internal/transport"
)

// Reply kinds, also used as the result label of served requests.
const (
	ResultValue = "value"
	ResultStop  = "stop"
	ResultError = "error"
)

// Evaluator answers evaluation requests with a built-in objective and sends
// the stop sentinel once its budget is used up. It is safe for concurrent
// use.
type Evaluator struct {
	function  string
	names     []string
	stopAfter int

	mu     sync.Mutex
	served int
}

// NewEvaluator returns an Evaluator for the named built-in function. names
// fixes the accepted parameters and their order; nil accepts any names and
// orders them lexically. stopAfter is the number of evaluations answered
// before every reply becomes the stop sentinel; zero never stops.
func NewEvaluator(function string, names []string, stopAfter int) (*Evaluator, error) {
	if !slices.Contains(objective.Names(), function) {
		return nil, fmt.Errorf("unknown objective function %q", function)
	}
	if stopAfter < 0 {
		return nil, fmt.Errorf("stop budget must be non-negative, got %d", stopAfter)
	}
	return &Evaluator{
		function:  function,
		names:     append([]string(nil), names...),
		stopAfter: stopAfter,
	}, nil
}

// Served is the number of evaluations answered with a value.
func (e *Evaluator) Served() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.served
}

// Evaluate handles one encoded request and returns the encoded reply and
// its kind.
func (e *Evaluator) Evaluate(request []byte) ([]byte, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopAfter > 0 && e.served >= e.stopAfter {
		return transport.EncodeReply(objective.StopSentinel), ResultStop, nil
	}

	params, err := transport.DecodeRequest(request)
	if err != nil {
		return nil, ResultError, err
	}
	x, err := e.order(params)
	if err != nil {
		return nil, ResultError, err
	}
	fn, err := objective.Lookup(e.function, len(x))
	if err != nil {
		return nil, ResultError, err
	}

	e.served++
	return transport.EncodeReply(fn(x)), ResultValue, nil
}

func (e *Evaluator) order(params map[string]float64) ([]float64, error) {
	names := e.names
	if len(names) == 0 {
		names = make([]string, 0, len(params))
		for name := range params {
			names = append(names, name)
		}
		sort.Strings(names)
	} else if len(params) != len(names) {
		return nil, fmt.Errorf("request has %d parameters, want %d", len(params), len(names))
	}

	x := make([]float64, len(names))
	for i, name := range names {
		v, ok := params[name]
		if !ok {
			return nil, fmt.Errorf("request is missing parameter %q", name)
		}
		x[i] = v
	}
	return x, nil
}
