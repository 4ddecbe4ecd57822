// Package step implements the learned step optimizer: a trained recurrent
// controller proposes each next point from the last point and its objective
// value, and the optimizer threads the controller's state through a fixed
// budget of steps.
package step

import (
	"context"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/dro/internal/controller"
	"github.com/copyleftdev/dro/internal/metrics"
	"github.com/copyleftdev/dro/internal/objective"
	"github.com/copyleftdev/dro/internal/optimization"
	"github.com/copyleftdev/dro/internal/settings"
	"github.com/copyleftdev/dro/internal/trajectory"
)

// The sampled starting point and the per-step proposals are clipped to two
// different interior margins. Trained controllers depend on both.
const (
	InitMean   = 0.5
	InitStdDev = 0.2
	InitLow    = 0.1
	InitHigh   = 0.9

	StepLow  = 0.01
	StepHigh = 0.99
)

// Config fixes the run parameters.
type Config struct {
	// Dim is the number of optimized parameters.
	Dim int
	// NumSteps is the controller step budget.
	NumSteps int
	// Constraints clips every proposal into [StepLow, StepHigh].
	Constraints bool
	// InitialPoint is a normalized start point. Nil samples one.
	InitialPoint []float64
	// Seed drives start point sampling. Zero picks a random seed.
	Seed uint64
}

// ConfigFromSettings builds a Config from validated settings.
func ConfigFromSettings(s *settings.Settings, seed uint64) (Config, error) {
	init, err := s.InitialPoint()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Dim:          s.NumParams,
		NumSteps:     s.NumSteps,
		Constraints:  s.Constraints,
		InitialPoint: init,
		Seed:         seed,
	}, nil
}

func (c Config) validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", c.Dim)
	}
	if c.NumSteps < 0 {
		return fmt.Errorf("step budget must be non-negative, got %d", c.NumSteps)
	}
	if len(c.InitialPoint) != 0 && len(c.InitialPoint) != c.Dim {
		return fmt.Errorf("initial point has %d coordinates, want %d", len(c.InitialPoint), c.Dim)
	}
	return nil
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(o *Optimizer) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics records evaluations, steps and outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Optimizer) { o.metrics = m }
}

// Optimizer is the step loop. It is single-use per Run call but holds no
// state between runs other than its random source.
type Optimizer struct {
	cfg     Config
	cell    controller.Cell
	obj     objective.Objective
	mode    string
	log     *zap.Logger
	metrics *metrics.Metrics
	start   distuv.Normal
}

var _ optimization.Optimizer = (*Optimizer)(nil)

// New returns an Optimizer over a restored controller cell and an
// objective adapter.
func New(cfg Config, cell controller.Cell, obj objective.Objective, opts ...Option) (*Optimizer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("step optimizer: %w", err)
	}
	if cell == nil {
		return nil, fmt.Errorf("step optimizer: nil controller cell")
	}
	if obj == nil {
		return nil, fmt.Errorf("step optimizer: nil objective")
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	o := &Optimizer{
		cfg:  cfg,
		cell: cell,
		obj:  obj,
		mode: objective.ModeLocal,
		log:  zap.NewNop(),
		start: distuv.Normal{
			Mu:    InitMean,
			Sigma: InitStdDev,
			Src:   rand.NewPCG(seed, seed>>1|1),
		},
	}
	if _, ok := obj.(*objective.Remote); ok {
		o.mode = objective.ModeRemote
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.Named("step")
	return o, nil
}

// Clip limits every coordinate of p to [lo, hi] in place.
func Clip(p []float64, lo, hi float64) {
	for i, v := range p {
		switch {
		case v < lo:
			p[i] = lo
		case v > hi:
			p[i] = hi
		}
	}
}

func (o *Optimizer) startPoint() []float64 {
	if len(o.cfg.InitialPoint) > 0 {
		return append([]float64(nil), o.cfg.InitialPoint...)
	}
	p := make([]float64, o.cfg.Dim)
	for i := range p {
		p[i] = o.start.Rand()
	}
	Clip(p, InitLow, InitHigh)
	return p
}

func (o *Optimizer) evaluate(ctx context.Context, p []float64) (objective.Evaluation, error) {
	ev, err := o.obj.Evaluate(ctx, p)
	if err == nil {
		o.metrics.ObserveEvaluation(o.mode)
	}
	return ev, err
}

func (o *Optimizer) fail(stage optimization.Stage, step int, err error) error {
	o.metrics.ObserveRun(metrics.OutcomeFailed)
	o.log.Error("run aborted", zap.Int("step", step), zap.String("stage", string(stage)), zap.Error(err))
	return optimization.Abort(stage, step, err)
}

// Run implements optimization.Optimizer. The trajectory holds NumSteps+1
// entries unless the objective stops the run; a stop on the initial
// evaluation yields a single entry without an objective value and no
// controller steps. Any error
// discards the trajectory.
func (o *Optimizer) Run(ctx context.Context) (*optimization.Result, error) {
	rec := trajectory.NewRecorder(o.cfg.NumSteps + 1)
	state := o.cell.InitialState()
	point := o.startPoint()
	res := &optimization.Result{Phase: optimization.Initializing}

	o.log.Debug("starting run",
		zap.Int("dim", o.cfg.Dim),
		zap.Int("budget", o.cfg.NumSteps),
		zap.Bool("constraints", o.cfg.Constraints),
		zap.String("mode", o.mode),
		zap.Float64s("start", point),
	)

	ev, err := o.evaluate(ctx, point)
	if err != nil {
		return nil, o.fail(optimization.StageObjective, 0, err)
	}
	res.Evaluations++
	if ev.Stop {
		o.log.Info("stop requested on initial evaluation")
		rec.AppendInitialStop(point)
		return o.finish(res, rec, state, optimization.TerminatedEarlyStop), nil
	}
	rec.Append(point, ev.Value)

	value := ev.Value
	res.Phase = optimization.Stepping
	for k := 1; k <= o.cfg.NumSteps; k++ {
		select {
		case <-ctx.Done():
			return nil, o.fail(optimization.StageCancelled, k, ctx.Err())
		default:
		}

		next, nextState, err := o.cell.Step(point, value, state)
		if err != nil {
			return nil, o.fail(optimization.StageController, k, err)
		}
		res.Steps++
		o.metrics.ObserveCellStep()
		state = nextState

		if o.cfg.Constraints {
			Clip(next, StepLow, StepHigh)
		}

		ev, err := o.evaluate(ctx, next)
		if err != nil {
			return nil, o.fail(optimization.StageObjective, k, err)
		}
		res.Evaluations++
		if ev.Stop {
			o.log.Info("stop requested", zap.Int("step", k))
			return o.finish(res, rec, state, optimization.TerminatedEarlyStop), nil
		}

		rec.Append(next, ev.Value)
		point, value = next, ev.Value
		o.log.Debug("step", zap.Int("step", k), zap.Float64("value", value))
	}
	return o.finish(res, rec, state, optimization.TerminatedNormal), nil
}

func (o *Optimizer) finish(res *optimization.Result, rec *trajectory.Recorder, state controller.State, phase optimization.Phase) *optimization.Result {
	res.Phase = phase
	res.State = state
	res.Trajectory = rec.Finalize()

	outcome := metrics.OutcomeCompleted
	if phase == optimization.TerminatedEarlyStop {
		outcome = metrics.OutcomeStopped
	}
	o.metrics.ObserveRun(outcome)

	fields := []zap.Field{
		zap.Stringer("phase", phase),
		zap.Int("entries", res.Trajectory.Len()),
		zap.Int("steps", res.Steps),
	}
	if _, best, ok := res.Best(); ok {
		fields = append(fields, zap.Float64("best", best))
	}
	o.log.Info("run finished", fields...)
	return res
}
