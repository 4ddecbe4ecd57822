package step

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/copyleftdev/dro/internal/checkpoint"
	"github.com/copyleftdev/dro/internal/controller"
	"github.com/copyleftdev/dro/internal/errors"
	"github.com/copyleftdev/dro/internal/metrics"
	"github.com/copyleftdev/dro/internal/objective"
	"github.com/copyleftdev/dro/internal/optimization"
)

// events records the interleaving of cell steps and evaluations.
type events []string

// fakeCell moves every coordinate by delta and counts calls in its state.
type fakeCell struct {
	delta  float64
	calls  int
	failAt int
	log    *events
	seen   []controller.State
}

func (c *fakeCell) InitialState() controller.State {
	return controller.ZeroState(1, 1)
}

func (c *fakeCell) Step(point []float64, value float64, state controller.State) ([]float64, controller.State, error) {
	c.calls++
	if c.log != nil {
		*c.log = append(*c.log, "step")
	}
	c.seen = append(c.seen, state.Clone())
	if c.calls == c.failAt {
		return nil, nil, fmt.Errorf("cell exploded")
	}
	next := make([]float64, len(point))
	for i, v := range point {
		next[i] = v + c.delta
	}
	ns := state.Clone()
	ns[0].H[0]++
	return next, ns, nil
}

// fakeObjective returns the squared norm of the point, or stop on the
// stopAt-th evaluation (1-based, counting the initial one).
type fakeObjective struct {
	calls  int
	stopAt int
	failAt int
	points [][]float64
	log    *events
}

func (o *fakeObjective) Evaluate(_ context.Context, p []float64) (objective.Evaluation, error) {
	o.calls++
	if o.log != nil {
		*o.log = append(*o.log, "eval")
	}
	o.points = append(o.points, append([]float64(nil), p...))
	if o.calls == o.failAt {
		return objective.Evaluation{}, &errors.ProtocolError{Endpoint: "fake", Reason: "no reply"}
	}
	if o.calls == o.stopAt {
		return objective.Evaluation{Value: objective.StopSentinel, Stop: true}, nil
	}
	sum := 0.0
	for _, v := range p {
		sum += v * v
	}
	return objective.Evaluation{Value: sum}, nil
}

func newOptimizer(t *testing.T, cfg Config, cell controller.Cell, obj objective.Objective, opts ...Option) *Optimizer {
	t.Helper()
	o, err := New(cfg, cell, obj, opts...)
	require.NoError(t, err)
	return o
}

func TestRun_FullBudget(t *testing.T) {
	for _, k := range []int{0, 1, 7, 25} {
		t.Run(fmt.Sprintf("K=%d", k), func(t *testing.T) {
			cell := &fakeCell{delta: 0.01}
			obj := &fakeObjective{}
			o := newOptimizer(t, Config{Dim: 2, NumSteps: k, Seed: 1}, cell, obj)

			res, err := o.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, k+1, res.Trajectory.Len())
			assert.Len(t, res.Trajectory.Points, k+1)
			assert.Equal(t, k, res.Steps)
			assert.Equal(t, k+1, res.Evaluations)
			assert.Equal(t, optimization.TerminatedNormal, res.Phase)
			assert.False(t, res.StoppedEarly())
			assert.Equal(t, float64(k), res.State[0].H[0])
		})
	}
}

func TestRun_StopDuringLoop(t *testing.T) {
	const budget = 6
	for j := 1; j <= budget; j++ {
		t.Run(fmt.Sprintf("j=%d", j), func(t *testing.T) {
			cell := &fakeCell{delta: 0.01}
			// Evaluation j+1 is the one issued by loop step j.
			obj := &fakeObjective{stopAt: j + 1}
			o := newOptimizer(t, Config{Dim: 3, NumSteps: budget, Seed: 2}, cell, obj)

			res, err := o.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, j, res.Trajectory.Len())
			assert.True(t, res.StoppedEarly())
			assert.Equal(t, optimization.TerminatedEarlyStop, res.Phase)
			assert.Equal(t, j, cell.calls, "no cell calls after the stop")
			assert.Equal(t, j+1, obj.calls, "no evaluations after the stop")
			for _, v := range res.Trajectory.Values {
				assert.NotEqual(t, objective.StopSentinel, v)
			}
		})
	}
}

func TestRun_StopOnInitialEvaluation(t *testing.T) {
	cell := &fakeCell{delta: 0.01}
	obj := &fakeObjective{stopAt: 1}
	o := newOptimizer(t, Config{Dim: 2, NumSteps: 10, Seed: 3}, cell, obj)

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Trajectory.Len())
	assert.Equal(t, 0, cell.calls)
	assert.Equal(t, 0, res.Steps)
	assert.Equal(t, 1, obj.calls)
	assert.True(t, res.StoppedEarly())
	assert.Equal(t, obj.points[0], res.Trajectory.Points[0])
	assert.True(t, res.Trajectory.InitialStop)

	_, _, ok := res.Best()
	assert.False(t, ok, "the stop sentinel is not an objective value")
}

func TestRun_ConstraintsClipEveryStep(t *testing.T) {
	tests := []struct {
		name  string
		delta float64
	}{
		{"drift up", 0.37},
		{"drift down", -0.41},
		{"huge", 1e6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for seed := uint64(1); seed <= 20; seed++ {
				obj := &fakeObjective{}
				o := newOptimizer(t, Config{Dim: 4, NumSteps: 12, Constraints: true, Seed: seed}, &fakeCell{delta: tt.delta}, obj)
				res, err := o.Run(context.Background())
				require.NoError(t, err)
				for _, p := range res.Trajectory.Points[1:] {
					for _, v := range p {
						assert.GreaterOrEqual(t, v, StepLow)
						assert.LessOrEqual(t, v, StepHigh)
					}
				}
				for _, p := range obj.points[1:] {
					for _, v := range p {
						assert.GreaterOrEqual(t, v, StepLow)
						assert.LessOrEqual(t, v, StepHigh)
					}
				}
			}
		})
	}
}

func TestRun_NoConstraintsLeavesProposals(t *testing.T) {
	o := newOptimizer(t, Config{Dim: 1, NumSteps: 3, InitialPoint: []float64{0.5}}, &fakeCell{delta: 0.5}, &fakeObjective{})
	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2}, res.Trajectory.Points[3], 1e-12)
}

func TestRun_SampledStartWithinInitMargin(t *testing.T) {
	for seed := uint64(1); seed <= 200; seed++ {
		obj := &fakeObjective{stopAt: 1}
		o := newOptimizer(t, Config{Dim: 5, NumSteps: 1, Seed: seed}, &fakeCell{}, obj)
		_, err := o.Run(context.Background())
		require.NoError(t, err)
		for _, v := range obj.points[0] {
			require.GreaterOrEqual(t, v, InitLow)
			require.LessOrEqual(t, v, InitHigh)
		}
	}
}

func TestRun_SeedIsDeterministic(t *testing.T) {
	start := func(seed uint64) []float64 {
		obj := &fakeObjective{stopAt: 1}
		o := newOptimizer(t, Config{Dim: 3, Seed: seed}, &fakeCell{}, obj)
		_, err := o.Run(context.Background())
		require.NoError(t, err)
		return obj.points[0]
	}
	assert.Equal(t, start(42), start(42))
	assert.NotEqual(t, start(42), start(43))
}

func TestRun_UsesConfiguredInitialPoint(t *testing.T) {
	obj := &fakeObjective{}
	o := newOptimizer(t, Config{Dim: 2, NumSteps: 1, InitialPoint: []float64{0.05, 0.95}}, &fakeCell{}, obj)
	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.05, 0.95}, obj.points[0], "configured start is not clipped")
}

func TestRun_AlternatesEvaluationsAndSteps(t *testing.T) {
	var log events
	cell := &fakeCell{delta: 0.01, log: &log}
	obj := &fakeObjective{log: &log}
	o := newOptimizer(t, Config{Dim: 2, NumSteps: 3, Seed: 5}, cell, obj)

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, events{"eval", "step", "eval", "step", "eval", "step", "eval"}, log)
}

func TestRun_ThreadsState(t *testing.T) {
	cell := &fakeCell{delta: 0.01}
	o := newOptimizer(t, Config{Dim: 2, NumSteps: 4, Seed: 5}, cell, &fakeObjective{})
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, cell.seen, 4)
	for i, s := range cell.seen {
		assert.Equal(t, float64(i), s[0].H[0], "step %d got a stale state", i+1)
	}
}

func TestRun_FeedsLastValueToCell(t *testing.T) {
	rec := &recordingCell{}
	obj := &fakeObjective{}
	o := newOptimizer(t, Config{Dim: 1, NumSteps: 3, InitialPoint: []float64{0.5}}, rec, obj)
	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Trajectory.Values[:3], rec.values)
}

type recordingCell struct {
	values []float64
}

func (c *recordingCell) InitialState() controller.State { return controller.ZeroState(1, 1) }

func (c *recordingCell) Step(point []float64, value float64, state controller.State) ([]float64, controller.State, error) {
	c.values = append(c.values, value)
	return []float64{point[0] * 0.5}, state, nil
}

func TestRun_ObjectiveErrorAborts(t *testing.T) {
	for _, failAt := range []int{1, 3} {
		t.Run(fmt.Sprintf("eval %d", failAt), func(t *testing.T) {
			cell := &fakeCell{delta: 0.01}
			obj := &fakeObjective{failAt: failAt}
			o := newOptimizer(t, Config{Dim: 2, NumSteps: 10, Seed: 1}, cell, obj)

			res, err := o.Run(context.Background())
			assert.Nil(t, res, "no partial trajectory")
			var pe *errors.ProtocolError
			require.True(t, stderrors.As(err, &pe))
			assert.Equal(t, failAt, obj.calls)
			assert.Equal(t, failAt-1, cell.calls)

			re, ok := optimization.AsRunError(err)
			require.True(t, ok)
			assert.Equal(t, failAt-1, re.Step)
			assert.Equal(t, optimization.StageObjective, re.Stage)
		})
	}
}

func TestRun_CellErrorAborts(t *testing.T) {
	cell := &fakeCell{delta: 0.01, failAt: 2}
	obj := &fakeObjective{}
	o := newOptimizer(t, Config{Dim: 2, NumSteps: 10, Seed: 1}, cell, obj)

	res, err := o.Run(context.Background())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cell exploded")
	assert.Equal(t, 2, obj.calls)
	re, ok := optimization.AsRunError(err)
	require.True(t, ok)
	assert.Equal(t, optimization.StageController, re.Stage)
	assert.Equal(t, 2, re.Step)
}

func TestRun_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := newOptimizer(t, Config{Dim: 2, NumSteps: 10, Seed: 1}, &fakeCell{}, &fakeObjective{})
	res, err := o.Run(ctx)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	re, ok := optimization.AsRunError(err)
	require.True(t, ok)
	assert.Equal(t, optimization.StageCancelled, re.Stage)
}

// garbageChannel answers with a scalar until call badAt, which gets a reply
// that is not a number.
type garbageChannel struct {
	calls int
	badAt int
}

func (c *garbageChannel) RoundTrip(_ context.Context, _ []byte) ([]byte, error) {
	c.calls++
	if c.calls == c.badAt {
		return []byte("not-a-number"), nil
	}
	return []byte("0.25"), nil
}

func (c *garbageChannel) Endpoint() string { return "fake:1" }
func (c *garbageChannel) Close() error     { return nil }

func TestRun_RemoteMalformedReplyAborts(t *testing.T) {
	ch := &garbageChannel{badAt: 3}
	remote, err := objective.NewRemote(ch, []string{"a", "b"}, []objective.Range{{Min: 0, Max: 1}, {Min: 0, Max: 1}}, objective.Minimize, nil)
	require.NoError(t, err)

	cell := &fakeCell{delta: 0.01}
	o := newOptimizer(t, Config{Dim: 2, NumSteps: 10, Seed: 1}, cell, remote)
	res, err := o.Run(context.Background())

	assert.Nil(t, res)
	var pe *errors.ProtocolError
	require.True(t, stderrors.As(err, &pe))
	assert.Equal(t, 3, ch.calls, "no request after the malformed reply")
	assert.Equal(t, 2, cell.calls)
}

func TestRun_RestoredController(t *testing.T) {
	dir := t.TempDir()
	shape := controller.Shape{Params: 2, Hidden: 3, Layers: 2}
	params, err := controller.RandomParams(shape, 0.1, rand.NewPCG(7, 7))
	require.NoError(t, err)
	_, err = checkpoint.Save(dir, 1, params)
	require.NoError(t, err)

	cell, err := checkpoint.NewLoader(nil).Restore(dir, shape)
	require.NoError(t, err)
	obj := &fakeObjective{}
	o, err := New(Config{Dim: 2, NumSteps: 5, Constraints: true, Seed: 9}, cell, obj)
	require.NoError(t, err)
	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, res.Trajectory.Len())
	require.NoError(t, res.State.CheckShape(2, 3))
	for _, p := range res.Trajectory.Points[1:] {
		for _, x := range p {
			assert.GreaterOrEqual(t, x, StepLow)
			assert.LessOrEqual(t, x, StepHigh)
		}
	}
}

func TestRun_MetricsAndLogs(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	core, logs := observer.New(zapcore.InfoLevel)

	o := newOptimizer(t, Config{Dim: 2, NumSteps: 4, Seed: 1}, &fakeCell{delta: 0.01}, &fakeObjective{stopAt: 4},
		WithMetrics(m), WithLogger(zap.New(core)))
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	// The stop reply is still an evaluation.
	assert.Equal(t, 4.0, counterValue(t, reg, "dro_evaluations_total", "mode", objective.ModeLocal))
	assert.Equal(t, 3.0, counterValue(t, reg, "dro_controller_steps_total", "", ""))
	assert.Equal(t, 1.0, counterValue(t, reg, "dro_runs_total", "outcome", metrics.OutcomeStopped))

	finished := logs.FilterMessage("run finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, "terminated_early_stop", finished[0].ContextMap()["phase"])
	assert.EqualValues(t, 3, finished[0].ContextMap()["entries"])
}

// counterValue reads one counter sample from reg. An empty label selects the
// unlabelled series.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		cell controller.Cell
		obj  objective.Objective
	}{
		{"zero dim", Config{Dim: 0}, &fakeCell{}, &fakeObjective{}},
		{"negative budget", Config{Dim: 1, NumSteps: -1}, &fakeCell{}, &fakeObjective{}},
		{"init length", Config{Dim: 2, InitialPoint: []float64{0.5}}, &fakeCell{}, &fakeObjective{}},
		{"nil cell", Config{Dim: 1}, nil, &fakeObjective{}},
		{"nil objective", Config{Dim: 1}, &fakeCell{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.cell, tt.obj)
			assert.Error(t, err)
		})
	}
}

func TestClip(t *testing.T) {
	p := []float64{-1, 0.01, 0.5, 0.99, 2}
	Clip(p, StepLow, StepHigh)
	assert.Equal(t, []float64{0.01, 0.01, 0.5, 0.99, 0.99}, p)
}
