package trajectory

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/dro/internal/objective"
)

func TestRecorder_AppendAndFinalize(t *testing.T) {
	r := NewRecorder(4)
	assert.Equal(t, 0, r.Len())

	p := []float64{0.1, 0.2}
	r.Append(p, 3)
	p[0] = 0.9 // the recorder keeps its own copy
	r.Append([]float64{0.3, 0.4}, 1)
	assert.Equal(t, 2, r.Len())

	traj := r.Finalize()
	require.Equal(t, 2, traj.Len())
	assert.Len(t, traj.Points, len(traj.Values))
	assert.Equal(t, [][]float64{{0.1, 0.2}, {0.3, 0.4}}, traj.Points)
	assert.Equal(t, []float64{3, 1}, traj.Values)
}

func TestRecorder_FinalizeIsNotPadded(t *testing.T) {
	r := NewRecorder(100)
	r.Append([]float64{0.5}, 7)
	traj := r.Finalize()
	assert.Len(t, traj.Points, 1)
	assert.Len(t, traj.Values, 1)
	assert.Equal(t, 1, cap(traj.Values))
}

func TestRecorder_Empty(t *testing.T) {
	traj := NewRecorder(-1).Finalize()
	assert.Equal(t, 0, traj.Len())
	_, ok := traj.Best()
	assert.False(t, ok)

	var nilTraj *Trajectory
	assert.Equal(t, 0, nilTraj.Len())
}

func TestTrajectory_Best(t *testing.T) {
	traj := &Trajectory{
		Points: [][]float64{{0}, {1}, {2}, {3}},
		Values: []float64{4, -2, 5, -1},
	}
	i, ok := traj.Best()
	require.True(t, ok)
	assert.Equal(t, 1, i)
}

func TestRecorder_InitialStop(t *testing.T) {
	r := NewRecorder(5)
	r.AppendInitialStop([]float64{0.4, 0.6})
	traj := r.Finalize()

	require.Equal(t, 1, traj.Len())
	assert.True(t, traj.InitialStop)
	assert.Equal(t, [][]float64{{0.4, 0.6}}, traj.Points)
	_, ok := traj.Best()
	assert.False(t, ok, "a stop request is not an objective value")

	assert.Panics(t, func() { r.AppendInitialStop([]float64{0.1, 0.1}) })
}

func TestNewRun_InitialStop(t *testing.T) {
	for _, dir := range []objective.Direction{objective.Minimize, objective.Maximize} {
		t.Run(dir.String(), func(t *testing.T) {
			scaler, err := objective.NewScaler([]objective.Range{{Min: 0, Max: 10}})
			require.NoError(t, err)
			rec := NewRecorder(1)
			rec.AppendInitialStop([]float64{0.5})

			run, err := NewRun("cfg.json", rec.Finalize(), []string{"temp"}, scaler, dir, true)
			require.NoError(t, err)
			assert.True(t, run.InitialStop)
			assert.Equal(t, []float64{objective.StopSentinel}, run.Values)
			assert.Equal(t, [][]float64{{5}}, run.Points)
			assert.Equal(t, -1, run.BestIndex)
			_, _, ok := run.Best()
			assert.False(t, ok)
		})
	}
}

func TestRun_BestIgnoresInitialStopEntry(t *testing.T) {
	run := &Run{
		ParamNames:  []string{"a"},
		Points:      [][]float64{{1}},
		Values:      []float64{1},
		BestIndex:   0,
		InitialStop: true,
	}
	_, _, ok := run.Best()
	assert.False(t, ok)
}

func newTestRun(t *testing.T, dir objective.Direction) *Run {
	t.Helper()
	scaler, err := objective.NewScaler([]objective.Range{{Min: 0, Max: 10}, {Min: -1, Max: 1}})
	require.NoError(t, err)
	traj := &Trajectory{
		Points: [][]float64{{0.5, 0.5}, {0.1, 1}, {0, 0}},
		Values: []float64{2, -3, 1},
	}
	run, err := NewRun("cfg.json", traj, []string{"temp", "flow"}, scaler, dir, true)
	require.NoError(t, err)
	return run
}

func TestNewRun_NativeUnits(t *testing.T) {
	run := newTestRun(t, objective.Maximize)

	assert.Equal(t, "maximize", run.Direction)
	assert.True(t, run.StoppedEarly)
	assert.Equal(t, [][]float64{{5, 0}, {1, 1}, {0, -1}}, run.Points)
	assert.Equal(t, []float64{-2, 3, -1}, run.Values)

	point, value, ok := run.Best()
	require.True(t, ok)
	assert.Equal(t, []float64{1, 1}, point)
	assert.Equal(t, 3.0, value)
}

func TestNewRun_DimensionMismatch(t *testing.T) {
	scaler, err := objective.NewScaler(nil)
	require.NoError(t, err)
	traj := &Trajectory{Points: [][]float64{{0.5, 0.5}}, Values: []float64{1}}
	_, err = NewRun("cfg", traj, []string{"x0"}, scaler, objective.Minimize, false)
	assert.Error(t, err)
}

func TestRun_JSONFile(t *testing.T) {
	run := newTestRun(t, objective.Minimize)
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, run.WriteFile(path))

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, run.Points, loaded.Points)
	assert.Equal(t, run.Values, loaded.Values)
	assert.Equal(t, run.ParamNames, loaded.ParamNames)

	var buf bytes.Buffer
	require.NoError(t, run.WriteJSON(&buf))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "cfg.json", decoded["source"])
	assert.EqualValues(t, 1, decoded["best_index"])
}

func TestReadFile_RejectsInconsistentRuns(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"length mismatch", `{"param_names": ["a"], "points": [[1], [2]], "values": [1], "best_index": 0}`},
		{"coordinate count", `{"param_names": ["a"], "points": [[1, 2]], "values": [1], "best_index": 0}`},
		{"best out of range", `{"param_names": ["a"], "points": [[1]], "values": [1], "best_index": 3}`},
		{"initial stop with best", `{"param_names": ["a"], "points": [[1]], "values": [-1], "best_index": 0, "initial_stop": true}`},
		{"initial stop with steps", `{"param_names": ["a"], "points": [[1], [2]], "values": [-1, 2], "best_index": -1, "initial_stop": true}`},
		{"not json", `values: [1]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "run.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.raw), 0o644))
			_, err := ReadFile(path)
			assert.Error(t, err)
		})
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := newTestRun(t, objective.Minimize)

	id, err := s.SaveRun(ctx, run)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, run.ID)

	loaded, err := s.LoadRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, run.ID, loaded.ID)
	assert.True(t, run.CreatedAt.Equal(loaded.CreatedAt))
	assert.Equal(t, run.Source, loaded.Source)
	assert.Equal(t, run.Direction, loaded.Direction)
	assert.Equal(t, run.ParamNames, loaded.ParamNames)
	assert.Equal(t, run.StoppedEarly, loaded.StoppedEarly)
	assert.Equal(t, run.BestIndex, loaded.BestIndex)
	assert.Equal(t, run.Points, loaded.Points)
	assert.Equal(t, run.Values, loaded.Values)
}

func TestStore_LoadRun_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStore_SaveRun_Invalid(t *testing.T) {
	s := openTestStore(t)
	_, err := s.SaveRun(context.Background(), nil)
	assert.Error(t, err)

	_, err = s.SaveRun(context.Background(), &Run{Points: [][]float64{{1}}, Values: nil})
	assert.Error(t, err)

	_, err = s.SaveRun(context.Background(), &Run{
		ParamNames: []string{"a"}, Points: [][]float64{{1}}, Values: []float64{-1},
		BestIndex: 0, InitialStop: true,
	})
	assert.Error(t, err)
}

func TestStore_InitialStopHasNoBest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := &Run{
		Source:       "cfg.json",
		Direction:    "maximize",
		ParamNames:   []string{"a"},
		StoppedEarly: true,
		Points:       [][]float64{{0.5}},
		Values:       []float64{objective.StopSentinel},
		BestIndex:    -1,
		InitialStop:  true,
	}
	id, err := s.SaveRun(ctx, run)
	require.NoError(t, err)

	loaded, err := s.LoadRun(ctx, id)
	require.NoError(t, err)
	assert.True(t, loaded.InitialStop)
	assert.Equal(t, []float64{objective.StopSentinel}, loaded.Values)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Entries)
	assert.False(t, runs[0].HasBest)
	assert.Zero(t, runs[0].BestValue)
}

func TestStore_SaveRun_DuplicateID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := newTestRun(t, objective.Minimize)
	_, err := s.SaveRun(ctx, run)
	require.NoError(t, err)
	_, err = s.SaveRun(ctx, run)
	assert.Error(t, err)
}

func TestStore_ListRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	older := newTestRun(t, objective.Minimize)
	older.CreatedAt = base
	newer := newTestRun(t, objective.Maximize)
	newer.CreatedAt = base.Add(1500 * time.Millisecond)
	empty := &Run{Source: "empty", Direction: "minimize", BestIndex: -1, CreatedAt: base.Add(-time.Hour)}

	for _, r := range []*Run{older, newer, empty} {
		_, err := s.SaveRun(ctx, r)
		require.NoError(t, err)
	}

	runs, err = s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	assert.Equal(t, newer.ID, runs[0].ID)
	assert.Equal(t, 3, runs[0].Entries)
	assert.True(t, runs[0].HasBest)
	assert.Equal(t, 3.0, runs[0].BestValue)

	assert.Equal(t, older.ID, runs[1].ID)
	assert.Equal(t, -3.0, runs[1].BestValue)

	assert.Equal(t, empty.ID, runs[2].ID)
	assert.Equal(t, 0, runs[2].Entries)
	assert.False(t, runs[2].HasBest)
}

func TestStore_DeleteRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.SaveRun(ctx, newTestRun(t, objective.Minimize))
	require.NoError(t, err)

	require.NoError(t, s.DeleteRun(ctx, id))
	_, err = s.LoadRun(ctx, id)
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, s.DeleteRun(ctx, id), ErrRunNotFound)
}

func TestOpenExistingStore(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenExistingStore(dir)
	assert.ErrorIs(t, err, ErrNoStore)
	assert.NoFileExists(t, filepath.Join(dir, DBName))

	missing := filepath.Join(dir, "nested", "runs")
	_, err = OpenExistingStore(missing)
	assert.ErrorIs(t, err, ErrNoStore)
	assert.NoDirExists(t, missing)

	s, err := OpenStore(dir)
	require.NoError(t, err)
	id, err := s.SaveRun(context.Background(), newTestRun(t, objective.Minimize))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenExistingStore(dir)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.LoadRun(context.Background(), id)
	assert.NoError(t, err)
}

func TestStore_ReopenKeepsRuns(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(dir)
	require.NoError(t, err)
	id, err := s.SaveRun(context.Background(), newTestRun(t, objective.Minimize))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenStore(dir)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.LoadRun(context.Background(), id)
	assert.NoError(t, err)
}
