package trajectory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/copyleftdev/dro/internal/objective"
)

// Run is a finished trajectory expressed in the caller's units: points are
// denormalized and values carry the sign the objective reported. When
// InitialStop is set the only entry holds the raw stop sentinel and the run
// has no best value.
type Run struct {
	ID           string      `json:"id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	Source       string      `json:"source"`
	Direction    string      `json:"direction"`
	ParamNames   []string    `json:"param_names"`
	StoppedEarly bool        `json:"stopped_early"`
	Points       [][]float64 `json:"points"`
	Values       []float64   `json:"values"`
	BestIndex    int         `json:"best_index"`
	InitialStop  bool        `json:"initial_stop,omitempty"`
}

// NewRun converts t into native units using scaler and dir.
func NewRun(source string, t *Trajectory, names []string, scaler *objective.Scaler, dir objective.Direction, stoppedEarly bool) (*Run, error) {
	r := &Run{
		Source:       source,
		Direction:    dir.String(),
		ParamNames:   append([]string(nil), names...),
		StoppedEarly: stoppedEarly,
		Points:       make([][]float64, t.Len()),
		Values:       make([]float64, t.Len()),
		BestIndex:    -1,
		InitialStop:  t.Len() > 0 && t.InitialStop,
	}
	for i := 0; i < t.Len(); i++ {
		if len(t.Points[i]) != len(names) {
			return nil, fmt.Errorf("entry %d has %d coordinates for %d parameter names", i, len(t.Points[i]), len(names))
		}
		r.Points[i] = scaler.Denormalize(t.Points[i])
		r.Values[i] = t.Values[i] * dir.Sign()
	}
	if r.InitialStop {
		r.Values[0] = objective.StopSentinel
	}
	if i, ok := t.Best(); ok {
		r.BestIndex = i
	}
	return r, nil
}

// Len is the number of entries.
func (r *Run) Len() int { return len(r.Values) }

// Best returns the best point and its value, or false when the run has no
// objective value.
func (r *Run) Best() ([]float64, float64, bool) {
	if r.BestIndex < 0 || r.BestIndex >= len(r.Values) || (r.InitialStop && r.BestIndex == 0) {
		return nil, 0, false
	}
	return r.Points[r.BestIndex], r.Values[r.BestIndex], true
}

// WriteJSON writes the run as indented JSON.
func (r *Run) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteFile writes the run to path, replacing it atomically.
func (r *Run) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename run file: %w", err)
	}
	return nil
}

// ReadFile loads a run written by WriteFile.
func ReadFile(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", path, err)
	}
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("run %s: %w", path, err)
	}
	return &r, nil
}

func (r *Run) validate() error {
	if len(r.Points) != len(r.Values) {
		return fmt.Errorf("%d points but %d values", len(r.Points), len(r.Values))
	}
	for i, p := range r.Points {
		if len(p) != len(r.ParamNames) {
			return fmt.Errorf("entry %d has %d coordinates for %d parameter names", i, len(p), len(r.ParamNames))
		}
	}
	if r.BestIndex < -1 || r.BestIndex >= len(r.Values) {
		return fmt.Errorf("best index %d out of range for %d entries", r.BestIndex, len(r.Values))
	}
	if r.InitialStop && (len(r.Values) != 1 || r.BestIndex != -1) {
		return fmt.Errorf("initial stop run must hold one entry and no best index")
	}
	return nil
}
