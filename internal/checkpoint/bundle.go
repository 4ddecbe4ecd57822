package checkpoint

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/dro/internal/controller"
)

// bundleVersion is bumped whenever the on-disk layout changes.
const bundleVersion = 1

type matrixJSON struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

type affineJSON struct {
	W matrixJSON `json:"w"`
	B []float64  `json:"b"`
}

// bundle is the JSON form of controller.Params.
type bundle struct {
	Version int              `json:"version"`
	Step    int              `json:"step"`
	Shape   controller.Shape `json:"shape"`
	Layers  []affineJSON     `json:"layers"`
	Head    affineJSON       `json:"head"`
}

func encodeMatrix(m *mat.Dense) matrixJSON {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return matrixJSON{Rows: r, Cols: c, Data: data}
}

func encodeVector(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

func (m matrixJSON) dense() (*mat.Dense, error) {
	if m.Rows <= 0 || m.Cols <= 0 {
		return nil, fmt.Errorf("matrix has dimensions %dx%d", m.Rows, m.Cols)
	}
	if len(m.Data) != m.Rows*m.Cols {
		return nil, fmt.Errorf("matrix %dx%d has %d values", m.Rows, m.Cols, len(m.Data))
	}
	return mat.NewDense(m.Rows, m.Cols, append([]float64(nil), m.Data...)), nil
}

func vector(v []float64) (*mat.VecDense, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("empty bias vector")
	}
	return mat.NewVecDense(len(v), append([]float64(nil), v...)), nil
}

func encodeBundle(step int, p *controller.Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b := bundle{
		Version: bundleVersion,
		Step:    step,
		Shape:   p.Shape,
		Head:    affineJSON{W: encodeMatrix(p.Head.W), B: encodeVector(p.Head.B)},
	}
	for _, l := range p.Layers {
		b.Layers = append(b.Layers, affineJSON{W: encodeMatrix(l.W), B: encodeVector(l.B)})
	}
	return json.MarshalIndent(b, "", "  ")
}

func decodeBundle(data []byte) (*controller.Params, int, error) {
	var b bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, 0, fmt.Errorf("decode bundle: %w", err)
	}
	if b.Version != bundleVersion {
		return nil, 0, fmt.Errorf("unsupported bundle version %d", b.Version)
	}

	p := &controller.Params{Shape: b.Shape}
	for i, l := range b.Layers {
		w, err := l.W.dense()
		if err != nil {
			return nil, 0, fmt.Errorf("layer %d: %w", i, err)
		}
		bias, err := vector(l.B)
		if err != nil {
			return nil, 0, fmt.Errorf("layer %d: %w", i, err)
		}
		p.Layers = append(p.Layers, controller.LayerParams{W: w, B: bias})
	}
	w, err := b.Head.W.dense()
	if err != nil {
		return nil, 0, fmt.Errorf("head: %w", err)
	}
	bias, err := vector(b.Head.B)
	if err != nil {
		return nil, 0, fmt.Errorf("head: %w", err)
	}
	p.Head = controller.HeadParams{W: w, B: bias}

	if err := p.Validate(); err != nil {
		return nil, 0, err
	}
	return p, b.Step, nil
}
