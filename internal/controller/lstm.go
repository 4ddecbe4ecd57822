package controller

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Gate order within the stacked weight rows: input, forget, cell, output.
const gates = 4

// LayerParams are the weights of one LSTM layer. W is (4H x (in+H)) acting on
// concat(input, h); B has length 4H.
type LayerParams struct {
	W *mat.Dense
	B *mat.VecDense
}

// HeadParams project the top hidden output to a step in parameter space.
// W is (N x H), B has length N.
type HeadParams struct {
	W *mat.Dense
	B *mat.VecDense
}

// Params are the trained weights of an LSTM controller.
type Params struct {
	Shape  Shape
	Layers []LayerParams
	Head   HeadParams
}

// Validate checks every matrix against Shape.
func (p *Params) Validate() error {
	if err := p.Shape.Validate(); err != nil {
		return err
	}
	h := p.Shape.Hidden
	if len(p.Layers) != p.Shape.StoredLayers() {
		return fmt.Errorf("have %d layer weight sets, want %d", len(p.Layers), p.Shape.StoredLayers())
	}
	for i, l := range p.Layers {
		if l.W == nil || l.B == nil {
			return fmt.Errorf("layer %d: missing weights", i)
		}
		if r, c := l.W.Dims(); r != gates*h || c != p.Shape.layerInputs(i)+h {
			return fmt.Errorf("layer %d: W is %dx%d, want %dx%d", i, r, c, gates*h, p.Shape.layerInputs(i)+h)
		}
		if l.B.Len() != gates*h {
			return fmt.Errorf("layer %d: B has %d entries, want %d", i, l.B.Len(), gates*h)
		}
	}
	if p.Head.W == nil || p.Head.B == nil {
		return fmt.Errorf("head: missing weights")
	}
	if r, c := p.Head.W.Dims(); r != p.Shape.Params || c != h {
		return fmt.Errorf("head: W is %dx%d, want %dx%d", r, c, p.Shape.Params, h)
	}
	if p.Head.B.Len() != p.Shape.Params {
		return fmt.Errorf("head: B has %d entries, want %d", p.Head.B.Len(), p.Shape.Params)
	}
	return nil
}

// RandomParams draws weights from N(0, scale²). It exists for tests and for
// bootstrapping a checkpoint layout; a controller with random weights is not
// a trained optimizer.
func RandomParams(shape Shape, scale float64, src rand.Source) (*Params, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	dist := distuv.Normal{Mu: 0, Sigma: scale, Src: src}
	fill := func(n int) []float64 {
		data := make([]float64, n)
		for i := range data {
			data[i] = dist.Rand()
		}
		return data
	}

	h := shape.Hidden
	p := &Params{Shape: shape}
	for i := 0; i < shape.StoredLayers(); i++ {
		cols := shape.layerInputs(i) + h
		p.Layers = append(p.Layers, LayerParams{
			W: mat.NewDense(gates*h, cols, fill(gates*h*cols)),
			B: mat.NewVecDense(gates*h, fill(gates*h)),
		})
	}
	p.Head = HeadParams{
		W: mat.NewDense(shape.Params, h, fill(shape.Params*h)),
		B: mat.NewVecDense(shape.Params, fill(shape.Params)),
	}
	return p, nil
}

// LSTM is a stacked LSTM controller. The input at every step is
// concat(point, value); the head output is added to the point to form the
// next proposal.
type LSTM struct {
	params *Params
}

var _ Cell = (*LSTM)(nil)

// NewLSTM wraps validated params.
func NewLSTM(params *Params) (*LSTM, error) {
	if params == nil {
		return nil, fmt.Errorf("lstm: nil params")
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("lstm: %w", err)
	}
	return &LSTM{params: params}, nil
}

// Shape returns the controller dimensions.
func (c *LSTM) Shape() Shape { return c.params.Shape }

// InitialState implements Cell.
func (c *LSTM) InitialState() State {
	return ZeroState(c.params.Shape.Layers, c.params.Shape.Hidden)
}

// weights returns the parameters used by layer i.
func (c *LSTM) weights(i int) LayerParams {
	if i >= len(c.params.Layers) {
		return c.params.Layers[len(c.params.Layers)-1]
	}
	return c.params.Layers[i]
}

// Step implements Cell.
func (c *LSTM) Step(point []float64, value float64, state State) ([]float64, State, error) {
	shape := c.params.Shape
	if len(point) != shape.Params {
		return nil, nil, fmt.Errorf("lstm: point has %d coordinates, want %d", len(point), shape.Params)
	}
	if err := state.CheckShape(shape.Layers, shape.Hidden); err != nil {
		return nil, nil, fmt.Errorf("lstm: %w", err)
	}

	h := shape.Hidden
	input := make([]float64, 0, shape.Params+1)
	input = append(input, point...)
	input = append(input, value)

	next := make(State, shape.Layers)
	for i := 0; i < shape.Layers; i++ {
		w := c.weights(i)

		z := mat.NewVecDense(len(input)+h, nil)
		for j, v := range input {
			z.SetVec(j, v)
		}
		for j, v := range state[i].H {
			z.SetVec(len(input)+j, v)
		}

		var pre mat.VecDense
		pre.MulVec(w.W, z)
		pre.AddVec(&pre, w.B)

		cell := make([]float64, h)
		hidden := make([]float64, h)
		for j := 0; j < h; j++ {
			in := sigmoid(pre.AtVec(j))
			forget := sigmoid(pre.AtVec(h + j))
			cand := math.Tanh(pre.AtVec(2*h + j))
			out := sigmoid(pre.AtVec(3*h + j))

			cell[j] = forget*state[i].C[j] + in*cand
			hidden[j] = out * math.Tanh(cell[j])
		}
		next[i] = LayerState{C: cell, H: hidden}
		input = hidden
	}

	var delta mat.VecDense
	delta.MulVec(c.params.Head.W, mat.NewVecDense(h, append([]float64(nil), input...)))
	delta.AddVec(&delta, c.params.Head.B)

	proposal := make([]float64, shape.Params)
	for j := range proposal {
		proposal[j] = point[j] + delta.AtVec(j)
	}
	return proposal, next, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
