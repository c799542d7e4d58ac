package model

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/max-27/mlmi-federated-learning/pkg/errors"
)

// Tensor is one named parameter block of a model.
type Tensor struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Params is the full ordered parameter state of a model. The order is fixed
// per architecture so flattened vectors of two models of the same shape are
// comparable element-wise.
type Params []Tensor

func (p Params) Clone() Params {
	out := make(Params, len(p))
	for i, t := range p {
		data := make([]float64, len(t.Data))
		copy(data, t.Data)
		out[i] = Tensor{Name: t.Name, Rows: t.Rows, Cols: t.Cols, Data: data}
	}

	return out
}

// NumParams is the total scalar parameter count.
func (p Params) NumParams() int {
	var n int
	for _, t := range p {
		n += len(t.Data)
	}

	return n
}

// Flatten concatenates all tensors into a single vector, in tensor order.
func (p Params) Flatten() []float64 {
	out := make([]float64, 0, p.NumParams())
	for _, t := range p {
		out = append(out, t.Data...)
	}

	return out
}

// FlattenFinal returns only the last tensor pair (final layer weights and
// bias) as a vector. Used by the alternative clustering partitioner.
func (p Params) FlattenFinal() []float64 {
	if len(p) == 0 {
		return nil
	}
	start := len(p) - 2
	if start < 0 {
		start = 0
	}

	out := make([]float64, 0)
	for _, t := range p[start:] {
		out = append(out, t.Data...)
	}

	return out
}

// CheckShape verifies that other has the same tensor layout as p.
func (p Params) CheckShape(other Params) error {
	if len(p) != len(other) {
		return fmt.Errorf("%w: %d tensors vs %d", errors.ErrDimensionMismatch, len(p), len(other))
	}
	for i := range p {
		if p[i].Rows != other[i].Rows || p[i].Cols != other[i].Cols || len(p[i].Data) != len(other[i].Data) {
			return fmt.Errorf("%w: tensor %q", errors.ErrDimensionMismatch, p[i].Name)
		}
	}

	return nil
}

// AddScaled adds alpha*other to p in place.
func (p Params) AddScaled(alpha float64, other Params) error {
	if err := p.CheckShape(other); err != nil {
		return err
	}
	for i := range p {
		floats.AddScaled(p[i].Data, alpha, other[i].Data)
	}

	return nil
}

// Scale multiplies all parameters by alpha in place.
func (p Params) Scale(alpha float64) {
	for i := range p {
		floats.Scale(alpha, p[i].Data)
	}
}

// Zero returns a zero-valued parameter set with the same layout as p.
func (p Params) Zero() Params {
	out := make(Params, len(p))
	for i, t := range p {
		out[i] = Tensor{Name: t.Name, Rows: t.Rows, Cols: t.Cols, Data: make([]float64, len(t.Data))}
	}

	return out
}
