package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/max-27/mlmi-federated-learning/dataset"
)

// MLP is a one-hidden-layer ReLU network with manual backprop, the largest
// model the simulation needs to make per-client weights diverge.
type MLP struct {
	w1 *mat.Dense // hidden x features
	b1 []float64
	w2 *mat.Dense // classes x hidden
	b2 []float64

	features int
	hidden   int
	classes  int
}

func NewMLP(numFeatures, hidden, numClasses int, seed int64) (*MLP, error) {
	if numFeatures <= 0 || numClasses <= 1 {
		return nil, fmt.Errorf("invalid mlp shape: features=%d classes=%d", numFeatures, numClasses)
	}
	if hidden <= 0 {
		hidden = 32
	}

	rng := rand.New(rand.NewSource(seed))
	init := func(rows, cols int) *mat.Dense {
		data := make([]float64, rows*cols)
		scale := math.Sqrt(2.0 / float64(cols))
		for i := range data {
			data[i] = rng.NormFloat64() * scale
		}

		return mat.NewDense(rows, cols, data)
	}

	return &MLP{
		w1:       init(hidden, numFeatures),
		b1:       make([]float64, hidden),
		w2:       init(numClasses, hidden),
		b2:       make([]float64, numClasses),
		features: numFeatures,
		hidden:   hidden,
		classes:  numClasses,
	}, nil
}

func (m *MLP) Params() Params {
	cloneDense := func(name string, d *mat.Dense, rows, cols int) Tensor {
		data := make([]float64, rows*cols)
		copy(data, d.RawMatrix().Data)

		return Tensor{Name: name, Rows: rows, Cols: cols, Data: data}
	}
	cloneVec := func(name string, v []float64) Tensor {
		data := make([]float64, len(v))
		copy(data, v)

		return Tensor{Name: name, Rows: len(v), Cols: 1, Data: data}
	}

	return Params{
		cloneDense("fc1.weight", m.w1, m.hidden, m.features),
		cloneVec("fc1.bias", m.b1),
		cloneDense("fc2.weight", m.w2, m.classes, m.hidden),
		cloneVec("fc2.bias", m.b2),
	}
}

func (m *MLP) SetParams(p Params) error {
	if err := m.Params().CheckShape(p); err != nil {
		return err
	}
	copy(m.w1.RawMatrix().Data, p[0].Data)
	copy(m.b1, p[1].Data)
	copy(m.w2.RawMatrix().Data, p[2].Data)
	copy(m.b2, p[3].Data)

	return nil
}

func (m *MLP) Train(ctx context.Context, samples []dataset.Sample, rng *rand.Rand, args TrainArgs) (float64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	shuffled := make([]dataset.Sample, len(samples))
	copy(shuffled, samples)

	gw1 := mat.NewDense(m.hidden, m.features, nil)
	gb1 := make([]float64, m.hidden)
	gw2 := mat.NewDense(m.classes, m.hidden, nil)
	gb2 := make([]float64, m.classes)

	var epochLoss float64
	for epoch := 0; epoch < args.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		dataset.Shuffle(shuffled, rng)
		epochLoss = 0

		for _, batch := range dataset.Batches(shuffled, args.BatchSize) {
			gw1.Zero()
			gw2.Zero()
			zero(gb1)
			zero(gb2)

			for _, s := range batch {
				hidden, probs, loss := m.forward(s.X, s.Label)
				epochLoss += loss

				// Output layer delta.
				probs[s.Label] -= 1
				for c := 0; c < m.classes; c++ {
					if probs[c] == 0 {
						continue
					}
					floats.AddScaled(gw2.RawRowView(c), probs[c], hidden)
					gb2[c] += probs[c]
				}

				// Backprop through ReLU.
				for h := 0; h < m.hidden; h++ {
					if hidden[h] <= 0 {
						continue
					}
					var delta float64
					for c := 0; c < m.classes; c++ {
						delta += probs[c] * m.w2.At(c, h)
					}
					if delta == 0 {
						continue
					}
					floats.AddScaled(gw1.RawRowView(h), delta, s.X)
					gb1[h] += delta
				}
			}

			step := args.LearningRate / float64(len(batch))
			floats.AddScaled(m.w1.RawMatrix().Data, -step, gw1.RawMatrix().Data)
			floats.AddScaled(m.b1, -step, gb1)
			floats.AddScaled(m.w2.RawMatrix().Data, -step, gw2.RawMatrix().Data)
			floats.AddScaled(m.b2, -step, gb2)
		}
	}

	return epochLoss / float64(len(samples)), nil
}

func (m *MLP) Evaluate(ctx context.Context, samples []dataset.Sample) (float64, float64, error) {
	if len(samples) == 0 {
		return 0, 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	var totalLoss float64
	var correct int
	for _, s := range samples {
		_, probs, loss := m.forward(s.X, s.Label)
		totalLoss += loss
		if argmax(probs) == s.Label {
			correct++
		}
	}

	n := float64(len(samples))

	return totalLoss / n, float64(correct) / n, nil
}

func (m *MLP) forward(x []float64, label int) (hidden, probs []float64, loss float64) {
	hidden = make([]float64, m.hidden)
	xv := mat.NewVecDense(len(x), x)
	hv := mat.NewVecDense(m.hidden, hidden)
	hv.MulVec(m.w1, xv)
	floats.Add(hidden, m.b1)
	for i, h := range hidden {
		if h < 0 {
			hidden[i] = 0
		}
	}

	logits := make([]float64, m.classes)
	lv := mat.NewVecDense(m.classes, logits)
	lv.MulVec(m.w2, hv)
	floats.Add(logits, m.b2)

	probs = softmax(logits)
	loss = -math.Log(math.Max(probs[label], 1e-12))

	return hidden, probs, loss
}

func zero(v []float64) {
	for i := range v {
		v[i] = 0
	}
}
