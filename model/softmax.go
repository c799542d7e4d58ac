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

// Softmax is multinomial logistic regression trained with mini-batch SGD.
type Softmax struct {
	w        *mat.Dense
	b        []float64
	features int
	classes  int
}

func NewSoftmax(numFeatures, numClasses int, seed int64) (*Softmax, error) {
	if numFeatures <= 0 || numClasses <= 1 {
		return nil, fmt.Errorf("invalid softmax shape: features=%d classes=%d", numFeatures, numClasses)
	}

	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, numClasses*numFeatures)
	scale := 1.0 / math.Sqrt(float64(numFeatures))
	for i := range data {
		data[i] = rng.NormFloat64() * scale
	}

	return &Softmax{
		w:        mat.NewDense(numClasses, numFeatures, data),
		b:        make([]float64, numClasses),
		features: numFeatures,
		classes:  numClasses,
	}, nil
}

func (m *Softmax) Params() Params {
	w := make([]float64, m.classes*m.features)
	copy(w, m.w.RawMatrix().Data)
	b := make([]float64, m.classes)
	copy(b, m.b)

	return Params{
		{Name: "weight", Rows: m.classes, Cols: m.features, Data: w},
		{Name: "bias", Rows: m.classes, Cols: 1, Data: b},
	}
}

func (m *Softmax) SetParams(p Params) error {
	if err := m.Params().CheckShape(p); err != nil {
		return err
	}
	copy(m.w.RawMatrix().Data, p[0].Data)
	copy(m.b, p[1].Data)

	return nil
}

func (m *Softmax) Train(ctx context.Context, samples []dataset.Sample, rng *rand.Rand, args TrainArgs) (float64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	shuffled := make([]dataset.Sample, len(samples))
	copy(shuffled, samples)

	gradW := mat.NewDense(m.classes, m.features, nil)
	gradB := make([]float64, m.classes)

	var epochLoss float64
	for epoch := 0; epoch < args.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		dataset.Shuffle(shuffled, rng)
		epochLoss = 0

		for _, batch := range dataset.Batches(shuffled, args.BatchSize) {
			gradW.Zero()
			for i := range gradB {
				gradB[i] = 0
			}

			for _, s := range batch {
				probs, loss := m.forward(s.X, s.Label)
				epochLoss += loss

				// d z = p - onehot(label)
				probs[s.Label] -= 1
				for c := 0; c < m.classes; c++ {
					if probs[c] == 0 {
						continue
					}
					row := gradW.RawRowView(c)
					floats.AddScaled(row, probs[c], s.X)
					gradB[c] += probs[c]
				}
			}

			step := args.LearningRate / float64(len(batch))
			wData := m.w.RawMatrix().Data
			floats.AddScaled(wData, -step, gradW.RawMatrix().Data)
			floats.AddScaled(m.b, -step, gradB)
		}
	}

	return epochLoss / float64(len(samples)), nil
}

func (m *Softmax) Evaluate(ctx context.Context, samples []dataset.Sample) (float64, float64, error) {
	if len(samples) == 0 {
		return 0, 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	var totalLoss float64
	var correct int
	for _, s := range samples {
		probs, loss := m.forward(s.X, s.Label)
		totalLoss += loss
		if argmax(probs) == s.Label {
			correct++
		}
	}

	n := float64(len(samples))

	return totalLoss / n, float64(correct) / n, nil
}

// forward returns class probabilities and the cross-entropy loss for one
// sample.
func (m *Softmax) forward(x []float64, label int) ([]float64, float64) {
	logits := make([]float64, m.classes)
	xv := mat.NewVecDense(len(x), x)
	lv := mat.NewVecDense(m.classes, logits)
	lv.MulVec(m.w, xv)
	floats.Add(logits, m.b)

	probs := softmax(logits)
	loss := -math.Log(math.Max(probs[label], 1e-12))

	return probs, loss
}

func softmax(logits []float64) []float64 {
	max := floats.Max(logits)
	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(l - max)
		sum += probs[i]
	}
	floats.Scale(1/sum, probs)

	return probs
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}

	return best
}
