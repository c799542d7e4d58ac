package model_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-27/mlmi-federated-learning/dataset"
	"github.com/max-27/mlmi-federated-learning/model"
	"github.com/max-27/mlmi-federated-learning/pkg/errors"
)

func separableSamples(n int, rng *rand.Rand) []dataset.Sample {
	samples := make([]dataset.Sample, n)
	for i := range samples {
		label := i % 2
		x := []float64{rng.NormFloat64() * 0.3, rng.NormFloat64() * 0.3}
		x[label] += 2.5
		samples[i] = dataset.Sample{X: x, Label: label}
	}

	return samples
}

func TestSoftmaxLearnsSeparableData(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	train := separableSamples(200, rng)
	test := separableSamples(50, rng)

	m, err := model.NewSoftmax(2, 2, 1)
	require.NoError(t, err)

	lossBefore, _, err := m.Evaluate(context.Background(), test)
	require.NoError(t, err)

	_, err = m.Train(context.Background(), train, rng, model.TrainArgs{
		Epochs: 5, BatchSize: 10, LearningRate: 0.5,
	})
	require.NoError(t, err)

	lossAfter, acc, err := m.Evaluate(context.Background(), test)
	require.NoError(t, err)
	assert.Less(t, lossAfter, lossBefore)
	assert.Greater(t, acc, 0.9)
}

func TestMLPLearnsSeparableData(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(2))
	train := separableSamples(200, rng)
	test := separableSamples(50, rng)

	m, err := model.NewMLP(2, 8, 2, 2)
	require.NoError(t, err)

	_, err = m.Train(context.Background(), train, rng, model.TrainArgs{
		Epochs: 10, BatchSize: 10, LearningRate: 0.2,
	})
	require.NoError(t, err)

	_, acc, err := m.Evaluate(context.Background(), test)
	require.NoError(t, err)
	assert.Greater(t, acc, 0.9)
}

func TestParamsRoundTrip(t *testing.T) {
	t.Parallel()
	m, err := model.NewMLP(4, 3, 2, 7)
	require.NoError(t, err)

	p := m.Params()
	assert.Equal(t, 4*3+3+3*2+2, p.NumParams())
	assert.Len(t, p.Flatten(), p.NumParams())
	assert.Len(t, p.FlattenFinal(), 3*2+2)

	other, err := model.NewMLP(4, 3, 2, 99)
	require.NoError(t, err)
	require.NoError(t, other.SetParams(p))
	assert.Equal(t, p, other.Params())
}

func TestParamsShapeMismatch(t *testing.T) {
	t.Parallel()
	a, err := model.NewSoftmax(3, 2, 0)
	require.NoError(t, err)
	b, err := model.NewSoftmax(4, 2, 0)
	require.NoError(t, err)

	err = a.SetParams(b.Params())
	assert.ErrorIs(t, err, errors.ErrDimensionMismatch)

	err = a.Params().AddScaled(1, b.Params())
	assert.ErrorIs(t, err, errors.ErrDimensionMismatch)
}

func TestTrainHonoursContext(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(3))
	m, err := model.NewSoftmax(2, 2, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = m.Train(ctx, separableSamples(10, rng), rng, model.TrainArgs{Epochs: 1, BatchSize: 5, LearningRate: 0.1})
	assert.ErrorIs(t, err, context.Canceled)
}
