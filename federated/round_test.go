package federated_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-27/mlmi-federated-learning/dataset"
	"github.com/max-27/mlmi-federated-learning/federated"
	"github.com/max-27/mlmi-federated-learning/model"
)

const (
	testFeatures = 4
	testClasses  = 2
)

func testClients(t *testing.T, n int) []*federated.Client {
	t.Helper()

	fed, err := dataset.LoadSynthetic(dataset.SyntheticConfig{
		NumClients:       n,
		NumClasses:       testClasses,
		NumFeatures:      testFeatures,
		ClassesPerClient: 1,
		TrainPerClient:   40,
		TestPerClient:    10,
		Seed:             11,
	})
	require.NoError(t, err)

	clients := make([]*federated.Client, n)
	for i, data := range fed.Clients {
		m, err := model.NewSoftmax(testFeatures, testClasses, int64(i))
		require.NoError(t, err)
		clients[i] = federated.NewClient(data.ID, m, data, testClasses, int64(i))
	}

	return clients
}

func TestSelectClients(t *testing.T) {
	t.Parallel()
	clients := testClients(t, 10)

	cases := []struct {
		desc     string
		fraction float64
		want     int
	}{
		{desc: "tenth rounds up to one", fraction: 0.05, want: 1},
		{desc: "half", fraction: 0.5, want: 5},
		{desc: "all", fraction: 1.0, want: 10},
		{desc: "over one is clamped", fraction: 1.5, want: 10},
	}
	for _, tc := range cases {
		rng := rand.New(rand.NewSource(1))
		selected := federated.SelectClients(rng, clients, tc.fraction)
		assert.Len(t, selected, tc.want, tc.desc)

		seen := map[string]bool{}
		for _, c := range selected {
			assert.False(t, seen[c.ID()], tc.desc)
			seen[c.ID()] = true
		}
	}
}

func TestSelectClientsDeterministic(t *testing.T) {
	t.Parallel()
	clients := testClients(t, 8)

	ids := func(cs []*federated.Client) []string {
		out := make([]string, len(cs))
		for i, c := range cs {
			out[i] = c.ID()
		}

		return out
	}

	first := federated.SelectClients(rand.New(rand.NewSource(5)), clients, 0.5)
	second := federated.SelectClients(rand.New(rand.NewSource(5)), clients, 0.5)
	assert.Equal(t, ids(first), ids(second))
}

func TestRunRoundDistributesToAllMembers(t *testing.T) {
	t.Parallel()
	clients := testClients(t, 6)
	rng := rand.New(rand.NewSource(3))
	selected := federated.SelectClients(rng, clients, 0.5)

	args := model.TrainArgs{Epochs: 1, BatchSize: 10, LearningRate: 0.1}
	global, err := federated.RunRound(context.Background(), federated.NewFedAvg(), clients, selected, args, 4)
	require.NoError(t, err)
	require.NotNil(t, global)

	for _, c := range clients {
		assert.Equal(t, global, c.Params(), "client %s did not receive global state", c.ID())
	}
}

func TestRoundsImproveGlobalMetrics(t *testing.T) {
	t.Parallel()
	clients := testClients(t, 6)
	ctx := context.Background()

	before, err := federated.EvaluateAll(ctx, clients, 4)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(4))
	args := model.TrainArgs{Epochs: 2, BatchSize: 10, LearningRate: 0.5}
	for round := 0; round < 5; round++ {
		selected := federated.SelectClients(rng, clients, 1.0)
		_, err := federated.RunRound(ctx, federated.NewFedAvg(), clients, selected, args, 4)
		require.NoError(t, err)
	}

	after, err := federated.EvaluateAll(ctx, clients, 4)
	require.NoError(t, err)
	assert.Greater(t, after.Accuracy, before.Accuracy)
	assert.Less(t, after.Loss, before.Loss)
}

func TestTrainRoundEmpty(t *testing.T) {
	t.Parallel()
	_, err := federated.TrainRound(context.Background(), nil, model.TrainArgs{}, 1)
	assert.Error(t, err)
}

func TestCombineMetrics(t *testing.T) {
	t.Parallel()
	got := federated.CombineMetrics([]federated.Metrics{
		{Loss: 1.0, Accuracy: 1.0, NumSamples: 10},
		{Loss: 3.0, Accuracy: 0.0, NumSamples: 30},
	})
	assert.InDelta(t, 2.5, got.Loss, 1e-9)
	assert.InDelta(t, 0.25, got.Accuracy, 1e-9)
	assert.Equal(t, 40, got.NumSamples)
}

func TestClientLabelCounts(t *testing.T) {
	t.Parallel()
	data := dataset.ClientData{
		ID: "c",
		Train: []dataset.Sample{
			{X: []float64{0}, Label: 0},
			{X: []float64{0}, Label: 1},
			{X: []float64{0}, Label: 1},
		},
	}
	m, err := model.NewSoftmax(1, 2, 0)
	require.NoError(t, err)
	c := federated.NewClient("c", m, data, 2, 0)
	assert.Equal(t, []int{1, 2}, c.LabelCounts())
}
