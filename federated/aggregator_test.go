package federated_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-27/mlmi-federated-learning/federated"
	"github.com/max-27/mlmi-federated-learning/model"
	"github.com/max-27/mlmi-federated-learning/pkg/errors"
)

func paramsWith(value float64) model.Params {
	return model.Params{
		{Name: "weight", Rows: 1, Cols: 2, Data: []float64{value, value}},
		{Name: "bias", Rows: 1, Cols: 1, Data: []float64{value}},
	}
}

func TestFedAvgWeightsBySamples(t *testing.T) {
	t.Parallel()
	agg := federated.NewFedAvg()

	updates := []federated.Update{
		{ClientID: "a", Params: paramsWith(1.0), NumSamples: 30},
		{ClientID: "b", Params: paramsWith(5.0), NumSamples: 10},
	}

	got, err := agg.Aggregate(updates)
	require.NoError(t, err)

	// (30*1 + 10*5) / 40 = 2.0
	for _, tensor := range got {
		for _, v := range tensor.Data {
			assert.InDelta(t, 2.0, v, 1e-9)
		}
	}
}

func TestFedAvgErrors(t *testing.T) {
	t.Parallel()
	agg := federated.NewFedAvg()

	cases := []struct {
		desc    string
		updates []federated.Update
		err     error
	}{
		{
			desc:    "no updates",
			updates: nil,
			err:     errors.ErrNoParticipants,
		},
		{
			desc: "zero total samples",
			updates: []federated.Update{
				{ClientID: "a", Params: paramsWith(1), NumSamples: 0},
			},
			err: errors.ErrZeroSamples,
		},
		{
			desc: "mismatched dimensions",
			updates: []federated.Update{
				{ClientID: "a", Params: paramsWith(1), NumSamples: 5},
				{ClientID: "b", Params: model.Params{{Name: "weight", Rows: 1, Cols: 3, Data: []float64{1, 2, 3}}}, NumSamples: 5},
			},
			err: errors.ErrDimensionMismatch,
		},
	}
	for _, tc := range cases {
		_, err := agg.Aggregate(tc.updates)
		assert.ErrorIs(t, err, tc.err, tc.desc)
	}
}

func TestFedAvgSingleClientIsIdentity(t *testing.T) {
	t.Parallel()
	agg := federated.NewFedAvg()

	p := paramsWith(3.14)
	got, err := agg.Aggregate([]federated.Update{{ClientID: "a", Params: p, NumSamples: 7}})
	require.NoError(t, err)
	assert.Equal(t, p, got)
}
