package clustering_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-27/mlmi-federated-learning/clustering"
)

// twoBlobs returns 2n vectors: n around the origin and n around (10, 10).
func twoBlobs(n int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	vectors := make([][]float64, 0, 2*n)
	for i := 0; i < n; i++ {
		vectors = append(vectors, []float64{rng.NormFloat64() * 0.1, rng.NormFloat64() * 0.1})
	}
	for i := 0; i < n; i++ {
		vectors = append(vectors, []float64{10 + rng.NormFloat64()*0.1, 10 + rng.NormFloat64()*0.1})
	}

	return vectors
}

func TestAgglomerateSeparatesBlobs(t *testing.T) {
	t.Parallel()

	linkages := []clustering.Linkage{
		clustering.LinkageWard,
		clustering.LinkageSingle,
		clustering.LinkageComplete,
		clustering.LinkageAverage,
	}
	for _, linkage := range linkages {
		vectors := twoBlobs(5, 42)
		labels, err := clustering.Agglomerate(vectors, clustering.Options{
			Linkage:   linkage,
			Metric:    clustering.MetricEuclidean,
			Criterion: clustering.CriterionDistance,
			Threshold: 5.0,
		})
		require.NoError(t, err, string(linkage))

		// All of the first blob together, all of the second blob together,
		// and the two blobs apart.
		for i := 1; i < 5; i++ {
			assert.Equal(t, labels[0], labels[i], string(linkage))
			assert.Equal(t, labels[5], labels[5+i], string(linkage))
		}
		assert.NotEqual(t, labels[0], labels[5], string(linkage))
	}
}

func TestAgglomerateMaxClust(t *testing.T) {
	t.Parallel()
	vectors := twoBlobs(4, 7)

	labels, err := clustering.Agglomerate(vectors, clustering.Options{
		Linkage:     clustering.LinkageAverage,
		Criterion:   clustering.CriterionMaxClust,
		MaxClusters: 3,
	})
	require.NoError(t, err)

	distinct := map[int]bool{}
	for _, l := range labels {
		distinct[l] = true
	}
	assert.Len(t, distinct, 3)
}

func TestAgglomerateTightThresholdKeepsSingletons(t *testing.T) {
	t.Parallel()
	vectors := [][]float64{{0, 0}, {5, 5}, {10, 10}}

	labels, err := clustering.Agglomerate(vectors, clustering.Options{
		Linkage:   clustering.LinkageWard,
		Criterion: clustering.CriterionDistance,
		Threshold: 0.1,
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, labels)
}

func TestAgglomerateErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc    string
		vectors [][]float64
		opts    clustering.Options
	}{
		{
			desc:    "no vectors",
			vectors: nil,
			opts:    clustering.Options{},
		},
		{
			desc:    "ragged vectors",
			vectors: [][]float64{{1, 2}, {1}},
			opts:    clustering.Options{},
		},
		{
			desc:    "maxclust without count",
			vectors: [][]float64{{1}, {2}},
			opts:    clustering.Options{Criterion: clustering.CriterionMaxClust},
		},
		{
			desc:    "unknown metric",
			vectors: [][]float64{{1}, {2}},
			opts:    clustering.Options{Metric: "chebyshev"},
		},
	}
	for _, tc := range cases {
		_, err := clustering.Agglomerate(tc.vectors, tc.opts)
		assert.Error(t, err, tc.desc)
	}
}

func TestManhattanMetric(t *testing.T) {
	t.Parallel()
	vectors := [][]float64{{0, 0}, {1, 1}, {8, 8}}

	labels, err := clustering.Agglomerate(vectors, clustering.Options{
		Linkage:   clustering.LinkageSingle,
		Metric:    clustering.MetricManhattan,
		Criterion: clustering.CriterionDistance,
		Threshold: 3.0,
	})
	require.NoError(t, err)
	assert.Equal(t, labels[0], labels[1])
	assert.NotEqual(t, labels[0], labels[2])
}
