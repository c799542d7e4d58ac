package hierarchical_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-27/mlmi-federated-learning/clustering"
	"github.com/max-27/mlmi-federated-learning/dataset"
	"github.com/max-27/mlmi-federated-learning/federated"
	"github.com/max-27/mlmi-federated-learning/hierarchical"
	"github.com/max-27/mlmi-federated-learning/model"
)

// skewedClients builds clients in two camps: half only hold class 0, half
// only class 1. After a local pass their weights diverge along camp lines,
// which is what the weight partitioner should rediscover.
func skewedClients(t *testing.T, perCamp int) []*federated.Client {
	t.Helper()

	const features = 4
	clients := make([]*federated.Client, 0, 2*perCamp)
	for camp := 0; camp < 2; camp++ {
		fed, err := dataset.LoadSynthetic(dataset.SyntheticConfig{
			NumClients:       perCamp,
			NumClasses:       2,
			NumFeatures:      features,
			ClassesPerClient: 1,
			TrainPerClient:   60,
			TestPerClient:    12,
			Seed:             int64(camp + 1),
		})
		require.NoError(t, err)

		for i, data := range fed.Clients {
			// Force every client in the camp onto one class.
			for j := range data.Train {
				data.Train[j].Label = camp
				data.Train[j].X[camp%features] += 3.0
			}
			for j := range data.Test {
				data.Test[j].Label = camp
				data.Test[j].X[camp%features] += 3.0
			}

			id := string(rune('a'+camp)) + "-" + data.ID
			m, err := model.NewSoftmax(features, 2, 42)
			require.NoError(t, err)
			clients = append(clients, federated.NewClient(id, m, data, 2, int64(camp*perCamp+i)))
		}
	}

	// All clients start from identical global state, as after restoring a
	// FedAvg checkpoint.
	global := clients[0].Params()
	for _, c := range clients {
		require.NoError(t, c.SetParams(global.Clone()))
	}

	return clients
}

func stageArgs() hierarchical.Args {
	return hierarchical.Args{
		Partitioner: hierarchical.PartitionModelFlatten,
		Clustering: clustering.Options{
			Linkage:     clustering.LinkageWard,
			Metric:      clustering.MetricEuclidean,
			Criterion:   clustering.CriterionMaxClust,
			MaxClusters: 2,
		},
		RoundsCluster:  2,
		ClientFraction: 1.0,
		TrainArgs:      model.TrainArgs{Epochs: 3, BatchSize: 10, LearningRate: 0.5},
		Concurrency:    4,
		Seed:           17,
	}
}

func TestRunRecoversCamps(t *testing.T) {
	t.Parallel()
	clients := skewedClients(t, 3)

	var clusteringSeen map[string][]*federated.Client
	hooks := hierarchical.Hooks{
		AfterClustering: func(clusters map[string][]*federated.Client) {
			clusteringSeen = clusters
		},
	}

	clusters, err := hierarchical.Run(context.Background(), clients, stageArgs(),
		func() federated.Aggregator { return federated.NewFedAvg() }, hooks)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, clusteringSeen, clusters)

	// Each cluster holds exactly one camp.
	for _, members := range clusters {
		camp := members[0].ID()[0]
		for _, m := range members {
			assert.Equal(t, camp, m.ID()[0])
		}
	}
}

func TestRunKeepsClusterStatesSeparate(t *testing.T) {
	t.Parallel()
	clients := skewedClients(t, 3)

	clusters, err := hierarchical.Run(context.Background(), clients, stageArgs(),
		func() federated.Aggregator { return federated.NewFedAvg() }, hierarchical.Hooks{})
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	// Inside a cluster all members share the aggregated state; across
	// clusters the states differ.
	var perCluster []model.Params
	for _, members := range clusters {
		first := members[0].Params()
		for _, m := range members[1:] {
			assert.Equal(t, first, m.Params())
		}
		perCluster = append(perCluster, first)
	}
	assert.NotEqual(t, perCluster[0], perCluster[1])
}

func TestRunInvokesHooksPerRound(t *testing.T) {
	t.Parallel()
	clients := skewedClients(t, 2)

	var clusterRounds, globalRounds int
	initialSeen := false
	hooks := hierarchical.Hooks{
		AfterInitialTrain: func(m federated.Metrics) { initialSeen = true },
		AfterClusterRound: func(id string, round int, m federated.Metrics) { clusterRounds++ },
		AfterGlobalRound:  func(round int, m federated.Metrics) { globalRounds++ },
	}

	args := stageArgs()
	clusters, err := hierarchical.Run(context.Background(), clients, args,
		func() federated.Aggregator { return federated.NewFedAvg() }, hooks)
	require.NoError(t, err)

	assert.True(t, initialSeen)
	assert.Equal(t, args.RoundsCluster, globalRounds)
	assert.Equal(t, args.RoundsCluster*len(clusters), clusterRounds)
}

func TestRunRandomPartitioner(t *testing.T) {
	t.Parallel()
	clients := skewedClients(t, 2)

	args := stageArgs()
	args.Partitioner = hierarchical.PartitionRandom
	args.NumClusters = 2

	clusters, err := hierarchical.Run(context.Background(), clients, args,
		func() federated.Aggregator { return federated.NewFedAvg() }, hierarchical.Hooks{})
	require.NoError(t, err)
	assert.Len(t, clusters, 2)
}

func TestRunNoClients(t *testing.T) {
	t.Parallel()
	_, err := hierarchical.Run(context.Background(), nil, stageArgs(),
		func() federated.Aggregator { return federated.NewFedAvg() }, hierarchical.Hooks{})
	assert.Error(t, err)
}
