// Package hierarchical implements the clustering stage of the experiments:
// after a number of plain FedAvg rounds, clients are grouped by the
// similarity of their model weights and federated training continues inside
// each cluster with its own aggregator.
package hierarchical

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/max-27/mlmi-federated-learning/clustering"
	"github.com/max-27/mlmi-federated-learning/federated"
	"github.com/max-27/mlmi-federated-learning/model"
)

// PartitionerKind selects how clients are grouped into clusters.
type PartitionerKind string

const (
	// PartitionRandom deals clients uniformly into NumClusters groups.
	PartitionRandom PartitionerKind = "random"
	// PartitionModelFlatten clusters on the full flattened weight vector.
	PartitionModelFlatten PartitionerKind = "model-flatten"
	// PartitionFinalLayer clusters on the final layer weights only.
	PartitionFinalLayer PartitionerKind = "final-layer"
)

// Args configures one hierarchical stage.
type Args struct {
	Partitioner    PartitionerKind    `json:"partitioner"`
	Clustering     clustering.Options `json:"clustering"`
	NumClusters    int                `json:"num_clusters"`
	RoundsCluster  int                `json:"rounds_cluster"`
	ClientFraction float64            `json:"client_fraction"`
	TrainArgs      model.TrainArgs    `json:"train_args"`
	Concurrency    int                `json:"concurrency"`
	Seed           int64              `json:"seed"`
}

// Hooks are evaluation callbacks invoked during the stage; nil hooks are
// skipped. Cluster and global rounds are relative to the stage, counting
// from 1 up to RoundsCluster.
type Hooks struct {
	AfterInitialTrain func(metrics federated.Metrics)
	AfterClustering   func(clusters map[string][]*federated.Client)
	AfterClusterRound func(clusterID string, round int, metrics federated.Metrics)
	AfterGlobalRound  func(round int, metrics federated.Metrics)
}

// Run executes the hierarchical stage on clients that already carry the
// restored round state: one local training pass to let the weights diverge,
// partitioning on the flattened weights, then RoundsCluster federated
// rounds inside every cluster with per-cluster aggregators.
func Run(
	ctx context.Context,
	clients []*federated.Client,
	args Args,
	newAggregator func() federated.Aggregator,
	hooks Hooks,
) (map[string][]*federated.Client, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("hierarchical stage needs clients")
	}

	// Divergence pass: every client trains locally, no aggregation.
	if _, err := federated.TrainRound(ctx, clients, args.TrainArgs, args.Concurrency); err != nil {
		return nil, fmt.Errorf("initial training pass: %w", err)
	}
	if hooks.AfterInitialTrain != nil {
		metrics, err := federated.EvaluateAll(ctx, clients, args.Concurrency)
		if err != nil {
			return nil, err
		}
		hooks.AfterInitialTrain(metrics)
	}

	clusters, err := partition(clients, args)
	if err != nil {
		return nil, fmt.Errorf("partitioning clients: %w", err)
	}
	if hooks.AfterClustering != nil {
		hooks.AfterClustering(clusters)
	}

	clusterIDs := make([]string, 0, len(clusters))
	for id := range clusters {
		clusterIDs = append(clusterIDs, id)
	}
	sort.Strings(clusterIDs)

	aggregators := make(map[string]federated.Aggregator, len(clusters))
	for _, id := range clusterIDs {
		aggregators[id] = newAggregator()
	}

	rng := rand.New(rand.NewSource(args.Seed))
	for round := 1; round <= args.RoundsCluster; round++ {
		for _, id := range clusterIDs {
			members := clusters[id]
			selected := federated.SelectClients(rng, members, args.ClientFraction)
			if _, err := federated.RunRound(ctx, aggregators[id], members, selected, args.TrainArgs, args.Concurrency); err != nil {
				return nil, fmt.Errorf("cluster %s round %d: %w", id, round, err)
			}

			if hooks.AfterClusterRound != nil {
				metrics, err := federated.EvaluateAll(ctx, members, args.Concurrency)
				if err != nil {
					return nil, err
				}
				hooks.AfterClusterRound(id, round, metrics)
			}
		}

		if hooks.AfterGlobalRound != nil {
			metrics, err := federated.EvaluateAll(ctx, clients, args.Concurrency)
			if err != nil {
				return nil, err
			}
			hooks.AfterGlobalRound(round, metrics)
		}
	}

	return clusters, nil
}

func partition(clients []*federated.Client, args Args) (map[string][]*federated.Client, error) {
	members := make([]clustering.Member, len(clients))
	for i, c := range clients {
		m := clustering.Member{ID: c.ID()}
		switch args.Partitioner {
		case PartitionFinalLayer:
			m.Vector = c.Params().FlattenFinal()
		default:
			m.Vector = c.Params().Flatten()
		}
		members[i] = m
	}

	var p clustering.Partitioner
	switch args.Partitioner {
	case PartitionRandom:
		p = clustering.RandomPartitioner{NumClusters: args.NumClusters, Seed: args.Seed}
	case PartitionModelFlatten, PartitionFinalLayer, "":
		p = clustering.WeightPartitioner{Options: args.Clustering}
	default:
		return nil, fmt.Errorf("unknown partitioner %q", args.Partitioner)
	}

	assignment, err := p.Partition(members)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*federated.Client, len(clients))
	for _, c := range clients {
		byID[c.ID()] = c
	}

	clusters := make(map[string][]*federated.Client, len(assignment))
	for clusterID, memberIDs := range assignment {
		for _, id := range memberIDs {
			c, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("partitioner returned unknown client %q", id)
			}
			clusters[clusterID] = append(clusters[clusterID], c)
		}
	}

	return clusters, nil
}
