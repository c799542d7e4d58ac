package federated

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/max-27/mlmi-federated-learning/model"
	"github.com/max-27/mlmi-federated-learning/pkg/errors"
)

// DefaultConcurrency bounds how many clients train at once.
const DefaultConcurrency = 8

// SelectClients draws ⌈fraction·K⌉ distinct clients, at least one. The rng
// makes partial participation reproducible under the experiment seed.
func SelectClients(rng *rand.Rand, clients []*Client, fraction float64) []*Client {
	if len(clients) == 0 {
		return nil
	}

	n := int(math.Ceil(fraction * float64(len(clients))))
	if n < 1 {
		n = 1
	}
	if n > len(clients) {
		n = len(clients)
	}

	perm := rng.Perm(len(clients))
	selected := make([]*Client, n)
	for i := 0; i < n; i++ {
		selected[i] = clients[perm[i]]
	}

	return selected
}

// TrainRound runs local training on every client in parallel, bounded by
// concurrency, and collects their updates in client order.
func TrainRound(ctx context.Context, clients []*Client, args model.TrainArgs, concurrency int) ([]Update, error) {
	if len(clients) == 0 {
		return nil, errors.ErrNoParticipants
	}
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	updates := make([]Update, len(clients))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, c := range clients {
		g.Go(func() error {
			u, err := c.Train(ctx, args)
			if err != nil {
				return err
			}
			updates[i] = u

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return updates, nil
}

// Distribute overwrites every client's model with the aggregated state.
func Distribute(params model.Params, clients []*Client) error {
	for _, c := range clients {
		if err := c.SetParams(params.Clone()); err != nil {
			return err
		}
	}

	return nil
}

// RunRound is one full FedAvg round: train the selected clients, aggregate
// their updates, and write the new global state back to all members.
func RunRound(ctx context.Context, agg Aggregator, members, selected []*Client, args model.TrainArgs, concurrency int) (model.Params, error) {
	updates, err := TrainRound(ctx, selected, args, concurrency)
	if err != nil {
		return nil, err
	}

	global, err := agg.Aggregate(updates)
	if err != nil {
		return nil, err
	}

	if err := Distribute(global, members); err != nil {
		return nil, err
	}

	return global, nil
}

// EvaluateAll scores every client on its local test split and returns the
// sample-weighted global metrics.
func EvaluateAll(ctx context.Context, clients []*Client, concurrency int) (Metrics, error) {
	if len(clients) == 0 {
		return Metrics{}, nil
	}
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	var mu sync.Mutex
	all := make([]Metrics, 0, len(clients))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, c := range clients {
		g.Go(func() error {
			m, err := c.Evaluate(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, m)
			mu.Unlock()

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Metrics{}, err
	}

	return CombineMetrics(all), nil
}
