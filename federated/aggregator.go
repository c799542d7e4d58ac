package federated

import (
	"fmt"

	"github.com/max-27/mlmi-federated-learning/model"
	"github.com/max-27/mlmi-federated-learning/pkg/errors"
)

// Aggregator merges client updates into new global parameters.
type Aggregator interface {
	Aggregate(updates []Update) (model.Params, error)
}

// FedAvg computes the sample-weighted average of client parameters
// (McMahan et al.). One instance serves the global loop; the hierarchical
// stage builds a fresh one per cluster.
type FedAvg struct{}

func NewFedAvg() FedAvg { return FedAvg{} }

func (FedAvg) Aggregate(updates []Update) (model.Params, error) {
	if len(updates) == 0 {
		return nil, errors.ErrNoParticipants
	}

	var totalSamples int
	for _, u := range updates {
		totalSamples += u.NumSamples
	}
	if totalSamples == 0 {
		return nil, errors.ErrZeroSamples
	}

	avg := updates[0].Params.Zero()
	for _, u := range updates {
		w := float64(u.NumSamples) / float64(totalSamples)
		if err := avg.AddScaled(w, u.Params); err != nil {
			return nil, fmt.Errorf("aggregating update from %s: %w", u.ClientID, err)
		}
	}

	return avg, nil
}
