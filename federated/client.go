package federated

import (
	"context"
	"math/rand"

	"github.com/max-27/mlmi-federated-learning/dataset"
	"github.com/max-27/mlmi-federated-learning/model"
)

// Client is one simulated training participant. It owns a local model copy
// and a local data partition and never sees other clients' data, only the
// aggregated parameters the server writes back.
type Client struct {
	id         string
	model      model.Model
	data       dataset.ClientData
	numClasses int
	rng        *rand.Rand
}

// Update is what a client reports after local training.
type Update struct {
	ClientID   string       `json:"client_id"`
	Params     model.Params `json:"-"`
	NumSamples int          `json:"num_samples"`
	TrainLoss  float64      `json:"train_loss"`
}

// Metrics are evaluation results, weighted by NumSamples when combined.
type Metrics struct {
	Loss       float64 `json:"loss"`
	Accuracy   float64 `json:"accuracy"`
	NumSamples int     `json:"num_samples"`
}

func NewClient(id string, m model.Model, data dataset.ClientData, numClasses int, seed int64) *Client {
	return &Client{
		id:         id,
		model:      m,
		data:       data,
		numClasses: numClasses,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) NumTrainSamples() int { return len(c.data.Train) }

func (c *Client) LabelCounts() []int { return c.data.LabelCounts(c.numClasses) }

func (c *Client) Params() model.Params { return c.model.Params() }

func (c *Client) SetParams(p model.Params) error { return c.model.SetParams(p) }

// Train runs the local epochs and returns the resulting parameters together
// with the client's sample count for FedAvg weighting.
func (c *Client) Train(ctx context.Context, args model.TrainArgs) (Update, error) {
	loss, err := c.model.Train(ctx, c.data.Train, c.rng, args)
	if err != nil {
		return Update{}, err
	}

	return Update{
		ClientID:   c.id,
		Params:     c.model.Params(),
		NumSamples: len(c.data.Train),
		TrainLoss:  loss,
	}, nil
}

// Evaluate scores the local model on the client's test split.
func (c *Client) Evaluate(ctx context.Context) (Metrics, error) {
	loss, acc, err := c.model.Evaluate(ctx, c.data.Test)
	if err != nil {
		return Metrics{}, err
	}

	return Metrics{Loss: loss, Accuracy: acc, NumSamples: len(c.data.Test)}, nil
}

// CombineMetrics merges per-client metrics into a sample-weighted global
// figure.
func CombineMetrics(all []Metrics) Metrics {
	var out Metrics
	var weight float64
	for _, m := range all {
		out.NumSamples += m.NumSamples
		w := float64(m.NumSamples)
		out.Loss += m.Loss * w
		out.Accuracy += m.Accuracy * w
		weight += w
	}
	if weight > 0 {
		out.Loss /= weight
		out.Accuracy /= weight
	}

	return out
}
