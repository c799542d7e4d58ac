package model

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/max-27/mlmi-federated-learning/dataset"
)

// Arch selects the local model architecture.
type Arch string

const (
	ArchSoftmax Arch = "softmax"
	ArchMLP     Arch = "mlp"
)

// TrainArgs controls one local training pass.
type TrainArgs struct {
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
}

// Model is a trainable classifier over dense feature vectors. It stands in
// for the neural networks of the original experiments: small enough to
// train without an ML framework, but with real parameters that diverge
// under non-IID local data, which is what the clustering stage measures.
type Model interface {
	Params() Params
	SetParams(Params) error
	// Train runs SGD epochs over the samples and returns the mean
	// cross-entropy loss of the final epoch.
	Train(ctx context.Context, samples []dataset.Sample, rng *rand.Rand, args TrainArgs) (float64, error)
	// Evaluate returns mean loss and accuracy over the samples.
	Evaluate(ctx context.Context, samples []dataset.Sample) (loss, accuracy float64, err error)
}

// Args describes how to build a fresh model.
type Args struct {
	Arch        Arch  `json:"arch"`
	NumFeatures int   `json:"num_features"`
	NumClasses  int   `json:"num_classes"`
	Hidden      int   `json:"hidden"`
	Seed        int64 `json:"seed"`
}

func New(args Args) (Model, error) {
	switch args.Arch {
	case ArchSoftmax, "":
		return NewSoftmax(args.NumFeatures, args.NumClasses, args.Seed)
	case ArchMLP:
		return NewMLP(args.NumFeatures, args.Hidden, args.NumClasses, args.Seed)
	default:
		return nil, fmt.Errorf("unknown model architecture %q", args.Arch)
	}
}
