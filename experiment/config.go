package experiment

import (
	"fmt"
	"sort"

	"github.com/max-27/mlmi-federated-learning/clustering"
	"github.com/max-27/mlmi-federated-learning/hierarchical"
	"github.com/max-27/mlmi-federated-learning/model"
)

// Config is one fully resolved grid point: every hyperparameter a run needs,
// with list-valued preset fields collapsed to scalars.
type Config struct {
	Preset         string                      `json:"preset" toml:"preset"`
	Dataset        string                      `json:"dataset" toml:"dataset"`
	DataDir        string                      `json:"data_dir" toml:"data_dir"`
	Seed           int64                       `json:"seed" toml:"seed"`
	LearningRate   float64                     `json:"learning_rate" toml:"learning_rate"`
	TotalRounds    int                         `json:"total_rounds" toml:"total_rounds"`
	ClientFraction float64                     `json:"client_fraction" toml:"client_fraction"`
	LocalEpochs    int                         `json:"local_epochs" toml:"local_epochs"`
	BatchSize      int                         `json:"batch_size" toml:"batch_size"`
	NumClients     int                         `json:"num_clients" toml:"num_clients"`
	NumClasses     int                         `json:"num_classes" toml:"num_classes"`
	Arch           model.Arch                  `json:"arch" toml:"arch"`
	Hidden         int                         `json:"hidden" toml:"hidden"`
	Concurrency    int                         `json:"concurrency" toml:"concurrency"`
	Checkpointing  bool                        `json:"checkpointing" toml:"checkpointing"`

	// FEMNIST client selection.
	SampleThreshold int `json:"sample_threshold" toml:"sample_threshold"`
	NumLabelLimit   int `json:"num_label_limit" toml:"num_label_limit"`

	// Hierarchical stage. RoundsCluster overrides the per-cluster round
	// budget; zero means the rounds remaining after the init round.
	ClusterInitRounds []int                        `json:"cluster_init_rounds" toml:"cluster_init_rounds"`
	RoundsCluster     int                          `json:"rounds_cluster" toml:"rounds_cluster"`
	Partitioner       hierarchical.PartitionerKind `json:"partitioner" toml:"partitioner"`
	NumClusters       int                          `json:"num_clusters" toml:"num_clusters"`
	Clustering        clustering.Options           `json:"clustering" toml:"clustering"`

	// Omniglot task shape.
	NumClientsTest      int `json:"num_clients_test" toml:"num_clients_test"`
	NumClassesPerClient int `json:"num_classes_per_client" toml:"num_classes_per_client"`
	NumShotsPerClass    int `json:"num_shots_per_class" toml:"num_shots_per_class"`
}

// Preset is a named experiment family. List-valued fields span the
// hyperparameter grid; Expand flattens them into concrete configs.
type Preset struct {
	Name              string                       `json:"name" toml:"name"`
	Dataset           string                       `json:"dataset" toml:"dataset"`
	DataDir           string                       `json:"data_dir" toml:"data_dir"`
	Seed              int64                        `json:"seed" toml:"seed"`
	LearningRates     []float64                    `json:"learning_rates" toml:"learning_rates"`
	TotalRounds       int                          `json:"total_rounds" toml:"total_rounds"`
	ClientFractions   []float64                    `json:"client_fractions" toml:"client_fractions"`
	LocalEpochs       int                          `json:"local_epochs" toml:"local_epochs"`
	BatchSize         int                          `json:"batch_size" toml:"batch_size"`
	NumClients        int                          `json:"num_clients" toml:"num_clients"`
	NumClasses        int                          `json:"num_classes" toml:"num_classes"`
	Arch              model.Arch                   `json:"arch" toml:"arch"`
	Hidden            int                          `json:"hidden" toml:"hidden"`
	Concurrency       int                          `json:"concurrency" toml:"concurrency"`
	Checkpointing     bool                         `json:"checkpointing" toml:"checkpointing"`
	SampleThreshold   int                          `json:"sample_threshold" toml:"sample_threshold"`
	NumLabelLimit     int                          `json:"num_label_limit" toml:"num_label_limit"`
	ClusterInitRounds []int                        `json:"cluster_init_rounds" toml:"cluster_init_rounds"`
	RoundsCluster     int                          `json:"rounds_cluster" toml:"rounds_cluster"`
	Partitioner       hierarchical.PartitionerKind `json:"partitioner" toml:"partitioner"`
	NumClusters       int                          `json:"num_clusters" toml:"num_clusters"`
	Linkage           clustering.Linkage           `json:"linkage" toml:"linkage"`
	Metric            clustering.Metric            `json:"metric" toml:"metric"`
	Criterion         clustering.Criterion         `json:"criterion" toml:"criterion"`
	Thresholds        []float64                    `json:"thresholds" toml:"thresholds"`
	MaxClusters       int                          `json:"max_clusters" toml:"max_clusters"`

	NumClientsTest      int `json:"num_clients_test" toml:"num_clients_test"`
	NumClassesPerClient int `json:"num_classes_per_client" toml:"num_classes_per_client"`
	NumShotsPerClass    int `json:"num_shots_per_class" toml:"num_shots_per_class"`
}

// Expand flattens the preset grid: one config per combination of client
// fraction, learning rate and clustering threshold.
func (p Preset) Expand() []Config {
	fractions := p.ClientFractions
	if len(fractions) == 0 {
		fractions = []float64{1.0}
	}
	rates := p.LearningRates
	if len(rates) == 0 {
		rates = []float64{0.1}
	}
	thresholds := p.Thresholds
	if len(thresholds) == 0 {
		thresholds = []float64{0}
	}

	var configs []Config
	for _, fraction := range fractions {
		for _, lr := range rates {
			for _, threshold := range thresholds {
				configs = append(configs, Config{
					Preset:          p.Name,
					Dataset:         p.Dataset,
					DataDir:         p.DataDir,
					Seed:            p.Seed,
					LearningRate:    lr,
					TotalRounds:     p.TotalRounds,
					ClientFraction:  fraction,
					LocalEpochs:     p.LocalEpochs,
					BatchSize:       p.BatchSize,
					NumClients:      p.NumClients,
					NumClasses:      p.NumClasses,
					Arch:            p.Arch,
					Hidden:          p.Hidden,
					Concurrency:     p.Concurrency,
					Checkpointing:   p.Checkpointing,
					SampleThreshold: p.SampleThreshold,
					NumLabelLimit:   p.NumLabelLimit,

					ClusterInitRounds: p.ClusterInitRounds,
					RoundsCluster:     p.RoundsCluster,
					Partitioner:       p.Partitioner,
					NumClusters:       p.NumClusters,
					Clustering: clustering.Options{
						Linkage:     p.Linkage,
						Metric:      p.Metric,
						Criterion:   p.Criterion,
						Threshold:   threshold,
						MaxClusters: p.MaxClusters,
					},

					NumClientsTest:      p.NumClientsTest,
					NumClassesPerClient: p.NumClassesPerClient,
					NumShotsPerClass:    p.NumShotsPerClass,
				})
			}
		}
	}

	return configs
}

const defaultSeed = 123123123

// presets are the named experiment families. Values follow the published
// experiment configurations.
var presets = map[string]Preset{
	"femnist": {
		Name:            "femnist",
		Dataset:         "femnist",
		Seed:            defaultSeed,
		LearningRates:   []float64{0.1},
		TotalRounds:     50,
		ClientFractions: []float64{0.1},
		LocalEpochs:     3,
		BatchSize:       10,
		NumClients:      367,
		NumClasses:      62,
		SampleThreshold: -1,
		NumLabelLimit:   -1,
		Arch:            model.ArchMLP,
		Hidden:          32,
		Checkpointing:   true,
	},
	"mnist": {
		Name:            "mnist",
		Dataset:         "mnist",
		Seed:            defaultSeed,
		LearningRates:   []float64{0.1},
		TotalRounds:     50,
		ClientFractions: []float64{0.1},
		LocalEpochs:     3,
		BatchSize:       10,
		NumClients:      100,
		NumClasses:      10,
		Arch:            model.ArchMLP,
		Hidden:          32,
		Checkpointing:   true,
	},
	"briggs": {
		Name:              "briggs",
		Dataset:           "femnist",
		Seed:              defaultSeed,
		LearningRates:     []float64{0.1},
		TotalRounds:       50,
		ClusterInitRounds: []int{1, 3, 5, 10},
		ClientFractions:   []float64{0.1, 0.2, 0.5},
		LocalEpochs:       3,
		BatchSize:         10,
		NumClients:        367,
		NumClasses:        62,
		SampleThreshold:   250,
		NumLabelLimit:     15,
		Arch:              model.ArchMLP,
		Hidden:            32,
		Checkpointing:     true,
		Partitioner:       hierarchical.PartitionModelFlatten,
		Linkage:           clustering.LinkageWard,
		Metric:            clustering.MetricEuclidean,
		Criterion:         clustering.CriterionDistance,
		Thresholds:        []float64{10.0},
	},
	"hpsearch": {
		Name:              "hpsearch",
		Dataset:           "femnist",
		Seed:              defaultSeed,
		LearningRates:     []float64{0.068},
		TotalRounds:       75,
		ClusterInitRounds: []int{5, 10, 15, 20},
		ClientFractions:   []float64{0.1},
		LocalEpochs:       3,
		BatchSize:         10,
		NumClients:        367,
		NumClasses:        62,
		SampleThreshold:   250,
		NumLabelLimit:     15,
		Arch:              model.ArchMLP,
		Hidden:            32,
		Checkpointing:     true,
		Partitioner:       hierarchical.PartitionFinalLayer,
		Linkage:           clustering.LinkageWard,
		Metric:            clustering.MetricEuclidean,
		Criterion:         clustering.CriterionDistance,
		Thresholds:        []float64{3.5, 4.0, 5.0},
	},
	"ham10k": {
		Name:            "ham10k",
		Dataset:         "ham10k",
		Seed:            defaultSeed,
		LearningRates:   []float64{0.016},
		TotalRounds:     10,
		ClientFractions: []float64{0.3},
		LocalEpochs:     1,
		BatchSize:       16,
		NumClients:      11,
		NumClasses:      7,
		Arch:            model.ArchMLP,
		Hidden:          16,
		Checkpointing:   true,
	},
	"omniglot": {
		Name:                "omniglot",
		Dataset:             "omniglot",
		Seed:                defaultSeed,
		LearningRates:       []float64{0.1},
		TotalRounds:         20,
		ClientFractions:     []float64{0.2},
		LocalEpochs:         3,
		BatchSize:           -1,
		NumClients:          1000,
		NumClientsTest:      200,
		NumClassesPerClient: 5,
		NumShotsPerClass:    1,
		NumClasses:          5,
		Arch:                model.ArchSoftmax,
		Checkpointing:       true,
	},
	// Small synthetic run that needs no downloaded data. Handy for smoke
	// testing the whole pipeline.
	"demo": {
		Name:              "demo",
		Dataset:           "synthetic",
		Seed:              defaultSeed,
		LearningRates:     []float64{0.5},
		TotalRounds:       5,
		ClusterInitRounds: []int{2},
		ClientFractions:   []float64{1.0},
		LocalEpochs:       2,
		BatchSize:         10,
		NumClients:        6,
		NumClasses:        4,
		Arch:              model.ArchSoftmax,
		Checkpointing:     true,
		RoundsCluster:     3,
		Partitioner:       hierarchical.PartitionModelFlatten,
		Linkage:           clustering.LinkageWard,
		Metric:            clustering.MetricEuclidean,
		Criterion:         clustering.CriterionMaxClust,
		MaxClusters:       2,
	},
}

// GetPreset looks up a named preset.
func GetPreset(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset %q", name)
	}

	return p, nil
}

// PresetNames returns the available preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
