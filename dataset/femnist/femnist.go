// Package femnist loads the LEAF federated EMNIST partition: per-writer
// JSON shards under train/ and test/ directories. The writer split is the
// natural non-IID partition, so no artificial sharding is applied.
package femnist

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/max-27/mlmi-federated-learning/dataset"
)

const (
	TrainDir = "train"
	TestDir  = "test"

	// Digits, uppercase and lowercase letters.
	NumClasses = 62
)

// Config controls loading and client selection.
type Config struct {
	DataDir    string
	NumClients int
	BatchSize  int
	// SampleThreshold drops writers with that many training samples or
	// fewer before selection. Negative disables the filter.
	SampleThreshold int
	// NumLabelLimit scratches every client down to its most frequent
	// labels. Zero or negative keeps all labels.
	NumLabelLimit int
	Seed          int64
}

type leafShard struct {
	Users    []string                `json:"users"`
	UserData map[string]leafExamples `json:"user_data"`
}

type leafExamples struct {
	X [][]float64 `json:"x"`
	Y []int       `json:"y"`
}

// Load reads every JSON shard, selects NumClients writers at random among
// those passing the sample threshold, and returns their natural partition.
func Load(cfg Config) (*dataset.Federated, error) {
	if cfg.NumClients <= 0 {
		return nil, fmt.Errorf("invalid client count %d", cfg.NumClients)
	}

	train, err := readShards(filepath.Join(cfg.DataDir, TrainDir))
	if err != nil {
		return nil, fmt.Errorf("loading femnist train shards: %w", err)
	}
	test, err := readShards(filepath.Join(cfg.DataDir, TestDir))
	if err != nil {
		return nil, fmt.Errorf("loading femnist test shards: %w", err)
	}

	eligible := make([]string, 0, len(train))
	for user, samples := range train {
		if cfg.SampleThreshold >= 0 && len(samples) <= cfg.SampleThreshold {
			continue
		}
		eligible = append(eligible, user)
	}
	sort.Strings(eligible)
	if len(eligible) < cfg.NumClients {
		return nil, fmt.Errorf("only %d clients with more than %d samples available, asked for %d",
			len(eligible), cfg.SampleThreshold, cfg.NumClients)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	selected := eligible
	if len(eligible) > cfg.NumClients {
		perm := rng.Perm(len(eligible))[:cfg.NumClients]
		sort.Ints(perm)
		selected = make([]string, cfg.NumClients)
		for i, idx := range perm {
			selected[i] = eligible[idx]
		}
	}

	var features int
	fed := &dataset.Federated{
		Name:       fmt.Sprintf("femnist%d", cfg.NumClients),
		NumClasses: NumClasses,
		BatchSize:  cfg.BatchSize,
		Clients:    make([]dataset.ClientData, len(selected)),
	}
	for i, user := range selected {
		trainSamples := train[user]
		if features == 0 && len(trainSamples) > 0 {
			features = len(trainSamples[0].X)
		}
		fed.Clients[i] = dataset.ClientData{
			ID:    user,
			Train: trainSamples,
			Test:  test[user],
		}
	}
	fed.NumFeatures = features

	if cfg.NumLabelLimit > 0 {
		dataset.ScratchLabels(fed, cfg.NumLabelLimit)
	}

	return fed, nil
}

// readShards merges every *.json file in dir into one user to samples map.
// Later shards append to users already seen.
func readShards(dir string) (map[string][]dataset.Sample, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading shard directory %s: %w", dir, err)
	}

	users := make(map[string][]dataset.Sample)
	found := false
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		found = true

		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading shard %s: %w", path, err)
		}
		var shard leafShard
		if err := json.Unmarshal(raw, &shard); err != nil {
			return nil, fmt.Errorf("decoding shard %s: %w", path, err)
		}

		for user, examples := range shard.UserData {
			if len(examples.X) != len(examples.Y) {
				return nil, fmt.Errorf("shard %s user %s: %d inputs but %d labels",
					path, user, len(examples.X), len(examples.Y))
			}
			for i := range examples.X {
				users[user] = append(users[user], dataset.Sample{X: examples.X[i], Label: examples.Y[i]})
			}
		}
	}
	if !found {
		return nil, fmt.Errorf("no JSON shards in %s", dir)
	}

	return users, nil
}
