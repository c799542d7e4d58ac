package clustering

import (
	"fmt"
	"math/rand"
	"sort"
)

// Member is one client as seen by the partitioner: an ID plus flattened
// model weights. Which weights end up in the vector is the caller's choice
// (all parameters or only the final layer).
type Member struct {
	ID     string
	Vector []float64
}

// Partitioner assigns members to clusters. Cluster IDs are small decimal
// strings; members of the same cluster train against a shared
// sub-aggregator afterwards.
type Partitioner interface {
	Partition(members []Member) (map[string][]string, error)
}

// RandomPartitioner deals members uniformly into a fixed number of
// clusters. Baseline for the weight-based partitioners.
type RandomPartitioner struct {
	NumClusters int
	Seed        int64
}

func (p RandomPartitioner) Partition(members []Member) (map[string][]string, error) {
	if len(members) == 0 {
		return nil, errNoVectors
	}
	k := p.NumClusters
	if k < 1 {
		k = 1
	}
	if k > len(members) {
		k = len(members)
	}

	rng := rand.New(rand.NewSource(p.Seed))
	perm := rng.Perm(len(members))

	out := make(map[string][]string, k)
	for i, idx := range perm {
		cluster := fmt.Sprintf("%d", i%k)
		out[cluster] = append(out[cluster], members[idx].ID)
	}
	for _, ids := range out {
		sort.Strings(ids)
	}

	return out, nil
}

// WeightPartitioner clusters members by the distance between their weight
// vectors using agglomerative clustering.
type WeightPartitioner struct {
	Options Options
}

func (p WeightPartitioner) Partition(members []Member) (map[string][]string, error) {
	if len(members) == 0 {
		return nil, errNoVectors
	}

	vectors := make([][]float64, len(members))
	for i, m := range members {
		vectors[i] = m.Vector
	}

	labels, err := Agglomerate(vectors, p.Options)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]string)
	for i, label := range labels {
		cluster := fmt.Sprintf("%d", label)
		out[cluster] = append(out[cluster], members[i].ID)
	}
	for _, ids := range out {
		sort.Strings(ids)
	}

	return out, nil
}
