package dataset

import (
	"math/rand"
)

// Sample is a single training example: a dense feature vector and a class
// label.
type Sample struct {
	X     []float64 `json:"x"`
	Label int       `json:"label"`
}

// ClientData holds one simulated client's local partition.
type ClientData struct {
	ID    string   `json:"id"`
	Train []Sample `json:"-"`
	Test  []Sample `json:"-"`
}

// Federated is a dataset partitioned across simulated clients.
type Federated struct {
	Name        string       `json:"name"`
	NumClasses  int          `json:"num_classes"`
	NumFeatures int          `json:"num_features"`
	BatchSize   int          `json:"batch_size"`
	Clients     []ClientData `json:"clients"`
}

func (f *Federated) TrainSamples() int {
	var n int
	for i := range f.Clients {
		n += len(f.Clients[i].Train)
	}

	return n
}

func (f *Federated) TestSamples() int {
	var n int
	for i := range f.Clients {
		n += len(f.Clients[i].Test)
	}

	return n
}

// LabelCounts returns the per-class occurrence counts of the client's
// training data. Used for the label-distribution heatmaps.
func (c *ClientData) LabelCounts(numClasses int) []int {
	counts := make([]int, numClasses)
	for _, s := range c.Train {
		if s.Label >= 0 && s.Label < numClasses {
			counts[s.Label]++
		}
	}

	return counts
}

// Shuffle permutes samples in place using the given source of randomness.
func Shuffle(samples []Sample, rng *rand.Rand) {
	rng.Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})
}

// Batches splits samples into consecutive mini-batches. The final batch may
// be short. A batchSize < 1 yields a single full batch.
func Batches(samples []Sample, batchSize int) [][]Sample {
	if batchSize < 1 || batchSize >= len(samples) {
		if len(samples) == 0 {
			return nil
		}

		return [][]Sample{samples}
	}

	batches := make([][]Sample, 0, (len(samples)+batchSize-1)/batchSize)
	for start := 0; start < len(samples); start += batchSize {
		end := start + batchSize
		if end > len(samples) {
			end = len(samples)
		}
		batches = append(batches, samples[start:end])
	}

	return batches
}
