package clustering

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Linkage selects how inter-cluster distance is updated after a merge.
type Linkage string

const (
	LinkageWard     Linkage = "ward"
	LinkageSingle   Linkage = "single"
	LinkageComplete Linkage = "complete"
	LinkageAverage  Linkage = "average"
)

// Metric selects the pairwise distance between flattened weight vectors.
type Metric string

const (
	MetricEuclidean Metric = "euclidean"
	MetricManhattan Metric = "cityblock"
)

// Criterion selects how the dendrogram is cut into flat clusters.
type Criterion string

const (
	// CriterionDistance stops merging once the closest pair of clusters is
	// further apart than Threshold.
	CriterionDistance Criterion = "distance"
	// CriterionMaxClust merges until exactly MaxClusters clusters remain.
	CriterionMaxClust Criterion = "maxclust"
)

// Options configures one agglomerative clustering run.
type Options struct {
	Linkage     Linkage   `json:"linkage"`
	Metric      Metric    `json:"metric"`
	Criterion   Criterion `json:"criterion"`
	Threshold   float64   `json:"threshold"`
	MaxClusters int       `json:"max_clusters"`
}

var errNoVectors = errors.New("no vectors to cluster")

// Agglomerate runs bottom-up hierarchical clustering over the vectors and
// returns a flat cluster label per vector. Labels are contiguous and start
// at 0. The O(n^3) pairwise scheme is fine at experiment scale (hundreds of
// clients).
func Agglomerate(vectors [][]float64, opts Options) ([]int, error) {
	n := len(vectors)
	if n == 0 {
		return nil, errNoVectors
	}
	for i := 1; i < n; i++ {
		if len(vectors[i]) != len(vectors[0]) {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(vectors[i]), len(vectors[0]))
		}
	}
	if opts.Criterion == CriterionMaxClust && opts.MaxClusters < 1 {
		return nil, errors.New("maxclust criterion requires max_clusters >= 1")
	}

	// Ward's update formula operates on squared euclidean distances.
	squared := opts.Linkage == LinkageWard

	dist, err := pairwise(vectors, opts.Metric, squared)
	if err != nil {
		return nil, err
	}

	active := make([]bool, n)
	size := make([]int, n)
	member := make([][]int, n)
	for i := 0; i < n; i++ {
		active[i] = true
		size[i] = 1
		member[i] = []int{i}
	}

	remaining := n
	for remaining > 1 {
		if opts.Criterion == CriterionMaxClust && remaining <= opts.MaxClusters {
			break
		}

		i, j, d := closestPair(dist, active)
		if i < 0 {
			break
		}

		height := d
		if squared {
			height = math.Sqrt(d)
		}
		if opts.Criterion == CriterionDistance && height > opts.Threshold {
			break
		}

		// Merge j into i, then update distances via Lance-Williams.
		for k := 0; k < n; k++ {
			if !active[k] || k == i || k == j {
				continue
			}
			dist[i][k] = linkageUpdate(opts.Linkage, dist[i][k], dist[j][k], dist[i][j], size[i], size[j], size[k])
			dist[k][i] = dist[i][k]
		}

		member[i] = append(member[i], member[j]...)
		size[i] += size[j]
		active[j] = false
		remaining--
	}

	labels := make([]int, n)
	next := 0
	for i := 0; i < n; i++ {
		if !active[i] {
			continue
		}
		for _, m := range member[i] {
			labels[m] = next
		}
		next++
	}

	return labels, nil
}

func pairwise(vectors [][]float64, metric Metric, squared bool) ([][]float64, error) {
	var norm float64
	switch metric {
	case MetricEuclidean, "":
		norm = 2
	case MetricManhattan:
		norm = 1
	default:
		return nil, fmt.Errorf("unknown distance metric %q", metric)
	}

	n := len(vectors)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(vectors[i], vectors[j], norm)
			if squared {
				d *= d
			}
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	return dist, nil
}

func closestPair(dist [][]float64, active []bool) (int, int, float64) {
	bestI, bestJ := -1, -1
	best := math.Inf(1)
	for i := range dist {
		if !active[i] {
			continue
		}
		for j := i + 1; j < len(dist); j++ {
			if !active[j] {
				continue
			}
			if dist[i][j] < best {
				best = dist[i][j]
				bestI, bestJ = i, j
			}
		}
	}

	return bestI, bestJ, best
}

// linkageUpdate is the Lance-Williams recurrence for the distance between
// the merged cluster (i ∪ j) and another cluster k.
func linkageUpdate(linkage Linkage, dik, djk, dij float64, ni, nj, nk int) float64 {
	switch linkage {
	case LinkageSingle:
		return math.Min(dik, djk)
	case LinkageComplete:
		return math.Max(dik, djk)
	case LinkageAverage:
		fi := float64(ni)
		fj := float64(nj)

		return (fi*dik + fj*djk) / (fi + fj)
	case LinkageWard, "":
		fi := float64(ni + nk)
		fj := float64(nj + nk)
		fk := float64(nk)
		total := float64(ni + nj + nk)

		return (fi*dik + fj*djk - fk*dij) / total
	default:
		return math.Max(dik, djk)
	}
}
