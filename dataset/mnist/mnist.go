// Package mnist loads the MNIST IDX files and partitions them across
// simulated clients with the label-sorted shard scheme, which yields the
// pathological non-IID splits the clustering experiments need.
package mnist

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/max-27/mlmi-federated-learning/dataset"
)

const (
	TrainImagesFile = "train-images-idx3-ubyte.gz"
	TrainLabelsFile = "train-labels-idx1-ubyte.gz"
	TestImagesFile  = "t10k-images-idx3-ubyte.gz"
	TestLabelsFile  = "t10k-labels-idx1-ubyte.gz"

	NumClasses = 10

	imageMagic = 0x00000803
	labelMagic = 0x00000801

	// Each client receives two shards of label-sorted training data, so a
	// client sees at most a handful of digits.
	shardsPerClient = 2
)

// Config controls loading and partitioning.
type Config struct {
	DataDir    string
	NumClients int
	BatchSize  int
	Seed       int64
}

// Load reads the four IDX files and partitions them into a federated
// dataset. Missing files are an error; downloading is out of scope.
func Load(cfg Config) (*dataset.Federated, error) {
	if cfg.NumClients <= 0 {
		return nil, fmt.Errorf("invalid client count %d", cfg.NumClients)
	}

	train, err := readSamples(
		filepath.Join(cfg.DataDir, TrainImagesFile),
		filepath.Join(cfg.DataDir, TrainLabelsFile),
	)
	if err != nil {
		return nil, fmt.Errorf("loading mnist train set: %w", err)
	}
	test, err := readSamples(
		filepath.Join(cfg.DataDir, TestImagesFile),
		filepath.Join(cfg.DataDir, TestLabelsFile),
	)
	if err != nil {
		return nil, fmt.Errorf("loading mnist test set: %w", err)
	}

	return Partition(train, test, cfg)
}

// Partition applies the shard scheme: sort training indices by label, cut
// them into numClients*2 shards, and deal every client two shards at
// random. The test set is split evenly in order.
func Partition(train, test []dataset.Sample, cfg Config) (*dataset.Federated, error) {
	numShards := cfg.NumClients * shardsPerClient
	if len(train) < numShards {
		return nil, fmt.Errorf("%d training samples cannot fill %d shards", len(train), numShards)
	}

	sorted := make([]dataset.Sample, len(train))
	copy(sorted, train)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Label < sorted[j].Label })

	shardSize := len(sorted) / numShards
	rng := rand.New(rand.NewSource(cfg.Seed))
	shardOrder := rng.Perm(numShards)

	var features int
	if len(train) > 0 {
		features = len(train[0].X)
	}

	fed := &dataset.Federated{
		Name:        fmt.Sprintf("mnist%d", cfg.NumClients),
		NumClasses:  NumClasses,
		NumFeatures: features,
		BatchSize:   cfg.BatchSize,
		Clients:     make([]dataset.ClientData, cfg.NumClients),
	}

	testPerClient := len(test) / cfg.NumClients
	for i := 0; i < cfg.NumClients; i++ {
		client := dataset.ClientData{ID: fmt.Sprintf("client-%03d", i)}

		for s := 0; s < shardsPerClient; s++ {
			shard := shardOrder[i*shardsPerClient+s]
			start := shard * shardSize
			client.Train = append(client.Train, sorted[start:start+shardSize]...)
		}

		if testPerClient > 0 {
			start := i * testPerClient
			client.Test = append(client.Test, test[start:start+testPerClient]...)
		}

		fed.Clients[i] = client
	}

	return fed, nil
}

func readSamples(imagesPath, labelsPath string) ([]dataset.Sample, error) {
	images, _, _, err := ReadImages(imagesPath)
	if err != nil {
		return nil, err
	}
	labels, err := ReadLabels(labelsPath)
	if err != nil {
		return nil, err
	}
	if len(images) != len(labels) {
		return nil, fmt.Errorf("%d images but %d labels", len(images), len(labels))
	}

	samples := make([]dataset.Sample, len(images))
	for i := range images {
		samples[i] = dataset.Sample{X: images[i], Label: int(labels[i])}
	}

	return samples, nil
}

// ReadImages parses a gzipped IDX3 image file into normalized [0,1]
// feature vectors.
func ReadImages(path string) (images [][]float64, rows, cols int, err error) {
	r, closeFn, err := openGzip(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer closeFn()

	var header [4]uint32
	for i := range header {
		if err := binary.Read(r, binary.BigEndian, &header[i]); err != nil {
			return nil, 0, 0, fmt.Errorf("reading IDX header of %s: %w", path, err)
		}
	}
	if header[0] != imageMagic {
		return nil, 0, 0, fmt.Errorf("%s: bad magic %#x, want %#x", path, header[0], imageMagic)
	}

	count := int(header[1])
	rows = int(header[2])
	cols = int(header[3])

	pixels := make([]byte, count*rows*cols)
	if _, err := io.ReadFull(r, pixels); err != nil {
		return nil, 0, 0, fmt.Errorf("reading pixels of %s: %w", path, err)
	}

	images = make([][]float64, count)
	stride := rows * cols
	for i := 0; i < count; i++ {
		x := make([]float64, stride)
		for j := 0; j < stride; j++ {
			x[j] = float64(pixels[i*stride+j]) / 255.0
		}
		images[i] = x
	}

	return images, rows, cols, nil
}

// ReadLabels parses a gzipped IDX1 label file.
func ReadLabels(path string) ([]byte, error) {
	r, closeFn, err := openGzip(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var header [2]uint32
	for i := range header {
		if err := binary.Read(r, binary.BigEndian, &header[i]); err != nil {
			return nil, fmt.Errorf("reading IDX header of %s: %w", path, err)
		}
	}
	if header[0] != labelMagic {
		return nil, fmt.Errorf("%s: bad magic %#x, want %#x", path, header[0], labelMagic)
	}

	labels := make([]byte, header[1])
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("reading labels of %s: %w", path, err)
	}

	return labels, nil
}

func openGzip(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()

		return nil, nil, fmt.Errorf("decompressing %s: %w", path, err)
	}

	return gz, func() {
		gz.Close()
		f.Close()
	}, nil
}
