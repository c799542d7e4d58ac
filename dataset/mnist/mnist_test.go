package mnist_test

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-27/mlmi-federated-learning/dataset"
	"github.com/max-27/mlmi-federated-learning/dataset/mnist"
)

func writeIDXImages(t *testing.T, path string, images [][]byte, rows, cols int) {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	require.NoError(t, binary.Write(gz, binary.BigEndian, uint32(0x803)))
	require.NoError(t, binary.Write(gz, binary.BigEndian, uint32(len(images))))
	require.NoError(t, binary.Write(gz, binary.BigEndian, uint32(rows)))
	require.NoError(t, binary.Write(gz, binary.BigEndian, uint32(cols)))
	for _, img := range images {
		_, err := gz.Write(img)
		require.NoError(t, err)
	}
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func writeIDXLabels(t *testing.T, path string, labels []byte) {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	require.NoError(t, binary.Write(gz, binary.BigEndian, uint32(0x801)))
	require.NoError(t, binary.Write(gz, binary.BigEndian, uint32(len(labels))))
	_, err := gz.Write(labels)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func writeFixture(t *testing.T, dir string, trainN, testN int) {
	t.Helper()

	const rows, cols = 2, 2
	makeSet := func(n int) ([][]byte, []byte) {
		images := make([][]byte, n)
		labels := make([]byte, n)
		for i := 0; i < n; i++ {
			images[i] = []byte{byte(i), byte(i), byte(i), byte(i)}
			labels[i] = byte(i % 10)
		}

		return images, labels
	}

	trainImgs, trainLabels := makeSet(trainN)
	testImgs, testLabels := makeSet(testN)
	writeIDXImages(t, filepath.Join(dir, mnist.TrainImagesFile), trainImgs, rows, cols)
	writeIDXLabels(t, filepath.Join(dir, mnist.TrainLabelsFile), trainLabels)
	writeIDXImages(t, filepath.Join(dir, mnist.TestImagesFile), testImgs, rows, cols)
	writeIDXLabels(t, filepath.Join(dir, mnist.TestLabelsFile), testLabels)
}

func TestLoadPartitionsShards(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFixture(t, dir, 200, 40)

	fed, err := mnist.Load(mnist.Config{DataDir: dir, NumClients: 10, BatchSize: 5, Seed: 1})
	require.NoError(t, err)

	assert.Equal(t, 10, len(fed.Clients))
	assert.Equal(t, mnist.NumClasses, fed.NumClasses)
	assert.Equal(t, 4, fed.NumFeatures)

	// 200 train samples across 20 shards of 10: every client gets 2 shards.
	for _, c := range fed.Clients {
		assert.Len(t, c.Train, 20, c.ID)
		assert.Len(t, c.Test, 4, c.ID)

		// Shards are label-sorted: two shards cover few distinct labels.
		distinct := map[int]bool{}
		for _, s := range c.Train {
			distinct[s.Label] = true
		}
		assert.LessOrEqual(t, len(distinct), 4, c.ID)
	}
	assert.Equal(t, 200, fed.TrainSamples())
}

func TestLoadDeterministicUnderSeed(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFixture(t, dir, 100, 20)

	cfg := mnist.Config{DataDir: dir, NumClients: 5, Seed: 7}
	first, err := mnist.Load(cfg)
	require.NoError(t, err)
	second, err := mnist.Load(cfg)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadMissingFiles(t *testing.T) {
	t.Parallel()
	_, err := mnist.Load(mnist.Config{DataDir: t.TempDir(), NumClients: 2})
	assert.Error(t, err)
}

func TestPartitionTooFewSamples(t *testing.T) {
	t.Parallel()
	train := []dataset.Sample{{X: []float64{0}, Label: 0}}
	_, err := mnist.Partition(train, nil, mnist.Config{NumClients: 5})
	assert.Error(t, err)
}

func TestReadImagesBadMagic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.gz")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	require.NoError(t, binary.Write(gz, binary.BigEndian, uint32(0xdead)))
	require.NoError(t, binary.Write(gz, binary.BigEndian, uint32(0)))
	require.NoError(t, binary.Write(gz, binary.BigEndian, uint32(0)))
	require.NoError(t, binary.Write(gz, binary.BigEndian, uint32(0)))
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	_, _, _, err := mnist.ReadImages(path)
	assert.Error(t, err)
}
