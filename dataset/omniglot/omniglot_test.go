package omniglot_test

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-27/mlmi-federated-learning/dataset/omniglot"
)

// writeCorpus lays out alphabets/characterNN/*.png with simple gradient
// images so decoding and resizing have something nontrivial to chew on.
func writeCorpus(t *testing.T, root string, alphabets, charsPerAlphabet, drawings int) {
	t.Helper()

	for a := 0; a < alphabets; a++ {
		for c := 0; c < charsPerAlphabet; c++ {
			dir := filepath.Join(root, fmt.Sprintf("Alphabet_%02d", a), fmt.Sprintf("character%02d", c))
			require.NoError(t, os.MkdirAll(dir, 0o755))
			for d := 0; d < drawings; d++ {
				img := image.NewGray(image.Rect(0, 0, 56, 56))
				for y := 0; y < 56; y++ {
					for x := 0; x < 56; x++ {
						img.SetGray(x, y, color.Gray{Y: uint8((x + y + d) % 256)})
					}
				}
				path := filepath.Join(dir, fmt.Sprintf("%02d_%02d.png", c, d))
				f, err := os.Create(path)
				require.NoError(t, err)
				require.NoError(t, png.Encode(f, img))
				require.NoError(t, f.Close())
			}
		}
	}
}

func TestLoadBuildsFewShotTasks(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeCorpus(t, root, 3, 4, 5)

	cfg := omniglot.Config{
		DataDir:             root,
		NumClientsTrain:     6,
		NumClientsTest:      0,
		NumClassesPerClient: 3,
		NumShotsPerClass:    2,
		InnerBatchSize:      -1,
		Seed:                11,
	}
	train, test, err := omniglot.Load(cfg)
	require.NoError(t, err)

	require.Len(t, train.Clients, 6)
	assert.Empty(t, test.Clients)
	assert.Equal(t, 3, train.NumClasses)
	assert.Equal(t, omniglot.ImageSize*omniglot.ImageSize, train.NumFeatures)

	for _, c := range train.Clients {
		// shots per class in train, exactly one held-out shot per class.
		assert.Len(t, c.Train, 3*2, c.ID)
		assert.Len(t, c.Test, 3, c.ID)

		testLabels := map[int]int{}
		for _, s := range c.Test {
			testLabels[s.Label]++
			assert.Len(t, s.X, omniglot.ImageSize*omniglot.ImageSize)
		}
		assert.Equal(t, map[int]int{0: 1, 1: 1, 2: 1}, testLabels, c.ID)
	}
}

func TestLoadHeldOutPool(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	// 12 base characters, all below the 1200 train cut, so the held-out
	// pool is empty and test clients cannot be built.
	writeCorpus(t, root, 3, 4, 3)

	cfg := omniglot.Config{
		DataDir:             root,
		NumClientsTrain:     1,
		NumClientsTest:      1,
		NumClassesPerClient: 2,
		NumShotsPerClass:    1,
		Seed:                1,
	}
	_, _, err := omniglot.Load(cfg)
	assert.Error(t, err)
}

func TestLoadDeterministicUnderSeed(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeCorpus(t, root, 2, 3, 4)

	cfg := omniglot.Config{
		DataDir:             root,
		NumClientsTrain:     4,
		NumClassesPerClient: 2,
		NumShotsPerClass:    1,
		Seed:                42,
	}
	first, _, err := omniglot.Load(cfg)
	require.NoError(t, err)
	second, _, err := omniglot.Load(cfg)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadTooFewDrawings(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeCorpus(t, root, 1, 2, 2)

	cfg := omniglot.Config{
		DataDir:             root,
		NumClientsTrain:     1,
		NumClassesPerClient: 2,
		NumShotsPerClass:    4, // needs 5 drawings, only 2 exist
		Seed:                1,
	}
	_, _, err := omniglot.Load(cfg)
	assert.Error(t, err)
}

func TestLoadInvalidTaskShape(t *testing.T) {
	t.Parallel()
	_, _, err := omniglot.Load(omniglot.Config{DataDir: t.TempDir(), NumClassesPerClient: 0, NumShotsPerClass: 1})
	assert.Error(t, err)
}

func TestLoadEmptyCorpus(t *testing.T) {
	t.Parallel()
	_, _, err := omniglot.Load(omniglot.Config{DataDir: t.TempDir(), NumClassesPerClient: 1, NumShotsPerClass: 1})
	assert.Error(t, err)
}
