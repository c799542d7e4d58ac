package femnist_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-27/mlmi-federated-learning/dataset/femnist"
)

type shard struct {
	Users    []string            `json:"users"`
	UserData map[string]examples `json:"user_data"`
}

type examples struct {
	X [][]float64 `json:"x"`
	Y []int       `json:"y"`
}

// writeShard creates one LEAF JSON file with the given per-user sample
// counts; labels cycle so every user has a dominant label of its own.
func writeShard(t *testing.T, dir, name string, counts map[string]int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	s := shard{UserData: map[string]examples{}}
	userIdx := 0
	for user, n := range counts {
		ex := examples{}
		for i := 0; i < n; i++ {
			ex.X = append(ex.X, []float64{float64(i), float64(userIdx)})
			// Most samples carry the user's own label, the rest spill over.
			label := userIdx
			if i%4 == 3 {
				label = (userIdx + 1) % 62
			}
			ex.Y = append(ex.Y, label)
		}
		s.Users = append(s.Users, user)
		s.UserData[user] = ex
		userIdx++
	}

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o644))
}

func writeFixture(t *testing.T, root string, counts map[string]int) {
	t.Helper()
	writeShard(t, filepath.Join(root, femnist.TrainDir), "all_data_0.json", counts)

	testCounts := make(map[string]int, len(counts))
	for user := range counts {
		testCounts[user] = 2
	}
	writeShard(t, filepath.Join(root, femnist.TestDir), "all_data_0.json", testCounts)
}

func TestLoadNaturalPartition(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	counts := map[string]int{"f0000": 8, "f0001": 12, "f0002": 6}
	writeFixture(t, root, counts)

	fed, err := femnist.Load(femnist.Config{
		DataDir: root, NumClients: 3, SampleThreshold: -1, Seed: 1,
	})
	require.NoError(t, err)

	require.Len(t, fed.Clients, 3)
	assert.Equal(t, "femnist3", fed.Name)
	assert.Equal(t, femnist.NumClasses, fed.NumClasses)
	assert.Equal(t, 2, fed.NumFeatures)

	for _, c := range fed.Clients {
		assert.Len(t, c.Train, counts[c.ID], c.ID)
		assert.Len(t, c.Test, 2, c.ID)
	}
}

func TestLoadSampleThreshold(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFixture(t, root, map[string]int{"f0000": 8, "f0001": 12, "f0002": 6})

	// Only the 8 and 12 sample writers pass a threshold of 6.
	fed, err := femnist.Load(femnist.Config{
		DataDir: root, NumClients: 2, SampleThreshold: 6, Seed: 1,
	})
	require.NoError(t, err)
	require.Len(t, fed.Clients, 2)
	for _, c := range fed.Clients {
		assert.Greater(t, len(c.Train), 6, c.ID)
	}

	_, err = femnist.Load(femnist.Config{
		DataDir: root, NumClients: 3, SampleThreshold: 6, Seed: 1,
	})
	assert.Error(t, err)
}

func TestLoadLabelLimit(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFixture(t, root, map[string]int{"f0000": 16, "f0001": 16})

	fed, err := femnist.Load(femnist.Config{
		DataDir: root, NumClients: 2, SampleThreshold: -1, NumLabelLimit: 1, Seed: 3,
	})
	require.NoError(t, err)

	// Every client is reduced to its single dominant label.
	for _, c := range fed.Clients {
		labels := map[int]bool{}
		for _, s := range c.Train {
			labels[s.Label] = true
		}
		assert.Len(t, labels, 1, c.ID)
	}
}

func TestLoadDeterministicSelection(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	counts := map[string]int{}
	for _, u := range []string{"a", "b", "c", "d", "e", "f"} {
		counts[u] = 4
	}
	writeFixture(t, root, counts)

	cfg := femnist.Config{DataDir: root, NumClients: 3, SampleThreshold: -1, Seed: 9}
	first, err := femnist.Load(cfg)
	require.NoError(t, err)
	second, err := femnist.Load(cfg)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadMissingData(t *testing.T) {
	t.Parallel()
	_, err := femnist.Load(femnist.Config{DataDir: t.TempDir(), NumClients: 1})
	assert.Error(t, err)
}
