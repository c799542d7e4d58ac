// Package omniglot builds few-shot tasks from the Omniglot handwritten
// character corpus: a directory of alphabets, each holding characterNN
// directories of PNG drawings. Every client is one N-way task sampled from
// the character pool, with labels local to the task.
package omniglot

import (
	"fmt"
	"image"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/max-27/mlmi-federated-learning/dataset"
)

const (
	// Side length images are resized to before flattening.
	ImageSize = 28

	// Characters assigned to the training pool; the remainder forms the
	// held-out pool for test clients.
	trainCharacters = 1200
)

// Config controls task construction. InnerBatchSize of -1 means full batch.
type Config struct {
	DataDir             string
	NumClientsTrain     int
	NumClientsTest      int
	NumClassesPerClient int
	NumShotsPerClass    int
	InnerBatchSize      int
	Seed                int64
}

// character is one drawable class: a directory of PNGs plus a rotation in
// quarter turns applied on read.
type character struct {
	dir      string
	files    []string
	quarters int
}

// Load scans the character tree, splits it into train and held-out pools,
// augments the train pool with the three non-trivial rotations, and samples
// one few-shot task per client from each pool.
func Load(cfg Config) (train, test *dataset.Federated, err error) {
	if cfg.NumClassesPerClient <= 0 || cfg.NumShotsPerClass <= 0 {
		return nil, nil, fmt.Errorf("invalid task shape: %d classes, %d shots",
			cfg.NumClassesPerClient, cfg.NumShotsPerClass)
	}

	chars, err := readCharacters(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("scanning omniglot characters: %w", err)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	rng.Shuffle(len(chars), func(i, j int) { chars[i], chars[j] = chars[j], chars[i] })

	split := trainCharacters
	if split > len(chars) {
		split = len(chars)
	}
	trainPool := augment(chars[:split])
	testPool := chars[split:]

	train, err = makeClients("omniglot-train", trainPool, cfg.NumClientsTrain, cfg, rng)
	if err != nil {
		return nil, nil, err
	}
	test, err = makeClients("omniglot-test", testPool, cfg.NumClientsTest, cfg, rng)
	if err != nil {
		return nil, nil, err
	}

	return train, test, nil
}

func readCharacters(root string) ([]character, error) {
	alphabets, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var chars []character
	for _, alphabet := range alphabets {
		if !alphabet.IsDir() {
			continue
		}
		alphabetDir := filepath.Join(root, alphabet.Name())
		entries, err := os.ReadDir(alphabetDir)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "character") {
				continue
			}
			charDir := filepath.Join(alphabetDir, entry.Name())
			files, err := pngFiles(charDir)
			if err != nil {
				return nil, err
			}
			if len(files) == 0 {
				continue
			}
			chars = append(chars, character{dir: charDir, files: files})
		}
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("no character directories under %s", root)
	}

	return chars, nil
}

func pngFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".png" {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)

	return files, nil
}

// augment adds the 90, 180 and 270 degree rotations of every character as
// distinct classes.
func augment(chars []character) []character {
	out := make([]character, 0, 4*len(chars))
	for _, c := range chars {
		for q := 0; q < 4; q++ {
			out = append(out, character{dir: c.dir, files: c.files, quarters: q})
		}
	}

	return out
}

func makeClients(name string, pool []character, numClients int, cfg Config, rng *rand.Rand) (*dataset.Federated, error) {
	fed := &dataset.Federated{
		Name:        name,
		NumClasses:  cfg.NumClassesPerClient,
		NumFeatures: ImageSize * ImageSize,
		BatchSize:   cfg.InnerBatchSize,
		Clients:     make([]dataset.ClientData, numClients),
	}

	for i := 0; i < numClients; i++ {
		task, err := sampleTask(pool, cfg, rng)
		if err != nil {
			return nil, fmt.Errorf("sampling task for %s client %d: %w", name, i, err)
		}
		task.ID = fmt.Sprintf("%s-%04d", name, i)
		fed.Clients[i] = task
	}

	return fed, nil
}

// sampleTask draws NumClassesPerClient characters, reads shots+1 images per
// class, and moves one shot per class into the test split.
func sampleTask(pool []character, cfg Config, rng *rand.Rand) (dataset.ClientData, error) {
	if len(pool) < cfg.NumClassesPerClient {
		return dataset.ClientData{}, fmt.Errorf("pool of %d characters cannot fill %d classes",
			len(pool), cfg.NumClassesPerClient)
	}

	picked := rng.Perm(len(pool))[:cfg.NumClassesPerClient]
	shots := cfg.NumShotsPerClass + 1

	var task dataset.ClientData
	for label, poolIdx := range picked {
		c := pool[poolIdx]
		if len(c.files) < shots {
			return dataset.ClientData{}, fmt.Errorf("character %s has %d drawings, need %d",
				c.dir, len(c.files), shots)
		}

		order := rng.Perm(len(c.files))[:shots]
		for shot, fileIdx := range order {
			x, err := readImage(c.files[fileIdx], c.quarters)
			if err != nil {
				return dataset.ClientData{}, err
			}
			sample := dataset.Sample{X: x, Label: label}
			// The first drawn shot of every class is held out for testing.
			if shot == 0 {
				task.Test = append(task.Test, sample)
			} else {
				task.Train = append(task.Train, sample)
			}
		}
	}

	return task, nil
}

// readImage decodes a PNG, resizes it to ImageSize with nearest neighbor,
// rotates by the given quarter turns and flattens to [0,1] grayscale.
func readImage(path string, quarters int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	gray := resizeGray(img)
	rotated := rotateQuarters(gray, quarters)

	x := make([]float64, 0, ImageSize*ImageSize)
	for row := 0; row < ImageSize; row++ {
		for col := 0; col < ImageSize; col++ {
			x = append(x, float64(rotated[row*ImageSize+col])/255.0)
		}
	}

	return x, nil
}

func resizeGray(img image.Image) []uint8 {
	bounds := img.Bounds()
	out := make([]uint8, ImageSize*ImageSize)
	for row := 0; row < ImageSize; row++ {
		srcY := bounds.Min.Y + row*bounds.Dy()/ImageSize
		for col := 0; col < ImageSize; col++ {
			srcX := bounds.Min.X + col*bounds.Dx()/ImageSize
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			// Integer luma over 16 bit channels, scaled back to 8 bit.
			luma := (299*r + 587*g + 114*b) / 1000
			out[row*ImageSize+col] = uint8(luma >> 8)
		}
	}

	return out
}

func rotateQuarters(pixels []uint8, quarters int) []uint8 {
	quarters %= 4
	if quarters == 0 {
		return pixels
	}

	out := make([]uint8, len(pixels))
	n := ImageSize
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			var dr, dc int
			switch quarters {
			case 1:
				dr, dc = n-1-col, row
			case 2:
				dr, dc = n-1-row, n-1-col
			default:
				dr, dc = col, n-1-row
			}
			out[dr*n+dc] = pixels[row*n+col]
		}
	}

	return out
}
