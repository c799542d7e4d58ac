// Package ham10k loads the HAM10000 skin lesion metadata and partitions the
// records into clients by imaging site, the natural split used for the
// dermatology experiments. Records are featurized from the tabular columns;
// image decoding is out of scope.
package ham10k

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/max-27/mlmi-federated-learning/dataset"
)

const (
	MetadataFile = "HAM10000_metadata.csv"

	NumClasses = 7

	// Test share of every client's records.
	testFraction = 0.2

	// Ages are scaled into [0,1] against the oldest plausible patient.
	maxAge = 100.0
)

// Diagnosis classes in label order.
var Classes = []string{"akiec", "bcc", "bkl", "df", "mel", "nv", "vasc"}

var (
	sexes         = []string{"male", "female", "unknown"}
	dxTypes       = []string{"histo", "follow_up", "consensus", "confocal"}
	localizations = []string{
		"abdomen", "acral", "back", "chest", "ear", "face", "foot", "genital",
		"hand", "lower extremity", "neck", "scalp", "trunk", "unknown",
		"upper extremity",
	}
)

// Config controls loading and the train/test split.
type Config struct {
	DataDir   string
	BatchSize int
	Seed      int64
}

type record struct {
	label        int
	age          float64
	sex          string
	dxType       string
	localization string
}

// Load parses the metadata CSV and groups records into one client per
// localization site, with a shuffled 80/20 train/test split inside each.
func Load(cfg Config) (*dataset.Federated, error) {
	path := filepath.Join(cfg.DataDir, MetadataFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening ham10k metadata: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading ham10k header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"dx", "dx_type", "age", "sex", "localization"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("ham10k metadata missing column %q", required)
		}
	}

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading ham10k rows: %w", err)
	}

	bySite := make(map[string][]record)
	for i, row := range rows {
		rec, site, err := parseRow(row, col)
		if err != nil {
			return nil, fmt.Errorf("ham10k row %d: %w", i+2, err)
		}
		bySite[site] = append(bySite[site], rec)
	}
	if len(bySite) == 0 {
		return nil, fmt.Errorf("ham10k metadata %s has no records", path)
	}

	sites := make([]string, 0, len(bySite))
	for site := range bySite {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	rng := rand.New(rand.NewSource(cfg.Seed))
	fed := &dataset.Federated{
		Name:        fmt.Sprintf("ham10k%d", len(sites)),
		NumClasses:  NumClasses,
		NumFeatures: featureSize(),
		BatchSize:   cfg.BatchSize,
		Clients:     make([]dataset.ClientData, len(sites)),
	}
	for i, site := range sites {
		samples := make([]dataset.Sample, len(bySite[site]))
		for j, rec := range bySite[site] {
			samples[j] = dataset.Sample{X: featurize(rec), Label: rec.label}
		}
		dataset.Shuffle(samples, rng)

		split := len(samples) - int(float64(len(samples))*testFraction)
		fed.Clients[i] = dataset.ClientData{
			ID:    siteID(site),
			Train: samples[:split],
			Test:  samples[split:],
		}
	}

	return fed, nil
}

func parseRow(row []string, col map[string]int) (record, string, error) {
	dx := strings.TrimSpace(row[col["dx"]])
	label := -1
	for i, class := range Classes {
		if class == dx {
			label = i

			break
		}
	}
	if label < 0 {
		return record{}, "", fmt.Errorf("unknown diagnosis %q", dx)
	}

	age := 0.0
	if raw := strings.TrimSpace(row[col["age"]]); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return record{}, "", fmt.Errorf("parsing age %q: %w", raw, err)
		}
		age = parsed
	}

	site := strings.TrimSpace(row[col["localization"]])
	if site == "" {
		site = "unknown"
	}

	return record{
		label:        label,
		age:          age,
		sex:          strings.TrimSpace(row[col["sex"]]),
		dxType:       strings.TrimSpace(row[col["dx_type"]]),
		localization: site,
	}, site, nil
}

func featureSize() int {
	return 1 + len(sexes) + len(dxTypes) + len(localizations)
}

// featurize turns one record into a dense vector: scaled age followed by
// one-hot sex, acquisition method and localization.
func featurize(rec record) []float64 {
	x := make([]float64, 0, featureSize())
	x = append(x, rec.age/maxAge)
	x = append(x, oneHot(sexes, rec.sex)...)
	x = append(x, oneHot(dxTypes, rec.dxType)...)
	x = append(x, oneHot(localizations, rec.localization)...)

	return x
}

func oneHot(vocab []string, value string) []float64 {
	v := make([]float64, len(vocab))
	for i, entry := range vocab {
		if entry == value {
			v[i] = 1.0

			break
		}
	}

	return v
}

func siteID(site string) string {
	return "site-" + strings.ReplaceAll(site, " ", "_")
}
