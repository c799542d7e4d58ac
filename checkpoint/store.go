package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/max-27/mlmi-federated-learning/model"
	"github.com/max-27/mlmi-federated-learning/pkg/errors"
)

// Record is the round metadata saved next to the model state.
type Record struct {
	Round        int       `json:"round"`
	Tag          string    `json:"tag,omitempty"`
	Loss         float64   `json:"loss"`
	Accuracy     float64   `json:"accuracy"`
	Participants []string  `json:"participants,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// Store persists per-round global model states and round records under a
// run directory, so interrupted experiments resume instead of retraining.
// Round records are JSON for inspection; weights are CBOR.
type Store struct {
	root string
	mu   sync.RWMutex
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &Store{root: root}, nil
}

func (s *Store) runDirs(runID string) (roundsDir, modelsDir string, err error) {
	id := sanitizeID(runID)
	if id == "" {
		return "", "", fmt.Errorf("invalid run ID: %q", runID)
	}
	roundsDir = filepath.Join(s.root, id, "rounds")
	modelsDir = filepath.Join(s.root, id, "models")

	return roundsDir, modelsDir, nil
}

func (s *Store) SaveRound(runID string, rec Record, params model.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roundsDir, modelsDir, err := s.runDirs(runID)
	if err != nil {
		return err
	}
	for _, dir := range []string{roundsDir, modelsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create run directory: %w", err)
		}
	}

	rec.SavedAt = time.Now().UTC()
	recData, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal round record: %w", err)
	}
	recFile := filepath.Join(roundsDir, fmt.Sprintf("round_%04d.json", rec.Round))
	if err := os.WriteFile(recFile, recData, 0o644); err != nil {
		return fmt.Errorf("failed to write round record: %w", err)
	}

	stateData, err := cbor.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode model state: %w", err)
	}
	stateFile := filepath.Join(modelsDir, fmt.Sprintf("round_%04d.cbor", rec.Round))
	if err := os.WriteFile(stateFile, stateData, 0o644); err != nil {
		return fmt.Errorf("failed to write model state: %w", err)
	}

	return nil
}

func (s *Store) LoadRound(runID string, round int) (Record, model.Params, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roundsDir, modelsDir, err := s.runDirs(runID)
	if err != nil {
		return Record{}, nil, err
	}

	recData, err := os.ReadFile(filepath.Join(roundsDir, fmt.Sprintf("round_%04d.json", round)))
	if err != nil {
		return Record{}, nil, fmt.Errorf("failed to read round record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(recData, &rec); err != nil {
		return Record{}, nil, fmt.Errorf("failed to unmarshal round record: %w", err)
	}

	stateData, err := os.ReadFile(filepath.Join(modelsDir, fmt.Sprintf("round_%04d.cbor", round)))
	if err != nil {
		return Record{}, nil, fmt.Errorf("failed to read model state: %w", err)
	}
	var params model.Params
	if err := cbor.Unmarshal(stateData, &params); err != nil {
		return Record{}, nil, fmt.Errorf("failed to decode model state: %w", err)
	}

	return rec, params, nil
}

// ListRounds returns the saved round numbers for a run in ascending order.
func (s *Store) ListRounds(runID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roundsDir, _, err := s.runDirs(runID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(roundsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rounds []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var round int
		if _, err := fmt.Sscanf(entry.Name(), "round_%d.json", &round); err == nil {
			rounds = append(rounds, round)
		}
	}
	sort.Ints(rounds)

	return rounds, nil
}

// LatestRound returns the highest saved round, or 0 and false when the run
// has no checkpoints.
func (s *Store) LatestRound(runID string) (int, bool, error) {
	rounds, err := s.ListRounds(runID)
	if err != nil {
		return 0, false, err
	}
	if len(rounds) == 0 {
		return 0, false, nil
	}

	return rounds[len(rounds)-1], true, nil
}

// SaveClusters persists the cluster assignment produced by the partitioning
// stage.
func (s *Store) SaveClusters(runID string, clusters map[string][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := sanitizeID(runID)
	if id == "" {
		return fmt.Errorf("invalid run ID: %q", runID)
	}
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(clusters, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cluster assignment: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, "clusters.json"), data, 0o644)
}

func (s *Store) LoadClusters(runID string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id := sanitizeID(runID)
	if id == "" {
		return nil, fmt.Errorf("invalid run ID: %q", runID)
	}

	data, err := os.ReadFile(filepath.Join(s.root, id, "clusters.json"))
	switch {
	case os.IsNotExist(err):
		// The run never reached the clustering stage.
		return nil, errors.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to read cluster assignment: %w", err)
	}

	var clusters map[string][]string
	if err := json.Unmarshal(data, &clusters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cluster assignment: %w", err)
	}

	return clusters, nil
}

// sanitizeID strips path separators, traversal sequences and control
// characters so run IDs are safe to use as directory names.
func sanitizeID(id string) string {
	var cleaned strings.Builder
	for _, r := range id {
		if r < 32 || r == 127 {
			continue
		}
		cleaned.WriteRune(r)
	}

	result := strings.ReplaceAll(cleaned.String(), "..", "")
	result = strings.ReplaceAll(result, "/", "")
	result = strings.ReplaceAll(result, "\\", "")
	result = strings.TrimSpace(result)

	var final strings.Builder
	for _, r := range result {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			final.WriteRune(r)
		}
	}

	return final.String()
}
