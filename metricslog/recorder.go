// Package metricslog records experiment scalars. Every run gets an append
// only JSONL file in its artifacts directory; entries can additionally be
// broadcast over the event bus for live dashboards.
package metricslog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/max-27/mlmi-federated-learning/pkg/pubsub"
)

const scalarsFile = "scalars.jsonl"

// ScalarsTopic is the event bus topic a run's scalars are published on.
// Consumers subscribe here to tail a run live.
func ScalarsTopic(run string) string {
	return fmt.Sprintf("experiments/%s/scalars", run)
}

// Entry is one recorded scalar.
type Entry struct {
	Run   string    `json:"run"`
	Name  string    `json:"name"`
	Step  int       `json:"step"`
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// Recorder appends scalars for a single run.
type Recorder struct {
	run    string
	dir    string
	topic  string
	bus    pubsub.PubSub
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewRecorder opens the scalar log for a run under root. The bus may be a
// noop publisher.
func NewRecorder(root, run string, bus pubsub.PubSub) (*Recorder, error) {
	dir := filepath.Join(root, run)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, scalarsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening scalar log: %w", err)
	}

	return &Recorder{
		run:    run,
		dir:    dir,
		topic:  ScalarsTopic(run),
		bus:    bus,
		file:   f,
		writer: bufio.NewWriter(f),
	}, nil
}

// Dir returns the run's artifacts directory.
func (r *Recorder) Dir() string {
	return r.dir
}

// Scalar appends one value and publishes it on the event bus.
func (r *Recorder) Scalar(ctx context.Context, name string, step int, value float64) error {
	entry := Entry{Run: r.run, Name: name, Step: step, Value: value, At: time.Now().UTC()}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing scalar: %w", err)
	}
	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("flushing scalar log: %w", err)
	}

	return r.bus.Publish(ctx, r.topic, entry)
}

// Close flushes and closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.writer.Flush(); err != nil {
		return err
	}

	return r.file.Close()
}

// ReadScalars loads every entry recorded for a run, in append order.
func ReadScalars(root, run string) ([]Entry, error) {
	f, err := os.Open(filepath.Join(root, run, scalarsFile))
	if err != nil {
		return nil, fmt.Errorf("opening scalar log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("decoding scalar entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
