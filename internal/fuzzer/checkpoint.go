package fuzzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"swarmfuzz/internal/corpus"
	"swarmfuzz/internal/feedback"
)

// ErrCorruptCheckpoint marks an unreadable or version-mismatched snapshot.
// Callers fall back to a fresh state instead of aborting the campaign.
var ErrCorruptCheckpoint = errors.New("fuzzer: corrupt checkpoint")

const snapshotVersion = 1

// snapshot is the durable form of one fuzzer state. Inputs are inline so
// the file is self-contained; []byte fields marshal as base64.
type snapshot struct {
	Version   int             `json:"version"`
	ClientID  string          `json:"client_id"`
	SavedAt   time.Time       `json:"saved_at"`
	RngState  uint64          `json:"rng_state"`
	Execs     uint64          `json:"execs"`
	Iters     uint64          `json:"iterations"`
	StartTime time.Time       `json:"start_time"`
	Entries   []snapshotEntry `json:"entries"`
	Virgin    []byte          `json:"virgin,omitempty"`
}

type snapshotEntry struct {
	ID       corpus.ID        `json:"id"`
	Testcase *corpus.Testcase `json:"testcase"`
}

// Checkpointer periodically snapshots a state to one file, atomically.
type Checkpointer struct {
	path     string
	interval time.Duration
	logger   *zap.Logger
	lastSave time.Time
}

func NewCheckpointer(path string, interval time.Duration, logger *zap.Logger) *Checkpointer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Checkpointer{path: path, interval: interval, logger: logger.Named("checkpoint")}
}

func (c *Checkpointer) Due(now time.Time) bool {
	return now.Sub(c.lastSave) >= c.interval
}

// Save writes the snapshot next to its final name and renames it into
// place, so a crash mid-write leaves the previous checkpoint intact.
func (c *Checkpointer) Save(st *State, history *feedback.MapFeedback) error {
	snap := snapshot{
		Version:   snapshotVersion,
		ClientID:  st.ClientID,
		SavedAt:   time.Now(),
		RngState:  st.Rand.State(),
		Execs:     st.Execs,
		Iters:     st.Iterations,
		StartTime: st.StartTime,
	}
	for _, id := range st.Corpus.IDs() {
		tc, err := st.Corpus.Get(id)
		if err != nil {
			return err
		}
		snap.Entries = append(snap.Entries, snapshotEntry{ID: id, Testcase: tc})
	}
	if history != nil {
		snap.Virgin = history.History()
	}

	data, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("fuzzer: marshal checkpoint: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fuzzer: checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ckpt-*")
	if err != nil {
		return fmt.Errorf("fuzzer: checkpoint temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("fuzzer: write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fuzzer: sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("fuzzer: rename checkpoint: %w", err)
	}
	c.lastSave = time.Now()
	c.logger.Debug("checkpoint saved",
		zap.Int("entries", len(snap.Entries)),
		zap.Int("bytes", len(data)))
	return nil
}

// Restore loads the last checkpoint into st and the feedback history. No
// executions are replayed: corpus, scheduler weights, RNG position and
// counters come back exactly as saved. A missing file is not an error; a
// corrupt or mismatched one returns ErrCorruptCheckpoint and leaves st
// untouched, so the caller can start fresh.
func (c *Checkpointer) Restore(st *State, history *feedback.MapFeedback, onRestore func(id corpus.ID, tc *corpus.Testcase)) error {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fuzzer: read checkpoint: %w", err)
	}
	snap := snapshot{}
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrCorruptCheckpoint, snap.Version, snapshotVersion)
	}

	for _, e := range snap.Entries {
		if e.Testcase == nil {
			return fmt.Errorf("%w: entry %d has no testcase", ErrCorruptCheckpoint, e.ID)
		}
		e.Testcase.Sig = corpus.Hash(e.Testcase.Input)
		if err := st.Corpus.RestoreAt(e.ID, e.Testcase); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
		}
		if onRestore != nil {
			onRestore(e.ID, e.Testcase)
		}
	}
	st.Rand.Restore(snap.RngState)
	st.Execs = snap.Execs
	st.Iterations = snap.Iters
	if !snap.StartTime.IsZero() {
		st.StartTime = snap.StartTime
	}
	if history != nil && len(snap.Virgin) > 0 {
		if !history.RestoreHistory(snap.Virgin) {
			c.logger.Warn("checkpoint history size mismatch, keeping fresh history")
		}
	}
	c.logger.Info("checkpoint restored",
		zap.Int("entries", len(snap.Entries)),
		zap.Uint64("execs", snap.Execs))
	return nil
}
