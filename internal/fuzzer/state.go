// Package fuzzer runs the core loop: schedule an input, drive the stage
// pipeline over it, fold in discoveries from peers, checkpoint, repeat.
package fuzzer

import (
	"time"

	"swarmfuzz/internal/corpus"
	"swarmfuzz/internal/rng"
)

// State is the single mutable aggregate threaded through every iteration.
// Nothing here is global: several independent States can fuzz side by side
// in one address space, which is exactly how the bus tests run.
type State struct {
	Rand      *rng.Rand
	Corpus    *corpus.InMemory
	Solutions corpus.Corpus
	ClientID  string

	Execs      uint64
	Iterations uint64
	StartTime  time.Time
	LastFind   time.Time
}

func NewState(seed uint64, solutions corpus.Corpus, clientID string) *State {
	return &State{
		Rand:      rng.New(seed),
		Corpus:    corpus.NewInMemory(),
		Solutions: solutions,
		ClientID:  clientID,
		StartTime: time.Now(),
	}
}

// ExecsPerSec is the campaign-average execution rate.
func (s *State) ExecsPerSec() float64 {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Execs) / elapsed
}
