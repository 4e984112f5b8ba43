// Package events connects fuzzing nodes: every client publishes its
// discoveries to one broker, which rebroadcasts them to all other clients.
// The broker never deduplicates; each client's feedback history is the
// idempotence gate for re-delivered discoveries.
package events

import "fmt"

type Kind uint8

const (
	// KindNewTestcase announces an input that produced new coverage.
	KindNewTestcase Kind = iota
	// KindObjective announces a fault-triggering input.
	KindObjective
	// KindStats carries periodic counters. Lowest value: dropped first
	// under pressure.
	KindStats
	// KindHeartbeat keeps a quiet client registered with the broker.
	KindHeartbeat
	// KindStop asks every node to shut down.
	KindStop
)

func (k Kind) String() string {
	switch k {
	case KindNewTestcase:
		return "new_testcase"
	case KindObjective:
		return "objective"
	case KindStats:
		return "stats"
	case KindHeartbeat:
		return "heartbeat"
	case KindStop:
		return "stop"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Stats is the counters payload of a KindStats event.
type Stats struct {
	Execs       uint64  `json:"execs"`
	ExecsPerSec float64 `json:"execs_per_sec"`
	Corpus      int     `json:"corpus"`
	Solutions   int     `json:"solutions"`
	EdgesSeen   int     `json:"edges_seen"`
}

// Event is one immutable message on the bus.
type Event struct {
	Kind   Kind   `json:"kind"`
	Client string `json:"client"`
	Seq    uint64 `json:"seq"`

	// NewTestcase / Objective payload.
	Input    []byte `json:"input,omitempty"`
	Sig      string `json:"sig,omitempty"`
	ExitKind string `json:"exit_kind,omitempty"`

	Stats *Stats `json:"stats,omitempty"`
}

// droppable reports whether the event may be sacrificed under
// backpressure. Discoveries never are.
func (e *Event) droppable() bool {
	return e.Kind == KindStats || e.Kind == KindHeartbeat
}
