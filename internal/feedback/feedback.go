// Package feedback turns raw observer output into an interestingness
// verdict against the campaign-wide history.
package feedback

import (
	"strconv"

	"swarmfuzz/internal/corpus"
	"swarmfuzz/internal/executor"
	"swarmfuzz/internal/observer"
)

type Feedback interface {
	// IsInteresting consumes post-run observer state and the run's exit
	// kind. A true verdict atomically claims the discovery in the
	// feedback's history: evaluating the same signals again returns false.
	IsInteresting(obs *observer.Set, res executor.Result) bool
	// AppendMetadata is called on the testcase about to be stored, only
	// after a true verdict.
	AppendMetadata(tc *corpus.Testcase)
}

// Any is the logical OR of its parts. Every part is evaluated even after a
// hit so that each history stays current.
type Any []Feedback

func (f Any) IsInteresting(obs *observer.Set, res executor.Result) bool {
	interesting := false
	for _, part := range f {
		if part.IsInteresting(obs, res) {
			interesting = true
		}
	}
	return interesting
}

func (f Any) AppendMetadata(tc *corpus.Testcase) {
	for _, part := range f {
		part.AppendMetadata(tc)
	}
}

// All is the logical AND of its parts, evaluated left to right with
// short-circuit: later parts never observe runs the earlier parts
// rejected.
type All []Feedback

func (f All) IsInteresting(obs *observer.Set, res executor.Result) bool {
	for _, part := range f {
		if !part.IsInteresting(obs, res) {
			return false
		}
	}
	return len(f) > 0
}

func (f All) AppendMetadata(tc *corpus.Testcase) {
	for _, part := range f {
		part.AppendMetadata(tc)
	}
}

// ExitKindFeedback is the objective building block: interesting exactly
// when the run ended in the configured kind. It keeps no history — every
// fault is worth recording.
type ExitKindFeedback struct {
	kind executor.ExitKind
}

func NewCrash() *ExitKindFeedback   { return &ExitKindFeedback{kind: executor.Crash} }
func NewTimeout() *ExitKindFeedback { return &ExitKindFeedback{kind: executor.Timeout} }
func NewOOM() *ExitKindFeedback     { return &ExitKindFeedback{kind: executor.OOM} }

func (f *ExitKindFeedback) IsInteresting(obs *observer.Set, res executor.Result) bool {
	return res.Kind == f.kind
}

func (f *ExitKindFeedback) AppendMetadata(tc *corpus.Testcase) {
	tc.SetMeta("exit_kind", f.kind.String())
}

// AnyFault is interesting for every non-Normal run; the concrete kind and
// signal land in the testcase metadata.
type AnyFault struct {
	last executor.Result
}

func NewAnyFault() *AnyFault { return &AnyFault{} }

func (f *AnyFault) IsInteresting(obs *observer.Set, res executor.Result) bool {
	if !res.Kind.IsFault() {
		return false
	}
	f.last = res
	return true
}

func (f *AnyFault) AppendMetadata(tc *corpus.Testcase) {
	tc.SetMeta("exit_kind", f.last.Kind.String())
	if f.last.Signal != 0 {
		tc.SetMeta("signal", strconv.Itoa(f.last.Signal))
	}
}
