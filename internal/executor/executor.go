// Package executor runs the target once per input under the observer set.
// Target faults are data, not errors: every run ends in an ExitKind and the
// engine process keeps going.
package executor

import (
	"context"
	"fmt"

	"swarmfuzz/internal/observer"
)

// ExitKind classifies one target run.
type ExitKind int

const (
	Normal ExitKind = iota
	Crash
	Timeout
	OOM
)

func (k ExitKind) String() string {
	switch k {
	case Normal:
		return "normal"
	case Crash:
		return "crash"
	case Timeout:
		return "timeout"
	case OOM:
		return "oom"
	}
	return fmt.Sprintf("exitkind(%d)", int(k))
}

// IsFault reports whether the run should be routed to the solutions corpus.
func (k ExitKind) IsFault() bool { return k != Normal }

// Result carries the ExitKind plus the faulting signal when there is one.
type Result struct {
	Kind   ExitKind
	Signal int // crash signal number, 0 otherwise
}

// Executor runs the target once. Implementations own the observer set:
// they reset it before the run and fire PostExec after, so callers always
// read post-run observer state. The returned error is reserved for
// infrastructure failures (cannot spawn, pipe broken); target faults come
// back inside the Result.
type Executor interface {
	Run(ctx context.Context, input []byte) (Result, error)
	Observers() *observer.Set
}

// Harness is an in-process target: it consumes the input and writes edge
// hits into the coverage memory it was constructed over. A panic counts as
// a crash.
type Harness func(input []byte)

// InProcess executes a harness function directly, trading isolation for
// throughput. Only safe for targets known not to corrupt engine memory.
type InProcess struct {
	harness   Harness
	observers *observer.Set
}

func NewInProcess(harness Harness, observers *observer.Set) *InProcess {
	return &InProcess{harness: harness, observers: observers}
}

func (e *InProcess) Observers() *observer.Set { return e.observers }

func (e *InProcess) Run(ctx context.Context, input []byte) (res Result, err error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	e.observers.Reset()
	if t := e.observers.Timing(); t != nil {
		t.Start()
	}
	res = e.invoke(input)
	if t := e.observers.Timing(); t != nil {
		t.Stop()
	}
	e.observers.PostExec()
	return res, nil
}

func (e *InProcess) invoke(input []byte) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Kind: Crash}
		}
	}()
	e.harness(input)
	return Result{Kind: Normal}
}
