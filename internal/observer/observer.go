// Package observer defines the typed channels through which one target
// execution reports raw signals back to the engine. Observers are reset
// before every run and read-only afterwards until the next run.
package observer

import "time"

type Observer interface {
	Name() string
	// Reset clears per-run state. Called by the executor before each run.
	Reset()
	// PostExec is called by the executor after the target finished, before
	// any feedback reads the observer.
	PostExec()
}

// Set is the fixed group of observers wired into one executor. The backing
// memory of each observer is shared with at most one execution at a time.
type Set struct {
	observers []Observer
	coverage  *Map
	timing    *Time
}

func NewSet(observers ...Observer) *Set {
	s := &Set{observers: observers}
	for _, o := range observers {
		switch t := o.(type) {
		case *Map:
			s.coverage = t
		case *Time:
			s.timing = t
		}
	}
	return s
}

func (s *Set) Reset() {
	for _, o := range s.observers {
		o.Reset()
	}
}

func (s *Set) PostExec() {
	for _, o := range s.observers {
		o.PostExec()
	}
}

// Coverage returns the map observer, or nil if the set has none.
func (s *Set) Coverage() *Map { return s.coverage }

// Timing returns the time observer, or nil if the set has none.
func (s *Set) Timing() *Time { return s.timing }

func (s *Set) All() []Observer { return s.observers }

// Time records the wall-clock duration of the last run. The executor calls
// Start/Stop around the target invocation.
type Time struct {
	start   time.Time
	elapsed time.Duration
}

func NewTime() *Time { return &Time{} }

func (t *Time) Name() string { return "time" }

func (t *Time) Reset() {
	t.start = time.Time{}
	t.elapsed = 0
}

func (t *Time) PostExec() {}

func (t *Time) Start() { t.start = time.Now() }

func (t *Time) Stop() {
	if !t.start.IsZero() {
		t.elapsed = time.Since(t.start)
	}
}

func (t *Time) Elapsed() time.Duration { return t.elapsed }
