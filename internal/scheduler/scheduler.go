// Package scheduler decides which corpus entry to mutate next. Policy is
// pluggable; both schedulers here guarantee that every live entry keeps a
// nonzero selection probability, so no input starves.
package scheduler

import (
	"errors"

	"swarmfuzz/internal/corpus"
	"swarmfuzz/internal/executor"
)

// ErrEmpty is returned by Next on an empty corpus.
var ErrEmpty = errors.New("scheduler: empty corpus")

// Outcome summarizes one evaluation of a mutant derived from a scheduled
// entry, fed back into the entry's weight.
type Outcome struct {
	Kind        executor.ExitKind
	Interesting bool
}

type Scheduler interface {
	// Next picks the id to mutate. Sub-linear in corpus size.
	Next() (corpus.ID, error)
	// OnAdd is the hook for a fresh corpus insertion.
	OnAdd(id corpus.ID, tc *corpus.Testcase)
	// OnEvaluation updates selection weights after one
	// mutate-execute-evaluate cycle on a mutant of id.
	OnEvaluation(id corpus.ID, out Outcome)
	// Remove drops the id from selection.
	Remove(id corpus.ID)
}

// Queue is plain round-robin: fair, stateless, and the baseline every
// power schedule is measured against.
type Queue struct {
	ids []corpus.ID
	pos int
}

func NewQueue() *Queue { return &Queue{} }

func (q *Queue) Next() (corpus.ID, error) {
	if len(q.ids) == 0 {
		return 0, ErrEmpty
	}
	id := q.ids[q.pos%len(q.ids)]
	q.pos++
	return id, nil
}

func (q *Queue) OnAdd(id corpus.ID, tc *corpus.Testcase) {
	q.ids = append(q.ids, id)
}

func (q *Queue) OnEvaluation(id corpus.ID, out Outcome) {}

func (q *Queue) Remove(id corpus.ID) {
	for i, o := range q.ids {
		if o == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			if q.pos > i {
				q.pos--
			}
			return
		}
	}
}
