// Package stage provides the pipeline units the fuzzer loop drives once
// per scheduled input.
package stage

import (
	"context"

	"swarmfuzz/internal/corpus"
	"swarmfuzz/internal/executor"
	"swarmfuzz/internal/fuzzer"
	"swarmfuzz/internal/mutator"
	"swarmfuzz/internal/scheduler"
)

const (
	baseEnergy = 16
	maxEnergy  = 512
)

// Mutational runs an adaptive number of mutate-execute-evaluate cycles on
// the scheduled input. Energy scales with the entry's scheduler weight, so
// promising inputs get more attempts per visit without starving the rest.
type Mutational struct {
	pool *mutator.Pool
}

func NewMutational(pool *mutator.Pool) *Mutational {
	if pool == nil {
		pool = mutator.Havoc()
	}
	return &Mutational{pool: pool}
}

func (s *Mutational) Name() string { return "mutational" }

func (s *Mutational) Perform(ctx context.Context, fz *fuzzer.Fuzzer, id corpus.ID) error {
	tc, err := fz.Testcase(id)
	if err != nil {
		return err
	}
	st := fz.State()
	energy := s.energy(tc)
	donor := fz.RandomCorpusInput

	for i := 0; i < energy; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		mutant := s.pool.Mutate(tc.Input, st.Rand, donor)
		interesting, res, err := fz.Evaluate(ctx, mutant, id, tc.Depth+1, false)
		if err != nil {
			return err
		}
		tc.Execs++
		fz.ReportOutcome(id, scheduler.Outcome{Kind: res.Kind, Interesting: interesting})
		if res.Kind == executor.Timeout {
			// A hanging lineage burns the time budget; stop working this
			// entry and let later stages skip it too.
			return fuzzer.ErrSkipRemaining
		}
	}
	return nil
}

// energy maps the scheduler weight into an attempt count. The weight sits
// in [1, 1000] with 10 as the default, so the base covers an average entry
// and hot entries get proportionally more.
func (s *Mutational) energy(tc *corpus.Testcase) int {
	w := tc.Score
	if w <= 0 {
		w = 1
	}
	e := int(float64(baseEnergy) * w / 10.0)
	if e < 1 {
		e = 1
	}
	if e > maxEnergy {
		e = maxEnergy
	}
	return e
}
