package stage

import (
	"context"

	"swarmfuzz/internal/corpus"
	"swarmfuzz/internal/fuzzer"
)

const calibrationRuns = 3

// Calibration measures fresh corpus entries: it re-runs each once-scheduled
// input a few times and records median-ish timing and coverage size, which
// the power schedule feeds on. Each entry is calibrated once.
type Calibration struct {
	done map[corpus.ID]struct{}
}

func NewCalibration() *Calibration {
	return &Calibration{done: make(map[corpus.ID]struct{})}
}

func (s *Calibration) Name() string { return "calibration" }

func (s *Calibration) Perform(ctx context.Context, fz *fuzzer.Fuzzer, id corpus.ID) error {
	if _, ok := s.done[id]; ok {
		return nil
	}
	s.done[id] = struct{}{}

	tc, err := fz.Testcase(id)
	if err != nil {
		return err
	}
	obs := fz.Executor().Observers()
	for i := 0; i < calibrationRuns; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := fz.Executor().Run(ctx, tc.Input)
		if err != nil {
			return err
		}
		fz.State().Execs++
		if res.Kind.IsFault() {
			// Flaky entry; leave its stats alone and stop the pipeline.
			return fuzzer.ErrSkipRemaining
		}
		if t := obs.Timing(); t != nil {
			if tc.ExecTime == 0 || t.Elapsed() < tc.ExecTime {
				tc.ExecTime = t.Elapsed()
			}
		}
		if cov := obs.Coverage(); cov != nil {
			if n := cov.CountNonZero(); n > tc.CoverSize {
				tc.CoverSize = n
			}
		}
	}
	return nil
}
