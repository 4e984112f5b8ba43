package fuzzer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"swarmfuzz/internal/corpus"
	"swarmfuzz/internal/events"
	"swarmfuzz/internal/executor"
	"swarmfuzz/internal/feedback"
	"swarmfuzz/internal/scheduler"
)

// ErrSkipRemaining is returned by a stage to stop the rest of the pipeline
// for the current scheduled input, e.g. after a disqualifying exit kind.
var ErrSkipRemaining = errors.New("fuzzer: skip remaining stages")

// Stage is one bounded unit of mutate-execute-evaluate work per scheduled
// input. Stages run in pipeline order once per iteration.
type Stage interface {
	Name() string
	Perform(ctx context.Context, fz *Fuzzer, id corpus.ID) error
}

// Fuzzer owns one State and the injected capabilities around it. Swapping
// an instrumentation backend means swapping the executor; the loop does
// not change.
type Fuzzer struct {
	logger    *zap.Logger
	state     *State
	exec      executor.Executor
	sched     scheduler.Scheduler
	feedback  feedback.Feedback
	objective feedback.Feedback
	history   *feedback.MapFeedback
	stages    []Stage

	bus        events.Bus      // optional
	archive    *corpus.Archive // optional
	candidates <-chan []byte   // optional external seed source
	checkpoint *Checkpointer   // optional

	statsEvery time.Duration
	lastStats  time.Time
	lastBeat   time.Time
	stopped    bool
}

type Options struct {
	Logger     *zap.Logger
	State      *State
	Executor   executor.Executor
	Scheduler  scheduler.Scheduler
	Feedback   feedback.Feedback
	Objective  feedback.Feedback
	History    *feedback.MapFeedback
	Stages     []Stage
	Bus        events.Bus
	Archive    *corpus.Archive
	Candidates <-chan []byte
	Checkpoint *Checkpointer
	StatsEvery time.Duration
}

func New(opts Options) (*Fuzzer, error) {
	if opts.State == nil || opts.Executor == nil || opts.Scheduler == nil {
		return nil, errors.New("fuzzer: state, executor and scheduler are required")
	}
	if opts.Feedback == nil || opts.Objective == nil {
		return nil, errors.New("fuzzer: feedback and objective are required")
	}
	if len(opts.Stages) == 0 {
		return nil, errors.New("fuzzer: at least one stage is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.StatsEvery <= 0 {
		opts.StatsEvery = 10 * time.Second
	}
	return &Fuzzer{
		logger:     opts.Logger.Named("fuzzer"),
		state:      opts.State,
		exec:       opts.Executor,
		sched:      opts.Scheduler,
		feedback:   opts.Feedback,
		objective:  opts.Objective,
		history:    opts.History,
		stages:     opts.Stages,
		bus:        opts.Bus,
		archive:    opts.Archive,
		candidates: opts.Candidates,
		checkpoint: opts.Checkpoint,
		statsEvery: opts.StatsEvery,
	}, nil
}

func (f *Fuzzer) State() *State { return f.state }

// AddSeed evaluates an input as a corpus candidate outside any stage:
// initial seeds, imported files, and peer discoveries all enter here so
// that exactly one gate (the feedback history) decides corpus growth.
func (f *Fuzzer) AddSeed(ctx context.Context, input []byte) error {
	_, _, err := f.Evaluate(ctx, input, 0, 0, false)
	return err
}

// Evaluate runs one input and folds the outcome into the state. Faults go
// to the solutions corpus, new coverage to the main corpus; either way the
// discovery is announced on the bus. fromPeer suppresses re-announcing
// inputs that arrived over the bus.
func (f *Fuzzer) Evaluate(ctx context.Context, input []byte, parent corpus.ID, depth int, fromPeer bool) (bool, executor.Result, error) {
	res, err := f.exec.Run(ctx, input)
	if err != nil {
		return false, executor.Result{}, err
	}
	f.state.Execs++
	f.maybeHeartbeat()

	obs := f.exec.Observers()
	if res.Kind.IsFault() {
		if !f.objective.IsInteresting(obs, res) {
			return false, res, nil
		}
		tc := corpus.NewTestcase(input)
		tc.Parent = parent
		tc.Depth = depth
		f.objective.AppendMetadata(tc)
		if _, err := f.state.Solutions.Add(tc); err != nil {
			return false, res, err
		}
		f.state.LastFind = time.Now()
		f.logger.Info("solution found",
			zap.String("kind", res.Kind.String()),
			zap.String("sig", tc.Sig.String()),
			zap.Int("size", len(input)))
		if f.archive != nil {
			f.archive.Record(tc.Sig, res.Kind.String(), "", len(input))
		}
		if f.bus != nil && !fromPeer {
			f.publish(events.ObjectiveEvent(input, tc.Sig.String(), res.Kind.String()))
		}
		return true, res, nil
	}

	if !f.feedback.IsInteresting(obs, res) {
		return false, res, nil
	}
	tc := corpus.NewTestcase(input)
	tc.Parent = parent
	tc.Depth = depth
	if t := obs.Timing(); t != nil {
		tc.ExecTime = t.Elapsed()
	}
	f.feedback.AppendMetadata(tc)
	id, err := f.state.Corpus.Add(tc)
	if err != nil {
		return false, res, err
	}
	f.sched.OnAdd(id, tc)
	f.state.LastFind = time.Now()
	f.logger.Debug("new testcase",
		zap.Uint64("id", uint64(id)),
		zap.Int("size", len(input)),
		zap.Int("cover", tc.CoverSize))
	if f.bus != nil && !fromPeer {
		f.publish(events.NewTestcaseEvent(input, tc.Sig.String()))
	}
	return true, res, nil
}

// Run drives the loop until ctx is done, a Stop event arrives, or budget
// iterations completed (0 means unbounded). A final checkpoint is taken on
// the way out.
func (f *Fuzzer) Run(ctx context.Context, budget uint64) error {
	f.logger.Info("fuzzing loop starting", zap.String("client", f.state.ClientID))
	for !f.stopped {
		if ctx.Err() != nil {
			break
		}
		if budget > 0 && f.state.Iterations >= budget {
			break
		}
		f.state.Iterations++

		f.drainBus(ctx)
		f.drainCandidates(ctx)

		id, err := f.sched.Next()
		if errors.Is(err, scheduler.ErrEmpty) {
			// Bootstrap: with nothing scheduled yet the empty input is the
			// canonical first seed.
			if err := f.AddSeed(ctx, nil); err != nil && ctx.Err() == nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		for _, st := range f.stages {
			err := st.Perform(ctx, f, id)
			if errors.Is(err, ErrSkipRemaining) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				return err
			}
		}
		f.housekeeping()
	}
	f.finalCheckpoint()
	f.logger.Info("fuzzing loop stopped",
		zap.Uint64("iterations", f.state.Iterations),
		zap.Uint64("execs", f.state.Execs))
	return ctx.Err()
}

// drainBus ingests pending peer events, non-blocking. Peer discoveries go
// through the same feedback gate as local ones, so replays and races
// across clients are harmless.
func (f *Fuzzer) drainBus(ctx context.Context) {
	if f.bus == nil {
		return
	}
	for {
		ev, ok := f.bus.Poll()
		if !ok {
			return
		}
		switch ev.Kind {
		case events.KindStop:
			f.logger.Info("stop event received")
			f.stopped = true
			return
		case events.KindNewTestcase, events.KindObjective:
			if _, _, err := f.Evaluate(ctx, ev.Input, 0, 0, true); err != nil && ctx.Err() == nil {
				f.logger.Warn("failed to evaluate peer input", zap.Error(err))
			}
		}
	}
}

func (f *Fuzzer) drainCandidates(ctx context.Context) {
	if f.candidates == nil {
		return
	}
	for {
		select {
		case input, ok := <-f.candidates:
			if !ok {
				f.candidates = nil
				return
			}
			if err := f.AddSeed(ctx, input); err != nil && ctx.Err() == nil {
				f.logger.Warn("failed to evaluate imported seed", zap.Error(err))
			}
		default:
			return
		}
	}
}

// maybeHeartbeat keeps the broker's liveness tracking fed. It runs on
// every execution rather than once per loop iteration: a high-energy
// stage can take longer than the broker's reap timeout, and a busy
// client must not read as dead.
func (f *Fuzzer) maybeHeartbeat() {
	if f.bus == nil {
		return
	}
	if now := time.Now(); now.Sub(f.lastBeat) >= events.HeartbeatPeriod {
		f.lastBeat = now
		f.publish(&events.Event{Kind: events.KindHeartbeat})
	}
}

func (f *Fuzzer) housekeeping() {
	f.maybeHeartbeat()
	now := time.Now()
	if now.Sub(f.lastStats) >= f.statsEvery {
		f.lastStats = now
		f.reportStats()
	}
	if f.checkpoint != nil && f.checkpoint.Due(now) {
		if err := f.checkpoint.Save(f.state, f.history); err != nil {
			// Recoverable: skip this checkpoint, keep fuzzing.
			f.logger.Warn("checkpoint failed", zap.Error(err))
		}
	}
}

func (f *Fuzzer) reportStats() {
	stats := &events.Stats{
		Execs:       f.state.Execs,
		ExecsPerSec: f.state.ExecsPerSec(),
		Corpus:      f.state.Corpus.Count(),
		Solutions:   f.state.Solutions.Count(),
	}
	if f.history != nil {
		stats.EdgesSeen = f.history.EdgesSeen()
	}
	f.logger.Info("stats",
		zap.Uint64("execs", stats.Execs),
		zap.Float64("execs_per_sec", stats.ExecsPerSec),
		zap.Int("corpus", stats.Corpus),
		zap.Int("solutions", stats.Solutions),
		zap.Int("edges_seen", stats.EdgesSeen))
	if f.bus != nil {
		f.publish(&events.Event{Kind: events.KindStats, Stats: stats})
	}
}

func (f *Fuzzer) finalCheckpoint() {
	if f.checkpoint == nil {
		return
	}
	if err := f.checkpoint.Save(f.state, f.history); err != nil {
		f.logger.Warn("final checkpoint failed", zap.Error(err))
	}
}

func (f *Fuzzer) publish(ev *events.Event) {
	if err := f.bus.Publish(ev); err != nil {
		f.logger.Warn("bus publish failed", zap.Error(err))
	}
}

// Executor exposes the injected executor to stages that need extra runs,
// e.g. calibration.
func (f *Fuzzer) Executor() executor.Executor { return f.exec }

// Testcase fetches a scheduled entry for a stage.
func (f *Fuzzer) Testcase(id corpus.ID) (*corpus.Testcase, error) {
	return f.state.Corpus.Get(id)
}

// ReportOutcome feeds one evaluation result back into the scheduler's
// weights.
func (f *Fuzzer) ReportOutcome(id corpus.ID, out scheduler.Outcome) {
	f.sched.OnEvaluation(id, out)
}

// RandomCorpusInput returns a random corpus input for splicing mutators,
// or nil when the corpus is empty.
func (f *Fuzzer) RandomCorpusInput() []byte {
	ids := f.state.Corpus.IDs()
	if len(ids) == 0 {
		return nil
	}
	tc, err := f.state.Corpus.Get(ids[f.state.Rand.Intn(len(ids))])
	if err != nil {
		return nil
	}
	return tc.Input
}
