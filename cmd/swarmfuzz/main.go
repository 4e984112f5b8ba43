package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"swarmfuzz/config"
	"swarmfuzz/internal/corpus"
	"swarmfuzz/internal/events"
	"swarmfuzz/internal/executor"
	"swarmfuzz/internal/feedback"
	"swarmfuzz/internal/fuzzer"
	"swarmfuzz/internal/mutator"
	"swarmfuzz/internal/scheduler"
	"swarmfuzz/internal/seeds"
	"swarmfuzz/internal/stage"
	"swarmfuzz/pkg/database"
	"swarmfuzz/pkg/logger"
	"swarmfuzz/pkg/telemetry"
)

type nodeParams struct {
	fx.In

	Lc        fx.Lifecycle
	Shutdown  fx.Shutdowner
	AppConfig *config.AppConfig
	Logger    *zap.Logger
	Tracer    telemetry.CampaignTracer
	DB        *gorm.DB `optional:"true"`
}

// newNode assembles one fuzzing node: executor and observers from the
// campaign profile, feedback and scheduler over a fresh or restored state,
// and the bus link when a broker address is configured. Any wiring problem
// here is a configuration error and aborts startup.
func newNode(p nodeParams) (*fuzzer.Fuzzer, error) {
	cfg := p.AppConfig
	if cfg.ProfilePath == "" {
		return nil, errors.New("PROFILE is required for a fuzzing node")
	}
	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return nil, err
	}

	nodeCtx, cancel := context.WithCancel(context.Background())

	clientID := events.NewClientID()
	exec, err := executor.NewFork(profile.Target.Argv, profile.Target.Timeout, profile.Target.MapSize, nil, p.Logger)
	if err != nil {
		cancel()
		return nil, err
	}

	history := feedback.NewMap(exec.Observers().Coverage().Len())
	objective := feedback.NewAnyFault()

	solutions, err := corpus.NewDisk(corpus.NewInMemory(), filepath.Join(cfg.DataDir, "solutions"))
	if err != nil {
		cancel()
		return nil, err
	}

	seed := profile.Fuzz.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	state := fuzzer.NewState(seed, solutions, clientID)
	sched := scheduler.NewPower(state.Corpus, state.Rand)

	ckpt := fuzzer.NewCheckpointer(filepath.Join(cfg.DataDir, "checkpoint.json"), cfg.CheckpointInterval, p.Logger)
	err = ckpt.Restore(state, history, func(id corpus.ID, tc *corpus.Testcase) {
		sched.OnAdd(id, tc)
	})
	if errors.Is(err, fuzzer.ErrCorruptCheckpoint) {
		p.Logger.Warn("checkpoint unusable, starting from a fresh corpus", zap.Error(err))
	} else if err != nil {
		cancel()
		return nil, err
	}

	var bus events.Bus
	if cfg.BrokerAddr != "" {
		remote, err := events.DialBroker(cfg.BrokerAddr, clientID, p.Logger)
		if err != nil {
			cancel()
			return nil, err
		}
		bus = remote
		p.Lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
			remote.Close()
			return nil
		}})
	}

	var archive *corpus.Archive
	if p.DB != nil {
		archive = corpus.NewArchive(p.DB, p.Logger, cfg.Campaign, clientID)
		p.Lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
			archive.Close()
			return nil
		}})
	}

	var candidates <-chan []byte
	if cfg.SeedDir != "" {
		importer, err := seeds.NewImporter(nodeCtx, cfg.SeedDir, p.Logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("seed importer: %w", err)
		}
		candidates = importer.Candidates()
		// Runs after the fuzzer hook below has cancelled nodeCtx.
		p.Lc.Append(fx.Hook{OnStop: func(context.Context) error {
			importer.Wait()
			return nil
		}})
	}

	pool := mutator.Havoc()
	if profile.Fuzz.MaxStack > 0 {
		pool = mutator.NewPool(profile.Fuzz.MaxStack,
			mutator.Weighted{Mutator: mutator.BitFlip(), Weight: 1},
			mutator.Weighted{Mutator: mutator.ByteSet(), Weight: 1},
			mutator.Weighted{Mutator: mutator.ByteInsert(), Weight: 1},
			mutator.Weighted{Mutator: mutator.ByteRemove(), Weight: 1},
			mutator.Weighted{Mutator: mutator.RangeRemove(), Weight: 0.5},
			mutator.Weighted{Mutator: mutator.RangeDuplicate(), Weight: 0.5},
			mutator.Weighted{Mutator: mutator.Splice(), Weight: 0.25},
		)
	}

	fz, err := fuzzer.New(fuzzer.Options{
		Logger:     p.Logger,
		State:      state,
		Executor:   exec,
		Scheduler:  sched,
		Feedback:   history,
		Objective:  objective,
		History:    history,
		Stages:     []fuzzer.Stage{stage.NewCalibration(), stage.NewMutational(pool)},
		Bus:        bus,
		Archive:    archive,
		Candidates: candidates,
		Checkpoint: ckpt,
		StatsEvery: cfg.StatsInterval,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	done := make(chan struct{})
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			spanCtx := p.Tracer.Start(nodeCtx, "swarmfuzz campaign")
			go func() {
				defer close(done)
				if err := fz.Run(spanCtx, profile.Fuzz.Iterations); err != nil && !errors.Is(err, context.Canceled) {
					p.Logger.Error("fuzzing loop failed", zap.Error(err))
				}
				p.Shutdown.Shutdown()
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			st := fz.State()
			p.Tracer.SetAttributes(
				attribute.Int64("swarmfuzz.execs", int64(st.Execs)),
				attribute.Int("swarmfuzz.corpus", st.Corpus.Count()),
				attribute.Int("swarmfuzz.solutions", st.Solutions.Count()),
			)
			p.Tracer.End()
			return exec.Close()
		},
	})

	return fz, nil
}

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,           // inject config
			database.NewDBConnection,    // inject findings db (optional)
			logger.NewLogger,            // inject logger
			telemetry.NewTelemetry,      // inject telemetry
			telemetry.NewCampaignTracer, // inject campaign tracer
			newNode,                     // inject the fuzzing node
		),
		fx.Invoke(func(fz *fuzzer.Fuzzer) {}),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	app.Run()
}
