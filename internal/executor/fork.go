package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"swarmfuzz/internal/observer"
)

// CoverFileEnv names the file an instrumented child maps to publish its
// edge counters. The file shape is fixed at executor construction and
// identical for every backend.
const CoverFileEnv = "SWARMFUZZ_COVER_FILE"

// Fork spawns the target argv once per run with the input on stdin. The
// coverage map is a file mmapped into both the engine and, by convention,
// the instrumented child. A child crash or hang never takes the engine
// down; it is decoded into an ExitKind and the next run starts from a
// clean slate.
type Fork struct {
	argv      []string
	timeout   time.Duration
	observers *observer.Set
	logger    *zap.Logger

	coverFile string
	coverMem  []byte
}

// NewFork sets up the shared coverage region once for the executor
// lifetime and wires a map observer over it into the observer set.
func NewFork(argv []string, timeout time.Duration, mapSize int, extra []observer.Observer, logger *zap.Logger) (*Fork, error) {
	if len(argv) == 0 {
		return nil, errors.New("executor: empty target argv")
	}
	if mapSize <= 0 {
		mapSize = observer.DefaultMapSize
	}
	f, err := os.CreateTemp("", "swarmfuzz-cover-*")
	if err != nil {
		return nil, fmt.Errorf("executor: create cover file: %w", err)
	}
	if err := f.Truncate(int64(mapSize)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("executor: size cover file: %w", err)
	}
	mem, err := syscall.Mmap(int(f.Fd()), 0, mapSize, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("executor: mmap cover file: %w", err)
	}
	name := f.Name()
	f.Close()

	obs := []observer.Observer{observer.NewMapFromMem("edges", mem), observer.NewTime()}
	obs = append(obs, extra...)
	return &Fork{
		argv:      argv,
		timeout:   timeout,
		observers: observer.NewSet(obs...),
		logger:    logger.Named("executor"),
		coverFile: name,
		coverMem:  mem,
	}, nil
}

func (e *Fork) Observers() *observer.Set { return e.observers }

func (e *Fork) Run(ctx context.Context, input []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	e.observers.Reset()

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.argv[0], e.argv[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = append(os.Environ(), CoverFileEnv+"="+e.coverFile)
	// Child gets its own process group so a timeout kill reaps any
	// grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	if t := e.observers.Timing(); t != nil {
		t.Start()
	}
	runErr := cmd.Run()
	if t := e.observers.Timing(); t != nil {
		t.Stop()
	}
	e.observers.PostExec()

	res, err := e.decode(runCtx, runErr, cmd)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (e *Fork) decode(runCtx context.Context, runErr error, cmd *exec.Cmd) (Result, error) {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return Result{Kind: Timeout}, nil
	}
	if errors.Is(runCtx.Err(), context.Canceled) {
		// Shutdown, not a target fault.
		return Result{}, runCtx.Err()
	}
	if runErr == nil {
		return Result{Kind: Normal}, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		// Spawn failure, broken pipe and friends: the engine's problem,
		// not the target's.
		return Result{}, fmt.Errorf("executor: run target: %w", runErr)
	}
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if ok && ws.Signaled() {
		sig := ws.Signal()
		if sig == syscall.SIGKILL {
			// Killed from outside the run without the deadline firing:
			// the kernel OOM killer is the usual suspect.
			return Result{Kind: OOM, Signal: int(sig)}, nil
		}
		return Result{Kind: Crash, Signal: int(sig)}, nil
	}
	// Nonzero exit. Sanitizer runtimes abort with a nonzero code rather
	// than a signal, so treat it as a crash.
	e.logger.Debug("target exited nonzero", zap.Int("code", exitErr.ExitCode()))
	return Result{Kind: Crash}, nil
}

// Close unmaps and removes the shared coverage file.
func (e *Fork) Close() error {
	var first error
	if e.coverMem != nil {
		if err := syscall.Munmap(e.coverMem); err != nil && first == nil {
			first = err
		}
		e.coverMem = nil
	}
	if e.coverFile != "" {
		if err := os.Remove(e.coverFile); err != nil && first == nil {
			first = err
		}
		e.coverFile = ""
	}
	return first
}
