package executor

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"swarmfuzz/internal/observer"
)

func TestInProcessNormal(t *testing.T) {
	m := observer.NewMap("edges", 8)
	var got []byte
	e := NewInProcess(func(input []byte) {
		got = append([]byte(nil), input...)
		m.Mem()[0]++
	}, observer.NewSet(m, observer.NewTime()))

	res, err := e.Run(context.Background(), []byte("input"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != Normal {
		t.Fatalf("Kind = %s, want normal", res.Kind)
	}
	if string(got) != "input" {
		t.Fatalf("harness saw %q", got)
	}
	if m.CountNonZero() != 1 {
		t.Fatal("coverage not recorded")
	}
}

func TestInProcessResetsBetweenRuns(t *testing.T) {
	m := observer.NewMap("edges", 8)
	e := NewInProcess(func(input []byte) {
		if len(input) > 0 {
			m.Mem()[1] = 1
		}
	}, observer.NewSet(m))

	e.Run(context.Background(), []byte("x"))
	e.Run(context.Background(), nil)
	if m.CountNonZero() != 0 {
		t.Fatal("previous run's coverage leaked into the next")
	}
}

func TestInProcessPanicIsCrash(t *testing.T) {
	e := NewInProcess(func(input []byte) {
		panic("target bug")
	}, observer.NewSet(observer.NewMap("edges", 8)))

	res, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("panic surfaced as engine error: %v", err)
	}
	if res.Kind != Crash {
		t.Fatalf("Kind = %s, want crash", res.Kind)
	}
	// The engine must survive the crash and run again.
	if _, err := e.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
}

func TestInProcessCancelledContext(t *testing.T) {
	e := NewInProcess(func(input []byte) {}, observer.NewSet())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Run(ctx, nil); err == nil {
		t.Fatal("cancelled context not surfaced")
	}
}

func TestExitKindStrings(t *testing.T) {
	cases := map[ExitKind]string{Normal: "normal", Crash: "crash", Timeout: "timeout", OOM: "oom"}
	for k, want := range cases {
		if k.String() != want {
			t.Fatalf("%d.String() = %q, want %q", int(k), k.String(), want)
		}
	}
	if Normal.IsFault() {
		t.Fatal("normal classified as fault")
	}
	for _, k := range []ExitKind{Crash, Timeout, OOM} {
		if !k.IsFault() {
			t.Fatalf("%s not classified as fault", k)
		}
	}
}

func newTestFork(t *testing.T, argv []string, timeout time.Duration) *Fork {
	t.Helper()
	e, err := NewFork(argv, timeout, 64, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestForkNormalExit(t *testing.T) {
	e := newTestFork(t, []string{"/bin/sh", "-c", "cat >/dev/null"}, 5*time.Second)
	res, err := e.Run(context.Background(), []byte("stdin payload"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != Normal {
		t.Fatalf("Kind = %s, want normal", res.Kind)
	}
	if e.Observers().Timing().Elapsed() <= 0 {
		t.Fatal("timing not recorded")
	}
}

func TestForkSignalIsCrash(t *testing.T) {
	e := newTestFork(t, []string{"/bin/sh", "-c", "kill -SEGV $$"}, 5*time.Second)
	res, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != Crash {
		t.Fatalf("Kind = %s, want crash", res.Kind)
	}
	if res.Signal == 0 {
		t.Fatal("crash signal not recorded")
	}
	// Next run starts clean.
	if _, err := e.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
}

func TestForkNonzeroExitIsCrash(t *testing.T) {
	e := newTestFork(t, []string{"/bin/sh", "-c", "exit 3"}, 5*time.Second)
	res, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != Crash {
		t.Fatalf("Kind = %s, want crash", res.Kind)
	}
}

func TestForkSigkillIsOOM(t *testing.T) {
	e := newTestFork(t, []string{"/bin/sh", "-c", "kill -KILL $$"}, 5*time.Second)
	res, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != OOM {
		t.Fatalf("Kind = %s, want oom", res.Kind)
	}
}

func TestForkTimeout(t *testing.T) {
	e := newTestFork(t, []string{"/bin/sh", "-c", "sleep 10"}, 100*time.Millisecond)
	start := time.Now()
	res, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != Timeout {
		t.Fatalf("Kind = %s, want timeout", res.Kind)
	}
	// A hang must be reaped promptly, not merely eventually: allow the
	// 100ms budget plus grace for spawn and signal delivery.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("hang not reaped for %v", elapsed)
	}
}

func TestForkCancelIsNotAFault(t *testing.T) {
	e := newTestFork(t, []string{"/bin/sh", "-c", "sleep 10"}, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if _, err := e.Run(ctx, nil); err == nil {
		t.Fatal("engine shutdown decoded as a target result")
	}
}

func TestForkEmptyArgv(t *testing.T) {
	if _, err := NewFork(nil, time.Second, 0, nil, zap.NewNop()); err == nil {
		t.Fatal("empty argv accepted")
	}
}
