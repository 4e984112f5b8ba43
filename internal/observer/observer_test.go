package observer

import (
	"testing"
	"time"
)

func TestSetTypedAccess(t *testing.T) {
	m := NewMap("edges", 64)
	tm := NewTime()
	s := NewSet(m, tm)
	if s.Coverage() != m {
		t.Fatal("Coverage() did not return the map observer")
	}
	if s.Timing() != tm {
		t.Fatal("Timing() did not return the time observer")
	}
	if len(s.All()) != 2 {
		t.Fatalf("All() = %d observers", len(s.All()))
	}
	if empty := NewSet(); empty.Coverage() != nil || empty.Timing() != nil {
		t.Fatal("empty set reported observers")
	}
}

func TestMapResetAndCount(t *testing.T) {
	m := NewMap("edges", 8)
	mem := m.Mem()
	mem[0] = 3
	mem[7] = 1
	if m.CountNonZero() != 2 {
		t.Fatalf("CountNonZero = %d, want 2", m.CountNonZero())
	}
	snap := m.Snapshot()
	m.Reset()
	if m.CountNonZero() != 0 {
		t.Fatal("Reset left counters behind")
	}
	if snap[0] != 3 || snap[7] != 1 {
		t.Fatal("Snapshot aliased the live memory")
	}
}

func TestMapDefaultSize(t *testing.T) {
	if m := NewMap("edges", 0); m.Len() != DefaultMapSize {
		t.Fatalf("Len = %d, want %d", m.Len(), DefaultMapSize)
	}
}

func TestTimeObserver(t *testing.T) {
	tm := NewTime()
	tm.Start()
	time.Sleep(time.Millisecond)
	tm.Stop()
	if tm.Elapsed() <= 0 {
		t.Fatal("Elapsed not recorded")
	}
	tm.Reset()
	if tm.Elapsed() != 0 {
		t.Fatal("Reset kept old elapsed")
	}
	// Stop without Start is a no-op, not a bogus huge duration.
	tm.Stop()
	if tm.Elapsed() != 0 {
		t.Fatal("Stop without Start recorded time")
	}
}
