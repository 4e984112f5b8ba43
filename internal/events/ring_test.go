package events

import (
	"sync"
	"testing"
)

func TestRingFIFO(t *testing.T) {
	r := NewRing(8)
	for i := 0; i < 5; i++ {
		if !r.Push(&Event{Seq: uint64(i)}) {
			t.Fatalf("push %d failed on non-full ring", i)
		}
	}
	for i := 0; i < 5; i++ {
		ev, ok := r.Pop()
		if !ok {
			t.Fatalf("pop %d failed", i)
		}
		if ev.Seq != uint64(i) {
			t.Fatalf("pop %d returned seq %d", i, ev.Seq)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("pop on empty ring succeeded")
	}
}

func TestRingFullNeverBlocks(t *testing.T) {
	r := NewRing(4)
	for i := 0; i < r.Cap(); i++ {
		if !r.Push(&Event{}) {
			t.Fatalf("push %d failed below capacity", i)
		}
	}
	if r.Push(&Event{}) {
		t.Fatal("push succeeded on full ring")
	}
	r.Pop()
	if !r.Push(&Event{}) {
		t.Fatal("push failed after a pop freed a slot")
	}
}

func TestRingCapacityRounding(t *testing.T) {
	if got := NewRing(5).Cap(); got != 8 {
		t.Fatalf("Cap() = %d, want 8", got)
	}
	if got := NewRing(8).Cap(); got != 8 {
		t.Fatalf("Cap() = %d, want 8", got)
	}
}

func TestRingSPSC(t *testing.T) {
	r := NewRing(64)
	const total = 100000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if r.Push(&Event{Seq: uint64(i)}) {
				i++
			}
		}
	}()

	next := uint64(0)
	for next < total {
		ev, ok := r.Pop()
		if !ok {
			continue
		}
		if ev.Seq != next {
			t.Fatalf("out of order: got %d, want %d", ev.Seq, next)
		}
		next++
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("Len = %d after drain", r.Len())
	}
}
