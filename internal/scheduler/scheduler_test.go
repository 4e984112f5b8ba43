package scheduler

import (
	"errors"
	"testing"
	"time"

	"swarmfuzz/internal/corpus"
	"swarmfuzz/internal/rng"
)

func TestQueueRoundRobin(t *testing.T) {
	q := NewQueue()
	if _, err := q.Next(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("empty queue: got %v, want ErrEmpty", err)
	}
	for i := 0; i < 3; i++ {
		q.OnAdd(corpus.ID(i), corpus.NewTestcase(nil))
	}
	got := make([]corpus.ID, 6)
	for i := range got {
		id, err := q.Next()
		if err != nil {
			t.Fatal(err)
		}
		got[i] = id
	}
	want := []corpus.ID{0, 1, 2, 0, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pick %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 3; i++ {
		q.OnAdd(corpus.ID(i), corpus.NewTestcase(nil))
	}
	q.Remove(1)
	seen := map[corpus.ID]bool{}
	for i := 0; i < 10; i++ {
		id, _ := q.Next()
		seen[id] = true
	}
	if seen[1] {
		t.Fatal("removed id still scheduled")
	}
	if !seen[0] || !seen[2] {
		t.Fatal("surviving ids not scheduled")
	}
}

func TestPowerEveryEntrySelectable(t *testing.T) {
	store := corpus.NewInMemory()
	p := NewPower(store, rng.New(1))

	const entries = 16
	for i := 0; i < entries; i++ {
		tc := corpus.NewTestcase(make([]byte, 8))
		id, _ := store.Add(tc)
		p.OnAdd(id, tc)
	}
	seen := map[corpus.ID]bool{}
	for i := 0; i < 20000; i++ {
		id, err := p.Next()
		if err != nil {
			t.Fatal(err)
		}
		seen[id] = true
	}
	if len(seen) != entries {
		t.Fatalf("only %d of %d entries ever selected", len(seen), entries)
	}
}

func TestPowerFavorsHigherScores(t *testing.T) {
	store := corpus.NewInMemory()
	p := NewPower(store, rng.New(2))

	// A small, distinctive, fast, deep entry scores far above a huge slow
	// shallow one.
	hot := corpus.NewTestcase(make([]byte, 8))
	hot.CoverSize = 300
	hot.ExecTime = 100 * time.Microsecond
	hot.Depth = 50
	cold := corpus.NewTestcase(make([]byte, 8000))
	cold.CoverSize = 1
	cold.ExecTime = time.Second

	hotID, _ := store.Add(hot)
	p.OnAdd(hotID, hot)
	coldID, _ := store.Add(cold)
	p.OnAdd(coldID, cold)

	counts := map[corpus.ID]int{}
	for i := 0; i < 10000; i++ {
		id, _ := p.Next()
		counts[id]++
	}
	if counts[hotID] <= counts[coldID] {
		t.Fatalf("hot entry picked %d times, cold %d", counts[hotID], counts[coldID])
	}
	if counts[coldID] == 0 {
		t.Fatal("fairness floor violated: cold entry starved")
	}
}

func TestPowerRescoresAfterDiscovery(t *testing.T) {
	store := corpus.NewInMemory()
	p := NewPower(store, rng.New(3))

	tc := corpus.NewTestcase(make([]byte, 8))
	id, _ := store.Add(tc)
	p.OnAdd(id, tc)
	before := p.Weight(id)

	// Calibration filled in distinctive coverage; a discovery outcome
	// triggers the lazy rescore on the next pick.
	tc.CoverSize = 300
	tc.Depth = 50
	p.OnEvaluation(id, Outcome{Interesting: true})
	if _, err := p.Next(); err != nil {
		t.Fatal(err)
	}
	if after := p.Weight(id); after <= before {
		t.Fatalf("weight %v not raised from %v after rescore", after, before)
	}
}

func TestPowerRemove(t *testing.T) {
	store := corpus.NewInMemory()
	p := NewPower(store, rng.New(4))
	var ids []corpus.ID
	for i := 0; i < 4; i++ {
		tc := corpus.NewTestcase(make([]byte, 8))
		id, _ := store.Add(tc)
		p.OnAdd(id, tc)
		ids = append(ids, id)
	}
	p.Remove(ids[2])
	store.Remove(ids[2])
	for i := 0; i < 1000; i++ {
		id, err := p.Next()
		if err != nil {
			t.Fatal(err)
		}
		if id == ids[2] {
			t.Fatal("removed id still scheduled")
		}
	}
}

func TestPowerScoreClamped(t *testing.T) {
	store := corpus.NewInMemory()
	always := func(tc *corpus.Testcase) float64 { return 1e9 }
	never := func(tc *corpus.Testcase) float64 { return 0 }

	p := NewPower(store, rng.New(5), always)
	tc := corpus.NewTestcase(nil)
	id, _ := store.Add(tc)
	p.OnAdd(id, tc)
	if w := p.Weight(id); w != 1000 {
		t.Fatalf("upper clamp: weight %v, want 1000", w)
	}

	p2 := NewPower(store, rng.New(6), never)
	tc2 := corpus.NewTestcase(nil)
	id2, _ := store.Add(tc2)
	p2.OnAdd(id2, tc2)
	if w := p2.Weight(id2); w != 1 {
		t.Fatalf("lower clamp: weight %v, want 1", w)
	}
}
