package events

import "sync/atomic"

// Ring is a bounded single-producer single-consumer queue. Push and Pop
// never block and need no locks: the producer only writes tail, the
// consumer only writes head. One ring serves one direction of one
// client-broker link.
type Ring struct {
	slots []atomic.Pointer[Event]
	mask  uint64
	head  atomic.Uint64 // next slot to read, owned by the consumer
	tail  atomic.Uint64 // next slot to write, owned by the producer
}

// NewRing rounds capacity up to a power of two.
func NewRing(capacity int) *Ring {
	n := uint64(1)
	for n < uint64(capacity) {
		n <<= 1
	}
	return &Ring{slots: make([]atomic.Pointer[Event], n), mask: n - 1}
}

// Push enqueues ev. Returns false when the ring is full; the caller
// decides whether the event is droppable or must take the slow path.
func (r *Ring) Push(ev *Event) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() >= uint64(len(r.slots)) {
		return false
	}
	r.slots[tail&r.mask].Store(ev)
	r.tail.Store(tail + 1)
	return true
}

// Pop dequeues the oldest event, or returns false when empty.
func (r *Ring) Pop() (*Event, bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return nil, false
	}
	ev := r.slots[head&r.mask].Load()
	r.head.Store(head + 1)
	return ev, true
}

// Len is approximate between concurrent Push/Pop, exact otherwise.
func (r *Ring) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

func (r *Ring) Cap() int { return len(r.slots) }
