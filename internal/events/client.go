package events

import (
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusClosed is returned by Publish after the link went away.
var ErrBusClosed = errors.New("events: bus closed")

// Bus is the surface the fuzzer loop uses: local ring clients and remote
// TCP clients both satisfy it.
type Bus interface {
	ID() string
	Publish(ev *Event) error
	Poll() (*Event, bool)
}

const overflowMax = 1024

// Client is one fuzzer node's handle on the bus. Publish never blocks: the
// fast path is the lock-free ring to the broker; when the ring is full,
// droppable events are discarded (counted) and discoveries go to a bounded
// overflow queue flushed on later publishes and polls.
type Client struct {
	id     string
	logger *zap.Logger

	toBroker   *Ring
	fromBroker *Ring
	closed     atomic.Bool

	seq      uint64
	overflow []*Event
	dropped  atomic.Uint64
}

func newClient(id string, toBroker, fromBroker *Ring, logger *zap.Logger) *Client {
	return &Client{
		id:         id,
		logger:     logger.Named("bus").With(zap.String("client", id)),
		toBroker:   toBroker,
		fromBroker: fromBroker,
	}
}

func (c *Client) ID() string { return c.id }

// Publish enqueues ev toward the broker.
func (c *Client) Publish(ev *Event) error {
	if c.closed.Load() {
		return ErrBusClosed
	}
	ev.Client = c.id
	c.seq++
	ev.Seq = c.seq

	c.flushOverflow()
	if len(c.overflow) == 0 && c.toBroker.Push(ev) {
		return nil
	}
	if ev.droppable() {
		c.dropped.Add(1)
		return nil
	}
	if len(c.overflow) >= overflowMax {
		// Shed the oldest overflow entry rather than block; history on
		// the receiving side makes a lost rebroadcast recoverable by a
		// later rediscovery.
		c.logger.Warn("bus overflow full, dropping oldest event")
		c.overflow = c.overflow[1:]
	}
	c.overflow = append(c.overflow, ev)
	return nil
}

func (c *Client) flushOverflow() {
	for len(c.overflow) > 0 {
		if !c.toBroker.Push(c.overflow[0]) {
			return
		}
		c.overflow = c.overflow[1:]
	}
}

// Poll returns the next event rebroadcast by the broker, non-blocking.
func (c *Client) Poll() (*Event, bool) {
	c.flushOverflow()
	return c.fromBroker.Pop()
}

// Dropped counts droppable events shed under backpressure.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

func (c *Client) close() { c.closed.Store(true) }

// NewTestcaseEvent builds the announcement for a coverage discovery.
func NewTestcaseEvent(input []byte, sig string) *Event {
	return &Event{Kind: KindNewTestcase, Input: input, Sig: sig}
}

// ObjectiveEvent builds the announcement for a fault.
func ObjectiveEvent(input []byte, sig, exitKind string) *Event {
	return &Event{Kind: KindObjective, Input: input, Sig: sig, ExitKind: exitKind}
}

// NewClientID returns a fresh bus identity.
func NewClientID() string { return uuid.NewString() }
