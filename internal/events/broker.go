package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// RingCapacity bounds each direction of a client link.
	RingCapacity = 4096

	drainBudget      = 256
	pollInterval     = 2 * time.Millisecond
	HeartbeatPeriod  = 1 * time.Second
	HeartbeatTimeout = 10 * time.Second
)

// link is one registered client from the broker's side. Local clients sit
// on ring pairs; remote clients arrive over TCP.
type link interface {
	id() string
	recv() (*Event, bool)
	send(ev *Event) bool
	close()
}

type localLink struct {
	clientID   string
	fromClient *Ring
	toClient   *Ring
}

func (l *localLink) id() string           { return l.clientID }
func (l *localLink) recv() (*Event, bool) { return l.fromClient.Pop() }
func (l *localLink) send(ev *Event) bool  { return l.toClient.Push(ev) }
func (l *localLink) close()               {}

type linkState struct {
	link     link
	lastSeen time.Time
	// Undeliverable non-droppable rebroadcasts wait here until the
	// client's ring drains.
	pending []*Event
}

// Relay receives every event the broker accepts, for forwarding beyond
// this machine or into a stats sink.
type Relay interface {
	Forward(ev *Event)
}

// Broker fans every client's events out to all other clients. It trusts
// the clients' feedback histories to reject re-deliveries, so it keeps no
// state about event content at all.
type Broker struct {
	logger *zap.Logger
	relays []Relay

	mu    sync.Mutex
	links map[string]*linkState

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

func NewBroker(logger *zap.Logger, relays ...Relay) *Broker {
	return &Broker{
		logger:  logger.Named("broker"),
		links:   make(map[string]*linkState),
		relays:  relays,
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// RegisterLocal attaches an in-process client and returns its handle.
func (b *Broker) RegisterLocal(clientID string, logger *zap.Logger) *Client {
	toBroker := NewRing(RingCapacity)
	fromBroker := NewRing(RingCapacity)
	l := &localLink{clientID: clientID, fromClient: toBroker, toClient: fromBroker}
	b.attach(l)
	return newClient(clientID, toBroker, fromBroker, logger)
}

func (b *Broker) attach(l link) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.links[l.id()] = &linkState{link: l, lastSeen: time.Now()}
	b.logger.Info("client registered", zap.String("client", l.id()))
}

// Serve runs the rebroadcast loop until ctx is done or a Stop event
// arrives. Started under an fx lifecycle hook.
func (b *Broker) Serve(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	reap := time.NewTicker(HeartbeatTimeout / 2)
	defer reap.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopped:
			b.broadcast(&Event{Kind: KindStop})
			return
		case <-reap.C:
			b.reapDead()
		case <-ticker.C:
			b.pump()
		}
	}
}

func (b *Broker) pump() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, st := range b.links {
		b.flushPending(st)
		for i := 0; i < drainBudget; i++ {
			ev, ok := st.link.recv()
			if !ok {
				break
			}
			st.lastSeen = time.Now()
			switch ev.Kind {
			case KindHeartbeat:
				// presence only
			case KindStop:
				b.logger.Info("stop requested", zap.String("client", id))
				b.Stop()
			default:
				b.rebroadcastLocked(ev)
			}
			for _, r := range b.relays {
				r.Forward(ev)
			}
		}
	}
}

// rebroadcastLocked delivers ev to every client except its origin.
// Broker-FIFO per link: pending events flush before fresh ones.
func (b *Broker) rebroadcastLocked(ev *Event) {
	for id, st := range b.links {
		if id == ev.Client {
			continue
		}
		b.flushPending(st)
		if len(st.pending) == 0 && st.link.send(ev) {
			continue
		}
		if ev.droppable() {
			continue
		}
		if len(st.pending) >= overflowMax {
			st.pending = st.pending[1:]
		}
		st.pending = append(st.pending, ev)
	}
}

func (b *Broker) flushPending(st *linkState) {
	for len(st.pending) > 0 {
		if !st.link.send(st.pending[0]) {
			return
		}
		st.pending = st.pending[1:]
	}
}

func (b *Broker) broadcast(ev *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, st := range b.links {
		st.link.send(ev)
	}
}

// reapDead drops clients whose heartbeats stopped. The rest of the bus is
// unaffected; a supervisor may restart the client from its checkpoint.
func (b *Broker) reapDead() {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := time.Now().Add(-HeartbeatTimeout)
	for id, st := range b.links {
		if st.lastSeen.Before(cutoff) {
			b.logger.Warn("client lost, removing from rebroadcast set", zap.String("client", id))
			st.link.close()
			delete(b.links, id)
		}
	}
}

func (b *Broker) detach(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.links[id]; ok {
		st.link.close()
		delete(b.links, id)
	}
}

// Clients returns the currently registered client ids.
func (b *Broker) Clients() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.links))
	for id := range b.links {
		ids = append(ids, id)
	}
	return ids
}

// Stop initiates shutdown: a Stop event goes out to every client and the
// serve loop exits.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopped) })
}

// Wait blocks until the serve loop finished.
func (b *Broker) Wait() { <-b.done }

// Inject delivers an event to all clients as if a peer had published it.
// Used by cross-machine relays feeding remote discoveries in.
func (b *Broker) Inject(ev *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rebroadcastLocked(ev)
}
