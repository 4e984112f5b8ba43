package events

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

// pollUntil drains a bus until an event of the wanted kind arrives or the
// deadline hits. The broker pumps every pollInterval, so a short deadline
// covers many cycles.
func pollUntil(t *testing.T, bus Bus, want Kind, deadline time.Duration) *Event {
	t.Helper()
	stop := time.After(deadline)
	for {
		select {
		case <-stop:
			t.Fatalf("no %s event within %v", want, deadline)
			return nil
		default:
		}
		if ev, ok := bus.Poll(); ok && ev.Kind == want {
			return ev
		}
		time.Sleep(time.Millisecond)
	}
}

func startBroker(t *testing.T, relays ...Relay) *Broker {
	t.Helper()
	b := NewBroker(zap.NewNop(), relays...)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		b.Wait()
	})
	return b
}

func TestBrokerRebroadcast(t *testing.T) {
	b := startBroker(t)
	alice := b.RegisterLocal("alice", zap.NewNop())
	bob := b.RegisterLocal("bob", zap.NewNop())

	if err := alice.Publish(NewTestcaseEvent([]byte("discovery"), "sig-1")); err != nil {
		t.Fatal(err)
	}
	ev := pollUntil(t, bob, KindNewTestcase, time.Second)
	if string(ev.Input) != "discovery" || ev.Sig != "sig-1" || ev.Client != "alice" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestBrokerNoEcho(t *testing.T) {
	b := startBroker(t)
	alice := b.RegisterLocal("alice", zap.NewNop())
	b.RegisterLocal("bob", zap.NewNop())

	alice.Publish(NewTestcaseEvent([]byte("mine"), "sig-2"))
	time.Sleep(50 * time.Millisecond)
	if ev, ok := alice.Poll(); ok {
		t.Fatalf("publisher received its own event back: %+v", ev)
	}
}

func TestBrokerNoDedup(t *testing.T) {
	b := startBroker(t)
	alice := b.RegisterLocal("alice", zap.NewNop())
	bob := b.RegisterLocal("bob", zap.NewNop())

	// The same discovery twice reaches the peer twice; the receiving
	// feedback history is the only idempotence gate.
	alice.Publish(NewTestcaseEvent([]byte("dup"), "sig-3"))
	alice.Publish(NewTestcaseEvent([]byte("dup"), "sig-3"))
	pollUntil(t, bob, KindNewTestcase, time.Second)
	pollUntil(t, bob, KindNewTestcase, time.Second)
}

func TestBrokerStopBroadcast(t *testing.T) {
	b := startBroker(t)
	alice := b.RegisterLocal("alice", zap.NewNop())
	bob := b.RegisterLocal("bob", zap.NewNop())

	alice.Publish(&Event{Kind: KindStop})
	pollUntil(t, bob, KindStop, time.Second)
	b.Wait()
}

func TestBrokerInject(t *testing.T) {
	b := startBroker(t)
	bob := b.RegisterLocal("bob", zap.NewNop())

	b.Inject(ObjectiveEvent([]byte("remote find"), "sig-4", "crash"))
	ev := pollUntil(t, bob, KindObjective, time.Second)
	if ev.ExitKind != "crash" {
		t.Fatalf("ExitKind = %q", ev.ExitKind)
	}
}

type captureRelay struct {
	events chan *Event
}

func (r *captureRelay) Forward(ev *Event) { r.events <- ev }

func TestBrokerForwardsToRelays(t *testing.T) {
	relay := &captureRelay{events: make(chan *Event, 16)}
	b := startBroker(t, relay)
	alice := b.RegisterLocal("alice", zap.NewNop())

	alice.Publish(NewTestcaseEvent([]byte("relayed"), "sig-5"))
	select {
	case ev := <-relay.events:
		if ev.Kind != KindNewTestcase {
			t.Fatalf("relay saw %s", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("relay never saw the event")
	}
}

func TestClientDropPolicy(t *testing.T) {
	// No broker pumping: the ring fills and stays full.
	toBroker := NewRing(4)
	fromBroker := NewRing(4)
	c := newClient("lonely", toBroker, fromBroker, zap.NewNop())

	for i := 0; i < toBroker.Cap(); i++ {
		if err := c.Publish(&Event{Kind: KindHeartbeat}); err != nil {
			t.Fatal(err)
		}
	}
	if c.Dropped() != 0 {
		t.Fatal("events dropped below capacity")
	}

	// Full ring: heartbeats and stats are shed, discoveries are queued.
	c.Publish(&Event{Kind: KindHeartbeat})
	c.Publish(&Event{Kind: KindStats, Stats: &Stats{}})
	if c.Dropped() != 2 {
		t.Fatalf("Dropped = %d, want 2", c.Dropped())
	}
	if err := c.Publish(NewTestcaseEvent([]byte("keep"), "sig-6")); err != nil {
		t.Fatal(err)
	}
	if c.Dropped() != 2 {
		t.Fatal("discovery was counted as dropped")
	}

	// Draining the ring lets the queued discovery through on the next poll.
	for i := 0; i < toBroker.Cap(); i++ {
		toBroker.Pop()
	}
	c.Poll()
	found := false
	for {
		ev, ok := toBroker.Pop()
		if !ok {
			break
		}
		if ev.Kind == KindNewTestcase && ev.Sig == "sig-6" {
			found = true
		}
	}
	if !found {
		t.Fatal("overflowed discovery never reached the ring")
	}
}

func TestClientClosed(t *testing.T) {
	c := newClient("gone", NewRing(4), NewRing(4), zap.NewNop())
	c.close()
	if err := c.Publish(&Event{Kind: KindHeartbeat}); err != ErrBusClosed {
		t.Fatalf("Publish after close: got %v, want ErrBusClosed", err)
	}
}

func TestBrokerClients(t *testing.T) {
	b := startBroker(t)
	b.RegisterLocal("alice", zap.NewNop())
	b.RegisterLocal("bob", zap.NewNop())
	if got := len(b.Clients()); got != 2 {
		t.Fatalf("Clients() = %d, want 2", got)
	}
	b.detach("alice")
	if got := len(b.Clients()); got != 1 {
		t.Fatalf("Clients() after detach = %d, want 1", got)
	}
}
