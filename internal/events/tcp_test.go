package events

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &Event{
		Kind:     KindObjective,
		Client:   "node-1",
		Seq:      7,
		Input:    []byte{0, 1, 2, 255},
		Sig:      "deadbeef",
		ExitKind: "crash",
	}
	if err := writeFrame(&buf, in); err != nil {
		t.Fatal(err)
	}
	out, err := readFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != in.Kind || out.Client != in.Client || out.Seq != in.Seq {
		t.Fatalf("header mismatch: %+v", out)
	}
	if !bytes.Equal(out.Input, in.Input) || out.Sig != in.Sig || out.ExitKind != in.ExitKind {
		t.Fatalf("payload mismatch: %+v", out)
	}
}

func TestFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], maxFrameSize+1)
	buf.Write(hdr[:])
	if _, err := readFrame(&buf); err == nil {
		t.Fatal("oversized frame accepted")
	}
}

func TestFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	writeFrame(&buf, &Event{Kind: KindHeartbeat})
	data := buf.Bytes()
	if _, err := readFrame(bytes.NewReader(data[:len(data)-2])); err == nil {
		t.Fatal("truncated frame accepted")
	}
}

// TestRemoteClientOverTCP runs the full slow path: a broker listening on
// loopback, two remote clients, one discovery crossing the wire.
func TestRemoteClientOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	b := NewBroker(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Serve(ctx)
	go b.ListenAndServe(ctx, addr)

	var alice, bob *RemoteClient
	// The listener needs a moment to come back up on the probed port.
	for i := 0; i < 50; i++ {
		alice, err = DialBroker(addr, "alice", zap.NewNop())
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial broker: %v", err)
	}
	defer alice.Close()
	bob, err = DialBroker(addr, "bob", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Close()

	// Both handshakes must land before the publish, or the rebroadcast has
	// no second link yet.
	deadline := time.Now().Add(2 * time.Second)
	for len(b.Clients()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("clients registered: %v", b.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := alice.Publish(NewTestcaseEvent([]byte("over the wire"), "sig-tcp")); err != nil {
		t.Fatal(err)
	}
	ev := pollUntil(t, bob, KindNewTestcase, 2*time.Second)
	if string(ev.Input) != "over the wire" || ev.Client != "alice" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestRemoteClientPublishAfterClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			readFrame(conn)
		}
	}()

	c, err := DialBroker(ln.Addr().String(), "short-lived", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	c.Close()
	if err := c.Publish(&Event{Kind: KindHeartbeat}); err != ErrBusClosed {
		t.Fatalf("Publish after Close: got %v, want ErrBusClosed", err)
	}
}
