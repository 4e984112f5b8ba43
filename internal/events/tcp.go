package events

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// The TCP transport is the slow path of the bus: remote clients, or local
// ones that outgrow the shared rings. Frames are a 4-byte big-endian
// length followed by the JSON event. The first frame a client sends is a
// heartbeat carrying its id.

const maxFrameSize = 16 << 20

func writeFrame(w io.Writer, ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal frame: %w", err)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func readFrame(r io.Reader) (*Event, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("events: frame of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	ev := &Event{}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("events: unmarshal frame: %w", err)
	}
	return ev, nil
}

// tcpLink adapts one accepted connection to the broker's link interface.
// Reader and writer goroutines bridge the socket to non-blocking queues.
type tcpLink struct {
	clientID string
	conn     net.Conn
	inbound  chan *Event
	outbound chan *Event
	closed   atomic.Bool
	logger   *zap.Logger
}

func (l *tcpLink) id() string { return l.clientID }

func (l *tcpLink) recv() (*Event, bool) {
	select {
	case ev, ok := <-l.inbound:
		return ev, ok
	default:
		return nil, false
	}
}

func (l *tcpLink) send(ev *Event) bool {
	select {
	case l.outbound <- ev:
		return true
	default:
		return false
	}
}

func (l *tcpLink) close() {
	if l.closed.CompareAndSwap(false, true) {
		l.conn.Close()
		close(l.outbound)
	}
}

func (l *tcpLink) readLoop(b *Broker) {
	r := bufio.NewReader(l.conn)
	for {
		ev, err := readFrame(r)
		if err != nil {
			if !l.closed.Load() {
				l.logger.Warn("bus connection lost", zap.String("client", l.clientID), zap.Error(err))
				b.detach(l.clientID)
			}
			close(l.inbound)
			return
		}
		select {
		case l.inbound <- ev:
		default:
			if !ev.droppable() {
				// Blocking here is bounded by the broker's drain budget;
				// it only throttles this one remote client.
				l.inbound <- ev
			}
		}
	}
}

func (l *tcpLink) writeLoop() {
	w := bufio.NewWriter(l.conn)
	for ev := range l.outbound {
		if err := writeFrame(w, ev); err != nil {
			return
		}
		if len(l.outbound) == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
	w.Flush()
}

// ListenAndServe accepts remote clients for the broker until ctx is done.
func (b *Broker) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("events: listen %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	b.logger.Info("bus listening", zap.String("addr", addr))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("events: accept: %w", err)
		}
		go b.handshake(conn)
	}
}

func (b *Broker) handshake(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	hello, err := readFrame(bufio.NewReaderSize(conn, 64))
	if err != nil || hello.Kind != KindHeartbeat || hello.Client == "" {
		b.logger.Warn("rejecting bus connection without hello", zap.Error(err))
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})
	l := &tcpLink{
		clientID: hello.Client,
		conn:     conn,
		inbound:  make(chan *Event, RingCapacity),
		outbound: make(chan *Event, RingCapacity),
		logger:   b.logger,
	}
	b.attach(l)
	go l.readLoop(b)
	go l.writeLoop()
}

// RemoteClient is the client end of a TCP bus link. Same surface as the
// in-process Client.
type RemoteClient struct {
	id      string
	conn    net.Conn
	logger  *zap.Logger
	seq     uint64
	inbound chan *Event
	send    chan *Event
	closed  atomic.Bool
	dropped atomic.Uint64
}

// DialBroker connects and identifies this client to a remote broker.
func DialBroker(addr, clientID string, logger *zap.Logger) (*RemoteClient, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("events: dial broker %s: %w", addr, err)
	}
	c := &RemoteClient{
		id:      clientID,
		conn:    conn,
		logger:  logger.Named("bus").With(zap.String("client", clientID)),
		inbound: make(chan *Event, RingCapacity),
		send:    make(chan *Event, RingCapacity),
	}
	if err := writeFrame(conn, &Event{Kind: KindHeartbeat, Client: clientID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: bus hello: %w", err)
	}
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

func (c *RemoteClient) ID() string { return c.id }

func (c *RemoteClient) Publish(ev *Event) error {
	if c.closed.Load() {
		return ErrBusClosed
	}
	ev.Client = c.id
	c.seq++
	ev.Seq = c.seq
	select {
	case c.send <- ev:
		return nil
	default:
	}
	if ev.droppable() {
		c.dropped.Add(1)
		return nil
	}
	// Bounded wait for discoveries; the writer drains at socket speed.
	select {
	case c.send <- ev:
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("events: send queue stalled")
	}
}

func (c *RemoteClient) Poll() (*Event, bool) {
	select {
	case ev, ok := <-c.inbound:
		return ev, ok
	default:
		return nil, false
	}
}

func (c *RemoteClient) readLoop() {
	r := bufio.NewReader(c.conn)
	for {
		ev, err := readFrame(r)
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("broker connection lost", zap.Error(err))
			}
			close(c.inbound)
			return
		}
		select {
		case c.inbound <- ev:
		default:
			if !ev.droppable() {
				c.inbound <- ev
			}
		}
	}
}

func (c *RemoteClient) writeLoop() {
	w := bufio.NewWriter(c.conn)
	for ev := range c.send {
		if err := writeFrame(w, ev); err != nil {
			return
		}
		if len(c.send) == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func (c *RemoteClient) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.send)
		c.conn.Close()
	}
}
