package transport

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeConn is an in-memory Conn used to drive Server.HandleConn without a
// live socket: sent frames are pushed onto in, and everything the server
// writes lands on out.
type fakeConn struct {
	in        chan []byte
	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 32),
		out:    make(chan []byte, 32),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadJSON(v interface{}) error {
	select {
	case data, ok := <-f.in:
		if !ok {
			return io.EOF
		}
		return json.Unmarshal(data, v)
	case <-f.closed:
		return io.EOF
	}
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case f.out <- data:
		return nil
	case <-f.closed:
		return io.EOF
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) send(t *testing.T, m Message) {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.in <- data
}

func (f *fakeConn) recv(t *testing.T, timeout time.Duration) Message {
	t.Helper()
	select {
	case data := <-f.out:
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return m
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for a frame")
		return Message{}
	}
}

// TestPubSubExcludesPublisherByDefault covers spec §8 scenario 3: two
// clients subscribe to the same topic, one publishes, and only the other
// receives the event — the publisher is excluded unless broadcast=true.
func TestPubSubExcludesPublisherByDefault(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer(DefaultConfig(), nil, zerolog.Nop())
	connA, connB := newFakeConn(), newFakeConn()
	go srv.HandleConn(ctx, connA)
	go srv.HandleConn(ctx, connB)

	connA.recv(t, time.Second) // version handshake
	connB.recv(t, time.Second)

	connA.send(t, Message{ID: "s1", Type: TypeSubscribe, Topics: []string{"swarm.events"}})
	if ack := connA.recv(t, time.Second); ack.Type != TypeAck {
		t.Fatalf("expected ack, got %v", ack.Type)
	}
	connB.send(t, Message{ID: "s2", Type: TypeSubscribe, Topics: []string{"swarm.events"}})
	if ack := connB.recv(t, time.Second); ack.Type != TypeAck {
		t.Fatalf("expected ack, got %v", ack.Type)
	}

	connA.send(t, Message{ID: "p1", Type: TypePublish, Topic: "swarm.events", Data: "hello"})
	if ack := connA.recv(t, time.Second); ack.Type != TypeAck {
		t.Fatalf("expected publish ack, got %v", ack.Type)
	}

	evt := connB.recv(t, time.Second)
	if evt.Type != TypeEvent || evt.Topic != "swarm.events" {
		t.Fatalf("expected event on swarm.events, got %+v", evt)
	}
	if evt.SequenceNumber != 1 {
		t.Fatalf("expected first sequence number to be 1, got %d", evt.SequenceNumber)
	}

	select {
	case data := <-connA.out:
		var m Message
		_ = json.Unmarshal(data, &m)
		t.Fatalf("publisher must not receive its own non-broadcast publish, got %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestHeartbeatTimeoutDisconnects covers the "now - lastPing > 2*interval"
// boundary of spec §4.F: a silent client is pinged once per interval and
// disconnected once it has missed two intervals.
func TestHeartbeatTimeoutDisconnects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 15 * time.Millisecond
	srv := NewServer(cfg, nil, zerolog.Nop())

	conn := newFakeConn()
	done := make(chan error, 1)
	go func() { done <- srv.HandleConn(context.Background(), conn) }()

	conn.recv(t, time.Second) // version handshake
	if ping := conn.recv(t, time.Second); ping.Type != TypePing {
		t.Fatalf("expected first heartbeat ping, got %v", ping.Type)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected HandleConn to return an error after heartbeat timeout")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected connection to be closed after missing two heartbeat intervals")
	}
}

// TestSubscriptionLimitExceeded covers the subscription-limit signal.
func TestSubscriptionLimitExceeded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := DefaultConfig()
	cfg.MaxSubscriptionsPerClient = 1
	srv := NewServer(cfg, nil, zerolog.Nop())

	conn := newFakeConn()
	go srv.HandleConn(ctx, conn)
	conn.recv(t, time.Second)

	conn.send(t, Message{ID: "s1", Type: TypeSubscribe, Topics: []string{"a"}})
	if ack := conn.recv(t, time.Second); ack.Type != TypeAck {
		t.Fatalf("expected first subscribe to succeed, got %v", ack.Type)
	}

	conn.send(t, Message{ID: "s2", Type: TypeSubscribe, Topics: []string{"b"}})
	errFrame := conn.recv(t, time.Second)
	if errFrame.Type != TypeError || errFrame.Code != CodeSubscriptionLimit {
		t.Fatalf("expected subscription-limit-exceeded error, got %+v", errFrame)
	}
}
