package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	udperrors "udpterm/internal/errors"
	"udpterm/internal/protocol"
	"udpterm/internal/retry"
)

// fakeServer answers datagrams with whatever reply returns.
type fakeServer struct {
	conn *net.UDPConn
	id   protocol.SessionID

	mu       sync.Mutex
	received []protocol.Frame
}

func newFakeServer(t *testing.T, reply func(s *fakeServer, f protocol.Frame, n int) []protocol.Frame) *fakeServer {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	id, err := protocol.NewSessionID()
	require.NoError(t, err)
	s := &fakeServer{conn: conn, id: id}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, protocol.MaxDatagram)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			f, err := protocol.Decode(buf[:n])
			if err != nil {
				continue
			}
			s.mu.Lock()
			s.received = append(s.received, f)
			count := len(s.received)
			s.mu.Unlock()
			for _, r := range reply(s, f, count) {
				wire, err := protocol.Encode(r)
				if err != nil {
					continue
				}
				conn.WriteToUDP(wire, from) //nolint:errcheck
			}
		}
	}()
	return s
}

func (s *fakeServer) addr() string { return s.conn.LocalAddr().String() }

func (s *fakeServer) frames() []protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Frame(nil), s.received...)
}

func (s *fakeServer) count(op protocol.Opcode) int {
	n := 0
	for _, f := range s.frames() {
		if f.Opcode() == op {
			n++
		}
	}
	return n
}

// echoServer acks NewSession and echoes Write payloads back as
// UpdateState.
func echoServer(s *fakeServer, f protocol.Frame, _ int) []protocol.Frame {
	switch v := f.(type) {
	case protocol.NewSession:
		return []protocol.Frame{protocol.NewSessionAck{ID: s.id}}
	case protocol.Write:
		if v.ID != s.id {
			return nil
		}
		return []protocol.Frame{protocol.UpdateState{Data: v.Data}}
	}
	return nil
}

func fastBackoff(attempts int) *retry.Backoff {
	return &retry.Backoff{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		MaxAttempts:  attempts,
	}
}

func dialTest(t *testing.T, s *fakeServer) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, Config{
		Server:           s.addr(),
		HandshakeTimeout: 500 * time.Millisecond,
		Backoff:          fastBackoff(3),
		DetachKey:        DefaultDetachKey,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDial_Handshake(t *testing.T) {
	s := newFakeServer(t, echoServer)
	c := dialTest(t, s)

	assert.Equal(t, s.id, c.ID())
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 1, s.count(protocol.OpNewSession), "exactly one NewSession expected")
}

func TestDial_RetriesLostRequest(t *testing.T) {
	s := newFakeServer(t, func(s *fakeServer, f protocol.Frame, n int) []protocol.Frame {
		if n == 1 {
			return nil // first NewSession is lost
		}
		return echoServer(s, f, n)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, Config{
		Server:           s.addr(),
		HandshakeTimeout: 100 * time.Millisecond,
		Backoff:          fastBackoff(5),
	})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, s.id, c.ID())
	assert.Equal(t, 2, s.count(protocol.OpNewSession))
}

func TestDial_ProtocolViolation(t *testing.T) {
	s := newFakeServer(t, func(*fakeServer, protocol.Frame, int) []protocol.Frame {
		return []protocol.Frame{protocol.UpdateState{Data: []byte("surprise")}}
	})

	_, err := Dial(context.Background(), Config{
		Server:           s.addr(),
		HandshakeTimeout: 500 * time.Millisecond,
		Backoff:          fastBackoff(5),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, udperrors.ErrProtocolViolation)
	assert.Equal(t, 1, s.count(protocol.OpNewSession), "protocol violations are not retried")
}

func TestDial_LostAckThenOutput(t *testing.T) {
	// The ack is dropped and the child's prompt arrives first.
	s := newFakeServer(t, func(s *fakeServer, f protocol.Frame, n int) []protocol.Frame {
		if n == 1 {
			return []protocol.Frame{protocol.UpdateState{Data: []byte("$ ")}}
		}
		return echoServer(s, f, n)
	})

	_, err := Dial(context.Background(), Config{
		Server:           s.addr(),
		HandshakeTimeout: 200 * time.Millisecond,
		Backoff:          fastBackoff(5),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, udperrors.ErrProtocolViolation)
	assert.Contains(t, err.Error(), "UpdateState")
	assert.Equal(t, 1, s.count(protocol.OpNewSession))
}

func TestDial_Exhausted(t *testing.T) {
	s := newFakeServer(t, func(*fakeServer, protocol.Frame, int) []protocol.Frame { return nil })

	start := time.Now()
	_, err := Dial(context.Background(), Config{
		Server:           s.addr(),
		HandshakeTimeout: 50 * time.Millisecond,
		Backoff:          fastBackoff(3),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, udperrors.ErrHandshakeExhausted)
	assert.ErrorIs(t, err, udperrors.ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)

	require.Eventually(t, func() bool { return s.count(protocol.OpNewSession) == 3 },
		time.Second, 10*time.Millisecond)
}

func TestDial_ContextCancelled(t *testing.T) {
	s := newFakeServer(t, func(*fakeServer, protocol.Frame, int) []protocol.Frame { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_, err := Dial(ctx, Config{
		Server:           s.addr(),
		HandshakeTimeout: time.Second,
		Backoff:          &retry.Backoff{InitialDelay: time.Second, MaxAttempts: 10},
	})
	require.Error(t, err)
}

func TestRun_Echo(t *testing.T) {
	s := newFakeServer(t, echoServer)
	c := dialTest(t, s)

	inR, inW := io.Pipe()
	var mu sync.Mutex
	var out bytes.Buffer
	w := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return out.Write(p)
	})

	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background(), inR, w) }()

	_, err := inW.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return out.String() == "hello\n"
	}, 5*time.Second, 10*time.Millisecond)

	inW.Close()
	select {
	case err := <-errc:
		assert.True(t, udperrors.IsClosed(err), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not end after input EOF")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestRun_DetachKey(t *testing.T) {
	s := newFakeServer(t, echoServer)
	c := dialTest(t, s)

	errc := make(chan error, 1)
	go func() {
		errc <- c.Run(context.Background(), bytes.NewReader([]byte("ab\x1dcd")), io.Discard)
	}()

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, ErrDetached), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not detach")
	}

	require.Eventually(t, func() bool { return s.count(protocol.OpWrite) == 1 },
		time.Second, 10*time.Millisecond)
	for _, f := range s.frames() {
		if w, ok := f.(protocol.Write); ok {
			assert.Equal(t, "ab", string(w.Data))
			assert.Equal(t, s.id, w.ID)
		}
	}
}

func TestRun_ContextCancel(t *testing.T) {
	s := newFakeServer(t, echoServer)
	c := dialTest(t, s)

	inR, _ := io.Pipe() // never written: the input read stays parked
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx, inR, io.Discard) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run ignored cancellation")
	}
}

func TestResize(t *testing.T) {
	s := newFakeServer(t, echoServer)
	c := dialTest(t, s)

	require.NoError(t, c.Resize(40, 100))
	require.Eventually(t, func() bool { return s.count(protocol.OpResize) == 1 },
		time.Second, 10*time.Millisecond)
	for _, f := range s.frames() {
		if r, ok := f.(protocol.Resize); ok {
			assert.Equal(t, protocol.Resize{ID: s.id, Rows: 40, Cols: 100}, r)
		}
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "handshaking", StateHandshaking.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "unknown", State(9).String())
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
