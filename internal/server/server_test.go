package server

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udpterm/internal/capability"
	"udpterm/internal/metrics"
	"udpterm/internal/protocol"
	"udpterm/internal/pty"
	"udpterm/internal/retry"
)

func requirePTY(t *testing.T) {
	t.Helper()
	d, err := pty.Open(pty.Options{})
	if err != nil {
		t.Skipf("pseudo-terminals unavailable: %v", err)
	}
	d.Close()
}

type harness struct {
	srv     *Server
	metrics *metrics.Collector
	cancel  context.CancelFunc
	done    chan error
}

func startServer(t *testing.T, cfg Config) *harness {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	h := &harness{srv: New(conn, cfg), metrics: cfg.Metrics, done: make(chan error, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
		conn.Close()
	})
	return h
}

// peer is a bare UDP socket speaking the wire protocol.
type peer struct {
	t    *testing.T
	conn *net.UDPConn
}

func newPeer(t *testing.T, h *harness) *peer {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, h.srv.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, conn: conn}
}

func (p *peer) send(f protocol.Frame) {
	p.t.Helper()
	wire, err := protocol.Encode(f)
	require.NoError(p.t, err)
	p.sendRaw(wire)
}

func (p *peer) sendRaw(b []byte) {
	p.t.Helper()
	_, err := p.conn.Write(b)
	require.NoError(p.t, err)
}

// recv returns the next frame, or nil if none arrives within d.
func (p *peer) recv(d time.Duration) protocol.Frame {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(d)) //nolint:errcheck
	buf := make([]byte, protocol.MaxDatagram)
	n, err := p.conn.Read(buf)
	if err != nil {
		return nil
	}
	f, err := protocol.Decode(buf[:n])
	require.NoError(p.t, err)
	return f
}

func (p *peer) handshake() protocol.SessionID {
	p.t.Helper()
	p.send(protocol.NewSession{})
	f := p.recv(5 * time.Second)
	require.NotNil(p.t, f, "no ack")
	ack, ok := f.(protocol.NewSessionAck)
	require.True(p.t, ok, "first response was %s", f.Opcode())
	require.False(p.t, ack.ID.IsNil())
	return ack.ID
}

// readUntil accumulates UpdateState payloads until pred holds.
func (p *peer) readUntil(pred func(string) bool) string {
	p.t.Helper()
	var out bytes.Buffer
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f := p.recv(time.Until(deadline))
		if u, ok := f.(protocol.UpdateState); ok {
			out.Write(u.Data)
			if pred(out.String()) {
				return out.String()
			}
		}
	}
	p.t.Fatalf("timed out; output so far %q", out.String())
	return ""
}

func TestHandshake_ExactlyOneAck(t *testing.T) {
	requirePTY(t)
	h := startServer(t, Config{Capability: &capability.Relay{}})
	p := newPeer(t, h)

	id := p.handshake()
	assert.Nil(t, p.recv(200*time.Millisecond), "expected no further datagrams")

	handle, err := h.srv.Registry().Get(id)
	require.NoError(t, err)
	assert.Equal(t, p.conn.LocalAddr().String(), handle.Peer.String())
	assert.Equal(t, int64(1), h.metrics.TotalSessions())
}

func TestLoopback(t *testing.T) {
	requirePTY(t)
	h := startServer(t, Config{Capability: &capability.Relay{}})
	p := newPeer(t, h)

	id := p.handshake()
	p.send(protocol.Write{ID: id, Data: []byte("hello\n")})
	out := p.readUntil(func(s string) bool { return len(s) >= 6 })
	assert.Equal(t, "hello\n", out)
}

func TestConcurrentSessions(t *testing.T) {
	requirePTY(t)
	const n = 8
	h := startServer(t, Config{Capability: &capability.Relay{}})

	peers := make([]*peer, n)
	for i := range peers {
		peers[i] = newPeer(t, h)
	}

	ids := make([]protocol.SessionID, n)
	var wg sync.WaitGroup
	for i := range peers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = peers[i].handshake()
		}(i)
	}
	wg.Wait()

	seen := map[protocol.SessionID]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	require.Len(t, seen, n, "ids must be distinct")
	assert.Equal(t, n, h.srv.Registry().Len())

	for i, p := range peers {
		p.send(protocol.Write{ID: ids[i], Data: []byte(fmt.Sprintf("client-%d\n", i))})
	}
	for i, p := range peers {
		want := fmt.Sprintf("client-%d\n", i)
		out := p.readUntil(func(s string) bool { return len(s) >= len(want) })
		assert.Equal(t, want, out)
	}
}

func TestMalformedDatagramsAreDropped(t *testing.T) {
	requirePTY(t)
	h := startServer(t, Config{Capability: &capability.Relay{}})
	p := newPeer(t, h)

	p.sendRaw([]byte{})
	p.sendRaw([]byte{0xde, 0xad, 0xbe, 0xef})
	p.send(protocol.UpdateState{Data: []byte("wrong direction")})
	assert.Nil(t, p.recv(100*time.Millisecond))

	p.handshake()
	assert.Equal(t, int64(2), h.metrics.DecodeErrors())
}

func TestUnknownSession(t *testing.T) {
	requirePTY(t)
	h := startServer(t, Config{Capability: &capability.Relay{}})
	p := newPeer(t, h)

	id, err := protocol.NewSessionID()
	require.NoError(t, err)
	p.send(protocol.Write{ID: id, Data: []byte("anyone?")})
	p.send(protocol.Resize{ID: id, Rows: 10, Cols: 10})
	assert.Nil(t, p.recv(200*time.Millisecond), "unknown sessions get no reply")
	assert.Equal(t, int64(2), h.metrics.UnknownSessions())
}

func TestSessionExitIsIsolated(t *testing.T) {
	requirePTY(t)
	h := startServer(t, Config{
		Capability: &capability.Exec{Script: `read line; echo "got $line"`},
	})
	a, b := newPeer(t, h), newPeer(t, h)
	idA, idB := a.handshake(), b.handshake()
	require.Equal(t, 2, h.srv.Registry().Len())

	a.send(protocol.Write{ID: idA, Data: []byte("x\n")})
	a.readUntil(func(s string) bool { return strings.Contains(s, "got x") })

	require.Eventually(t, func() bool {
		_, err := h.srv.Registry().Get(idA)
		return err != nil
	}, 5*time.Second, 20*time.Millisecond, "finished session was not evicted")

	_, err := h.srv.Registry().Get(idB)
	require.NoError(t, err, "other session must survive")
	b.send(protocol.Write{ID: idB, Data: []byte("y\n")})
	b.readUntil(func(s string) bool { return strings.Contains(s, "got y") })
}

func TestResize(t *testing.T) {
	requirePTY(t)
	h := startServer(t, Config{Capability: &capability.Exec{Script: "read go; stty size"}})
	p := newPeer(t, h)
	id := p.handshake()

	p.send(protocol.Resize{ID: id, Rows: 40, Cols: 100})
	p.send(protocol.Write{ID: id, Data: []byte("\n")})
	out := p.readUntil(func(s string) bool { return strings.Contains(s, "40 100") })
	assert.Contains(t, out, "40 100")
}

func TestInitialSize(t *testing.T) {
	requirePTY(t)
	h := startServer(t, Config{
		Capability:  &capability.Exec{Script: "stty size"},
		InitialSize: pty.Size{Rows: 30, Cols: 90},
	})
	p := newPeer(t, h)
	p.handshake()
	out := p.readUntil(func(s string) bool { return strings.Contains(s, "30 90") })
	assert.Contains(t, out, "30 90")
}

func TestShutdownClosesSessions(t *testing.T) {
	requirePTY(t)
	h := startServer(t, Config{Capability: &capability.Relay{}, ShutdownGrace: time.Second})
	p := newPeer(t, h)
	id := p.handshake()
	handle, err := h.srv.Registry().Get(id)
	require.NoError(t, err)

	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err // let Cleanup observe it too
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	select {
	case <-handle.Done():
	default:
		t.Fatal("session still running after Serve returned")
	}
	assert.Zero(t, h.srv.Registry().Len())
	assert.Zero(t, h.metrics.ActiveSessions())
}

func TestSpawnFailureOpensBreaker(t *testing.T) {
	requirePTY(t)
	breaker := retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Minute,
	})
	h := startServer(t, Config{
		Capability: &capability.Exec{Program: "/nonexistent/udpterm-shell"},
		Breaker:    breaker,
	})
	p := newPeer(t, h)

	for i := 0; i < 3; i++ {
		p.send(protocol.NewSession{})
		assert.Nil(t, p.recv(200*time.Millisecond), "failed spawns get no ack")
	}
	assert.Equal(t, retry.StateOpen, breaker.CurrentState())
	assert.Zero(t, h.srv.Registry().Len())
	assert.Equal(t, int64(3), h.metrics.ErrorCount())
}

func TestSessionsListing(t *testing.T) {
	requirePTY(t)
	h := startServer(t, Config{Capability: &capability.Relay{}})
	p := newPeer(t, h)
	id := p.handshake()

	list := h.srv.Sessions()
	require.Len(t, list, 1)
	assert.Equal(t, id.String(), list[0].ID)
	assert.Equal(t, p.conn.LocalAddr().String(), list[0].Peer)
	assert.Positive(t, list[0].Pid)
}
