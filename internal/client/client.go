// Package client attaches a local terminal to a remote session.
//
// Dial performs the handshake: it sends NewSession and waits for the
// server's NewSessionAck.  Run then forwards raw input bytes as Write
// frames and appends every UpdateState payload to the output, in
// arrival order, until either side stops.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	udperrors "udpterm/internal/errors"
	"udpterm/internal/protocol"
	"udpterm/internal/retry"
	"udpterm/internal/transport"
	"udpterm/util"
)

// State is the client's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// DefaultHandshakeTimeout bounds each wait for NewSessionAck.
const DefaultHandshakeTimeout = 2 * time.Second

// DefaultDetachKey is Ctrl-], which ends Run when typed.
const DefaultDetachKey byte = 0x1d

// Config configures Dial.
type Config struct {
	// Server is the "host:port" of the server.
	Server string
	// HandshakeTimeout bounds each wait for the ack (default 2s).
	HandshakeTimeout time.Duration
	// Backoff schedules handshake retries.  Nil means retry.DefaultBackoff.
	Backoff *retry.Backoff
	// Dialer opens the socket.  Nil means a transport.UDPDialer.
	Dialer transport.Dialer
	// DetachKey ends Run when it appears in the input.  Zero disables it.
	DetachKey byte

	Logger *util.Logger
}

// Client is one attached session.
type Client struct {
	conn      *net.UDPConn
	id        protocol.SessionID
	server    string
	detachKey byte
	state     atomic.Int32
	log       *util.Logger
}

// ErrDetached is returned by Run when the user types the detach key.
var ErrDetached = errors.New("detached")

// Dial opens a socket to cfg.Server and performs the handshake.  A
// NewSession that draws no reply at all within HandshakeTimeout is
// resent with backoff.  Any reply other than NewSessionAck fails with
// ErrProtocolViolation and is not retried, so a lost ack followed by
// session output is fatal.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &transport.UDPDialer{Timeout: 5 * time.Second}
	}
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = retry.DefaultBackoff()
	}
	b := *backoff
	b.Retryable = udperrors.IsRetryable

	conn, err := dialer.Dial(ctx, cfg.Server)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:      conn,
		server:    cfg.Server,
		detachKey: cfg.DetachKey,
		log:       logger,
	}
	c.state.Store(int32(StateHandshaking))

	hello, err := protocol.Encode(protocol.NewSession{})
	if err != nil {
		conn.Close()
		return nil, err
	}

	err = b.Do(ctx, func(attempt int) error {
		c.log.Debug("handshake attempt %d with %s", attempt, cfg.Server)
		if _, err := conn.Write(hello); err != nil {
			return udperrors.Wrap("send", cfg.Server, err)
		}
		id, err := c.awaitAck(ctx, timeout)
		if err != nil {
			return err
		}
		c.id = id
		return nil
	})
	if err != nil {
		conn.Close()
		c.state.Store(int32(StateDisconnected))
		if udperrors.IsRetryable(err) {
			return nil, fmt.Errorf("%w: %s: %w", udperrors.ErrHandshakeExhausted, cfg.Server, err)
		}
		return nil, fmt.Errorf("handshake with %s: %w", cfg.Server, err)
	}

	c.state.Store(int32(StateConnected))
	c.log.Info("attached to session %s on %s", c.id, cfg.Server)
	return c, nil
}

// awaitAck reads one datagram.  A missing reply is retryable; a wrong
// one is permanent.
func (c *Client) awaitAck(ctx context.Context, timeout time.Duration) (protocol.SessionID, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return protocol.Nil, retry.Permanent(err)
	}
	defer c.conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	buf := make([]byte, protocol.MaxDatagram)
	n, err := c.conn.Read(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return protocol.Nil, fmt.Errorf("await ack: %w", udperrors.ErrTimeout)
		}
		return protocol.Nil, udperrors.Wrap("recv", c.server, err)
	}

	f, err := protocol.Decode(buf[:n])
	if err != nil {
		return protocol.Nil, retry.Permanent(fmt.Errorf("%w: %v", udperrors.ErrProtocolViolation, err))
	}
	ack, ok := f.(protocol.NewSessionAck)
	if !ok {
		return protocol.Nil, retry.Permanent(fmt.Errorf("%w: expected %s, got %s",
			udperrors.ErrProtocolViolation, protocol.OpNewSessionAck, f.Opcode()))
	}
	return ack.ID, nil
}

// ID returns the session id assigned by the server.
func (c *Client) ID() protocol.SessionID { return c.id }

// State returns the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// LocalAddr returns the client's bound address.
func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Close releases the socket.
func (c *Client) Close() error {
	c.state.Store(int32(StateDisconnected))
	return c.conn.Close()
}

// Resize tells the server the local terminal's size.
func (c *Client) Resize(rows, cols uint16) error {
	return c.send(protocol.Resize{ID: c.id, Rows: rows, Cols: cols})
}

func (c *Client) send(f protocol.Frame) error {
	wire, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(wire); err != nil {
		return udperrors.Wrap("send", c.server, err)
	}
	return nil
}

// Run forwards in to the session and the session's output to out
// until in ends, the detach key is typed, the socket is closed or ctx
// is cancelled.  The socket is closed when Run returns.
func (c *Client) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	defer c.Close()
	return util.Race(ctx, func() { c.conn.Close() },
		func(ctx context.Context) error { return c.receiveLoop(ctx, out) },
		func(ctx context.Context) error { return c.inputLoop(ctx, in) },
	)
}

func (c *Client) receiveLoop(ctx context.Context, out io.Writer) error {
	buf := make([]byte, protocol.MaxDatagram)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if udperrors.IsClosed(err) {
				return fmt.Errorf("socket: %w", udperrors.ErrClosed)
			}
			// ICMP port unreachable surfaces here while the server is
			// down; keep listening.
			c.log.Verbose("recv from %s: %v", c.server, err)
			continue
		}
		if n == 0 {
			continue
		}

		f, err := protocol.Decode(buf[:n])
		if err != nil {
			c.log.Verbose("dropping datagram: %v", err)
			continue
		}
		switch v := f.(type) {
		case protocol.UpdateState:
			if _, err := out.Write(v.Data); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		case protocol.NewSessionAck:
			if v.ID != c.id {
				c.log.Debug("ignoring ack for extra session %s", v.ID)
			}
		default:
			c.log.Debug("ignoring unexpected %s frame", f.Opcode())
		}
	}
}

func (c *Client) inputLoop(ctx context.Context, in io.Reader) error {
	chunks := make(chan []byte)
	readErr := make(chan error, 1)

	// The read cannot be interrupted, so it runs on its own and is
	// abandoned if Run ends first.
	go func() {
		bufp := util.GetBuf()
		defer util.PutBuf(bufp)
		buf := *bufp
		for {
			n, err := in.Read(buf)
			if n > 0 {
				p := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- p:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("input: %w", udperrors.ErrClosed)
			}
			return fmt.Errorf("read input: %w", err)
		case p := <-chunks:
			detach := false
			if c.detachKey != 0 {
				if i := bytes.IndexByte(p, c.detachKey); i >= 0 {
					p, detach = p[:i], true
				}
			}
			if len(p) > 0 {
				if err := c.send(protocol.Write{ID: c.id, Data: p}); err != nil {
					if udperrors.IsClosed(err) {
						return err
					}
					c.log.Verbose("%v", err)
				}
			}
			if detach {
				return ErrDetached
			}
		}
	}
}
