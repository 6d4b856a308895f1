// Package session bridges one client's datagrams and one pseudo-terminal.
//
// A Session owns a pty.Device with a child process on it and a bounded
// inbound queue.  Run moves queued input bytes into the terminal and
// terminal output back to the client as UpdateState frames until
// either direction ends.  The dispatcher talks to a running session
// only through its Handle.
package session

import (
	"context"
	"fmt"
	"net"
	"time"

	"udpterm/internal/capability"
	udperrors "udpterm/internal/errors"
	"udpterm/internal/metrics"
	"udpterm/internal/protocol"
	"udpterm/internal/pty"
	"udpterm/util"
)

// DefaultQueueSize is the inbound queue capacity in chunks.
const DefaultQueueSize = 32

// exitDrain is how long the reader may keep draining output after the
// child exits, for grandchildren that still hold the terminal open.
const exitDrain = 250 * time.Millisecond

// Sender writes a datagram to a peer.  *net.UDPConn satisfies it and
// is safe to share between sessions.
type Sender interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Config describes a session to create.
type Config struct {
	ID   protocol.SessionID
	Peer *net.UDPAddr
	Conn Sender

	// Capability builds the child.  Nil means the user's shell.
	Capability capability.Capability
	// Size is the initial window size.  Zero means pty.DefaultSize.
	Size        pty.Size
	QueueSize   int
	HistorySize int

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Session is one live terminal.
type Session struct {
	id      protocol.SessionID
	peer    *net.UDPAddr
	conn    Sender
	dev     *pty.Device
	handle  *Handle
	inbound <-chan []byte
	history *History
	log     *util.Logger
	metrics *metrics.Collector
}

// New allocates a terminal, sizes it and spawns the child on it.  The
// session does nothing until Run is called.
func New(cfg Config) (*Session, error) {
	if cfg.Conn == nil || cfg.Peer == nil {
		return nil, fmt.Errorf("session: connection and peer are required")
	}
	capab := cfg.Capability
	if capab == nil {
		capab = &capability.Shell{}
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	logger = logger.With("session", cfg.ID.Short())

	dev, err := pty.Open(pty.Options{Size: cfg.Size, Raw: capab.Raw()})
	if err != nil {
		return nil, err
	}
	if err := dev.Start(capab.Command()); err != nil {
		dev.Close()
		return nil, err
	}

	inbound := make(chan []byte, queueSize)
	history := NewHistory(cfg.HistorySize)
	s := &Session{
		id:      cfg.ID,
		peer:    cfg.Peer,
		conn:    cfg.Conn,
		dev:     dev,
		inbound: inbound,
		history: history,
		log:     logger,
		metrics: cfg.Metrics,
	}
	s.handle = NewHandle(cfg.ID, cfg.Peer, inbound, dev.Resize)
	s.handle.History = history
	s.handle.Pid = dev.Pid()
	logger.Verbose("spawned %s on %s (pid %d) for %s", capab, dev.Name(), dev.Pid(), cfg.Peer)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() protocol.SessionID { return s.id }

// Handle returns the dispatcher-facing endpoint of this session.
func (s *Session) Handle() *Handle { return s.handle }

// Close releases a session that will never be Run: the child is
// killed and the terminal closed.
func (s *Session) Close() error {
	s.handle.finish()
	return s.dev.Close()
}

// Run bridges the queue and the terminal until the child exits, the
// terminal hangs up, the queue is closed or ctx is cancelled.  The
// device is closed and the child reaped before Run returns.  The error
// wraps errors.ErrClosed on a normal end.
func (s *Session) Run(ctx context.Context) error {
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	defer s.handle.finish()

	err := util.Race(ctx, func() { s.dev.Close() },
		s.writeLoop,
		s.readLoop,
		s.waitExit,
	)
	s.dev.Close()

	if util.IsHarmless(err) {
		s.log.Verbose("session ended: %v", err)
	} else {
		s.log.Warn("session ended: %v", err)
		s.metrics.RecordError(err.Error())
	}
	return err
}

// writeLoop writes each queued chunk fully into the terminal.
func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-s.inbound:
			if !ok {
				return fmt.Errorf("inbound queue: %w", udperrors.ErrClosed)
			}
			if _, err := s.dev.Write(p); err != nil {
				return err
			}
		}
	}
}

// readLoop forwards whatever the terminal produces, without waiting
// for line ends, as UpdateState frames to the peer.
func (s *Session) readLoop(ctx context.Context) error {
	bufp := util.GetBuf()
	defer util.PutBuf(bufp)
	buf := *bufp

	for {
		n, err := s.dev.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			s.history.Write(chunk)
			if sendErr := s.send(chunk); sendErr != nil {
				if udperrors.IsClosed(sendErr) {
					return sendErr
				}
				s.log.Verbose("send to %s: %v", s.peer, sendErr)
			}
		}
		if err != nil {
			if udperrors.Is(err, udperrors.ErrClosed) {
				return err
			}
			if udperrors.IsClosed(err) {
				return fmt.Errorf("terminal hung up: %w", udperrors.ErrClosed)
			}
			return err
		}
		if n == 0 {
			return fmt.Errorf("terminal read returned no data: %w", udperrors.ErrClosed)
		}
	}
}

func (s *Session) send(chunk []byte) error {
	wire, err := protocol.Encode(protocol.UpdateState{Data: chunk})
	if err != nil {
		return err
	}
	n, err := s.conn.WriteToUDP(wire, s.peer)
	if err != nil {
		return udperrors.Wrap("send", s.peer.String(), err)
	}
	s.metrics.DatagramSent(n)
	return nil
}

// waitExit ends the session shortly after the child exits, even if a
// background process keeps the terminal open.
func (s *Session) waitExit(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.dev.Done():
	}
	s.log.Debug("child exited: %v", s.dev.ExitErr())

	t := time.NewTimer(exitDrain)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return fmt.Errorf("child exited: %w", udperrors.ErrClosed)
	}
}
