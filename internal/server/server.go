// Package server runs the dispatcher: the single goroutine that reads
// the UDP socket, decodes each datagram and routes it to the session
// it names.
//
// Only the dispatcher receives from the socket and only the dispatcher
// enqueues into sessions, so input for one session is delivered in the
// order it arrived.  Sessions send their output on the same socket
// directly.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"udpterm/internal/capability"
	udperrors "udpterm/internal/errors"
	"udpterm/internal/metrics"
	"udpterm/internal/protocol"
	"udpterm/internal/pty"
	"udpterm/internal/registry"
	"udpterm/internal/retry"
	"udpterm/internal/session"
	"udpterm/util"
)

// DefaultShutdownGrace is how long Serve waits for sessions to drain
// their queues before cancelling them.
const DefaultShutdownGrace = 2 * time.Second

// Config configures a Server.
type Config struct {
	// Capability builds each session's child.  Nil means the user's shell.
	Capability    capability.Capability
	QueueSize     int
	HistorySize   int
	InitialSize   pty.Size
	ShutdownGrace time.Duration
	// Breaker guards session creation.  Nil means a breaker with
	// retry.DefaultCircuitBreakerConfig.
	Breaker *retry.CircuitBreaker

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Server dispatches datagrams from one socket to sessions.
type Server struct {
	conn     *net.UDPConn
	cfg      Config
	registry *registry.Registry
	breaker  *retry.CircuitBreaker
	log      *util.Logger
	metrics  *metrics.Collector

	sessCtx    context.Context
	cancelSess context.CancelFunc
	wg         sync.WaitGroup
}

// New returns a Server for an already bound socket.  The caller keeps
// ownership of conn and closes it after Serve returns.
func New(conn *net.UDPConn, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	if cfg.Capability == nil {
		cfg.Capability = &capability.Shell{}
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	breaker := cfg.Breaker
	if breaker == nil {
		bc := retry.DefaultCircuitBreakerConfig()
		bc.OnStateChange = func(from, to retry.State) {
			logger.Warn("session spawning circuit %s -> %s", from, to)
		}
		breaker = retry.NewCircuitBreaker(bc)
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		conn:       conn,
		cfg:        cfg,
		registry:   registry.New(),
		breaker:    breaker,
		log:        logger,
		metrics:    cfg.Metrics,
		sessCtx:    sessCtx,
		cancelSess: cancel,
	}
}

// Addr returns the socket's local address.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Registry exposes the live sessions.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Serve runs the dispatch loop until ctx is cancelled, then closes
// every session and waits for them to end.  It returns nil after a
// cancellation and an error if the socket fails.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("serving %s on udp %s", s.cfg.Capability, s.conn.LocalAddr())

	stop := context.AfterFunc(ctx, func() {
		// Wake the parked read without closing the socket sessions
		// still send on.
		s.conn.SetReadDeadline(time.Now()) //nolint:errcheck
	})
	defer stop()

	err := s.loop(ctx)
	s.shutdown()
	return err
}

func (s *Server) loop(ctx context.Context) error {
	buf := make([]byte, protocol.MaxDatagram)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if udperrors.IsClosed(err) {
				return fmt.Errorf("socket: %w", udperrors.ErrClosed)
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.log.Verbose("recv: %v", err)
			s.metrics.RecordError(err.Error())
			continue
		}
		s.metrics.DatagramReceived(n)
		s.dispatch(buf[:n], from)
	}
}

// dispatch handles one datagram.  Nothing here may block on a session.
func (s *Server) dispatch(datagram []byte, from *net.UDPAddr) {
	if len(datagram) == 0 {
		s.log.Debug("ignoring empty datagram from %s", from)
		return
	}

	f, err := protocol.Decode(datagram)
	if err != nil {
		s.metrics.DecodeError()
		s.log.Verbose("dropping datagram from %s: %v", from, err)
		return
	}

	switch v := f.(type) {
	case protocol.NewSession:
		s.spawn(from)

	case protocol.Write:
		h, err := s.registry.Get(v.ID)
		if err != nil {
			s.metrics.UnknownSession()
			s.log.Verbose("write from %s: %v", from, err)
			return
		}
		if err := h.Enqueue(v.Data); err != nil {
			if udperrors.Is(err, udperrors.ErrQueueFull) {
				s.metrics.WriteDropped()
				s.log.Warn("dropping %d bytes: %v", len(v.Data), err)
				return
			}
			s.log.Debug("write from %s: %v", from, err)
		}

	case protocol.Resize:
		h, err := s.registry.Get(v.ID)
		if err != nil {
			s.metrics.UnknownSession()
			s.log.Verbose("resize from %s: %v", from, err)
			return
		}
		if err := h.Resize(v.Rows, v.Cols); err != nil {
			s.log.Verbose("resize %s: %v", v.ID.Short(), err)
			return
		}
		s.log.Debug("session %s resized to %dx%d", v.ID.Short(), v.Cols, v.Rows)

	default:
		s.metrics.DecodeError()
		s.log.Verbose("dropping %s frame from %s: not a client frame", f.Opcode(), from)
	}
}

// spawn creates a session for from, registers it, starts it and acks.
// Spawn failures are logged and produce no reply.
func (s *Server) spawn(from *net.UDPAddr) {
	id, err := protocol.NewSessionID()
	if err != nil {
		s.log.Error("%v", err)
		return
	}

	var sess *session.Session
	err = s.breaker.Execute(func() error {
		var err error
		sess, err = session.New(session.Config{
			ID:          id,
			Peer:        from,
			Conn:        s.conn,
			Capability:  s.cfg.Capability,
			Size:        s.cfg.InitialSize,
			QueueSize:   s.cfg.QueueSize,
			HistorySize: s.cfg.HistorySize,
			Logger:      s.log,
			Metrics:     s.metrics,
		})
		return err
	})
	if err != nil {
		s.metrics.RecordError(err.Error())
		s.log.Warn("new session for %s: %v", from, err)
		return
	}

	if err := s.registry.Insert(id, sess.Handle()); err != nil {
		s.log.Error("%v", err)
		sess.Close()
		return
	}

	// The ack goes out before Run starts reading, so it is the first
	// datagram the client sees for this session.
	s.ack(id, from)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := sess.Run(s.sessCtx)
		s.registry.Remove(id)
		s.log.Info("session %s for %s closed (%v)", id.Short(), from, err)
	}()
	s.log.Info("session %s opened for %s", id.Short(), from)
}

func (s *Server) ack(id protocol.SessionID, to *net.UDPAddr) {
	wire, err := protocol.Encode(protocol.NewSessionAck{ID: id})
	if err != nil {
		s.log.Error("%v", err)
		return
	}
	n, err := s.conn.WriteToUDP(wire, to)
	if err != nil {
		s.log.Warn("ack to %s: %v", to, err)
		return
	}
	s.metrics.DatagramSent(n)
}

// shutdown closes every session's queue, lets them drain for the grace
// period and then cancels whatever is still running.
func (s *Server) shutdown() {
	handles := s.registry.Handles()
	if len(handles) > 0 {
		s.log.Info("closing %d session(s)", len(handles))
	}
	for _, h := range handles {
		h.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	t := time.NewTimer(s.cfg.ShutdownGrace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		s.log.Warn("sessions still running after %v; killing them", s.cfg.ShutdownGrace)
		s.cancelSess()
		<-done
	}
	s.cancelSess()
}

// Sessions lists the live sessions for the metrics endpoint.
func (s *Server) Sessions() []metrics.SessionInfo {
	var out []metrics.SessionInfo
	s.registry.Range(func(id protocol.SessionID, h *session.Handle) bool {
		info := metrics.SessionInfo{
			ID:      id.String(),
			Peer:    h.Peer.String(),
			Created: h.Created,
			Pid:     h.Pid,
		}
		if h.History != nil {
			info.OutputBytes = h.History.Total()
		}
		out = append(out, info)
		return true
	})
	return out
}
