package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	udperrors "udpterm/internal/errors"
	"udpterm/internal/protocol"
)

// Handle is what the registry stores for a session: a send-only way
// into its inbound queue plus read-only metadata.
type Handle struct {
	ID      protocol.SessionID
	Peer    *net.UDPAddr
	Created time.Time
	History *History
	Pid     int

	mu     sync.Mutex
	queue  chan<- []byte
	closed bool
	resize func(rows, cols uint16) error
	done   chan struct{}
	once   sync.Once
}

// NewHandle wraps queue and resize into a handle.  The handle owns
// queue from here on: Close and the end of the session close it.
func NewHandle(id protocol.SessionID, peer *net.UDPAddr, queue chan<- []byte, resize func(rows, cols uint16) error) *Handle {
	return &Handle{
		ID:      id,
		Peer:    peer,
		Created: time.Now(),
		queue:   queue,
		resize:  resize,
		done:    make(chan struct{}),
	}
}

// Enqueue hands p to the session without blocking.  A full queue
// returns ErrQueueFull and the bytes are dropped; a finished or closed
// session returns ErrClosed.
func (h *Handle) Enqueue(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("session %s: %w", h.ID.Short(), udperrors.ErrClosed)
	}
	select {
	case h.queue <- p:
		return nil
	default:
		return fmt.Errorf("session %s: %w", h.ID.Short(), udperrors.ErrQueueFull)
	}
}

// Resize changes the session's window size.
func (h *Handle) Resize(rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return fmt.Errorf("resize session %s to %dx%d: zero dimension", h.ID.Short(), cols, rows)
	}
	select {
	case <-h.done:
		return fmt.Errorf("session %s: %w", h.ID.Short(), udperrors.ErrClosed)
	default:
	}
	if h.resize == nil {
		return fmt.Errorf("session %s: resize not supported", h.ID.Short())
	}
	return h.resize(rows, cols)
}

// Close closes the inbound queue.  The session drains what is already
// queued and then ends.  Safe to call more than once.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.queue)
	}
}

// Done is closed once the session's Run has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) finish() {
	h.once.Do(func() {
		h.Close()
		close(h.done)
	})
}
