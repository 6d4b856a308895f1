package session

import "sync"

// DefaultHistorySize bounds the output kept per session for the
// dashboard (64 KiB).
const DefaultHistorySize = 64 * 1024

// History keeps the most recent bytes of a session's terminal output.
// Older bytes are overwritten once the buffer is full.  Escape
// sequences are stored as-is.
//
// All methods are safe for concurrent use.
type History struct {
	mu    sync.Mutex
	buf   []byte
	head  int    // next write position
	full  bool   // buf has wrapped at least once
	total uint64 // bytes ever written
}

// NewHistory returns a History holding at most size bytes.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{buf: make([]byte, size)}
}

// Write appends p.  It never fails, so History can sit behind an
// io.Writer.
func (h *History) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.total += uint64(len(p))
	size := len(h.buf)
	if len(p) >= size {
		copy(h.buf, p[len(p)-size:])
		h.head = 0
		h.full = true
		return len(p), nil
	}
	n := copy(h.buf[h.head:], p)
	if n < len(p) {
		copy(h.buf, p[n:])
		h.full = true
	}
	h.head = (h.head + len(p)) % size
	if h.head == 0 && len(p) > 0 {
		h.full = true
	}
	return len(p), nil
}

// Bytes returns a copy of the retained output, oldest first.
func (h *History) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.full {
		return append([]byte(nil), h.buf[:h.head]...)
	}
	out := make([]byte, 0, len(h.buf))
	out = append(out, h.buf[h.head:]...)
	return append(out, h.buf[:h.head]...)
}

// Total returns the number of bytes ever written, including those no
// longer retained.
func (h *History) Total() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}
