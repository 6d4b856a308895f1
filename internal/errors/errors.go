// Package errors provides domain-specific error types for udpterm.
//
// These types carry structured context (operation, device path, opcode)
// that lets the dispatcher and sessions decide whether a failure is
// local to one datagram, fatal to one session, or worth retrying.
package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrClosed             = errors.New("io has been closed")
	ErrSessionNotFound    = errors.New("session not found")
	ErrDuplicateSession   = errors.New("session id already registered")
	ErrQueueFull          = errors.New("session inbound queue is full")
	ErrProtocolViolation  = errors.New("protocol violation")
	ErrPayloadTooLarge    = errors.New("payload exceeds maximum datagram size")
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrTimeout            = errors.New("operation timed out")
	ErrHandshakeExhausted = errors.New("no handshake response from server")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a socket operation.
type NetworkError struct {
	Op        string // operation: "listen", "dial", "recv", "send"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DeviceError represents an OS-level failure on a pseudo-terminal or
// its child process.  It is fatal to the owning session.
type DeviceError struct {
	Op   string // "open", "grant", "unlock", "ptsname", "spawn", "read", "write", "resize"
	Path string // device path when known
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("pty %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("pty %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// DecodeError is returned for datagrams that are not valid frames.
// The dispatcher logs and drops them.
type DecodeError struct {
	Reason string
	Opcode byte
	Err    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode frame (opcode 0x%02x): %s", e.Opcode, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapDevice creates a DeviceError.
func WrapDevice(op, path string, err error) *DeviceError {
	return &DeviceError{Op: op, Path: path, Err: err}
}

// Decode creates a DecodeError.
func Decode(opcode byte, reason string, err error) *DecodeError {
	return &DecodeError{Opcode: opcode, Reason: reason, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsClosed reports whether err marks the normal end of an I/O
// direction: an explicit ErrClosed, EOF, a closed file or socket, or
// the EIO a Linux PTY master returns once the slave side hangs up.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	return errors.Is(err, syscall.EIO)
}

// IsDecode reports whether err is a DecodeError.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	// A UDP socket reports ICMP port-unreachable as ECONNREFUSED while
	// the server is not up yet.
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return true
		}
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use udpterm/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
