// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a udpterm server.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
//
// Counters live in atomics so the hot path never touches a lock; the
// Prometheus registry reads them through CounterFunc and GaugeFunc
// collectors at scrape time.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "udpterm"

// Collector tracks runtime metrics for a udpterm server.
// A nil Collector is safe to use: all methods become no-ops.
type Collector struct {
	sessionsActive  atomic.Int64
	sessionsTotal   atomic.Int64
	datagramsIn     atomic.Int64
	datagramsOut    atomic.Int64
	bytesIn         atomic.Int64
	bytesOut        atomic.Int64
	decodeErrors    atomic.Int64
	writesDropped   atomic.Int64
	unknownSessions atomic.Int64
	errorsTotal     atomic.Int64

	mu              sync.RWMutex
	startTime       time.Time
	lastHealthCheck time.Time
	lastError       time.Time
	lastErrorMsg    string

	registry *prometheus.Registry
}

// New creates a metrics collector with the start time set to now and
// its counters registered on a private Prometheus registry.
func New() *Collector {
	c := &Collector{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
	}
	c.register()
	return c
}

func (c *Collector) register() {
	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions with a live terminal.",
		}, func() float64 { return float64(c.sessionsActive.Load()) }),
		counter("sessions_total", "Sessions created since start.", &c.sessionsTotal),
		counter("datagrams_received_total", "Datagrams read from the socket.", &c.datagramsIn),
		counter("datagrams_sent_total", "Datagrams written to the socket.", &c.datagramsOut),
		counter("received_bytes_total", "Bytes read from the socket.", &c.bytesIn),
		counter("sent_bytes_total", "Bytes written to the socket.", &c.bytesOut),
		counter("decode_errors_total", "Datagrams dropped because they were not valid frames.", &c.decodeErrors),
		counter("writes_dropped_total", "Write frames dropped because a session queue was full.", &c.writesDropped),
		counter("unknown_session_total", "Frames addressed to a session that does not exist.", &c.unknownSessions),
		counter("errors_total", "Errors recorded by any component.", &c.errorsTotal),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the collector was created.",
		}, func() float64 { return time.Since(c.startTime).Seconds() }),
	)
}

// Handler serves the Prometheus text exposition of this collector.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the current number of live sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// ── Datagram metrics ─────────────────────────────────────────────────

// DatagramReceived records one inbound datagram of n bytes.
func (c *Collector) DatagramReceived(n int) {
	if c == nil {
		return
	}
	c.datagramsIn.Add(1)
	c.bytesIn.Add(int64(n))
}

// DatagramSent records one outbound datagram of n bytes.
func (c *Collector) DatagramSent(n int) {
	if c == nil {
		return
	}
	c.datagramsOut.Add(1)
	c.bytesOut.Add(int64(n))
}

// DatagramsIn returns the number of datagrams received.
func (c *Collector) DatagramsIn() int64 {
	if c == nil {
		return 0
	}
	return c.datagramsIn.Load()
}

// DatagramsOut returns the number of datagrams sent.
func (c *Collector) DatagramsOut() int64 {
	if c == nil {
		return 0
	}
	return c.datagramsOut.Load()
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Dispatch metrics ─────────────────────────────────────────────────

// DecodeError records a datagram that failed to decode.
func (c *Collector) DecodeError() {
	if c == nil {
		return
	}
	c.decodeErrors.Add(1)
}

// DecodeErrors returns the number of undecodable datagrams.
func (c *Collector) DecodeErrors() int64 {
	if c == nil {
		return 0
	}
	return c.decodeErrors.Load()
}

// WriteDropped records a Write frame lost to a full session queue.
func (c *Collector) WriteDropped() {
	if c == nil {
		return
	}
	c.writesDropped.Add(1)
}

// WritesDropped returns the number of dropped Write frames.
func (c *Collector) WritesDropped() int64 {
	if c == nil {
		return 0
	}
	return c.writesDropped.Load()
}

// UnknownSession records a frame for a session id nobody owns.
func (c *Collector) UnknownSession() {
	if c == nil {
		return
	}
	c.unknownSessions.Add(1)
}

// UnknownSessions returns the number of frames with an unknown id.
func (c *Collector) UnknownSessions() int64 {
	if c == nil {
		return 0
	}
	return c.unknownSessions.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Health ───────────────────────────────────────────────────────────

// RecordHealthCheck updates the last health check timestamp.
func (c *Collector) RecordHealthCheck() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	DatagramsIn      int64  `json:"datagrams_in"`
	DatagramsOut     int64  `json:"datagrams_out"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	DecodeErrors     int64  `json:"decode_errors"`
	WritesDropped    int64  `json:"writes_dropped"`
	UnknownSessions  int64  `json:"unknown_sessions"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastHealthCheck  string `json:"last_health_check,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:          time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive:  c.sessionsActive.Load(),
		SessionsTotal:   c.sessionsTotal.Load(),
		DatagramsIn:     c.datagramsIn.Load(),
		DatagramsOut:    c.datagramsOut.Load(),
		BytesIn:         c.bytesIn.Load(),
		BytesOut:        c.bytesOut.Load(),
		DecodeErrors:    c.decodeErrors.Load(),
		WritesDropped:   c.writesDropped.Load(),
		UnknownSessions: c.unknownSessions.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
	}
	if !c.lastHealthCheck.IsZero() {
		s.LastHealthCheck = c.lastHealthCheck.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
