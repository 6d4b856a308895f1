package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPort is the UDP port the server binds and the client dials
	// when none is given.
	DefaultPort = 7070

	// DefaultListenHost binds every interface.  It is applied by
	// Finalize only in listen mode; a client has no default server.
	DefaultListenHost = "0.0.0.0"

	// DefaultQueueSize is the capacity of each session's inbound queue.
	DefaultQueueSize = 32

	// DefaultHistorySize is how much recent output each session keeps
	// for the dashboard.
	DefaultHistorySize = 64 * 1024

	// DefaultShutdownGrace is how long shutdown waits for sessions to
	// drain before killing them.
	DefaultShutdownGrace = 2 * time.Second

	// DefaultHandshakeTimeout bounds each NewSession attempt.
	DefaultHandshakeTimeout = 2 * time.Second

	// DefaultHandshakeAttempts is how many NewSession datagrams the
	// client sends before giving up.
	DefaultHandshakeAttempts = 5

	// DefaultDetachKey is Ctrl-].
	DefaultDetachKey = "ctrl-]"

	// DefaultLogFormat is the human-readable console format.
	DefaultLogFormat = "console"
)

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	return &Config{
		Network: NetworkConfig{
			Port:              DefaultPort,
			ReuseAddr:         true,
			HandshakeTimeout:  DefaultHandshakeTimeout,
			HandshakeAttempts: DefaultHandshakeAttempts,
		},
		Session: SessionConfig{
			QueueSize:     DefaultQueueSize,
			HistorySize:   DefaultHistorySize,
			ShutdownGrace: DefaultShutdownGrace,
		},
		Client: ClientConfig{
			DetachKey: DefaultDetachKey,
		},
		Output: OutputConfig{
			Verbose:   1,
			LogFormat: DefaultLogFormat,
		},
	}
}
