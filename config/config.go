// Package config defines the runtime configuration for udpterm and the
// layered loader that fills it from defaults, a YAML file, the
// environment, and the command line.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	udperrors "udpterm/internal/errors"
	"udpterm/util"
)

// Config holds every tuneable for one udpterm process, server or client.
type Config struct {
	Network NetworkConfig `yaml:"network"`
	Session SessionConfig `yaml:"session"`
	Client  ClientConfig  `yaml:"client"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Output  OutputConfig  `yaml:"output"`
}

// NetworkConfig covers the socket on both sides.
type NetworkConfig struct {
	Listen    bool   `yaml:"listen"`
	Host      string `yaml:"host"` // bind host (server) or server host (client)
	Port      int    `yaml:"port"`
	ReuseAddr bool   `yaml:"reuse_addr"`

	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	HandshakeAttempts int           `yaml:"handshake_attempts"`
}

// SessionConfig covers what the server runs per session.
type SessionConfig struct {
	Execute string `yaml:"exec"`    // -e: program path
	Command string `yaml:"command"` // -c: shell command
	Echo    bool   `yaml:"echo"`    // raw byte relay instead of a shell

	QueueSize     int           `yaml:"queue_size"`
	HistorySize   int           `yaml:"history_size"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// ClientConfig covers the interactive attach.
type ClientConfig struct {
	DetachKey string `yaml:"detach_key"`
}

// RuntimeConfig covers the server's operator surfaces.
type RuntimeConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	Dashboard   bool   `yaml:"dashboard"`
	DryRun      bool   `yaml:"-"`
}

// OutputConfig covers logging.
type OutputConfig struct {
	Verbose   int    `yaml:"verbose"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// Address returns host:port for the configured endpoint.
func (c *Config) Address() string {
	return util.FormatAddr(c.Network.Host, c.Network.Port)
}

// Finalize fills values that depend on the mode chosen by the last
// configuration layer.  Call it after flags are parsed.
func (c *Config) Finalize() {
	if c.Network.Listen && c.Network.Host == "" {
		c.Network.Host = DefaultListenHost
	}
	if c.Output.LogFormat == "" {
		c.Output.LogFormat = DefaultLogFormat
	}
}

// DetachByte returns the byte that ends an interactive client, or 0
// when detaching is disabled.
func (c *Config) DetachByte() (byte, error) {
	return ParseDetachKey(c.Client.DetachKey)
}

// ParseDetachKey accepts "ctrl-X" for a letter or one of @[\]^_, "none"
// or "" to disable, or a literal byte value such as "0x1d" or "29".
func ParseDetachKey(s string) (byte, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none", "off":
		return 0, nil
	}
	if rest, ok := strings.CutPrefix(s, "ctrl-"); ok || strings.HasPrefix(s, "^") {
		if !ok {
			rest = s[1:]
		}
		if len(rest) == 1 {
			c := strings.ToUpper(rest)[0]
			if c >= '@' && c <= '_' {
				return c - '@', nil
			}
		}
		return 0, fmt.Errorf("invalid detach key %q", s)
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid detach key %q", s)
	}
	return byte(n), nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Network.Port < 1 || c.Network.Port > 65535 {
		return &udperrors.ConfigError{
			Field:   "port",
			Value:   c.Network.Port,
			Message: "out of range 1-65535",
			Hint:    fmt.Sprintf("use a port between 1 and 65535 (default %d)", DefaultPort),
		}
	}
	if c.Network.Host == "" {
		msg := "server host is required"
		hint := "run `udpterm HOST [PORT]` to attach, or `udpterm -l` to serve"
		if c.Network.Listen {
			msg = "bind host is empty"
			hint = "use 0.0.0.0 to listen on every interface"
		}
		return &udperrors.ConfigError{Field: "host", Message: msg, Hint: hint}
	}

	if c.Session.Execute != "" && c.Session.Command != "" {
		return &udperrors.ConfigError{
			Field:   "exec",
			Value:   c.Session.Execute,
			Message: "-e and -c are mutually exclusive",
		}
	}
	if c.Session.Echo && (c.Session.Execute != "" || c.Session.Command != "") {
		return &udperrors.ConfigError{
			Field:   "echo",
			Message: "--echo cannot be combined with -e or -c",
		}
	}
	if c.Session.QueueSize < 1 {
		return &udperrors.ConfigError{
			Field:   "queue-size",
			Value:   c.Session.QueueSize,
			Message: "must be positive",
			Hint:    fmt.Sprintf("the default is %d", DefaultQueueSize),
		}
	}
	if c.Session.HistorySize < 0 {
		return &udperrors.ConfigError{
			Field:   "history-size",
			Value:   c.Session.HistorySize,
			Message: "must not be negative",
		}
	}
	if c.Session.ShutdownGrace < 0 {
		return &udperrors.ConfigError{
			Field:   "shutdown-grace",
			Value:   c.Session.ShutdownGrace,
			Message: "must not be negative",
		}
	}

	if c.Network.HandshakeTimeout <= 0 {
		return &udperrors.ConfigError{
			Field:   "handshake-timeout",
			Value:   c.Network.HandshakeTimeout,
			Message: "must be positive",
			Hint:    "a duration such as 2s or 500ms",
		}
	}
	if c.Network.HandshakeAttempts < 1 {
		return &udperrors.ConfigError{
			Field:   "handshake-attempts",
			Value:   c.Network.HandshakeAttempts,
			Message: "must be at least 1",
		}
	}
	if _, err := c.DetachByte(); err != nil {
		return &udperrors.ConfigError{
			Field:   "detach-key",
			Value:   c.Client.DetachKey,
			Message: err.Error(),
			Hint:    `use "ctrl-]", "ctrl-q", a byte like 0x1d, or "none"`,
		}
	}

	if !c.Network.Listen {
		if c.Runtime.Dashboard {
			return &udperrors.ConfigError{
				Field:   "dashboard",
				Message: "the dashboard is only available in listen mode",
				Hint:    "add -l to run a server",
			}
		}
		if c.Runtime.MetricsAddr != "" {
			return &udperrors.ConfigError{
				Field:   "metrics-addr",
				Value:   c.Runtime.MetricsAddr,
				Message: "metrics are only served in listen mode",
				Hint:    "add -l to run a server",
			}
		}
	}

	switch c.Output.LogFormat {
	case "", "console", "json":
	default:
		return &udperrors.ConfigError{
			Field:   "log-format",
			Value:   c.Output.LogFormat,
			Message: "unknown format",
			Hint:    "use console or json",
		}
	}
	if c.Output.Verbose < 0 {
		return &udperrors.ConfigError{
			Field:   "verbose",
			Value:   c.Output.Verbose,
			Message: "must not be negative",
		}
	}
	return nil
}
