package config

// loader.go - configuration loading from a YAML file and the environment.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (LoadFromEnv)
//   3. Config file  (LoadFile, --config or UDPTERM_CONFIG)
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"udpterm/util"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "UDPTERM"

// envOverlay mirrors the settable variables.  Pointer fields stay nil
// when the variable is unset, so only variables that are present
// override the lower layers.
type envOverlay struct {
	Config string `envconfig:"CONFIG"`

	Listen    *bool   `envconfig:"LISTEN"`
	Host      *string `envconfig:"HOST"`
	Port      *int    `envconfig:"PORT"`
	ReuseAddr *bool   `envconfig:"REUSE_ADDR"`

	HandshakeTimeout  *time.Duration `envconfig:"HANDSHAKE_TIMEOUT"`
	HandshakeAttempts *int           `envconfig:"HANDSHAKE_ATTEMPTS"`

	Execute       *string        `envconfig:"EXEC"`
	Command       *string        `envconfig:"COMMAND"`
	Echo          *bool          `envconfig:"ECHO"`
	QueueSize     *int           `envconfig:"QUEUE_SIZE"`
	HistorySize   *int           `envconfig:"HISTORY_SIZE"`
	ShutdownGrace *time.Duration `envconfig:"SHUTDOWN_GRACE"`

	DetachKey *string `envconfig:"DETACH_KEY"`

	MetricsAddr *string `envconfig:"METRICS_ADDR"`
	Dashboard   *bool   `envconfig:"DASHBOARD"`

	Log       *string `envconfig:"LOG"`
	LogFormat *string `envconfig:"LOG_FORMAT"`
	LogFile   *string `envconfig:"LOG_FILE"`
}

// Load builds a Config from defaults, then the file at path (or
// UDPTERM_CONFIG when path is empty), then UDPTERM_* variables.
// A missing explicit file is an error; no file at all is fine.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if path == "" {
		path = env.Config
	}
	if path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := env.apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg.  Keys absent from
// the file keep their current value; unknown keys are an error.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := decodeYAML(cfg, data); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

func decodeYAML(cfg *Config, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadFromEnv overlays UDPTERM_* variables onto cfg.  Only variables
// that are set override the existing value.
func LoadFromEnv(cfg *Config) error {
	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return env.apply(cfg)
}

func (e *envOverlay) apply(cfg *Config) error {
	set(&cfg.Network.Listen, e.Listen)
	set(&cfg.Network.Host, e.Host)
	set(&cfg.Network.Port, e.Port)
	set(&cfg.Network.ReuseAddr, e.ReuseAddr)
	set(&cfg.Network.HandshakeTimeout, e.HandshakeTimeout)
	set(&cfg.Network.HandshakeAttempts, e.HandshakeAttempts)

	set(&cfg.Session.Execute, e.Execute)
	set(&cfg.Session.Command, e.Command)
	set(&cfg.Session.Echo, e.Echo)
	set(&cfg.Session.QueueSize, e.QueueSize)
	set(&cfg.Session.HistorySize, e.HistorySize)
	set(&cfg.Session.ShutdownGrace, e.ShutdownGrace)

	set(&cfg.Client.DetachKey, e.DetachKey)

	set(&cfg.Runtime.MetricsAddr, e.MetricsAddr)
	set(&cfg.Runtime.Dashboard, e.Dashboard)

	set(&cfg.Output.LogFormat, e.LogFormat)
	set(&cfg.Output.LogFile, e.LogFile)
	if e.Log != nil {
		v, err := util.ParseLogLevel(*e.Log)
		if err != nil {
			return fmt.Errorf("%s_LOG: %w", EnvPrefix, err)
		}
		cfg.Output.Verbose = v
	}
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
