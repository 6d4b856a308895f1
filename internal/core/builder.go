package core

import (
	"fmt"

	"udpterm/config"
	"udpterm/internal/capability"
	"udpterm/internal/client"
	"udpterm/internal/metrics"
	"udpterm/internal/pty"
	"udpterm/internal/retry"
	"udpterm/internal/server"
	"udpterm/internal/transport"
	"udpterm/util"
)

// Build constructs the appropriate Mode from the given configuration.
// The configuration must already be validated.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	if cfg.Network.Listen {
		return buildListen(cfg, logger)
	}
	return buildConnect(cfg, logger)
}

// ── mode builders ────────────────────────────────────────────────────

func buildListen(cfg *config.Config, logger *util.Logger) (Mode, error) {
	collector := metrics.New()
	breaker := retry.DefaultCircuitBreakerConfig()
	breaker.OnStateChange = func(from, to retry.State) {
		logger.Warn("session spawning circuit %s -> %s", from, to)
	}

	return &ListenMode{
		Address:     util.FormatAddr(cfg.Network.Host, cfg.Network.Port),
		ReuseAddr:   cfg.Network.ReuseAddr,
		MetricsAddr: cfg.Runtime.MetricsAddr,
		Dashboard:   cfg.Runtime.Dashboard,
		Server: server.Config{
			Capability:    buildCapability(cfg),
			QueueSize:     cfg.Session.QueueSize,
			HistorySize:   cfg.Session.HistorySize,
			InitialSize:   pty.DefaultSize,
			ShutdownGrace: cfg.Session.ShutdownGrace,
			Breaker:       retry.NewCircuitBreaker(breaker),
			Logger:        logger,
			Metrics:       collector,
		},
		Metrics: collector,
		Logger:  logger,
	}, nil
}

func buildConnect(cfg *config.Config, logger *util.Logger) (Mode, error) {
	detach, err := cfg.DetachByte()
	if err != nil {
		return nil, fmt.Errorf("detach key: %w", err)
	}

	backoff := retry.DefaultBackoff()
	backoff.MaxAttempts = cfg.Network.HandshakeAttempts

	return &ConnectMode{
		Address: util.FormatAddr(cfg.Network.Host, cfg.Network.Port),
		Client: client.Config{
			HandshakeTimeout: cfg.Network.HandshakeTimeout,
			Backoff:          backoff,
			Dialer:           &transport.UDPDialer{Timeout: cfg.Network.HandshakeTimeout},
			DetachKey:        detach,
		},
		Logger: logger,
	}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildCapability selects what each session runs.
func buildCapability(cfg *config.Config) capability.Capability {
	return capability.FromConfig(cfg.Session.Execute, cfg.Session.Command, cfg.Session.Echo)
}
