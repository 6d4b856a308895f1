package core

import (
	"context"
	"fmt"
	"net"

	"udpterm/internal/dashboard"
	"udpterm/internal/metrics"
	"udpterm/internal/server"
	"udpterm/internal/transport"
	"udpterm/util"
)

// ListenMode binds the server socket and serves sessions until the
// context is cancelled.  Optionally it also serves metrics over HTTP
// and shows the operator dashboard; quitting the dashboard stops the
// server.
type ListenMode struct {
	Address     string // "host:port"
	ReuseAddr   bool
	MetricsAddr string // empty disables the HTTP endpoint
	Dashboard   bool
	Server      server.Config
	Metrics     *metrics.Collector
	Logger      *util.Logger

	// Ready, when set, receives the bound address once the socket is
	// open.  Tests use it to learn an ephemeral port.
	Ready func(addr net.Addr)
}

// Run binds the socket and serves until ctx is cancelled.
func (m *ListenMode) Run(ctx context.Context) error {
	conn, err := transport.Listen(ctx, m.Address, transport.ListenOptions{ReuseAddr: m.ReuseAddr})
	if err != nil {
		return err
	}
	defer conn.Close()

	cfg := m.Server
	if cfg.Metrics == nil {
		cfg.Metrics = m.Metrics
	}
	if cfg.Logger == nil {
		cfg.Logger = m.Logger
	}
	srv := server.New(conn, cfg)
	m.Logger.Info("listening on %s (udp)", conn.LocalAddr())
	if m.Ready != nil {
		m.Ready(conn.LocalAddr())
	}

	tasks := []func(ctx context.Context) error{srv.Serve}
	if m.MetricsAddr != "" {
		router := metrics.NewRouter(cfg.Metrics, srv.Sessions)
		tasks = append(tasks, func(ctx context.Context) error {
			m.Logger.Info("metrics on http://%s/metrics", m.MetricsAddr)
			if err := metrics.Serve(ctx, m.MetricsAddr, router); err != nil {
				return fmt.Errorf("metrics endpoint %s: %w", m.MetricsAddr, err)
			}
			return nil
		})
	}
	if m.Dashboard {
		tasks = append(tasks, func(ctx context.Context) error {
			return dashboard.Run(ctx, srv.Registry(), dashboard.DefaultRefresh)
		})
	}

	err = util.Race(ctx, nil, tasks...)
	if util.IsHarmless(err) {
		return nil
	}
	return err
}
