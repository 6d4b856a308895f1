// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	flag "github.com/spf13/pflag"

	"udpterm/config"
	"udpterm/internal/core"
	"udpterm/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X udpterm/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// flagValues collects raw flag input before it is layered over the
// loaded configuration.  Only flags the user actually set override
// the file and environment.
type flagValues struct {
	configPath string
	verbose    int
	showHelp   bool
	showVer    bool
}

// Execute parses args and runs the appropriate udpterm mode.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stderr)
}

func execute(ctx context.Context, args []string, stderr io.Writer) error {
	// The config file path must be known before defaults for the other
	// flags can be taken from it, so parse once for --config alone.
	pre := flag.NewFlagSet("udpterm", flag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	pre.Usage = func() {}
	var configPath string
	pre.StringVar(&configPath, "config", "", "")
	pre.BoolP("help", "h", false, "")
	_ = pre.Parse(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var fv flagValues
	fs := newFlagSet(cfg, &fv)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fv.showHelp || len(args) == 0 {
		printUsage(stderr, fs)
		return nil
	}
	if fv.showVer {
		fmt.Fprintf(stderr, "udpterm %s\n", version)
		return nil
	}
	if fs.Changed("verbose") {
		cfg.Output.Verbose = fv.verbose
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args(), fs.Changed("port")); err != nil {
		return err
	}
	cfg.Finalize()

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Runtime.DryRun {
		mode := "connect"
		if cfg.Network.Listen {
			mode = "listen"
		}
		fmt.Fprintf(stderr, "udpterm: configuration OK (%s %s)\n", mode, cfg.Address())
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger, closeLog, err := buildLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

func newFlagSet(cfg *config.Config, fv *flagValues) *flag.FlagSet {
	fs := flag.NewFlagSet("udpterm", flag.ContinueOnError)
	fs.SortFlags = false

	// ── network ──────────────────────────────────────────────────
	fs.BoolVarP(&cfg.Network.Listen, "listen", "l", cfg.Network.Listen, "Listen mode: serve sessions")
	fs.IntVarP(&cfg.Network.Port, "port", "p", cfg.Network.Port, "UDP port to listen on or connect to")
	fs.StringVarP(&cfg.Network.Host, "bind", "b", cfg.Network.Host, "Address to bind in listen mode")
	fs.BoolVar(&cfg.Network.ReuseAddr, "reuse-addr", cfg.Network.ReuseAddr, "Set SO_REUSEADDR on the server socket")
	fs.DurationVar(&cfg.Network.HandshakeTimeout, "handshake-timeout", cfg.Network.HandshakeTimeout, "Wait per handshake attempt")
	fs.IntVar(&cfg.Network.HandshakeAttempts, "handshake-attempts", cfg.Network.HandshakeAttempts, "Handshake attempts before giving up")

	// ── sessions ─────────────────────────────────────────────────
	fs.StringVarP(&cfg.Session.Execute, "exec", "e", cfg.Session.Execute, "Program to run per session (default $SHELL)")
	fs.StringVarP(&cfg.Session.Command, "command", "c", cfg.Session.Command, "Shell command to run per session")
	fs.BoolVar(&cfg.Session.Echo, "echo", cfg.Session.Echo, "Relay bytes back unchanged instead of running a shell")
	fs.IntVar(&cfg.Session.QueueSize, "queue-size", cfg.Session.QueueSize, "Inbound queue capacity per session")
	fs.IntVar(&cfg.Session.HistorySize, "history-size", cfg.Session.HistorySize, "Output bytes kept per session for the dashboard")
	fs.DurationVar(&cfg.Session.ShutdownGrace, "shutdown-grace", cfg.Session.ShutdownGrace, "Time sessions get to drain on shutdown")

	// ── client ───────────────────────────────────────────────────
	fs.StringVar(&cfg.Client.DetachKey, "detach-key", cfg.Client.DetachKey, `Key that detaches the client ("none" disables)`)

	// ── runtime ──────────────────────────────────────────────────
	fs.StringVar(&cfg.Runtime.MetricsAddr, "metrics-addr", cfg.Runtime.MetricsAddr, "Serve /metrics, /healthz and /sessions on this address")
	fs.BoolVar(&cfg.Runtime.Dashboard, "dashboard", cfg.Runtime.Dashboard, "Show live sessions in a terminal dashboard")
	fs.BoolVar(&cfg.Runtime.DryRun, "dry-run", false, "Validate the configuration and exit")
	fs.StringVar(&fv.configPath, "config", "", "YAML configuration file (also UDPTERM_CONFIG)")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&fv.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.StringVar(&cfg.Output.LogFormat, "log-format", cfg.Output.LogFormat, "Log format: console or json")
	fs.StringVar(&cfg.Output.LogFile, "log-file", cfg.Output.LogFile, "Write logs to this file")

	fs.BoolVar(&fv.showVer, "version", false, "Print version and exit")
	fs.BoolVarP(&fv.showHelp, "help", "h", false, "Show this help")
	return fs
}

// ── helpers ──────────────────────────────────────────────────────────

func parsePositional(cfg *config.Config, remaining []string, portFlag bool) error {
	if cfg.Network.Listen {
		switch len(remaining) {
		case 0: // udpterm -l [-p PORT]
		case 1: // udpterm -l PORT
			if portFlag {
				return fmt.Errorf("port given twice (-p and argument)")
			}
			return setPort(cfg, remaining[0])
		default:
			return fmt.Errorf("too many arguments for listen mode")
		}
		return nil
	}

	// Connect mode: host [port]
	switch len(remaining) {
	case 0:
		if cfg.Network.Host == "" {
			return fmt.Errorf("hostname required (use --help for usage)")
		}
	case 1:
		cfg.Network.Host = remaining[0]
	case 2:
		cfg.Network.Host = remaining[0]
		if portFlag {
			return fmt.Errorf("port given twice (-p and argument)")
		}
		return setPort(cfg, remaining[1])
	default:
		return fmt.Errorf("too many arguments (expected HOST [PORT])")
	}
	return nil
}

func setPort(cfg *config.Config, s string) error {
	port, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port %q", s)
	}
	cfg.Network.Port = port
	return nil
}

// buildLogger sets up logging.  The client always logs to a file since
// its stdout is the remote terminal, and so does a server showing the
// dashboard.  Otherwise logs go to stderr unless --log-file is set.
func buildLogger(cfg *config.Config, stderr io.Writer) (*util.Logger, func(), error) {
	logger := util.NewLogger(cfg.Output.Verbose)
	logger.SetJSON(cfg.Output.LogFormat == "json")

	path := cfg.Output.LogFile
	if path == "" && (!cfg.Network.Listen || cfg.Runtime.Dashboard) {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
		path = filepath.Join(dir, "udpterm", "udpterm.log")
	}
	if path == "" {
		logger.SetOutput(stderr)
		return logger, func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("log file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("log file: %w", err)
	}
	logger.SetOutput(f)
	logger.SetTimestamps(true)
	return logger, func() { f.Close() }, nil
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `udpterm – remote terminals over UDP v%s

Usage:
  udpterm -l [-p PORT] [options]              Serve sessions
  udpterm [options] HOST [PORT]               Attach to a new session

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  udpterm -l                                  Serve shells on UDP %d
  udpterm -l -p 9000 --dashboard              Serve and watch sessions
  udpterm -l -c 'htop' --metrics-addr :9100   Serve htop, expose metrics
  udpterm server.example.com                  Attach (Ctrl-] detaches)
  UDPTERM_LOG=debug udpterm 10.0.0.5 9000     Attach with debug logging
`, config.DefaultPort)
}
