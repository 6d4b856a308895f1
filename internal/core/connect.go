package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	creackpty "github.com/creack/pty"
	"golang.org/x/term"

	"udpterm/internal/client"
	udperrors "udpterm/internal/errors"
	"udpterm/util"
)

// ConnectMode attaches to a server: it performs the handshake, then
// relays the local terminal to the remote session until the session
// ends, the user detaches, or the context is cancelled.
type ConnectMode struct {
	Address string
	Client  client.Config
	Logger  *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer
}

func (m *ConnectMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *ConnectMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run dials the server and relays until the session is over.  When
// stdin is a terminal it is switched to raw mode for the duration and
// its size is reported to the server at attach and on every SIGWINCH.
func (m *ConnectMode) Run(ctx context.Context) error {
	cfg := m.Client
	cfg.Server = m.Address
	if cfg.Logger == nil {
		cfg.Logger = m.Logger
	}

	m.Logger.Verbose("connecting to %s (udp)", m.Address)
	c, err := client.Dial(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", m.Address, err)
	}
	defer c.Close()

	in := m.stdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(int(f.Fd()), state) //nolint:errcheck

		stop := watchSize(ctx, f, c, m.Logger)
		defer stop()
	}

	err = c.Run(ctx, in, m.stdout())
	switch {
	case udperrors.Is(err, client.ErrDetached):
		m.Logger.Info("detached from session %s", c.ID())
		return nil
	case util.IsHarmless(err):
		m.Logger.Verbose("session %s ended", c.ID())
		return nil
	default:
		return err
	}
}

// watchSize sends the terminal's size now and after every SIGWINCH.
// The returned function stops watching.
func watchSize(ctx context.Context, tty *os.File, c *client.Client, logger *util.Logger) func() {
	report := func() {
		rows, cols, err := creackpty.Getsize(tty)
		if err != nil {
			logger.Debug("terminal size: %v", err)
			return
		}
		if rows <= 0 || cols <= 0 || rows > 0xffff || cols > 0xffff {
			return
		}
		if err := c.Resize(uint16(rows), uint16(cols)); err != nil {
			logger.Debug("resize: %v", err)
		}
	}
	report()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGWINCH)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sig:
				report()
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		signal.Stop(sig)
		close(done)
	}
}
