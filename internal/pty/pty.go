//go:build unix

// Package pty allocates pseudo-terminals and runs child processes on
// them.
//
// The master side is always non-blocking and owned by the Go runtime
// poller, so a goroutine reading or writing it parks until the kernel
// reports readiness instead of tying up an OS thread.  Closing the
// device therefore unblocks a parked Read.
package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	udperrors "udpterm/internal/errors"
)

// Size is a terminal window size in character cells.
type Size struct {
	Rows uint16
	Cols uint16
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Cols, s.Rows) }

// DefaultSize is applied to every new device before its child starts.
var DefaultSize = Size{Rows: 24, Cols: 80}

// Options configures Open.
type Options struct {
	// Size is the initial window size.  Zero means DefaultSize.
	Size Size
	// Raw puts the slave line discipline in raw mode before the child
	// starts: no echo, no line buffering, no output post-processing.
	// Bytes written to the master reach the child unchanged and the
	// child's output comes back unchanged.
	Raw bool
}

// Device is one master/slave pair plus the child attached to it.
type Device struct {
	master    *os.File
	slavePath string
	raw       bool

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

// Open allocates a new pseudo-terminal and applies the initial size.
func Open(opts Options) (*Device, error) {
	master, slavePath, err := openMaster()
	if err != nil {
		return nil, err
	}
	d := &Device{
		master:    master,
		slavePath: slavePath,
		raw:       opts.Raw,
		exited:    make(chan struct{}),
	}

	size := opts.Size
	if size.Rows == 0 || size.Cols == 0 {
		size = DefaultSize
	}
	if err := d.Resize(size.Rows, size.Cols); err != nil {
		master.Close()
		return nil, err
	}
	return d, nil
}

// Name returns the slave device path, e.g. /dev/pts/4.
func (d *Device) Name() string { return d.slavePath }

// Start runs cmd with the slave as its stdin, stdout, stderr and
// controlling terminal, in a new session.  A device runs at most one
// child.
func (d *Device) Start(cmd *exec.Cmd) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd != nil {
		return udperrors.WrapDevice("spawn", d.slavePath, errors.New("child already started"))
	}

	slave, err := os.OpenFile(d.slavePath, os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return udperrors.WrapDevice("open", d.slavePath, err)
	}
	// The child holds its own copies after Start.
	defer slave.Close()

	if d.raw {
		if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
			return udperrors.WrapDevice("raw", d.slavePath, err)
		}
	}

	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = true
	cmd.SysProcAttr.Ctty = 0 // child's stdin

	if err := cmd.Start(); err != nil {
		return udperrors.WrapDevice("spawn", cmd.Path, err)
	}
	d.cmd = cmd

	go func() {
		err := cmd.Wait()
		d.mu.Lock()
		d.waitErr = err
		d.mu.Unlock()
		close(d.exited)
	}()
	return nil
}

// Pid returns the child's process id, or 0 before Start.
func (d *Device) Pid() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil || d.cmd.Process == nil {
		return 0
	}
	return d.cmd.Process.Pid
}

// Done is closed once the child has exited and been reaped.  It is
// never closed if no child was started.
func (d *Device) Done() <-chan struct{} { return d.exited }

// ExitErr returns the child's exit error after Done is closed.
func (d *Device) ExitErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitErr
}

// Read reads whatever output the child has produced, parking until at
// least one byte is available.  Once every slave descriptor is closed
// Read returns io.EOF.
func (d *Device) Read(p []byte) (int, error) {
	n, err := d.master.Read(p)
	if err != nil {
		return n, d.translate("read", err)
	}
	return n, nil
}

// Write writes all of p to the child's input.
func (d *Device) Write(p []byte) (int, error) {
	n, err := d.master.Write(p)
	if err != nil {
		return n, d.translate("write", err)
	}
	return n, nil
}

// Resize sets the window size with TIOCSWINSZ.  The foreground process
// group on the slave receives SIGWINCH.
func (d *Device) Resize(rows, cols uint16) error {
	ws := &unix.Winsize{Row: rows, Col: cols}
	err := d.control(func(fd int) error {
		return unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, ws)
	})
	if err != nil {
		return d.translate("resize", err)
	}
	return nil
}

// Size reads the current window size back from the kernel.
func (d *Device) Size() (Size, error) {
	var ws *unix.Winsize
	err := d.control(func(fd int) error {
		var err error
		ws, err = unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
		return err
	})
	if err != nil {
		return Size{}, d.translate("size", err)
	}
	return Size{Rows: ws.Row, Cols: ws.Col}, nil
}

// Close releases the master, kills the child if it is still running and
// waits for it to be reaped.  It is safe to call more than once.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.master.Close()

		d.mu.Lock()
		cmd := d.cmd
		d.mu.Unlock()
		if cmd == nil {
			return
		}
		select {
		case <-d.exited:
		default:
			_ = cmd.Process.Kill()
			<-d.exited
		}
	})
	return d.closeErr
}

// control runs fn against the raw master descriptor without taking it
// out of non-blocking mode, which (*os.File).Fd would do.
func (d *Device) control(fn func(fd int) error) error {
	rc, err := d.master.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := rc.Control(func(fd uintptr) { opErr = fn(int(fd)) }); err != nil {
		return err
	}
	return opErr
}

func (d *Device) translate(op string, err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, syscall.EIO):
		// Linux reports a hung-up slave as EIO.
		return io.EOF
	case errors.Is(err, os.ErrClosed):
		return fmt.Errorf("pty %s: %w", op, udperrors.ErrClosed)
	}
	return udperrors.WrapDevice(op, d.slavePath, err)
}
