//go:build unix && !linux && !darwin

package pty

import (
	"os"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	udperrors "udpterm/internal/errors"
)

// openMaster uses posix_openpt through creack/pty, which opens the
// master blocking.  The descriptor is switched to non-blocking and
// re-wrapped so the runtime poller owns it.
func openMaster() (*os.File, string, error) {
	m, s, err := pty.Open()
	if err != nil {
		return nil, "", udperrors.WrapDevice("open", "", err)
	}
	slavePath := s.Name()
	s.Close()

	fd, err := unix.Dup(int(m.Fd()))
	m.Close()
	if err != nil {
		return nil, "", udperrors.WrapDevice("open", slavePath, err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, "", udperrors.WrapDevice("open", slavePath, err)
	}
	return os.NewFile(uintptr(fd), "ptmx"), slavePath, nil
}
