package pty

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	udperrors "udpterm/internal/errors"
)

const ptmx = "/dev/ptmx"

// openMaster opens /dev/ptmx non-blocking and unlocks its slave.  On
// devpts, opening ptmx already grants the slave to the caller.
func openMaster() (*os.File, string, error) {
	fd, err := unix.Open(ptmx, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, "", udperrors.WrapDevice("open", ptmx, err)
	}

	n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		unix.Close(fd)
		return nil, "", udperrors.WrapDevice("ptsname", ptmx, err)
	}
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		unix.Close(fd)
		return nil, "", udperrors.WrapDevice("unlock", ptmx, err)
	}

	// NewFile sees O_NONBLOCK and registers the descriptor with the
	// runtime poller.
	return os.NewFile(uintptr(fd), ptmx), fmt.Sprintf("/dev/pts/%d", n), nil
}
