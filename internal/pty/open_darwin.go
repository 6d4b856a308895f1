package pty

import (
	"bytes"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	udperrors "udpterm/internal/errors"
)

const ptmx = "/dev/ptmx"

func openMaster() (*os.File, string, error) {
	fd, err := unix.Open(ptmx, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, "", udperrors.WrapDevice("open", ptmx, err)
	}

	if err := unix.IoctlSetInt(fd, unix.TIOCPTYGRANT, 0); err != nil {
		unix.Close(fd)
		return nil, "", udperrors.WrapDevice("grant", ptmx, err)
	}
	if err := unix.IoctlSetInt(fd, unix.TIOCPTYUNLK, 0); err != nil {
		unix.Close(fd)
		return nil, "", udperrors.WrapDevice("unlock", ptmx, err)
	}

	name := make([]byte, 128)
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd),
		uintptr(unix.TIOCPTYGNAME), uintptr(unsafe.Pointer(&name[0])))
	if errno != 0 {
		unix.Close(fd)
		return nil, "", udperrors.WrapDevice("ptsname", ptmx, errno)
	}
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	return os.NewFile(uintptr(fd), ptmx), string(name), nil
}
