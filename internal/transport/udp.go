package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	udperrors "udpterm/internal/errors"
)

// ListenOptions configures Listen.
type ListenOptions struct {
	// ReuseAddr sets SO_REUSEADDR before bind, so a restarted server
	// can take its port back immediately.
	ReuseAddr bool
}

// Listen binds a UDP socket on address ("host:port").
func Listen(ctx context.Context, address string, opts ListenOptions) (*net.UDPConn, error) {
	lc := net.ListenConfig{}
	if opts.ReuseAddr {
		lc.Control = reuseAddr
	}
	pc, err := lc.ListenPacket(ctx, "udp", address)
	if err != nil {
		return nil, udperrors.Wrap("listen", address, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("listen %s: unexpected socket type %T", address, pc)
	}
	return conn, nil
}

func reuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	if sockErr != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", sockErr)
	}
	return nil
}

// Dial connects to address over UDP.
func (d *UDPDialer) Dial(ctx context.Context, address string) (*net.UDPConn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}

	if d.LocalPort > 0 {
		dialer.LocalAddr = &net.UDPAddr{Port: d.LocalPort}
	}

	c, err := dialer.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, udperrors.Wrap("dial", address, err)
	}
	conn, ok := c.(*net.UDPConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("dial %s: unexpected socket type %T", address, c)
	}
	return conn, nil
}
