// Package transport opens the UDP sockets udpterm runs over.  It
// knows how to bind and connect; what travels over the socket is the
// protocol package's business.
package transport

import (
	"context"
	"net"
	"time"
)

// Dialer opens the client's socket to a server.
type Dialer interface {
	// Dial binds an ephemeral local port and connects it to address, so
	// only datagrams from address are received.
	Dial(ctx context.Context, address string) (*net.UDPConn, error)
}

// UDPDialer is the default Dialer.
type UDPDialer struct {
	Timeout   time.Duration
	LocalPort int // optional source-port binding (0 = ephemeral)
}
