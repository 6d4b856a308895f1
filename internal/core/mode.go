// Package core is the orchestration layer.  It composes the transport,
// server, client and operator surfaces into complete operational modes
// and provides a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	protocol, pty  →  session, registry  →  server, client  →  core  →  cmd (CLI)
package core

import "context"

// Mode represents a complete operational mode of udpterm: serving
// sessions (listen) or attaching to one (connect).  Each mode owns its
// full lifecycle from socket setup to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
