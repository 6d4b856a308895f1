// Package capability defines what runs on a session's terminal.  Each
// Capability builds a fresh child process per session, so the server
// can hand out an interactive shell, a single program, or a raw echo
// without the session knowing which.
package capability

import "os/exec"

// Capability builds the child process for one session.
type Capability interface {
	// Command returns a new, unstarted command.  It is called once per
	// session.
	Command() *exec.Cmd
	// Raw reports whether the terminal should be put in raw mode before
	// the child starts.
	Raw() bool
	// String describes the capability for logs.
	String() string
}

// FromConfig picks the capability for the -e / -c / --echo settings.
// A shell command wins over Program; with neither set, the user's shell runs.
func FromConfig(program, command string, echo bool) Capability {
	switch {
	case echo:
		return &Relay{}
	case command != "":
		return &Exec{Script: command}
	case program != "":
		return &Exec{Program: program}
	default:
		return &Shell{}
	}
}
