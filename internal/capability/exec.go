package capability

import (
	"fmt"
	"os"
	"os/exec"
)

// DefaultTerm is exported to children when the server's own
// environment has no TERM.
const DefaultTerm = "xterm-256color"

// Shell runs an interactive login-less shell: Path if set, otherwise
// $SHELL, otherwise /bin/sh.
type Shell struct {
	Path string
}

// Command starts the shell with no arguments.
func (s *Shell) Command() *exec.Cmd {
	cmd := exec.Command(s.resolve())
	cmd.Env = childEnv()
	return cmd
}

func (s *Shell) Raw() bool { return false }

func (s *Shell) String() string { return "shell " + s.resolve() }

func (s *Shell) resolve() string {
	if s.Path != "" {
		return s.Path
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// Exec runs a single program on the terminal instead of a shell.
// Either Program (-e) or Script (-c) must be set.
type Exec struct {
	Program string   // -e: execute a program directly
	Args    []string // arguments for Program
	Script  string   // -c: execute via /bin/sh -c
}

// Command builds the child.  It panics on an empty Exec, which
// FromConfig never produces.
func (e *Exec) Command() *exec.Cmd {
	var cmd *exec.Cmd
	switch {
	case e.Script != "":
		cmd = exec.Command("/bin/sh", "-c", e.Script)
	case e.Program != "":
		cmd = exec.Command(e.Program, e.Args...)
	default:
		panic("capability: Exec with no program or command")
	}
	cmd.Env = childEnv()
	return cmd
}

func (e *Exec) Raw() bool { return false }

func (e *Exec) String() string {
	if e.Script != "" {
		return fmt.Sprintf("sh -c %q", e.Script)
	}
	return fmt.Sprintf("exec %s", e.Program)
}

func childEnv() []string {
	env := os.Environ()
	if os.Getenv("TERM") == "" {
		env = append(env, "TERM="+DefaultTerm)
	}
	return env
}
