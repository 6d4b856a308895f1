package capability

import "os/exec"

// Relay echoes every input byte straight back as output.  It runs cat
// on a raw terminal, so nothing is added, translated or swallowed
// between a client's Write frames and the UpdateState frames it gets
// back.  Useful for checking a deployment end to end.
type Relay struct{}

func (r *Relay) Command() *exec.Cmd { return exec.Command("cat") }

func (r *Relay) Raw() bool { return true }

func (r *Relay) String() string { return "echo" }
