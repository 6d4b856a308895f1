package protocol

// Frame is one decoded datagram.  The concrete type tells the receiver
// what to do with it.
type Frame interface {
	Opcode() Opcode
}

// NewSession asks the server to spawn a shell.  It has no body.
type NewSession struct{}

// Write carries raw input bytes for a session's terminal.
type Write struct {
	ID   SessionID
	Data []byte
}

// Resize reports the client's terminal dimensions.
type Resize struct {
	ID   SessionID
	Rows uint16
	Cols uint16
}

// NewSessionAck tells a client which session it was given.
type NewSessionAck struct {
	ID SessionID
}

// UpdateState carries a chunk of terminal output.  Chunks are appended
// by the receiver in arrival order.
type UpdateState struct {
	Data []byte
}

func (NewSession) Opcode() Opcode    { return OpNewSession }
func (Write) Opcode() Opcode         { return OpWrite }
func (Resize) Opcode() Opcode        { return OpResize }
func (NewSessionAck) Opcode() Opcode { return OpNewSessionAck }
func (UpdateState) Opcode() Opcode   { return OpUpdateState }
