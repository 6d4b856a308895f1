package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

// SessionID is the 128-bit random key that correlates every frame with
// its session.  It is generated once by the server and never changes.
type SessionID uuid.UUID

// Nil is the zero SessionID.  The server never hands it out.
var Nil SessionID

// NewSessionID returns a fresh random (version 4) id.
func NewSessionID() (SessionID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return Nil, fmt.Errorf("generate session id: %w", err)
	}
	return SessionID(u), nil
}

// ParseSessionID parses the canonical textual form of an id.
func ParseSessionID(s string) (SessionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("parse session id %q: %w", s, err)
	}
	return SessionID(u), nil
}

func sessionIDFromBytes(b []byte) (SessionID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return Nil, err
	}
	return SessionID(u), nil
}

// String returns the canonical xxxxxxxx-xxxx-... form.
func (id SessionID) String() string { return uuid.UUID(id).String() }

// Short returns the first eight hex digits, enough to tell sessions
// apart in logs and panel titles.
func (id SessionID) Short() string { return id.String()[:8] }

// IsNil reports whether id is the zero value.
func (id SessionID) IsNil() bool { return id == Nil }
