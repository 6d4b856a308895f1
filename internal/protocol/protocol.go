// Package protocol defines the udpterm wire format.
//
// Every datagram carries exactly one frame:
//
//	byte 0    protocol version (currently 1)
//	byte 1    opcode
//	bytes 2.. CBOR body, core deterministic encoding, structs as arrays
//
// Opcodes with the high bit clear travel client to server; opcodes with
// the high bit set travel server to client.  Frames never span datagrams,
// so a payload that does not fit is rejected rather than split.
package protocol

import "fmt"

// Version is the only protocol version this build speaks.
const Version byte = 1

// HeaderSize is the number of bytes preceding the CBOR body.
const HeaderSize = 2

const (
	// MaxPayload is the largest byte payload a Write or UpdateState
	// frame may carry.  It leaves room for the header and CBOR framing
	// inside a single UDP datagram.
	MaxPayload = 60 * 1024

	// MaxDatagram is the receive buffer size used by both peers.
	MaxDatagram = 64 * 1024
)

// Opcode identifies a frame variant.
type Opcode byte

const (
	OpNewSession    Opcode = 0x01
	OpWrite         Opcode = 0x02
	OpResize        Opcode = 0x03
	OpNewSessionAck Opcode = 0x81
	OpUpdateState   Opcode = 0x82
)

// serverBit marks opcodes sent by the server.
const serverBit = 0x80

// FromServer reports whether frames with this opcode travel server to client.
func (o Opcode) FromServer() bool { return o&serverBit != 0 }

func (o Opcode) String() string {
	switch o {
	case OpNewSession:
		return "NewSession"
	case OpWrite:
		return "Write"
	case OpResize:
		return "Resize"
	case OpNewSessionAck:
		return "NewSessionAck"
	case OpUpdateState:
		return "UpdateState"
	default:
		return fmt.Sprintf("Opcode(0x%02x)", byte(o))
	}
}
