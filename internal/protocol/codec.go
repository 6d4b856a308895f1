package protocol

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	udperrors "udpterm/internal/errors"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	// Empty payloads go out as a zero-length byte string, not null.
	encOptions.NilContainers = cbor.NilContainerAsEmpty

	var err error
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 16,
		MaxNestedLevels:  4,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// Bodies as they appear on the wire.  Ids travel as raw 16-byte strings
// and are validated on decode.

type writeBody struct {
	_    struct{} `cbor:",toarray"`
	ID   []byte
	Data []byte
}

type resizeBody struct {
	_    struct{} `cbor:",toarray"`
	ID   []byte
	Rows uint16
	Cols uint16
}

type ackBody struct {
	_  struct{} `cbor:",toarray"`
	ID []byte
}

type updateBody struct {
	_    struct{} `cbor:",toarray"`
	Data []byte
}

// Encode serializes f into a single datagram.  Payloads larger than
// MaxPayload fail with ErrPayloadTooLarge.
func Encode(f Frame) ([]byte, error) {
	var body interface{}
	switch v := f.(type) {
	case NewSession, *NewSession:
	case Write:
		body = writeBody{ID: v.ID[:], Data: v.Data}
	case *Write:
		body = writeBody{ID: v.ID[:], Data: v.Data}
	case Resize:
		body = resizeBody{ID: v.ID[:], Rows: v.Rows, Cols: v.Cols}
	case *Resize:
		body = resizeBody{ID: v.ID[:], Rows: v.Rows, Cols: v.Cols}
	case NewSessionAck:
		body = ackBody{ID: v.ID[:]}
	case *NewSessionAck:
		body = ackBody{ID: v.ID[:]}
	case UpdateState:
		body = updateBody{Data: v.Data}
	case *UpdateState:
		body = updateBody{Data: v.Data}
	default:
		return nil, fmt.Errorf("encode frame: unsupported type %T", f)
	}

	if n := payloadLen(body); n > MaxPayload {
		return nil, fmt.Errorf("encode %s: %w (%d > %d bytes)",
			f.Opcode(), udperrors.ErrPayloadTooLarge, n, MaxPayload)
	}

	var buf bytes.Buffer
	buf.Grow(HeaderSize + payloadLen(body) + 32)
	buf.WriteByte(Version)
	buf.WriteByte(byte(f.Opcode()))
	if body != nil {
		if err := encMode.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.Opcode(), err)
		}
	}
	return buf.Bytes(), nil
}

func payloadLen(body interface{}) int {
	switch b := body.(type) {
	case writeBody:
		return len(b.Data)
	case updateBody:
		return len(b.Data)
	}
	return 0
}

// Decode parses one datagram.  Anything that is not a well-formed frame
// of a known opcode yields a *errors.DecodeError.  Returned byte
// payloads do not alias b.
func Decode(b []byte) (Frame, error) {
	if len(b) < HeaderSize {
		return nil, udperrors.Decode(0, fmt.Sprintf("truncated header (%d bytes)", len(b)), nil)
	}
	op := Opcode(b[1])
	if b[0] != Version {
		return nil, udperrors.Decode(byte(op), fmt.Sprintf("unsupported version %d", b[0]), nil)
	}
	body := b[HeaderSize:]

	switch op {
	case OpNewSession:
		if len(body) != 0 {
			return nil, udperrors.Decode(byte(op), "unexpected body", nil)
		}
		return NewSession{}, nil

	case OpWrite:
		var wb writeBody
		if err := unmarshal(op, body, &wb); err != nil {
			return nil, err
		}
		id, err := decodeID(op, wb.ID)
		if err != nil {
			return nil, err
		}
		if err := checkPayload(op, wb.Data); err != nil {
			return nil, err
		}
		return Write{ID: id, Data: nonNil(wb.Data)}, nil

	case OpResize:
		var rb resizeBody
		if err := unmarshal(op, body, &rb); err != nil {
			return nil, err
		}
		id, err := decodeID(op, rb.ID)
		if err != nil {
			return nil, err
		}
		return Resize{ID: id, Rows: rb.Rows, Cols: rb.Cols}, nil

	case OpNewSessionAck:
		var ab ackBody
		if err := unmarshal(op, body, &ab); err != nil {
			return nil, err
		}
		id, err := decodeID(op, ab.ID)
		if err != nil {
			return nil, err
		}
		return NewSessionAck{ID: id}, nil

	case OpUpdateState:
		var ub updateBody
		if err := unmarshal(op, body, &ub); err != nil {
			return nil, err
		}
		if err := checkPayload(op, ub.Data); err != nil {
			return nil, err
		}
		return UpdateState{Data: nonNil(ub.Data)}, nil
	}
	return nil, udperrors.Decode(byte(op), "unknown opcode", nil)
}

func unmarshal(op Opcode, body []byte, v interface{}) error {
	if len(body) == 0 {
		return udperrors.Decode(byte(op), "missing body", nil)
	}
	if err := decMode.Unmarshal(body, v); err != nil {
		return udperrors.Decode(byte(op), "malformed body", err)
	}
	return nil
}

func decodeID(op Opcode, b []byte) (SessionID, error) {
	id, err := sessionIDFromBytes(b)
	if err != nil {
		return Nil, udperrors.Decode(byte(op), "bad session id", err)
	}
	return id, nil
}

func checkPayload(op Opcode, data []byte) error {
	if len(data) > MaxPayload {
		return udperrors.Decode(byte(op), "payload too large", udperrors.ErrPayloadTooLarge)
	}
	return nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
