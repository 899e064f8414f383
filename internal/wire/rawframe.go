// Package wire implements the two call-leg message codecs: the raw framed
// TCP telephony protocol and the JSON media-streaming protocol.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Raw framed protocol message types.
const (
	TypeHangup byte = 0x00
	TypeUUID   byte = 0x01
	TypeAudio  byte = 0x10
	TypeError  byte = 0xFF
)

// MaxFrameLen caps the payload length a peer may declare. Anything larger
// is treated as a protocol error and tears the session down. Kept below the
// 16-bit length field's ceiling so the check can actually reject garbage
// headers rather than being unreachable.
const MaxFrameLen = 32 * 1024

const headerLen = 3

// Frame is one decoded raw-protocol message.
type Frame struct {
	Type    byte
	Payload []byte
}

// ErrFrameTooLarge reports a declared payload length above MaxFrameLen.
type ErrFrameTooLarge struct {
	Length int
}

func (e *ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("frame length %d exceeds maximum %d", e.Length, MaxFrameLen)
}

// Parser incrementally decodes the raw framed protocol:
// [1-byte type][2-byte big-endian length][payload]. Bytes may arrive split
// at arbitrary boundaries and multiple messages may arrive in one read;
// Next only emits a frame once header plus payload are fully buffered.
type Parser struct {
	buf []byte
}

// Append adds newly read bytes to the parse buffer.
func (p *Parser) Append(data []byte) {
	p.buf = append(p.buf, data...)
}

// Next returns the next complete frame, or (nil, nil) if more bytes are
// needed. The returned payload is a copy and safe to retain.
func (p *Parser) Next() (*Frame, error) {
	if len(p.buf) < headerLen {
		return nil, nil
	}

	length := int(binary.BigEndian.Uint16(p.buf[1:3]))
	if length > MaxFrameLen {
		return nil, &ErrFrameTooLarge{Length: length}
	}
	if len(p.buf) < headerLen+length {
		return nil, nil
	}

	frame := &Frame{
		Type:    p.buf[0],
		Payload: append([]byte(nil), p.buf[headerLen:headerLen+length]...),
	}
	p.buf = p.buf[headerLen+length:]
	return frame, nil
}

// Pending reports how many unconsumed bytes sit in the parse buffer.
func (p *Parser) Pending() int {
	return len(p.buf)
}

// EncodeFrame builds the wire form of one raw-protocol message.
func EncodeFrame(frameType byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameLen {
		return nil, &ErrFrameTooLarge{Length: len(payload)}
	}
	out := make([]byte, headerLen+len(payload))
	out[0] = frameType
	binary.BigEndian.PutUint16(out[1:3], uint16(len(payload)))
	copy(out[headerLen:], payload)
	return out, nil
}
