package ams

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the encoded size of a frame header in bytes.
	HeaderSize = 32
	// LengthPrefixSize is the size of the frame length prefix on the stream.
	LengthPrefixSize = 4
	// MaxPayloadSize bounds the payload length a peer accepts.
	MaxPayloadSize = 4 * 1024 * 1024
	// MaxFrameSize bounds the frame length a peer accepts, excluding the
	// length prefix itself.
	MaxFrameSize = HeaderSize + MaxPayloadSize
)

// Header is the fixed 32-byte frame header carried by every AMS frame.
// All multi-byte fields are encoded little-endian.
//
// Wire layout:
//
//	target net id (6) + target port (2)
//	source net id (6) + source port (2)
//	command id (2)
//	state flags (2)
//	payload length (4)
//	error code (4)
//	invoke id (4)
type Header struct {
	Target    Addr
	Source    Addr
	Command   Command
	Flags     StateFlags
	Length    uint32
	ErrorCode uint32
	InvokeID  uint32
}

// MarshalBinary encodes the header into its 32-byte wire form.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h.encode(buf)

	return buf, nil
}

// encode writes the header into buf, which must hold at least HeaderSize bytes.
func (h *Header) encode(buf []byte) {
	copy(buf[0:6], h.Target.NetID[:])
	binary.LittleEndian.PutUint16(buf[6:8], uint16(h.Target.Port))
	copy(buf[8:14], h.Source.NetID[:])
	binary.LittleEndian.PutUint16(buf[14:16], uint16(h.Source.Port))
	binary.LittleEndian.PutUint16(buf[16:18], uint16(h.Command))
	binary.LittleEndian.PutUint16(buf[18:20], uint16(h.Flags))
	binary.LittleEndian.PutUint32(buf[20:24], h.Length)
	binary.LittleEndian.PutUint32(buf[24:28], h.ErrorCode)
	binary.LittleEndian.PutUint32(buf[28:32], h.InvokeID)
}

// UnmarshalBinary decodes a 32-byte wire header.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: header has %d bytes, want %d", ErrFraming, len(data), HeaderSize)
	}

	copy(h.Target.NetID[:], data[0:6])
	h.Target.Port = Port(binary.LittleEndian.Uint16(data[6:8]))
	copy(h.Source.NetID[:], data[8:14])
	h.Source.Port = Port(binary.LittleEndian.Uint16(data[14:16]))
	h.Command = Command(binary.LittleEndian.Uint16(data[16:18]))
	h.Flags = StateFlags(binary.LittleEndian.Uint16(data[18:20]))
	h.Length = binary.LittleEndian.Uint32(data[20:24])
	h.ErrorCode = binary.LittleEndian.Uint32(data[24:28])
	h.InvokeID = binary.LittleEndian.Uint32(data[28:32])

	return nil
}

// IsResponse reports whether the header's response bit is set.
func (h *Header) IsResponse() bool { return h.Flags.IsResponse() }

// IsRequest reports whether the header's response bit is clear.
func (h *Header) IsRequest() bool { return h.Flags.IsRequest() }

// Frame is one framed unit on the stream: a header plus the opaque payload
// bytes belonging to it. Payload interpretation is per command id; frames
// carrying an unknown command id decode with the payload left opaque so the
// stream stays aligned.
type Frame struct {
	Header  Header
	Payload []byte
}

// NewRequest builds a request frame for the given command and payload.
// The invoke id is assigned by the sending circuit.
func NewRequest(target, source Addr, cmd Command, payload []byte) *Frame {
	return &Frame{
		Header: Header{
			Target:  target,
			Source:  source,
			Command: cmd,
			Flags:   RequestFlags,
			Length:  uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Response builds the response frame answering f with the given error code
// and payload: source and target swap, command and invoke id are preserved.
func (f *Frame) Response(errorCode uint32, payload []byte) *Frame {
	return &Frame{
		Header: Header{
			Target:    f.Header.Source,
			Source:    f.Header.Target,
			Command:   f.Header.Command,
			Flags:     ResponseFlags,
			Length:    uint32(len(payload)),
			ErrorCode: errorCode,
			InvokeID:  f.Header.InvokeID,
		},
		Payload: payload,
	}
}

// MarshalBinary encodes the frame with its 4-byte length prefix. The
// header's Length field is forced to the actual payload size.
func (f *Frame) MarshalBinary() ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload size %d exceeds %d", ErrFraming, len(f.Payload), MaxPayloadSize)
	}

	f.Header.Length = uint32(len(f.Payload))

	buf := make([]byte, LengthPrefixSize+HeaderSize+len(f.Payload))
	binary.LittleEndian.PutUint32(buf[0:LengthPrefixSize], uint32(HeaderSize+len(f.Payload)))
	f.Header.encode(buf[LengthPrefixSize : LengthPrefixSize+HeaderSize])
	copy(buf[LengthPrefixSize+HeaderSize:], f.Payload)

	return buf, nil
}

// DecodeFrame decodes one frame body (header plus payload, without the
// length prefix). The header's Length field must match the actual trailing
// payload size; any mismatch fails with an error wrapping ErrFraming.
func DecodeFrame(data []byte) (*Frame, error) {
	frame := &Frame{}
	if err := frame.Header.UnmarshalBinary(data); err != nil {
		return nil, err
	}

	payload := data[HeaderSize:]
	if int(frame.Header.Length) != len(payload) {
		return nil, fmt.Errorf("%w: header declares %d payload bytes, frame carries %d",
			ErrFraming, frame.Header.Length, len(payload))
	}

	if len(payload) > 0 {
		frame.Payload = payload
	}

	return frame, nil
}
