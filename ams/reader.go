package ams

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// FrameReader reads and decodes individual frames from a net.Conn.
//
// It implements the stream framing contract:
//  1. Read the 4-byte little-endian frame length with no deadline; the
//     stream is allowed to idle indefinitely between frames
//  2. Validate the length (at least HeaderSize, at most MaxFrameSize)
//  3. Set the read deadline and read the frame body
//  4. Decode the header and payload via DecodeFrame
//
// A peer that declares more bytes than it ever sends fails in phase 3 when
// the deadline expires, surfacing an error wrapping ErrFraming instead of
// blocking forever. Framing errors poison the stream; the reader never
// attempts to resynchronize.
//
// FrameReader is NOT goroutine-safe. The caller must ensure only one
// ReadFrame call is active at a time, consistent with the single-receiver
// design of a circuit.
type FrameReader struct {
	// ReadTimeout bounds the wait for a frame body after its length prefix
	// arrived. Zero disables the deadline.
	ReadTimeout time.Duration
}

// ReadFrame reads one complete frame from conn.
//
// lenBuf must be a 4-byte scratch buffer reused across calls to avoid
// per-frame allocations. It is overwritten on each call.
//
// Errors wrapping ErrFraming indicate a protocol violation and are
// connection-fatal; other errors are transport failures (peer closed,
// connection reset).
func (fr *FrameReader) ReadFrame(conn net.Conn, lenBuf []byte) (*Frame, error) {
	// Phase 1: read the length prefix with no deadline.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear read deadline: %w", err)
	}

	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	frameLen := binary.LittleEndian.Uint32(lenBuf)

	// Phase 2: validate the length.
	if frameLen < HeaderSize {
		return nil, fmt.Errorf("%w: frame length %d below header size %d", ErrFraming, frameLen, HeaderSize)
	}

	if frameLen > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame length %d exceeds maximum %d", ErrFraming, frameLen, MaxFrameSize)
	}

	// Phase 3: read the frame body under the read deadline.
	if fr.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(fr.ReadTimeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
	}

	body := make([]byte, frameLen)

	if _, err := io.ReadFull(conn, body); err != nil {
		// A deadline expiry or a peer disconnect mid-frame means the
		// declared length will never be satisfied.
		if isTimeoutError(err) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame body: %v", ErrFraming, err)
		}

		return nil, fmt.Errorf("read frame body: %w", err)
	}

	// Phase 4: decode.
	return DecodeFrame(body)
}

func isTimeoutError(err error) bool {
	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
