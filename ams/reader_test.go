package ams

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// startWriter pumps raw into one end of a pipe and returns the reading end.
func startWriter(t *testing.T, chunks ...[]byte) net.Conn {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	go func() {
		for _, chunk := range chunks {
			if _, err := server.Write(chunk); err != nil {
				return
			}
		}
	}()

	return client
}

func TestFrameReaderReadsFrame(t *testing.T) {
	require := require.New(t)

	frame := NewRequest(
		Addr{NetID: NetID{1, 2, 3, 4, 5, 6}, Port: 851},
		Addr{NetID: NetID{9, 9, 9, 9, 1, 1}, Port: 32905},
		CommandRead,
		[]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
	)
	frame.Header.InvokeID = 3
	raw, err := frame.MarshalBinary()
	require.NoError(err)

	conn := startWriter(t, raw)

	fr := &FrameReader{ReadTimeout: time.Second}
	lenBuf := make([]byte, LengthPrefixSize)

	got, err := fr.ReadFrame(conn, lenBuf)
	require.NoError(err)
	require.Equal(frame.Header, got.Header)
	require.Equal(frame.Payload, got.Payload)
}

func TestFrameReaderChunkedDelivery(t *testing.T) {
	require := require.New(t)

	frame := NewRequest(Addr{}, Addr{}, CommandWrite, []byte{0xAA, 0xBB, 0xCC})
	raw, err := frame.MarshalBinary()
	require.NoError(err)

	// The frame arrives in three pieces; ReadFrame must buffer across reads.
	conn := startWriter(t, raw[:2], raw[2:10], raw[10:])

	fr := &FrameReader{ReadTimeout: time.Second}
	got, err := fr.ReadFrame(conn, make([]byte, LengthPrefixSize))
	require.NoError(err)
	require.Equal(frame.Payload, got.Payload)
}

func TestFrameReaderIdleBeforeFrame(t *testing.T) {
	require := require.New(t)

	frame := NewRequest(Addr{}, Addr{}, CommandReadState, nil)
	raw, err := frame.MarshalBinary()
	require.NoError(err)

	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	go func() {
		// Idle longer than the body read timeout before sending. The length
		// prefix read carries no deadline, so the idle period is legal.
		time.Sleep(150 * time.Millisecond)
		_, _ = server.Write(raw)
	}()

	fr := &FrameReader{ReadTimeout: 50 * time.Millisecond}
	got, err := fr.ReadFrame(client, make([]byte, LengthPrefixSize))
	require.NoError(err)
	require.Equal(CommandReadState, got.Header.Command)
}

func TestFrameReaderTruncatedBody(t *testing.T) {
	require := require.New(t)

	// Declare 50 body bytes but deliver only 10 and stall.
	prefix := make([]byte, LengthPrefixSize)
	binary.LittleEndian.PutUint32(prefix, 50)
	conn := startWriter(t, prefix, make([]byte, 10))

	fr := &FrameReader{ReadTimeout: 100 * time.Millisecond}

	begin := time.Now()
	_, err := fr.ReadFrame(conn, make([]byte, LengthPrefixSize))
	require.ErrorIs(err, ErrFraming)
	require.Less(time.Since(begin), 2*time.Second)
}

func TestFrameReaderPeerClosedMidFrame(t *testing.T) {
	require := require.New(t)

	prefix := make([]byte, LengthPrefixSize)
	binary.LittleEndian.PutUint32(prefix, 50)

	client, server := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	go func() {
		_, _ = server.Write(prefix)
		_, _ = server.Write(make([]byte, 10))
		_ = server.Close()
	}()

	fr := &FrameReader{ReadTimeout: time.Second}
	_, err := fr.ReadFrame(client, make([]byte, LengthPrefixSize))
	require.ErrorIs(err, ErrFraming)
}

func TestFrameReaderLengthBounds(t *testing.T) {
	tests := []struct {
		name   string
		length uint32
	}{
		{name: "below header size", length: HeaderSize - 1},
		{name: "zero", length: 0},
		{name: "above maximum", length: MaxFrameSize + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix := make([]byte, LengthPrefixSize)
			binary.LittleEndian.PutUint32(prefix, tt.length)
			conn := startWriter(t, prefix)

			fr := &FrameReader{ReadTimeout: time.Second}
			_, err := fr.ReadFrame(conn, make([]byte, LengthPrefixSize))
			require.ErrorIs(t, err, ErrFraming)
		})
	}
}
