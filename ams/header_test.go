package ams

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func testHeader() Header {
	return Header{
		Target:   Addr{NetID: NetID{1, 2, 3, 4, 5, 6}, Port: PortPLCRuntime1},
		Source:   Addr{NetID: NetID{10, 2, 255, 16, 1, 1}, Port: 32905},
		Command:  CommandRead,
		Flags:    RequestFlags,
		Length:   12,
		InvokeID: 7,
	}
}

func TestHeaderGoldenBytes(t *testing.T) {
	require := require.New(t)

	h := testHeader()
	data, err := h.MarshalBinary()
	require.NoError(err)

	want := []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, // target net id
		0x53, 0x03, // target port 851
		0x0A, 0x02, 0xFF, 0x10, 0x01, 0x01, // source net id
		0x89, 0x80, // source port 32905
		0x02, 0x00, // command Read
		0x04, 0x00, // request flags
		0x0C, 0x00, 0x00, 0x00, // payload length 12
		0x00, 0x00, 0x00, 0x00, // error code
		0x07, 0x00, 0x00, 0x00, // invoke id 7
	}
	require.Equal(want, data)
}

func TestHeaderRoundTrip(t *testing.T) {
	require := require.New(t)

	h := testHeader()
	h.Flags = ResponseFlags
	h.ErrorCode = CodeSymbolNotFound

	data, err := h.MarshalBinary()
	require.NoError(err)
	require.Len(data, HeaderSize)

	var decoded Header
	require.NoError(decoded.UnmarshalBinary(data))
	require.Equal(h, decoded)
	require.True(decoded.IsResponse())
}

func TestHeaderUnmarshalShort(t *testing.T) {
	var h Header
	err := h.UnmarshalBinary(make([]byte, HeaderSize-1))
	require.ErrorIs(t, err, ErrFraming)
}

func TestFrameRoundTrip(t *testing.T) {
	require := require.New(t)

	target := Addr{NetID: NetID{1, 2, 3, 4, 5, 6}, Port: PortPLCRuntime1}
	source := Addr{NetID: NetID{10, 2, 255, 16, 1, 1}, Port: 32905}

	frame := NewRequest(target, source, CommandWrite, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	frame.Header.InvokeID = 42

	data, err := frame.MarshalBinary()
	require.NoError(err)

	// The length prefix covers header plus payload.
	prefix := binary.LittleEndian.Uint32(data[0:LengthPrefixSize])
	require.Equal(uint32(HeaderSize+4), prefix)
	require.Len(data, int(LengthPrefixSize+prefix))

	decoded, err := DecodeFrame(data[LengthPrefixSize:])
	require.NoError(err)
	require.Equal(frame.Header, decoded.Header)
	require.Equal(frame.Payload, decoded.Payload)
}

func TestFrameResponse(t *testing.T) {
	require := require.New(t)

	target := Addr{NetID: NetID{1, 2, 3, 4, 5, 6}, Port: 851}
	source := Addr{NetID: NetID{7, 8, 9, 10, 1, 1}, Port: 32905}

	req := NewRequest(target, source, CommandReadState, nil)
	req.Header.InvokeID = 99

	resp := req.Response(0, []byte{1, 2})
	require.Equal(req.Header.Source, resp.Header.Target)
	require.Equal(req.Header.Target, resp.Header.Source)
	require.Equal(CommandReadState, resp.Header.Command)
	require.Equal(uint32(99), resp.Header.InvokeID)
	require.True(resp.Header.IsResponse())
	require.Equal(uint32(2), resp.Header.Length)
}

func TestDecodeFrameLengthMismatch(t *testing.T) {
	require := require.New(t)

	frame := NewRequest(Addr{}, Addr{}, CommandRead, []byte{1, 2, 3})
	data, err := frame.MarshalBinary()
	require.NoError(err)

	// Corrupt the declared payload length.
	binary.LittleEndian.PutUint32(data[LengthPrefixSize+20:LengthPrefixSize+24], 999)

	_, err = DecodeFrame(data[LengthPrefixSize:])
	require.ErrorIs(err, ErrFraming)
}

func TestDecodeFrameUnknownCommand(t *testing.T) {
	require := require.New(t)

	// A command id outside the supported subset decodes with the payload
	// kept opaque, so future commands do not break stream alignment.
	frame := NewRequest(Addr{}, Addr{}, Command(0x7F), []byte{9, 9, 9})
	data, err := frame.MarshalBinary()
	require.NoError(err)

	decoded, err := DecodeFrame(data[LengthPrefixSize:])
	require.NoError(err)
	require.Equal(Command(0x7F), decoded.Header.Command)
	require.Equal([]byte{9, 9, 9}, decoded.Payload)
}

func TestCommandString(t *testing.T) {
	require := require.New(t)
	require.Equal("Read", CommandRead.String())
	require.Equal("DeviceNotification", CommandNotification.String())
	require.Equal("Command(123)", Command(123).String())
}
