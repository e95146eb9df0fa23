package adstest

import (
	"encoding/binary"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plcforge/go-ads/ams"
	"github.com/plcforge/go-ads/logger"
)

func testAddrs(t *testing.T) (target, source ams.Addr) {
	t.Helper()

	target, err := ams.NewAddr("127.0.0.1.1.1", ams.PortPLCRuntime1)
	require.NoError(t, err)

	source, err = ams.NewAddr("192.168.0.20.1.1", 32905)
	require.NoError(t, err)

	return target, source
}

func startServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()

	srv := NewServer(opts...)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	return srv
}

func dialServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func exchangeFrame(t *testing.T, conn net.Conn, frame *ams.Frame) *ams.Frame {
	t.Helper()

	data, err := frame.MarshalBinary()
	require.NoError(t, err)

	_, err = conn.Write(data)
	require.NoError(t, err)

	reader := ams.FrameReader{ReadTimeout: 2 * time.Second}
	lenBuf := make([]byte, ams.LengthPrefixSize)

	reply, err := reader.ReadFrame(conn, lenBuf)
	require.NoError(t, err)

	return reply
}

func TestServerReadStateWire(t *testing.T) {
	srv := startServer(t)
	conn := dialServer(t, srv)
	target, source := testAddrs(t)

	payload, err := (&ams.ReadStateRequest{}).MarshalBinary()
	require.NoError(t, err)

	req := ams.NewRequest(target, source, ams.CommandReadState, payload)
	req.Header.InvokeID = 42

	reply := exchangeFrame(t, conn, req)
	require.True(t, reply.Header.IsResponse())
	require.Equal(t, ams.CommandReadState, reply.Header.Command)
	require.Equal(t, uint32(42), reply.Header.InvokeID)
	require.Equal(t, uint32(0), reply.Header.ErrorCode)
	require.Equal(t, source, reply.Header.Target)
	require.Equal(t, target, reply.Header.Source)

	var resp ams.ReadStateResponse
	require.NoError(t, resp.UnmarshalBinary(reply.Payload))
	require.Equal(t, uint32(0), resp.Result)
	require.Equal(t, ams.StateRun, resp.ADSState)
}

func TestServerReadDeviceInfoWire(t *testing.T) {
	srv := startServer(t, WithDeviceInfo("TestDevice", 2, 11, 1234))
	conn := dialServer(t, srv)
	target, source := testAddrs(t)

	payload, err := (&ams.ReadDeviceInfoRequest{}).MarshalBinary()
	require.NoError(t, err)

	reply := exchangeFrame(t, conn, ams.NewRequest(target, source, ams.CommandReadDeviceInfo, payload))

	var resp ams.ReadDeviceInfoResponse
	require.NoError(t, resp.UnmarshalBinary(reply.Payload))
	require.Equal(t, "TestDevice", resp.Name)
	require.Equal(t, uint8(2), resp.Major)
	require.Equal(t, uint8(11), resp.Minor)
	require.Equal(t, uint16(1234), resp.Build)
}

func TestServerUnknownCommand(t *testing.T) {
	srv := startServer(t)
	conn := dialServer(t, srv)
	target, source := testAddrs(t)

	req := ams.NewRequest(target, source, ams.Command(0x50), []byte{1, 2, 3})
	req.Header.InvokeID = 7

	reply := exchangeFrame(t, conn, req)
	require.True(t, reply.Header.IsResponse())
	require.Equal(t, ams.Command(0x50), reply.Header.Command)
	require.Equal(t, uint32(7), reply.Header.InvokeID)
	require.Equal(t, ams.CodeServiceNotSupported, reply.Header.ErrorCode)
	require.Empty(t, reply.Payload)
}

func TestServerFramingViolationClosesConnection(t *testing.T) {
	srv := startServer(t)
	conn := dialServer(t, srv)

	require.Eventually(t, func() bool { return srv.ConnCount() == 1 },
		time.Second, 10*time.Millisecond)

	// A length prefix below the header size violates framing; the server
	// must drop the connection without answering.
	var prefix [ams.LengthPrefixSize]byte
	binary.LittleEndian.PutUint32(prefix[:], 8)

	_, err := conn.Write(prefix[:])
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err)

	require.Eventually(t, func() bool { return srv.ConnCount() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestServerStopClosesConnections(t *testing.T) {
	srv := NewServer()
	require.NoError(t, srv.Start())

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)

	defer conn.Close()

	require.Eventually(t, func() bool { return srv.ConnCount() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Stop())
	require.Equal(t, 0, srv.ConnCount())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err)

	// Stop is idempotent once closed.
	require.NoError(t, srv.Stop())
}

// gateLogger blocks the first Debug record that carries taskName as a
// value until release is closed. The task start log is emitted between
// accepting a connection and tracking it, so the gate holds the accept
// loop at exactly that instant.
type gateLogger struct {
	logger.Logger
	taskName string
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (g *gateLogger) Debug(msg string, keysAndValues ...any) {
	for _, v := range keysAndValues {
		if s, ok := v.(string); ok && s == g.taskName {
			g.once.Do(func() {
				close(g.entered)
				<-g.release
			})
		}
	}
}

func TestServerStopClosesConnAcceptedDuringStop(t *testing.T) {
	gate := &gateLogger{
		Logger:   logger.GetLogger(),
		taskName: "adstestSenderTask",
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}

	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(gate.release) }) }

	srv := NewServer(WithLogger(gate))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })
	t.Cleanup(release)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)

	defer conn.Close()

	// The accept loop is now parked after accepting the connection but
	// before the server tracks it.
	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not accepted")
	}

	stopDone := make(chan error, 1)
	go func() { stopDone <- srv.Stop() }()

	// Let Stop sweep the still-empty connection table, then release the
	// accept loop so the connection is tracked while Stop is in flight.
	time.Sleep(50 * time.Millisecond)
	release()

	select {
	case err := <-stopDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	require.Equal(t, 0, srv.ConnCount())

	// The late connection was torn down, not leaked: the client observes
	// a close instead of its read deadline.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err)
	require.NotErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestSlaveRegsReadAndClear(t *testing.T) {
	regs := &slaveRegs{dlStatus: 0x0003, alStatus: 0x0012}

	result, data := regs.read(ams.RegisterALStatus, 2)
	require.Equal(t, uint32(0), result)
	require.Equal(t, []byte{0x12, 0x00}, data)

	result, _ = regs.read(ams.RegisterALStatus, 4)
	require.Equal(t, ams.CodeInvalidSize, result)

	result, _ = regs.read(0x0200, 2)
	require.Equal(t, ams.CodeInvalidIndexOffset, result)

	regs.rxErrors = [8]byte{1, 2, 3, 4, 5, 6, 7, 8}

	result, data = regs.read(ams.RegisterRxErrCounters, 8)
	require.Equal(t, uint32(0), result)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, data)

	// Partial read from inside the block.
	result, data = regs.read(ams.RegisterRxErrCounters+2, 2)
	require.Equal(t, uint32(0), result)
	require.Equal(t, []byte{3, 4}, data)

	// Any write clears the whole block.
	require.Equal(t, uint32(0), regs.write(ams.RegisterRxErrCounters))

	result, data = regs.read(ams.RegisterRxErrCounters, 8)
	require.Equal(t, uint32(0), result)
	require.Equal(t, make([]byte, 8), data)

	// Status registers are read-only.
	require.Equal(t, ams.CodeAccessDenied, regs.write(ams.RegisterALStatus))
}

func TestServerCounterSaturation(t *testing.T) {
	srv := NewServer(WithSlaves(1001))

	srv.AddSlaveRxErrors(1001, 0, 0xF0, 0x10)
	srv.AddSlaveRxErrors(1001, 0, 0xF0, 0x10)

	counters, ok := srv.SlaveRxErrors(1001)
	require.True(t, ok)
	require.Equal(t, byte(0xFF), counters[0])
	require.Equal(t, byte(0x20), counters[1])
}
