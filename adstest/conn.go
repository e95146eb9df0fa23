package adstest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/plcforge/go-ads/ams"
	"github.com/plcforge/go-ads/internal/pool"
	"github.com/plcforge/go-ads/logger"
)

const (
	connReadTimeout  = 5 * time.Second
	connWriteTimeout = 3 * time.Second
	connQueueSize    = 32
	minNotifyCycle   = time.Millisecond
)

// serverConn services one accepted client connection: a receiver task
// decoding and dispatching request frames and a sender task serializing
// responses and notification pushes onto the stream.
type serverConn struct {
	id     string
	srv    *Server
	logger logger.Logger

	conn      net.Conn
	closeOnce sync.Once

	taskMgr  *ams.TaskManager
	reader   ams.FrameReader
	sendChan chan *ams.Frame

	stopped  atomic.Bool
	stopping chan struct{}
	stopDone chan struct{}

	addrMu     sync.Mutex
	clientAddr ams.Addr
	serverAddr ams.Addr
	haveAddrs  bool

	// symHandles maps connection-scoped symbol handles to names;
	// symByName is its inverse so repeated resolution reuses the handle.
	symHandles *xsync.MapOf[uint32, string]
	symByName  *xsync.MapOf[string, uint32]

	notifs *xsync.MapOf[uint32, *serverNotification]
}

// serverNotification is one registered device notification.
type serverNotification struct {
	handle uint32
	// symbol is set for notifications on a symbol value and drives
	// on-change pushes; group and offset address the source either way.
	symbol string
	group  uint32
	offset uint32
	length uint32
	mode   ams.TransmissionMode
	cycle  time.Duration
}

func newServerConn(srv *Server, conn net.Conn) *serverConn {
	return &serverConn{
		id:         fmt.Sprintf("%s#%d", conn.RemoteAddr().String(), srv.connSeq.Add(1)),
		srv:        srv,
		logger:     srv.logger,
		conn:       conn,
		taskMgr:    ams.NewTaskManager(srv.ctx, srv.logger),
		reader:     ams.FrameReader{ReadTimeout: connReadTimeout},
		sendChan:   make(chan *ams.Frame, connQueueSize),
		stopping:   make(chan struct{}),
		stopDone:   make(chan struct{}),
		symHandles: xsync.NewMapOf[uint32, string](),
		symByName:  xsync.NewMapOf[string, uint32](),
		notifs:     xsync.NewMapOf[uint32, *serverNotification](),
	}
}

func (sc *serverConn) start() error {
	if err := sc.taskMgr.StartSender("adstestSenderTask", sc.senderTask, nil, sc.sendChan); err != nil {
		return err
	}

	return sc.taskMgr.StartReceiver("adstestReceiverTask", sc.receiverTask, nil)
}

// stop tears the connection down and blocks until every task is gone.
// Safe to call from any goroutine except the connection's own tasks;
// those use stopAsync.
func (sc *serverConn) stop() {
	if sc.stopped.CompareAndSwap(false, true) {
		close(sc.stopping)
		sc.srv.conns.Delete(sc.id)
		sc.closeConn()
		sc.taskMgr.Stop()
		sc.taskMgr.Wait()
		close(sc.stopDone)
		sc.logger.Debug("client connection closed", "conn", sc.id)

		return
	}

	<-sc.stopDone
}

func (sc *serverConn) stopAsync() {
	go sc.stop()
}

func (sc *serverConn) closeConn() {
	sc.closeOnce.Do(func() {
		_ = sc.conn.Close()
	})
}

func (sc *serverConn) receiverTask(lenBuf []byte) bool {
	frame, err := sc.reader.ReadFrame(sc.conn, lenBuf)
	if err != nil {
		if sc.stopped.Load() || sc.srv.opState.IsClosing() || sc.srv.opState.IsClosed() {
			return false
		}

		switch {
		case errors.Is(err, ams.ErrFraming):
			sc.logger.Error("framing violation, closing connection", "conn", sc.id, "error", err)
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			sc.logger.Debug("client disconnected", "conn", sc.id)
		default:
			sc.logger.Error("failed to read frame, closing connection", "conn", sc.id, "error", err)
		}

		sc.stopAsync()

		return false
	}

	sc.dispatch(frame)

	return true
}

func (sc *serverConn) senderTask(frame *ams.Frame) bool {
	data, err := frame.MarshalBinary()
	if err != nil {
		sc.logger.Error("failed to encode frame", "conn", sc.id, "error", err)
		return true
	}

	_ = sc.conn.SetWriteDeadline(time.Now().Add(connWriteTimeout))

	if _, err := sc.conn.Write(data); err != nil {
		if !sc.stopped.Load() {
			sc.logger.Debug("failed to write frame, closing connection", "conn", sc.id, "error", err)
			sc.stopAsync()
		}

		return false
	}

	return true
}

// queueFrame hands a frame to the sender task. Frames are dropped when
// the connection is going away.
func (sc *serverConn) queueFrame(frame *ams.Frame) {
	timer := pool.GetTimer(connWriteTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-sc.srv.ctx.Done():
	case <-timer.C:
		sc.logger.Warn("send queue full, dropping frame", "conn", sc.id)
	case sc.sendChan <- frame:
	}
}

// respond queues the response to req with the given header error code
// and payload.
func (sc *serverConn) respond(req *ams.Frame, errorCode uint32, p ams.Payload) {
	var data []byte

	if p != nil {
		var err error

		data, err = p.MarshalBinary()
		if err != nil {
			sc.logger.Error("failed to encode response payload", "conn", sc.id, "error", err)
			return
		}
	}

	sc.queueFrame(req.Response(errorCode, data))
}

// decode unmarshals a request payload. A payload that violates the
// codec contract is connection-fatal, mirroring the client side.
func (sc *serverConn) decode(frame *ams.Frame, p ams.Payload) bool {
	if err := p.UnmarshalBinary(frame.Payload); err != nil {
		sc.logger.Error("malformed request payload, closing connection",
			"conn", sc.id, "command", frame.Header.Command.String(), "error", err)
		sc.stopAsync()

		return false
	}

	return true
}

func (sc *serverConn) dispatch(frame *ams.Frame) {
	if frame.Header.IsResponse() {
		sc.logger.Warn("unexpected response frame from client, dropping",
			"conn", sc.id, "command", frame.Header.Command.String())

		return
	}

	sc.notePeer(&frame.Header)

	if d := sc.srv.handlerDelay; d > 0 {
		timer := pool.GetTimer(d)
		defer pool.PutTimer(timer)

		select {
		case <-sc.stopping:
			return
		case <-timer.C:
		}
	}

	switch frame.Header.Command {
	case ams.CommandReadDeviceInfo:
		sc.handleReadDeviceInfo(frame)
	case ams.CommandRead:
		sc.handleRead(frame)
	case ams.CommandWrite:
		sc.handleWrite(frame)
	case ams.CommandReadState:
		sc.handleReadState(frame)
	case ams.CommandWriteControl:
		sc.handleWriteControl(frame)
	case ams.CommandAddNotification:
		sc.handleAddNotification(frame)
	case ams.CommandDeleteNotification:
		sc.handleDeleteNotification(frame)
	case ams.CommandReadWrite:
		sc.handleReadWrite(frame)
	default:
		sc.respond(frame, ams.CodeServiceNotSupported, nil)
	}
}

// notePeer records the AMS addresses of the request so notification
// pushes can address the client.
func (sc *serverConn) notePeer(h *ams.Header) {
	sc.addrMu.Lock()
	sc.clientAddr = h.Source
	sc.serverAddr = h.Target
	sc.haveAddrs = true
	sc.addrMu.Unlock()
}

func (sc *serverConn) peerAddrs() (target, source ams.Addr, ok bool) {
	sc.addrMu.Lock()
	defer sc.addrMu.Unlock()

	return sc.clientAddr, sc.serverAddr, sc.haveAddrs
}

func (sc *serverConn) handleReadDeviceInfo(frame *ams.Frame) {
	var req ams.ReadDeviceInfoRequest
	if !sc.decode(frame, &req) {
		return
	}

	sc.respond(frame, 0, &ams.ReadDeviceInfoResponse{
		Major: sc.srv.verMajor,
		Minor: sc.srv.verMinor,
		Build: sc.srv.verBuild,
		Name:  sc.srv.deviceName,
	})
}

func (sc *serverConn) handleRead(frame *ams.Frame) {
	var req ams.ReadRequest
	if !sc.decode(frame, &req) {
		return
	}

	result, data := sc.srv.readAddress(sc, req.IndexGroup, req.IndexOffset, req.Length)
	sc.respond(frame, 0, &ams.ReadResponse{Result: result, Data: data})
}

func (sc *serverConn) handleWrite(frame *ams.Frame) {
	var req ams.WriteRequest
	if !sc.decode(frame, &req) {
		return
	}

	result := sc.srv.writeAddress(sc, req.IndexGroup, req.IndexOffset, req.Data)
	sc.respond(frame, 0, &ams.WriteResponse{Result: result})
}

func (sc *serverConn) handleReadState(frame *ams.Frame) {
	var req ams.ReadStateRequest
	if !sc.decode(frame, &req) {
		return
	}

	sc.respond(frame, 0, &ams.ReadStateResponse{
		ADSState:    ams.ADSState(sc.srv.adsState.Load()),
		DeviceState: uint16(sc.srv.devState.Load()),
	})
}

func (sc *serverConn) handleWriteControl(frame *ams.Frame) {
	var req ams.WriteControlRequest
	if !sc.decode(frame, &req) {
		return
	}

	if req.ADSState > ams.StateReconfig {
		sc.respond(frame, 0, &ams.WriteControlResponse{Result: ams.CodeInvalidDeviceState})
		return
	}

	sc.srv.adsState.Store(uint32(req.ADSState))
	sc.srv.devState.Store(uint32(req.DeviceState))
	sc.respond(frame, 0, &ams.WriteControlResponse{})
}

func (sc *serverConn) handleReadWrite(frame *ams.Frame) {
	var req ams.ReadWriteRequest
	if !sc.decode(frame, &req) {
		return
	}

	if req.IndexGroup == ams.IndexGroupSymbolHandleByName {
		result, data := sc.resolveHandle(req.Data, req.ReadLength)
		sc.respond(frame, 0, &ams.ReadWriteResponse{Result: result, Data: data})

		return
	}

	if len(req.Data) > 0 {
		if result := sc.srv.writeAddress(sc, req.IndexGroup, req.IndexOffset, req.Data); result != 0 {
			sc.respond(frame, 0, &ams.ReadWriteResponse{Result: result})
			return
		}
	}

	result, data := sc.srv.readAddress(sc, req.IndexGroup, req.IndexOffset, req.ReadLength)
	sc.respond(frame, 0, &ams.ReadWriteResponse{Result: result, Data: data})
}

// resolveHandle looks the NUL-terminated name in writeData up in the
// symbol table and returns a connection-scoped handle for it. Repeated
// resolution of the same name on the same connection reuses the handle.
func (sc *serverConn) resolveHandle(writeData []byte, readLength uint32) (uint32, []byte) {
	name := string(bytes.TrimRight(writeData, "\x00"))
	if name == "" {
		return ams.CodeInvalidData, nil
	}

	if readLength < 4 {
		return ams.CodeInvalidSize, nil
	}

	if _, ok := sc.srv.symbols.Load(name); !ok {
		return ams.CodeSymbolNotFound, nil
	}

	handle, ok := sc.symByName.Load(name)
	if !ok {
		handle = sc.srv.handleSeq.Add(1)
		sc.symByName.Store(name, handle)
		sc.symHandles.Store(handle, name)
	}

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, handle)

	return 0, buf
}

// releaseHandle releases the connection-scoped handle carried in data.
func (sc *serverConn) releaseHandle(data []byte) uint32 {
	if len(data) != 4 {
		return ams.CodeInvalidSize
	}

	handle := binary.LittleEndian.Uint32(data)

	name, ok := sc.symHandles.LoadAndDelete(handle)
	if !ok {
		return ams.CodeSymbolNotFound
	}

	sc.symByName.Delete(name)

	return 0
}

func (sc *serverConn) handleAddNotification(frame *ams.Frame) {
	var req ams.AddNotificationRequest
	if !sc.decode(frame, &req) {
		return
	}

	n := &serverNotification{
		group:  req.IndexGroup,
		offset: req.IndexOffset,
		length: req.Length,
		mode:   req.Mode,
		cycle:  req.CycleTime,
	}

	if req.IndexGroup == ams.IndexGroupSymbolValueByHandle {
		name, ok := sc.symHandles.Load(req.IndexOffset)
		if !ok {
			sc.respond(frame, 0, &ams.AddNotificationResponse{Result: ams.CodeSymbolNotFound})
			return
		}

		n.symbol = name
	}

	switch req.Mode {
	case ams.TransServerCycle:
	case ams.TransServerOnChange:
		// On-change tracking exists for symbol values only.
		if n.symbol == "" {
			sc.respond(frame, 0, &ams.AddNotificationResponse{Result: ams.CodeServiceNotSupported})
			return
		}
	default:
		sc.respond(frame, 0, &ams.AddNotificationResponse{Result: ams.CodeServiceNotSupported})
		return
	}

	// The source must be readable at registration time.
	if result, _ := sc.srv.readAddress(sc, n.group, n.offset, n.length); result != 0 {
		sc.respond(frame, 0, &ams.AddNotificationResponse{Result: result})
		return
	}

	n.handle = sc.srv.handleSeq.Add(1)
	sc.notifs.Store(n.handle, n)

	if req.Mode == ams.TransServerCycle {
		cycle := n.cycle
		if cycle < minNotifyCycle {
			cycle = minNotifyCycle
		}

		name := fmt.Sprintf("notify-%d", n.handle)
		if _, err := sc.taskMgr.StartInterval(name, func() bool { sc.pushNotification(n); return true }, cycle, false); err != nil {
			sc.notifs.Delete(n.handle)
			sc.respond(frame, 0, &ams.AddNotificationResponse{Result: ams.CodeDeviceError})

			return
		}
	}

	sc.respond(frame, 0, &ams.AddNotificationResponse{Handle: n.handle})

	// On-change subscriptions get the current value right away. The
	// response frame is already queued, so it stays ahead of the push.
	if req.Mode == ams.TransServerOnChange {
		sc.pushNotification(n)
	}
}

func (sc *serverConn) handleDeleteNotification(frame *ams.Frame) {
	var req ams.DeleteNotificationRequest
	if !sc.decode(frame, &req) {
		return
	}

	n, ok := sc.notifs.LoadAndDelete(req.Handle)
	if !ok {
		sc.respond(frame, 0, &ams.DeleteNotificationResponse{Result: ams.CodeNotificationUnknown})
		return
	}

	if n.mode == ams.TransServerCycle {
		_ = sc.taskMgr.StopInterval(fmt.Sprintf("notify-%d", n.handle))
	}

	sc.respond(frame, 0, &ams.DeleteNotificationResponse{})
}

// pushSymbolChange pushes the current value of name to every on-change
// notification registered on it.
func (sc *serverConn) pushSymbolChange(name string) {
	sc.notifs.Range(func(handle uint32, n *serverNotification) bool {
		if n.symbol == name && n.mode == ams.TransServerOnChange {
			sc.pushNotification(n)
		}

		return true
	})
}

// pushNotification samples the notification source and queues one
// notification frame carrying it.
func (sc *serverConn) pushNotification(n *serverNotification) {
	result, data := sc.srv.readAddress(sc, n.group, n.offset, n.length)
	if result != 0 {
		sc.logger.Debug("notification source unreadable, skipping push",
			"conn", sc.id, "handle", n.handle, "result", result)

		return
	}

	stream := &ams.NotificationStream{
		Stamps: []ams.NotificationStamp{{
			Timestamp: time.Now(),
			Samples:   []ams.NotificationSample{{Handle: n.handle, Data: data}},
		}},
	}

	payload, err := stream.MarshalBinary()
	if err != nil {
		sc.logger.Error("failed to encode notification stream", "conn", sc.id, "error", err)
		return
	}

	target, source, ok := sc.peerAddrs()
	if !ok {
		return
	}

	sc.queueFrame(ams.NewRequest(target, source, ams.CommandNotification, payload))
}
