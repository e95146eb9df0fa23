// Package adstest provides an in-process AMS/TCP mock server for
// exercising ADS clients against protocol-compliant traffic: framed
// request/response exchanges, symbol handle bookkeeping, cyclic and
// on-change notification pushes, and EtherCAT slave register access.
//
// The server is deterministic. Device state, symbol values and slave
// diagnostic counters only change through its API or through protocol
// writes, so tests can assert exact observable behavior.
package adstest

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/plcforge/go-ads/ams"
	"github.com/plcforge/go-ads/internal/util"
	"github.com/plcforge/go-ads/logger"
)

// Default device identity reported by ReadDeviceInfo.
const (
	DefaultDeviceName   = "go-ads mock"
	DefaultMajorVersion = 3
	DefaultMinorVersion = 1
	DefaultBuildVersion = 4024
)

// Server is a mock AMS router plus ADS device behind one TCP listener.
// Create it with NewServer, then Start it; Addr returns the actual
// listen address once started. All methods are safe for concurrent use.
type Server struct {
	logger logger.Logger

	listenAddr   string
	deviceName   string
	verMajor     uint8
	verMinor     uint8
	verBuild     uint16
	handlerDelay time.Duration

	opState ams.AtomicOpState
	taskMgr *ams.TaskManager

	ctx       context.Context
	ctxCancel context.CancelFunc

	listenerMu sync.Mutex
	listener   net.Listener

	adsState atomic.Uint32
	devState atomic.Uint32

	handleSeq atomic.Uint32
	connSeq   atomic.Uint64

	symbols   *xsync.MapOf[string, *serverSymbol]
	dataAreas *xsync.MapOf[uint64, *dataArea]
	slaves    *xsync.MapOf[uint16, *slaveRegs]
	conns     *xsync.MapOf[string, *serverConn]
}

type serverSymbol struct {
	mu    sync.RWMutex
	value []byte
}

type dataArea struct {
	mu   sync.RWMutex
	data []byte
}

type slaveRegs struct {
	mu        sync.Mutex
	dlStatus  uint16
	alStatus  uint16
	rxErrors  [ams.RegisterRxErrCountersSize]byte
	lostLinks [ams.RegisterLostLinkSize]byte
}

// ServerOption configures a Server created by NewServer.
type ServerOption func(*Server)

// WithListenAddr sets the TCP listen address. The default is
// "127.0.0.1:0", an ephemeral port on loopback.
func WithListenAddr(addr string) ServerOption {
	return func(s *Server) { s.listenAddr = addr }
}

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithDeviceInfo sets the identity reported by ReadDeviceInfo.
func WithDeviceInfo(name string, major, minor uint8, build uint16) ServerOption {
	return func(s *Server) {
		s.deviceName = name
		s.verMajor = major
		s.verMinor = minor
		s.verBuild = build
	}
}

// WithADSState sets the initial device state reported by ReadState.
func WithADSState(state ams.ADSState) ServerOption {
	return func(s *Server) { s.adsState.Store(uint32(state)) }
}

// WithSymbol pre-registers a symbol with an initial value.
func WithSymbol(name string, value []byte) ServerOption {
	return func(s *Server) { s.SetSymbol(name, value) }
}

// WithHandlerDelay makes every connection pause before handling each
// received command. Tests use it to hold requests in flight.
func WithHandlerDelay(d time.Duration) ServerOption {
	return func(s *Server) { s.handlerDelay = d }
}

// WithSlaves pre-registers EtherCAT slaves, each starting in the
// operational AL state with clear counters.
func WithSlaves(addrs ...uint16) ServerOption {
	return func(s *Server) {
		for _, addr := range addrs {
			s.AddSlave(addr)
		}
	}
}

// NewServer creates a stopped mock server.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		logger:     logger.GetLogger(),
		listenAddr: "127.0.0.1:0",
		deviceName: DefaultDeviceName,
		verMajor:   DefaultMajorVersion,
		verMinor:   DefaultMinorVersion,
		verBuild:   DefaultBuildVersion,
		symbols:    xsync.NewMapOf[string, *serverSymbol](),
		dataAreas:  xsync.NewMapOf[uint64, *dataArea](),
		slaves:     xsync.NewMapOf[uint16, *slaveRegs](),
		conns:      xsync.NewMapOf[string, *serverConn](),
	}
	s.adsState.Store(uint32(ams.StateRun))

	for _, opt := range opts {
		opt(s)
	}

	s.taskMgr = ams.NewTaskManager(context.Background(), s.logger)

	return s
}

// Start listens and begins accepting connections.
func (s *Server) Start() error {
	if !s.opState.ToOpening() {
		return fmt.Errorf("adstest: server is %s, cannot start", s.opState.String())
	}

	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		s.opState.Set(ams.ClosedState)
		return fmt.Errorf("adstest: listen %s: %w", s.listenAddr, err)
	}

	s.setListener(listener)
	s.ctx, s.ctxCancel = context.WithCancel(context.Background())

	if err := s.taskMgr.Start("adstestAcceptTask", s.acceptTask); err != nil {
		s.closeListener()
		s.ctxCancel()
		s.opState.Set(ams.ClosedState)

		return err
	}

	s.opState.ToOpened()
	s.logger.Debug("mock server started", "addr", s.Addr())

	return nil
}

// Stop closes the listener and all connections and waits for every
// server goroutine to terminate.
func (s *Server) Stop() error {
	if !s.opState.ToClosing() {
		if s.opState.IsClosed() {
			return nil
		}

		return fmt.Errorf("adstest: server is %s, cannot stop", s.opState.String())
	}

	s.closeListener()

	s.conns.Range(func(id string, sc *serverConn) bool {
		sc.stop()
		return true
	})

	s.taskMgr.Stop()
	s.taskMgr.Wait()

	// The accept task has exited, so no further connection can be stored.
	// A connection accepted while the sweep above ran is tracked by now
	// and still needs teardown.
	s.conns.Range(func(id string, sc *serverConn) bool {
		sc.stop()
		return true
	})

	s.ctxCancel()

	s.opState.ToClosed()
	s.logger.Debug("mock server stopped")

	return nil
}

// Addr returns the actual listen address, or "" when not listening.
func (s *Server) Addr() string {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Port returns the actual TCP listen port, or 0 when not listening.
func (s *Server) Port() int {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return 0
	}

	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}

	return 0
}

// ConnCount returns the number of live client connections.
func (s *Server) ConnCount() int {
	return s.conns.Size()
}

func (s *Server) setListener(listener net.Listener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	s.listener = listener
}

func (s *Server) closeListener() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *Server) getListener() net.Listener {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	return s.listener
}

func (s *Server) acceptTask() bool {
	listener := s.getListener()
	if listener == nil {
		return false
	}

	conn, err := listener.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) || s.opState.IsClosing() || s.opState.IsClosed() {
			return false
		}

		s.logger.Error("accept failed", "error", err)

		return false
	}

	sc := newServerConn(s, conn)
	if err := sc.start(); err != nil {
		s.logger.Error("failed to start connection tasks", "error", err)
		_ = conn.Close()

		return true
	}

	s.conns.Store(sc.id, sc)
	s.logger.Debug("client connected", "remote", conn.RemoteAddr().String())

	return true
}

// SetSymbol registers a symbol or replaces its value. A change to an
// existing symbol's bytes pushes an on-change notification to every
// subscription on it.
func (s *Server) SetSymbol(name string, value []byte) {
	stored := util.CloneSlice(value, 0)

	sym, loaded := s.symbols.LoadOrStore(name, &serverSymbol{value: stored})
	if !loaded {
		return
	}

	sym.mu.Lock()
	changed := !bytes.Equal(sym.value, stored)
	sym.value = stored
	sym.mu.Unlock()

	if changed {
		s.symbolChanged(name)
	}
}

// SymbolValue returns a copy of a symbol's current value.
func (s *Server) SymbolValue(name string) ([]byte, bool) {
	sym, ok := s.symbols.Load(name)
	if !ok {
		return nil, false
	}

	sym.mu.RLock()
	defer sym.mu.RUnlock()

	return util.CloneSlice(sym.value, 0), true
}

// SetData registers a raw readable and writable data area under an
// index group and offset pair, or replaces its content.
func (s *Server) SetData(group, offset uint32, data []byte) {
	stored := util.CloneSlice(data, 0)

	area, loaded := s.dataAreas.LoadOrStore(areaKey(group, offset), &dataArea{data: stored})
	if !loaded {
		return
	}

	area.mu.Lock()
	area.data = stored
	area.mu.Unlock()
}

// AddSlave registers an EtherCAT slave in the operational AL state with
// clear counters.
func (s *Server) AddSlave(addr uint16) {
	s.slaves.LoadOrStore(addr, &slaveRegs{dlStatus: 0x0003, alStatus: 0x0008})
}

// SetSlaveALStatus sets the raw AL status register of a slave.
func (s *Server) SetSlaveALStatus(addr, status uint16) {
	if regs, ok := s.slaves.Load(addr); ok {
		regs.mu.Lock()
		regs.alStatus = status
		regs.mu.Unlock()
	}
}

// AddSlaveRxErrors bumps the invalid-frame and CRC error counters of
// one slave port. Counters saturate at 0xFF like the hardware ones.
func (s *Server) AddSlaveRxErrors(addr uint16, port int, invalidFrames, crcErrors byte) {
	regs, ok := s.slaves.Load(addr)
	if !ok || port < 0 || port > 3 {
		return
	}

	regs.mu.Lock()
	regs.rxErrors[2*port] = satAdd(regs.rxErrors[2*port], invalidFrames)
	regs.rxErrors[2*port+1] = satAdd(regs.rxErrors[2*port+1], crcErrors)
	regs.mu.Unlock()
}

// AddSlaveLostLinks bumps the lost-link counter of one slave port.
func (s *Server) AddSlaveLostLinks(addr uint16, port int, count byte) {
	regs, ok := s.slaves.Load(addr)
	if !ok || port < 0 || port > 3 {
		return
	}

	regs.mu.Lock()
	regs.lostLinks[port] = satAdd(regs.lostLinks[port], count)
	regs.mu.Unlock()
}

// SlaveRxErrors returns the current RX error counter block of a slave.
func (s *Server) SlaveRxErrors(addr uint16) ([ams.RegisterRxErrCountersSize]byte, bool) {
	regs, ok := s.slaves.Load(addr)
	if !ok {
		return [ams.RegisterRxErrCountersSize]byte{}, false
	}

	regs.mu.Lock()
	defer regs.mu.Unlock()

	return regs.rxErrors, true
}

func satAdd(counter, delta byte) byte {
	if int(counter)+int(delta) > 0xFF {
		return 0xFF
	}

	return counter + delta
}

func areaKey(group, offset uint32) uint64 {
	return uint64(group)<<32 | uint64(offset)
}

// symbolChanged pushes on-change notifications for name on every
// connection.
func (s *Server) symbolChanged(name string) {
	s.conns.Range(func(id string, sc *serverConn) bool {
		sc.pushSymbolChange(name)
		return true
	})
}

// readAddress routes a read to symbol values, slave registers or raw
// data areas by index group. Returned data is always a fresh copy.
func (s *Server) readAddress(sc *serverConn, group, offset, length uint32) (uint32, []byte) {
	if _, ok := ams.SplitSlaveRegisterGroup(group); ok {
		slaveAddr, register := ams.SplitSlaveRegisterOffset(offset)

		regs, ok := s.slaves.Load(slaveAddr)
		if !ok {
			return ams.CodeInvalidIndexOffset, nil
		}

		return regs.read(register, length)
	}

	switch group {
	case ams.IndexGroupSymbolValueByHandle:
		name, ok := sc.symHandles.Load(offset)
		if !ok {
			return ams.CodeSymbolNotFound, nil
		}

		return s.readSymbol(name, length)
	default:
		return s.readDataArea(group, offset, length)
	}
}

// writeAddress routes a write by index group.
func (s *Server) writeAddress(sc *serverConn, group, offset uint32, data []byte) uint32 {
	if _, ok := ams.SplitSlaveRegisterGroup(group); ok {
		slaveAddr, register := ams.SplitSlaveRegisterOffset(offset)

		regs, ok := s.slaves.Load(slaveAddr)
		if !ok {
			return ams.CodeInvalidIndexOffset
		}

		return regs.write(register)
	}

	switch group {
	case ams.IndexGroupSymbolValueByHandle:
		name, ok := sc.symHandles.Load(offset)
		if !ok {
			return ams.CodeSymbolNotFound
		}

		return s.writeSymbol(name, data)
	case ams.IndexGroupReleaseSymbolHandle:
		return sc.releaseHandle(data)
	default:
		return s.writeDataArea(group, offset, data)
	}
}

func (s *Server) readSymbol(name string, length uint32) (uint32, []byte) {
	sym, ok := s.symbols.Load(name)
	if !ok {
		return ams.CodeSymbolNotFound, nil
	}

	sym.mu.RLock()
	defer sym.mu.RUnlock()

	if int(length) > len(sym.value) {
		return ams.CodeInvalidSize, nil
	}

	return 0, util.CloneSlice(sym.value, int(length))
}

func (s *Server) writeSymbol(name string, data []byte) uint32 {
	sym, ok := s.symbols.Load(name)
	if !ok {
		return ams.CodeSymbolNotFound
	}

	sym.mu.Lock()

	if len(data) > len(sym.value) {
		sym.mu.Unlock()
		return ams.CodeInvalidSize
	}

	changed := !bytes.Equal(sym.value[:len(data)], data)
	copy(sym.value, data)
	sym.mu.Unlock()

	if changed {
		s.symbolChanged(name)
	}

	return 0
}

func (s *Server) readDataArea(group, offset, length uint32) (uint32, []byte) {
	area, ok := s.dataAreas.Load(areaKey(group, offset))
	if !ok {
		return ams.CodeInvalidIndexGroup, nil
	}

	area.mu.RLock()
	defer area.mu.RUnlock()

	if int(length) > len(area.data) {
		return ams.CodeInvalidSize, nil
	}

	return 0, util.CloneSlice(area.data, int(length))
}

func (s *Server) writeDataArea(group, offset uint32, data []byte) uint32 {
	area, ok := s.dataAreas.Load(areaKey(group, offset))
	if !ok {
		return ams.CodeInvalidIndexGroup
	}

	area.mu.Lock()
	defer area.mu.Unlock()

	if len(data) > len(area.data) {
		return ams.CodeInvalidSize
	}

	copy(area.data, data)

	return 0
}

// read returns length bytes of the register block containing register,
// starting at register. Reads past the end of a block fail.
func (r *slaveRegs) read(register uint16, length uint32) (uint32, []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		block []byte
		base  uint16
	)

	switch {
	case register >= ams.RegisterDLStatus && register < ams.RegisterDLStatus+ams.RegisterStatusSize:
		block = make([]byte, ams.RegisterStatusSize)
		binary.LittleEndian.PutUint16(block, r.dlStatus)
		base = ams.RegisterDLStatus
	case register >= ams.RegisterALStatus && register < ams.RegisterALStatus+ams.RegisterStatusSize:
		block = make([]byte, ams.RegisterStatusSize)
		binary.LittleEndian.PutUint16(block, r.alStatus)
		base = ams.RegisterALStatus
	case register >= ams.RegisterRxErrCounters && register < ams.RegisterRxErrCounters+ams.RegisterRxErrCountersSize:
		block = util.CloneSlice(r.rxErrors[:], 0)
		base = ams.RegisterRxErrCounters
	case register >= ams.RegisterLostLink && register < ams.RegisterLostLink+ams.RegisterLostLinkSize:
		block = util.CloneSlice(r.lostLinks[:], 0)
		base = ams.RegisterLostLink
	default:
		return ams.CodeInvalidIndexOffset, nil
	}

	idx := int(register - base)
	if int(length) > len(block)-idx {
		return ams.CodeInvalidSize, nil
	}

	return 0, block[idx : idx+int(length)]
}

// write clears the counter block containing register. The status
// registers are read-only.
func (r *slaveRegs) write(register uint16) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case register >= ams.RegisterRxErrCounters && register < ams.RegisterRxErrCounters+ams.RegisterRxErrCountersSize:
		r.rxErrors = [ams.RegisterRxErrCountersSize]byte{}
		return 0
	case register >= ams.RegisterLostLink && register < ams.RegisterLostLink+ams.RegisterLostLinkSize:
		r.lostLinks = [ams.RegisterLostLinkSize]byte{}
		return 0
	case register >= ams.RegisterDLStatus && register < ams.RegisterDLStatus+ams.RegisterStatusSize,
		register >= ams.RegisterALStatus && register < ams.RegisterALStatus+ams.RegisterStatusSize:
		return ams.CodeAccessDenied
	default:
		return ams.CodeInvalidIndexOffset
	}
}
