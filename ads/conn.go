package ads

import (
	"context"
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
	// replyDeliverTimeout bounds handing a response to its waiting
	// requester. The reply channel is buffered, so this only fires when
	// the requester already abandoned the request.
	replyDeliverTimeout = 3 * time.Second
	// closeCheckInterval is the polling interval while waiting for a
	// teardown started by another goroutine to finish.
	closeCheckInterval = 10 * time.Millisecond
	// notifQueueSize is the depth of the stream queue between the receive
	// loop and the subscription fan-out task.
	notifQueueSize = 64
)

// circuitGeneration issues a unique generation for every dialed circuit.
// Symbol handles and subscriptions are stamped with it so that state
// issued by an earlier connection fails fast instead of addressing the
// wrong server-side object.
var circuitGeneration atomic.Uint64

// circuit is one TCP stream to an AMS router together with the tasks
// that service it: a sender draining the outgoing frame queue, a
// receiver decoding incoming frames, and a fan-out task delivering
// notification samples to subscriptions.
//
// A circuit is dialed once and never redialed; Client.Reconnect replaces
// the whole circuit. All exported behavior is reached through Client.
type circuit struct {
	pctx      context.Context
	ctx       context.Context
	ctxCancel context.CancelFunc

	cfg    *Config
	logger logger.Logger

	opState    ams.AtomicOpState
	generation uint64
	shutdown   atomic.Bool

	connMutex sync.RWMutex
	tcpConn   net.Conn

	taskMgr *ams.TaskManager
	reader  ams.FrameReader

	localAddr  ams.Addr
	targetAddr ams.Addr

	invokeID        atomic.Uint32
	senderFrameChan chan *ams.Frame
	replyFrameChans *xsync.MapOf[uint32, chan *ams.Frame]
	replyErrs       *xsync.MapOf[uint32, error]

	notifChan chan *ams.NotificationStream
	subs      *xsync.MapOf[uint32, *Subscription]
	symbols   *xsync.MapOf[string, SymbolHandle]

	metrics CircuitMetrics
}

func newCircuit(pctx context.Context, cfg *Config) *circuit {
	c := &circuit{
		pctx:            pctx,
		cfg:             cfg,
		logger:          cfg.logger,
		generation:      circuitGeneration.Add(1),
		reader:          ams.FrameReader{ReadTimeout: cfg.readTimeout},
		senderFrameChan: make(chan *ams.Frame, cfg.senderQueueSize),
		replyFrameChans: xsync.NewMapOf[uint32, chan *ams.Frame](),
		replyErrs:       xsync.NewMapOf[uint32, error](),
		notifChan:       make(chan *ams.NotificationStream, notifQueueSize),
		subs:            xsync.NewMapOf[uint32, *Subscription](),
		symbols:         xsync.NewMapOf[string, SymbolHandle](),
	}
	c.ctx, c.ctxCancel = context.WithCancel(pctx)
	c.taskMgr = ams.NewTaskManager(pctx, c.logger)

	return c
}

// open dials the router and starts the circuit tasks.
func (c *circuit) open(ctx context.Context) error {
	if !c.opState.ToOpening() {
		return fmt.Errorf("ads: circuit is %s, cannot open", c.opState.String())
	}

	if err := c.resolveAddrs(); err != nil {
		c.opState.Set(ams.ClosedState)
		return err
	}

	dialer := net.Dialer{Timeout: c.cfg.dialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.RemoteAddr())
	if err != nil {
		c.opState.Set(ams.ClosedState)
		return fmt.Errorf("ads: dial %s: %w", c.cfg.RemoteAddr(), err)
	}

	c.setTCPConn(conn)

	if err := c.startTasks(); err != nil {
		c.closeTCP(0)
		c.opState.Set(ams.ClosedState)

		return err
	}

	c.opState.ToOpened()
	c.logger.Debug("circuit opened",
		"remote", conn.RemoteAddr().String(),
		"target", c.targetAddr.String(),
		"source", c.localAddr.String(),
		"generation", c.generation,
	)

	return nil
}

// resolveAddrs fixes the source and target AMS addresses stamped on every
// request. A missing target NetID is derived from the host when the host
// is an IPv4 literal; a missing source NetID is derived from the first
// usable local interface.
func (c *circuit) resolveAddrs() error {
	target := c.cfg.targetNetID
	if target.IsZero() {
		ip := net.ParseIP(c.cfg.host)
		if ip == nil {
			return fmt.Errorf("%w: target net id required for host %q", ams.ErrInvalidNetID, c.cfg.host)
		}

		v4 := ip.To4()
		if v4 == nil {
			return fmt.Errorf("%w: cannot derive target net id from %q", ams.ErrInvalidNetID, c.cfg.host)
		}

		target = ams.NetID{v4[0], v4[1], v4[2], v4[3], 1, 1}
	}

	source := c.cfg.sourceNetID
	if source.IsZero() {
		var err error

		source, err = ams.LocalNetID()
		if err != nil {
			return err
		}
	}

	c.targetAddr = ams.Addr{NetID: target, Port: c.cfg.targetPort}
	c.localAddr = ams.Addr{NetID: source, Port: c.cfg.sourcePort}

	return nil
}

func (c *circuit) startTasks() error {
	if err := c.taskMgr.StartSender("adsSenderTask", c.senderTask, nil, c.senderFrameChan); err != nil {
		return err
	}

	if err := c.taskMgr.StartRecvNotification("adsNotifyTask", c.fanOutStream, c.notifChan); err != nil {
		return err
	}

	return c.taskMgr.StartReceiver("adsReceiverTask", c.receiverTask, nil)
}

func (c *circuit) getTCPConn() net.Conn {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	return c.tcpConn
}

func (c *circuit) setTCPConn(conn net.Conn) {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	c.tcpConn = conn
}

// closeTCP closes the TCP stream and returns the remote address for
// logging. A positive linger rounds down to whole seconds.
func (c *circuit) closeTCP(linger time.Duration) string {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.tcpConn == nil {
		return ""
	}

	remoteAddr := c.tcpConn.RemoteAddr().String()

	if tcpConn, ok := c.tcpConn.(*net.TCPConn); ok {
		_ = tcpConn.SetLinger(int(linger.Seconds()))
	}

	_ = c.tcpConn.Close()
	c.tcpConn = nil

	return remoteAddr
}

// nextInvokeID allocates an invoke id and registers replyChan under it.
// The id is never zero and never collides with a request still in
// flight, even across counter wrap-around.
func (c *circuit) nextInvokeID(replyChan chan *ams.Frame) uint32 {
	for {
		id := c.invokeID.Add(1)
		if id == ams.InvokeIDNone {
			continue
		}

		if _, loaded := c.replyFrameChans.LoadOrStore(id, replyChan); !loaded {
			return id
		}
	}
}

func (c *circuit) removeWaiter(id uint32) {
	c.replyFrameChans.Delete(id)
}

// exchange sends one request and waits for the matching response.
// Timeouts abandon the request and leave the circuit usable; a circuit
// teardown fails the wait with ErrConnClosed. A response whose header
// carries a non-zero error code fails with ams.DeviceError.
func (c *circuit) exchange(ctx context.Context, cmd ams.Command, payload []byte) (*ams.Frame, error) {
	if !c.opState.IsOpened() {
		return nil, ErrConnClosed
	}

	replyChan := make(chan *ams.Frame, 1)
	id := c.nextInvokeID(replyChan)

	frame := ams.NewRequest(c.targetAddr, c.localAddr, cmd, payload)
	frame.Header.InvokeID = id

	c.metrics.requestCount.Add(1)

	if err := c.queueFrame(ctx, frame); err != nil {
		c.removeWaiter(id)
		return nil, err
	}

	c.metrics.inflight.Add(1)
	defer c.metrics.inflight.Add(-1)

	timer := pool.GetTimer(c.cfg.requestTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		c.removeWaiter(id)

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.metrics.requestTimeouts.Add(1)
			return nil, fmt.Errorf("%w: %s abandoned at caller deadline", ErrTimeout, cmd.String())
		}

		return nil, ctx.Err()

	case <-c.ctx.Done():
		c.removeWaiter(id)
		return nil, ErrConnClosed

	case <-timer.C:
		c.removeWaiter(id)
		c.metrics.requestTimeouts.Add(1)
		c.logger.Warn("request timeout", "command", cmd.String(), "invokeID", id, "timeout", c.cfg.requestTimeout)

		return nil, fmt.Errorf("%w: %s after %v", ErrTimeout, cmd.String(), c.cfg.requestTimeout)

	case reply := <-replyChan:
		c.removeWaiter(id)

		if reply == nil {
			if err, ok := c.replyErrs.LoadAndDelete(id); ok && err != nil {
				return nil, err
			}

			return nil, ErrConnClosed
		}

		if reply.Header.ErrorCode != 0 {
			c.metrics.deviceErrors.Add(1)
			return nil, ams.DeviceError(reply.Header.ErrorCode)
		}

		return reply, nil
	}
}

// queueFrame hands one frame to the sender task.
func (c *circuit) queueFrame(ctx context.Context, frame *ams.Frame) error {
	timer := pool.GetTimer(c.cfg.sendTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrConnClosed
	case <-timer.C:
		return ErrSendTimeout
	case c.senderFrameChan <- frame:
		return nil
	}
}

// senderTask encodes and writes one outgoing frame. Write failures on a
// live circuit are connection-fatal.
func (c *circuit) senderTask(frame *ams.Frame) bool {
	conn := c.getTCPConn()
	if conn == nil {
		return false
	}

	data, err := frame.MarshalBinary()
	if err != nil {
		c.logger.Error("failed to encode frame", "command", frame.Header.Command.String(), "error", err)
		c.replyErrToWaiter(frame.Header.InvokeID, err)

		return true
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.sendTimeout))

	if _, err := conn.Write(data); err != nil {
		c.replyErrToWaiter(frame.Header.InvokeID, ErrConnClosed)

		if c.opState.IsClosing() || c.opState.IsClosed() {
			return false
		}

		c.logger.Error("failed to write frame, closing circuit", "error", err)
		c.shutdownAsync()

		return false
	}

	c.metrics.frameSendCount.Add(1)

	return true
}

// receiverTask reads and dispatches one incoming frame. Any framing
// violation tears the circuit down; the stream is never resynchronized.
func (c *circuit) receiverTask(lenBuf []byte) bool {
	conn := c.getTCPConn()
	if conn == nil {
		return false
	}

	frame, err := c.reader.ReadFrame(conn, lenBuf)
	if err != nil {
		return c.handleReadError(err)
	}

	c.metrics.frameRecvCount.Add(1)
	c.dispatchFrame(frame)

	return true
}

func (c *circuit) handleReadError(err error) bool {
	if c.opState.IsClosing() || c.opState.IsClosed() {
		return false
	}

	switch {
	case errors.Is(err, ams.ErrFraming):
		c.logger.Error("framing violation, closing circuit", "error", err)
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.logger.Debug("connection closed by peer")
	default:
		c.logger.Error("failed to read frame, closing circuit", "error", err)
	}

	c.shutdownAsync()

	return false
}

func (c *circuit) dispatchFrame(frame *ams.Frame) {
	if frame.Header.Command == ams.CommandNotification && frame.Header.IsRequest() {
		c.enqueueStream(frame)
		return
	}

	if frame.Header.IsResponse() {
		c.replyToWaiter(frame)
		return
	}

	c.logger.Warn("unexpected request frame from peer, dropping",
		"command", frame.Header.Command.String(),
		"invokeID", frame.Header.InvokeID,
	)
}

// enqueueStream decodes a pushed notification frame and hands it to the
// fan-out task. The receive loop never blocks on fan-out: a full stream
// queue drops the oldest stream and counts its samples, so a stalled
// fan-out resumes with the most recent window of pushes.
func (c *circuit) enqueueStream(frame *ams.Frame) {
	stream := &ams.NotificationStream{}
	if err := stream.UnmarshalBinary(frame.Payload); err != nil {
		c.logger.Error("malformed notification stream, closing circuit", "error", err)
		c.shutdownAsync()

		return
	}

	for {
		select {
		case c.notifChan <- stream:
			return
		default:
		}

		select {
		case old := <-c.notifChan:
			dropped := 0
			for i := range old.Stamps {
				dropped += len(old.Stamps[i].Samples)
			}

			c.metrics.sampleDropCount.Add(uint64(dropped))
			c.logger.Warn("notification queue full, dropping oldest stream", "samples", dropped)
		default:
		}
	}
}

// fanOutStream delivers the samples of one notification stream to their
// subscriptions. Samples for handles without a live subscription are
// dropped and counted.
func (c *circuit) fanOutStream(stream *ams.NotificationStream) {
	for i := range stream.Stamps {
		stamp := &stream.Stamps[i]
		for j := range stamp.Samples {
			sample := &stamp.Samples[j]

			sub, ok := c.subs.Load(sample.Handle)
			if !ok {
				c.metrics.sampleDropCount.Add(1)
				c.logger.Debug("notification sample without subscription", "handle", sample.Handle)

				continue
			}

			sub.deliver(Sample{
				SubscriptionID: sample.Handle,
				Timestamp:      stamp.Timestamp,
				Data:           sample.Data,
			})
		}
	}
}

// replyToWaiter routes a response frame to the requester waiting on its
// invoke id. Late responses whose requester already gave up are dropped.
func (c *circuit) replyToWaiter(frame *ams.Frame) {
	id := frame.Header.InvokeID

	replyChan, ok := c.replyFrameChans.Load(id)
	if !ok || replyChan == nil {
		c.logger.Debug("response without waiter, dropping",
			"command", frame.Header.Command.String(), "invokeID", id)

		return
	}

	timer := pool.GetTimer(replyDeliverTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-c.ctx.Done():
		c.removeWaiter(id)
	case <-timer.C:
		c.logger.Warn("waiter not receiving, dropping response", "invokeID", id)
		c.removeWaiter(id)
	case replyChan <- frame:
	}
}

// replyErrToWaiter fails the requester waiting on id with err.
func (c *circuit) replyErrToWaiter(id uint32, err error) {
	replyChan, ok := c.replyFrameChans.Load(id)
	if !ok || replyChan == nil {
		return
	}

	c.replyErrs.Store(id, err)

	timer := pool.GetTimer(replyDeliverTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-c.ctx.Done():
	case <-timer.C:
	case replyChan <- nil:
	}
}

// shutdownAsync starts circuit teardown from a circuit task. The
// teardown runs on its own goroutine because closeConn waits for all
// tasks to terminate, including the caller.
func (c *circuit) shutdownAsync() {
	if c.shutdown.CompareAndSwap(false, true) {
		go func() {
			_ = c.closeConn()
		}()
	}
}

// close tears the circuit down, or waits for a teardown already running.
func (c *circuit) close() error {
	if c.shutdown.CompareAndSwap(false, true) {
		return c.closeConn()
	}

	closeTimer := pool.GetTimer(c.cfg.closeTimeout)
	defer pool.PutTimer(closeTimer)

	checkTicker := time.NewTicker(closeCheckInterval)
	defer checkTicker.Stop()

	for {
		select {
		case <-closeTimer.C:
			if c.opState.IsClosed() {
				return nil
			}

			return fmt.Errorf("ads: timeout waiting for circuit teardown")
		case <-checkTicker.C:
			if c.opState.IsClosed() {
				return nil
			}
		}
	}
}

func (c *circuit) closeConn() error {
	if !c.opState.ToClosing() {
		if c.opState.IsClosed() {
			return nil
		}

		return fmt.Errorf("ads: circuit is %s, cannot close", c.opState.String())
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), c.cfg.closeTimeout)
	defer closeCancel()

	c.drainSenderFrameChan(closeCtx)
	c.ctxCancel()
	remoteAddr := c.closeTCP(c.cfg.closeTimeout)
	c.taskMgr.Stop()

	go func() {
		c.taskMgr.Wait()
		closeCancel()
	}()

	<-closeCtx.Done()

	var closeErr error
	if !errors.Is(closeCtx.Err(), context.Canceled) {
		closeErr = fmt.Errorf("ads: timeout waiting for circuit tasks to terminate")
		c.logger.Error("circuit tasks did not terminate before close timeout", "remote", remoteAddr)
	}

	c.dropAllWaiters()
	c.closeAllSubscriptions()
	c.symbols.Clear()

	c.opState.ToClosed()
	c.logger.Debug("circuit closed", "remote", remoteAddr, "generation", c.generation)

	return closeErr
}

// drainSenderFrameChan flushes frames already queued so their requesters
// fail with ErrConnClosed instead of hanging until timeout.
func (c *circuit) drainSenderFrameChan(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.senderFrameChan:
			c.replyErrToWaiter(frame.Header.InvokeID, ErrConnClosed)
		default:
			return
		}
	}
}

// dropAllWaiters fails every request still awaiting a response with
// ErrConnClosed.
func (c *circuit) dropAllWaiters() {
	c.replyFrameChans.Range(func(id uint32, replyChan chan *ams.Frame) bool {
		c.replyErrs.Store(id, ErrConnClosed)

		select {
		case replyChan <- nil:
		default:
		}

		c.replyFrameChans.Delete(id)

		return true
	})
}

// closeAllSubscriptions closes every subscription channel and releases
// the local bookkeeping. The server side is gone with the connection.
func (c *circuit) closeAllSubscriptions() {
	c.subs.Range(func(handle uint32, sub *Subscription) bool {
		sub.markClosed()
		c.subs.Delete(handle)

		return true
	})
}
