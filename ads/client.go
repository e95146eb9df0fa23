package ads

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plcforge/go-ads/ams"
	"github.com/plcforge/go-ads/logger"
)

// StateInfo is the device state pair returned by ReadState.
type StateInfo struct {
	ADSState    ams.ADSState
	DeviceState uint16
}

// DeviceInfo is the identity returned by ReadDeviceInfo.
type DeviceInfo struct {
	MajorVersion uint8
	MinorVersion uint8
	BuildVersion uint16
	DeviceName   string
}

// Client is an ADS client over one TCP connection to an AMS router.
// All methods are safe for concurrent use; requests from any number of
// goroutines interleave on the same circuit and are correlated by
// invoke id.
//
// The client never reconnects on its own. When the circuit goes down,
// in-flight and subsequent operations fail with ErrConnClosed until the
// caller decides to Reconnect.
type Client struct {
	pctx   context.Context
	cfg    *Config
	logger logger.Logger

	mu      sync.Mutex
	circuit *circuit
	closed  atomic.Bool

	reconnects atomic.Uint32
}

// Connect dials the configured router and returns a connected client.
// ctx bounds the dial only; the client outlives it.
func Connect(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ads: nil config")
	}

	c := &Client{
		pctx:   context.Background(),
		cfg:    cfg,
		logger: cfg.logger,
	}

	circuit := newCircuit(c.pctx, cfg)
	if err := circuit.open(ctx); err != nil {
		return nil, err
	}

	c.circuit = circuit

	return c, nil
}

// Close tears the connection down. Requests still awaiting responses
// fail with ErrConnClosed and all subscription channels close. A second
// Close fails with ErrAlreadyClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}

	c.mu.Lock()
	circuit := c.circuit
	c.circuit = nil
	c.mu.Unlock()

	if circuit == nil {
		return nil
	}

	return circuit.close()
}

// Reconnect replaces the circuit with a freshly dialed one. Symbol
// handles and subscriptions issued before the reconnect belong to the
// old circuit and fail with ErrConnClosed from then on.
//
// When the dial fails the client is left without a circuit; operations
// fail with ErrConnClosed and the caller may Reconnect again.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrConnClosed
	}

	if c.circuit != nil {
		_ = c.circuit.close()
		c.circuit = nil
	}

	circuit := newCircuit(c.pctx, c.cfg)
	if err := circuit.open(ctx); err != nil {
		return err
	}

	c.circuit = circuit
	c.reconnects.Add(1)

	return nil
}

// getCircuit returns the live circuit or ErrConnClosed.
func (c *Client) getCircuit() (*circuit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() || c.circuit == nil {
		return nil, ErrConnClosed
	}

	return c.circuit, nil
}

// Generation returns the generation of the current circuit, or zero
// when the client has none.
func (c *Client) Generation() uint64 {
	circuit, err := c.getCircuit()
	if err != nil {
		return 0
	}

	return circuit.generation
}

// ReconnectCount returns how many times Reconnect succeeded.
func (c *Client) ReconnectCount() uint32 { return c.reconnects.Load() }

// Metrics returns the metrics of the current circuit, or nil when the
// client has none.
func (c *Client) Metrics() *CircuitMetrics {
	circuit, err := c.getCircuit()
	if err != nil {
		return nil
	}

	return &circuit.metrics
}

// TaskCount returns the number of goroutines servicing the current
// circuit.
func (c *Client) TaskCount() int {
	circuit, err := c.getCircuit()
	if err != nil {
		return 0
	}

	return circuit.taskMgr.TaskCount()
}

// TargetAddr returns the AMS address requests are routed to, or the
// zero address when the client has no circuit.
func (c *Client) TargetAddr() ams.Addr {
	circuit, err := c.getCircuit()
	if err != nil {
		return ams.Addr{}
	}

	return circuit.targetAddr
}

// Read reads length bytes from the address given by index group and
// offset.
func (c *Client) Read(ctx context.Context, group, offset, length uint32) ([]byte, error) {
	circuit, err := c.getCircuit()
	if err != nil {
		return nil, err
	}

	return circuit.read(ctx, group, offset, length)
}

// Write writes data to the address given by index group and offset.
func (c *Client) Write(ctx context.Context, group, offset uint32, data []byte) error {
	circuit, err := c.getCircuit()
	if err != nil {
		return err
	}

	return circuit.write(ctx, group, offset, data)
}

// ReadWrite writes data and reads up to readLength bytes back in one
// round trip.
func (c *Client) ReadWrite(ctx context.Context, group, offset, readLength uint32, data []byte) ([]byte, error) {
	circuit, err := c.getCircuit()
	if err != nil {
		return nil, err
	}

	return circuit.readWrite(ctx, group, offset, readLength, data)
}

// ReadState reads the device's ADS state and device state.
func (c *Client) ReadState(ctx context.Context) (StateInfo, error) {
	circuit, err := c.getCircuit()
	if err != nil {
		return StateInfo{}, err
	}

	return circuit.readState(ctx)
}

// ReadDeviceInfo reads the device name and version.
func (c *Client) ReadDeviceInfo(ctx context.Context) (DeviceInfo, error) {
	circuit, err := c.getCircuit()
	if err != nil {
		return DeviceInfo{}, err
	}

	return circuit.readDeviceInfo(ctx)
}

// WriteControl requests a device state transition.
func (c *Client) WriteControl(ctx context.Context, adsState ams.ADSState, deviceState uint16, data []byte) error {
	circuit, err := c.getCircuit()
	if err != nil {
		return err
	}

	return circuit.writeControl(ctx, adsState, deviceState, data)
}

// ResolveSymbol resolves name to a connection-scoped handle. Handles
// are cached per connection; resolving the same name again returns the
// cached handle without a round trip.
func (c *Client) ResolveSymbol(ctx context.Context, name string) (SymbolHandle, error) {
	circuit, err := c.getCircuit()
	if err != nil {
		return SymbolHandle{}, err
	}

	return circuit.resolveSymbol(ctx, name)
}

// ReleaseSymbol releases a resolved handle on the device and drops it
// from the cache.
func (c *Client) ReleaseSymbol(ctx context.Context, h SymbolHandle) error {
	circuit, err := c.getCircuit()
	if err != nil {
		return err
	}

	return circuit.releaseSymbol(ctx, h)
}

// ReadSymbol resolves name and reads length bytes of its value.
func (c *Client) ReadSymbol(ctx context.Context, name string, length uint32) ([]byte, error) {
	circuit, err := c.getCircuit()
	if err != nil {
		return nil, err
	}

	h, err := circuit.resolveSymbol(ctx, name)
	if err != nil {
		return nil, err
	}

	return circuit.readSymbolHandle(ctx, h, length)
}

// WriteSymbol resolves name and writes data to its value.
func (c *Client) WriteSymbol(ctx context.Context, name string, data []byte) error {
	circuit, err := c.getCircuit()
	if err != nil {
		return err
	}

	h, err := circuit.resolveSymbol(ctx, name)
	if err != nil {
		return err
	}

	return circuit.writeSymbolHandle(ctx, h, data)
}

// ReadSymbolHandle reads length bytes of the variable behind a resolved
// handle.
func (c *Client) ReadSymbolHandle(ctx context.Context, h SymbolHandle, length uint32) ([]byte, error) {
	circuit, err := c.getCircuit()
	if err != nil {
		return nil, err
	}

	return circuit.readSymbolHandle(ctx, h, length)
}

// WriteSymbolHandle writes data to the variable behind a resolved
// handle.
func (c *Client) WriteSymbolHandle(ctx context.Context, h SymbolHandle, data []byte) error {
	circuit, err := c.getCircuit()
	if err != nil {
		return err
	}

	return circuit.writeSymbolHandle(ctx, h, data)
}

// Subscribe resolves name and registers a notification on its value.
// Samples arrive on the returned subscription's channel in publication
// order, interleaved with the client's synchronous traffic.
func (c *Client) Subscribe(ctx context.Context, name string, length uint32, mode ams.TransmissionMode, cycleTime, maxDelay time.Duration) (*Subscription, error) {
	circuit, err := c.getCircuit()
	if err != nil {
		return nil, err
	}

	h, err := circuit.resolveSymbol(ctx, name)
	if err != nil {
		return nil, err
	}

	return circuit.subscribe(ctx, ams.IndexGroupSymbolValueByHandle, h.value, length, mode, cycleTime, maxDelay)
}

// SubscribeIndex registers a notification on a raw index group and
// offset address.
func (c *Client) SubscribeIndex(ctx context.Context, group, offset, length uint32, mode ams.TransmissionMode, cycleTime, maxDelay time.Duration) (*Subscription, error) {
	circuit, err := c.getCircuit()
	if err != nil {
		return nil, err
	}

	return circuit.subscribe(ctx, group, offset, length, mode, cycleTime, maxDelay)
}

// fault tears the circuit down after a protocol violation detected
// above the framing layer, such as a response payload that does not
// decode.
func (c *circuit) fault(err error) {
	c.logger.Error("protocol violation, closing circuit", "error", err)
	c.shutdownAsync()
}

// decodeReply decodes a response payload. Payloads that violate the
// codec contract are connection-fatal.
func (c *circuit) decodeReply(frame *ams.Frame, p ams.Payload) error {
	if err := p.UnmarshalBinary(frame.Payload); err != nil {
		c.fault(err)
		return err
	}

	return nil
}

// resultErr maps a payload result code to an error.
func (c *circuit) resultErr(result uint32) error {
	if result == 0 {
		return nil
	}

	c.metrics.deviceErrors.Add(1)

	return ams.DeviceError(result)
}

func (c *circuit) read(ctx context.Context, group, offset, length uint32) ([]byte, error) {
	payload, err := (&ams.ReadRequest{IndexGroup: group, IndexOffset: offset, Length: length}).MarshalBinary()
	if err != nil {
		return nil, err
	}

	reply, err := c.exchange(ctx, ams.CommandRead, payload)
	if err != nil {
		return nil, err
	}

	var resp ams.ReadResponse
	if err := c.decodeReply(reply, &resp); err != nil {
		return nil, err
	}

	if err := c.resultErr(resp.Result); err != nil {
		return nil, err
	}

	return resp.Data, nil
}

func (c *circuit) write(ctx context.Context, group, offset uint32, data []byte) error {
	payload, err := (&ams.WriteRequest{IndexGroup: group, IndexOffset: offset, Data: data}).MarshalBinary()
	if err != nil {
		return err
	}

	reply, err := c.exchange(ctx, ams.CommandWrite, payload)
	if err != nil {
		return err
	}

	var resp ams.WriteResponse
	if err := c.decodeReply(reply, &resp); err != nil {
		return err
	}

	return c.resultErr(resp.Result)
}

func (c *circuit) readWrite(ctx context.Context, group, offset, readLength uint32, data []byte) ([]byte, error) {
	payload, err := (&ams.ReadWriteRequest{
		IndexGroup:  group,
		IndexOffset: offset,
		ReadLength:  readLength,
		Data:        data,
	}).MarshalBinary()
	if err != nil {
		return nil, err
	}

	reply, err := c.exchange(ctx, ams.CommandReadWrite, payload)
	if err != nil {
		return nil, err
	}

	var resp ams.ReadWriteResponse
	if err := c.decodeReply(reply, &resp); err != nil {
		return nil, err
	}

	if err := c.resultErr(resp.Result); err != nil {
		return nil, err
	}

	return resp.Data, nil
}

func (c *circuit) readState(ctx context.Context) (StateInfo, error) {
	payload, err := (&ams.ReadStateRequest{}).MarshalBinary()
	if err != nil {
		return StateInfo{}, err
	}

	reply, err := c.exchange(ctx, ams.CommandReadState, payload)
	if err != nil {
		return StateInfo{}, err
	}

	var resp ams.ReadStateResponse
	if err := c.decodeReply(reply, &resp); err != nil {
		return StateInfo{}, err
	}

	if err := c.resultErr(resp.Result); err != nil {
		return StateInfo{}, err
	}

	return StateInfo{ADSState: resp.ADSState, DeviceState: resp.DeviceState}, nil
}

func (c *circuit) readDeviceInfo(ctx context.Context) (DeviceInfo, error) {
	payload, err := (&ams.ReadDeviceInfoRequest{}).MarshalBinary()
	if err != nil {
		return DeviceInfo{}, err
	}

	reply, err := c.exchange(ctx, ams.CommandReadDeviceInfo, payload)
	if err != nil {
		return DeviceInfo{}, err
	}

	var resp ams.ReadDeviceInfoResponse
	if err := c.decodeReply(reply, &resp); err != nil {
		return DeviceInfo{}, err
	}

	if err := c.resultErr(resp.Result); err != nil {
		return DeviceInfo{}, err
	}

	return DeviceInfo{
		MajorVersion: resp.Major,
		MinorVersion: resp.Minor,
		BuildVersion: resp.Build,
		DeviceName:   resp.Name,
	}, nil
}

func (c *circuit) writeControl(ctx context.Context, adsState ams.ADSState, deviceState uint16, data []byte) error {
	payload, err := (&ams.WriteControlRequest{
		ADSState:    adsState,
		DeviceState: deviceState,
		Data:        data,
	}).MarshalBinary()
	if err != nil {
		return err
	}

	reply, err := c.exchange(ctx, ams.CommandWriteControl, payload)
	if err != nil {
		return err
	}

	var resp ams.WriteControlResponse
	if err := c.decodeReply(reply, &resp); err != nil {
		return err
	}

	return c.resultErr(resp.Result)
}

func (c *circuit) deleteNotification(ctx context.Context, handle uint32) error {
	payload, err := (&ams.DeleteNotificationRequest{Handle: handle}).MarshalBinary()
	if err != nil {
		return err
	}

	reply, err := c.exchange(ctx, ams.CommandDeleteNotification, payload)
	if err != nil {
		return err
	}

	var resp ams.DeleteNotificationResponse
	if err := c.decodeReply(reply, &resp); err != nil {
		return err
	}

	return c.resultErr(resp.Result)
}
