package ads

import "sync/atomic"

// CircuitMetrics counts traffic and failures on one circuit. All
// counters are safe for concurrent use and reset when a new circuit is
// dialed.
type CircuitMetrics struct {
	frameSendCount  atomic.Uint64
	frameRecvCount  atomic.Uint64
	requestCount    atomic.Uint64
	requestTimeouts atomic.Uint64
	deviceErrors    atomic.Uint64
	inflight        atomic.Int64
	sampleRecvCount atomic.Uint64
	sampleDropCount atomic.Uint64
}

// FrameSendCount returns the number of frames written to the stream.
func (m *CircuitMetrics) FrameSendCount() uint64 { return m.frameSendCount.Load() }

// FrameRecvCount returns the number of frames decoded from the stream.
func (m *CircuitMetrics) FrameRecvCount() uint64 { return m.frameRecvCount.Load() }

// RequestCount returns the number of requests issued on the circuit.
func (m *CircuitMetrics) RequestCount() uint64 { return m.requestCount.Load() }

// RequestTimeouts returns the number of requests abandoned on timeout.
func (m *CircuitMetrics) RequestTimeouts() uint64 { return m.requestTimeouts.Load() }

// DeviceErrors returns the number of responses that carried a non-zero
// device result code.
func (m *CircuitMetrics) DeviceErrors() uint64 { return m.deviceErrors.Load() }

// Inflight returns the number of requests currently awaiting a response.
func (m *CircuitMetrics) Inflight() int64 { return m.inflight.Load() }

// SampleRecvCount returns the number of notification samples delivered
// to subscription channels.
func (m *CircuitMetrics) SampleRecvCount() uint64 { return m.sampleRecvCount.Load() }

// SampleDropCount returns the number of notification samples dropped
// because a subscription buffer was full or no subscription claimed the
// handle.
func (m *CircuitMetrics) SampleDropCount() uint64 { return m.sampleDropCount.Load() }
