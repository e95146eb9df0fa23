package ads

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plcforge/go-ads/ams"
)

// Sample is one notification sample delivered to a subscription.
type Sample struct {
	// SubscriptionID is the server-assigned notification handle the
	// sample belongs to.
	SubscriptionID uint32
	// Timestamp is the device-side capture time of the sample.
	Timestamp time.Time
	// Data is the sampled value. The slice is owned by the receiver and
	// never reused by the circuit.
	Data []byte
}

// Subscription is a live notification registration on one circuit.
// Samples arrive in publication order on Samples. The channel closes
// when the subscription or its connection closes; a consumer that only
// ranges over Samples terminates cleanly either way.
type Subscription struct {
	id      uint32
	circuit *circuit

	mu        sync.Mutex
	samples   chan Sample
	chClosed  bool
	closed    atomic.Bool
	dropCount atomic.Uint64
}

// ID returns the server-assigned notification handle.
func (s *Subscription) ID() uint32 { return s.id }

// Samples returns the channel notification samples arrive on.
func (s *Subscription) Samples() <-chan Sample { return s.samples }

// Dropped returns the number of samples dropped because the consumer
// lagged more than the sample buffer capacity behind.
func (s *Subscription) Dropped() uint64 { return s.dropCount.Load() }

// Close unsubscribes on the device and closes the sample channel.
// Closing an already closed subscription fails with
// ErrUnknownSubscription.
func (s *Subscription) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrUnknownSubscription
	}

	return s.circuit.unsubscribe(ctx, s)
}

// deliver queues one sample without ever blocking the caller. A full
// buffer drops the oldest sample so a stalled consumer sees the most
// recent window of values on resume.
func (s *Subscription) deliver(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chClosed {
		return
	}

	for {
		select {
		case s.samples <- sample:
			s.circuit.metrics.sampleRecvCount.Add(1)
			return
		default:
		}

		select {
		case <-s.samples:
			s.dropCount.Add(1)
			s.circuit.metrics.sampleDropCount.Add(1)
		default:
		}
	}
}

// markClosed closes the sample channel without touching the device,
// used when the whole connection goes away.
func (s *Subscription) markClosed() {
	s.closed.Store(true)
	s.closeChan()
}

func (s *Subscription) closeChan() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.chClosed {
		s.chClosed = true
		close(s.samples)
	}
}

// subscribe registers a device notification and wires its handle to a
// new Subscription.
func (c *circuit) subscribe(ctx context.Context, group, offset, length uint32, mode ams.TransmissionMode, cycleTime, maxDelay time.Duration) (*Subscription, error) {
	req := &ams.AddNotificationRequest{
		IndexGroup:  group,
		IndexOffset: offset,
		Length:      length,
		Mode:        mode,
		MaxDelay:    maxDelay,
		CycleTime:   cycleTime,
	}

	payload, err := req.MarshalBinary()
	if err != nil {
		return nil, err
	}

	reply, err := c.exchange(ctx, ams.CommandAddNotification, payload)
	if err != nil {
		return nil, err
	}

	var resp ams.AddNotificationResponse
	if err := c.decodeReply(reply, &resp); err != nil {
		return nil, err
	}

	if err := c.resultErr(resp.Result); err != nil {
		return nil, err
	}

	sub := &Subscription{
		id:      resp.Handle,
		circuit: c,
		samples: make(chan Sample, c.cfg.sampleQueueDepth),
	}

	if err := c.registerSubscription(sub); err != nil {
		return nil, err
	}

	return sub, nil
}

// registerSubscription wires sub into the fan-out table. A circuit
// teardown only sweeps subscriptions stored before closeAllSubscriptions
// ran, so the circuit state is re-checked after the store; a registration
// that arrived behind the sweep is unwound here, and the sample channel
// closes on either path.
func (c *circuit) registerSubscription(sub *Subscription) error {
	if _, loaded := c.subs.LoadOrStore(sub.id, sub); loaded {
		// The device must not reuse a live handle.
		c.logger.Warn("device reused live notification handle, replacing subscription", "handle", sub.id)
		c.subs.Store(sub.id, sub)
	}

	if !c.opState.IsOpened() {
		c.subs.Delete(sub.id)
		sub.markClosed()

		return ErrConnClosed
	}

	return nil
}

// unsubscribe deletes the device notification behind s and closes its
// channel. Device-side bookkeeping already released by a dead
// connection fails the exchange with ErrConnClosed; the local channel
// closes regardless.
func (c *circuit) unsubscribe(ctx context.Context, s *Subscription) error {
	c.subs.Delete(s.id)
	defer s.closeChan()

	err := c.deleteNotification(ctx, s.id)
	if err != nil {
		if devErr, ok := ams.AsDeviceError(err); ok && devErr.Code() == ams.CodeNotificationUnknown {
			return fmt.Errorf("%w: handle %d", ErrUnknownSubscription, s.id)
		}

		return err
	}

	return nil
}
