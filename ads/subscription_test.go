package ads

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plcforge/go-ads/ams"
)

func TestSubscriptionDeliverDropsOldest(t *testing.T) {
	c := newTestCircuit(t)
	sub := &Subscription{id: 7, circuit: c, samples: make(chan Sample, 3)}

	for i := 0; i < 5; i++ {
		sub.deliver(Sample{SubscriptionID: 7, Data: []byte{byte(i)}})
	}

	// Buffer capacity 3: the two oldest samples gave way, the most
	// recent window remains in order.
	require.Equal(t, uint64(2), sub.Dropped())
	require.Equal(t, uint64(2), c.metrics.SampleDropCount())
	require.Equal(t, uint64(5), c.metrics.SampleRecvCount())

	for want := 2; want <= 4; want++ {
		sample := <-sub.Samples()
		require.Equal(t, []byte{byte(want)}, sample.Data)
	}
}

func TestSubscriptionDeliverAfterClose(t *testing.T) {
	c := newTestCircuit(t)
	sub := &Subscription{id: 3, circuit: c, samples: make(chan Sample, 1)}

	sub.markClosed()

	_, ok := <-sub.Samples()
	require.False(t, ok)

	// Delivery after close is a silent no-op, not a panic.
	sub.deliver(Sample{SubscriptionID: 3, Data: []byte{1}})
	require.Equal(t, uint64(0), c.metrics.SampleRecvCount())
}

func TestSubscriptionCloseAfterMarkClosed(t *testing.T) {
	c := newTestCircuit(t)
	sub := &Subscription{id: 9, circuit: c, samples: make(chan Sample, 1)}

	sub.markClosed()

	err := sub.Close(context.Background())
	require.ErrorIs(t, err, ErrUnknownSubscription)
}

func TestRegisterSubscriptionOnOpenCircuit(t *testing.T) {
	c := newTestCircuit(t)
	c.opState.Set(ams.OpenedState)

	sub := &Subscription{id: 12, circuit: c, samples: make(chan Sample, 1)}

	require.NoError(t, c.registerSubscription(sub))

	got, ok := c.subs.Load(12)
	require.True(t, ok)
	require.Same(t, sub, got)
}

func TestRegisterSubscriptionAfterTeardown(t *testing.T) {
	// An undialed circuit is in the closed state, like one whose teardown
	// finished while the subscribing goroutine held a decoded response.
	c := newTestCircuit(t)
	sub := &Subscription{id: 11, circuit: c, samples: make(chan Sample, 1)}

	err := c.registerSubscription(sub)
	require.ErrorIs(t, err, ErrConnClosed)

	// The registration was unwound, not leaked past the teardown sweep.
	_, tracked := c.subs.Load(11)
	require.False(t, tracked)

	// The sample channel is closed, so a consumer that only ranges over
	// Samples still terminates.
	_, open := <-sub.Samples()
	require.False(t, open)
}

func TestFanOutStreamRoutesByHandle(t *testing.T) {
	c := newTestCircuit(t)
	subA := &Subscription{id: 1, circuit: c, samples: make(chan Sample, 4)}
	subB := &Subscription{id: 2, circuit: c, samples: make(chan Sample, 4)}
	c.subs.Store(1, subA)
	c.subs.Store(2, subB)

	when := time.Now()
	stream := &ams.NotificationStream{
		Stamps: []ams.NotificationStamp{
			{
				Timestamp: when,
				Samples: []ams.NotificationSample{
					{Handle: 1, Data: []byte{0xAA}},
					{Handle: 2, Data: []byte{0xBB}},
					{Handle: 3, Data: []byte{0xCC}}, // no subscription
				},
			},
		},
	}

	c.fanOutStream(stream)

	sampleA := <-subA.Samples()
	require.Equal(t, uint32(1), sampleA.SubscriptionID)
	require.Equal(t, []byte{0xAA}, sampleA.Data)
	require.WithinDuration(t, when, sampleA.Timestamp, time.Second)

	sampleB := <-subB.Samples()
	require.Equal(t, []byte{0xBB}, sampleB.Data)

	// The sample without a subscription is counted, not delivered.
	require.Equal(t, uint64(1), c.metrics.SampleDropCount())
	require.Equal(t, uint64(2), c.metrics.SampleRecvCount())
}
