package ads

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plcforge/go-ads/ams"
)

func newTestCircuit(t *testing.T) *circuit {
	t.Helper()

	cfg, err := NewConfig("127.0.0.1", ams.DefaultTCPPort)
	require.NoError(t, err)

	return newCircuit(context.Background(), cfg)
}

func TestNextInvokeIDSkipsZero(t *testing.T) {
	c := newTestCircuit(t)

	// Wind the counter to just before wrap-around so the next increment
	// lands on the reserved id.
	c.invokeID.Store(^uint32(0) - 1)

	require.Equal(t, ^uint32(0), c.nextInvokeID(make(chan *ams.Frame, 1)))
	require.Equal(t, uint32(1), c.nextInvokeID(make(chan *ams.Frame, 1)))
}

func TestNextInvokeIDSkipsLiveIDs(t *testing.T) {
	c := newTestCircuit(t)

	id := c.nextInvokeID(make(chan *ams.Frame, 1))
	require.Equal(t, uint32(1), id)

	// Rewind the counter; the live id must not be reissued.
	c.invokeID.Store(0)
	require.Equal(t, uint32(2), c.nextInvokeID(make(chan *ams.Frame, 1)))

	// Releasing the waiter frees the id for reuse after wrap-around.
	c.removeWaiter(id)
	c.invokeID.Store(0)
	require.Equal(t, uint32(1), c.nextInvokeID(make(chan *ams.Frame, 1)))
}

func TestNextInvokeIDConcurrentUnique(t *testing.T) {
	c := newTestCircuit(t)

	const count = 200

	ids := make(chan uint32, count)

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			ids <- c.nextInvokeID(make(chan *ams.Frame, 1))
		}()
	}

	wg.Wait()
	close(ids)

	seen := make(map[uint32]struct{}, count)
	for id := range ids {
		require.NotEqual(t, ams.InvokeIDNone, id)

		_, dup := seen[id]
		require.False(t, dup, "invoke id %d issued twice", id)
		seen[id] = struct{}{}
	}
}

func TestDropAllWaitersFailsPending(t *testing.T) {
	c := newTestCircuit(t)

	replyChan := make(chan *ams.Frame, 1)
	id := c.nextInvokeID(replyChan)

	c.dropAllWaiters()

	require.Nil(t, <-replyChan)

	err, ok := c.replyErrs.LoadAndDelete(id)
	require.True(t, ok)
	require.ErrorIs(t, err, ErrConnClosed)

	_, ok = c.replyFrameChans.Load(id)
	require.False(t, ok)
}

func TestEnqueueStreamDropsOldest(t *testing.T) {
	c := newTestCircuit(t)
	c.notifChan = make(chan *ams.NotificationStream, 2)

	frame := func(handles ...uint32) *ams.Frame {
		samples := make([]ams.NotificationSample, 0, len(handles))
		for _, h := range handles {
			samples = append(samples, ams.NotificationSample{Handle: h, Data: []byte{byte(h)}})
		}

		payload, err := (&ams.NotificationStream{
			Stamps: []ams.NotificationStamp{{Timestamp: time.Now(), Samples: samples}},
		}).MarshalBinary()
		require.NoError(t, err)

		return &ams.Frame{Payload: payload}
	}

	// Queue capacity 2: the third stream evicts the first, whose two
	// samples are counted as dropped. The newest pushes survive.
	c.enqueueStream(frame(1, 2))
	c.enqueueStream(frame(3))
	c.enqueueStream(frame(4))

	require.Equal(t, uint64(2), c.metrics.SampleDropCount())

	next := <-c.notifChan
	require.Len(t, next.Stamps[0].Samples, 1)
	require.Equal(t, uint32(3), next.Stamps[0].Samples[0].Handle)

	next = <-c.notifChan
	require.Equal(t, uint32(4), next.Stamps[0].Samples[0].Handle)
}
