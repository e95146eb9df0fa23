package ams

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/plcforge/go-ads/logger"
	"github.com/stretchr/testify/require"
)

func newTestMockLogger() *logger.MockLogger {
	return logger.NewMockLogger().Quiet()
}

func TestTaskManager_Start(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskMgr := NewTaskManager(ctx, newTestMockLogger())

	var iterations atomic.Int32
	require.NoError(taskMgr.Start("counting", func() bool {
		return iterations.Add(1) < 3
	}))

	taskMgr.Wait()
	require.Equal(int32(3), iterations.Load())
	require.Equal(0, taskMgr.TaskCount())
}

func TestTaskManager_StartReceiver(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskMgr := NewTaskManager(ctx, newTestMockLogger())

	cancelled := make(chan struct{})
	require.NoError(taskMgr.StartReceiver("receiver", func(lenBuf []byte) bool {
		// The manager hands every receiver the reusable prefix scratch buffer.
		require.Len(lenBuf, LengthPrefixSize)
		time.Sleep(time.Millisecond)

		return true
	}, func() { close(cancelled) }))

	require.Equal(1, taskMgr.TaskCount())

	taskMgr.Stop()
	taskMgr.Wait()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("receiver cancel func not invoked")
	}

	require.Equal(0, taskMgr.TaskCount())
}

func TestTaskManager_StartSender(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskMgr := NewTaskManager(ctx, newTestMockLogger())

	sent := make(chan *Frame, 4)
	input := make(chan *Frame, 4)

	require.NoError(taskMgr.StartSender("sender", func(frame *Frame) bool {
		sent <- frame

		return true
	}, nil, input))

	frame := NewRequest(Addr{}, Addr{}, CommandRead, nil)
	input <- frame

	select {
	case got := <-sent:
		require.Same(frame, got)
	case <-time.After(time.Second):
		t.Fatal("sender task did not process frame")
	}

	taskMgr.Stop()
	taskMgr.Wait()
	require.Equal(0, taskMgr.TaskCount())
}

func TestTaskManager_StartSenderNilChannel(t *testing.T) {
	taskMgr := NewTaskManager(context.Background(), newTestMockLogger())
	require.Error(t, taskMgr.StartSender("sender", func(*Frame) bool { return true }, nil, nil))
}

func TestTaskManager_StartRecvNotification(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskMgr := NewTaskManager(ctx, newTestMockLogger())

	handled := make(chan *NotificationStream, 2)
	input := make(chan *NotificationStream, 2)

	require.NoError(taskMgr.StartRecvNotification("notify", func(stream *NotificationStream) {
		if len(stream.Stamps) == 0 {
			panic("empty stream")
		}
		handled <- stream
	}, input))

	// A handler panic must not kill the fan-out task.
	input <- &NotificationStream{}
	input <- &NotificationStream{Stamps: []NotificationStamp{{Timestamp: time.Now()}}}

	select {
	case got := <-handled:
		require.Len(got.Stamps, 1)
	case <-time.After(time.Second):
		t.Fatal("notification handler not invoked after panic")
	}

	taskMgr.Stop()
	taskMgr.Wait()
	require.Equal(0, taskMgr.TaskCount())
}

func TestTaskManager_StartInterval(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskMgr := NewTaskManager(ctx, newTestMockLogger())

	var ticks atomic.Int32
	ticker, err := taskMgr.StartInterval("tick", func() bool {
		ticks.Add(1)

		return true
	}, 10*time.Millisecond, true)
	require.NoError(err)
	require.NotNil(ticker)

	// Duplicate interval names are rejected.
	_, err = taskMgr.StartInterval("tick", func() bool { return true }, 10*time.Millisecond, false)
	require.Error(err)

	time.Sleep(60 * time.Millisecond)
	require.GreaterOrEqual(ticks.Load(), int32(2))

	require.NoError(taskMgr.StopInterval("tick"))
	require.Error(taskMgr.StopInterval("tick"))

	taskMgr.Stop()
	taskMgr.Wait()
	require.Equal(0, taskMgr.TaskCount())
}

func TestTaskManager_StartAfterStop(t *testing.T) {
	require := require.New(t)

	taskMgr := NewTaskManager(context.Background(), newTestMockLogger())
	taskMgr.Stop()

	require.Error(taskMgr.Start("late", func() bool { return false }))

	// Wait recreates the context, after which new tasks start again.
	taskMgr.Wait()
	require.NoError(taskMgr.Start("retry", func() bool { return false }))
	taskMgr.Wait()
	require.Equal(0, taskMgr.TaskCount())
}
