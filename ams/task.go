package ams

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/plcforge/go-ads/logger"
)

// TaskFunc is one iteration of a managed loop. Returning false stops the
// task.
type TaskFunc func() bool

// TaskRecvFunc is one iteration of a managed receive loop. The manager
// hands it a reusable scratch buffer sized for the frame length prefix.
// Returning false stops the task.
type TaskRecvFunc func(lenBuf []byte) bool

// TaskCancelFunc runs after a task's final iteration, whether the task
// stopped itself or was cancelled.
type TaskCancelFunc func()

// TaskFrameFunc handles one outgoing frame taken from a sender channel.
// Returning false stops the task.
type TaskFrameFunc func(frame *Frame) bool

// NotificationHandler consumes one decoded notification stream.
type NotificationHandler func(stream *NotificationStream)

// TaskManager owns the goroutines of one AMS peer: the receive loop, the
// sender drain, notification fan-out and the mock server's cyclic push
// timers. All tasks share one cancellable context; Stop cancels it and
// Wait blocks until every task has unwound.
//
// A task is registered before its Start* call returns, so TaskCount is
// accurate immediately. After Stop, starting tasks fails until Wait has
// re-armed the manager.
type TaskManager struct {
	parent context.Context
	logger logger.Logger

	mu     sync.RWMutex // guards ctx and cancel
	ctx    context.Context
	cancel context.CancelFunc

	wg      sync.WaitGroup
	running atomic.Int32

	tickers *xsync.MapOf[string, *time.Ticker]
}

// NewTaskManager returns a manager whose tasks stop when ctx is
// cancelled or Stop is called.
func NewTaskManager(ctx context.Context, l logger.Logger) *TaskManager {
	mgr := &TaskManager{
		parent:  ctx,
		logger:  l,
		tickers: xsync.NewMapOf[string, *time.Ticker](),
	}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// spawn registers one task and launches its body on a fresh goroutine.
// Registration happens under the context lock, so a concurrent Stop
// either refuses the task here or includes it in the following Wait.
func (mgr *TaskManager) spawn(name string, body func(ctx context.Context)) error {
	mgr.mu.RLock()
	ctx := mgr.ctx
	if ctx.Err() != nil {
		mgr.mu.RUnlock()

		return fmt.Errorf("task manager stopped, cannot start %s", name)
	}

	mgr.wg.Add(1)
	mgr.running.Add(1)
	mgr.mu.RUnlock()

	mgr.logger.Debug("task started", "name", name)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				mgr.logger.Error("task panicked", "name", name, "panic", r)
			}

			mgr.running.Add(-1)
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.TaskCount())
			mgr.wg.Done()
		}()

		body(ctx)
	}()

	return nil
}

// protect runs one task iteration, turning a panic into a stop request.
func (mgr *TaskManager) protect(name string, fn TaskFunc) bool {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("task panicked", "name", name, "panic", r)
		}
	}()

	return fn()
}

// Start runs taskFunc in a loop until it returns false or the manager
// stops.
func (mgr *TaskManager) Start(name string, taskFunc TaskFunc) error {
	return mgr.spawn(name, func(ctx context.Context) {
		for ctx.Err() == nil && taskFunc() {
		}
	})
}

// StartReceiver runs taskFunc in a loop with a reusable length-prefix
// scratch buffer. taskCancelFunc, if non-nil, runs once the loop ends.
func (mgr *TaskManager) StartReceiver(name string, taskFunc TaskRecvFunc, taskCancelFunc TaskCancelFunc) error {
	return mgr.spawn(name, func(ctx context.Context) {
		if taskCancelFunc != nil {
			defer taskCancelFunc()
		}

		lenBuf := make([]byte, LengthPrefixSize)
		for ctx.Err() == nil && taskFunc(lenBuf) {
		}
	})
}

// StartSender drains frames from inputChan through taskFunc until the
// channel closes, taskFunc returns false or the manager stops.
// taskCancelFunc, if non-nil, runs once the loop ends.
func (mgr *TaskManager) StartSender(name string, taskFunc TaskFrameFunc, taskCancelFunc TaskCancelFunc, inputChan chan *Frame) error {
	if inputChan == nil {
		return fmt.Errorf("sender task %s has no input channel", name)
	}

	return mgr.spawn(name, func(ctx context.Context) {
		if taskCancelFunc != nil {
			defer taskCancelFunc()
		}

		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-inputChan:
				if !ok {
					mgr.logger.Debug("sender channel closed", "name", name)
					return
				}
				if !taskFunc(frame) {
					return
				}
			}
		}
	})
}

// StartRecvNotification feeds decoded notification streams from
// inputChan to handler. A panicking handler is logged and the loop keeps
// running, so one bad consumer cannot stall the receive path.
func (mgr *TaskManager) StartRecvNotification(name string, handler NotificationHandler, inputChan chan *NotificationStream) error {
	if inputChan == nil {
		return fmt.Errorf("notification task %s has no input channel", name)
	}
	if handler == nil {
		return fmt.Errorf("notification task %s has no handler", name)
	}

	return mgr.spawn(name, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case stream, ok := <-inputChan:
				if !ok {
					mgr.logger.Debug("notification channel closed", "name", name)
					return
				}
				if stream == nil {
					continue
				}

				mgr.protect(name, func() bool {
					handler(stream)

					return true
				})
			}
		}
	})
}

// StartInterval runs taskFunc every interval until it returns false, the
// manager stops or StopInterval is called with the same name. With
// runNow the first run happens synchronously before the timer starts.
// Names must be unique among live interval tasks.
func (mgr *TaskManager) StartInterval(name string, taskFunc TaskFunc, interval time.Duration, runNow bool) (*time.Ticker, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval task %s: invalid interval %v", name, interval)
	}

	ticker := time.NewTicker(interval)
	if _, dup := mgr.tickers.LoadOrStore(name, ticker); dup {
		ticker.Stop()

		return nil, fmt.Errorf("interval task %s already exists", name)
	}

	retire := func() {
		ticker.Stop()
		mgr.tickers.Compute(name, func(cur *time.Ticker, loaded bool) (*time.Ticker, bool) {
			if !loaded || cur == ticker {
				return nil, true
			}
			// A newer task reused the name after StopInterval; keep its ticker.
			return cur, false
		})
	}

	if runNow && !mgr.protect(name, taskFunc) {
		retire()

		return ticker, nil
	}

	err := mgr.spawn(name, func(ctx context.Context) {
		defer retire()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !mgr.protect(name, taskFunc) {
					return
				}
			}
		}
	})
	if err != nil {
		retire()

		return nil, err
	}

	return ticker, nil
}

// StopInterval stops the named interval task's ticker so it fires no
// more; the parked goroutine unwinds when the manager stops. An unknown
// name is an error.
func (mgr *TaskManager) StopInterval(name string) error {
	ticker, ok := mgr.tickers.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("interval task %s not found", name)
	}

	ticker.Stop()

	return nil
}

// Stop cancels every running task and stops all interval tickers. It
// does not wait; pair it with Wait.
func (mgr *TaskManager) Stop() {
	mgr.tickers.Range(func(_ string, ticker *time.Ticker) bool {
		ticker.Stop()

		return true
	})

	mgr.mu.Lock()
	mgr.cancel()
	mgr.mu.Unlock()
}

// Wait blocks until every task has terminated, then re-arms the manager
// so tasks can start again after a Stop.
func (mgr *TaskManager) Wait() {
	mgr.wg.Wait()

	mgr.mu.Lock()
	if mgr.ctx.Err() != nil {
		mgr.ctx, mgr.cancel = context.WithCancel(mgr.parent)
	}
	mgr.mu.Unlock()
}

// TaskCount returns the number of live tasks.
func (mgr *TaskManager) TaskCount() int {
	return int(mgr.running.Load())
}
