package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerPool(t *testing.T) {
	assert := assert.New(t)

	t.Run("Get and Put", func(t *testing.T) {
		timer1 := GetTimer(1 * time.Second)
		assert.NotNil(timer1)

		PutTimer(timer1)

		timer2 := GetTimer(100 * time.Millisecond)
		assert.NotNil(timer2)

		<-timer2.C
		PutTimer(timer2)
	})

	t.Run("Reused Timer Fires On Schedule", func(t *testing.T) {
		// Arm a timer, let it become active, then put it back before it fires.
		timer1 := GetTimer(100 * time.Millisecond)
		assert.NotNil(timer1)

		time.Sleep(50 * time.Millisecond)
		PutTimer(timer1)

		begin := time.Now()
		timer2 := GetTimer(300 * time.Millisecond)
		assert.NotNil(timer2)

		select {
		case fired := <-timer2.C:
			// A stale tick from timer1's first arming would fire early.
			assert.GreaterOrEqual(fired.Sub(begin), 270*time.Millisecond)
		case <-time.After(500 * time.Millisecond):
			t.Error("reused timer never fired")
		}

		PutTimer(timer2)
	})

	t.Run("Put Expired Timer", func(t *testing.T) {
		timer := GetTimer(10 * time.Millisecond)
		time.Sleep(30 * time.Millisecond)

		// The timer already fired; PutTimer must drain the pending tick so
		// the next user does not observe it.
		PutTimer(timer)

		next := GetTimer(200 * time.Millisecond)
		select {
		case <-next.C:
			t.Error("drained timer fired immediately")
		case <-time.After(50 * time.Millisecond):
		}

		PutTimer(next)
	})

	t.Run("Concurrency", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(100)

		for i := 0; i < 100; i++ {
			go func() {
				defer wg.Done()

				timer := GetTimer(10 * time.Millisecond)
				defer PutTimer(timer)

				<-timer.C
			}()
		}

		wg.Wait()
	})
}
