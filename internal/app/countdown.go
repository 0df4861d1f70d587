package app

import (
	"sync"
	"sync/atomic"
	"time"
)

// TickSource produces ticks at the given interval; stop releases it.
type TickSource func(interval time.Duration) (ticks <-chan time.Time, stop func())

func realTicks(interval time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

// Countdown is a cancellable one-shot timer that counts whole ticks down to zero.
// onTick runs after every decrement and may return false to stop the countdown;
// onExpire runs once when the count reaches zero.
type Countdown struct {
	remaining atomic.Int64
	expired   atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// StartCountdown launches the countdown goroutine.
func StartCountdown(seconds int, interval time.Duration, source TickSource, onTick func(remaining int) bool, onExpire func()) *Countdown {
	if source == nil {
		source = realTicks
	}
	c := &Countdown{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.remaining.Store(int64(seconds))

	ticks, stopTicks := source(interval)
	go func() {
		defer close(c.done)
		defer stopTicks()
		for {
			select {
			case <-c.stop:
				return
			case <-ticks:
			}
			// A stop that raced with the tick wins.
			select {
			case <-c.stop:
				return
			default:
			}

			left := c.remaining.Add(-1)
			if left < 0 {
				return
			}
			if !onTick(int(left)) {
				return
			}
			if left == 0 {
				c.expired.Store(true)
				onExpire()
				return
			}
		}
	}()
	return c
}

// Stop cancels the countdown. It is safe to call more than once and from
// within the countdown's own callbacks.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Wait blocks until the countdown goroutine has exited.
func (c *Countdown) Wait() {
	<-c.done
}

// Remaining returns the ticks left.
func (c *Countdown) Remaining() int {
	if left := c.remaining.Load(); left > 0 {
		return int(left)
	}
	return 0
}

// Expired reports whether the countdown reached zero.
func (c *Countdown) Expired() bool {
	return c.expired.Load()
}
