package engine

import (
	"sync"
	"time"

	"github.com/stemsi/examflow/internal/clock"
)

// Countdown derives the remaining session time from the absolute start
// timestamp on every tick instead of decrementing a counter, so process
// suspension or slow loops cannot accumulate drift. It ticks at 1 Hz while
// running and fires the expiry callback exactly once when the remaining
// time reaches zero.
type Countdown struct {
	clk       clock.Clock
	duration  time.Duration
	tolerance time.Duration
	onTick    func(remaining time.Duration)
	onExpire  func()

	mu    sync.Mutex
	start time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewCountdown builds a countdown anchored at start for the given duration.
// tolerance bounds how far the local and server baselines may diverge before
// Resync shifts the anchor. onTick may be nil.
func NewCountdown(clk clock.Clock, start time.Time, duration, tolerance time.Duration, onTick func(time.Duration), onExpire func()) *Countdown {
	return &Countdown{
		clk:       clk,
		start:     start,
		duration:  duration,
		tolerance: tolerance,
		onTick:    onTick,
		onExpire:  onExpire,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the tick loop.
func (c *Countdown) Start() {
	go c.run()
}

func (c *Countdown) run() {
	ticker := c.clk.NewTicker(time.Second)
	defer ticker.Stop()

	expired := false
loop:
	for {
		select {
		case <-c.stopCh:
			break loop
		case <-ticker.C():
			remaining := c.Remaining()
			if c.onTick != nil {
				c.onTick(remaining)
			}
			if remaining <= 0 {
				expired = true
				break loop
			}
		}
	}

	// done closes before the expiry callback so that a submission path
	// reached from onExpire can call Stop without deadlocking on itself.
	close(c.done)

	if expired {
		select {
		case <-c.stopCh:
			// Stopped concurrently with the zero tick; expiry is suppressed.
		default:
			c.onExpire()
		}
	}
}

// Remaining computes max(0, start+duration−now).
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	deadline := c.start.Add(c.duration)
	c.mu.Unlock()

	r := deadline.Sub(c.clk.Now())
	if r < 0 {
		return 0
	}
	return r
}

// Resync shifts the baseline to match the server-reported remaining time
// when the divergence exceeds the tolerance. Reports whether it adjusted.
func (c *Countdown) Resync(serverRemaining time.Duration) bool {
	local := c.Remaining()
	drift := local - serverRemaining
	if drift < 0 {
		drift = -drift
	}
	if drift <= c.tolerance {
		return false
	}

	c.mu.Lock()
	c.start = c.clk.Now().Add(serverRemaining - c.duration)
	c.mu.Unlock()
	return true
}

// Stop halts the loop synchronously: when it returns, no further tick or
// expiry will fire, except an expiry that was already past its suppression
// check (callers make the expiry path idempotent for that reason).
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.done
}
