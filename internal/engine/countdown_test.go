package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stemsi/examflow/internal/clock"
)

func recvTick(t *testing.T, ch <-chan time.Duration) time.Duration {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("tick never arrived")
		return 0
	}
}

func TestCountdownTicksDeriveFromAbsoluteStart(t *testing.T) {
	clk := clock.NewMock()
	ticks := make(chan time.Duration, 16)
	c := NewCountdown(clk, clk.Now(), 5*time.Second, 2*time.Second,
		func(r time.Duration) { ticks <- r }, func() {})
	c.Start()
	defer c.Stop()

	for i := 1; i <= 4; i++ {
		clk.Advance(time.Second)
		got := recvTick(t, ticks)
		if want := time.Duration(5-i) * time.Second; got != want {
			t.Errorf("tick %d remaining = %v, want %v", i, got, want)
		}
	}
}

func TestCountdownExpiresExactlyOnce(t *testing.T) {
	clk := clock.NewMock()
	var fired int32
	expired := make(chan struct{})
	c := NewCountdown(clk, clk.Now(), 3*time.Second, 2*time.Second, nil, func() {
		atomic.AddInt32(&fired, 1)
		close(expired)
	})
	c.Start()

	// A long suspension past the deadline must still expire: remaining is
	// recomputed from the start timestamp, not decremented per tick.
	clk.Advance(time.Hour)
	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown never expired")
	}

	clk.Advance(time.Hour)
	c.Stop()
	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Fatalf("expiry fired %d times, want 1", n)
	}
}

func TestCountdownStopSuppressesExpiry(t *testing.T) {
	clk := clock.NewMock()
	expired := make(chan struct{})
	c := NewCountdown(clk, clk.Now(), 3*time.Second, 2*time.Second, nil, func() { close(expired) })
	c.Start()
	c.Stop()

	clk.Advance(time.Minute)
	select {
	case <-expired:
		t.Fatal("expiry fired after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCountdownResyncShiftsBaselineBeyondTolerance(t *testing.T) {
	clk := clock.NewMock()
	c := NewCountdown(clk, clk.Now(), 60*time.Second, 2*time.Second, nil, func() {})

	// Within tolerance: local view wins, no adjustment.
	if c.Resync(59 * time.Second) {
		t.Error("Resync adjusted within tolerance")
	}
	if got := c.Remaining(); got != 60*time.Second {
		t.Errorf("remaining = %v, want 60s untouched", got)
	}

	// Beyond tolerance: server view wins.
	if !c.Resync(30 * time.Second) {
		t.Error("Resync did not adjust beyond tolerance")
	}
	if got := c.Remaining(); got != 30*time.Second {
		t.Errorf("remaining after resync = %v, want 30s", got)
	}
}

func TestCountdownRemainingNeverNegative(t *testing.T) {
	clk := clock.NewMock()
	c := NewCountdown(clk, clk.Now(), time.Second, 2*time.Second, nil, func() {})
	clk.Advance(time.Minute)
	if got := c.Remaining(); got != 0 {
		t.Fatalf("remaining = %v, want 0", got)
	}
}
