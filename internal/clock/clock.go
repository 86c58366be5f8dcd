// Package clock abstracts wall-clock access so time-derived behavior
// (countdowns, drift correction) can be tested deterministically.
//
// Consumers must always recompute durations from Now() rather than counting
// ticks: ticks may be coalesced after suspension, exactly like the runtime's
// own ticker behavior.
package clock

import (
	"sync"
	"time"
)

// Clock is the one true source of "now".
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C. Stop releases its resources; it does not
// close the channel.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// New returns a Clock backed by the system clock.
func New() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }

// Mock is a manually-advanced Clock for tests.
type Mock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*mockTicker
}

// NewMock returns a Mock pinned to a fixed reference time.
func NewMock() *Mock {
	return &Mock{now: time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)}
}

// Now returns the mock's current time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set jumps the mock to t, delivering any due ticks.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	tickers := append([]*mockTicker(nil), m.tickers...)
	m.mu.Unlock()

	for _, tk := range tickers {
		tk.deliverUpTo(t)
	}
}

// Advance moves the mock forward by d, delivering any due ticks.
func (m *Mock) Advance(d time.Duration) {
	m.Set(m.Now().Add(d))
}

// NewTicker returns a ticker driven by Advance/Set.
func (m *Mock) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	tk := &mockTicker{
		ch:     make(chan time.Time, 1),
		period: d,
		next:   m.now.Add(d),
	}
	m.tickers = append(m.tickers, tk)
	return tk
}

type mockTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	period  time.Duration
	next    time.Time
	stopped bool
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// deliverUpTo sends every tick due at or before now. Sends are non-blocking
// on a 1-buffered channel, so a slow consumer sees coalesced ticks.
func (t *mockTicker) deliverUpTo(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	for !t.next.After(now) {
		select {
		case t.ch <- t.next:
		default:
		}
		t.next = t.next.Add(t.period)
	}
}
