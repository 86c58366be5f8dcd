package clock

import (
	"testing"
	"time"
)

func TestMockAdvanceMovesNow(t *testing.T) {
	m := NewMock()
	start := m.Now()
	m.Advance(90 * time.Second)
	if got := m.Now().Sub(start); got != 90*time.Second {
		t.Fatalf("advanced by %v, want 90s", got)
	}
}

func TestMockTickerDeliversDueTicks(t *testing.T) {
	m := NewMock()
	tk := m.NewTicker(time.Second)
	defer tk.Stop()

	select {
	case <-tk.C():
		t.Fatal("tick before any advance")
	default:
	}

	m.Advance(time.Second)
	select {
	case <-tk.C():
	default:
		t.Fatal("due tick not delivered")
	}
}

func TestMockTickerCoalescesOnLongJump(t *testing.T) {
	m := NewMock()
	tk := m.NewTicker(time.Second)
	defer tk.Stop()

	// A jump spanning many periods yields one buffered tick, like the
	// runtime ticker after suspension.
	m.Advance(10 * time.Second)
	<-tk.C()
	select {
	case <-tk.C():
		t.Fatal("more than one tick buffered")
	default:
	}

	// The schedule stays aligned: the next advance is due immediately.
	m.Advance(time.Second)
	select {
	case <-tk.C():
	default:
		t.Fatal("ticker stalled after coalescing")
	}
}

func TestMockTickerStop(t *testing.T) {
	m := NewMock()
	tk := m.NewTicker(time.Second)
	tk.Stop()

	m.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("tick delivered after Stop")
	default:
	}
}
