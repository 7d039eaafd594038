package timectrl

import (
	"testing"
	"time"
)

func TestManualClock_AdvanceDeliversTick(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	c.Start()

	go c.Advance(time.Second)

	select {
	case tick := <-c.Ticks():
		if tick.Delta != time.Second {
			t.Errorf("delta = %v, want 1s", tick.Delta)
		}
		if !tick.At.Equal(start.Add(time.Second)) {
			t.Errorf("at = %v, want %v", tick.At, start.Add(time.Second))
		}
	case <-time.After(time.Second):
		t.Fatalf("no tick delivered")
	}

	if got := c.Now(); !got.Equal(start.Add(time.Second)) {
		t.Errorf("now = %v", got)
	}
}

func TestManualClock_StopDropsTicks(t *testing.T) {
	start := time.Now()
	c := NewManualClock(start)
	c.Stop()
	c.Stop() // idempotent

	// Advance after stop must return without delivering or blocking.
	done := make(chan struct{})
	go func() {
		c.Advance(time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Advance blocked after Stop")
	}

	select {
	case tick := <-c.Ticks():
		t.Fatalf("unexpected tick %v after Stop", tick)
	default:
	}
}

func TestWallClock_TicksAndStops(t *testing.T) {
	c := NewWallClock(5 * time.Millisecond)
	c.Start()

	select {
	case tick := <-c.Ticks():
		if tick.Delta <= 0 {
			t.Errorf("delta = %v, want positive", tick.Delta)
		}
	case <-time.After(time.Second):
		t.Fatalf("no tick from wall clock")
	}

	c.Stop()
	c.Stop() // idempotent

	// The channel closes once the ticker goroutine winds down.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-c.Ticks():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("channel never closed after Stop")
		}
	}
}

func TestWallClock_DroppedBeatsAccumulateDelta(t *testing.T) {
	c := NewWallClock(5 * time.Millisecond)
	c.Start()
	defer c.Stop()

	// Refuse to consume while several intervals pass. The cap-1 channel
	// forces beats to drop; their time must fold into the next delta.
	time.Sleep(60 * time.Millisecond)

	var total time.Duration
	timeout := time.After(time.Second)
	for total < 50*time.Millisecond {
		select {
		case tick, ok := <-c.Ticks():
			if !ok {
				t.Fatalf("clock stopped early")
			}
			total += tick.Delta
		case <-timeout:
			t.Fatalf("accumulated only %v of delta", total)
		}
	}
}
