package timectrl

import (
	"sync"
	"time"
)

// Tick is one simulation beat. Delta is the simulation time covered since
// the previous delivered tick; when the consumer falls behind and beats are
// dropped, Delta accumulates so elapsed time stays truthful.
type Tick struct {
	At    time.Time
	Delta time.Duration
}

// Clock produces the tick stream for one session runtime. Implementations
// must never block on a slow consumer: a beat that cannot be delivered is
// dropped, not queued behind the next one.
type Clock interface {
	// Start begins ticking. Starting twice is a no-op.
	Start()
	// Ticks is the delivery channel. It is closed after Stop.
	Ticks() <-chan Tick
	// Stop halts the clock and releases its resources. Idempotent.
	Stop()
}

// WallClock ticks at a fixed wall-time cadence.
type WallClock struct {
	interval time.Duration

	mu      sync.Mutex
	ch      chan Tick
	stop    chan struct{}
	started bool
	stopped bool
}

// NewWallClock builds a clock with the given cadence.
func NewWallClock(interval time.Duration) *WallClock {
	if interval <= 0 {
		interval = time.Second
	}
	return &WallClock{
		interval: interval,
		ch:       make(chan Tick, 1),
		stop:     make(chan struct{}),
	}
}

// Start implements Clock.
func (c *WallClock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		defer close(c.ch)

		lastDelivered := time.Now()
		for {
			select {
			case <-c.stop:
				return
			case now := <-ticker.C:
				select {
				case c.ch <- Tick{At: now, Delta: now.Sub(lastDelivered)}:
					lastDelivered = now
				default:
					// Consumer still busy with the previous beat; this one
					// is dropped and its time folds into the next Delta.
				}
			}
		}
	}()
}

// Ticks implements Clock.
func (c *WallClock) Ticks() <-chan Tick { return c.ch }

// Stop implements Clock.
func (c *WallClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	if !c.started {
		// Never started: close the channel here so readers unblock.
		close(c.ch)
	}
	close(c.stop)
}

// ManualClock is a test clock advanced explicitly by the caller. Unlike
// WallClock its tick channel is never closed; after Stop, Advance simply
// stops delivering.
type ManualClock struct {
	mu   sync.Mutex
	now  time.Time
	ch   chan Tick
	stop chan struct{}

	stopOnce sync.Once
}

// NewManualClock builds a manual clock anchored at start. The channel is
// unbuffered so Advance returns only once the consumer has taken the tick.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start, ch: make(chan Tick), stop: make(chan struct{})}
}

// Start implements Clock; manual clocks only tick on Advance.
func (c *ManualClock) Start() {}

// Ticks implements Clock.
func (c *ManualClock) Ticks() <-chan Tick { return c.ch }

// Stop implements Clock.
func (c *ManualClock) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Now returns the clock's current instant.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward and delivers exactly one tick covering d.
// It blocks until the consumer accepts the tick, which keeps tests
// deterministic; a stopped clock drops the tick instead.
func (c *ManualClock) Advance(d time.Duration) {
	select {
	case <-c.stop:
		return
	default:
	}

	c.mu.Lock()
	c.now = c.now.Add(d)
	tick := Tick{At: c.now, Delta: d}
	c.mu.Unlock()

	select {
	case c.ch <- tick:
	case <-c.stop:
	}
}
