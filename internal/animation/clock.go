package animation

import (
	"sync"
	"time"
)

// Clock measures the time between playback ticks.
type Clock interface {
	Start()
	Stop()
	// Delta returns the seconds elapsed since the previous call or Start,
	// or 0 when the clock is stopped.
	Delta() float64
	Running() bool
}

// RealClock reads wall time.
type RealClock struct {
	now     func() time.Time
	last    time.Time
	running bool
}

// NewRealClock returns a stopped clock reading time.Now.
func NewRealClock() *RealClock {
	return &RealClock{now: time.Now}
}

func (c *RealClock) Start() {
	c.last = c.now()
	c.running = true
}

func (c *RealClock) Stop() { c.running = false }

func (c *RealClock) Running() bool { return c.running }

func (c *RealClock) Delta() float64 {
	if !c.running {
		return 0
	}
	now := c.now()
	d := now.Sub(c.last).Seconds()
	c.last = now
	return d
}

// ManualClock advances only when told to. It drives offline recording and
// tests.
type ManualClock struct {
	mu      sync.Mutex
	pending float64
	running bool
}

func (c *ManualClock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = 0
	c.running = true
}

func (c *ManualClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
}

func (c *ManualClock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Advance adds d seconds to the next Delta while the clock runs.
func (c *ManualClock) Advance(d float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.pending += d
	}
}

func (c *ManualClock) Delta() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.pending
	c.pending = 0
	if !c.running {
		return 0
	}
	return d
}

// FixedClock returns the same step on every Delta while running, so that
// each tick covers exactly one output frame.
type FixedClock struct {
	Step    float64
	running bool
}

func (c *FixedClock) Start()        { c.running = true }
func (c *FixedClock) Stop()         { c.running = false }
func (c *FixedClock) Running() bool { return c.running }

func (c *FixedClock) Delta() float64 {
	if !c.running {
		return 0
	}
	return c.Step
}
