// Package timeutil provides a testable abstraction over the time operations
// used for backoff waits, scan pacing and render ticks.
package timeutil

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After waits for the duration to elapse and then sends the current time.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker that delivers ticks with period d.
	NewTicker(d time.Duration) Ticker
}

// Ticker holds a channel that delivers ticks of a clock at intervals.
type Ticker interface {
	// C returns the channel on which the ticks are delivered.
	C() <-chan time.Time

	// Stop turns off a ticker.
	Stop()
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// After waits for the duration to elapse and then sends the current time.
func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// NewTicker returns a new Ticker.
func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

// MockClock is a manually controlled clock for testing. Waits requested
// through After complete immediately: the clock records the duration,
// advances by it and delivers the new time.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	waits   []time.Duration
	tickers []*MockTicker
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the mock clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// After records d, advances the clock by it and returns a channel that
// already holds the resulting time.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Waits returns every duration passed to After, in call order.
func (c *MockClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]time.Duration, len(c.waits))
	copy(result, c.waits)
	return result
}

// NewTicker creates a MockTicker that only fires when Tick is called.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &MockTicker{ch: make(chan time.Time), interval: d}
	c.tickers = append(c.tickers, t)
	return t
}

// Tickers returns the tickers created so far.
func (c *MockClock) Tickers() []*MockTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*MockTicker, len(c.tickers))
	copy(out, c.tickers)
	return out
}

// MockTicker is a manually controlled ticker for testing.
type MockTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	stopped  bool
}

// C returns the ticker channel.
func (t *MockTicker) C() <-chan time.Time {
	return t.ch
}

// Interval returns the period the ticker was created with.
func (t *MockTicker) Interval() time.Duration {
	return t.interval
}

// Stop turns off the ticker.
func (t *MockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Stopped reports whether Stop was called.
func (t *MockTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Tick delivers now to the ticker's reader, blocking until it is received.
// Ticks on a stopped ticker are dropped.
func (t *MockTicker) Tick(now time.Time) bool {
	if t.Stopped() {
		return false
	}
	t.ch <- now
	return true
}
