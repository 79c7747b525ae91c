package realtime

import (
	"sync"
	"time"
)

// Debounce window bounds. Writes inside one window collapse per dedup key,
// which caps the refresh traffic a bulk mutation can generate.
const (
	DefaultWindow = 300 * time.Millisecond
	MinWindow     = 250 * time.Millisecond
	MaxWindow     = 500 * time.Millisecond
)

// clampWindow forces a configured window into the supported bounds. Zero or
// negative picks the default.
func clampWindow(window time.Duration) time.Duration {
	switch {
	case window <= 0:
		return DefaultWindow
	case window < MinWindow:
		return MinWindow
	case window > MaxWindow:
		return MaxWindow
	default:
		return window
	}
}

// Coalescer buffers events for one debounce window and hands the deduplicated
// batch to its sink. The window opens when the first event lands in an empty
// buffer and closes on timer elapse, so sustained write traffic still flushes
// once per window instead of postponing forever. Flush and Close are the
// explicit triggers for visibility regain and unmount.
type Coalescer struct {
	mu      sync.Mutex
	window  time.Duration
	sink    func([]Event)
	pending map[string]int // dedup key to position in order
	order   []Event
	timer   *time.Timer
	closed  bool
}

// NewCoalescer builds a coalescer delivering batches to sink. The window is
// clamped into [MinWindow, MaxWindow]; zero selects DefaultWindow.
func NewCoalescer(window time.Duration, sink func([]Event)) *Coalescer {
	if sink == nil {
		sink = func([]Event) {}
	}
	return &Coalescer{
		window:  clampWindow(window),
		sink:    sink,
		pending: make(map[string]int),
	}
}

// Window reports the effective debounce window.
func (c *Coalescer) Window() time.Duration {
	return c.window
}

// Add buffers events into the current window. An event sharing a dedup key
// with a buffered one replaces it only when its version is not lower, so the
// batch keeps the highest version seen per key. Events offered after Close
// are dropped.
func (c *Coalescer) Add(events ...Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for _, event := range events {
		key := event.DedupKey()
		if pos, ok := c.pending[key]; ok {
			if event.Version >= c.order[pos].Version {
				c.order[pos] = event
			}
			continue
		}
		c.pending[key] = len(c.order)
		c.order = append(c.order, event)
	}
	if len(c.order) > 0 && c.timer == nil {
		c.timer = time.AfterFunc(c.window, c.onTimer)
	}
}

// Flush delivers the buffered batch immediately, ahead of the timer.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	batch := c.drainLocked()
	c.mu.Unlock()
	if len(batch) > 0 {
		c.sink(batch)
	}
}

// Close flushes any remaining events and rejects everything after. Safe to
// call more than once.
func (c *Coalescer) Close() {
	c.mu.Lock()
	c.closed = true
	batch := c.drainLocked()
	c.mu.Unlock()
	if len(batch) > 0 {
		c.sink(batch)
	}
}

func (c *Coalescer) onTimer() {
	c.mu.Lock()
	c.timer = nil
	batch := c.drainLocked()
	c.mu.Unlock()
	if len(batch) > 0 {
		c.sink(batch)
	}
}

// drainLocked empties the buffer and disarms the timer. The caller holds mu
// and delivers the returned batch outside the lock, keeping the sink free to
// call back into the coalescer.
func (c *Coalescer) drainLocked() []Event {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if len(c.order) == 0 {
		return nil
	}
	batch := c.order
	c.order = nil
	c.pending = make(map[string]int)
	return batch
}
