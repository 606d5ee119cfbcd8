package ingest

import (
	"sync"
	"time"
)

// DefaultFlushInterval bounds flushes to roughly one per display frame.
const DefaultFlushInterval = 16 * time.Millisecond

// Coalescer buffers items and hands them to a flush function at most once
// per interval. Items added while a flush is pending join that flush. Flush
// calls never overlap and preserve arrival order.
type Coalescer[T any] struct {
	interval time.Duration
	flush    func([]T)

	flushMu sync.Mutex // serializes flush calls

	mu     sync.Mutex
	buf    []T
	timer  *time.Timer
	last   time.Time
	closed bool

	nowFunc func() time.Time
}

// NewCoalescer creates a coalescer. A non-positive interval uses
// DefaultFlushInterval.
func NewCoalescer[T any](interval time.Duration, flush func([]T)) *Coalescer[T] {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Coalescer[T]{interval: interval, flush: flush, nowFunc: time.Now}
}

// Add buffers items and schedules a flush if none is pending.
func (c *Coalescer[T]) Add(items ...T) {
	if len(items) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.buf = append(c.buf, items...)
	if c.timer != nil {
		return
	}
	delay := c.interval - c.nowFunc().Sub(c.last)
	if delay < 0 {
		delay = 0
	}
	c.timer = time.AfterFunc(delay, c.fire)
}

// Pending returns the number of buffered items.
func (c *Coalescer[T]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Drain flushes whatever is buffered synchronously and closes the
// coalescer. Any flush already in progress completes first.
func (c *Coalescer[T]) Drain() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	batch := c.take()
	c.closed = true
	c.mu.Unlock()

	if len(batch) > 0 {
		c.flush(batch)
	}
}

// Stop discards buffered items and cancels any pending flush.
func (c *Coalescer[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.take()
	c.closed = true
}

func (c *Coalescer[T]) fire() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	batch := c.take()
	c.last = c.nowFunc()
	c.mu.Unlock()

	if len(batch) > 0 {
		c.flush(batch)
	}
}

// take empties the buffer and cancels the timer. c.mu must be held.
func (c *Coalescer[T]) take() []T {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	batch := c.buf
	c.buf = nil
	return batch
}
