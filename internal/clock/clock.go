package clock

import (
	"sync/atomic"
	"time"
)

// Clock hands out logical timestamps for transactions.
type Clock interface {
	Now() uint64
}

// Monotonic returns wall-clock nanoseconds, bumped when needed so that
// every value is strictly greater than the one before it.
type Monotonic struct {
	last atomic.Uint64
	now  func() time.Time
}

// NewMonotonic creates a clock backed by time.Now.
func NewMonotonic() *Monotonic {
	return &Monotonic{now: time.Now}
}

// Now returns the next timestamp.
func (c *Monotonic) Now() uint64 {
	for {
		last := c.last.Load()
		next := uint64(c.now().UnixNano())
		if next <= last {
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Last returns the most recently issued timestamp.
func (c *Monotonic) Last() uint64 {
	return c.last.Load()
}

// Manual is a Clock driven by hand, one tick per call.
type Manual struct {
	next atomic.Uint64
}

// NewManual creates a clock whose first value is start+1.
func NewManual(start uint64) *Manual {
	m := &Manual{}
	m.next.Store(start)
	return m
}

func (m *Manual) Now() uint64 {
	return m.next.Add(1)
}
