package rewrite

import "sync/atomic"

// Clock is the monotonic logical clock stamping trace records.
//
// Every recorded application and decline carries a strictly increasing
// seq number, so a persisted trace replays in the exact order the
// driver produced it, independent of wall time.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// though the driver's single-writer design means only one goroutine
// normally calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
// Used when appending to an existing trace session.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
