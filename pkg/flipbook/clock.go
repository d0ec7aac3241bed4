package flipbook

import (
	"sync/atomic"
	"time"
)

// stampClock hands out strictly increasing stamps measured from a fixed
// baseline. Two calls never return the same stamp, so a publication and a
// later snapshot can always be ordered.
type stampClock struct {
	baseline time.Time
	last     atomic.Int64
	since    func(time.Time) time.Duration
}

func newStampClock() *stampClock {
	return &stampClock{baseline: time.Now(), since: time.Since}
}

// now returns the next stamp.
func (c *stampClock) now() time.Duration {
	d := int64(c.since(c.baseline))

	for {
		last := c.last.Load()

		next := d
		if next <= last {
			next = last + 1
		}

		if c.last.CompareAndSwap(last, next) {
			return time.Duration(next)
		}
	}
}

// at converts a stamp back into wall-clock time.
func (c *stampClock) at(stamp time.Duration) time.Time {
	return c.baseline.Add(stamp)
}
