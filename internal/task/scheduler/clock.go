package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	maxTick = 10 * time.Millisecond
	minTick = time.Millisecond
)

var _ cron.Schedule = (*intervalClock)(nil)

// intervalClock tracks the next firing instant of one definition.
// The reference advances by whole intervals so timing error never accumulates.
type intervalClock struct {
	interval time.Duration

	mu   sync.Mutex
	next time.Time
}

func newIntervalClock(interval time.Duration, start time.Time) *intervalClock {
	c := &intervalClock{interval: interval}
	c.reset(start)
	return c
}

func (c *intervalClock) reset(start time.Time) {
	c.mu.Lock()
	c.next = start.Add(c.interval)
	c.mu.Unlock()
}

// Due reports whether now is a firing instant and, if so, advances the
// reference. Windows missed during a stall collapse into this one firing.
func (c *intervalClock) Due(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	late := now.Sub(c.next)
	if late < 0 {
		return false
	}
	missed := late / c.interval
	c.next = c.next.Add((missed + 1) * c.interval)
	return true
}

// Next returns the first firing instant strictly after t.
func (c *intervalClock) Next(t time.Time) time.Time {
	c.mu.Lock()
	next := c.next
	c.mu.Unlock()
	if t.Before(next) {
		return next
	}
	steps := t.Sub(next)/c.interval + 1
	return next.Add(steps * c.interval)
}

func (c *intervalClock) peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// tickFor picks the loop granularity: a tenth of the shortest interval,
// capped at 10ms and floored at 1ms.
func tickFor(configured time.Duration, intervals []time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	tick := maxTick
	for _, iv := range intervals {
		if d := iv / 10; d < tick {
			tick = d
		}
	}
	if tick < minTick {
		tick = minTick
	}
	return tick
}
