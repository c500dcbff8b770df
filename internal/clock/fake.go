// ABOUTME: Deterministic clock for tests
// ABOUTME: Advance fires scheduled callbacks in deadline order
package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Timers fire synchronously inside
// Advance, in deadline order, so tests observe transitions at exact
// millisecond boundaries.
type Fake struct {
	mu     sync.Mutex
	now    int64
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *Fake
	deadline int64
	f        func()
	stopped  bool
	fired    bool
}

// NewFake creates a fake clock starting at the given Unix millisecond.
func NewFake(startMs int64) *Fake {
	return &Fake{now: startMs}
}

func (c *Fake) NowMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{
		clock:    c,
		deadline: c.now + d.Milliseconds(),
		f:        f,
	}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves the clock forward, firing every timer whose deadline
// falls inside the window. Callbacks may schedule new timers; those are
// honored within the same window.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d.Milliseconds()

	for {
		next := c.nextDueLocked(target)
		if next == nil {
			break
		}
		if next.deadline > c.now {
			c.now = next.deadline
		}
		next.fired = true
		f := next.f
		c.mu.Unlock()
		f() // outside the lock: callbacks may call back into the clock
		c.mu.Lock()
	}

	c.now = target
	c.gcLocked()
	c.mu.Unlock()
}

func (c *Fake) nextDueLocked(target int64) *fakeTimer {
	var due *fakeTimer
	for _, t := range c.timers {
		if t.stopped || t.fired || t.deadline > target {
			continue
		}
		if due == nil || t.deadline < due.deadline {
			due = t
		}
	}
	return due
}

func (c *Fake) gcLocked() {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.timers = live
	sort.Slice(c.timers, func(i, j int) bool {
		return c.timers[i].deadline < c.timers[j].deadline
	})
}
