// Package mock provides a manually advanced implementation of clock.Clock.
//
// Timers never fire on their own; call Clock.Advance to move time forward.
// Callbacks of due timers run synchronously inside Advance, in deadline
// order, which makes reconnect and interval tests deterministic.
//
// Example:
//
//	clk := mock.New(time.Unix(0, 0))
//	clk.AfterFunc(5*time.Second, fired)
//	clk.Advance(5 * time.Second) // fired runs here
package mock

import (
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/livetranslate/internal/clock"
)

// Clock is a fake clock.Clock. It is safe for concurrent use.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers []*timer
}

var _ clock.Clock = (*Clock)(nil)

// New returns a fake clock set to start.
func New(start time.Time) *Clock {
	return &Clock{now: start}
}

type timer struct {
	c        *Clock
	id       int
	deadline time.Time
	f        func()
}

// Stop removes the timer from the pending set.
func (t *timer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	for i, p := range t.c.timers {
		if p == t {
			t.c.timers = append(t.c.timers[:i], t.c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Now returns the fake current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run once the clock has been advanced by d.
func (c *Clock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	t := &timer{c: c, id: c.nextID, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves the clock forward by d and runs every timer whose deadline
// is reached, including timers scheduled by callbacks during the advance.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool {
			if c.timers[i].deadline.Equal(c.timers[j].deadline) {
				return c.timers[i].id < c.timers[j].id
			}
			return c.timers[i].deadline.Before(c.timers[j].deadline)
		})
		if len(c.timers) == 0 || c.timers[0].deadline.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		t := c.timers[0]
		c.timers = c.timers[1:]
		c.now = t.deadline
		c.mu.Unlock()

		t.f()
	}
}
