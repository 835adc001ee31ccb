// Copyright 2024 The go-cbdx Authors
// This file is part of the go-cbdx library.
//
// The go-cbdx library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-cbdx library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-cbdx library. If not, see <http://www.gnu.org/licenses/>.

package mclock

import (
	"sync"
	"time"
)

// Simulated implements a virtual Clock for reproducible time-sensitive tests.
// Processing on the virtual timescale takes zero time; the clock only
// advances when Run is called.
//
// Timeout behaviour involving goroutines needs care: first perform the action
// that arms the timer, wait for the timer to exist with WaitForTimers, then
// Run the clock past the deadline and observe the effect through a channel.
type Simulated struct {
	now     AbsTime
	pending []*simTimer
	mu      sync.RWMutex
	cond    *sync.Cond
	lastID  uint64
}

// simTimer implements Timer on the virtual clock.
type simTimer struct {
	fire func()
	at   AbsTime
	id   uint64
	c    *Simulated
}

// Run advances the clock by d, executing every timer scheduled before the new
// time. Timer callbacks run on the calling goroutine.
func (c *Simulated) Run(d time.Duration) {
	c.mu.Lock()
	c.init()

	end := c.now + AbsTime(d)
	var ready []func()
	for len(c.pending) > 0 && c.pending[0].at <= end {
		t := c.pending[0]
		c.now = t.at
		ready = append(ready, t.fire)
		c.pending = c.pending[1:]
	}
	c.now = end
	c.mu.Unlock()

	for _, fn := range ready {
		fn()
	}
}

// ActiveTimers returns the number of timers that haven't fired.
func (c *Simulated) ActiveTimers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.pending)
}

// WaitForTimers blocks until the clock has at least n scheduled timers.
func (c *Simulated) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()

	for len(c.pending) < n {
		c.cond.Wait()
	}
}

// Now returns the current virtual time.
func (c *Simulated) Now() AbsTime {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.now
}

// Sleep blocks until the clock has advanced by d.
func (c *Simulated) Sleep(d time.Duration) {
	<-c.After(d)
}

// After returns a channel which receives the current time after the clock has
// advanced by d.
func (c *Simulated) After(d time.Duration) <-chan time.Time {
	after := make(chan time.Time, 1)
	c.AfterFunc(d, func() {
		after <- (time.Time{}).Add(time.Duration(c.now))
	})
	return after
}

// AfterFunc runs fn after the clock has advanced by d. Unlike with the system
// clock, fn runs on the goroutine that calls Run.
func (c *Simulated) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()

	c.lastID++
	t := &simTimer{fire: fn, at: c.now.Add(d), id: c.lastID, c: c}

	// Keep pending sorted by (at, id) so Run pops in schedule order.
	lo, hi := 0, len(c.pending)
	for lo != hi {
		m := (lo + hi) / 2
		if t.at < c.pending[m].at || (t.at == c.pending[m].at && t.id < c.pending[m].id) {
			hi = m
		} else {
			lo = m + 1
		}
	}
	c.pending = append(c.pending, nil)
	copy(c.pending[lo+1:], c.pending[lo:len(c.pending)-1])
	c.pending[lo] = t

	c.cond.Broadcast()
	return t
}

func (t *simTimer) Stop() bool {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, pending := range c.pending {
		if pending == t {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			c.cond.Broadcast()
			return true
		}
	}
	return false
}

func (c *Simulated) init() {
	if c.cond == nil {
		c.cond = sync.NewCond(&c.mu)
	}
}
