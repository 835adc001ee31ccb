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

// Package countdown implements the resettable round timer used by the
// consensus engine to detect silent leaders.
package countdown

import (
	"sync"
	"time"

	"github.com/cbdx/go-cbdx/common/mclock"
	"github.com/cbdx/go-cbdx/log"
)

// CountdownTimer runs a countdown on its own goroutine and invokes
// OnTimeoutFn every time the configured duration elapses without a Reset.
// The zero duration is invalid.
type CountdownTimer struct {
	lock     sync.RWMutex // protects running and duration
	clock    mclock.Clock
	resetc   chan struct{}
	quitc    chan chan struct{}
	running  bool
	duration time.Duration

	// OnTimeoutFn receives the wall-clock time of the timeout and the
	// argument passed to the Reset call that armed the timer.
	OnTimeoutFn func(at time.Time, arg interface{}) error
}

// NewCountDown creates a stopped countdown timer on the given clock.
func NewCountDown(clock mclock.Clock, duration time.Duration) *CountdownTimer {
	return &CountdownTimer{
		clock:    clock,
		resetc:   make(chan struct{}),
		quitc:    make(chan chan struct{}),
		duration: duration,
	}
}

// Reset arms the timer, starting its goroutine on first use. The argument is
// handed to OnTimeoutFn on expiry.
func (t *CountdownTimer) Reset(arg interface{}) {
	if !t.isRunning() {
		t.setRunning(true)
		go t.loop(arg)
	} else {
		t.resetc <- struct{}{}
	}
}

// StopTimer halts the countdown goroutine and waits for it to exit. A stopped
// timer can be re-armed with Reset.
func (t *CountdownTimer) StopTimer() {
	if !t.isRunning() {
		return
	}
	q := make(chan struct{})
	t.quitc <- q
	<-q
}

// SetTimeoutDuration changes the countdown period. It takes effect on the
// next reset or expiry.
func (t *CountdownTimer) SetTimeoutDuration(duration time.Duration) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.duration = duration
}

func (t *CountdownTimer) timeoutDuration() time.Duration {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.duration
}

func (t *CountdownTimer) loop(arg interface{}) {
	expired := t.clock.After(t.timeoutDuration())
	for {
		select {
		case q := <-t.quitc:
			// Clear running before acknowledging so a sequential caller
			// can re-arm or stop again without racing the goroutine exit.
			t.setRunning(false)
			close(q)
			return
		case <-expired:
			go func() {
				if err := t.OnTimeoutFn(time.Now(), arg); err != nil {
					log.Error("Countdown timeout handler failed", "err", err)
				}
			}()
			expired = t.clock.After(t.timeoutDuration())
		case <-t.resetc:
			expired = t.clock.After(t.timeoutDuration())
		}
	}
}

func (t *CountdownTimer) setRunning(v bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.running = v
}

func (t *CountdownTimer) isRunning() bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.running
}
