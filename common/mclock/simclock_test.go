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
	"testing"
	"time"
)

var _ Clock = System{}
var _ Clock = new(Simulated)

func TestSimulatedAfterFunc(t *testing.T) {
	c := new(Simulated)

	var fired []int
	c.AfterFunc(100*time.Millisecond, func() { fired = append(fired, 1) })
	c.AfterFunc(500*time.Millisecond, func() { fired = append(fired, 2) })
	c.AfterFunc(200*time.Millisecond, func() { fired = append(fired, 3) })
	if n := c.ActiveTimers(); n != 3 {
		t.Fatalf("ActiveTimers = %d, want 3", n)
	}

	c.Run(300 * time.Millisecond)
	if len(fired) != 2 || fired[0] != 1 || fired[1] != 3 {
		t.Fatalf("timers fired out of schedule order: %v", fired)
	}
	if n := c.ActiveTimers(); n != 1 {
		t.Fatalf("ActiveTimers after run = %d, want 1", n)
	}
	if now := c.Now(); now != AbsTime(300*time.Millisecond) {
		t.Fatalf("Now = %v, want 300ms", time.Duration(now))
	}

	c.Run(300 * time.Millisecond)
	if len(fired) != 3 || fired[2] != 2 {
		t.Fatalf("remaining timer did not fire: %v", fired)
	}
}

func TestSimulatedTimerStop(t *testing.T) {
	c := new(Simulated)

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop on pending timer = false")
	}
	if timer.Stop() {
		t.Fatal("second Stop = true")
	}
	c.Run(2 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestSimulatedSameDeadlineOrder(t *testing.T) {
	c := new(Simulated)

	var fired []int
	c.AfterFunc(time.Second, func() { fired = append(fired, 1) })
	c.AfterFunc(time.Second, func() { fired = append(fired, 2) })
	c.Run(time.Second)
	if len(fired) != 2 || fired[0] != 1 || fired[1] != 2 {
		t.Fatalf("same-deadline timers fired out of creation order: %v", fired)
	}
}
