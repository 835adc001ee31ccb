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

package countdown

import (
	"testing"
	"time"

	"github.com/cbdx/go-cbdx/common/mclock"
	"github.com/stretchr/testify/assert"
)

func TestCountdownFiresAfterDuration(t *testing.T) {
	clock := new(mclock.Simulated)
	timer := NewCountDown(clock, 100*time.Millisecond)

	fired := make(chan interface{}, 1)
	timer.OnTimeoutFn = func(at time.Time, arg interface{}) error {
		fired <- arg
		return nil
	}

	timer.Reset("round-5")
	clock.WaitForTimers(1)
	clock.Run(100 * time.Millisecond)

	select {
	case arg := <-fired:
		assert.Equal(t, "round-5", arg)
	case <-time.After(time.Second):
		t.Fatal("timeout handler was not invoked")
	}
	timer.StopTimer()
}

func TestCountdownResetDefersTimeout(t *testing.T) {
	clock := new(mclock.Simulated)
	timer := NewCountDown(clock, 100*time.Millisecond)

	fired := make(chan interface{}, 4)
	timer.OnTimeoutFn = func(at time.Time, arg interface{}) error {
		fired <- arg
		return nil
	}

	timer.Reset(nil)
	clock.WaitForTimers(1)
	clock.Run(60 * time.Millisecond)

	// The reset re-arms the countdown, pushing the deadline past the
	// original 100ms mark.
	timer.Reset(nil)
	clock.WaitForTimers(2)
	clock.Run(60 * time.Millisecond)
	assert.Empty(t, fired)

	clock.Run(50 * time.Millisecond)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timeout handler was not invoked after full period")
	}
	timer.StopTimer()
}

func TestCountdownStopIsIdempotent(t *testing.T) {
	clock := new(mclock.Simulated)
	timer := NewCountDown(clock, time.Second)
	timer.OnTimeoutFn = func(time.Time, interface{}) error { return nil }

	timer.Reset(nil)
	timer.StopTimer()
	timer.StopTimer()
}
