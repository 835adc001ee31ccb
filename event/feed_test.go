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

package event

import (
	"sync"
	"testing"
	"time"
)

func TestFeedOfDelivery(t *testing.T) {
	var feed FeedOf[int]

	ch1 := make(chan int, 1)
	ch2 := make(chan int, 1)
	sub1 := feed.Subscribe(ch1)
	sub2 := feed.Subscribe(ch2)
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	if nsent := feed.Send(7); nsent != 2 {
		t.Fatalf("Send delivered to %d subscribers, want 2", nsent)
	}
	if v := <-ch1; v != 7 {
		t.Errorf("ch1 received %d, want 7", v)
	}
	if v := <-ch2; v != 7 {
		t.Errorf("ch2 received %d, want 7", v)
	}
}

func TestFeedOfUnsubscribe(t *testing.T) {
	var feed FeedOf[string]

	ch := make(chan string, 1)
	sub := feed.Subscribe(ch)
	sub.Unsubscribe()

	if nsent := feed.Send("gone"); nsent != 0 {
		t.Fatalf("Send delivered to %d subscribers after unsubscribe", nsent)
	}
	select {
	case _, ok := <-sub.Err():
		if ok {
			t.Error("Err channel received a value")
		}
	case <-time.After(time.Second):
		t.Error("Err channel not closed after Unsubscribe")
	}
}

func TestFeedOfConcurrentSend(t *testing.T) {
	var (
		feed FeedOf[int]
		wg   sync.WaitGroup
	)
	ch := make(chan int)
	sub := feed.Subscribe(ch)
	defer sub.Unsubscribe()

	const nsends = 100
	wg.Add(nsends)
	for i := 0; i < nsends; i++ {
		go func() {
			defer wg.Done()
			feed.Send(1)
		}()
	}

	total := 0
	for i := 0; i < nsends; i++ {
		total += <-ch
	}
	wg.Wait()
	if total != nsends {
		t.Errorf("received %d sends, want %d", total, nsends)
	}
}

func TestSubscriptionScopeClose(t *testing.T) {
	var (
		feed  FeedOf[int]
		scope SubscriptionScope
	)
	ch := make(chan int, 1)
	sub := scope.Track(feed.Subscribe(ch))
	if sub == nil {
		t.Fatal("Track returned nil on open scope")
	}
	if n := scope.Count(); n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}

	scope.Close()
	if nsent := feed.Send(1); nsent != 0 {
		t.Errorf("Send delivered to %d subscribers after scope close", nsent)
	}
	if s := scope.Track(feed.Subscribe(ch)); s != nil {
		t.Error("Track on closed scope returned a subscription")
	}
}

func TestTypeMuxPostAndStop(t *testing.T) {
	type testEvent struct{ n int }

	mux := new(TypeMux)
	sub := mux.Subscribe(testEvent{})

	go func() {
		if err := mux.Post(testEvent{n: 5}); err != nil {
			t.Errorf("Post failed: %v", err)
		}
	}()

	select {
	case ev := <-sub.Chan():
		if data := ev.Data.(testEvent); data.n != 5 {
			t.Errorf("received %d, want 5", data.n)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	mux.Stop()
	if err := mux.Post(testEvent{}); err != ErrMuxClosed {
		t.Errorf("Post after Stop = %v, want ErrMuxClosed", err)
	}
	if _, ok := <-sub.Chan(); ok {
		t.Error("subscription channel not closed after Stop")
	}
}
