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

package metrics

import "testing"

func TestStandardCounter(t *testing.T) {
	c := new(StandardCounter)
	c.Inc(5)
	c.Dec(2)
	if have := c.Count(); have != 3 {
		t.Errorf("count = %d, want 3", have)
	}
	snap := c.Snapshot()
	c.Inc(10)
	if have := snap.Count(); have != 3 {
		t.Errorf("snapshot tracked later writes: %d", have)
	}
	c.Clear()
	if have := c.Count(); have != 0 {
		t.Errorf("count after clear = %d", have)
	}
}

func TestStandardGauge(t *testing.T) {
	g := new(StandardGauge)
	g.Update(47)
	if have := g.Value(); have != 47 {
		t.Errorf("value = %d, want 47", have)
	}
	g.Inc(3)
	g.Dec(10)
	if have := g.Value(); have != 40 {
		t.Errorf("value = %d, want 40", have)
	}
}

func TestRegistryGetOrRegister(t *testing.T) {
	r := NewRegistry()
	first := r.GetOrRegister("queue/pending", NewCounter)
	second := r.GetOrRegister("queue/pending", NewCounter)
	if first != second {
		t.Error("GetOrRegister returned distinct instances for one name")
	}

	count := 0
	r.Each(func(string, interface{}) { count++ })
	if count != 1 {
		t.Errorf("registry holds %d metrics, want 1", count)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("bft/rounds", NewCounter); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := r.Register("bft/rounds", NewCounter); err == nil {
		t.Fatal("duplicate register accepted")
	}
	r.Unregister("bft/rounds")
	if err := r.Register("bft/rounds", NewCounter); err != nil {
		t.Fatalf("register after unregister failed: %v", err)
	}
}
