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

package contracts

import (
	"errors"
	"reflect"
	"testing"

	"github.com/cbdx/go-cbdx/core"
)

const testStamp = int64(1692000000123456789)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	r := NewRegistry()
	if err := r.Create("loyalty", "gov-1", map[string]int64{"alice": 10, "bob": 3}); err != nil {
		t.Fatalf("failed to create contract: %v", err)
	}
	return r
}

func TestRegistryCreate(t *testing.T) {
	r := newTestRegistry(t)

	if !r.Exists("loyalty") {
		t.Fatal("created contract not found")
	}
	if creator, _ := r.Creator("loyalty"); creator != "gov-1" {
		t.Fatalf("creator: have %s, want gov-1", creator)
	}
	if err := r.Create("loyalty", "gov-2", nil); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("duplicate id: have %v, want %v", err, core.ErrValidation)
	}
	if err := r.Create("", "gov-1", nil); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("empty id: have %v, want %v", err, core.ErrValidation)
	}
	if err := r.Create("points", "gov-1", nil); err != nil {
		t.Fatalf("failed to create second contract: %v", err)
	}
	if ids := r.IDs(); !reflect.DeepEqual(ids, []string{"loyalty", "points"}) {
		t.Fatalf("ids: have %v, want [loyalty points]", ids)
	}
}

func TestContractBalanceOf(t *testing.T) {
	r := newTestRegistry(t)

	result, err := r.Call("loyalty", MethodBalanceOf, map[string]string{ArgAccount: "alice"}, testStamp)
	if err != nil {
		t.Fatalf("balance_of failed: %v", err)
	}
	if result != "10" {
		t.Fatalf("balance_of result: have %s, want 10", result)
	}
	// Absent accounts read as zero rather than failing.
	result, err = r.Call("loyalty", MethodBalanceOf, map[string]string{ArgAccount: "nobody"}, testStamp)
	if err != nil {
		t.Fatalf("balance_of failed: %v", err)
	}
	if result != "0" {
		t.Fatalf("balance_of result: have %s, want 0", result)
	}
}

func TestContractTransfer(t *testing.T) {
	r := newTestRegistry(t)

	args := map[string]string{ArgFrom: "alice", ArgTo: "bob", ArgAmount: "4"}
	if _, err := r.Call("loyalty", MethodTransfer, args, testStamp); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	storage, _ := r.Storage("loyalty")
	if storage["alice"] != 6 || storage["bob"] != 7 {
		t.Fatalf("storage after transfer: have %v, want alice=6 bob=7", storage)
	}
}

func TestContractTransferInsufficient(t *testing.T) {
	r := newTestRegistry(t)

	// A short source balance aborts the call without touching storage or
	// the event log.
	args := map[string]string{ArgFrom: "bob", ArgTo: "alice", ArgAmount: "25"}
	if _, err := r.Call("loyalty", MethodTransfer, args, testStamp); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("short transfer: have %v, want %v", err, core.ErrInsufficientFunds)
	}
	storage, _ := r.Storage("loyalty")
	if storage["alice"] != 10 || storage["bob"] != 3 {
		t.Fatalf("storage mutated by aborted transfer: have %v", storage)
	}
	events, _ := r.Events("loyalty")
	if len(events) != 0 {
		t.Fatalf("events after aborted transfer: have %d, want 0", len(events))
	}

	args[ArgAmount] = "not-a-number"
	if _, err := r.Call("loyalty", MethodTransfer, args, testStamp); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("malformed amount: have %v, want %v", err, core.ErrValidation)
	}
}

func TestContractEmit(t *testing.T) {
	r := newTestRegistry(t)

	args := map[string]string{ArgType: "promo", ArgPayload: "double points week"}
	result, err := r.Call("loyalty", MethodEmit, args, testStamp)
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	if result != "1" {
		t.Fatalf("emit result: have %s, want 1", result)
	}
	events, _ := r.Events("loyalty")
	if len(events) != 1 {
		t.Fatalf("events: have %d, want 1", len(events))
	}
	want := Event{Type: "promo", Payload: "double points week", Contract: "loyalty", Timestamp: testStamp}
	if events[0] != want {
		t.Fatalf("event: have %+v, want %+v", events[0], want)
	}
}

func TestContractUnknownMethod(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Call("loyalty", "mint", nil, testStamp); !errors.Is(err, core.ErrContractMethodUnknown) {
		t.Fatalf("unknown method: have %v, want %v", err, core.ErrContractMethodUnknown)
	}
	if _, err := r.Call("missing", MethodEmit, nil, testStamp); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("unknown contract: have %v, want %v", err, core.ErrValidation)
	}
}
