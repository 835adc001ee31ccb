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

package authority

import (
	"errors"
	"testing"

	"github.com/cbdx/go-cbdx/cbdxdb"
	"github.com/cbdx/go-cbdx/cbdxdb/leveldb"
	"github.com/cbdx/go-cbdx/cbdxdb/memorydb"
	"github.com/cbdx/go-cbdx/cbdxdb/pebbledb"
	"github.com/cbdx/go-cbdx/params"
	"github.com/davecgh/go-spew/spew"
)

// TestSnapshotStoreRoundTrip drives the same save/load sequence through every
// database backend a snapshot store can sit on.
func TestSnapshotStoreRoundTrip(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		testSnapshotRoundTrip(t, memorydb.New())
	})
	t.Run("leveldb", func(t *testing.T) {
		db, err := leveldb.New(t.TempDir(), 16, 16, "cbdx/db/snaptest/", false)
		if err != nil {
			t.Fatalf("failed to open leveldb store: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		testSnapshotRoundTrip(t, db)
	})
	t.Run("pebble", func(t *testing.T) {
		db, err := pebbledb.New(t.TempDir(), 16, 16, "cbdx/db/snaptest/", false)
		if err != nil {
			t.Fatalf("failed to open pebble store: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		testSnapshotRoundTrip(t, db)
	})
}

func testSnapshotRoundTrip(t *testing.T, db cbdxdb.KeyValueStore) {
	store := NewSnapshotStore(db)

	if _, err := store.Latest(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("latest on empty store: have %v, want %v", err, ErrNoSnapshot)
	}
	if _, err := store.Seq(0); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("seq on empty store: have %v, want %v", err, ErrNoSnapshot)
	}

	first := &Snapshot{Height: 1, Emitted: 100}
	seq, err := store.Save(first)
	if err != nil {
		t.Fatalf("failed to save first snapshot: %v", err)
	}
	if seq != 0 {
		t.Fatalf("first sequence: have %d, want 0", seq)
	}
	second := &Snapshot{Height: 2, Emitted: 250}
	if seq, err = store.Save(second); err != nil || seq != 1 {
		t.Fatalf("second save: have (%d, %v), want (1, nil)", seq, err)
	}

	latest, err := store.Latest()
	if err != nil {
		t.Fatalf("failed to load latest snapshot: %v", err)
	}
	if latest.Seq != 1 || latest.Height != 2 || latest.Emitted != 250 {
		t.Errorf("latest snapshot mismatch:\n%s", spew.Sdump(latest))
	}
	if latest.Version != snapshotVersion {
		t.Errorf("snapshot version: have %d, want %d", latest.Version, snapshotVersion)
	}

	old, err := store.Seq(0)
	if err != nil {
		t.Fatalf("failed to load old snapshot: %v", err)
	}
	if old.Height != 1 || old.Emitted != 100 {
		t.Errorf("old snapshot mismatch: %+v", old)
	}

	seqs, err := store.Seqs()
	if err != nil {
		t.Fatalf("failed to list sequences: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 0 || seqs[1] != 1 {
		t.Errorf("sequences: have %v, want [0 1]", seqs)
	}
	if _, err := store.Seq(7); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("missing sequence: have %v, want %v", err, ErrNoSnapshot)
	}
}

func TestAuthoritySnapshotAfterSettlement(t *testing.T) {
	a := newTestAuthority(t)
	store := NewSnapshotStore(memorydb.New())
	a.AttachSnapshotStore(store)

	in := activeIntermediary(t, a)
	issueTo(t, a, in, 1_000_000)
	mustProcess(t, a)

	snap, err := store.Latest()
	if err != nil {
		t.Fatalf("no snapshot after settlement: %v", err)
	}
	ledger := a.Ledger()
	if snap.Height != ledger.Height() {
		t.Errorf("snapshot height: have %d, want %d", snap.Height, ledger.Height())
	}
	if snap.TipHash() != ledger.CurrentBlock().Hash() {
		t.Errorf("snapshot tip: have %s, want %s", snap.TipHash(), ledger.CurrentBlock().Hash())
	}
	if len(snap.Hashes) != int(ledger.Height())+1 || snap.Hashes[0] != ledger.Genesis().Hash() {
		t.Errorf("snapshot hash chain malformed: %d entries", len(snap.Hashes))
	}
	if len(snap.Intermediaries) != 1 || snap.Intermediaries[0].Digital != 1_000_000 {
		t.Errorf("snapshot intermediaries mismatch: %+v", snap.Intermediaries)
	}
	if snap.Emitted != 1_000_000 || snap.Reserve != params.InitialAuthorityReserve-1_000_000 {
		t.Errorf("snapshot totals mismatch: emitted=%d reserve=%d", snap.Emitted, snap.Reserve)
	}
	if snap.AuditEntries == 0 {
		t.Error("snapshot carries no audit entries count")
	}

	// A second settlement run persists the next sequence with the owner's
	// post-exchange balances.
	u1 := walletOwner(t, a)
	fundOnline(t, a, u1, in, 500)

	snap, err = store.Latest()
	if err != nil {
		t.Fatalf("no snapshot after second settlement: %v", err)
	}
	if snap.Seq != 1 {
		t.Errorf("snapshot sequence: have %d, want 1", snap.Seq)
	}
	if len(snap.Owners) != 1 {
		t.Fatalf("snapshot owners: have %d, want 1", len(snap.Owners))
	}
	o := snap.Owners[0]
	if o.ID != u1 || o.Online != 500 || o.Cash != params.InitialOwnerCash-500 {
		t.Errorf("owner snapshot mismatch: %+v", o)
	}
	if entries := a.Audit().ByAction("snapshot"); len(entries) != 2 {
		t.Errorf("snapshot audit entries: have %d, want 2", len(entries))
	}
}

func TestAuthoritySnapshotContracts(t *testing.T) {
	a := newTestAuthority(t)
	store := NewSnapshotStore(memorydb.New())
	a.AttachSnapshotStore(store)

	if err := a.ContractCreate("loyalty", "gov-1", map[string]int64{"A": 10, "B": 0}); err != nil {
		t.Fatalf("failed to create contract: %v", err)
	}
	if _, err := a.ContractCall("loyalty", "transfer", map[string]string{
		"from": "A", "to": "B", "amount": "4",
	}, "A"); err != nil {
		t.Fatalf("failed to submit contract call: %v", err)
	}
	mustProcess(t, a)

	snap, err := store.Latest()
	if err != nil {
		t.Fatalf("no snapshot after settlement: %v", err)
	}
	if len(snap.Contracts) != 1 {
		t.Fatalf("snapshot contracts: have %d, want 1", len(snap.Contracts))
	}
	c := snap.Contracts[0]
	if c.ID != "loyalty" || c.Creator != "gov-1" {
		t.Errorf("contract identity mismatch: %+v", c)
	}
	if c.Storage["A"] != 6 || c.Storage["B"] != 4 {
		t.Errorf("contract storage mismatch: %+v", c.Storage)
	}
}
