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

package core

import (
	"errors"
	"testing"
	"time"

	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/core/types"
)

const testStamp = int64(1692000000123456789)

func newTransfer(t *testing.T, sender, recipient string, amount types.Amount) *types.Transaction {
	t.Helper()
	tx, err := types.NewTransactionAt(sender, recipient, amount, types.KindOnlineTransfer, nil, testStamp)
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}
	return tx
}

func newChildBlock(parent *types.Block, txs types.Transactions) *types.Block {
	return types.NewBlock(parent.Height()+1, parent.Hash(), "r0", testStamp, txs)
}

func TestLedgerGenesis(t *testing.T) {
	l := NewLedger()

	if l.Height() != 0 {
		t.Fatalf("fresh ledger height: have %d, want 0", l.Height())
	}
	genesis := l.Genesis()
	if genesis.ParentHash() != common.ZeroHash {
		t.Errorf("genesis parent hash: have %s, want all zeroes", genesis.ParentHash())
	}
	if genesis.TxCount() != 0 {
		t.Errorf("genesis transactions: have %d, want 0", genesis.TxCount())
	}
	if l.CurrentBlock() != genesis {
		t.Error("fresh ledger tip is not genesis")
	}
	// Independently constructed ledgers must agree on the genesis hash.
	if other := NewLedger(); other.Genesis().Hash() != genesis.Hash() {
		t.Errorf("genesis hash differs across ledgers: %s vs %s", other.Genesis().Hash(), genesis.Hash())
	}
}

func TestLedgerAppendCommitted(t *testing.T) {
	l := NewLedger()

	tx1 := newTransfer(t, "u1", "u2", 700)
	tx2 := newTransfer(t, "u2", "u3", 300)
	block := newChildBlock(l.CurrentBlock(), types.Transactions{tx1, tx2})

	if err := l.AppendCommitted(block); err != nil {
		t.Fatalf("failed to append block: %v", err)
	}
	if l.Height() != 1 {
		t.Fatalf("ledger height: have %d, want 1", l.Height())
	}
	if !l.ContainsTransaction(tx1.ID()) || !l.ContainsTransaction(tx2.ID()) {
		t.Error("committed transactions not indexed")
	}
	got, height := l.GetTransaction(tx1.ID())
	if got == nil || height != 1 {
		t.Fatalf("GetTransaction: have (%v, %d), want block 1 entry", got, height)
	}
	if got.Status() != types.StatusCommitted {
		t.Errorf("committed transaction status: have %v, want %v", got.Status(), types.StatusCommitted)
	}
	if l.GetByHeight(1) != block {
		t.Error("GetByHeight(1) did not return the appended block")
	}
	if l.GetByHash(block.Hash()) != block {
		t.Error("GetByHash did not return the appended block")
	}
	if l.GetByHeight(2) != nil {
		t.Error("GetByHeight past the tip should return nil")
	}
}

func TestLedgerAppendConflicts(t *testing.T) {
	l := NewLedger()
	genesis := l.Genesis()

	// Height gap
	skip := types.NewBlock(2, genesis.Hash(), "r0", testStamp, types.Transactions{newTransfer(t, "u1", "u2", 100)})
	if err := l.AppendCommitted(skip); !errors.Is(err, ErrLedgerConflict) {
		t.Errorf("height gap: have %v, want ErrLedgerConflict", err)
	}
	// Wrong parent hash
	orphan := types.NewBlock(1, common.HexToHash("deadbeef"), "r0", testStamp, types.Transactions{newTransfer(t, "u1", "u2", 100)})
	if err := l.AppendCommitted(orphan); !errors.Is(err, ErrLedgerConflict) {
		t.Errorf("wrong parent: have %v, want ErrLedgerConflict", err)
	}
	if l.Height() != 0 {
		t.Fatalf("failed appends must not extend the chain, height %d", l.Height())
	}

	// Duplicate transaction id across blocks
	tx := newTransfer(t, "u1", "u2", 100)
	first := newChildBlock(genesis, types.Transactions{tx})
	if err := l.AppendCommitted(first); err != nil {
		t.Fatalf("failed to append block: %v", err)
	}
	replay := newChildBlock(first, types.Transactions{tx})
	if err := l.AppendCommitted(replay); !errors.Is(err, ErrDuplicateTransaction) {
		t.Errorf("replayed id: have %v, want ErrDuplicateTransaction", err)
	}
	if l.Height() != 1 {
		t.Fatalf("rejected block must not extend the chain, height %d", l.Height())
	}
}

func TestLedgerAllowsIntraBlockReplay(t *testing.T) {
	// A replayed submission that lands twice in the same block is a settlement
	// concern, not a chain conflict: the ledger commits the block and the
	// post-commit hooks reject the second copy.
	l := NewLedger()

	tx := newTransfer(t, "u1", "u2", 100)
	block := newChildBlock(l.Genesis(), types.Transactions{tx, tx})
	if err := l.AppendCommitted(block); err != nil {
		t.Fatalf("failed to append block with replayed id: %v", err)
	}
	if err := l.ValidateChain(); err != nil {
		t.Errorf("chain with intra-block replay should validate: %v", err)
	}
}

func TestLedgerValidateChain(t *testing.T) {
	l := NewLedger()

	parent := l.Genesis()
	for i := 0; i < 5; i++ {
		block := newChildBlock(parent, types.Transactions{newTransfer(t, "u1", "u2", types.Amount(100+i))})
		if err := l.AppendCommitted(block); err != nil {
			t.Fatalf("failed to append block %d: %v", i+1, err)
		}
		parent = block
	}
	if err := l.ValidateChain(); err != nil {
		t.Fatalf("valid chain reported violation: %v", err)
	}
	if l.Height() != 5 {
		t.Fatalf("ledger height: have %d, want 5", l.Height())
	}
}

func TestLedgerIterTransactions(t *testing.T) {
	l := NewLedger()

	tx1 := newTransfer(t, "u1", "u2", 100)
	tx2 := newTransfer(t, "u2", "u1", 200)
	tx3 := newTransfer(t, "u1", "u3", 300)

	first := newChildBlock(l.Genesis(), types.Transactions{tx1, tx2})
	if err := l.AppendCommitted(first); err != nil {
		t.Fatalf("failed to append block: %v", err)
	}
	second := newChildBlock(first, types.Transactions{tx3})
	if err := l.AppendCommitted(second); err != nil {
		t.Fatalf("failed to append block: %v", err)
	}

	all := l.IterTransactions(nil)
	if len(all) != 3 {
		t.Fatalf("unfiltered walk: have %d, want 3", len(all))
	}
	// Block order first, then transaction order within the block.
	for i, want := range []string{tx1.ID(), tx2.ID(), tx3.ID()} {
		if all[i].ID() != want {
			t.Errorf("walk order at %d: have %s, want %s", i, all[i].ID(), want)
		}
	}
	fromU1 := l.IterTransactions(func(tx *types.Transaction) bool { return tx.Sender() == "u1" })
	if len(fromU1) != 2 {
		t.Errorf("filtered walk: have %d, want 2", len(fromU1))
	}
}

func TestLedgerChainEvents(t *testing.T) {
	l := NewLedger()
	defer l.Stop()

	chainCh := make(chan ChainEvent, 1)
	headCh := make(chan ChainHeadEvent, 1)
	l.SubscribeChainEvent(chainCh)
	l.SubscribeChainHeadEvent(headCh)

	block := newChildBlock(l.Genesis(), types.Transactions{newTransfer(t, "u1", "u2", 100)})
	if err := l.AppendCommitted(block); err != nil {
		t.Fatalf("failed to append block: %v", err)
	}

	select {
	case ev := <-chainCh:
		if ev.Hash != block.Hash() {
			t.Errorf("chain event hash: have %s, want %s", ev.Hash, block.Hash())
		}
	case <-time.After(time.Second):
		t.Fatal("chain event not delivered")
	}
	select {
	case ev := <-headCh:
		if ev.Block != block {
			t.Error("chain head event carries the wrong block")
		}
	case <-time.After(time.Second):
		t.Fatal("chain head event not delivered")
	}
}
