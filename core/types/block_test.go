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

package types

import (
	"strings"
	"testing"

	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/crypto"
)

func newTestBlock(t *testing.T, height uint64, parent common.Hash, n int) *Block {
	t.Helper()
	txs := make(Transactions, n)
	for i := range txs {
		tx, err := NewTransactionAt("u1", "u2", Amount(100+i), KindOnlineTransfer, nil, testStamp+int64(i))
		if err != nil {
			t.Fatal(err)
		}
		txs[i] = tx
	}
	return NewBlock(height, parent, "r0", testStamp, txs)
}

func TestBlockHashStable(t *testing.T) {
	b := newTestBlock(t, 1, common.HexToHash(strings.Repeat("aa", 32)), 3)

	h := b.Hash()
	if h != b.Hash() {
		t.Fatal("hash not stable")
	}
	if recomputed := crypto.Sha256Hash(b.CanonicalJSON()); recomputed != h {
		t.Fatal("hash does not match recomputed canonical digest")
	}
}

func TestBlockCanonicalKeyOrder(t *testing.T) {
	b := newTestBlock(t, 7, common.ZeroHash, 1)
	enc := string(b.CanonicalJSON())

	if !strings.HasPrefix(enc, `{"index":7,"parent_hash":"`+strings.Repeat("0", 64)+`","timestamp":`) {
		t.Errorf("canonical block keys not sorted: %.120s", enc)
	}
	if !strings.Contains(enc, `"transactions":[{"amount":`) {
		t.Errorf("transactions not in canonical form: %.120s", enc)
	}
}

func TestBlockSealsCopies(t *testing.T) {
	tx, err := NewTransactionAt("u1", "u2", 300, KindOnlineTransfer, nil, testStamp)
	if err != nil {
		t.Fatal(err)
	}
	b := NewBlock(1, common.ZeroHash, "r0", testStamp, Transactions{tx})

	// Status moves on the caller's instance must not reach the sealed record.
	tx.SetStatus(StatusRejected)
	if got := b.Transactions()[0].Status(); got != StatusCreated {
		t.Errorf("sealed record status = %v, want CREATED", got)
	}
	if b.Transaction(tx.ID()) == nil {
		t.Error("sealed record not found by id")
	}
	if b.Transaction("no-such-id") != nil {
		t.Error("lookup invented a record")
	}
}

func TestBlockHashCoversTransactions(t *testing.T) {
	parent := common.HexToHash(strings.Repeat("bb", 32))
	b1 := newTestBlock(t, 2, parent, 2)
	b2 := newTestBlock(t, 2, parent, 3)
	if b1.Hash() == b2.Hash() {
		t.Error("blocks with different transaction sets share a hash")
	}

	b3 := newTestBlock(t, 3, parent, 2)
	if b1.Hash() == b3.Hash() {
		t.Error("blocks at different heights share a hash")
	}
}
