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
	"fmt"
	"sync/atomic"

	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/crypto"
)

// Block is an ordered, sealed batch of transactions extending the ledger by
// one height. Blocks are immutable: they carry deep copies of the proposed
// transactions, and their hash is computed lazily over the canonical
// serialisation and cached.
type Block struct {
	height     uint64
	parentHash common.Hash
	timestamp  int64 // unix nanoseconds at sealing
	proposer   string
	txs        Transactions

	// caches
	hash atomic.Value
	size atomic.Value
}

// NewBlock seals a block over copies of the given transactions. The caller's
// instances remain untouched by later lifecycle changes inside the block.
func NewBlock(height uint64, parentHash common.Hash, proposer string, timestamp int64, txs Transactions) *Block {
	b := &Block{
		height:     height,
		parentHash: parentHash,
		timestamp:  timestamp,
		proposer:   proposer,
		txs:        make(Transactions, len(txs)),
	}
	for i, tx := range txs {
		b.txs[i] = tx.Copy()
	}
	return b
}

// Height returns the block's position in the chain; genesis is 0.
func (b *Block) Height() uint64 { return b.height }

// ParentHash returns the content hash of the preceding block, all zeroes for
// genesis.
func (b *Block) ParentHash() common.Hash { return b.parentHash }

// Timestamp returns the sealing time in unix nanoseconds.
func (b *Block) Timestamp() int64 { return b.timestamp }

// Proposer returns the replica id that assembled the block, empty for
// genesis.
func (b *Block) Proposer() string { return b.proposer }

// Transactions returns the sealed transaction records. The slice is fresh on
// every call; the records themselves are shared.
func (b *Block) Transactions() Transactions {
	txs := make(Transactions, len(b.txs))
	copy(txs, b.txs)
	return txs
}

// TxCount returns the number of sealed transactions.
func (b *Block) TxCount() int { return len(b.txs) }

// Transaction returns the sealed record with the given id, or nil.
func (b *Block) Transaction(id string) *Transaction {
	for _, tx := range b.txs {
		if tx.ID() == id {
			return tx
		}
	}
	return nil
}

// canonicalForm assembles the hash input: index, parent_hash, timestamp and
// the transactions in their canonical forms, keys sorted by the encoder.
func (b *Block) canonicalForm() map[string]interface{} {
	txs := make([]map[string]interface{}, len(b.txs))
	for i, tx := range b.txs {
		txs[i] = tx.canonicalForm()
	}
	return map[string]interface{}{
		"index":        b.height,
		"parent_hash":  b.parentHash.Hex(),
		"timestamp":    canonicalTime(b.timestamp),
		"transactions": txs,
	}
}

// CanonicalJSON returns the canonical serialisation the block hash is
// computed over.
func (b *Block) CanonicalJSON() []byte {
	return canonicalJSON(b.canonicalForm())
}

// Hash returns the block's SHA-256 content hash, computed on first use and
// cached.
func (b *Block) Hash() common.Hash {
	if hash := b.hash.Load(); hash != nil {
		return hash.(common.Hash)
	}
	v := crypto.Sha256Hash(b.CanonicalJSON())
	b.hash.Store(v)
	return v
}

// Size returns the canonical encoded length of the block in bytes.
func (b *Block) Size() int {
	if size := b.size.Load(); size != nil {
		return size.(int)
	}
	n := len(b.CanonicalJSON())
	b.size.Store(n)
	return n
}

// String implements fmt.Stringer for log output.
func (b *Block) String() string {
	return fmt.Sprintf("#%d[%s txs=%d]", b.height, b.Hash().TerminalString(), len(b.txs))
}

// Blocks is a Block slice type.
type Blocks []*Block
