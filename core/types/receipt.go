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

import "github.com/cbdx/go-cbdx/common"

const (
	// ReceiptStatusRejected marks a transaction whose post-commit
	// application failed; its effects were rolled back while the enclosing
	// block stayed committed.
	ReceiptStatusRejected = uint64(0)

	// ReceiptStatusApplied marks a transaction whose effects are durable.
	ReceiptStatusApplied = uint64(1)
)

// Receipt records the post-commit outcome of one transaction inside a
// committed block. Receipts are produced deterministically on every replica,
// so a rejection is part of consensus state rather than a local error.
type Receipt struct {
	TxID        string      `json:"tx_id"`
	TxHash      common.Hash `json:"tx_hash"`
	Status      uint64      `json:"status"`
	Reason      string      `json:"reason,omitempty"` // error kind when rejected
	BlockHash   common.Hash `json:"block_hash"`
	BlockHeight uint64      `json:"block_height"`
	Index       uint        `json:"index"` // position inside the block
}

// Applied reports whether the transaction's effects are durable.
func (r *Receipt) Applied() bool { return r.Status == ReceiptStatusApplied }

// Receipts is a Receipt slice type, ordered like the block's transactions.
type Receipts []*Receipt

// Rejected counts the receipts in the rejected state.
func (rs Receipts) Rejected() int {
	n := 0
	for _, r := range rs {
		if r.Status == ReceiptStatusRejected {
			n++
		}
	}
	return n
}

// ByTxID returns the receipt for the given transaction id, or nil.
func (rs Receipts) ByTxID(id string) *Receipt {
	for _, r := range rs {
		if r.TxID == id {
			return r
		}
	}
	return nil
}
