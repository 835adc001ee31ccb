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
	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/core/types"
)

// NewTxsEvent is posted when a batch of transactions enters the pending queue.
type NewTxsEvent struct{ Txs types.Transactions }

// ChainEvent is posted when a block has been appended to the ledger.
type ChainEvent struct {
	Block *types.Block
	Hash  common.Hash
}

// ChainHeadEvent is posted when the ledger tip advances.
type ChainHeadEvent struct{ Block *types.Block }

// SettledEvent is posted after the post-commit hooks of a block have run, with
// the per-transaction receipts produced by settlement.
type SettledEvent struct {
	Block    *types.Block
	Receipts types.Receipts
}
