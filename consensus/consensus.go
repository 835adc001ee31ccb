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

// Package consensus defines the interface between the settlement authority
// and the agreement algorithm ordering its transactions.
package consensus

import "github.com/cbdx/go-cbdx/core/types"

// Engine orders drafted transaction batches into committed ledger blocks.
type Engine interface {
	// Start brings the replica set online. ProcessBatch fails until started.
	Start() error

	// Stop halts the replica set and releases the round timer.
	Stop() error

	// ProcessBatch drives consensus rounds until the batch commits into a
	// single block or the view budget is exhausted. The committed block has
	// already been appended to the ledger when ProcessBatch returns.
	ProcessBatch(txs types.Transactions) (*types.Block, error)

	// View returns the current view number of the replica set.
	View() uint64
}
