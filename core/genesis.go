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

// DefaultGenesisBlock assembles the height-zero block every ledger starts
// from. The timestamp is pinned to zero and the proposer left empty so that
// independently constructed ledgers share the same genesis hash.
func DefaultGenesisBlock() *types.Block {
	return types.NewBlock(0, common.ZeroHash, "", 0, nil)
}
