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

package wallet

import (
	"fmt"

	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/core/types"
)

// RecordKind classifies wallet history entries.
type RecordKind uint8

const (
	// RecordDeposit is an inbound credit to the online balance.
	RecordDeposit RecordKind = iota

	// RecordWithdrawal is an outbound debit from the online balance,
	// including moves into the offline balance.
	RecordWithdrawal

	// RecordOfflineSubmitted is an offline transfer created while
	// disconnected, awaiting reconciliation.
	RecordOfflineSubmitted

	// RecordConfirmed is a pending offline transfer settled by a committed
	// block.
	RecordConfirmed
)

// String returns the canonical history name of the kind.
func (k RecordKind) String() string {
	switch k {
	case RecordDeposit:
		return "deposit"
	case RecordWithdrawal:
		return "withdrawal"
	case RecordOfflineSubmitted:
		return "offline_submitted"
	case RecordConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Record is one append-only wallet history entry.
type Record struct {
	Kind         RecordKind
	Amount       types.Amount
	Counterparty string
	TxID         string      // empty for local balance moves
	BlockHash    common.Hash // zero until anchored to a commit
	Time         int64       // unix nanoseconds
}

// String implements fmt.Stringer for log and report output.
func (r Record) String() string {
	if r.BlockHash == common.ZeroHash {
		return fmt.Sprintf("%s %s %s", r.Kind, r.Amount, r.Counterparty)
	}
	return fmt.Sprintf("%s %s %s block=%s", r.Kind, r.Amount, r.Counterparty, r.BlockHash.TerminalString())
}
