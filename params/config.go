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

package params

import "time"

// Monetary constants. Balances and transaction amounts are carried as fixed
// point integers in minor units; AmountScale converts to major units.
const (
	AmountScale    = 100 // minor units per major unit, two decimals
	AmountDecimals = 2

	// AuthorityID names the settlement authority in issuance transactions.
	AuthorityID = "AUTHORITY"
)

// Consensus defaults. The replica set is fixed at construction and must hold
// 3f+1 members for some f >= 1.
const (
	DefaultReplicaCount = 4
	DefaultRoundTimeout = 5 * time.Second
	DefaultBlockLimit   = 1000 // transactions per proposed block
)

// Wallet protocol defaults.
const (
	DefaultWalletExpiry = 14 * 24 * time.Hour
	DefaultWalletCap    = 1_000_000 // minor units held offline at most
	DefaultMinAmount    = 1         // minor units, 0.01 in major units
)

// Bookkeeping defaults recovered from the reference deployment profile.
const (
	// InitialOwnerCash is the non-digital balance granted to a newly
	// registered owner, in minor units.
	InitialOwnerCash = 10_000 * AmountScale

	// InitialAuthorityReserve is the authority's issuable digital reserve,
	// in minor units.
	InitialAuthorityReserve = 1_000_000_000_000

	// DefaultIntermediaryReserve is the non-digital reserve granted to a
	// newly registered intermediary, in minor units. Issued digital currency
	// is paid for out of this reserve.
	DefaultIntermediaryReserve = 10_000_000
)

// QuorumFor returns the vote quorum 2f+1 for a replica set of size n = 3f+1.
// It returns 0 when n is not a valid BFT set size.
func QuorumFor(n int) int {
	if n < 4 || (n-1)%3 != 0 {
		return 0
	}
	f := (n - 1) / 3
	return 2*f + 1
}
