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

import "github.com/cbdx/go-cbdx/core/types"

// EventKind classifies wallet lifecycle events.
type EventKind uint8

const (
	// EventDeposited fires when a settled credit reaches the online balance.
	EventDeposited EventKind = iota

	// EventWithdrawn fires when a settled debit leaves the online balance.
	EventWithdrawn

	// EventOfflineCreated fires when an offline transfer is created and
	// queued for reconciliation.
	EventOfflineCreated

	// EventOfflineConfirmed fires when a pending offline transfer settles.
	EventOfflineConfirmed

	// EventReconnected fires when the wallet comes back online and hands out
	// its pending transfers.
	EventReconnected
)

// Event is a wallet lifecycle notification delivered to subscribers. The
// wallet never calls into the settlement side: observers consume these
// instead.
type Event struct {
	Kind   EventKind
	Owner  string
	TxID   string
	Amount types.Amount
}
