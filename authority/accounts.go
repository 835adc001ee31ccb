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

package authority

import (
	"fmt"
	"time"

	"github.com/cbdx/go-cbdx/core"
	"github.com/cbdx/go-cbdx/core/types"
	"github.com/cbdx/go-cbdx/wallet"
	"github.com/google/uuid"
)

// Category classifies a registered wallet owner.
type Category uint8

const (
	CategoryIndividual Category = iota
	CategoryLegalEntity
)

// String returns the canonical wire name of the category.
func (c Category) String() string {
	switch c {
	case CategoryIndividual:
		return "INDIVIDUAL"
	case CategoryLegalEntity:
		return "LEGAL_ENTITY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}
}

// ParseCategory maps a canonical wire name back to its Category.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "INDIVIDUAL":
		return CategoryIndividual, nil
	case "LEGAL_ENTITY":
		return CategoryLegalEntity, nil
	default:
		return 0, fmt.Errorf("%w: unknown owner category %q", core.ErrValidation, s)
	}
}

// IntermediaryStatus tracks an intermediary through its participation
// lifecycle. Only ACTIVE intermediaries may receive emissions or perform
// exchanges.
type IntermediaryStatus uint8

const (
	StatusPending IntermediaryStatus = iota
	StatusActive
	StatusSuspended
)

// String returns the canonical wire name of the status.
func (s IntermediaryStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusActive:
		return "ACTIVE"
	case StatusSuspended:
		return "SUSPENDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// ParseIntermediaryStatus maps a canonical wire name back to its status.
func ParseIntermediaryStatus(s string) (IntermediaryStatus, error) {
	switch s {
	case "PENDING":
		return StatusPending, nil
	case "ACTIVE":
		return StatusActive, nil
	case "SUSPENDED":
		return StatusSuspended, nil
	default:
		return 0, fmt.Errorf("%w: unknown intermediary status %q", core.ErrValidation, s)
	}
}

// EmissionState tracks an emission request through the operator decision.
type EmissionState uint8

const (
	EmissionRequested EmissionState = iota
	EmissionApproved
	EmissionRejected
)

// String returns the display name of the state.
func (s EmissionState) String() string {
	switch s {
	case EmissionRequested:
		return "REQUESTED"
	case EmissionApproved:
		return "APPROVED"
	case EmissionRejected:
		return "REJECTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// owner is the authority's registry record for one wallet owner. The
// non-digital cash balance lives here; digital balances live in the wallet
// once one is opened.
type owner struct {
	id        string
	category  Category
	cash      types.Amount
	wallet    *wallet.Wallet // nil until OpenWallet
	createdAt time.Time
}

// intermediary is the registry record for one commercial intermediary.
// Digital currency is issued against the non-digital reserve, so the two
// balances move in opposite directions on emission and exchange.
type intermediary struct {
	id           string
	name         string
	routing      string
	status       IntermediaryStatus
	digital      types.Amount
	nonDigital   types.Amount
	registeredAt time.Time
}

// emission is one intermediary funding request awaiting or past the
// operator's decision. txID links an approved request to its ISSUANCE
// transaction.
type emission struct {
	id           string
	intermediary string
	amount       types.Amount
	purpose      string
	state        EmissionState
	txID         string
	createdAt    time.Time
	decidedAt    time.Time
}

// OwnerInfo is a point-in-time copy of an owner record, safe to retain.
type OwnerInfo struct {
	ID             string
	Category       Category
	Cash           types.Amount
	Online         types.Amount
	Offline        types.Amount
	WalletOpen     bool
	OfflineEnabled bool
	CreatedAt      time.Time
}

// IntermediaryInfo is a point-in-time copy of an intermediary record.
type IntermediaryInfo struct {
	ID           string
	Name         string
	RoutingCode  string
	Status       IntermediaryStatus
	Digital      types.Amount
	NonDigital   types.Amount
	RegisteredAt time.Time
}

// EmissionInfo is a point-in-time copy of an emission request.
type EmissionInfo struct {
	ID           string
	Intermediary string
	Amount       types.Amount
	Purpose      string
	State        EmissionState
	TxID         string
	CreatedAt    time.Time
	DecidedAt    time.Time
}

func (o *owner) info() OwnerInfo {
	inf := OwnerInfo{
		ID:        o.id,
		Category:  o.category,
		Cash:      o.cash,
		CreatedAt: o.createdAt,
	}
	if o.wallet != nil {
		inf.WalletOpen = true
		inf.Online = o.wallet.OnlineBalance()
		inf.Offline = o.wallet.OfflineBalance()
		inf.OfflineEnabled = o.wallet.OfflineEnabled()
	}
	return inf
}

func (i *intermediary) info() IntermediaryInfo {
	return IntermediaryInfo{
		ID:           i.id,
		Name:         i.name,
		RoutingCode:  i.routing,
		Status:       i.status,
		Digital:      i.digital,
		NonDigital:   i.nonDigital,
		RegisteredAt: i.registeredAt,
	}
}

func (e *emission) info() EmissionInfo {
	return EmissionInfo{
		ID:           e.id,
		Intermediary: e.intermediary,
		Amount:       e.amount,
		Purpose:      e.purpose,
		State:        e.state,
		TxID:         e.txID,
		CreatedAt:    e.createdAt,
		DecidedAt:    e.decidedAt,
	}
}

// newID mints a prefixed registry identifier, e.g. "USER-1b9d6bcd".
func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
