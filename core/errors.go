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

import "errors"

var (
	// ErrValidation is returned when a submission fails its type-specific
	// preconditions: unknown account, inactive intermediary, malformed or
	// undersized amount.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientFunds is returned when a balance check fails, either at
	// submission or inside a post-commit hook.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction is returned when a transaction id is already
	// present in the committed ledger.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrConsensusTimeout is returned when a consensus round aborts without
	// commit. Queued transactions survive the abort and the caller may retry.
	ErrConsensusTimeout = errors.New("consensus round timed out")

	// ErrContractMethodUnknown is returned when a contract call names a method
	// outside the closed builtin set.
	ErrContractMethodUnknown = errors.New("unknown contract method")

	// ErrLedgerConflict is returned on a parent or height mismatch while
	// appending a block. It indicates a bug or corrupted state and is treated
	// as fatal by the authority.
	ErrLedgerConflict = errors.New("ledger conflict")

	// ErrWalletExpired is returned when creating an offline transfer on a
	// wallet past its expiry time or explicitly deactivated.
	ErrWalletExpired = errors.New("wallet expired")
)

// ErrorKind maps an error to its stable kind tag, recorded in rejection
// receipts and surfaced through external interfaces. Errors outside the
// closed set map to INTERNAL.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrDuplicateTransaction):
		return "DUPLICATE_TRANSACTION"
	case errors.Is(err, ErrConsensusTimeout):
		return "CONSENSUS_TIMEOUT"
	case errors.Is(err, ErrContractMethodUnknown):
		return "CONTRACT_METHOD_UNKNOWN"
	case errors.Is(err, ErrLedgerConflict):
		return "LEDGER_CONFLICT"
	case errors.Is(err, ErrWalletExpired):
		return "WALLET_EXPIRED"
	default:
		return "INTERNAL"
	}
}
