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

package consensus

import "errors"

var (
	// ErrStopped is returned when a batch is handed to an engine that has not
	// been started or has been stopped.
	ErrStopped = errors.New("consensus engine stopped")

	// ErrEmptyBatch is returned when a proposal batch contains no
	// transactions. Committing a block with zero transactions wastes a
	// height and is forbidden.
	ErrEmptyBatch = errors.New("empty proposal batch")

	// ErrSafetyViolation is returned when a replica observes conflicting
	// commits or proposals that break the agreement invariants. It is fatal:
	// the authority halts rather than settle on a forked chain.
	ErrSafetyViolation = errors.New("consensus safety violation")
)
