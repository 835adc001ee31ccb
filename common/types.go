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

// Package common contains shared helper types used across go-cbdx.
package common

import (
	"encoding/hex"
	"fmt"
)

// HashLength is the expected length of a content hash in bytes.
const HashLength = 32

// Hash represents the 32 byte SHA-256 digest of canonically serialised
// content (blocks, transactions).
type Hash [HashLength]byte

// ZeroHash is the parent hash of the genesis block.
var ZeroHash = Hash{}

// BytesToHash copies b into a Hash, left-truncating if b is too long and
// zero-padding on the left if it is too short.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash parses a hex string, with or without 0x prefix, into a Hash.
// Invalid input yields the zero hash.
func HexToHash(s string) Hash {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}
	}
	return BytesToHash(b)
}

// SetBytes sets the hash to the value of b. If b is larger than HashLength,
// b is cropped from the left.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > len(h) {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the lowercase hex encoding of the hash without a prefix,
// matching the canonical serialisation of parent links.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// TerminalString formats the hash for console logs: first and last three
// bytes with an ellipsis between.
func (h Hash) TerminalString() string {
	return fmt.Sprintf("%x…%x", h[:3], h[29:])
}

// IsZero reports whether the hash is all zeroes, the genesis parent value.
func (h Hash) IsZero() bool { return h == Hash{} }

// MarshalText implements encoding.TextMarshaler, emitting unprefixed hex.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, accepting unprefixed or
// 0x prefixed hex of exactly HashLength bytes.
func (h *Hash) UnmarshalText(input []byte) error {
	s := string(input)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s) != 2*HashLength {
		return fmt.Errorf("invalid hash length %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	h.SetBytes(b)
	return nil
}
