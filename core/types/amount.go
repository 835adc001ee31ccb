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

package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cbdx/go-cbdx/params"
)

// Amount is a monetary value in fixed-point minor units (two decimals).
// All balances and transaction values in the system are Amounts; floating
// point never touches money.
type Amount int64

// ErrBadAmount is returned when a decimal string cannot be parsed into an
// Amount.
var ErrBadAmount = errors.New("malformed decimal amount")

// ParseAmount converts a major-unit decimal string such as "123.45" or "10"
// into minor units. At most two fractional digits are accepted.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrBadAmount
	}
	neg := false
	if s[0] == '-' {
		neg, s = true, s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > params.AmountDecimals {
		return 0, fmt.Errorf("%w: more than %d fractional digits in %q", ErrBadAmount, params.AmountDecimals, s)
	}
	for len(frac) < params.AmountDecimals {
		frac += "0"
	}
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	minor, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	v := major*params.AmountScale + minor
	if neg {
		v = -v
	}
	return Amount(v), nil
}

// MustParseAmount is ParseAmount for tests and constants; it panics on error.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the amount in major units with two decimals, e.g. "123.45".
func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/params.AmountScale, v%params.AmountScale)
}

// Minor returns the raw minor-unit value.
func (a Amount) Minor() int64 { return int64(a) }

// IsNegative reports whether the amount is below zero.
func (a Amount) IsNegative() bool { return a < 0 }
