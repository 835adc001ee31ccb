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
	"bytes"
	"encoding/json"
)

// Canonical serialisation is the hash input format shared by every replica:
// UTF-8 JSON with keys sorted ascending, no insignificant whitespace and no
// HTML escaping. encoding/json already sorts map keys; the encoder below
// pins down the whitespace and escaping rules.
func canonicalJSON(v interface{}) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// All canonical inputs are maps of plain strings and numbers
		// assembled in this package; a marshal failure is a programming
		// error, not an input error.
		panic("types: canonical encoding failed: " + err.Error())
	}
	// Encode appends a newline that is not part of the canonical form.
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// canonicalTime converts a unix-nanosecond timestamp to the float second
// representation used in the canonical form. The conversion is deterministic
// for any given input, which is all hashing requires.
func canonicalTime(nanos int64) float64 {
	return float64(nanos) / 1e9
}

// canonicalMetadata normalises a metadata map for hashing: nil maps encode
// as the empty object, never null.
func canonicalMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
