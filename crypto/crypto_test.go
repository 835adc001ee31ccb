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

package crypto

import (
	"bytes"
	"testing"
)

// Checked against sha256sum of the empty input and "abc".
func TestSha256KnownVectors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}
	for _, tt := range tests {
		if have := Sha256Hash([]byte(tt.in)).Hex(); have != tt.want {
			t.Errorf("Sha256Hash(%q) = %s, want %s", tt.in, have, tt.want)
		}
	}
}

func TestSha256Chunked(t *testing.T) {
	whole := Sha256([]byte("sender+recipient+amount"))
	parts := Sha256([]byte("sender+"), []byte("recipient+"), []byte("amount"))
	if !bytes.Equal(whole, parts) {
		t.Error("chunked input hashed differently from contiguous input")
	}
}

func TestMACRoundTrip(t *testing.T) {
	secret := []byte("wallet secret")
	payload := []byte("u1u2100001692000000.0")

	tag := SignMAC(secret, payload)
	if !VerifyMAC(secret, payload, tag) {
		t.Fatal("tag does not verify under the signing secret")
	}
	if VerifyMAC([]byte("other secret"), payload, tag) {
		t.Error("tag verifies under a different secret")
	}
	if VerifyMAC(secret, append([]byte{'x'}, payload...), tag) {
		t.Error("tag verifies against a modified payload")
	}
	if VerifyMAC(secret, payload, "zz"+tag[2:]) {
		t.Error("malformed hex tag accepted")
	}
}

func TestDeriveSecretDeterministic(t *testing.T) {
	a, err := DeriveSecret("correct horse", []byte("owner-1"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := DeriveSecret("correct horse", []byte("owner-1"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("derivation is not deterministic")
	}
	c, _ := DeriveSecret("correct horse", []byte("owner-2"))
	if bytes.Equal(a, c) {
		t.Error("different salts derive the same secret")
	}
	if len(a) != secretLen {
		t.Errorf("derived secret length = %d, want %d", len(a), secretLen)
	}
}
