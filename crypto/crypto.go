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

// Package crypto holds the content hashing and keyed tag primitives used by
// the transaction model. The tag scheme is a keyed-hash MAC, not a public-key
// signature: verification requires the presumed signer's secret.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/cbdx/go-cbdx/common"
	"golang.org/x/crypto/scrypt"
)

// Sha256 calculates the SHA-256 digest of the input data.
func Sha256(data ...[]byte) []byte {
	d := sha256.New()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Sha256Hash calculates the SHA-256 digest of the input data and returns it
// as a Hash.
func Sha256Hash(data ...[]byte) (h common.Hash) {
	d := sha256.New()
	for _, b := range data {
		d.Write(b)
	}
	d.Sum(h[:0])
	return h
}

// SignMAC computes the keyed-hash tag of payload under secret, returned as
// lowercase hex. The tag binds the payload to the secret holder.
func SignMAC(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyMAC recomputes the tag of payload under secret and compares it to
// the presented hex tag in constant time.
func VerifyMAC(secret, payload []byte, tag string) bool {
	presented, err := hex.DecodeString(tag)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), presented)
}

// Scrypt parameters for wallet secret derivation. LightScryptN/P mirror the
// interactive profile; derivation is not a hot path.
const (
	LightScryptN = 1 << 12
	LightScryptR = 8
	LightScryptP = 6
	secretLen    = 32
)

// DeriveSecret stretches a wallet passphrase and owner-scoped salt into the
// keyed-tag secret used for signing that wallet's transactions.
func DeriveSecret(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, LightScryptN, LightScryptR, LightScryptP, secretLen)
}
