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
	"sync/atomic"
	"time"

	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/crypto"
	"github.com/google/uuid"
)

var (
	// ErrNegativeAmount is returned when constructing a transaction with an
	// amount below zero.
	ErrNegativeAmount = errors.New("negative transaction amount")

	// ErrZeroAmount is returned when a non-registration transaction carries
	// a zero amount.
	ErrZeroAmount = errors.New("zero amount on a value transaction")

	// ErrUnknownKind is returned for a transaction kind outside the closed
	// enumeration.
	ErrUnknownKind = errors.New("unknown transaction kind")

	// ErrAlreadySigned is returned when signing a transaction twice.
	ErrAlreadySigned = errors.New("transaction already signed")
)

// TxKind enumerates the ledger-changing intents a transaction can carry.
type TxKind uint8

const (
	KindRegistration TxKind = iota
	KindIssuance
	KindExchange
	KindOnlineTransfer
	KindOfflineTransfer
	KindContractCall
)

// String returns the canonical wire name of the kind.
func (k TxKind) String() string {
	switch k {
	case KindRegistration:
		return "REGISTRATION"
	case KindIssuance:
		return "ISSUANCE"
	case KindExchange:
		return "EXCHANGE"
	case KindOnlineTransfer:
		return "ONLINE_TRANSFER"
	case KindOfflineTransfer:
		return "OFFLINE_TRANSFER"
	case KindContractCall:
		return "CONTRACT_CALL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// ParseKind maps a canonical wire name back to its TxKind.
func ParseKind(s string) (TxKind, error) {
	switch s {
	case "REGISTRATION":
		return KindRegistration, nil
	case "ISSUANCE":
		return KindIssuance, nil
	case "EXCHANGE":
		return KindExchange, nil
	case "ONLINE_TRANSFER":
		return KindOnlineTransfer, nil
	case "OFFLINE_TRANSFER":
		return KindOfflineTransfer, nil
	case "CONTRACT_CALL":
		return KindContractCall, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// TxStatus tracks a transaction through its settlement lifecycle. It is
// bookkeeping around the immutable signed content, not part of it: neither
// the content hash nor the keyed tag covers the status.
type TxStatus uint32

const (
	StatusCreated TxStatus = iota
	StatusQueued
	StatusCommitted
	StatusConfirmed
	StatusRejected
)

// String returns the display name of the status.
func (s TxStatus) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusQueued:
		return "QUEUED"
	case StatusCommitted:
		return "COMMITTED"
	case StatusConfirmed:
		return "CONFIRMED"
	case StatusRejected:
		return "REJECTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(s))
	}
}

// txdata is the signed, hashed content of a transaction. It never changes
// after signing.
type txdata struct {
	ID        string
	Sender    string
	Recipient string
	Amount    Amount
	Kind      TxKind
	Timestamp int64 // unix nanoseconds at creation
	Metadata  map[string]string
	Offline   bool
	Signature string // hex keyed-hash tag, empty until signed
}

// Transaction is an immutable record of a ledger-changing intent. The
// lifecycle status and the lazily computed content hash live outside the
// signed data.
type Transaction struct {
	data   txdata
	status atomic.Uint32

	// caches
	hash atomic.Value
	size atomic.Value
}

// NewTransaction creates a transaction stamped with the current wall clock.
func NewTransaction(sender, recipient string, amount Amount, kind TxKind, metadata map[string]string) (*Transaction, error) {
	return NewTransactionAt(sender, recipient, amount, kind, metadata, time.Now().UnixNano())
}

// NewTransactionAt creates a transaction with an explicit creation timestamp
// in unix nanoseconds. Wallets pass their own clock through here.
func NewTransactionAt(sender, recipient string, amount Amount, kind TxKind, metadata map[string]string, timestamp int64) (*Transaction, error) {
	if kind > KindContractCall {
		return nil, ErrUnknownKind
	}
	if amount.IsNegative() {
		return nil, ErrNegativeAmount
	}
	if amount == 0 && kind != KindRegistration {
		return nil, ErrZeroAmount
	}
	data := txdata{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Kind:      kind,
		Timestamp: timestamp,
		Offline:   kind == KindOfflineTransfer,
	}
	if len(metadata) > 0 {
		data.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			data.Metadata[k] = v
		}
	}
	return &Transaction{data: data}, nil
}

// ID returns the unique transaction identifier assigned at creation.
func (tx *Transaction) ID() string { return tx.data.ID }

// Sender returns the debited account identifier.
func (tx *Transaction) Sender() string { return tx.data.Sender }

// Recipient returns the credited account identifier.
func (tx *Transaction) Recipient() string { return tx.data.Recipient }

// Amount returns the transferred value in minor units.
func (tx *Transaction) Amount() Amount { return tx.data.Amount }

// Kind returns the transaction kind.
func (tx *Transaction) Kind() TxKind { return tx.data.Kind }

// Timestamp returns the creation time in unix nanoseconds.
func (tx *Transaction) Timestamp() int64 { return tx.data.Timestamp }

// Offline reports whether this transfer was created while disconnected.
func (tx *Transaction) Offline() bool { return tx.data.Offline }

// Signature returns the hex keyed tag, or the empty string before signing.
func (tx *Transaction) Signature() string { return tx.data.Signature }

// Metadata returns a copy of the keyed metadata attached at creation.
func (tx *Transaction) Metadata() map[string]string {
	if tx.data.Metadata == nil {
		return nil
	}
	m := make(map[string]string, len(tx.data.Metadata))
	for k, v := range tx.data.Metadata {
		m[k] = v
	}
	return m
}

// Meta returns a single metadata value, with "" standing in for a missing
// key.
func (tx *Transaction) Meta(key string) string { return tx.data.Metadata[key] }

// Status returns the current lifecycle status.
func (tx *Transaction) Status() TxStatus {
	return TxStatus(tx.status.Load())
}

// SetStatus moves the transaction to the given lifecycle status.
func (tx *Transaction) SetStatus(s TxStatus) {
	tx.status.Store(uint32(s))
}

// SigningPayload is the byte string covered by the keyed tag:
// sender || recipient || amount || timestamp, with the amount in minor units
// and the timestamp in the canonical float second form.
func (tx *Transaction) SigningPayload() []byte {
	buf := make([]byte, 0, len(tx.data.Sender)+len(tx.data.Recipient)+32)
	buf = append(buf, tx.data.Sender...)
	buf = append(buf, tx.data.Recipient...)
	buf = strconv.AppendInt(buf, int64(tx.data.Amount), 10)
	buf = strconv.AppendFloat(buf, canonicalTime(tx.data.Timestamp), 'f', -1, 64)
	return buf
}

// Sign writes the keyed-hash tag under the given secret. Signing is a
// one-shot operation; the content is immutable afterwards.
func (tx *Transaction) Sign(secret []byte) error {
	if tx.data.Signature != "" {
		return ErrAlreadySigned
	}
	tx.data.Signature = crypto.SignMAC(secret, tx.SigningPayload())
	return nil
}

// Verify recomputes the keyed tag under the presumed matching secret and
// compares it to the stored one in constant time. An unsigned transaction
// never verifies.
func (tx *Transaction) Verify(secret []byte) bool {
	if tx.data.Signature == "" {
		return false
	}
	return crypto.VerifyMAC(secret, tx.SigningPayload(), tx.data.Signature)
}

// canonicalContent returns the key-sorted hash input: every content field
// except the signature.
func (tx *Transaction) canonicalContent() map[string]interface{} {
	return map[string]interface{}{
		"id":               tx.data.ID,
		"sender":           tx.data.Sender,
		"recipient":        tx.data.Recipient,
		"amount":           int64(tx.data.Amount),
		"transaction_type": tx.data.Kind.String(),
		"timestamp":        canonicalTime(tx.data.Timestamp),
		"metadata":         canonicalMetadata(tx.data.Metadata),
		"offline":          tx.data.Offline,
	}
}

// canonicalForm returns the block serialisation form of the transaction:
// sender, recipient, amount, transaction_type, timestamp and metadata.
func (tx *Transaction) canonicalForm() map[string]interface{} {
	return map[string]interface{}{
		"sender":           tx.data.Sender,
		"recipient":        tx.data.Recipient,
		"amount":           int64(tx.data.Amount),
		"transaction_type": tx.data.Kind.String(),
		"timestamp":        canonicalTime(tx.data.Timestamp),
		"metadata":         canonicalMetadata(tx.data.Metadata),
	}
}

// CanonicalJSON returns the canonical serialisation of the transaction as
// embedded in blocks.
func (tx *Transaction) CanonicalJSON() []byte {
	return canonicalJSON(tx.canonicalForm())
}

// Hash returns the SHA-256 content hash, computing it on first use and
// caching it thereafter.
func (tx *Transaction) Hash() common.Hash {
	if hash := tx.hash.Load(); hash != nil {
		return hash.(common.Hash)
	}
	v := crypto.Sha256Hash(canonicalJSON(tx.canonicalContent()))
	tx.hash.Store(v)
	return v
}

// Size returns the canonical encoded length of the transaction in bytes.
func (tx *Transaction) Size() int {
	if size := tx.size.Load(); size != nil {
		return size.(int)
	}
	n := len(tx.CanonicalJSON())
	tx.size.Store(n)
	return n
}

// Copy returns a deep copy carrying the same content, signature and status
// with fresh caches. Blocks store copies so later status moves on the
// caller's instance never leak into committed records.
func (tx *Transaction) Copy() *Transaction {
	cpy := &Transaction{data: tx.data}
	if tx.data.Metadata != nil {
		cpy.data.Metadata = make(map[string]string, len(tx.data.Metadata))
		for k, v := range tx.data.Metadata {
			cpy.data.Metadata[k] = v
		}
	}
	cpy.status.Store(tx.status.Load())
	return cpy
}

// String implements fmt.Stringer for log output.
func (tx *Transaction) String() string {
	return fmt.Sprintf("%s[%s %s->%s %s]", tx.data.Kind, shortID(tx.data.ID), tx.data.Sender, tx.data.Recipient, tx.data.Amount)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Transactions is a Transaction slice type for basic sorting and lookup.
type Transactions []*Transaction

// Len returns the length of s.
func (s Transactions) Len() int { return len(s) }

// IDs collects the transaction identifiers in order.
func (s Transactions) IDs() []string {
	ids := make([]string, len(s))
	for i, tx := range s {
		ids[i] = tx.ID()
	}
	return ids
}
