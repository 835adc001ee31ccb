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

// Package contracts implements the authority-owned contract registry. A
// contract is keyed integer storage plus an event log; the method set is a
// closed builtin dispatch, and all mutation happens from the settlement hooks
// of committed CONTRACT_CALL transactions.
package contracts

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/cbdx/go-cbdx/core"
	"github.com/cbdx/go-cbdx/log"
	"github.com/cbdx/go-cbdx/metrics"
	"golang.org/x/exp/slices"
)

var (
	callCounter     = metrics.NewRegisteredCounter("contracts/calls", nil)
	rejectedCounter = metrics.NewRegisteredCounter("contracts/rejected", nil)
	eventCounter    = metrics.NewRegisteredCounter("contracts/events", nil)
)

// Builtin method names. Anything else rejects the calling transaction.
const (
	MethodBalanceOf = "balance_of"
	MethodTransfer  = "transfer"
	MethodEmit      = "emit"
)

// Argument keys of the builtin methods, carried in transaction metadata.
const (
	ArgAccount = "account"
	ArgFrom    = "from"
	ArgTo      = "to"
	ArgAmount  = "amount"
	ArgType    = "type"
	ArgPayload = "payload"
)

// Event is one entry of a contract's append-only event log.
type Event struct {
	Type      string
	Payload   string
	Contract  string
	Timestamp int64 // unix nanoseconds of the committing settlement
}

// contract is the registry-internal state of one contract. All access runs
// under the registry lock.
type contract struct {
	creator string
	storage map[string]int64
	events  []Event
}

// Registry holds all registered contracts. It is the single writer of their
// storage: settlement hooks call into it in block order, reads may come from
// anywhere.
type Registry struct {
	mu        sync.RWMutex
	contracts map[string]*contract

	logger log.Logger
}

// NewRegistry creates an empty contract registry.
func NewRegistry() *Registry {
	return &Registry{
		contracts: make(map[string]*contract),
		logger:    log.New("module", "contracts"),
	}
}

// Create registers a contract under the given id with a copy of the initial
// storage. Ids are caller-chosen and must be unique.
func (r *Registry) Create(id, creator string, storage map[string]int64) error {
	if id == "" {
		return fmt.Errorf("%w: empty contract id", core.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.contracts[id]; ok {
		return fmt.Errorf("%w: contract %s already registered", core.ErrValidation, id)
	}
	c := &contract{creator: creator, storage: make(map[string]int64, len(storage))}
	for k, v := range storage {
		c.storage[k] = v
	}
	r.contracts[id] = c

	r.logger.Info("Registered contract", "id", id, "creator", creator, "keys", len(storage))
	return nil
}

// Exists reports whether a contract id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.contracts[id]
	return ok
}

// Creator returns the registering account of a contract.
func (r *Registry) Creator(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.contracts[id]
	if !ok {
		return "", fmt.Errorf("%w: unknown contract %s", core.ErrValidation, id)
	}
	return c.creator, nil
}

// Balance returns the storage value under the given key, with absent keys
// reading as zero.
func (r *Registry) Balance(id, key string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.contracts[id]
	if !ok {
		return 0, fmt.Errorf("%w: unknown contract %s", core.ErrValidation, id)
	}
	return c.storage[key], nil
}

// Storage returns a copy of a contract's keyed storage.
func (r *Registry) Storage(id string) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown contract %s", core.ErrValidation, id)
	}
	storage := make(map[string]int64, len(c.storage))
	for k, v := range c.storage {
		storage[k] = v
	}
	return storage, nil
}

// Events returns a copy of a contract's event log, oldest first.
func (r *Registry) Events(id string) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown contract %s", core.ErrValidation, id)
	}
	events := make([]Event, len(c.events))
	copy(events, c.events)
	return events, nil
}

// IDs returns the registered contract ids in lexical order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.contracts))
	for id := range r.contracts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered contracts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.contracts)
}

// Call dispatches one builtin method against a contract. The timestamp is
// the commit time of the calling transaction and anchors emitted events.
// A failed call leaves the contract untouched; the caller turns the error
// into a rejection receipt.
func (r *Registry) Call(id, method string, args map[string]string, at int64) (string, error) {
	callCounter.Inc(1)

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.contracts[id]
	if !ok {
		rejectedCounter.Inc(1)
		return "", fmt.Errorf("%w: unknown contract %s", core.ErrValidation, id)
	}
	switch method {
	case MethodBalanceOf:
		return strconv.FormatInt(c.storage[args[ArgAccount]], 10), nil

	case MethodTransfer:
		amount, err := strconv.ParseInt(args[ArgAmount], 10, 64)
		if err != nil || amount <= 0 {
			rejectedCounter.Inc(1)
			return "", fmt.Errorf("%w: bad transfer amount %q", core.ErrValidation, args[ArgAmount])
		}
		from, to := args[ArgFrom], args[ArgTo]
		if from == "" || to == "" {
			rejectedCounter.Inc(1)
			return "", fmt.Errorf("%w: transfer needs from and to accounts", core.ErrValidation)
		}
		if c.storage[from] < amount {
			rejectedCounter.Inc(1)
			return "", fmt.Errorf("%w: %s holds %d, transfer of %d", core.ErrInsufficientFunds, from, c.storage[from], amount)
		}
		c.storage[from] -= amount
		c.storage[to] += amount
		r.logger.Debug("Contract transfer", "contract", id, "from", from, "to", to, "amount", amount)
		return strconv.FormatInt(c.storage[from], 10), nil

	case MethodEmit:
		c.events = append(c.events, Event{
			Type:      args[ArgType],
			Payload:   args[ArgPayload],
			Contract:  id,
			Timestamp: at,
		})
		eventCounter.Inc(1)
		r.logger.Debug("Contract event emitted", "contract", id, "type", args[ArgType], "events", len(c.events))
		return strconv.Itoa(len(c.events)), nil

	default:
		rejectedCounter.Inc(1)
		return "", fmt.Errorf("%w: %s.%s", core.ErrContractMethodUnknown, id, method)
	}
}
