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

package bft

import (
	"sync"

	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/core/types"
	"github.com/cbdx/go-cbdx/log"
	"github.com/cbdx/go-cbdx/metrics"
)

// inboxSize bounds a replica's unprocessed message backlog. A round produces
// a handful of messages per replica, so the limit is generous.
const inboxSize = 128

var droppedMsgCounter = metrics.NewRegisteredCounter("bft/transport/dropped", nil)

// Message is implemented by everything exchanged between replicas. All
// messages carry immutable snapshots: a received block or transaction is
// never mutated by the recipient.
type Message interface {
	message()
}

// Proposal carries the leader's candidate block to the follower set.
type Proposal struct {
	View     uint64
	Proposer string
	Block    *types.Block
}

// Vote endorses one proposed block in one view. It is sent by a follower to
// the view's leader.
type Vote struct {
	View      uint64
	Height    uint64
	BlockHash common.Hash
	Replica   string
}

// Commit announces that a proposal gathered a vote quorum. It repeats the
// block so that a replica which missed the proposal can still commit.
type Commit struct {
	View      uint64
	Height    uint64
	BlockHash common.Hash
	Leader    string
	Block     *types.Block
}

// ViewChange aborts the current round and moves the replica set to a higher
// view with a fresh leader.
type ViewChange struct {
	View uint64
}

// proposeRequest hands a drafted batch to the current leader. It models the
// authority queue feeding the engine rather than replica-to-replica traffic.
// Height pins the batch to one ledger position: a leader whose tip has moved
// past it refuses to propose, so a batch can never commit twice even when a
// round decides at the same instant its timer fires.
type proposeRequest struct {
	View   uint64
	Height uint64
	Txs    types.Transactions
}

func (*Proposal) message()       {}
func (*Vote) message()           {}
func (*Commit) message()         {}
func (*ViewChange) message()     {}
func (*proposeRequest) message() {}

// Transport routes messages between replicas. The in-process implementation
// delivers over buffered channels; a networked deployment would substitute
// one that serialises messages onto the wire, and tests substitute
// instrumented transports that reorder deliveries.
//
// Authenticity of the sender id is the transport's concern: the replica
// logic trusts the Replica and Proposer fields of incoming messages.
type Transport interface {
	// Send delivers one message to one replica.
	Send(to string, msg Message)

	// Broadcast delivers one message to every replica except the sender.
	Broadcast(from string, msg Message)
}

// chanTransport delivers messages into the replica inbox channels. Delivery
// is non-blocking: a replica that stopped draining its inbox loses messages
// instead of wedging its peers.
type chanTransport struct {
	mu      sync.RWMutex
	inboxes map[string]chan Message
	order   []string

	logger log.Logger
}

func newChanTransport() *chanTransport {
	return &chanTransport{
		inboxes: make(map[string]chan Message),
		logger:  log.New("module", "bft"),
	}
}

// attach registers a replica inbox under its id.
func (t *chanTransport) attach(id string, inbox chan Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.inboxes[id]; !ok {
		t.order = append(t.order, id)
	}
	t.inboxes[id] = inbox
}

// Send implements Transport.
func (t *chanTransport) Send(to string, msg Message) {
	t.mu.RLock()
	inbox, ok := t.inboxes[to]
	t.mu.RUnlock()
	if !ok {
		t.logger.Warn("Message for unknown replica", "to", to)
		return
	}
	select {
	case inbox <- msg:
	default:
		droppedMsgCounter.Inc(1)
		t.logger.Warn("Replica inbox full, dropping message", "to", to)
	}
}

// Broadcast implements Transport.
func (t *chanTransport) Broadcast(from string, msg Message) {
	t.mu.RLock()
	order := t.order
	t.mu.RUnlock()

	for _, id := range order {
		if id == from {
			continue
		}
		t.Send(id, msg)
	}
}
