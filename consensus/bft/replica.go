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
	"fmt"
	"sync"
	"time"

	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/consensus"
	"github.com/cbdx/go-cbdx/core/types"
	"github.com/cbdx/go-cbdx/log"
	"github.com/cbdx/go-cbdx/metrics"
)

var (
	proposalCounter   = metrics.NewRegisteredCounter("bft/proposals", nil)
	voteCounter       = metrics.NewRegisteredCounter("bft/votes", nil)
	commitCounter     = metrics.NewRegisteredCounter("bft/commits", nil)
	safetyCounter     = metrics.NewRegisteredCounter("bft/safety", nil)
	viewChangeCounter = metrics.NewRegisteredCounter("bft/viewchanges", nil)
)

// Role is a replica's part in the current view.
type Role uint8

const (
	// Follower waits for the view leader's proposal and votes on it.
	Follower Role = iota

	// Leader assembles the view's candidate block and tallies votes.
	Leader
)

// String returns the display name of the role.
func (r Role) String() string {
	if r == Leader {
		return "LEADER"
	}
	return "FOLLOWER"
}

// TxValidator checks the stateless validity of every transaction in a
// proposed batch. Replicas run it before voting so that a faulty leader
// cannot smuggle malformed transactions into a block. It must be
// deterministic: every honest replica has to reach the same verdict.
type TxValidator func(types.Transactions) error

// commitNotice reports one replica's local commit (or a fatal safety
// violation) to the engine supervising the round.
type commitNotice struct {
	Replica string
	View    uint64
	Block   *types.Block
	Err     error
}

// Replica is a single consensus participant. It owns its view state
// exclusively and interacts with its peers only through messages, so the
// in-process replica set behaves like a networked one.
//
// All state transitions happen on the replica's run loop; the mutex merely
// lets the engine and tests inspect a consistent snapshot.
type Replica struct {
	id        string
	quorum    int
	leaderFn  func(view uint64) string
	transport Transport
	validator TxValidator
	noticec   chan<- commitNotice

	inbox chan Message

	mu        sync.RWMutex
	view      uint64
	tipHeight uint64
	tipHash   common.Hash
	chain     []common.Hash // committed hashes by height, chain[0] = genesis
	locked    *types.Block  // block voted for in the current view, nil outside a round

	lastProposed common.Hash            // leader only: hash of the block proposed this view
	voted        map[uint64]common.Hash // hash voted per view, pruned on commit
	proposals    map[uint64]common.Hash // first proposal seen per view, pruned on commit
	pool         *VotePool

	logger  log.Logger
	quit    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// newReplica wires a replica into the transport. The genesis hash seeds its
// local chain view.
func newReplica(id string, quorum int, genesis common.Hash, leaderFn func(uint64) string, transport Transport, validator TxValidator, noticec chan<- commitNotice) *Replica {
	return &Replica{
		id:        id,
		quorum:    quorum,
		leaderFn:  leaderFn,
		transport: transport,
		validator: validator,
		noticec:   noticec,
		inbox:     make(chan Message, inboxSize),
		tipHash:   genesis,
		chain:     []common.Hash{genesis},
		voted:     make(map[uint64]common.Hash),
		proposals: make(map[uint64]common.Hash),
		pool:      NewVotePool(),
		logger:    log.New("module", "bft", "replica", id),
		quit:      make(chan struct{}),
	}
}

// start launches the replica's message loop.
func (r *Replica) start() {
	r.wg.Add(1)
	go r.run()
}

// stop halts the message loop. A stopped replica drops all traffic, which is
// how tests model a silent fault.
func (r *Replica) stop() {
	r.stopped.Do(func() { close(r.quit) })
	r.wg.Wait()
}

// ID returns the replica identifier.
func (r *Replica) ID() string { return r.id }

// View returns the replica's current view number.
func (r *Replica) View() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.view
}

// Role returns the replica's part in its current view.
func (r *Replica) Role() Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.leaderFn(r.view) == r.id {
		return Leader
	}
	return Follower
}

// Tip returns the height and hash of the replica's local chain view.
func (r *Replica) Tip() (uint64, common.Hash) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.tipHeight, r.tipHash
}

// ChainHashes returns the replica's committed block hashes indexed by height.
func (r *Replica) ChainHashes() []common.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hashes := make([]common.Hash, len(r.chain))
	copy(hashes, r.chain)
	return hashes
}

// LockedHash returns the hash of the block the replica has voted for in the
// current view, or the zero hash outside a round.
func (r *Replica) LockedHash() common.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.locked == nil {
		return common.ZeroHash
	}
	return r.locked.Hash()
}

func (r *Replica) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.quit:
			return
		case msg := <-r.inbox:
			r.handle(msg)
		}
	}
}

func (r *Replica) handle(msg Message) {
	switch m := msg.(type) {
	case *proposeRequest:
		r.handleProposeRequest(m)
	case *Proposal:
		r.handleProposal(m)
	case *Vote:
		r.handleVote(m)
	case *Commit:
		r.handleCommit(m)
	case *ViewChange:
		r.handleViewChange(m)
	default:
		r.logger.Warn("Unhandled consensus message", "type", fmt.Sprintf("%T", msg))
	}
}

// handleProposeRequest turns a drafted batch into a proposal. Only the
// current view's leader acts on it; anything else indicates the engine and
// the replica disagree about the view and the round is left to time out.
func (r *Replica) handleProposeRequest(req *proposeRequest) {
	r.mu.Lock()
	if req.View != r.view {
		r.mu.Unlock()
		r.logger.Debug("Dropping propose request for stale view", "requested", req.View, "current", r.view)
		return
	}
	if r.leaderFn(req.View) != r.id {
		r.mu.Unlock()
		r.logger.Warn("Propose request routed to a non-leader", "view", req.View)
		return
	}
	if req.Height != r.tipHeight+1 {
		// The previous round decided after its timer fired; this batch is
		// already committed and must not be built into a second block.
		r.mu.Unlock()
		r.logger.Warn("Dropping propose request for an occupied height", "view", req.View, "requested", req.Height, "tip", r.tipHeight)
		return
	}
	if len(req.Txs) == 0 {
		r.mu.Unlock()
		r.logger.Warn("Refusing to propose an empty block", "view", req.View)
		return
	}
	if r.validator != nil {
		if err := r.validator(req.Txs); err != nil {
			r.mu.Unlock()
			r.logger.Warn("Drafted batch failed validation", "view", req.View, "err", err)
			return
		}
	}
	block := types.NewBlock(r.tipHeight+1, r.tipHash, r.id, time.Now().UnixNano(), req.Txs)

	// The leader's own intent counts as the first vote towards quorum.
	r.lastProposed = block.Hash()
	r.locked = block
	r.voted[req.View] = block.Hash()
	view := r.view
	r.mu.Unlock()

	r.pool.Add(view, block.Hash(), r.id)
	proposalCounter.Inc(1)
	r.logger.Debug("Proposing block", "view", view, "height", block.Height(), "hash", block.Hash().TerminalString(), "txs", block.TxCount())

	r.transport.Broadcast(r.id, &Proposal{View: view, Proposer: r.id, Block: block})
}

// handleProposal applies the follower vote discipline: the first valid
// proposal of the view gets this replica's vote, every later one is dropped
// and a conflicting one from the same leader is a logged safety violation.
func (r *Replica) handleProposal(p *Proposal) {
	if p.Block == nil {
		r.logger.Warn("Dropping proposal without block", "view", p.View)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.View != r.view {
		r.logger.Debug("Dropping proposal for other view", "proposed", p.View, "current", r.view)
		return
	}
	if p.Proposer != r.leaderFn(p.View) {
		safetyCounter.Inc(1)
		r.logger.Error("Safety violation: proposal from non-leader", "view", p.View, "proposer", p.Proposer, "leader", r.leaderFn(p.View))
		return
	}
	if first, ok := r.proposals[p.View]; ok {
		if first != p.Block.Hash() {
			safetyCounter.Inc(1)
			r.logger.Error("Safety violation: conflicting proposals in one view", "view", p.View, "leader", p.Proposer,
				"first", first.TerminalString(), "second", p.Block.Hash().TerminalString())
		}
		return
	}
	r.proposals[p.View] = p.Block.Hash()

	if _, ok := r.voted[p.View]; ok {
		// Never vote twice in one view, whatever arrives.
		r.logger.Debug("Already voted in view", "view", p.View)
		return
	}
	if p.Block.TxCount() == 0 {
		r.logger.Warn("Refusing to vote for an empty block", "view", p.View, "hash", p.Block.Hash().TerminalString())
		return
	}
	if p.Block.Height() != r.tipHeight+1 || p.Block.ParentHash() != r.tipHash {
		r.logger.Debug("Proposal does not extend local tip", "view", p.View,
			"height", p.Block.Height(), "tip", r.tipHeight, "parent", p.Block.ParentHash().TerminalString(), "want", r.tipHash.TerminalString())
		return
	}
	if r.validator != nil {
		if err := r.validator(p.Block.Transactions()); err != nil {
			r.logger.Warn("Proposal failed transaction validation", "view", p.View, "hash", p.Block.Hash().TerminalString(), "err", err)
			return
		}
	}
	r.locked = p.Block
	r.voted[p.View] = p.Block.Hash()
	voteCounter.Inc(1)
	r.logger.Trace("Voting for proposal", "view", p.View, "height", p.Block.Height(), "hash", p.Block.Hash().TerminalString())

	r.transport.Send(p.Proposer, &Vote{View: p.View, Height: p.Block.Height(), BlockHash: p.Block.Hash(), Replica: r.id})
}

// handleVote tallies follower endorsements on the leader. Reaching quorum for
// the proposed block broadcasts the commit and applies it locally.
func (r *Replica) handleVote(v *Vote) {
	r.mu.Lock()
	if v.View != r.view || r.leaderFn(v.View) != r.id {
		r.mu.Unlock()
		r.logger.Trace("Dropping stale or misrouted vote", "view", v.View, "from", v.Replica)
		return
	}
	proposed, locked := r.lastProposed, r.locked
	r.mu.Unlock()

	count := r.pool.Add(v.View, v.BlockHash, v.Replica)
	r.logger.Trace("Collected vote", "view", v.View, "hash", v.BlockHash.TerminalString(), "from", v.Replica, "tally", count)

	if v.BlockHash != proposed || locked == nil || count < r.quorum {
		return
	}
	r.logger.Debug("Vote quorum reached", "view", v.View, "height", locked.Height(), "hash", proposed.TerminalString(), "votes", count)

	// Broadcast before the local commit so every follower has the commit in
	// its inbox before the engine can observe this replica's notice and move
	// the round forward.
	r.transport.Broadcast(r.id, &Commit{View: v.View, Height: locked.Height(), BlockHash: proposed, Leader: r.id, Block: locked})
	r.commit(locked, v.View)
}

// handleCommit applies a quorum-backed block on a follower. A commit that
// does not extend the local tip breaks chain safety and is reported as fatal.
func (r *Replica) handleCommit(c *Commit) {
	if c.Block == nil {
		r.logger.Warn("Dropping commit without block", "view", c.View)
		return
	}
	r.mu.RLock()
	tipHeight, tipHash := r.tipHeight, r.tipHash
	r.mu.RUnlock()

	if c.Block.Height() <= tipHeight {
		// Duplicate delivery of an already applied commit.
		return
	}
	if c.Leader != r.leaderFn(c.View) {
		safetyCounter.Inc(1)
		r.logger.Error("Safety violation: commit from non-leader", "view", c.View, "from", c.Leader)
		return
	}
	if c.BlockHash != c.Block.Hash() {
		safetyCounter.Inc(1)
		r.notify(commitNotice{Replica: r.id, View: c.View, Err: fmt.Errorf("%w: commit hash %s does not match block %s",
			consensus.ErrSafetyViolation, c.BlockHash.TerminalString(), c.Block.Hash().TerminalString())})
		return
	}
	if c.Block.Height() != tipHeight+1 || c.Block.ParentHash() != tipHash {
		safetyCounter.Inc(1)
		r.notify(commitNotice{Replica: r.id, View: c.View, Err: fmt.Errorf("%w: commit at height %d parent %s does not extend tip %d/%s",
			consensus.ErrSafetyViolation, c.Block.Height(), c.Block.ParentHash().TerminalString(), tipHeight, tipHash.TerminalString())})
		return
	}
	r.commit(c.Block, c.View)
}

// commit appends the block to the local chain view, releases the lock and
// moves to the next view.
func (r *Replica) commit(block *types.Block, view uint64) {
	r.mu.Lock()
	r.tipHeight = block.Height()
	r.tipHash = block.Hash()
	r.chain = append(r.chain, block.Hash())
	r.locked = nil
	r.lastProposed = common.ZeroHash
	if next := view + 1; next > r.view {
		r.view = next
	}
	for v := range r.voted {
		if v <= view {
			delete(r.voted, v)
		}
	}
	for v := range r.proposals {
		if v <= view {
			delete(r.proposals, v)
		}
	}
	newView := r.view
	r.mu.Unlock()

	r.pool.ClearBelow(newView)
	commitCounter.Inc(1)
	r.logger.Debug("Committed block", "height", block.Height(), "hash", block.Hash().TerminalString(), "view", view, "newView", newView)

	r.notify(commitNotice{Replica: r.id, View: view, Block: block})
}

// handleViewChange abandons the current round: the locked block is released
// and the replica adopts the higher view. Stale view changes are ignored.
func (r *Replica) handleViewChange(vc *ViewChange) {
	r.mu.Lock()
	if vc.View <= r.view {
		r.mu.Unlock()
		return
	}
	r.view = vc.View
	r.locked = nil
	r.lastProposed = common.ZeroHash
	role := Follower
	if r.leaderFn(r.view) == r.id {
		role = Leader
	}
	r.mu.Unlock()

	viewChangeCounter.Inc(1)
	r.logger.Debug("View changed", "view", vc.View, "role", role)
}

func (r *Replica) notify(n commitNotice) {
	select {
	case r.noticec <- n:
	default:
		r.logger.Warn("Commit notice channel full", "height", r.tipHeight)
	}
}
