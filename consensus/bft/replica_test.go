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
	"errors"
	"sync"
	"testing"

	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/consensus"
	"github.com/cbdx/go-cbdx/core/types"
	"github.com/stretchr/testify/assert"
)

const testStamp = int64(1692000000123456789)

// recordTransport captures outgoing messages instead of delivering them, so
// a single replica's protocol reactions can be inspected synchronously.
type recordTransport struct {
	mu    sync.Mutex
	sends []Message
	casts []Message
}

func (t *recordTransport) Send(to string, msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sends = append(t.sends, msg)
}

func (t *recordTransport) Broadcast(from string, msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.casts = append(t.casts, msg)
}

func (t *recordTransport) sentVotes() []*Vote {
	t.mu.Lock()
	defer t.mu.Unlock()

	var votes []*Vote
	for _, msg := range t.sends {
		if v, ok := msg.(*Vote); ok {
			votes = append(votes, v)
		}
	}
	return votes
}

func (t *recordTransport) broadcasts() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	casts := make([]Message, len(t.casts))
	copy(casts, t.casts)
	return casts
}

func makeBatch(t *testing.T, n int) types.Transactions {
	t.Helper()

	txs := make(types.Transactions, 0, n)
	for i := 0; i < n; i++ {
		tx, err := types.NewTransactionAt("u1", "u2", types.Amount(100*(i+1)), types.KindOnlineTransfer, nil, testStamp+int64(i))
		if err != nil {
			t.Fatalf("failed to create transaction: %v", err)
		}
		txs = append(txs, tx)
	}
	return txs
}

// newBareReplica builds an unstarted replica whose handlers are invoked
// directly by the test.
func newBareReplica(id string, leader string, transport Transport, validator TxValidator) (*Replica, chan commitNotice) {
	noticec := make(chan commitNotice, 8)
	genesis := common.BytesToHash([]byte("genesis"))
	leaderFn := func(uint64) string { return leader }
	return newReplica(id, 3, genesis, leaderFn, transport, validator, noticec), noticec
}

func tryNotice(ch chan commitNotice) (commitNotice, bool) {
	select {
	case n := <-ch:
		return n, true
	default:
		return commitNotice{}, false
	}
}

func TestFollowerVotesForFirstProposal(t *testing.T) {
	assert := assert.New(t)

	transport := new(recordTransport)
	r, _ := newBareReplica("r1", "r0", transport, nil)

	_, genesis := r.Tip()
	block := types.NewBlock(1, genesis, "r0", testStamp, makeBatch(t, 2))
	r.handle(&Proposal{View: 0, Proposer: "r0", Block: block})

	votes := transport.sentVotes()
	if len(votes) != 1 {
		t.Fatalf("votes sent: have %d, want 1", len(votes))
	}
	assert.Equal(uint64(0), votes[0].View)
	assert.Equal(uint64(1), votes[0].Height)
	assert.Equal(block.Hash(), votes[0].BlockHash)
	assert.Equal("r1", votes[0].Replica)
	assert.Equal(block.Hash(), r.LockedHash())
}

func TestFollowerVotesOncePerView(t *testing.T) {
	assert := assert.New(t)

	transport := new(recordTransport)
	r, _ := newBareReplica("r1", "r0", transport, nil)

	_, genesis := r.Tip()
	blockA := types.NewBlock(1, genesis, "r0", testStamp, makeBatch(t, 1))
	blockB := types.NewBlock(1, genesis, "r0", testStamp+1, makeBatch(t, 2))

	r.handle(&Proposal{View: 0, Proposer: "r0", Block: blockA})
	// A re-delivery of the same proposal must not produce a second vote.
	r.handle(&Proposal{View: 0, Proposer: "r0", Block: blockA})
	// Neither must an equivocating proposal for a different block.
	r.handle(&Proposal{View: 0, Proposer: "r0", Block: blockB})

	assert.Len(transport.sentVotes(), 1)
	assert.Equal(blockA.Hash(), r.LockedHash())
}

func TestFollowerRejectsInvalidProposals(t *testing.T) {
	genesis := common.BytesToHash([]byte("genesis"))
	otherParent := common.BytesToHash([]byte("fork"))

	tests := []struct {
		name      string
		proposer  string
		block     func(t *testing.T) *types.Block
		validator TxValidator
	}{
		{
			name:     "non-leader proposer",
			proposer: "r2",
			block: func(t *testing.T) *types.Block {
				return types.NewBlock(1, genesis, "r2", testStamp, makeBatch(t, 1))
			},
		},
		{
			name:     "empty block",
			proposer: "r0",
			block: func(t *testing.T) *types.Block {
				return types.NewBlock(1, genesis, "r0", testStamp, nil)
			},
		},
		{
			name:     "height gap",
			proposer: "r0",
			block: func(t *testing.T) *types.Block {
				return types.NewBlock(2, genesis, "r0", testStamp, makeBatch(t, 1))
			},
		},
		{
			name:     "wrong parent",
			proposer: "r0",
			block: func(t *testing.T) *types.Block {
				return types.NewBlock(1, otherParent, "r0", testStamp, makeBatch(t, 1))
			},
		},
		{
			name:     "failing validator",
			proposer: "r0",
			block: func(t *testing.T) *types.Block {
				return types.NewBlock(1, genesis, "r0", testStamp, makeBatch(t, 1))
			},
			validator: func(types.Transactions) error { return errors.New("tainted batch") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := new(recordTransport)
			r, _ := newBareReplica("r1", "r0", transport, tt.validator)

			r.handle(&Proposal{View: 0, Proposer: tt.proposer, Block: tt.block(t)})

			if votes := transport.sentVotes(); len(votes) != 0 {
				t.Fatalf("votes sent: have %d, want 0", len(votes))
			}
			if r.LockedHash() != common.ZeroHash {
				t.Fatal("replica locked onto a rejected proposal")
			}
		})
	}
}

func TestLeaderCommitsOnQuorum(t *testing.T) {
	assert := assert.New(t)

	transport := new(recordTransport)
	r, noticec := newBareReplica("r0", "r0", transport, nil)

	r.handle(&proposeRequest{View: 0, Height: 1, Txs: makeBatch(t, 2)})

	casts := transport.broadcasts()
	if len(casts) != 1 {
		t.Fatalf("broadcasts after propose request: have %d, want 1", len(casts))
	}
	proposal, ok := casts[0].(*Proposal)
	if !ok {
		t.Fatalf("broadcast message: have %T, want *Proposal", casts[0])
	}
	hash := proposal.Block.Hash()
	assert.Equal("r0", proposal.Proposer)
	assert.Equal(uint64(1), proposal.Block.Height())

	// The leader's own vote is one short of the 2f+1 quorum of three.
	r.handle(&Vote{View: 0, Height: 1, BlockHash: hash, Replica: "r1"})
	assert.Len(transport.broadcasts(), 1)
	if _, ok := tryNotice(noticec); ok {
		t.Fatal("commit notice before quorum")
	}

	r.handle(&Vote{View: 0, Height: 1, BlockHash: hash, Replica: "r2"})

	casts = transport.broadcasts()
	if len(casts) != 2 {
		t.Fatalf("broadcasts after quorum: have %d, want 2", len(casts))
	}
	commit, ok := casts[1].(*Commit)
	if !ok {
		t.Fatalf("broadcast message: have %T, want *Commit", casts[1])
	}
	assert.Equal(hash, commit.BlockHash)
	assert.Equal("r0", commit.Leader)

	height, tip := r.Tip()
	assert.Equal(uint64(1), height)
	assert.Equal(hash, tip)
	assert.Equal(uint64(1), r.View())

	notice, ok := tryNotice(noticec)
	if !ok {
		t.Fatal("no commit notice after quorum")
	}
	assert.NoError(notice.Err)
	assert.Equal(hash, notice.Block.Hash())
	assert.Equal(uint64(0), notice.View)
}

func TestLeaderRefusesOccupiedHeight(t *testing.T) {
	transport := new(recordTransport)
	r, _ := newBareReplica("r0", "r0", transport, nil)

	r.handle(&proposeRequest{View: 0, Height: 1, Txs: makeBatch(t, 1)})
	hash := transport.broadcasts()[0].(*Proposal).Block.Hash()
	r.handle(&Vote{View: 0, Height: 1, BlockHash: hash, Replica: "r1"})
	r.handle(&Vote{View: 0, Height: 1, BlockHash: hash, Replica: "r2"})

	// Height 1 is committed; a retry round for the same batch must not build
	// a second block out of it.
	r.handle(&proposeRequest{View: 1, Height: 1, Txs: makeBatch(t, 1)})

	if casts := transport.broadcasts(); len(casts) != 2 {
		t.Fatalf("broadcasts: have %d, want 2 (proposal + commit)", len(casts))
	}
}

func TestFollowerAppliesCommit(t *testing.T) {
	assert := assert.New(t)

	transport := new(recordTransport)
	r, noticec := newBareReplica("r1", "r0", transport, nil)

	_, genesis := r.Tip()
	block := types.NewBlock(1, genesis, "r0", testStamp, makeBatch(t, 1))
	commit := &Commit{View: 0, Height: 1, BlockHash: block.Hash(), Leader: "r0", Block: block}

	r.handle(commit)

	height, tip := r.Tip()
	assert.Equal(uint64(1), height)
	assert.Equal(block.Hash(), tip)
	assert.Equal(uint64(1), r.View())

	notice, ok := tryNotice(noticec)
	if !ok {
		t.Fatal("no commit notice for applied commit")
	}
	assert.NoError(notice.Err)
	assert.Equal("r1", notice.Replica)

	// Re-delivery of an applied commit is dropped without a second notice.
	r.handle(commit)
	if _, ok := tryNotice(noticec); ok {
		t.Fatal("duplicate commit produced a second notice")
	}
	if height, _ := r.Tip(); height != 1 {
		t.Fatalf("tip height after duplicate commit: have %d, want 1", height)
	}
}

func TestFollowerReportsUnsafeCommits(t *testing.T) {
	assert := assert.New(t)

	transport := new(recordTransport)
	r, noticec := newBareReplica("r1", "r0", transport, nil)
	_, genesis := r.Tip()

	// A commit from anyone but the view leader is dropped outright.
	block := types.NewBlock(1, genesis, "r2", testStamp, makeBatch(t, 1))
	r.handle(&Commit{View: 0, Height: 1, BlockHash: block.Hash(), Leader: "r2", Block: block})
	if _, ok := tryNotice(noticec); ok {
		t.Fatal("commit from non-leader produced a notice")
	}
	if height, _ := r.Tip(); height != 0 {
		t.Fatalf("tip height: have %d, want 0", height)
	}

	// A commit whose hash does not match its block is a fatal violation.
	block = types.NewBlock(1, genesis, "r0", testStamp, makeBatch(t, 1))
	r.handle(&Commit{View: 0, Height: 1, BlockHash: common.BytesToHash([]byte("bogus")), Leader: "r0", Block: block})
	notice, ok := tryNotice(noticec)
	if !ok {
		t.Fatal("no notice for hash-mismatched commit")
	}
	assert.ErrorIs(notice.Err, consensus.ErrSafetyViolation)

	// So is a commit that skips a height or forks off the local tip.
	gap := types.NewBlock(3, block.Hash(), "r0", testStamp, makeBatch(t, 1))
	r.handle(&Commit{View: 0, Height: 3, BlockHash: gap.Hash(), Leader: "r0", Block: gap})
	notice, ok = tryNotice(noticec)
	if !ok {
		t.Fatal("no notice for non-extending commit")
	}
	assert.ErrorIs(notice.Err, consensus.ErrSafetyViolation)
}

func TestViewChangeReleasesLock(t *testing.T) {
	assert := assert.New(t)

	transport := new(recordTransport)
	r, _ := newBareReplica("r1", "r0", transport, nil)

	_, genesis := r.Tip()
	block := types.NewBlock(1, genesis, "r0", testStamp, makeBatch(t, 1))
	r.handle(&Proposal{View: 0, Proposer: "r0", Block: block})
	assert.Equal(block.Hash(), r.LockedHash())

	r.handle(&ViewChange{View: 5})
	assert.Equal(uint64(5), r.View())
	assert.Equal(common.ZeroHash, r.LockedHash())

	// Stale view changes are ignored.
	r.handle(&ViewChange{View: 3})
	assert.Equal(uint64(5), r.View())
}
