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
	mapset "github.com/deckarep/golang-set/v2"
)

// VotePool tallies votes per view and block hash. Only distinct voters count
// towards a quorum: a replica re-sending its vote never inflates the tally.
type VotePool struct {
	mu    sync.RWMutex
	votes map[uint64]map[common.Hash]mapset.Set[string]
}

// NewVotePool creates an empty vote pool.
func NewVotePool() *VotePool {
	return &VotePool{
		votes: make(map[uint64]map[common.Hash]mapset.Set[string]),
	}
}

// Add records one replica's vote for a block hash in a view and returns the
// number of distinct voters for that hash afterwards.
func (p *VotePool) Add(view uint64, hash common.Hash, replica string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	byHash, ok := p.votes[view]
	if !ok {
		byHash = make(map[common.Hash]mapset.Set[string])
		p.votes[view] = byHash
	}
	voters, ok := byHash[hash]
	if !ok {
		voters = mapset.NewThreadUnsafeSet[string]()
		byHash[hash] = voters
	}
	voters.Add(replica)
	return voters.Cardinality()
}

// Count returns the number of distinct voters recorded for a block hash in a
// view.
func (p *VotePool) Count(view uint64, hash common.Hash) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if voters, ok := p.votes[view][hash]; ok {
		return voters.Cardinality()
	}
	return 0
}

// Voters returns the distinct voter ids recorded for a block hash in a view.
func (p *VotePool) Voters(view uint64, hash common.Hash) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if voters, ok := p.votes[view][hash]; ok {
		return voters.ToSlice()
	}
	return nil
}

// Clear drops all votes recorded for a view.
func (p *VotePool) Clear(view uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.votes, view)
}

// ClearBelow drops all votes recorded for views lower than the given view.
// Committed views never gather further meaningful votes.
func (p *VotePool) ClearBelow(view uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for v := range p.votes {
		if v < view {
			delete(p.votes, v)
		}
	}
}
