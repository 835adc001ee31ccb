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
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/common/mclock"
	"github.com/cbdx/go-cbdx/consensus"
	"github.com/cbdx/go-cbdx/core"
	"github.com/cbdx/go-cbdx/core/types"
	"github.com/stretchr/testify/assert"
)

var _ consensus.Engine = (*Engine)(nil)

func newTestEngine(t *testing.T, clock mclock.Clock, timeout time.Duration) (*Engine, *core.Ledger) {
	t.Helper()

	ledger := core.NewLedger()
	config := Config{ReplicaCount: 4, RoundTimeout: timeout, ViewBudget: 8, Clock: clock}
	engine := New(config, ledger, nil)
	if err := engine.Start(); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}
	t.Cleanup(func() { engine.Stop() })
	return engine, ledger
}

// waitForHeight blocks until every given replica has committed up to the
// height, or fails the test.
func waitForHeight(t *testing.T, replicas []*Replica, height uint64) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for {
		behind := false
		for _, r := range replicas {
			if h, _ := r.Tip(); h < height {
				behind = true
				break
			}
		}
		if !behind {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("replicas did not all reach height %d", height)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngineCommitsBatches(t *testing.T) {
	assert := assert.New(t)

	engine, ledger := newTestEngine(t, nil, 10*time.Second)
	assert.Equal(3, engine.Quorum())

	// Leadership rotates with the view: each committed batch advances the
	// view by one, handing the next height to the next replica.
	wantProposers := []string{"r0", "r1", "r2"}
	for i, proposer := range wantProposers {
		block, err := engine.ProcessBatch(makeBatch(t, i+1))
		if err != nil {
			t.Fatalf("batch %d failed: %v", i+1, err)
		}
		assert.Equal(uint64(i+1), block.Height())
		assert.Equal(proposer, block.Proposer())
		assert.Equal(i+1, block.TxCount())
		assert.Equal(block.Hash(), ledger.CurrentBlock().Hash())
	}
	assert.Equal(uint64(3), ledger.Height())
	assert.Equal(uint64(3), engine.View())
	if err := ledger.ValidateChain(); err != nil {
		t.Fatalf("committed chain failed validation: %v", err)
	}

	// Every replica's local chain must mirror the authoritative ledger.
	waitForHeight(t, engine.Replicas(), 3)
	for _, r := range engine.Replicas() {
		hashes := r.ChainHashes()
		if len(hashes) != 4 {
			t.Fatalf("replica %s chain length: have %d, want 4", r.ID(), len(hashes))
		}
		for height := uint64(1); height <= 3; height++ {
			if want := ledger.GetByHeight(height).Hash(); hashes[height] != want {
				t.Fatalf("replica %s height %d: have %s, want %s", r.ID(), height, hashes[height].TerminalString(), want.TerminalString())
			}
		}
	}
}

func TestEngineRejectsEmptyBatch(t *testing.T) {
	engine, _ := newTestEngine(t, nil, 10*time.Second)

	if _, err := engine.ProcessBatch(nil); !errors.Is(err, consensus.ErrEmptyBatch) {
		t.Fatalf("have %v, want %v", err, consensus.ErrEmptyBatch)
	}
}

func TestEngineRequiresStart(t *testing.T) {
	ledger := core.NewLedger()
	engine := New(Config{ReplicaCount: 4, RoundTimeout: 10 * time.Second, ViewBudget: 8}, ledger, nil)

	batch := makeBatch(t, 1)
	if _, err := engine.ProcessBatch(batch); !errors.Is(err, consensus.ErrStopped) {
		t.Fatalf("unstarted engine: have %v, want %v", err, consensus.ErrStopped)
	}

	if err := engine.Start(); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}
	if _, err := engine.ProcessBatch(batch); err != nil {
		t.Fatalf("batch on running engine failed: %v", err)
	}

	if err := engine.Stop(); err != nil {
		t.Fatalf("failed to stop engine: %v", err)
	}
	if _, err := engine.ProcessBatch(batch); !errors.Is(err, consensus.ErrStopped) {
		t.Fatalf("stopped engine: have %v, want %v", err, consensus.ErrStopped)
	}
}

func TestEngineSilentLeaderRotation(t *testing.T) {
	assert := assert.New(t)

	clock := new(mclock.Simulated)
	engine, ledger := newTestEngine(t, clock, time.Second)

	// Silence the leader of view zero; the round must time out and the
	// batch commit under the rotated leader at the same height.
	silent := engine.Leader(0)
	if err := engine.HaltReplica(silent); err != nil {
		t.Fatalf("failed to halt leader: %v", err)
	}

	batch := makeBatch(t, 2)
	type result struct {
		block *types.Block
		err   error
	}
	resc := make(chan result, 1)
	go func() {
		block, err := engine.ProcessBatch(batch)
		resc <- result{block, err}
	}()

	// Fire the round timer once the engine has armed it.
	clock.WaitForTimers(1)
	clock.Run(time.Second)

	select {
	case res := <-resc:
		if res.err != nil {
			t.Fatalf("batch failed after leader rotation: %v", res.err)
		}
		assert.Equal(uint64(1), res.block.Height())
		assert.Equal(engine.Leader(1), res.block.Proposer())
		assert.Equal(uint64(2), engine.View())
		assert.Equal(res.block.Hash(), ledger.CurrentBlock().Hash())
	case <-time.After(30 * time.Second):
		t.Fatal("batch did not commit after leader rotation")
	}
}

func TestEngineGivesUpWithoutQuorum(t *testing.T) {
	clock := new(mclock.Simulated)
	engine, ledger := newTestEngine(t, clock, time.Second)

	// Two faulty replicas out of four leave only two live votes, one short
	// of quorum: every view must time out until the budget runs dry.
	if err := engine.HaltReplica("r0"); err != nil {
		t.Fatalf("failed to halt replica: %v", err)
	}
	if err := engine.HaltReplica("r1"); err != nil {
		t.Fatalf("failed to halt replica: %v", err)
	}

	batch := makeBatch(t, 1)
	resc := make(chan error, 1)
	go func() {
		_, err := engine.ProcessBatch(batch)
		resc <- err
	}()

	// Pump the simulated clock through the round timeouts until the engine
	// reports back. Spent countdowns keep at least one timer scheduled, so
	// waiting can never wedge once the first round has been armed.
	var err error
	for done := false; !done; {
		select {
		case err = <-resc:
			done = true
		default:
			clock.WaitForTimers(1)
			clock.Run(time.Second)
		}
	}
	if !errors.Is(err, core.ErrConsensusTimeout) {
		t.Fatalf("have %v, want %v", err, core.ErrConsensusTimeout)
	}
	if ledger.Height() != 0 {
		t.Fatalf("ledger height after abandoned batch: have %d, want 0", ledger.Height())
	}
}

func TestEngineLeaderOrder(t *testing.T) {
	assert := assert.New(t)

	engine, _ := newTestEngine(t, nil, 10*time.Second)

	assert.Equal("r0", engine.Leader(0))
	assert.Equal("r1", engine.Leader(1))
	assert.Equal("r3", engine.Leader(3))
	assert.Equal("r0", engine.Leader(4))
	assert.Equal("r2", engine.Leader(42))
}

func TestConfigSanitize(t *testing.T) {
	assert := assert.New(t)

	config := Config{ReplicaCount: 5, RoundTimeout: 0, ViewBudget: 0}
	conf := (&config).sanitize()

	assert.Equal(DefaultConfig.ReplicaCount, conf.ReplicaCount)
	assert.Equal(DefaultConfig.RoundTimeout, conf.RoundTimeout)
	assert.Equal(DefaultConfig.ViewBudget, conf.ViewBudget)

	config = Config{ReplicaCount: 7, RoundTimeout: time.Second, ViewBudget: 3}
	conf = (&config).sanitize()
	assert.Equal(7, conf.ReplicaCount)
	assert.Equal(time.Second, conf.RoundTimeout)
	assert.Equal(3, conf.ViewBudget)
}

// shuffleTransport delivers every message on its own goroutine after a small
// random delay, so messages within a round arrive in arbitrary order.
type shuffleTransport struct {
	mu      sync.Mutex
	rng     *rand.Rand
	inboxes map[string]chan Message
	order   []string
	wg      sync.WaitGroup
}

func newShuffleTransport(seed int64) *shuffleTransport {
	return &shuffleTransport{
		rng:     rand.New(rand.NewSource(seed)),
		inboxes: make(map[string]chan Message),
	}
}

func (t *shuffleTransport) attach(id string, inbox chan Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inboxes[id] = inbox
	t.order = append(t.order, id)
}

func (t *shuffleTransport) Send(to string, msg Message) {
	t.mu.Lock()
	inbox := t.inboxes[to]
	delay := time.Duration(t.rng.Intn(3)) * time.Millisecond
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		time.Sleep(delay)
		inbox <- msg
	}()
}

func (t *shuffleTransport) Broadcast(from string, msg Message) {
	t.mu.Lock()
	order := append([]string(nil), t.order...)
	t.mu.Unlock()

	for _, id := range order {
		if id != from {
			t.Send(id, msg)
		}
	}
}

func TestReplicaAgreementUnderReordering(t *testing.T) {
	for _, seed := range []int64{1, 7, 42} {
		seed := seed
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			transport := newShuffleTransport(seed)
			genesis := common.BytesToHash([]byte("genesis"))
			order := []string{"r0", "r1", "r2", "r3"}
			leaderFn := func(view uint64) string { return order[view%4] }

			noticec := make(chan commitNotice, 64)
			replicas := make([]*Replica, len(order))
			for i, id := range order {
				r := newReplica(id, 3, genesis, leaderFn, transport, nil, noticec)
				replicas[i] = r
				transport.attach(id, r.inbox)
				r.start()
				defer r.stop()
			}

			// Every round commits without timeouts, so views track heights.
			// Waiting for all tips between rounds keeps the reordering
			// confined to the messages of a single round.
			const heights = 5
			for h := uint64(1); h <= heights; h++ {
				view := h - 1
				transport.Send(leaderFn(view), &proposeRequest{View: view, Height: h, Txs: makeBatch(t, int(h))})
				waitForHeight(t, replicas, h)
			}
			transport.wg.Wait()

			want := replicas[0].ChainHashes()
			if len(want) != heights+1 {
				t.Fatalf("chain length: have %d, want %d", len(want), heights+1)
			}
			for _, r := range replicas[1:] {
				have := r.ChainHashes()
				if len(have) != len(want) {
					t.Fatalf("replica %s chain length: have %d, want %d", r.ID(), len(have), len(want))
				}
				for height := range want {
					if have[height] != want[height] {
						t.Fatalf("replica %s disagrees at height %d: have %s, want %s",
							r.ID(), height, have[height].TerminalString(), want[height].TerminalString())
					}
				}
			}
		})
	}
}
