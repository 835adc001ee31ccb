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

// Package bft implements the leader-rotated Byzantine-fault-tolerant engine
// ordering drafted transaction batches into committed ledger blocks.
//
// The replica set is fixed at N = 3f+1 members exchanging proposal, vote and
// commit messages; a batch commits once 2f+1 distinct replicas endorse the
// leader's candidate block. A silent or faulty leader is skipped by a view
// change after the round timeout, rotating leadership to the next replica.
package bft

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cbdx/go-cbdx/common/countdown"
	"github.com/cbdx/go-cbdx/common/mclock"
	"github.com/cbdx/go-cbdx/consensus"
	"github.com/cbdx/go-cbdx/core"
	"github.com/cbdx/go-cbdx/core/types"
	"github.com/cbdx/go-cbdx/log"
	"github.com/cbdx/go-cbdx/metrics"
	"github.com/cbdx/go-cbdx/params"
	mapset "github.com/deckarep/golang-set/v2"
)

var (
	roundCounter        = metrics.NewRegisteredCounter("bft/rounds", nil)
	roundTimeoutCounter = metrics.NewRegisteredCounter("bft/timeouts", nil)
	viewGauge           = metrics.NewRegisteredGauge("bft/view", nil)
)

// errRoundTimeout aborts a single round internally; the engine retries under
// the next leader until the view budget runs out.
var errRoundTimeout = errors.New("round timed out")

// Config are the configuration parameters of the consensus engine.
type Config struct {
	ReplicaCount int           // Size of the replica set, must be 3f+1 for f >= 1
	RoundTimeout time.Duration // Budget for one leader to reach quorum
	ViewBudget   int           // Leader rotations attempted per batch before giving up

	// Clock lets tests drive round timeouts on a simulated timescale. A nil
	// clock selects the system's monotonic clock.
	Clock mclock.Clock `toml:"-"`
}

// DefaultConfig contains the default configurations for the consensus engine.
var DefaultConfig = Config{
	ReplicaCount: params.DefaultReplicaCount,
	RoundTimeout: params.DefaultRoundTimeout,
	ViewBudget:   2 * params.DefaultReplicaCount,
}

// sanitize checks the provided user configurations and changes anything
// that's unreasonable or unworkable.
func (config *Config) sanitize() Config {
	conf := *config
	if params.QuorumFor(conf.ReplicaCount) == 0 {
		log.Warn("Sanitizing invalid bft replica count", "provided", conf.ReplicaCount, "updated", DefaultConfig.ReplicaCount)
		conf.ReplicaCount = DefaultConfig.ReplicaCount
	}
	if conf.RoundTimeout < time.Millisecond {
		log.Warn("Sanitizing invalid bft round timeout", "provided", conf.RoundTimeout, "updated", DefaultConfig.RoundTimeout)
		conf.RoundTimeout = DefaultConfig.RoundTimeout
	}
	if conf.ViewBudget < 1 {
		log.Warn("Sanitizing invalid bft view budget", "provided", conf.ViewBudget, "updated", DefaultConfig.ViewBudget)
		conf.ViewBudget = DefaultConfig.ViewBudget
	}
	return conf
}

// Engine coordinates the fixed replica set. It feeds drafted batches to the
// current leader, arms the round timer, collects commit notices and appends
// the agreed block to the authoritative ledger.
//
// The engine is driven from a single settlement goroutine: ProcessBatch is
// not safe for concurrent use, matching the authority's one-writer queue
// discipline.
type Engine struct {
	config    Config
	quorum    int
	ledger    *core.Ledger
	transport *chanTransport
	replicas  []*Replica
	order     []string
	clock     mclock.Clock

	timer    *countdown.CountdownTimer
	timeoutc chan uint64
	noticec  chan commitNotice

	mu      sync.RWMutex
	view    uint64
	running bool

	logger log.Logger
}

// New creates a BFT engine over the given ledger. The validator runs on
// every replica before it votes; a nil validator accepts all batches.
func New(config Config, ledger *core.Ledger, validator TxValidator) *Engine {
	conf := (&config).sanitize()

	clock := conf.Clock
	if clock == nil {
		clock = mclock.System{}
	}
	n := conf.ReplicaCount
	e := &Engine{
		config:    conf,
		quorum:    params.QuorumFor(n),
		ledger:    ledger,
		transport: newChanTransport(),
		clock:     clock,
		timeoutc:  make(chan uint64, n),
		noticec:   make(chan commitNotice, 4*n),
		logger:    log.New("module", "bft"),
	}
	e.order = make([]string, n)
	for i := 0; i < n; i++ {
		e.order[i] = fmt.Sprintf("r%d", i)
	}
	genesis := ledger.Genesis().Hash()
	e.replicas = make([]*Replica, n)
	for i, id := range e.order {
		r := newReplica(id, e.quorum, genesis, e.Leader, e.transport, validator, e.noticec)
		e.replicas[i] = r
		e.transport.attach(id, r.inbox)
	}
	e.timer = countdown.NewCountDown(clock, conf.RoundTimeout)
	e.timer.OnTimeoutFn = e.onRoundTimeout
	return e
}

// Leader returns the id of the replica leading the given view.
func (e *Engine) Leader(view uint64) string {
	return e.order[view%uint64(len(e.order))]
}

// Quorum returns the vote threshold 2f+1 of the replica set.
func (e *Engine) Quorum() int { return e.quorum }

// View returns the engine's current view number.
func (e *Engine) View() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.view
}

// Replicas returns the replica set in rotation order.
func (e *Engine) Replicas() []*Replica {
	replicas := make([]*Replica, len(e.replicas))
	copy(replicas, e.replicas)
	return replicas
}

// Start brings the replica set online.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}
	for _, r := range e.replicas {
		r.start()
	}
	e.running = true
	e.logger.Info("Consensus engine started", "replicas", len(e.replicas), "quorum", e.quorum, "timeout", e.config.RoundTimeout)
	return nil
}

// Stop halts the replica set and the round timer.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	e.timer.StopTimer()
	for _, r := range e.replicas {
		r.stop()
	}
	e.logger.Info("Consensus engine stopped", "view", e.View())
	return nil
}

// HaltReplica silences one replica: its loop exits and all traffic to it is
// dropped. The remaining set keeps operating as long as a quorum survives.
func (e *Engine) HaltReplica(id string) error {
	for _, r := range e.replicas {
		if r.id == id {
			r.stop()
			e.logger.Warn("Replica halted", "replica", id)
			return nil
		}
	}
	return fmt.Errorf("unknown replica %q", id)
}

// ProcessBatch drives consensus rounds until the batch commits into a single
// block or the view budget is exhausted. On success the block has been
// appended to the ledger and every live replica has adopted it.
func (e *Engine) ProcessBatch(txs types.Transactions) (*types.Block, error) {
	if !e.isRunning() {
		return nil, consensus.ErrStopped
	}
	if len(txs) == 0 {
		return nil, consensus.ErrEmptyBatch
	}
	height := e.ledger.Height() + 1

	for attempt := 0; attempt < e.config.ViewBudget; attempt++ {
		view := e.View()
		leader := e.Leader(view)
		roundCounter.Inc(1)
		e.logger.Debug("Starting consensus round", "view", view, "leader", leader, "height", height, "txs", len(txs))

		// Stop-then-reset gives every round a fresh countdown carrying its
		// own view, so a stale expiry can never be mistaken for the current
		// round's timeout.
		e.timer.Reset(view)
		e.transport.Send(leader, &proposeRequest{View: view, Height: height, Txs: txs})

		block, commitView, err := e.awaitDecision(view, height)
		e.timer.StopTimer()

		switch {
		case err == nil:
			if err := e.ledger.AppendCommitted(block); err != nil {
				return nil, err
			}
			e.setView(commitView + 1)
			e.logger.Debug("Round committed", "view", commitView, "height", block.Height(), "hash", block.Hash().TerminalString())
			return block, nil

		case errors.Is(err, errRoundTimeout):
			next := view + 1
			roundTimeoutCounter.Inc(1)
			e.logger.Warn("Consensus round timed out, rotating leader", "view", view, "leader", leader, "nextLeader", e.Leader(next))
			e.transport.Broadcast("", &ViewChange{View: next})
			e.setView(next)

		default:
			// Safety violation or agreement failure: fatal for the caller.
			return nil, err
		}
	}
	// The final round may have decided after its timer fired. If any replica
	// adopted the height the commit notices are still in flight; abandoning
	// the batch now would leave the replica tips ahead of the ledger.
	if e.tipReached(height) {
		view := e.View()
		e.timer.Reset(view)
		block, commitView, err := e.awaitDecision(view, height)
		e.timer.StopTimer()
		if err == nil {
			if err := e.ledger.AppendCommitted(block); err != nil {
				return nil, err
			}
			e.setView(commitView + 1)
			e.logger.Warn("Recovered a late commit", "view", commitView, "height", block.Height(), "hash", block.Hash().TerminalString())
			return block, nil
		}
	}
	return nil, fmt.Errorf("%w: no quorum for height %d within %d views", core.ErrConsensusTimeout, height, e.config.ViewBudget)
}

// tipReached reports whether any replica has already committed the given
// height.
func (e *Engine) tipReached(height uint64) bool {
	for _, r := range e.replicas {
		if h, _ := r.Tip(); h >= height {
			return true
		}
	}
	return false
}

// awaitDecision blocks until a quorum of replicas report the same committed
// block at the awaited height, the round times out, or a replica reports a
// safety violation. Notices are matched by height, not view: a commit that
// decided after its own round timed out is recovered by the retry round.
func (e *Engine) awaitDecision(view, height uint64) (*types.Block, uint64, error) {
	var (
		committed  = mapset.NewThreadUnsafeSet[string]()
		decided    *types.Block
		commitView uint64
	)
	check := func(n commitNotice) (*types.Block, error) {
		if n.Err != nil {
			return nil, n.Err
		}
		if n.Block.Height() != height {
			// Straggling notice from an earlier round.
			return nil, nil
		}
		if decided == nil {
			decided, commitView = n.Block, n.View
		} else if decided.Hash() != n.Block.Hash() {
			return nil, fmt.Errorf("%w: replicas %v and %s committed different blocks at height %d",
				consensus.ErrSafetyViolation, committed.ToSlice(), n.Replica, height)
		}
		committed.Add(n.Replica)
		if committed.Cardinality() < e.quorum {
			return nil, nil
		}
		return decided, nil
	}
	for {
		select {
		case n := <-e.noticec:
			block, err := check(n)
			if err != nil {
				return nil, 0, err
			}
			if block == nil {
				continue
			}
			// The round is decided. Absorb notices that are already in
			// flight so the replica set quiesces before the next round.
			for {
				select {
				case n := <-e.noticec:
					if _, err := check(n); err != nil {
						return nil, 0, err
					}
				default:
					return block, commitView, nil
				}
			}

		case v := <-e.timeoutc:
			if v != view {
				// Expiry of a prior round's countdown, already handled.
				continue
			}
			return nil, 0, errRoundTimeout
		}
	}
}

// onRoundTimeout funnels countdown expiries into the round loop. It runs on
// the countdown goroutine and must never block.
func (e *Engine) onRoundTimeout(_ time.Time, arg interface{}) error {
	view, ok := arg.(uint64)
	if !ok {
		return fmt.Errorf("unexpected countdown argument %T", arg)
	}
	select {
	case e.timeoutc <- view:
	default:
	}
	return nil
}

func (e *Engine) setView(view uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if view > e.view {
		e.view = view
		viewGauge.Update(int64(view))
	}
}

func (e *Engine) isRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.running
}
