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

// Package core implements the append-only ledger and the pending transaction
// queue of the settlement core.
package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/core/types"
	"github.com/cbdx/go-cbdx/crypto"
	"github.com/cbdx/go-cbdx/event"
	"github.com/cbdx/go-cbdx/log"
	"github.com/cbdx/go-cbdx/metrics"
	lru "github.com/hashicorp/golang-lru"
)

const (
	// blockCacheLimit bounds the hash-keyed cache of recent blocks.
	blockCacheLimit = 256
)

var (
	blockInsertCounter = metrics.NewRegisteredCounter("ledger/inserts", nil)
	txCommitCounter    = metrics.NewRegisteredCounter("ledger/txs", nil)
	headHeightGauge    = metrics.NewRegisteredGauge("ledger/height", nil)
)

// Ledger is the hash-linked, append-only list of committed blocks. Heights are
// contiguous from genesis, every non-genesis block links to its predecessor by
// content hash, and a transaction id never appears in two distinct blocks.
//
// The ledger only records blocks; moving balances in response to committed
// transactions is the settlement authority's job.
type Ledger struct {
	chainFeed     event.FeedOf[ChainEvent]
	chainHeadFeed event.FeedOf[ChainHeadEvent]
	scope         event.SubscriptionScope

	mu      sync.RWMutex
	blocks  []*types.Block    // canonical chain, blocks[h] is the block at height h
	txIndex map[string]uint64 // committed transaction id -> containing height

	blockCache *lru.Cache // recent blocks keyed by content hash

	logger log.Logger
}

// NewLedger constructs a ledger holding only the shared genesis block.
func NewLedger() *Ledger {
	blockCache, _ := lru.New(blockCacheLimit)

	genesis := DefaultGenesisBlock()
	l := &Ledger{
		blocks:     []*types.Block{genesis},
		txIndex:    make(map[string]uint64),
		blockCache: blockCache,
		logger:     log.New("module", "ledger"),
	}
	l.blockCache.Add(genesis.Hash(), genesis)
	return l
}

// Genesis returns the height-zero block.
func (l *Ledger) Genesis() *types.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.blocks[0]
}

// CurrentBlock returns the block at the ledger tip.
func (l *Ledger) CurrentBlock() *types.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.blocks[len(l.blocks)-1]
}

// Height returns the height of the ledger tip.
func (l *Ledger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.blocks[len(l.blocks)-1].Height()
}

// GetByHeight returns the block at the given height, or nil if the chain has
// not reached it.
func (l *Ledger) GetByHeight(height uint64) *types.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if height >= uint64(len(l.blocks)) {
		return nil
	}
	return l.blocks[height]
}

// GetByHash returns the block with the given content hash, or nil if unknown.
func (l *Ledger) GetByHash(hash common.Hash) *types.Block {
	if block, ok := l.blockCache.Get(hash); ok {
		return block.(*types.Block)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	// Recent blocks are the common lookup, walk the chain backwards.
	for i := len(l.blocks) - 1; i >= 0; i-- {
		if l.blocks[i].Hash() == hash {
			l.blockCache.Add(hash, l.blocks[i])
			return l.blocks[i]
		}
	}
	return nil
}

// HasBlock reports whether a block with the given hash is part of the chain.
func (l *Ledger) HasBlock(hash common.Hash) bool {
	return l.GetByHash(hash) != nil
}

// ContainsTransaction reports whether a transaction id has been committed.
func (l *Ledger) ContainsTransaction(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.txIndex[id]
	return ok
}

// GetTransaction returns a committed transaction and the height of its block,
// or nil if the id is unknown.
func (l *Ledger) GetTransaction(id string) (*types.Transaction, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	height, ok := l.txIndex[id]
	if !ok {
		return nil, 0
	}
	return l.blocks[height].Transaction(id), height
}

// IterTransactions walks every committed transaction in block order and then
// transaction order, collecting those matching the filter. A nil filter
// matches everything.
func (l *Ledger) IterTransactions(filter func(*types.Transaction) bool) types.Transactions {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched types.Transactions
	for _, block := range l.blocks {
		for _, tx := range block.Transactions() {
			if filter == nil || filter(tx) {
				matched = append(matched, tx)
			}
		}
	}
	return matched
}

// Blocks returns a copy of the committed chain in height order.
func (l *Ledger) Blocks() []*types.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	blocks := make([]*types.Block, len(l.blocks))
	copy(blocks, l.blocks)
	return blocks
}

// AppendCommitted extends the chain with a block agreed by consensus. The
// block must be the tip's immediate descendant: its height one above the tip
// and its parent hash the tip's content hash. Any already-committed
// transaction id in the block rejects the whole append.
//
// The transactions of an accepted block are marked COMMITTED in place.
func (l *Ledger) AppendCommitted(block *types.Block) error {
	if block == nil {
		return fmt.Errorf("%w: nil block", ErrLedgerConflict)
	}
	start := time.Now()

	l.mu.Lock()
	tip := l.blocks[len(l.blocks)-1]
	if block.Height() != tip.Height()+1 {
		l.mu.Unlock()
		return fmt.Errorf("%w: block height %d does not extend tip height %d", ErrLedgerConflict, block.Height(), tip.Height())
	}
	if block.ParentHash() != tip.Hash() {
		l.mu.Unlock()
		return fmt.Errorf("%w: parent hash %s does not match tip %s", ErrLedgerConflict, block.ParentHash().TerminalString(), tip.Hash().TerminalString())
	}
	for _, tx := range block.Transactions() {
		if height, ok := l.txIndex[tx.ID()]; ok {
			l.mu.Unlock()
			return fmt.Errorf("%w: id %s already committed at height %d", ErrDuplicateTransaction, tx.ID(), height)
		}
	}
	l.blocks = append(l.blocks, block)
	for _, tx := range block.Transactions() {
		l.txIndex[tx.ID()] = block.Height()
		tx.SetStatus(types.StatusCommitted)
	}
	l.blockCache.Add(block.Hash(), block)
	l.mu.Unlock()

	blockInsertCounter.Inc(1)
	txCommitCounter.Inc(int64(block.TxCount()))
	headHeightGauge.Update(int64(block.Height()))

	l.logger.Debug("Appended block to ledger", "height", block.Height(), "hash", block.Hash().TerminalString(),
		"txs", block.TxCount(), "elapsed", common.PrettyDuration(time.Since(start)))

	l.chainFeed.Send(ChainEvent{Block: block, Hash: block.Hash()})
	l.chainHeadFeed.Send(ChainHeadEvent{Block: block})
	return nil
}

// ValidateChain rewalks the whole chain and returns the first violation of
// the ledger invariants: contiguous heights, parent links matching recomputed
// content hashes, and transaction id uniqueness across blocks.
func (l *Ledger) ValidateChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]uint64, len(l.txIndex))
	for i, block := range l.blocks {
		if block.Height() != uint64(i) {
			return fmt.Errorf("%w: block at position %d reports height %d", ErrLedgerConflict, i, block.Height())
		}
		if i == 0 {
			if block.ParentHash() != common.ZeroHash {
				return fmt.Errorf("%w: genesis parent hash is %s, want all zeroes", ErrLedgerConflict, block.ParentHash().TerminalString())
			}
		} else {
			parent := crypto.Sha256Hash(l.blocks[i-1].CanonicalJSON())
			if block.ParentHash() != parent {
				return fmt.Errorf("%w: block %d parent hash %s does not match recomputed %s", ErrLedgerConflict, i, block.ParentHash().TerminalString(), parent.TerminalString())
			}
		}
		for _, tx := range block.Transactions() {
			if prev, ok := seen[tx.ID()]; ok && prev != block.Height() {
				return fmt.Errorf("%w: id %s committed at heights %d and %d", ErrDuplicateTransaction, tx.ID(), prev, block.Height())
			}
			seen[tx.ID()] = block.Height()
		}
	}
	return nil
}

// SubscribeChainEvent registers a subscription of ChainEvent.
func (l *Ledger) SubscribeChainEvent(ch chan<- ChainEvent) event.Subscription {
	return l.scope.Track(l.chainFeed.Subscribe(ch))
}

// SubscribeChainHeadEvent registers a subscription of ChainHeadEvent.
func (l *Ledger) SubscribeChainHeadEvent(ch chan<- ChainHeadEvent) event.Subscription {
	return l.scope.Track(l.chainHeadFeed.Subscribe(ch))
}

// Stop unsubscribes all chain event listeners.
func (l *Ledger) Stop() {
	l.scope.Close()
	l.logger.Info("Ledger stopped", "height", l.Height())
}
