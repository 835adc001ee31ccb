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

package core

import (
	"fmt"
	"sync"

	"github.com/cbdx/go-cbdx/core/types"
	"github.com/cbdx/go-cbdx/event"
	"github.com/cbdx/go-cbdx/log"
	"github.com/cbdx/go-cbdx/metrics"
	"github.com/cbdx/go-cbdx/params"
	mapset "github.com/deckarep/golang-set/v2"
)

var (
	// Metrics for the pending queue
	queuedTxCounter  = metrics.NewRegisteredCounter("txqueue/queued", nil)
	removedTxCounter = metrics.NewRegisteredCounter("txqueue/removed", nil)
	staleTxCounter   = metrics.NewRegisteredCounter("txqueue/stale", nil) // Dropped at draft time, already committed
	invalidTxCounter = metrics.NewRegisteredCounter("txqueue/invalid", nil)
	pendingTxGauge   = metrics.NewRegisteredGauge("txqueue/pending", nil)
)

// ledgerReader is the read-only view of the ledger the queue needs for
// duplicate filtering.
type ledgerReader interface {
	ContainsTransaction(id string) bool
}

// QueueConfig are the configuration parameters of the pending transaction
// queue.
type QueueConfig struct {
	BlockLimit int          // Maximum number of transactions drafted into one block
	MinAmount  types.Amount // Minimum accepted amount for value-moving transactions
}

// DefaultQueueConfig contains the default configurations for the pending
// transaction queue.
var DefaultQueueConfig = QueueConfig{
	BlockLimit: params.DefaultBlockLimit,
	MinAmount:  params.DefaultMinAmount,
}

// sanitize checks the provided user configurations and changes anything that's
// unreasonable or unworkable.
func (config *QueueConfig) sanitize() QueueConfig {
	conf := *config
	if conf.BlockLimit < 1 {
		log.Warn("Sanitizing invalid txqueue block limit", "provided", conf.BlockLimit, "updated", DefaultQueueConfig.BlockLimit)
		conf.BlockLimit = DefaultQueueConfig.BlockLimit
	}
	if conf.MinAmount < 1 {
		log.Warn("Sanitizing invalid txqueue minimum amount", "provided", conf.MinAmount, "updated", DefaultQueueConfig.MinAmount)
		conf.MinAmount = DefaultQueueConfig.MinAmount
	}
	return conf
}

// TxQueue buffers submitted transactions in arrival order until they are
// drafted into proposed blocks. Drafting never removes entries: transactions
// leave the queue only when a committed block includes their id, so a round
// abort keeps every submission intact.
//
// The queue deliberately admits a second entry with an id it already holds.
// Replayed submissions of a not-yet-committed transaction are ordered into
// the same block and settled deterministically at post-commit instead.
type TxQueue struct {
	config QueueConfig
	ledger ledgerReader

	mu    sync.Mutex
	queue types.Transactions

	txFeed event.FeedOf[NewTxsEvent]
	scope  event.SubscriptionScope

	logger log.Logger
}

// NewTxQueue creates a new queue to gather submitted transactions for block
// drafting.
func NewTxQueue(config QueueConfig, ledger ledgerReader) *TxQueue {
	config = (&config).sanitize()

	return &TxQueue{
		config: config,
		ledger: ledger,
		logger: log.New("module", "txqueue"),
	}
}

// Add appends a transaction to the back of the queue and marks it QUEUED.
// It fails with ErrDuplicateTransaction if the id is already committed, and
// with ErrValidation if a value-moving transaction is below the configured
// minimum amount.
func (q *TxQueue) Add(tx *types.Transaction) error {
	if tx == nil {
		invalidTxCounter.Inc(1)
		return fmt.Errorf("%w: nil transaction", ErrValidation)
	}
	if tx.Kind() != types.KindRegistration && tx.Amount() < q.config.MinAmount {
		invalidTxCounter.Inc(1)
		return fmt.Errorf("%w: amount %s below minimum %s", ErrValidation, tx.Amount(), q.config.MinAmount)
	}
	if q.ledger != nil && q.ledger.ContainsTransaction(tx.ID()) {
		invalidTxCounter.Inc(1)
		return fmt.Errorf("%w: id %s", ErrDuplicateTransaction, tx.ID())
	}
	q.mu.Lock()
	tx.SetStatus(types.StatusQueued)
	q.queue = append(q.queue, tx)
	pending := len(q.queue)
	q.mu.Unlock()

	queuedTxCounter.Inc(1)
	pendingTxGauge.Update(int64(pending))
	q.logger.Trace("Queued transaction", "id", tx.ID(), "kind", tx.Kind(), "pending", pending)

	q.txFeed.Send(NewTxsEvent{Txs: types.Transactions{tx}})
	return nil
}

// Draft selects up to limit transactions from the front of the queue for
// inclusion in a proposed block, preserving arrival order. Entries whose id
// has been committed since they were queued are evicted instead of drafted.
// A non-positive limit falls back to the configured block limit.
//
// The returned transactions stay queued until Remove observes their commit.
func (q *TxQueue) Draft(limit int) types.Transactions {
	if limit <= 0 {
		limit = q.config.BlockLimit
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var (
		drafted types.Transactions
		kept    = q.queue[:0]
		stale   int
	)
	for _, tx := range q.queue {
		if q.ledger != nil && q.ledger.ContainsTransaction(tx.ID()) {
			stale++
			continue
		}
		kept = append(kept, tx)
		if len(drafted) < limit {
			drafted = append(drafted, tx)
		}
	}
	q.queue = kept
	if stale > 0 {
		staleTxCounter.Inc(int64(stale))
		pendingTxGauge.Update(int64(len(q.queue)))
		q.logger.Debug("Evicted stale transactions from queue", "count", stale)
	}
	return drafted
}

// Remove drops every queued entry whose id is in the given set, normally the
// ids of a freshly committed block.
func (q *TxQueue) Remove(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	drop := mapset.NewThreadUnsafeSet(ids...)

	q.mu.Lock()
	kept := q.queue[:0]
	removed := 0
	for _, tx := range q.queue {
		if drop.Contains(tx.ID()) {
			removed++
			continue
		}
		kept = append(kept, tx)
	}
	q.queue = kept
	pending := len(q.queue)
	q.mu.Unlock()

	if removed > 0 {
		removedTxCounter.Inc(int64(removed))
		pendingTxGauge.Update(int64(pending))
	}
	return removed
}

// Len returns the number of queued transactions.
func (q *TxQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.queue)
}

// Content returns a copy of the queue in arrival order.
func (q *TxQueue) Content() types.Transactions {
	q.mu.Lock()
	defer q.mu.Unlock()

	content := make(types.Transactions, len(q.queue))
	copy(content, q.queue)
	return content
}

// SubscribeNewTxsEvent registers a subscription of NewTxsEvent.
func (q *TxQueue) SubscribeNewTxsEvent(ch chan<- NewTxsEvent) event.Subscription {
	return q.scope.Track(q.txFeed.Subscribe(ch))
}

// Stop unsubscribes all queue event listeners.
func (q *TxQueue) Stop() {
	q.scope.Close()
}
