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

// Package wallet implements the owner-side digital wallet: an online balance
// settled through committed transfers and an offline balance that can spend
// while disconnected and reconciles against the ledger on reconnection.
package wallet

import (
	"fmt"
	"sync"
	"time"

	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/common/mclock"
	"github.com/cbdx/go-cbdx/core"
	"github.com/cbdx/go-cbdx/core/types"
	"github.com/cbdx/go-cbdx/event"
	"github.com/cbdx/go-cbdx/log"
	"github.com/cbdx/go-cbdx/metrics"
	"github.com/cbdx/go-cbdx/params"
)

var (
	depositCounter   = metrics.NewRegisteredCounter("wallet/deposits", nil)
	withdrawCounter  = metrics.NewRegisteredCounter("wallet/withdrawals", nil)
	offlineCounter   = metrics.NewRegisteredCounter("wallet/offline/created", nil)
	confirmedCounter = metrics.NewRegisteredCounter("wallet/offline/confirmed", nil)
)

// Config are the configuration parameters of the offline spending protocol.
type Config struct {
	Expiry     time.Duration // Offline spending window measured from activation
	MaxBalance types.Amount  // Cap on funds held offline, in minor units

	// Clock lets tests expire wallets on a simulated timescale. A nil clock
	// selects the system's monotonic clock.
	Clock mclock.Clock `toml:"-"`
}

// DefaultConfig contains the default configurations for the offline spending
// protocol.
var DefaultConfig = Config{
	Expiry:     params.DefaultWalletExpiry,
	MaxBalance: params.DefaultWalletCap,
}

// sanitize checks the provided user configurations and changes anything that's
// unreasonable or unworkable.
func (config *Config) sanitize() Config {
	conf := *config
	if conf.Expiry < time.Minute {
		log.Warn("Sanitizing invalid wallet expiry", "provided", conf.Expiry, "updated", DefaultConfig.Expiry)
		conf.Expiry = DefaultConfig.Expiry
	}
	if conf.MaxBalance < 1 {
		log.Warn("Sanitizing invalid wallet balance cap", "provided", conf.MaxBalance, "updated", DefaultConfig.MaxBalance)
		conf.MaxBalance = DefaultConfig.MaxBalance
	}
	return conf
}

// Wallet holds one owner's digital funds. The online balance moves only when
// the settlement hooks of a committed block say so; the offline balance is
// local spending money fenced by an activation window and a cap.
//
// A wallet never reaches back into the authority: it hands out its pending
// transfers on reconnection and hears about commits through Credit and
// ConfirmOffline.
type Wallet struct {
	owner  string
	config Config
	clock  mclock.Clock

	mu          sync.RWMutex
	online      types.Amount
	offline     types.Amount
	active      bool
	offlineUse  bool           // offline spending activated
	activatedAt time.Time      // wall clock at activation, for reports
	expiresAt   mclock.AbsTime // monotonic deadline for offline spending
	pending     types.Transactions
	history     []Record
	witnessed   []common.Hash // commit hashes observed through settlement

	feed  event.FeedOf[Event]
	scope event.SubscriptionScope

	logger log.Logger
}

// New creates a wallet for the given owner with only the online side enabled.
// Offline spending starts with EnableOffline.
func New(owner string, config Config) *Wallet {
	conf := (&config).sanitize()

	clock := conf.Clock
	if clock == nil {
		clock = mclock.System{}
	}
	return &Wallet{
		owner:  owner,
		config: conf,
		clock:  clock,
		active: true,
		logger: log.New("module", "wallet", "owner", owner),
	}
}

// Owner returns the owning account identifier.
func (w *Wallet) Owner() string { return w.owner }

// OnlineBalance returns the settled digital balance in minor units.
func (w *Wallet) OnlineBalance() types.Amount {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.online
}

// OfflineBalance returns the locally held offline balance in minor units.
func (w *Wallet) OfflineBalance() types.Amount {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.offline
}

// Active reports whether the wallet accepts new operations.
func (w *Wallet) Active() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.active
}

// Deactivate blocks all new spending from the wallet. Settlement credits and
// confirmations of already pending transfers still apply.
func (w *Wallet) Deactivate() {
	w.mu.Lock()
	w.active = false
	w.mu.Unlock()

	w.logger.Warn("Wallet deactivated")
}

// EnableOffline activates offline spending, starting the expiry window. A
// second activation is a no-op: the original window stands.
func (w *Wallet) EnableOffline() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.offlineUse {
		return
	}
	w.offlineUse = true
	w.activatedAt = time.Now()
	w.expiresAt = w.clock.Now().Add(w.config.Expiry)
	w.logger.Info("Offline spending enabled", "expiry", w.config.Expiry, "cap", w.config.MaxBalance)
}

// OfflineEnabled reports whether offline spending has been activated.
func (w *Wallet) OfflineEnabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.offlineUse
}

// ActivatedAt returns the wall-clock time offline spending was enabled.
func (w *Wallet) ActivatedAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.activatedAt
}

// Expired reports whether the offline spending window has closed.
func (w *Wallet) Expired() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.expired()
}

func (w *Wallet) expired() bool {
	return w.offlineUse && w.clock.Now() >= w.expiresAt
}

// Remaining returns the time left in the offline spending window.
func (w *Wallet) Remaining() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.offlineUse {
		return 0
	}
	if left := w.expiresAt.Sub(w.clock.Now()); left > 0 {
		return left
	}
	return 0
}

// Credit applies a settled inbound transfer to the online balance. The block
// hash anchors the deposit in the wallet history and the witnessed commits.
func (w *Wallet) Credit(amount types.Amount, counterparty, txID string, blockHash common.Hash) error {
	if amount.IsNegative() || amount == 0 {
		return fmt.Errorf("%w: credit of %s", core.ErrValidation, amount)
	}
	w.mu.Lock()
	w.online += amount
	w.record(Record{Kind: RecordDeposit, Amount: amount, Counterparty: counterparty, TxID: txID, BlockHash: blockHash})
	if blockHash != common.ZeroHash {
		w.witnessed = append(w.witnessed, blockHash)
	}
	balance := w.online
	w.mu.Unlock()

	depositCounter.Inc(1)
	w.logger.Debug("Credited online balance", "amount", amount, "from", counterparty, "balance", balance)

	w.feed.Send(Event{Kind: EventDeposited, Owner: w.owner, TxID: txID, Amount: amount})
	return nil
}

// Debit applies a settled outbound transfer to the online balance. It fails
// with ErrInsufficientFunds when the balance is short, leaving it untouched.
func (w *Wallet) Debit(amount types.Amount, counterparty, txID string, blockHash common.Hash) error {
	if amount.IsNegative() || amount == 0 {
		return fmt.Errorf("%w: debit of %s", core.ErrValidation, amount)
	}
	w.mu.Lock()
	if w.online < amount {
		w.mu.Unlock()
		return fmt.Errorf("%w: online balance %s short of %s", core.ErrInsufficientFunds, w.online, amount)
	}
	w.online -= amount
	w.record(Record{Kind: RecordWithdrawal, Amount: amount, Counterparty: counterparty, TxID: txID, BlockHash: blockHash})
	if blockHash != common.ZeroHash {
		w.witnessed = append(w.witnessed, blockHash)
	}
	balance := w.online
	w.mu.Unlock()

	withdrawCounter.Inc(1)
	w.logger.Debug("Debited online balance", "amount", amount, "to", counterparty, "balance", balance)

	w.feed.Send(Event{Kind: EventWithdrawn, Owner: w.owner, TxID: txID, Amount: amount})
	return nil
}

// WithdrawToOffline moves funds from the online to the offline balance. The
// move is local: no transaction reaches the ledger, the offline balance is
// simply fenced by the cap and the expiry window.
func (w *Wallet) WithdrawToOffline(amount types.Amount) error {
	if amount.IsNegative() || amount == 0 {
		return fmt.Errorf("%w: offline withdrawal of %s", core.ErrValidation, amount)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.active {
		return fmt.Errorf("%w: wallet of %s is deactivated", core.ErrWalletExpired, w.owner)
	}
	if !w.offlineUse {
		return fmt.Errorf("%w: offline spending not enabled", core.ErrValidation)
	}
	if w.expired() {
		return fmt.Errorf("%w: window closed at %s", core.ErrWalletExpired, w.activatedAt.Add(w.config.Expiry))
	}
	if w.online < amount {
		return fmt.Errorf("%w: online balance %s short of %s", core.ErrInsufficientFunds, w.online, amount)
	}
	if w.offline+amount > w.config.MaxBalance {
		return fmt.Errorf("%w: offline balance %s plus %s exceeds cap %s", core.ErrValidation, w.offline, amount, w.config.MaxBalance)
	}
	w.online -= amount
	w.offline += amount
	w.record(Record{Kind: RecordWithdrawal, Amount: amount, Counterparty: w.owner})

	withdrawCounter.Inc(1)
	w.logger.Debug("Withdrew to offline balance", "amount", amount, "online", w.online, "offline", w.offline)
	return nil
}

// CreateOfflineTransfer builds, signs and retains an offline transfer. The
// sender's offline balance is debited immediately; the recipient sees nothing
// until the transfer is committed after reconnection.
func (w *Wallet) CreateOfflineTransfer(recipient string, amount types.Amount, secret []byte) (*types.Transaction, error) {
	if recipient == "" || recipient == w.owner {
		return nil, fmt.Errorf("%w: offline transfer needs a distinct recipient", core.ErrValidation)
	}
	if amount.IsNegative() || amount == 0 {
		return nil, fmt.Errorf("%w: offline transfer of %s", core.ErrValidation, amount)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.active {
		return nil, fmt.Errorf("%w: wallet of %s is deactivated", core.ErrWalletExpired, w.owner)
	}
	if !w.offlineUse {
		return nil, fmt.Errorf("%w: offline spending not enabled", core.ErrValidation)
	}
	if w.expired() {
		return nil, fmt.Errorf("%w: window closed at %s", core.ErrWalletExpired, w.activatedAt.Add(w.config.Expiry))
	}
	if w.offline < amount {
		return nil, fmt.Errorf("%w: offline balance %s short of %s", core.ErrInsufficientFunds, w.offline, amount)
	}
	tx, err := types.NewTransaction(w.owner, recipient, amount, types.KindOfflineTransfer, nil)
	if err != nil {
		return nil, err
	}
	if err := tx.Sign(secret); err != nil {
		return nil, err
	}
	w.offline -= amount
	w.pending = append(w.pending, tx)
	w.record(Record{Kind: RecordOfflineSubmitted, Amount: amount, Counterparty: recipient, TxID: tx.ID()})

	offlineCounter.Inc(1)
	w.logger.Info("Created offline transfer", "id", tx.ID(), "to", recipient, "amount", amount, "offline", w.offline, "pending", len(w.pending))

	w.feed.Send(Event{Kind: EventOfflineCreated, Owner: w.owner, TxID: tx.ID(), Amount: amount})
	return tx, nil
}

// Pending returns the unconfirmed offline transfers in creation order.
func (w *Wallet) Pending() types.Transactions {
	w.mu.RLock()
	defer w.mu.RUnlock()

	pending := make(types.Transactions, len(w.pending))
	copy(pending, w.pending)
	return pending
}

// PendingCount returns the number of unconfirmed offline transfers.
func (w *Wallet) PendingCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return len(w.pending)
}

// Reconnect announces the wallet back online and returns the pending offline
// transfers for submission, oldest first. Pending entries stay put until
// their commit is confirmed, so reconnecting twice hands out the same
// transfers and the committed-id checks downstream keep the replay harmless.
func (w *Wallet) Reconnect() types.Transactions {
	pending := w.Pending()

	w.logger.Info("Wallet reconnected", "pending", len(pending))
	w.feed.Send(Event{Kind: EventReconnected, Owner: w.owner})
	return pending
}

// ConfirmOffline settles one pending offline transfer against its committed
// block. The pending entry is removed, so a transfer confirms exactly once.
func (w *Wallet) ConfirmOffline(txID string, blockHash common.Hash) error {
	w.mu.Lock()
	var confirmed *types.Transaction
	kept := w.pending[:0]
	for _, tx := range w.pending {
		if confirmed == nil && tx.ID() == txID {
			confirmed = tx
			continue
		}
		kept = append(kept, tx)
	}
	if confirmed == nil {
		w.mu.Unlock()
		return fmt.Errorf("%w: transaction %s is not pending", core.ErrValidation, txID)
	}
	w.pending = kept
	w.record(Record{Kind: RecordConfirmed, Amount: confirmed.Amount(), Counterparty: confirmed.Recipient(), TxID: txID, BlockHash: blockHash})
	if blockHash != common.ZeroHash {
		w.witnessed = append(w.witnessed, blockHash)
	}
	left := len(w.pending)
	w.mu.Unlock()

	confirmed.SetStatus(types.StatusConfirmed)
	confirmedCounter.Inc(1)
	w.logger.Info("Confirmed offline transfer", "id", txID, "block", blockHash.TerminalString(), "pending", left)

	w.feed.Send(Event{Kind: EventOfflineConfirmed, Owner: w.owner, TxID: txID, Amount: confirmed.Amount()})
	return nil
}

// History returns a copy of the wallet's append-only history, oldest first.
func (w *Wallet) History() []Record {
	w.mu.RLock()
	defer w.mu.RUnlock()

	history := make([]Record, len(w.history))
	copy(history, w.history)
	return history
}

// WitnessedCommits returns the block hashes this wallet has observed through
// settlement, in observation order.
func (w *Wallet) WitnessedCommits() []common.Hash {
	w.mu.RLock()
	defer w.mu.RUnlock()

	hashes := make([]common.Hash, len(w.witnessed))
	copy(hashes, w.witnessed)
	return hashes
}

// record appends a history entry, stamping it with the wall clock. Callers
// hold the lock.
func (w *Wallet) record(r Record) {
	r.Time = time.Now().UnixNano()
	w.history = append(w.history, r)
}

// SubscribeEvents registers a subscription of wallet lifecycle events.
func (w *Wallet) SubscribeEvents(ch chan<- Event) event.Subscription {
	return w.scope.Track(w.feed.Subscribe(ch))
}

// Stop unsubscribes all wallet event listeners.
func (w *Wallet) Stop() {
	w.scope.Close()
}
