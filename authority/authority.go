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

// Package authority implements the settlement authority, the single writer
// of the CBDC core. It owns the ledger, the consensus engine, the pending
// queue, the registries of owners, intermediaries and contracts, the emission
// requests and the audit log. All balance-changing state transitions are
// effects of committed transactions, applied by the post-commit hooks in this
// package; the submit methods only validate and enqueue.
package authority

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/common/mclock"
	"github.com/cbdx/go-cbdx/consensus"
	"github.com/cbdx/go-cbdx/consensus/bft"
	"github.com/cbdx/go-cbdx/contracts"
	"github.com/cbdx/go-cbdx/core"
	"github.com/cbdx/go-cbdx/core/types"
	"github.com/cbdx/go-cbdx/crypto"
	"github.com/cbdx/go-cbdx/event"
	"github.com/cbdx/go-cbdx/log"
	"github.com/cbdx/go-cbdx/metrics"
	"github.com/cbdx/go-cbdx/params"
	"github.com/cbdx/go-cbdx/wallet"
	mapset "github.com/deckarep/golang-set/v2"
)

// Metrics collected by the settlement authority.
var (
	ownerCounter        = metrics.NewRegisteredCounter("authority/owners", nil)
	intermediaryCounter = metrics.NewRegisteredCounter("authority/intermediaries", nil)
	emissionReqCounter  = metrics.NewRegisteredCounter("authority/emissions/requested", nil)
	emissionAppCounter  = metrics.NewRegisteredCounter("authority/emissions/approved", nil)
	emissionRejCounter  = metrics.NewRegisteredCounter("authority/emissions/rejected", nil)
	settleApplyCounter  = metrics.NewRegisteredCounter("authority/settle/applied", nil)
	settleRejectCounter = metrics.NewRegisteredCounter("authority/settle/rejected", nil)
	emittedGauge        = metrics.NewRegisteredGauge("authority/emitted", nil)
	reserveGauge        = metrics.NewRegisteredGauge("authority/reserve", nil)
)

// Transaction metadata keys written by the authority.
const (
	MetaName    = "name"    // REGISTRATION: intermediary display name
	MetaRouting = "routing" // REGISTRATION: intermediary routing code
	MetaStatus  = "status"  // REGISTRATION: target intermediary status
	MetaRequest = "request" // ISSUANCE: emission request id
	MetaPurpose = "purpose" // ISSUANCE: stated purpose
	MetaMethod  = "method"  // CONTRACT_CALL: builtin method name
)

// authoritySalt scopes secret derivation to this deployment profile.
var authoritySalt = []byte("cbdx/authority/v1")

// ReceiptsEvent is posted after a block settles, carrying the result view of
// every transaction in it.
type ReceiptsEvent struct {
	Block    *types.Block
	Receipts types.Receipts
}

// Config are the configuration parameters of the settlement authority.
type Config struct {
	Consensus bft.Config       // Replica set sizing and round timing
	Queue     core.QueueConfig // Pending queue drafting limits
	Wallet    wallet.Config    // Expiry and cap applied to opened wallets

	// IntermediaryReserve is the non-digital reserve granted to a newly
	// registered intermediary, in minor units.
	IntermediaryReserve types.Amount

	// Clock lets tests run the authority on a simulated timescale. It is
	// propagated to the consensus engine and opened wallets unless they
	// carry their own. A nil clock selects the system clock.
	Clock mclock.Clock `toml:"-"`
}

// DefaultConfig contains the default configurations of the settlement
// authority.
var DefaultConfig = Config{
	Consensus:           bft.DefaultConfig,
	Queue:               core.DefaultQueueConfig,
	Wallet:              wallet.DefaultConfig,
	IntermediaryReserve: params.DefaultIntermediaryReserve,
}

// sanitize checks the provided user configurations and changes anything
// that's unreasonable or unworkable. The nested configurations are sanitized
// by their own constructors.
func (config *Config) sanitize() Config {
	conf := *config
	if conf.IntermediaryReserve < 1 {
		log.Warn("Sanitizing invalid intermediary reserve", "provided", conf.IntermediaryReserve, "updated", DefaultConfig.IntermediaryReserve)
		conf.IntermediaryReserve = DefaultConfig.IntermediaryReserve
	}
	return conf
}

// LedgerInfo is a point-in-time summary of the chain and the queue.
type LedgerInfo struct {
	Height  uint64      `json:"height"`
	TipHash common.Hash `json:"tip_hash"`
	Pending int         `json:"pending"`
	Valid   bool        `json:"valid"`
}

// HistoryFilter selects committed transactions for TransactionHistory. Zero
// fields match everything.
type HistoryFilter struct {
	Account string // matches sender or recipient when non-empty
	Kind    string // canonical kind name when non-empty
}

func (f HistoryFilter) match(tx *types.Transaction) bool {
	if f.Account != "" && tx.Sender() != f.Account && tx.Recipient() != f.Account {
		return false
	}
	if f.Kind != "" && tx.Kind().String() != f.Kind {
		return false
	}
	return true
}

// Authority is the central settlement service. One instance owns the whole
// core: external callers submit through its methods and read back through
// point-in-time copies, never through shared mutable state.
//
// Balances move in two phases. Submission validates preconditions and
// enqueues a signed transaction; nothing changes yet. ProcessPending drafts
// queued transactions into blocks, runs consensus and settles each committed
// block through the post-commit hooks, which are the only writers of durable
// balance state.
type Authority struct {
	config Config
	clock  mclock.Clock
	secret []byte // signing secret for authority-synthesized transactions

	ledger   *core.Ledger
	queue    *core.TxQueue
	engine   *bft.Engine
	registry *contracts.Registry
	audit    *AuditLog

	mu             sync.RWMutex
	owners         map[string]*owner
	intermediaries map[string]*intermediary
	emissions      map[string]*emission
	secrets        map[string][]byte // owner id -> wallet signing secret
	reserve        types.Amount      // issuable digital reserve
	emitted        types.Amount      // total issued so far
	settled        mapset.Set[string]
	results        map[common.Hash]types.Receipts
	store          *SnapshotStore // nil until attached
	running        bool

	receiptFeed event.FeedOf[ReceiptsEvent]
	scope       event.SubscriptionScope

	logger log.Logger
}

// New creates a settlement authority with a fresh genesis ledger and an
// in-process replica set. The authority accepts submissions only after Start.
func New(config Config) (*Authority, error) {
	conf := (&config).sanitize()

	clock := conf.Clock
	if clock == nil {
		clock = mclock.System{}
	}
	if conf.Consensus.Clock == nil {
		conf.Consensus.Clock = clock
	}
	if conf.Wallet.Clock == nil {
		conf.Wallet.Clock = clock
	}
	secret, err := crypto.DeriveSecret(params.AuthorityID, authoritySalt)
	if err != nil {
		return nil, err
	}
	a := &Authority{
		config:         conf,
		clock:          clock,
		secret:         secret,
		registry:       contracts.NewRegistry(),
		audit:          NewAuditLog(),
		owners:         make(map[string]*owner),
		intermediaries: make(map[string]*intermediary),
		emissions:      make(map[string]*emission),
		secrets:        make(map[string][]byte),
		reserve:        params.InitialAuthorityReserve,
		settled:        mapset.NewSet[string](),
		results:        make(map[common.Hash]types.Receipts),
		logger:         log.New("module", "authority"),
	}
	a.ledger = core.NewLedger()
	a.queue = core.NewTxQueue(conf.Queue, a.ledger)
	a.engine = bft.New(conf.Consensus, a.ledger, a.validateBatch)

	reserveGauge.Update(int64(a.reserve))
	return a, nil
}

// Start brings the replica set online. It is idempotent.
func (a *Authority) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}
	if err := a.engine.Start(); err != nil {
		return err
	}
	a.running = true
	a.audit.Recordf("start", params.AuthorityID, "replicas=%d reserve=%s", a.config.Consensus.ReplicaCount, a.reserve)
	a.logger.Info("Settlement authority started", "replicas", a.config.Consensus.ReplicaCount, "reserve", a.reserve)
	return nil
}

// Stop halts the consensus engine, closes every wallet's event feed and
// unsubscribes all listeners. The registries stay readable.
func (a *Authority) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	wallets := make([]*wallet.Wallet, 0, len(a.owners))
	for _, o := range a.owners {
		if o.wallet != nil {
			wallets = append(wallets, o.wallet)
		}
	}
	a.mu.Unlock()

	a.engine.Stop()
	for _, w := range wallets {
		w.Stop()
	}
	a.queue.Stop()
	a.ledger.Stop()
	a.scope.Close()
	a.audit.Record("stop", params.AuthorityID, "authority stopped")
	a.logger.Info("Settlement authority stopped")
}

// Ledger returns the authoritative chain.
func (a *Authority) Ledger() *core.Ledger { return a.ledger }

// Queue returns the pending transaction queue.
func (a *Authority) Queue() *core.TxQueue { return a.queue }

// Engine returns the consensus engine driving this authority.
func (a *Authority) Engine() *bft.Engine { return a.engine }

// Registry returns the smart-contract registry.
func (a *Authority) Registry() *contracts.Registry { return a.registry }

// Audit returns the append-only operational record.
func (a *Authority) Audit() *AuditLog { return a.audit }

// AttachSnapshotStore wires a persistent store; Snapshot saves into it and
// ProcessPending persists one snapshot after every successful run.
func (a *Authority) AttachSnapshotStore(store *SnapshotStore) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.store = store
}

// RegisterOwner adds a wallet owner to the registry and grants the initial
// non-digital cash balance. No transaction is recorded: owners enter the
// ledger the first time value moves through them.
func (a *Authority) RegisterOwner(category Category) (string, error) {
	if category > CategoryLegalEntity {
		return "", fmt.Errorf("%w: unknown owner category %d", core.ErrValidation, category)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	o := &owner{
		id:        newID("USER"),
		category:  category,
		cash:      params.InitialOwnerCash,
		createdAt: time.Now(),
	}
	a.owners[o.id] = o

	ownerCounter.Inc(1)
	a.audit.Recordf("register_owner", o.id, "category=%s cash=%s", category, o.cash)
	a.logger.Info("Registered owner", "id", o.id, "category", category)
	return o.id, nil
}

// OpenWallet opens the owner's digital wallet, deriving its signing secret
// from the owner id. With enableOffline set the offline tier is activated
// immediately and its expiry window starts counting.
func (a *Authority) OpenWallet(ownerID string, enableOffline bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.owners[ownerID]
	if !ok {
		return fmt.Errorf("%w: unknown owner %s", core.ErrValidation, ownerID)
	}
	if o.wallet != nil {
		return fmt.Errorf("%w: owner %s already has a wallet", core.ErrValidation, ownerID)
	}
	secret, err := crypto.DeriveSecret(ownerID, authoritySalt)
	if err != nil {
		return err
	}
	o.wallet = wallet.New(ownerID, a.config.Wallet)
	if enableOffline {
		o.wallet.EnableOffline()
	}
	a.secrets[ownerID] = secret

	a.audit.Recordf("open_wallet", ownerID, "offline=%t", enableOffline)
	a.logger.Info("Opened wallet", "owner", ownerID, "offline", enableOffline)
	return nil
}

// WalletOf returns the owner's wallet for direct protocol interaction, e.g.
// withdrawing to the offline tier or creating offline transfers while
// disconnected.
func (a *Authority) WalletOf(ownerID string) (*wallet.Wallet, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	o, ok := a.owners[ownerID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown owner %s", core.ErrValidation, ownerID)
	}
	if o.wallet == nil {
		return nil, fmt.Errorf("%w: owner %s has no wallet", core.ErrValidation, ownerID)
	}
	return o.wallet, nil
}

// Owner returns a point-in-time copy of the owner record.
func (a *Authority) Owner(id string) (OwnerInfo, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	o, ok := a.owners[id]
	if !ok {
		return OwnerInfo{}, fmt.Errorf("%w: unknown owner %s", core.ErrValidation, id)
	}
	return o.info(), nil
}

// Owners returns copies of all owner records, ordered by id.
func (a *Authority) Owners() []OwnerInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]OwnerInfo, 0, len(a.owners))
	for _, o := range a.owners {
		out = append(out, o.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RegisterIntermediary adds a commercial intermediary in the PENDING state,
// granting the configured non-digital reserve, and records the registration
// on the ledger through a zero-amount REGISTRATION transaction.
func (a *Authority) RegisterIntermediary(name, routingCode string) (string, error) {
	if name == "" || routingCode == "" {
		return "", fmt.Errorf("%w: intermediary name and routing code are required", core.ErrValidation)
	}
	a.mu.Lock()
	in := &intermediary{
		id:           newID("BANK"),
		name:         name,
		routing:      routingCode,
		status:       StatusPending,
		nonDigital:   a.config.IntermediaryReserve,
		registeredAt: time.Now(),
	}
	a.intermediaries[in.id] = in
	a.mu.Unlock()

	tx, err := types.NewTransaction(params.AuthorityID, in.id, 0, types.KindRegistration, map[string]string{
		MetaName:    name,
		MetaRouting: routingCode,
		MetaStatus:  StatusPending.String(),
	})
	if err != nil {
		return "", err
	}
	if err := a.enqueueSigned(tx); err != nil {
		return "", err
	}
	intermediaryCounter.Inc(1)
	a.audit.Recordf("register_intermediary", in.id, "name=%q routing=%s reserve=%s", name, routingCode, a.config.IntermediaryReserve)
	a.logger.Info("Registered intermediary", "id", in.id, "name", name, "routing", routingCode)
	return in.id, nil
}

// SetIntermediaryStatus moves an intermediary through its lifecycle. The
// change takes effect immediately and is recorded on the ledger through a
// zero-amount REGISTRATION transaction settled with the next block.
func (a *Authority) SetIntermediaryStatus(id string, status IntermediaryStatus) error {
	if status > StatusSuspended {
		return fmt.Errorf("%w: unknown intermediary status %d", core.ErrValidation, status)
	}
	a.mu.Lock()
	in, ok := a.intermediaries[id]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: unknown intermediary %s", core.ErrValidation, id)
	}
	prev := in.status
	in.status = status
	a.mu.Unlock()

	tx, err := types.NewTransaction(params.AuthorityID, id, 0, types.KindRegistration, map[string]string{
		MetaStatus: status.String(),
	})
	if err != nil {
		return err
	}
	if err := a.enqueueSigned(tx); err != nil {
		return err
	}
	a.audit.Recordf("set_intermediary_status", id, "%s -> %s", prev, status)
	a.logger.Info("Intermediary status changed", "id", id, "from", prev, "to", status)
	return nil
}

// Intermediary returns a point-in-time copy of the intermediary record.
func (a *Authority) Intermediary(id string) (IntermediaryInfo, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	in, ok := a.intermediaries[id]
	if !ok {
		return IntermediaryInfo{}, fmt.Errorf("%w: unknown intermediary %s", core.ErrValidation, id)
	}
	return in.info(), nil
}

// Intermediaries returns copies of all intermediary records, ordered by id.
func (a *Authority) Intermediaries() []IntermediaryInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]IntermediaryInfo, 0, len(a.intermediaries))
	for _, in := range a.intermediaries {
		out = append(out, in.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RequestEmission files an intermediary's request for newly issued digital
// currency. The request waits for an operator decision; nothing is enqueued
// yet.
func (a *Authority) RequestEmission(intermediaryID string, amount types.Amount, purpose string) (string, error) {
	if amount < a.config.Queue.MinAmount {
		return "", fmt.Errorf("%w: emission amount %s below minimum %s", core.ErrValidation, amount, a.config.Queue.MinAmount)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.intermediaries[intermediaryID]; !ok {
		return "", fmt.Errorf("%w: unknown intermediary %s", core.ErrValidation, intermediaryID)
	}
	req := &emission{
		id:           newID("REQ"),
		intermediary: intermediaryID,
		amount:       amount,
		purpose:      purpose,
		state:        EmissionRequested,
		createdAt:    time.Now(),
	}
	a.emissions[req.id] = req

	emissionReqCounter.Inc(1)
	a.audit.Recordf("request_emission", intermediaryID, "request=%s amount=%s purpose=%q", req.id, amount, purpose)
	a.logger.Info("Emission requested", "request", req.id, "intermediary", intermediaryID, "amount", amount)
	return req.id, nil
}

// DecideEmission resolves a pending emission request. Approval synthesizes a
// signed ISSUANCE transaction and enqueues it; balances move only when that
// transaction settles. Rejection is final.
func (a *Authority) DecideEmission(requestID string, approve bool) error {
	a.mu.Lock()
	req, ok := a.emissions[requestID]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: unknown emission request %s", core.ErrValidation, requestID)
	}
	if req.state != EmissionRequested {
		a.mu.Unlock()
		return fmt.Errorf("%w: emission request %s already %s", core.ErrValidation, requestID, req.state)
	}
	if !approve {
		req.state = EmissionRejected
		req.decidedAt = time.Now()
		a.mu.Unlock()

		emissionRejCounter.Inc(1)
		a.audit.Recordf("reject_emission", req.intermediary, "request=%s amount=%s", requestID, req.amount)
		a.logger.Info("Emission rejected", "request", requestID, "intermediary", req.intermediary)
		return nil
	}
	in := a.intermediaries[req.intermediary]
	switch {
	case in.status != StatusActive:
		a.mu.Unlock()
		return fmt.Errorf("%w: intermediary %s is %s, not ACTIVE", core.ErrValidation, in.id, in.status)
	case in.nonDigital < req.amount:
		a.mu.Unlock()
		return fmt.Errorf("%w: intermediary %s holds %s non-digital, needs %s", core.ErrInsufficientFunds, in.id, in.nonDigital, req.amount)
	case a.reserve < req.amount:
		a.mu.Unlock()
		return fmt.Errorf("%w: authority reserve %s below emission %s", core.ErrInsufficientFunds, a.reserve, req.amount)
	}
	// Decide while still holding the lock so a concurrent call cannot race
	// in a second ISSUANCE for the same request.
	req.state = EmissionApproved
	req.decidedAt = time.Now()
	intermediaryID, amount, purpose := req.intermediary, req.amount, req.purpose
	a.mu.Unlock()

	tx, err := types.NewTransaction(params.AuthorityID, intermediaryID, amount, types.KindIssuance, map[string]string{
		MetaRequest: requestID,
		MetaPurpose: purpose,
	})
	if err == nil {
		err = a.enqueueSigned(tx)
	}
	if err != nil {
		a.mu.Lock()
		req.state = EmissionRequested
		req.decidedAt = time.Time{}
		a.mu.Unlock()
		return err
	}
	a.mu.Lock()
	req.txID = tx.ID()
	a.mu.Unlock()

	emissionAppCounter.Inc(1)
	a.audit.Recordf("approve_emission", intermediaryID, "request=%s amount=%s tx=%s", requestID, amount, tx.ID())
	a.logger.Info("Emission approved", "request", requestID, "intermediary", intermediaryID, "amount", amount, "tx", tx.ID())
	return nil
}

// Emission returns a point-in-time copy of an emission request.
func (a *Authority) Emission(id string) (EmissionInfo, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	req, ok := a.emissions[id]
	if !ok {
		return EmissionInfo{}, fmt.Errorf("%w: unknown emission request %s", core.ErrValidation, id)
	}
	return req.info(), nil
}

// Emissions returns copies of all emission requests, oldest first.
func (a *Authority) Emissions() []EmissionInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]EmissionInfo, 0, len(a.emissions))
	for _, req := range a.emissions {
		out = append(out, req.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TotalEmitted returns the digital currency issued so far.
func (a *Authority) TotalEmitted() types.Amount {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.emitted
}

// Reserve returns the authority's remaining issuable reserve.
func (a *Authority) Reserve() types.Amount {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.reserve
}

// Exchange converts part of an owner's non-digital cash into online digital
// balance through an ACTIVE intermediary. The four balance movements settle
// atomically when the EXCHANGE transaction commits.
func (a *Authority) Exchange(ownerID, intermediaryID string, amount types.Amount) (string, error) {
	a.mu.RLock()
	o, ok := a.owners[ownerID]
	if !ok {
		a.mu.RUnlock()
		return "", fmt.Errorf("%w: unknown owner %s", core.ErrValidation, ownerID)
	}
	if o.wallet == nil {
		a.mu.RUnlock()
		return "", fmt.Errorf("%w: owner %s has no wallet", core.ErrValidation, ownerID)
	}
	in, ok := a.intermediaries[intermediaryID]
	switch {
	case !ok:
		a.mu.RUnlock()
		return "", fmt.Errorf("%w: unknown intermediary %s", core.ErrValidation, intermediaryID)
	case in.status != StatusActive:
		a.mu.RUnlock()
		return "", fmt.Errorf("%w: intermediary %s is %s, not ACTIVE", core.ErrValidation, intermediaryID, in.status)
	case o.cash < amount:
		a.mu.RUnlock()
		return "", fmt.Errorf("%w: owner %s holds %s cash, needs %s", core.ErrInsufficientFunds, ownerID, o.cash, amount)
	case in.digital < amount:
		a.mu.RUnlock()
		return "", fmt.Errorf("%w: intermediary %s holds %s digital, needs %s", core.ErrInsufficientFunds, intermediaryID, in.digital, amount)
	}
	a.mu.RUnlock()

	tx, err := types.NewTransaction(intermediaryID, ownerID, amount, types.KindExchange, nil)
	if err != nil {
		return "", err
	}
	if err := a.enqueueSigned(tx); err != nil {
		return "", err
	}
	a.audit.Recordf("exchange", ownerID, "intermediary=%s amount=%s tx=%s", intermediaryID, amount, tx.ID())
	a.logger.Info("Exchange submitted", "owner", ownerID, "intermediary", intermediaryID, "amount", amount, "tx", tx.ID())
	return tx.ID(), nil
}

// SubmitOnlineTransfer queues a transfer between two online wallets. The
// balance check here is advisory; the authoritative check runs again in the
// post-commit hook.
func (a *Authority) SubmitOnlineTransfer(sender, recipient string, amount types.Amount) (string, error) {
	if sender == recipient {
		return "", fmt.Errorf("%w: transfer to self", core.ErrValidation)
	}
	a.mu.RLock()
	from, ok := a.owners[sender]
	if !ok || from.wallet == nil {
		a.mu.RUnlock()
		return "", fmt.Errorf("%w: sender %s has no wallet", core.ErrValidation, sender)
	}
	to, ok := a.owners[recipient]
	if !ok || to.wallet == nil {
		a.mu.RUnlock()
		return "", fmt.Errorf("%w: recipient %s has no wallet", core.ErrValidation, recipient)
	}
	if have := from.wallet.OnlineBalance(); have < amount {
		a.mu.RUnlock()
		return "", fmt.Errorf("%w: sender %s holds %s online, needs %s", core.ErrInsufficientFunds, sender, have, amount)
	}
	a.mu.RUnlock()

	tx, err := types.NewTransaction(sender, recipient, amount, types.KindOnlineTransfer, nil)
	if err != nil {
		return "", err
	}
	if err := a.enqueueSigned(tx); err != nil {
		return "", err
	}
	a.logger.Info("Online transfer submitted", "from", sender, "to", recipient, "amount", amount, "tx", tx.ID())
	return tx.ID(), nil
}

// SubmitOfflineTransfer creates an offline transfer inside the sender's
// wallet. The transfer stays pending on the device and reaches the queue
// only through ReconnectWallet.
func (a *Authority) SubmitOfflineTransfer(sender, recipient string, amount types.Amount) (string, error) {
	if amount < a.config.Queue.MinAmount {
		return "", fmt.Errorf("%w: amount %s below minimum %s", core.ErrValidation, amount, a.config.Queue.MinAmount)
	}
	a.mu.RLock()
	from, ok := a.owners[sender]
	if !ok || from.wallet == nil {
		a.mu.RUnlock()
		return "", fmt.Errorf("%w: sender %s has no wallet", core.ErrValidation, sender)
	}
	to, ok := a.owners[recipient]
	if !ok || to.wallet == nil {
		a.mu.RUnlock()
		return "", fmt.Errorf("%w: recipient %s has no wallet", core.ErrValidation, recipient)
	}
	w, secret := from.wallet, a.secrets[sender]
	a.mu.RUnlock()

	tx, err := w.CreateOfflineTransfer(recipient, amount, secret)
	if err != nil {
		return "", err
	}
	a.logger.Info("Offline transfer created", "from", sender, "to", recipient, "amount", amount, "tx", tx.ID())
	return tx.ID(), nil
}

// ReconnectWallet flushes the wallet's pending offline transfers into the
// queue and returns the number enqueued. Reconnecting twice before the queue
// drains re-enqueues the same ids; settlement applies the first copy and
// rejects the rest, so the call is idempotent in effect.
func (a *Authority) ReconnectWallet(ownerID string) (int, error) {
	a.mu.RLock()
	o, ok := a.owners[ownerID]
	if !ok || o.wallet == nil {
		a.mu.RUnlock()
		return 0, fmt.Errorf("%w: owner %s has no wallet", core.ErrValidation, ownerID)
	}
	w := o.wallet
	a.mu.RUnlock()

	pending := w.Reconnect()
	enqueued := 0
	for _, tx := range pending {
		if err := a.queue.Add(tx); err != nil {
			// Already committed in an earlier block; nothing to resubmit.
			a.logger.Debug("Skipped pending transfer on reconnect", "tx", tx.ID(), "err", err)
			continue
		}
		enqueued++
	}
	a.audit.Recordf("reconnect_wallet", ownerID, "pending=%d enqueued=%d", len(pending), enqueued)
	a.logger.Info("Wallet reconnected", "owner", ownerID, "pending", len(pending), "enqueued", enqueued)
	return enqueued, nil
}

// ContractCreate registers a contract with its initial storage.
func (a *Authority) ContractCreate(id, creator string, storage map[string]int64) error {
	if err := a.registry.Create(id, creator, storage); err != nil {
		return err
	}
	a.audit.Recordf("contract_create", creator, "contract=%s keys=%d", id, len(storage))
	return nil
}

// ContractCall queues an invocation of a builtin contract method. The method
// runs in the post-commit hook; its result lands in the audit log and the
// block's receipts. Unknown methods are rejected synchronously.
func (a *Authority) ContractCall(id, method string, args map[string]string, caller string) (string, error) {
	if caller == "" {
		return "", fmt.Errorf("%w: contract call requires a caller", core.ErrValidation)
	}
	if !a.registry.Exists(id) {
		return "", fmt.Errorf("%w: unknown contract %s", core.ErrValidation, id)
	}
	switch method {
	case contracts.MethodBalanceOf, contracts.MethodTransfer, contracts.MethodEmit:
	default:
		return "", fmt.Errorf("%w: %s.%s", core.ErrContractMethodUnknown, id, method)
	}
	// The transfer value rides along as the transaction amount so the
	// drafted block reflects what the call moves; other methods move no
	// value and carry the minimum. Contract storage units map one-to-one
	// onto minor units.
	amount := a.config.Queue.MinAmount
	if method == contracts.MethodTransfer {
		v, err := strconv.ParseInt(args[contracts.ArgAmount], 10, 64)
		if err != nil || v <= 0 {
			return "", fmt.Errorf("%w: bad transfer amount %q", core.ErrValidation, args[contracts.ArgAmount])
		}
		amount = types.Amount(v)
	}
	metadata := make(map[string]string, len(args)+1)
	for k, v := range args {
		metadata[k] = v
	}
	metadata[MetaMethod] = method

	tx, err := types.NewTransaction(caller, id, amount, types.KindContractCall, metadata)
	if err != nil {
		return "", err
	}
	if err := a.enqueueSigned(tx); err != nil {
		return "", err
	}
	a.audit.Recordf("contract_call", caller, "contract=%s method=%s tx=%s", id, method, tx.ID())
	a.logger.Info("Contract call submitted", "contract", id, "method", method, "caller", caller, "tx", tx.ID())
	return tx.ID(), nil
}

// ProcessPending drafts queued transactions into blocks and drives consensus
// until the queue drains, settling every committed block before drafting the
// next. It returns the hashes of the blocks committed by this call.
//
// A consensus timeout stops the run and surfaces to the caller; the drafted
// transactions stay queued for a retry. Safety violations and ledger
// conflicts are invariant breaches: they write a final audit entry and halt
// the process.
func (a *Authority) ProcessPending() ([]common.Hash, error) {
	a.mu.RLock()
	running := a.running
	a.mu.RUnlock()
	if !running {
		return nil, fmt.Errorf("%w: authority not started", core.ErrValidation)
	}
	var hashes []common.Hash
	for {
		batch := a.queue.Draft(0)
		if len(batch) == 0 {
			break
		}
		block, err := a.engine.ProcessBatch(batch)
		if err != nil {
			if errors.Is(err, core.ErrConsensusTimeout) {
				a.audit.Recordf("consensus_timeout", params.AuthorityID, "txs=%d err=%v", len(batch), err)
				a.logger.Warn("Consensus timed out, batch remains queued", "txs", len(batch), "err", err)
				return hashes, err
			}
			if errors.Is(err, consensus.ErrSafetyViolation) || errors.Is(err, core.ErrLedgerConflict) {
				a.audit.Recordf("invariant_violation", params.AuthorityID, "err=%v", err)
				a.logger.Crit("Consensus invariant violated", "err", err)
			}
			return hashes, err
		}
		receipts := a.settle(block)
		a.queue.Remove(blockTxIDs(block))
		hashes = append(hashes, block.Hash())

		a.receiptFeed.Send(ReceiptsEvent{Block: block, Receipts: receipts})
		a.audit.Recordf("commit", block.Proposer(), "height=%d hash=%s txs=%d rejected=%d",
			block.Height(), block.Hash().TerminalString(), block.TxCount(), receipts.Rejected())
	}
	if a.snapshotStore() != nil && len(hashes) > 0 {
		if _, err := a.Snapshot(); err != nil {
			a.logger.Warn("Snapshot after settlement failed", "err", err)
		}
	}
	return hashes, nil
}

// Receipts returns the settlement result view of a committed block, or nil
// if the hash is unknown.
func (a *Authority) Receipts(blockHash common.Hash) types.Receipts {
	a.mu.RLock()
	defer a.mu.RUnlock()

	receipts, ok := a.results[blockHash]
	if !ok {
		return nil
	}
	out := make(types.Receipts, len(receipts))
	copy(out, receipts)
	return out
}

// SubscribeReceiptsEvent registers a subscription for per-block settlement
// results.
func (a *Authority) SubscribeReceiptsEvent(ch chan<- ReceiptsEvent) event.Subscription {
	return a.scope.Track(a.receiptFeed.Subscribe(ch))
}

// LedgerInfo summarizes the chain and queue state.
func (a *Authority) LedgerInfo() LedgerInfo {
	return LedgerInfo{
		Height:  a.ledger.Height(),
		TipHash: a.ledger.CurrentBlock().Hash(),
		Pending: a.queue.Len(),
		Valid:   a.ledger.ValidateChain() == nil,
	}
}

// TransactionHistory returns the committed transactions matching the filter,
// in chain order.
func (a *Authority) TransactionHistory(filter HistoryFilter) types.Transactions {
	return a.ledger.IterTransactions(filter.match)
}

// enqueueSigned tags an authority-synthesized transaction and adds it to the
// pending queue.
func (a *Authority) enqueueSigned(tx *types.Transaction) error {
	if err := tx.Sign(a.secret); err != nil {
		return err
	}
	return a.queue.Add(tx)
}

func (a *Authority) snapshotStore() *SnapshotStore {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.store
}

func blockTxIDs(block *types.Block) []string {
	txs := block.Transactions()
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID()
	}
	return ids
}
