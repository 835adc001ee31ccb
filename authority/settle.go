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

package authority

import (
	"fmt"

	"github.com/cbdx/go-cbdx/core"
	"github.com/cbdx/go-cbdx/core/types"
)

// validateBatch is the validator every replica runs before voting on a
// proposal. It checks what can be checked without balance state: amounts
// against the configured minimum and signature authenticity. Offline
// transfers carry the owning wallet's tag, everything else the authority's.
func (a *Authority) validateBatch(txs types.Transactions) error {
	for _, tx := range txs {
		if tx.Kind() != types.KindRegistration && tx.Amount() < a.config.Queue.MinAmount {
			return fmt.Errorf("%w: amount %s below minimum %s", core.ErrValidation, tx.Amount(), a.config.Queue.MinAmount)
		}
		secret := a.secret
		if tx.Offline() {
			a.mu.RLock()
			secret = a.secrets[tx.Sender()]
			a.mu.RUnlock()
		}
		if len(secret) == 0 || !tx.Verify(secret) {
			return fmt.Errorf("%w: bad signature on transaction %s", core.ErrValidation, tx.ID())
		}
	}
	return nil
}

// settle runs the post-commit hooks over a freshly committed block. Every
// transaction yields a receipt: either its effects were applied in full or
// it is marked REJECTED and changed nothing. The block itself stays
// committed either way, so the result view is deterministic across restarts
// of the same chain.
func (a *Authority) settle(block *types.Block) types.Receipts {
	a.mu.Lock()
	defer a.mu.Unlock()

	txs := block.Transactions()
	receipts := make(types.Receipts, 0, len(txs))
	for i, tx := range txs {
		receipt := &types.Receipt{
			TxID:        tx.ID(),
			TxHash:      tx.Hash(),
			Status:      types.ReceiptStatusApplied,
			BlockHash:   block.Hash(),
			BlockHeight: block.Height(),
			Index:       uint(i),
		}
		if a.settled.Contains(tx.ID()) {
			// A replayed submission of an id that already settled, e.g.
			// through a double reconnect. The first copy won; this one
			// changes nothing.
			receipt.Status = types.ReceiptStatusRejected
			receipt.Reason = core.ErrorKind(core.ErrDuplicateTransaction)
			settleRejectCounter.Inc(1)
			a.logger.Warn("Rejected replayed transaction at settlement", "tx", tx.ID(), "kind", tx.Kind())
			receipts = append(receipts, receipt)
			continue
		}
		a.settled.Add(tx.ID())
		if err := a.apply(tx, block); err != nil {
			receipt.Status = types.ReceiptStatusRejected
			receipt.Reason = core.ErrorKind(err)
			tx.SetStatus(types.StatusRejected)
			settleRejectCounter.Inc(1)
			a.logger.Warn("Transaction rejected at settlement", "tx", tx.ID(), "kind", tx.Kind(), "err", err)
		} else {
			settleApplyCounter.Inc(1)
		}
		receipts = append(receipts, receipt)
	}
	a.results[block.Hash()] = receipts

	emittedGauge.Update(int64(a.emitted))
	reserveGauge.Update(int64(a.reserve))
	return receipts
}

// apply dispatches one committed transaction to its kind-specific hook. The
// hooks check every precondition before touching state, so a failure leaves
// no partial effects behind.
func (a *Authority) apply(tx *types.Transaction, block *types.Block) error {
	switch tx.Kind() {
	case types.KindRegistration:
		return a.applyRegistration(tx)
	case types.KindIssuance:
		return a.applyIssuance(tx)
	case types.KindExchange:
		return a.applyExchange(tx, block)
	case types.KindOnlineTransfer:
		return a.applyOnlineTransfer(tx, block)
	case types.KindOfflineTransfer:
		return a.applyOfflineTransfer(tx, block)
	case types.KindContractCall:
		return a.applyContractCall(tx, block)
	default:
		return fmt.Errorf("%w: unknown transaction kind %s", core.ErrValidation, tx.Kind())
	}
}

// applyRegistration re-applies an intermediary lifecycle change. The change
// already happened in the registry when it was submitted; settling it again
// is idempotent and keeps the ledger the source of truth for replays.
func (a *Authority) applyRegistration(tx *types.Transaction) error {
	in, ok := a.intermediaries[tx.Recipient()]
	if !ok {
		return fmt.Errorf("%w: unknown intermediary %s", core.ErrValidation, tx.Recipient())
	}
	status, err := ParseIntermediaryStatus(tx.Meta(MetaStatus))
	if err != nil {
		return err
	}
	in.status = status
	return nil
}

// applyIssuance moves newly issued digital currency to an intermediary. The
// intermediary pays with its non-digital reserve, the authority's issuable
// reserve shrinks and the emission counter grows, all in one step.
func (a *Authority) applyIssuance(tx *types.Transaction) error {
	in, ok := a.intermediaries[tx.Recipient()]
	amount := tx.Amount()
	switch {
	case !ok:
		return fmt.Errorf("%w: unknown intermediary %s", core.ErrValidation, tx.Recipient())
	case in.status != StatusActive:
		return fmt.Errorf("%w: intermediary %s is %s, not ACTIVE", core.ErrValidation, in.id, in.status)
	case in.nonDigital < amount:
		return fmt.Errorf("%w: intermediary %s holds %s non-digital, needs %s", core.ErrInsufficientFunds, in.id, in.nonDigital, amount)
	case a.reserve < amount:
		return fmt.Errorf("%w: authority reserve %s below emission %s", core.ErrInsufficientFunds, a.reserve, amount)
	}
	in.digital += amount
	in.nonDigital -= amount
	a.reserve -= amount
	a.emitted += amount
	return nil
}

// applyExchange converts owner cash into online digital balance through an
// intermediary: the owner's cash and the intermediary's digital reserve go
// down, the owner's online balance and the intermediary's non-digital
// reserve go up by the same amount.
func (a *Authority) applyExchange(tx *types.Transaction, block *types.Block) error {
	in, ok := a.intermediaries[tx.Sender()]
	if !ok {
		return fmt.Errorf("%w: unknown intermediary %s", core.ErrValidation, tx.Sender())
	}
	o, ok := a.owners[tx.Recipient()]
	amount := tx.Amount()
	switch {
	case !ok:
		return fmt.Errorf("%w: unknown owner %s", core.ErrValidation, tx.Recipient())
	case o.wallet == nil:
		return fmt.Errorf("%w: owner %s has no wallet", core.ErrValidation, o.id)
	case in.status != StatusActive:
		return fmt.Errorf("%w: intermediary %s is %s, not ACTIVE", core.ErrValidation, in.id, in.status)
	case o.cash < amount:
		return fmt.Errorf("%w: owner %s holds %s cash, needs %s", core.ErrInsufficientFunds, o.id, o.cash, amount)
	case in.digital < amount:
		return fmt.Errorf("%w: intermediary %s holds %s digital, needs %s", core.ErrInsufficientFunds, in.id, in.digital, amount)
	}
	if err := o.wallet.Credit(amount, in.id, tx.ID(), block.Hash()); err != nil {
		return err
	}
	o.cash -= amount
	in.digital -= amount
	in.nonDigital += amount
	return nil
}

// applyOnlineTransfer moves online balance between two wallets. The debit
// carries the authoritative funds check; the credit cannot fail once the
// debit went through.
func (a *Authority) applyOnlineTransfer(tx *types.Transaction, block *types.Block) error {
	from, ok := a.owners[tx.Sender()]
	if !ok || from.wallet == nil {
		return fmt.Errorf("%w: sender %s has no wallet", core.ErrValidation, tx.Sender())
	}
	to, ok := a.owners[tx.Recipient()]
	if !ok || to.wallet == nil {
		return fmt.Errorf("%w: recipient %s has no wallet", core.ErrValidation, tx.Recipient())
	}
	if err := from.wallet.Debit(tx.Amount(), to.id, tx.ID(), block.Hash()); err != nil {
		return err
	}
	return to.wallet.Credit(tx.Amount(), from.id, tx.ID(), block.Hash())
}

// applyOfflineTransfer settles a deferred offline transfer: the sender's
// wallet confirms the pending entry it created while disconnected and the
// recipient's online balance is credited. The sender's balance moved when
// the transfer was created, so no debit happens here.
func (a *Authority) applyOfflineTransfer(tx *types.Transaction, block *types.Block) error {
	from, ok := a.owners[tx.Sender()]
	if !ok || from.wallet == nil {
		return fmt.Errorf("%w: sender %s has no wallet", core.ErrValidation, tx.Sender())
	}
	to, ok := a.owners[tx.Recipient()]
	if !ok || to.wallet == nil {
		return fmt.Errorf("%w: recipient %s has no wallet", core.ErrValidation, tx.Recipient())
	}
	if err := from.wallet.ConfirmOffline(tx.ID(), block.Hash()); err != nil {
		return err
	}
	return to.wallet.Credit(tx.Amount(), from.id, tx.ID(), block.Hash())
}

// applyContractCall dispatches a committed call into the contract registry.
// The registry guarantees a failed call leaves storage and events untouched.
func (a *Authority) applyContractCall(tx *types.Transaction, block *types.Block) error {
	method := tx.Meta(MetaMethod)
	result, err := a.registry.Call(tx.Recipient(), method, tx.Metadata(), block.Timestamp())
	if err != nil {
		return err
	}
	a.audit.Recordf("contract_result", tx.Sender(), "contract=%s method=%s result=%s", tx.Recipient(), method, result)
	return nil
}
