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

package wallet

import (
	"errors"
	"testing"
	"time"

	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/common/mclock"
	"github.com/cbdx/go-cbdx/core"
	"github.com/cbdx/go-cbdx/core/types"
)

var testSecret = []byte("wallet test secret")

// newFundedWallet builds an offline-enabled wallet holding 500 minor units
// online.
func newFundedWallet(t *testing.T, clock mclock.Clock) *Wallet {
	t.Helper()

	w := New("alice", Config{Expiry: time.Hour, MaxBalance: 1000, Clock: clock})
	w.EnableOffline()
	if err := w.Credit(500, "bank", "", common.ZeroHash); err != nil {
		t.Fatalf("failed to fund wallet: %v", err)
	}
	return w
}

func TestWalletCreditDebit(t *testing.T) {
	w := New("alice", Config{})

	if err := w.Credit(500, "bank", "tx-1", common.ZeroHash); err != nil {
		t.Fatalf("failed to credit: %v", err)
	}
	if err := w.Debit(200, "bob", "tx-2", common.ZeroHash); err != nil {
		t.Fatalf("failed to debit: %v", err)
	}
	if have, want := w.OnlineBalance(), types.Amount(300); have != want {
		t.Fatalf("online balance: have %s, want %s", have, want)
	}
	// A short balance refuses the debit and stays untouched.
	if err := w.Debit(400, "bob", "tx-3", common.ZeroHash); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("overdraft: have %v, want %v", err, core.ErrInsufficientFunds)
	}
	if have, want := w.OnlineBalance(), types.Amount(300); have != want {
		t.Fatalf("online balance after refused debit: have %s, want %s", have, want)
	}
	if err := w.Credit(0, "bank", "", common.ZeroHash); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("zero credit: have %v, want %v", err, core.ErrValidation)
	}

	history := w.History()
	if len(history) != 2 {
		t.Fatalf("history length: have %d, want 2", len(history))
	}
	if history[0].Kind != RecordDeposit || history[1].Kind != RecordWithdrawal {
		t.Fatalf("history kinds: have %s, %s, want deposit, withdrawal", history[0].Kind, history[1].Kind)
	}
}

func TestWalletWithdrawToOffline(t *testing.T) {
	w := newFundedWallet(t, nil)

	if err := w.WithdrawToOffline(100); err != nil {
		t.Fatalf("failed to withdraw: %v", err)
	}
	if have, want := w.OnlineBalance(), types.Amount(400); have != want {
		t.Fatalf("online balance: have %s, want %s", have, want)
	}
	if have, want := w.OfflineBalance(), types.Amount(100); have != want {
		t.Fatalf("offline balance: have %s, want %s", have, want)
	}
	// The cap fences the offline balance, not single withdrawals.
	if err := w.WithdrawToOffline(950); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("cap overflow: have %v, want %v", err, core.ErrValidation)
	}
	if err := w.WithdrawToOffline(450); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("online overdraft: have %v, want %v", err, core.ErrInsufficientFunds)
	}
	if have, want := w.OfflineBalance(), types.Amount(100); have != want {
		t.Fatalf("offline balance after refusals: have %s, want %s", have, want)
	}
}

func TestWalletRequiresOfflineActivation(t *testing.T) {
	w := New("alice", Config{})
	if err := w.Credit(500, "bank", "", common.ZeroHash); err != nil {
		t.Fatalf("failed to fund wallet: %v", err)
	}

	if err := w.WithdrawToOffline(100); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("withdraw without activation: have %v, want %v", err, core.ErrValidation)
	}
	if _, err := w.CreateOfflineTransfer("bob", 50, testSecret); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("transfer without activation: have %v, want %v", err, core.ErrValidation)
	}
	w.EnableOffline()
	if err := w.WithdrawToOffline(100); err != nil {
		t.Fatalf("failed to withdraw after activation: %v", err)
	}
}

func TestWalletOfflineTransferLifecycle(t *testing.T) {
	w := newFundedWallet(t, nil)
	if err := w.WithdrawToOffline(100); err != nil {
		t.Fatalf("failed to withdraw: %v", err)
	}

	tx, err := w.CreateOfflineTransfer("bob", 40, testSecret)
	if err != nil {
		t.Fatalf("failed to create offline transfer: %v", err)
	}
	if have, want := w.OfflineBalance(), types.Amount(60); have != want {
		t.Fatalf("offline balance: have %s, want %s", have, want)
	}
	if w.PendingCount() != 1 {
		t.Fatalf("pending count: have %d, want 1", w.PendingCount())
	}
	if !tx.Offline() {
		t.Fatal("offline transfer not flagged offline")
	}
	if !tx.Verify(testSecret) {
		t.Fatal("offline transfer does not verify under its secret")
	}
	if tx.Verify([]byte("wrong secret")) {
		t.Fatal("offline transfer verifies under a wrong secret")
	}

	blockHash := common.BytesToHash([]byte("block-1"))
	if err := w.ConfirmOffline(tx.ID(), blockHash); err != nil {
		t.Fatalf("failed to confirm: %v", err)
	}
	if w.PendingCount() != 0 {
		t.Fatalf("pending count after confirm: have %d, want 0", w.PendingCount())
	}
	if tx.Status() != types.StatusConfirmed {
		t.Fatalf("transaction status: have %s, want %s", tx.Status(), types.StatusConfirmed)
	}
	if hashes := w.WitnessedCommits(); len(hashes) != 1 || hashes[0] != blockHash {
		t.Fatalf("witnessed commits: have %v, want [%s]", hashes, blockHash)
	}
	// A transfer confirms exactly once.
	if err := w.ConfirmOffline(tx.ID(), blockHash); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("double confirm: have %v, want %v", err, core.ErrValidation)
	}

	history := w.History()
	last := history[len(history)-1]
	if last.Kind != RecordConfirmed || last.BlockHash != blockHash || last.TxID != tx.ID() {
		t.Fatalf("confirm record: have %+v", last)
	}
}

func TestWalletOfflineOverdraft(t *testing.T) {
	w := newFundedWallet(t, nil)
	if err := w.WithdrawToOffline(100); err != nil {
		t.Fatalf("failed to withdraw: %v", err)
	}

	if _, err := w.CreateOfflineTransfer("bob", 140, testSecret); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("offline overdraft: have %v, want %v", err, core.ErrInsufficientFunds)
	}
	if _, err := w.CreateOfflineTransfer("alice", 10, testSecret); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("self transfer: have %v, want %v", err, core.ErrValidation)
	}
	if have, want := w.OfflineBalance(), types.Amount(100); have != want {
		t.Fatalf("offline balance after refusals: have %s, want %s", have, want)
	}
	if w.PendingCount() != 0 {
		t.Fatalf("pending count: have %d, want 0", w.PendingCount())
	}
}

func TestWalletExpiry(t *testing.T) {
	clock := new(mclock.Simulated)
	w := newFundedWallet(t, clock)
	if err := w.WithdrawToOffline(100); err != nil {
		t.Fatalf("failed to withdraw: %v", err)
	}
	// One transfer goes out inside the window.
	tx, err := w.CreateOfflineTransfer("bob", 30, testSecret)
	if err != nil {
		t.Fatalf("failed to create offline transfer: %v", err)
	}

	clock.Run(time.Hour)
	if !w.Expired() {
		t.Fatal("wallet not expired after its window")
	}
	if _, err := w.CreateOfflineTransfer("bob", 10, testSecret); !errors.Is(err, core.ErrWalletExpired) {
		t.Fatalf("transfer after expiry: have %v, want %v", err, core.ErrWalletExpired)
	}
	if err := w.WithdrawToOffline(10); !errors.Is(err, core.ErrWalletExpired) {
		t.Fatalf("withdraw after expiry: have %v, want %v", err, core.ErrWalletExpired)
	}
	// Pending transfers created before expiry still settle.
	if err := w.ConfirmOffline(tx.ID(), common.BytesToHash([]byte("block-9"))); err != nil {
		t.Fatalf("failed to confirm pending transfer on expired wallet: %v", err)
	}
	if have, want := w.OfflineBalance(), types.Amount(70); have != want {
		t.Fatalf("offline balance: have %s, want %s", have, want)
	}
}

func TestWalletReconnectHandsOutPending(t *testing.T) {
	w := newFundedWallet(t, nil)
	if err := w.WithdrawToOffline(100); err != nil {
		t.Fatalf("failed to withdraw: %v", err)
	}

	tx1, err := w.CreateOfflineTransfer("bob", 10, testSecret)
	if err != nil {
		t.Fatalf("failed to create offline transfer: %v", err)
	}
	tx2, err := w.CreateOfflineTransfer("carol", 20, testSecret)
	if err != nil {
		t.Fatalf("failed to create offline transfer: %v", err)
	}

	// Pending transfers flush in creation order, and a second reconnect
	// before settlement hands out the same set again.
	for i := 0; i < 2; i++ {
		pending := w.Reconnect()
		if len(pending) != 2 {
			t.Fatalf("reconnect %d pending: have %d, want 2", i, len(pending))
		}
		if pending[0].ID() != tx1.ID() || pending[1].ID() != tx2.ID() {
			t.Fatalf("reconnect %d order: have %s, %s", i, pending[0].ID(), pending[1].ID())
		}
	}

	if err := w.ConfirmOffline(tx1.ID(), common.BytesToHash([]byte("block-2"))); err != nil {
		t.Fatalf("failed to confirm: %v", err)
	}
	pending := w.Reconnect()
	if len(pending) != 1 || pending[0].ID() != tx2.ID() {
		t.Fatalf("pending after confirm: have %v, want [%s]", pending.IDs(), tx2.ID())
	}
}

func TestWalletDeactivation(t *testing.T) {
	w := newFundedWallet(t, nil)
	if err := w.WithdrawToOffline(100); err != nil {
		t.Fatalf("failed to withdraw: %v", err)
	}
	w.Deactivate()

	if _, err := w.CreateOfflineTransfer("bob", 10, testSecret); !errors.Is(err, core.ErrWalletExpired) {
		t.Fatalf("transfer on deactivated wallet: have %v, want %v", err, core.ErrWalletExpired)
	}
	if err := w.WithdrawToOffline(10); !errors.Is(err, core.ErrWalletExpired) {
		t.Fatalf("withdraw on deactivated wallet: have %v, want %v", err, core.ErrWalletExpired)
	}
	// Settlement credits still land.
	if err := w.Credit(50, "bob", "tx-9", common.ZeroHash); err != nil {
		t.Fatalf("failed to credit deactivated wallet: %v", err)
	}
	if have, want := w.OnlineBalance(), types.Amount(450); have != want {
		t.Fatalf("online balance: have %s, want %s", have, want)
	}
}

func TestWalletEvents(t *testing.T) {
	w := newFundedWallet(t, nil)
	defer w.Stop()

	ch := make(chan Event, 4)
	sub := w.SubscribeEvents(ch)
	defer sub.Unsubscribe()

	if err := w.WithdrawToOffline(100); err != nil {
		t.Fatalf("failed to withdraw: %v", err)
	}
	tx, err := w.CreateOfflineTransfer("bob", 25, testSecret)
	if err != nil {
		t.Fatalf("failed to create offline transfer: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Kind != EventOfflineCreated || ev.TxID != tx.ID() || ev.Amount != 25 {
			t.Fatalf("event: have %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event for offline transfer creation")
	}
}
