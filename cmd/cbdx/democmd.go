// Copyright 2024 The go-cbdx Authors
// This file is part of go-cbdx.
//
// go-cbdx is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-cbdx is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-cbdx. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cbdx/go-cbdx/authority"
	"github.com/cbdx/go-cbdx/cmd/utils"
	"github.com/cbdx/go-cbdx/contracts"
	"github.com/cbdx/go-cbdx/log"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

var demoCommand = &cli.Command{
	Action:    demo,
	Name:      "demo",
	Usage:     "Run the scripted settlement scenarios end to end",
	ArgsUsage: " ",
	Flags: utils.MergeFlags(
		utils.AuthorityFlags(),
		utils.DatabaseFlags(),
		[]cli.Flag{configFileFlag},
	),
	Description: `
The demo command boots a fresh authority and walks it through the full
settlement lifecycle: intermediary registration and activation, emission,
cash-to-digital exchange, online and offline transfers, a duplicate offline
replay, a silent consensus leader and a failing contract call. It prints
balance and ledger reports after the run and validates the chain.`,
}

func demo(ctx *cli.Context) error {
	cfg := makeConfig(ctx)
	// The silent-leader step waits out a full round, keep the demo snappy
	// unless the user asked for a specific timeout.
	if !ctx.IsSet(utils.RoundTimeoutFlag.Name) {
		cfg.Authority.Consensus.RoundTimeout = time.Second
	}
	a, err := authority.New(cfg.Authority)
	if err != nil {
		utils.Fatalf("Failed to create authority: %v", err)
	}
	a.AttachSnapshotStore(authority.NewSnapshotStore(utils.MakeDatabase(ctx, false)))
	if err := a.Start(); err != nil {
		utils.Fatalf("Failed to start authority: %v", err)
	}
	defer a.Stop()

	// Issuance: a pending intermediary is registered, activated and granted
	// an emission. All three transactions settle in one block.
	log.Info("Scenario: issuance")
	in, err := a.RegisterIntermediary("First Digital Bank", "044525225")
	if err != nil {
		return err
	}
	if err := a.SetIntermediaryStatus(in, authority.StatusActive); err != nil {
		return err
	}
	req, err := a.RequestEmission(in, 1_000_000, "operating float")
	if err != nil {
		return err
	}
	if err := a.DecideEmission(req, true); err != nil {
		return err
	}
	if _, err := a.ProcessPending(); err != nil {
		return err
	}

	// Exchange and online transfer between two fresh wallet owners.
	log.Info("Scenario: exchange and online transfer")
	u1, err := a.RegisterOwner(authority.CategoryIndividual)
	if err != nil {
		return err
	}
	u2, err := a.RegisterOwner(authority.CategoryIndividual)
	if err != nil {
		return err
	}
	for _, owner := range []string{u1, u2} {
		if err := a.OpenWallet(owner, true); err != nil {
			return err
		}
	}
	if _, err := a.Exchange(u1, in, 500); err != nil {
		return err
	}
	if _, err := a.ProcessPending(); err != nil {
		return err
	}
	if _, err := a.SubmitOnlineTransfer(u1, u2, 200); err != nil {
		return err
	}
	if _, err := a.ProcessPending(); err != nil {
		return err
	}

	// Offline transfer with a duplicate replay: the wallet disconnects,
	// spends from its offline tier, then reconnects twice before the queue
	// drains. Settlement applies the first copy and rejects the second.
	log.Info("Scenario: offline transfer with duplicate replay")
	w, err := a.WalletOf(u1)
	if err != nil {
		return err
	}
	if err := w.WithdrawToOffline(100); err != nil {
		return err
	}
	if _, err := a.SubmitOfflineTransfer(u1, u2, 40); err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if _, err := a.ReconnectWallet(u1); err != nil {
			return err
		}
	}
	hashes, err := a.ProcessPending()
	if err != nil {
		return err
	}
	for _, hash := range hashes {
		if rejected := a.Receipts(hash).Rejected(); rejected > 0 {
			log.Info("Duplicate replay rejected at settlement", "block", hash.TerminalString(), "rejected", rejected)
		}
	}

	// Silent leader: the current view's leader is halted, the round times
	// out and the rotated leader commits the batch.
	log.Info("Scenario: silent consensus leader")
	engine := a.Engine()
	halted := engine.Leader(engine.View())
	if err := engine.HaltReplica(halted); err != nil {
		return err
	}
	if _, err := a.Exchange(u2, in, 100); err != nil {
		return err
	}
	if _, err := a.ProcessPending(); err != nil {
		return err
	}
	log.Info("Committed past the silent leader", "halted", halted, "proposer", a.Ledger().CurrentBlock().Proposer())

	// Contract rejection: a transfer beyond the stored balance commits but
	// settles REJECTED, leaving storage and the event log untouched.
	log.Info("Scenario: failing contract call")
	if err := a.ContractCreate("loyalty", "gov-1", map[string]int64{"A": 10, "B": 0}); err != nil {
		return err
	}
	txID, err := a.ContractCall("loyalty", contracts.MethodTransfer, map[string]string{
		contracts.ArgFrom:   "A",
		contracts.ArgTo:     "B",
		contracts.ArgAmount: "25",
	}, "A")
	if err != nil {
		return err
	}
	hashes, err = a.ProcessPending()
	if err != nil {
		return err
	}
	for _, hash := range hashes {
		if r := a.Receipts(hash).ByTxID(txID); r != nil && !r.Applied() {
			log.Info("Contract call rejected at settlement", "tx", txID, "reason", r.Reason)
		}
	}

	// Reports.
	printOwnerReport(a)
	printIntermediaryReport(a)
	printLedgerReport(a)
	printAuditTail(a, 8)

	if err := a.Ledger().ValidateChain(); err != nil {
		return err
	}
	info := a.LedgerInfo()
	log.Info("Demo finished", "height", info.Height, "tip", info.TipHash.TerminalString(),
		"emitted", a.TotalEmitted(), "valid", info.Valid)
	return nil
}

// printOwnerReport renders every registered owner with its balance tiers.
func printOwnerReport(a *authority.Authority) {
	fmt.Println("\nOwners:")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Owner", "Category", "Cash", "Online", "Offline"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, o := range a.Owners() {
		table.Append([]string{o.ID, o.Category.String(), o.Cash.String(), o.Online.String(), o.Offline.String()})
	}
	table.Render()
}

// printIntermediaryReport renders the intermediaries and their reserves.
func printIntermediaryReport(a *authority.Authority) {
	fmt.Println("\nIntermediaries:")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Intermediary", "Name", "Status", "Digital", "Non-Digital"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, in := range a.Intermediaries() {
		table.Append([]string{in.ID, in.Name, in.Status.String(), in.Digital.String(), in.NonDigital.String()})
	}
	table.Render()
}

// printLedgerReport renders the committed chain block by block.
func printLedgerReport(a *authority.Authority) {
	fmt.Println("\nLedger:")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Height", "Hash", "Parent", "Txs", "Proposer"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, block := range a.Ledger().Blocks() {
		table.Append([]string{
			fmt.Sprintf("%d", block.Height()),
			block.Hash().TerminalString(),
			block.ParentHash().TerminalString(),
			fmt.Sprintf("%d", block.TxCount()),
			block.Proposer(),
		})
	}
	table.Render()
}

// printAuditTail renders the last n audit log entries.
func printAuditTail(a *authority.Authority, n int) {
	fmt.Println("\nAudit log:")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Seq", "Action", "Actor", "Detail"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, e := range a.Audit().Tail(n) {
		table.Append([]string{fmt.Sprintf("%d", e.Seq), e.Action, e.Actor, e.Detail})
	}
	table.Render()
}
