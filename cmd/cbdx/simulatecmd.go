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
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"os"

	"github.com/cbdx/go-cbdx/authority"
	"github.com/cbdx/go-cbdx/cmd/utils"
	"github.com/cbdx/go-cbdx/core/types"
	"github.com/cbdx/go-cbdx/log"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
)

var (
	simulateCommand = &cli.Command{
		Action:    simulate,
		Name:      "simulate",
		Usage:     "Run a seeded randomized settlement workload",
		ArgsUsage: "[scenario.toml]",
		Flags: utils.MergeFlags(
			utils.AuthorityFlags(),
			utils.DatabaseFlags(),
			[]cli.Flag{configFileFlag, seedFlag},
		),
		Description: `
The simulate command drives a fresh authority with a randomized workload:
owners exchange cash for digital balance, transfer online and offline,
disconnect and reconnect, with settlement passes in between. The workload
is reproducible from its seed. Submission rejections are part of the
workload; the run fails only if the ledger or the balance totals end up
inconsistent.

An optional TOML scenario file overrides the workload shape (see the
SimScenario fields).`,
	}

	seedFlag = &cli.Int64Flag{
		Name:  "seed",
		Usage: "Seed for the workload's random source",
		Value: 42,
	}
)

// SimScenario is the shape of one simulated workload, loadable from TOML.
type SimScenario struct {
	Seed            int64   // random source seed
	Owners          int     // wallet owners to register
	Intermediaries  int     // intermediaries to register and activate
	Emission        int64   // digital currency issued per intermediary, minor units
	Rounds          int     // settlement passes
	ActionsPerRound int     // random submissions attempted per round
	MaxAmount       int64   // largest random transfer, minor units
	OfflineShare    float64 // fraction of transfers created offline
}

// DefaultScenario is the workload used when no scenario file is given.
var DefaultScenario = SimScenario{
	Seed:            42,
	Owners:          8,
	Intermediaries:  2,
	Emission:        5_000_000,
	Rounds:          10,
	ActionsPerRound: 25,
	MaxAmount:       2_000,
	OfflineShare:    0.2,
}

func loadScenario(file string, scenario *SimScenario) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(scenario)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

func simulate(ctx *cli.Context) error {
	scenario := DefaultScenario
	if file := ctx.Args().First(); file != "" {
		if err := loadScenario(file, &scenario); err != nil {
			utils.Fatalf("Failed to load scenario: %v", err)
		}
	}
	if ctx.IsSet(seedFlag.Name) {
		scenario.Seed = ctx.Int64(seedFlag.Name)
	}

	cfg := makeConfig(ctx)
	a, err := authority.New(cfg.Authority)
	if err != nil {
		utils.Fatalf("Failed to create authority: %v", err)
	}
	a.AttachSnapshotStore(authority.NewSnapshotStore(utils.MakeDatabase(ctx, false)))
	if err := a.Start(); err != nil {
		utils.Fatalf("Failed to start authority: %v", err)
	}
	defer a.Stop()

	log.Info("Starting simulation", "seed", scenario.Seed, "owners", scenario.Owners,
		"intermediaries", scenario.Intermediaries, "rounds", scenario.Rounds)
	rng := rand.New(rand.NewSource(scenario.Seed))

	// Registration phase: intermediaries are activated and funded, owners
	// get offline-capable wallets and a first exchange.
	intermediaries := make([]string, 0, scenario.Intermediaries)
	for i := 0; i < scenario.Intermediaries; i++ {
		id, err := a.RegisterIntermediary(fmt.Sprintf("Bank %c", 'A'+i), fmt.Sprintf("0445252%02d", i))
		if err != nil {
			return err
		}
		if err := a.SetIntermediaryStatus(id, authority.StatusActive); err != nil {
			return err
		}
		req, err := a.RequestEmission(id, types.Amount(scenario.Emission), "simulation float")
		if err != nil {
			return err
		}
		if err := a.DecideEmission(req, true); err != nil {
			return err
		}
		intermediaries = append(intermediaries, id)
	}
	if _, err := a.ProcessPending(); err != nil {
		return err
	}

	owners := make([]string, 0, scenario.Owners)
	for i := 0; i < scenario.Owners; i++ {
		category := authority.CategoryIndividual
		if rng.Intn(4) == 0 {
			category = authority.CategoryLegalEntity
		}
		id, err := a.RegisterOwner(category)
		if err != nil {
			return err
		}
		if err := a.OpenWallet(id, true); err != nil {
			return err
		}
		in := intermediaries[rng.Intn(len(intermediaries))]
		if _, err := a.Exchange(id, in, types.Amount(10*scenario.MaxAmount)); err != nil {
			return err
		}
		owners = append(owners, id)
	}
	if _, err := a.ProcessPending(); err != nil {
		return err
	}

	// Workload phase. Submission rejections (insufficient funds, wallet
	// caps) are expected under random amounts and only counted.
	var (
		submitted int
		skipped   int
		blocks    int
		applied   int
		rejected  int
	)
	disconnected := make(map[string]bool)
	for round := 0; round < scenario.Rounds; round++ {
		for i := 0; i < scenario.ActionsPerRound; i++ {
			amount := types.Amount(1 + rng.Int63n(scenario.MaxAmount))
			from := owners[rng.Intn(len(owners))]
			to := owners[rng.Intn(len(owners))]
			if from == to {
				continue
			}
			var err error
			switch {
			case rng.Float64() < scenario.OfflineShare:
				if !disconnected[from] {
					w, werr := a.WalletOf(from)
					if werr != nil {
						return werr
					}
					if werr := w.WithdrawToOffline(amount); werr != nil {
						skipped++
						continue
					}
					disconnected[from] = true
				}
				_, err = a.SubmitOfflineTransfer(from, to, amount)
			case rng.Intn(5) == 0:
				in := intermediaries[rng.Intn(len(intermediaries))]
				_, err = a.Exchange(from, in, amount)
			default:
				_, err = a.SubmitOnlineTransfer(from, to, amount)
			}
			if err != nil {
				skipped++
				continue
			}
			submitted++
		}
		// A random part of the disconnected wallets comes back online.
		for owner := range disconnected {
			if rng.Intn(2) == 0 {
				continue
			}
			if _, err := a.ReconnectWallet(owner); err != nil {
				return err
			}
			delete(disconnected, owner)
		}
		hashes, err := a.ProcessPending()
		if err != nil {
			return err
		}
		blocks += len(hashes)
		for _, hash := range hashes {
			receipts := a.Receipts(hash)
			rejected += receipts.Rejected()
			applied += len(receipts) - receipts.Rejected()
		}
	}

	// Drain phase: everyone reconnects so no transfer stays stranded.
	for owner := range disconnected {
		if _, err := a.ReconnectWallet(owner); err != nil {
			return err
		}
	}
	hashes, err := a.ProcessPending()
	if err != nil {
		return err
	}
	blocks += len(hashes)
	for _, hash := range hashes {
		receipts := a.Receipts(hash)
		rejected += receipts.Rejected()
		applied += len(receipts) - receipts.Rejected()
	}

	printOwnerReport(a)
	printIntermediaryReport(a)

	if err := verifyConservation(a); err != nil {
		return err
	}
	if err := a.Ledger().ValidateChain(); err != nil {
		return err
	}
	info := a.LedgerInfo()
	log.Info("Simulation finished", "height", info.Height, "blocks", blocks,
		"submitted", submitted, "applied", applied, "rejected", rejected, "skipped", skipped,
		"emitted", a.TotalEmitted(), "valid", info.Valid)
	return nil
}

// verifyConservation cross-checks the balance totals against the emission
// counter: digital value in wallets and reserves must equal everything ever
// emitted, and no balance may be negative.
func verifyConservation(a *authority.Authority) error {
	var online, offline types.Amount
	for _, o := range a.Owners() {
		if o.Cash.IsNegative() || o.Online.IsNegative() || o.Offline.IsNegative() {
			return fmt.Errorf("negative balance on owner %s", o.ID)
		}
		online += o.Online
		offline += o.Offline
	}
	var digital types.Amount
	for _, in := range a.Intermediaries() {
		if in.Digital.IsNegative() || in.NonDigital.IsNegative() {
			return fmt.Errorf("negative reserve on intermediary %s", in.ID)
		}
		digital += in.Digital
	}
	if total := online + offline + digital; total != a.TotalEmitted() {
		return fmt.Errorf("digital currency not conserved: circulating %s, emitted %s", total, a.TotalEmitted())
	}
	return nil
}
