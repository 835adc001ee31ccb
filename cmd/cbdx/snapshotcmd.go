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
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cbdx/go-cbdx/authority"
	"github.com/cbdx/go-cbdx/cmd/utils"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

var snapshotCommand = &cli.Command{
	Name:  "snapshot",
	Usage: "A set of commands based on the snapshot store",
	Description: `
Snapshots are written by a running authority after settlement passes. These
commands read them back from the database named by --datadir and --db.engine;
the store is opened read-only, so they are safe against a live instance.`,
	Subcommands: []*cli.Command{
		{
			Action:    listSnapshots,
			Name:      "list",
			Usage:     "List the snapshots held in the store",
			ArgsUsage: " ",
			Flags:     utils.DatabaseFlags(),
		},
		{
			Action:    inspectSnapshot,
			Name:      "inspect",
			Usage:     "Print the full contents of one snapshot",
			ArgsUsage: "[sequence number]",
			Flags:     utils.DatabaseFlags(),
			Description: `
Without an argument the latest snapshot is printed, otherwise the one stored
under the given sequence number.`,
		},
	},
}

func listSnapshots(ctx *cli.Context) error {
	store := authority.NewSnapshotStore(utils.MakeDatabase(ctx, true))
	seqs, err := store.Seqs()
	if err != nil {
		utils.Fatalf("Failed to list snapshots: %v", err)
	}
	if len(seqs) == 0 {
		fmt.Println("Snapshot store is empty")
		return nil
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Seq", "Height", "Tip", "Owners", "Intermediaries", "Contracts", "Emitted", "Captured"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, seq := range seqs {
		snap, err := store.Seq(seq)
		if err != nil {
			utils.Fatalf("Failed to load snapshot %d: %v", seq, err)
		}
		table.Append([]string{
			strconv.FormatUint(snap.Seq, 10),
			strconv.FormatUint(snap.Height, 10),
			snap.TipHash().TerminalString(),
			strconv.Itoa(len(snap.Owners)),
			strconv.Itoa(len(snap.Intermediaries)),
			strconv.Itoa(len(snap.Contracts)),
			snap.Emitted.String(),
			time.Unix(0, snap.Time).Format(time.RFC3339),
		})
	}
	table.Render()
	return nil
}

func inspectSnapshot(ctx *cli.Context) error {
	store := authority.NewSnapshotStore(utils.MakeDatabase(ctx, true))

	var (
		snap *authority.Snapshot
		err  error
	)
	if arg := ctx.Args().First(); arg != "" {
		seq, perr := strconv.ParseUint(arg, 10, 64)
		if perr != nil {
			utils.Fatalf("Invalid sequence number %q: %v", arg, perr)
		}
		snap, err = store.Seq(seq)
	} else {
		snap, err = store.Latest()
	}
	if err != nil {
		utils.Fatalf("Failed to load snapshot: %v", err)
	}

	fmt.Println("Sequence:", snap.Seq)
	fmt.Println("Captured:", time.Unix(0, snap.Time).Format(time.RFC3339))
	fmt.Println("Height:", snap.Height)
	fmt.Println("Tip:", snap.TipHash().Hex())
	fmt.Println("Total emitted:", snap.Emitted)
	fmt.Println("Authority reserve:", snap.Reserve)
	fmt.Println("Audit entries:", snap.AuditEntries)
	fmt.Println()

	if len(snap.Owners) > 0 {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Owner", "Category", "Cash", "Online", "Offline"})
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, o := range snap.Owners {
			table.Append([]string{o.ID, o.Category, o.Cash.String(), o.Online.String(), o.Offline.String()})
		}
		table.Render()
	}
	if len(snap.Intermediaries) > 0 {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Intermediary", "Name", "Status", "Digital", "Non-Digital"})
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, in := range snap.Intermediaries {
			table.Append([]string{in.ID, in.Name, in.Status, in.Digital.String(), in.NonDigital.String()})
		}
		table.Render()
	}
	if len(snap.Contracts) > 0 {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Contract", "Creator", "Storage"})
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, c := range snap.Contracts {
			keys := make([]string, 0, len(c.Storage))
			for key := range c.Storage {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			cells := make([]string, 0, len(keys))
			for _, key := range keys {
				cells = append(cells, fmt.Sprintf("%s=%d", key, c.Storage[key]))
			}
			table.Append([]string{c.ID, c.Creator, strings.Join(cells, " ")})
		}
		table.Render()
	}
	return nil
}
