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

// cbdx is the command line interface to the settlement core.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/cbdx/go-cbdx/cmd/utils"
	"github.com/urfave/cli/v2"
)

const clientIdentifier = "cbdx"

var (
	// Git SHA1 commit hash of the release (set via linker flags)
	gitCommit = ""

	// The app that holds all commands and flags.
	app = utils.NewApp(gitCommit, "the central bank digital currency settlement interface")
)

func init() {
	app.Commands = []*cli.Command{
		// See democmd.go:
		demoCommand,
		// See simulatecmd.go:
		simulateCommand,
		// See snapshotcmd.go:
		snapshotCommand,
		// See config.go:
		dumpConfigCommand,
		// See misccmd.go:
		versionCommand,
		licenseCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	app.Flags = utils.MergeFlags(
		utils.LoggingFlags(),
		[]cli.Flag{configFileFlag},
	)
	app.Before = func(ctx *cli.Context) error {
		if err := utils.SetupLogging(ctx); err != nil {
			return err
		}
		utils.SetupMetrics(ctx)
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(utils.ExitCode(err))
	}
}
