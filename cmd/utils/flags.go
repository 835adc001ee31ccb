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

// Package utils contains internal helper functions for cbdx commands.
package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cbdx/go-cbdx/authority"
	"github.com/cbdx/go-cbdx/cbdxdb"
	"github.com/cbdx/go-cbdx/cbdxdb/leveldb"
	"github.com/cbdx/go-cbdx/cbdxdb/memorydb"
	"github.com/cbdx/go-cbdx/cbdxdb/pebbledb"
	"github.com/cbdx/go-cbdx/core/types"
	"github.com/cbdx/go-cbdx/log"
	"github.com/cbdx/go-cbdx/metrics"
	"github.com/cbdx/go-cbdx/params"
	"github.com/urfave/cli/v2"
)

// NewApp creates an app with sane defaults.
func NewApp(gitCommit, usage string) *cli.App {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Version = params.VersionWithCommit(gitCommit)
	app.Usage = usage
	return app
}

// MergeFlags merges the given flag slices.
func MergeFlags(groups ...[]cli.Flag) []cli.Flag {
	var ret []cli.Flag
	for _, group := range groups {
		ret = append(ret, group...)
	}
	return ret
}

// These are all the command line flags we support. The flags are defined here
// so their names and help texts are the same for all commands.
var (
	// General settings
	DataDirFlag = &cli.PathFlag{
		Name:  "datadir",
		Usage: "Data directory for the snapshot store and log files",
		Value: DefaultDataDir(),
	}
	DBEngineFlag = &cli.StringFlag{
		Name:  "db.engine",
		Usage: `Backing database implementation to use ("memory", "leveldb" or "pebble")`,
		Value: "memory",
	}

	// Consensus settings
	ReplicaCountFlag = &cli.IntFlag{
		Name:  "bft.replicas",
		Usage: "Size of the replica set, must be 3f+1 for f >= 1",
		Value: params.DefaultReplicaCount,
	}
	RoundTimeoutFlag = &cli.DurationFlag{
		Name:  "bft.roundtimeout",
		Usage: "Budget for one leader to reach quorum before the view changes",
		Value: params.DefaultRoundTimeout,
	}
	ViewBudgetFlag = &cli.IntFlag{
		Name:  "bft.viewbudget",
		Usage: "Leader rotations attempted per batch before giving up",
		Value: 2 * params.DefaultReplicaCount,
	}

	// Queue settings
	BlockLimitFlag = &cli.IntFlag{
		Name:  "queue.blocklimit",
		Usage: "Maximum number of transactions drafted into one block",
		Value: params.DefaultBlockLimit,
	}
	MinAmountFlag = &cli.Int64Flag{
		Name:  "queue.minamount",
		Usage: "Minimum accepted transaction amount in minor units",
		Value: params.DefaultMinAmount,
	}

	// Wallet settings
	WalletExpiryFlag = &cli.DurationFlag{
		Name:  "wallet.expiry",
		Usage: "Offline spending window measured from activation",
		Value: params.DefaultWalletExpiry,
	}
	WalletCapFlag = &cli.Int64Flag{
		Name:  "wallet.maxbalance",
		Usage: "Cap on funds held offline, in minor units",
		Value: params.DefaultWalletCap,
	}

	// Authority settings
	IntermediaryReserveFlag = &cli.Int64Flag{
		Name:  "authority.reserve",
		Usage: "Non-digital reserve granted to a registered intermediary, in minor units",
		Value: params.DefaultIntermediaryReserve,
	}

	// Logging settings
	VerbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
	LogFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Write logs to a rotating file under the data directory in addition to the terminal",
	}
	LogDebugFlag = &cli.BoolFlag{
		Name:  "log.debug",
		Usage: "Prepends log messages with call-site location",
	}

	// Metrics settings
	MetricsEnabledFlag = &cli.BoolFlag{
		Name:  "metrics",
		Usage: "Enable metrics collection and periodic reporting through the logger",
	}
	MetricsIntervalFlag = &cli.DurationFlag{
		Name:  "metrics.interval",
		Usage: "Interval between metrics reports",
		Value: 10 * time.Second,
	}
)

// DefaultDataDir is the default data directory to use for the databases and
// other persistence requirements.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		// As we cannot guess a stable location, return empty and handle
		// later
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "CBDX")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "CBDX")
	default:
		return filepath.Join(home, ".cbdx")
	}
}

// SetAuthorityConfig applies command line overrides onto the authority
// configuration. Flag values win over whatever the config file set.
func SetAuthorityConfig(ctx *cli.Context, cfg *authority.Config) {
	if ctx.IsSet(ReplicaCountFlag.Name) {
		cfg.Consensus.ReplicaCount = ctx.Int(ReplicaCountFlag.Name)
	}
	if ctx.IsSet(RoundTimeoutFlag.Name) {
		cfg.Consensus.RoundTimeout = ctx.Duration(RoundTimeoutFlag.Name)
	}
	if ctx.IsSet(ViewBudgetFlag.Name) {
		cfg.Consensus.ViewBudget = ctx.Int(ViewBudgetFlag.Name)
	}
	if ctx.IsSet(BlockLimitFlag.Name) {
		cfg.Queue.BlockLimit = ctx.Int(BlockLimitFlag.Name)
	}
	if ctx.IsSet(MinAmountFlag.Name) {
		cfg.Queue.MinAmount = types.Amount(ctx.Int64(MinAmountFlag.Name))
	}
	if ctx.IsSet(WalletExpiryFlag.Name) {
		cfg.Wallet.Expiry = ctx.Duration(WalletExpiryFlag.Name)
	}
	if ctx.IsSet(WalletCapFlag.Name) {
		cfg.Wallet.MaxBalance = types.Amount(ctx.Int64(WalletCapFlag.Name))
	}
	if ctx.IsSet(IntermediaryReserveFlag.Name) {
		cfg.IntermediaryReserve = types.Amount(ctx.Int64(IntermediaryReserveFlag.Name))
	}
}

// MakeDatabase opens the snapshot database selected by --db.engine. The
// memory engine needs no data directory; the persistent ones create theirs
// under --datadir.
func MakeDatabase(ctx *cli.Context, readonly bool) cbdxdb.KeyValueStore {
	engine := ctx.String(DBEngineFlag.Name)
	if engine == "memory" {
		return memorydb.New()
	}
	datadir := ctx.Path(DataDirFlag.Name)
	if datadir == "" {
		Fatalf("The %q database engine requires --datadir", engine)
	}
	file := filepath.Join(datadir, "snapshots")

	var (
		db  cbdxdb.KeyValueStore
		err error
	)
	switch engine {
	case "leveldb":
		db, err = leveldb.New(file, 16, 16, "cbdx/db/snapshots/", readonly)
	case "pebble":
		db, err = pebbledb.New(file, 16, 16, "cbdx/db/snapshots/", readonly)
	default:
		Fatalf("Unknown database engine %q, want memory, leveldb or pebble", engine)
	}
	if err != nil {
		Fatalf("Could not open database at %s: %v", file, err)
	}
	log.Info("Opened snapshot database", "engine", engine, "path", file)
	return db
}

// SetupMetrics starts the periodic metrics report when --metrics is set. The
// collection switch itself is flipped by the metrics package scanning the
// command line before flag parsing runs.
func SetupMetrics(ctx *cli.Context) {
	if !metrics.Enabled {
		return
	}
	interval := ctx.Duration(MetricsIntervalFlag.Name)
	log.Info("Enabling metrics collection", "interval", interval)
	go metrics.Log(metrics.DefaultRegistry, interval, log.New("module", "metrics"))
}

// AuthorityFlags returns the flags shared by commands that boot an authority.
func AuthorityFlags() []cli.Flag {
	return []cli.Flag{
		ReplicaCountFlag,
		RoundTimeoutFlag,
		ViewBudgetFlag,
		BlockLimitFlag,
		MinAmountFlag,
		WalletExpiryFlag,
		WalletCapFlag,
		IntermediaryReserveFlag,
	}
}

// DatabaseFlags returns the flags selecting and locating the snapshot store.
func DatabaseFlags() []cli.Flag {
	return []cli.Flag{
		DataDirFlag,
		DBEngineFlag,
	}
}

// LoggingFlags returns the flags configuring log output.
func LoggingFlags() []cli.Flag {
	return []cli.Flag{
		VerbosityFlag,
		LogFileFlag,
		LogDebugFlag,
		MetricsEnabledFlag,
		MetricsIntervalFlag,
	}
}

// CheckExclusive verifies that only a single instance of the provided flags
// was set by the user.
func CheckExclusive(ctx *cli.Context, flags ...cli.Flag) {
	set := make([]string, 0, 1)
	for _, flag := range flags {
		if ctx.IsSet(flag.Names()[0]) {
			set = append(set, "--"+flag.Names()[0])
		}
	}
	if len(set) > 1 {
		Fatalf("Flags %v can't be used at the same time", set)
	}
}
