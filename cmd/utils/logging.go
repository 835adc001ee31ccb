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

package utils

import (
	"io"
	"os"
	"path/filepath"

	"github.com/cbdx/go-cbdx/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging wires the root logger according to the logging flags: a
// coloured terminal stream on stderr, optionally mirrored into a rotating
// file, filtered by --verbosity.
func SetupLogging(ctx *cli.Context) error {
	usecolor := isatty.IsTerminal(os.Stderr.Fd()) && os.Getenv("TERM") != "dumb"
	output := io.Writer(os.Stderr)
	if usecolor {
		output = colorable.NewColorableStderr()
	}
	handler := log.StreamHandler(output, log.TerminalFormat(usecolor))

	if logfile := ctx.String(LogFileFlag.Name); logfile != "" {
		if !filepath.IsAbs(logfile) {
			if datadir := ctx.Path(DataDirFlag.Name); datadir != "" {
				logfile = filepath.Join(datadir, logfile)
			}
		}
		// 10 MB per file, 5 backups kept.
		sink := &lumberjack.Logger{
			Filename:   logfile,
			MaxSize:    10,
			MaxBackups: 5,
		}
		handler = log.MultiHandler(handler, log.StreamHandler(sink, log.LogfmtFormat()))
	}
	log.PrintOrigins(ctx.Bool(LogDebugFlag.Name))

	verbosity := log.Lvl(ctx.Int(VerbosityFlag.Name))
	log.Root().SetHandler(log.LvlFilterHandler(verbosity, handler))
	return nil
}
