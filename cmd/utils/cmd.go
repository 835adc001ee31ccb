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
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/cbdx/go-cbdx/core"
)

// Exit codes of the cbdx binary, one per submission error kind. Consensus
// safety violations never reach this mapping; those crash through log.Crit.
const (
	ExitSuccess          = 0
	ExitFailure          = 1 // unclassified error
	ExitValidation       = 2
	ExitConsensusTimeout = 3
	ExitDuplicate        = 4
	ExitWalletExpired    = 5
	ExitUnknownMethod    = 6
)

// ExitCode maps an error onto the exit code contract above.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, core.ErrValidation):
		return ExitValidation
	case errors.Is(err, core.ErrInsufficientFunds):
		return ExitValidation
	case errors.Is(err, core.ErrConsensusTimeout):
		return ExitConsensusTimeout
	case errors.Is(err, core.ErrDuplicateTransaction):
		return ExitDuplicate
	case errors.Is(err, core.ErrWalletExpired):
		return ExitWalletExpired
	case errors.Is(err, core.ErrContractMethodUnknown):
		return ExitUnknownMethod
	default:
		return ExitFailure
	}
}

// Fatalf formats a message to standard error and exits the program.
// The message is also printed to standard output if standard error
// is redirected to a different file.
func Fatalf(format string, args ...interface{}) {
	w := io.MultiWriter(os.Stdout, os.Stderr)
	if runtime.GOOS == "windows" {
		// The SameFile check below doesn't work on Windows.
		// stdout is unlikely to get redirected though, so just print there.
		w = os.Stdout
	} else {
		outf, _ := os.Stdout.Stat()
		errf, _ := os.Stderr.Stat()
		if outf != nil && errf != nil && os.SameFile(outf, errf) {
			w = os.Stderr
		}
	}
	fmt.Fprintf(w, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}
