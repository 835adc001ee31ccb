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

// Package metrics provides general system and process level metrics
// collection in the go-metrics tradition: named counters and gauges held in
// a registry, disabled by default and swapped for no-op instruments unless
// enabled on the command line.
package metrics

import (
	"os"
	"strings"
)

// Enabled is checked by the constructor functions for all of the standard
// metrics. If it is true, the metric returned is a stub.
//
// This global kill-switch helps quantify the observer effect and makes for
// less cluttered command line flags.
var Enabled = false

// enablerFlags is the CLI flag names to use to enable metrics collection.
var enablerFlags = []string{"metrics"}

// enablerEnvVars is the env var names to use to enable metrics collection.
var enablerEnvVars = []string{"CBDX_METRICS"}

// init enables or disables the metrics system spying on the command line
// arguments directly. The rest of the flag machinery runs much too late for
// instruments created by package init functions.
func init() {
	for _, enabler := range enablerEnvVars {
		if val, found := os.LookupEnv(enabler); found && val != "0" && val != "false" {
			Enabled = true
			return
		}
	}
	for _, arg := range os.Args {
		flag := strings.TrimLeft(arg, "-")
		for _, enabler := range enablerFlags {
			if flag == enabler {
				Enabled = true
				return
			}
		}
	}
}
