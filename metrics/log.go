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

package metrics

import (
	"time"

	"github.com/cbdx/go-cbdx/log"
)

// Log periodically emits every metric in the registry through the given
// logger. It blocks, so run it on its own goroutine.
func Log(r Registry, freq time.Duration, l log.Logger) {
	for range time.Tick(freq) {
		r.Each(func(name string, i interface{}) {
			switch metric := i.(type) {
			case Counter:
				l.Info("metric", "name", name, "count", metric.Count())
			case Gauge:
				l.Info("metric", "name", name, "value", metric.Value())
			}
		})
	}
}
