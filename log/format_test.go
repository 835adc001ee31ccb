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

package log

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLvlFromString(t *testing.T) {
	for _, tt := range []struct {
		name string
		want Lvl
	}{
		{"trace", LvlTrace}, {"trce", LvlTrace},
		{"debug", LvlDebug}, {"dbug", LvlDebug},
		{"info", LvlInfo},
		{"warn", LvlWarn},
		{"error", LvlError}, {"eror", LvlError},
		{"crit", LvlCrit},
	} {
		lvl, err := LvlFromString(tt.name)
		if err != nil {
			t.Errorf("LvlFromString(%q) error: %v", tt.name, err)
		}
		if lvl != tt.want {
			t.Errorf("LvlFromString(%q) = %v, want %v", tt.name, lvl, tt.want)
		}
	}
	if _, err := LvlFromString("verbose"); err == nil {
		t.Error("unknown level accepted")
	}
}

func TestEscapeString(t *testing.T) {
	if got := escapeString("plain"); got != "plain" {
		t.Errorf("plain string quoted: %q", got)
	}
	if got := escapeString("has space"); got != `"has space"` {
		t.Errorf("space not quoted: %q", got)
	}
	if got := escapeString("k=v"); got != `"k=v"` {
		t.Errorf("equals sign not quoted: %q", got)
	}
}

func TestFormatLogfmtValue(t *testing.T) {
	if got := formatLogfmtValue(nil, false); got != "nil" {
		t.Errorf("nil = %q", got)
	}
	if got := formatLogfmtValue(42, false); got != "42" {
		t.Errorf("int = %q", got)
	}
	if got := formatLogfmtValue(1.5, false); got != "1.500" {
		t.Errorf("float = %q", got)
	}
	if got := formatLogfmtValue(3*time.Second, false); got != "3s" {
		t.Errorf("duration = %q", got)
	}
}

func TestLvlFilterHandler(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetHandler(LvlFilterHandler(LvlWarn, StreamHandler(&buf, LogfmtFormat())))

	l.Info("filtered out")
	if buf.Len() != 0 {
		t.Fatalf("info record passed a warn filter: %q", buf.String())
	}
	l.Warn("kept", "key", "value")
	out := buf.String()
	if !strings.Contains(out, `msg=kept`) || !strings.Contains(out, "key=value") {
		t.Fatalf("warn record malformed: %q", out)
	}
}

func TestChildLoggerContext(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetHandler(StreamHandler(&buf, LogfmtFormat()))

	child := l.New("replica", 2)
	child.Info("vote sent")
	if !strings.Contains(buf.String(), "replica=2") {
		t.Fatalf("child context missing: %q", buf.String())
	}
}
