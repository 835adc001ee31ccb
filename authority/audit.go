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

package authority

import (
	"fmt"
	"sync"
	"time"
)

// AuditEntry is one immutable line of the authority's operational record.
type AuditEntry struct {
	Seq    uint64 `json:"seq"`
	Time   int64  `json:"time"` // unix nanoseconds
	Action string `json:"action"`
	Actor  string `json:"actor"`
	Detail string `json:"detail"`
}

// String implements fmt.Stringer for operator-facing dumps.
func (e AuditEntry) String() string {
	return fmt.Sprintf("#%d %s %s %s: %s",
		e.Seq, time.Unix(0, e.Time).UTC().Format(time.RFC3339), e.Actor, e.Action, e.Detail)
}

// AuditLog is the append-only record of every operation the authority
// performs. Invariant violations write their final entry here before the
// process halts, so the log doubles as the post-mortem trail.
type AuditLog struct {
	mu      sync.RWMutex
	next    uint64
	entries []AuditEntry
}

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Record appends one entry and returns its sequence number.
func (l *AuditLog) Record(action, actor, detail string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.next
	l.next++
	l.entries = append(l.entries, AuditEntry{
		Seq:    seq,
		Time:   time.Now().UnixNano(),
		Action: action,
		Actor:  actor,
		Detail: detail,
	})
	return seq
}

// Recordf appends one entry with a formatted detail string.
func (l *AuditLog) Recordf(action, actor, format string, args ...interface{}) uint64 {
	return l.Record(action, actor, fmt.Sprintf(format, args...))
}

// Len returns the number of recorded entries.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.entries)
}

// Tail returns a copy of the most recent n entries, oldest first. A
// non-positive n returns the whole log.
func (l *AuditLog) Tail(n int) []AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]AuditEntry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// ByAction returns copies of all entries recorded under the given action.
func (l *AuditLog) ByAction(action string) []AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []AuditEntry
	for _, e := range l.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
