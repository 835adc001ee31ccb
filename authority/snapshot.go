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
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cbdx/go-cbdx/cbdxdb"
	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/core/types"
	"github.com/cbdx/go-cbdx/params"
)

// snapshotVersion is the schema version stamped into every snapshot. Bump it
// when the layout below changes shape.
const snapshotVersion = 1

var (
	snapshotPrefix    = []byte("cbdx-snap-")       // snapshotPrefix + seq (uint64 BE) -> snapshot JSON
	snapshotLatestKey = []byte("cbdx-snap-latest") // -> seq (uint64 BE)

	// ErrNoSnapshot is returned when the store holds no snapshot yet.
	ErrNoSnapshot = errors.New("no snapshot in store")
)

// OwnerSnapshot is the persisted balance state of one owner.
type OwnerSnapshot struct {
	ID       string       `json:"id"`
	Category string       `json:"category"`
	Cash     types.Amount `json:"cash"`
	Online   types.Amount `json:"online"`
	Offline  types.Amount `json:"offline"`
}

// IntermediarySnapshot is the persisted balance state of one intermediary.
type IntermediarySnapshot struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Routing    string       `json:"routing_code"`
	Status     string       `json:"status"`
	Digital    types.Amount `json:"digital"`
	NonDigital types.Amount `json:"non_digital"`
}

// ContractSnapshot is the persisted storage of one registered contract.
type ContractSnapshot struct {
	ID      string           `json:"id"`
	Creator string           `json:"creator"`
	Storage map[string]int64 `json:"storage"`
}

// Snapshot captures enough authority state to restart from: the chain's
// height-to-hash mapping, every balance, contract storage and the emission
// totals. The ledger contents themselves are not included; a restarted node
// replays or re-syncs blocks and checks them against the recorded hashes.
type Snapshot struct {
	Version        int                    `json:"version"`
	Seq            uint64                 `json:"seq"`
	Time           int64                  `json:"time"` // unix nanoseconds at capture
	Height         uint64                 `json:"height"`
	Hashes         []common.Hash          `json:"hashes"` // block hashes by height, genesis first
	Owners         []OwnerSnapshot        `json:"owners"`
	Intermediaries []IntermediarySnapshot `json:"intermediaries"`
	Contracts      []ContractSnapshot     `json:"contracts"`
	Emitted        types.Amount           `json:"total_emitted"`
	Reserve        types.Amount           `json:"authority_reserve"`
	AuditEntries   int                    `json:"audit_entries"`
}

// TipHash returns the hash of the highest recorded block.
func (s *Snapshot) TipHash() common.Hash {
	if len(s.Hashes) == 0 {
		return common.Hash{}
	}
	return s.Hashes[len(s.Hashes)-1]
}

func snapshotKey(seq uint64) []byte {
	key := make([]byte, len(snapshotPrefix)+8)
	copy(key, snapshotPrefix)
	binary.BigEndian.PutUint64(key[len(snapshotPrefix):], seq)
	return key
}

// SnapshotStore persists authority snapshots into a key-value database under
// monotonically increasing sequence numbers, with a pointer to the latest.
type SnapshotStore struct {
	db cbdxdb.KeyValueStore
}

// NewSnapshotStore wraps the given database as a snapshot store.
func NewSnapshotStore(db cbdxdb.KeyValueStore) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save writes the snapshot under the next sequence number and moves the
// latest pointer to it. Both writes land in one batch.
func (s *SnapshotStore) Save(snap *Snapshot) (uint64, error) {
	seq := uint64(0)
	if last, err := s.latestSeq(); err == nil {
		seq = last + 1
	} else if !errors.Is(err, ErrNoSnapshot) {
		return 0, err
	}
	snap.Version = snapshotVersion
	snap.Seq = seq

	blob, err := json.Marshal(snap)
	if err != nil {
		return 0, err
	}
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)

	batch := s.db.NewBatch()
	if err := batch.Put(snapshotKey(seq), blob); err != nil {
		return 0, err
	}
	if err := batch.Put(snapshotLatestKey, seqBytes[:]); err != nil {
		return 0, err
	}
	if err := batch.Write(); err != nil {
		return 0, err
	}
	return seq, nil
}

// Latest returns the most recently saved snapshot.
func (s *SnapshotStore) Latest() (*Snapshot, error) {
	seq, err := s.latestSeq()
	if err != nil {
		return nil, err
	}
	return s.Seq(seq)
}

// Seq returns the snapshot stored under the given sequence number.
func (s *SnapshotStore) Seq(seq uint64) (*Snapshot, error) {
	blob, err := s.db.Get(snapshotKey(seq))
	if err != nil {
		return nil, fmt.Errorf("%w: seq %d", ErrNoSnapshot, seq)
	}
	snap := new(Snapshot)
	if err := json.Unmarshal(blob, snap); err != nil {
		return nil, err
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap, nil
}

// Seqs returns the sequence numbers of all stored snapshots in ascending
// order.
func (s *SnapshotStore) Seqs() ([]uint64, error) {
	it := s.db.NewIterator(snapshotPrefix, nil)
	defer it.Release()

	var seqs []uint64
	for it.Next() {
		key := it.Key()
		if len(key) != len(snapshotPrefix)+8 {
			continue // latest pointer or foreign key
		}
		seqs = append(seqs, binary.BigEndian.Uint64(key[len(snapshotPrefix):]))
	}
	return seqs, it.Error()
}

func (s *SnapshotStore) latestSeq() (uint64, error) {
	blob, err := s.db.Get(snapshotLatestKey)
	if err != nil || len(blob) != 8 {
		return 0, ErrNoSnapshot
	}
	return binary.BigEndian.Uint64(blob), nil
}

// Snapshot captures the authority's durable state: the chain's height-to-hash
// mapping, every registered balance, contract storage and the emission
// totals. With a store attached the snapshot is persisted under the next
// sequence number before it is returned.
func (a *Authority) Snapshot() (*Snapshot, error) {
	blocks := a.ledger.Blocks()
	hashes := make([]common.Hash, len(blocks))
	for i, b := range blocks {
		hashes[i] = b.Hash()
	}

	a.mu.RLock()
	snap := &Snapshot{
		Time:         time.Now().UnixNano(),
		Height:       uint64(len(blocks) - 1),
		Hashes:       hashes,
		Emitted:      a.emitted,
		Reserve:      a.reserve,
		AuditEntries: a.audit.Len(),
	}
	for _, o := range a.owners {
		os := OwnerSnapshot{
			ID:       o.id,
			Category: o.category.String(),
			Cash:     o.cash,
		}
		if o.wallet != nil {
			os.Online = o.wallet.OnlineBalance()
			os.Offline = o.wallet.OfflineBalance()
		}
		snap.Owners = append(snap.Owners, os)
	}
	for _, in := range a.intermediaries {
		snap.Intermediaries = append(snap.Intermediaries, IntermediarySnapshot{
			ID:         in.id,
			Name:       in.name,
			Routing:    in.routing,
			Status:     in.status.String(),
			Digital:    in.digital,
			NonDigital: in.nonDigital,
		})
	}
	store := a.store
	a.mu.RUnlock()

	sort.Slice(snap.Owners, func(i, j int) bool { return snap.Owners[i].ID < snap.Owners[j].ID })
	sort.Slice(snap.Intermediaries, func(i, j int) bool { return snap.Intermediaries[i].ID < snap.Intermediaries[j].ID })

	// Contracts are never removed, so the listed ids all resolve.
	for _, id := range a.registry.IDs() {
		creator, _ := a.registry.Creator(id)
		storage, _ := a.registry.Storage(id)
		snap.Contracts = append(snap.Contracts, ContractSnapshot{
			ID:      id,
			Creator: creator,
			Storage: storage,
		})
	}
	if store != nil {
		seq, err := store.Save(snap)
		if err != nil {
			return nil, err
		}
		a.audit.Recordf("snapshot", params.AuthorityID, "seq=%d height=%d", seq, snap.Height)
		a.logger.Info("Snapshot persisted", "seq", seq, "height", snap.Height, "owners", len(snap.Owners))
	}
	return snap, nil
}
