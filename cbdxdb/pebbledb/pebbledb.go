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

// Package pebbledb implements the key-value database layer based on pebble.
package pebbledb

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbdx/go-cbdx/cbdxdb"
	"github.com/cbdx/go-cbdx/common"
	"github.com/cbdx/go-cbdx/log"
	"github.com/cbdx/go-cbdx/metrics"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	// minCache is the minimum amount of memory in megabytes to allocate to pebble
	// read and write caching, split half and half.
	minCache = 16

	// minHandles is the minimum number of files handles to allocate to the open
	// database files.
	minHandles = 16

	// metricsGatheringInterval specifies the interval to retrieve pebble database
	// compaction, io and pause stats to report to the user.
	metricsGatheringInterval = 3 * time.Second
)

// Database is a persistent key-value store based on the pebble storage engine.
// Apart from basic data storage functionality it also supports batch writes and
// iterating over the keyspace in binary-alphabetical order.
type Database struct {
	fn string     // filename for reporting
	db *pebble.DB // Underlying pebble storage engine

	compTimeGauge    metrics.Gauge // Gauge for tracking the total time spent in database compaction
	compReadGauge    metrics.Gauge // Gauge for tracking the data read during compaction
	compWriteGauge   metrics.Gauge // Gauge for tracking the data written during compaction
	writeDelayNGauge metrics.Gauge // Gauge for tracking the write delay number due to database compaction
	writeDelayGauge  metrics.Gauge // Gauge for tracking the write delay duration due to database compaction
	diskSizeGauge    metrics.Gauge // Gauge for tracking the size of all the levels in the database
	diskWriteGauge   metrics.Gauge // Gauge for tracking the effective amount of data written
	memCompGauge     metrics.Gauge // Gauge for tracking the number of memory compaction
	level0CompGauge  metrics.Gauge // Gauge for tracking the number of table compaction in level0
	seekCompGauge    metrics.Gauge // Gauge for tracking the number of table compaction caused by read opt

	quitLock sync.Mutex      // Mutex protecting the quit channel access
	quitChan chan chan error // Quit channel to stop the metrics collection before closing the database

	log log.Logger // Contextual logger tracking the database path

	activeComp          int       // current number of active compactions
	compStartTime       time.Time // the start time of the earliest currently-active compaction
	compTime            int64     // total time spent in compaction in ns
	seekCompCount       int64     // total number of compactions caused by reads
	level0Comp          uint32    // total number of level-zero compactions
	nonLevel0Comp       uint32    // total number of non level-zero compactions
	writeDelayStartTime time.Time // the start time of the latest write stall
	writeDelayCount     int64     // total number of write stall counts
	writeDelayTime      int64     // total time spent in write stalls
}

func (d *Database) onCompactionBegin(info pebble.CompactionInfo) {
	if d.activeComp == 0 {
		d.compStartTime = time.Now()
	}
	if info.Reason == "read" {
		atomic.AddInt64(&d.seekCompCount, 1)
	}
	for _, level := range info.Input {
		if level.Level == 0 {
			atomic.AddUint32(&d.level0Comp, 1)
		} else {
			atomic.AddUint32(&d.nonLevel0Comp, 1)
		}
	}
	d.activeComp++
}

func (d *Database) onCompactionEnd(info pebble.CompactionInfo) {
	if d.activeComp == 1 {
		atomic.AddInt64(&d.compTime, int64(time.Since(d.compStartTime)))
	} else if d.activeComp == 0 {
		panic("should not happen")
	}
	d.activeComp--
}

func (d *Database) onWriteStallBegin(b pebble.WriteStallBeginInfo) {
	d.writeDelayStartTime = time.Now()
	atomic.AddInt64(&d.writeDelayCount, 1)
}

func (d *Database) onWriteStallEnd() {
	atomic.AddInt64(&d.writeDelayTime, int64(time.Since(d.writeDelayStartTime)))
}

// New returns a wrapped pebble DB object. The namespace is the prefix that the
// metrics reporting should use for surfacing internal stats.
func New(file string, cache int, handles int, namespace string, readonly bool) (*Database, error) {
	var db *Database
	// Ensure we have some minimal caching and file guarantees
	if cache < minCache {
		cache = minCache
	}
	if handles < minHandles {
		handles = minHandles
	}
	logger := log.New("database", file)
	logger.Info("Allocated cache and file handles", "cache", common.StorageSize(cache*1024*1024), "handles", handles)

	// Two memory tables is configured which is identical to leveldb,
	// including a frozen memory table and another live one.
	memTableSize := cache * 1024 * 1024 / 4

	// Route pebble's lifecycle events into the stall and compaction counters.
	eventListener := pebble.EventListener{
		CompactionBegin: func(info pebble.CompactionInfo) {
			db.onCompactionBegin(info)
		},
		CompactionEnd: func(info pebble.CompactionInfo) {
			db.onCompactionEnd(info)
		},
		WriteStallBegin: func(info pebble.WriteStallBeginInfo) {
			db.onWriteStallBegin(info)
		},
		WriteStallEnd: func() {
			db.onWriteStallEnd()
		},
	}
	// Open the db and recover any potential corruptions
	inner, err := pebble.Open(file, &pebble.Options{
		// Pebble has a single combined cache area and the write
		// buffers are taken from this too. Assign all available
		// memory allowance for cache.
		Cache:        pebble.NewCache(int64(cache * 1024 * 1024)),
		MaxOpenFiles: handles,

		// The size of memory table(as well as the write buffer).
		// Note, there may have more than two memory tables in the system.
		MemTableSize: memTableSize,

		// The default compaction concurrency(1 thread),
		// Here use all available CPUs for faster compaction.
		MaxConcurrentCompactions: func() int { return runtime.NumCPU() },

		// Per-level options. Options for at least one level must be specified. The
		// options for the last level are used for all subsequent levels.
		Levels: []pebble.LevelOptions{
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
		},
		ReadOnly:      readonly,
		EventListener: &eventListener,
	})
	if err != nil {
		return nil, err
	}
	// Assemble the wrapper with all the registered metrics
	db = &Database{
		fn:       file,
		db:       inner,
		log:      logger,
		quitChan: make(chan chan error),
	}
	db.compTimeGauge = metrics.NewRegisteredGauge(namespace+"compact/time", nil)
	db.compReadGauge = metrics.NewRegisteredGauge(namespace+"compact/input", nil)
	db.compWriteGauge = metrics.NewRegisteredGauge(namespace+"compact/output", nil)
	db.diskSizeGauge = metrics.NewRegisteredGauge(namespace+"disk/size", nil)
	db.diskWriteGauge = metrics.NewRegisteredGauge(namespace+"disk/write", nil)
	db.writeDelayGauge = metrics.NewRegisteredGauge(namespace+"compact/writedelay/duration", nil)
	db.writeDelayNGauge = metrics.NewRegisteredGauge(namespace+"compact/writedelay/counter", nil)
	db.memCompGauge = metrics.NewRegisteredGauge(namespace+"compact/memory", nil)
	db.level0CompGauge = metrics.NewRegisteredGauge(namespace+"compact/level0", nil)
	db.seekCompGauge = metrics.NewRegisteredGauge(namespace+"compact/seek", nil)

	// Start up the metrics gathering and return
	go db.meter(metricsGatheringInterval)
	return db, nil
}

// Close stops the metrics collection, flushes any pending data to disk and closes
// all io accesses to the underlying key-value store.
func (db *Database) Close() error {
	db.quitLock.Lock()
	defer db.quitLock.Unlock()

	if db.quitChan != nil {
		errc := make(chan error)
		db.quitChan <- errc
		if err := <-errc; err != nil {
			db.log.Error("Metrics collection failed", "err", err)
		}
		db.quitChan = nil
	}
	return db.db.Close()
}

// Has retrieves if a key is present in the key-value store.
func (db *Database) Has(key []byte) (bool, error) {
	_, closer, err := db.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// Get retrieves the given key if it's present in the key-value store.
func (db *Database) Get(key []byte) ([]byte, error) {
	dat, closer, err := db.db.Get(key)
	if err != nil {
		return nil, err
	}
	ret := make([]byte, len(dat))
	copy(ret, dat)
	closer.Close()
	return ret, nil
}

// Put inserts the given value into the key-value store.
func (db *Database) Put(key []byte, value []byte) error {
	return db.db.Set(key, value, pebble.NoSync)
}

// Delete removes the key from the key-value store.
func (db *Database) Delete(key []byte) error {
	return db.db.Delete(key, nil)
}

// NewBatch creates a write-only key-value store that buffers changes to its host
// database until a final write is called.
func (db *Database) NewBatch() cbdxdb.Batch {
	return &batch{
		b: db.db.NewBatch(),
	}
}

// NewIterator creates a binary-alphabetical iterator over a subset
// of database content with a particular key prefix, starting at a particular
// initial key (or after, if it does not exist).
func (db *Database) NewIterator(prefix []byte, start []byte) cbdxdb.Iterator {
	iterRange := bytesPrefixRange(prefix, start)
	iter := db.db.NewIter(&pebble.IterOptions{
		LowerBound: iterRange.Start,
		UpperBound: iterRange.Limit,
	})
	iter.First()
	return &pebbleIterator{iter: iter, moved: true}
}

// Stat returns a particular internal stat of the database.
func (db *Database) Stat(property string) (string, error) {
	return "", errors.New("unknown property")
}

// Compact flattens the underlying data store for the given key range. In essence,
// deleted and overwritten versions are discarded, and the data is rearranged to
// reduce the cost of operations needed to access them.
//
// A nil start is treated as a key before all keys in the data store; a nil limit
// is treated as a key after all keys in the data store. If both is nil then it
// will compact entire data store.
func (db *Database) Compact(start []byte, limit []byte) error {
	return db.db.Compact(start, limit, true)
}

// Path returns the path to the database directory.
func (db *Database) Path() string {
	return db.fn
}

// meter periodically retrieves internal pebble counters and reports them to
// the metrics subsystem.
func (db *Database) meter(refresh time.Duration) {
	var errc chan error
	timer := time.NewTimer(refresh)
	defer timer.Stop()

	// Iterate ad infinitum and collect the stats
	for errc == nil {
		var nWrite int64

		stats := db.db.Metrics()
		compTime := atomic.LoadInt64(&db.compTime)
		writeDelayCount := atomic.LoadInt64(&db.writeDelayCount)
		writeDelayTime := atomic.LoadInt64(&db.writeDelayTime)
		seekCompCount := atomic.LoadInt64(&db.seekCompCount)
		level0CompCount := int64(atomic.LoadUint32(&db.level0Comp))

		var compRead, compWrite int64
		for _, levelMetrics := range stats.Levels {
			nWrite += int64(levelMetrics.BytesCompacted)
			nWrite += int64(levelMetrics.BytesFlushed)
			compWrite += int64(levelMetrics.BytesCompacted)
			compRead += int64(levelMetrics.BytesRead)
		}
		nWrite += int64(stats.WAL.BytesWritten)

		db.compTimeGauge.Update(compTime)
		db.compReadGauge.Update(compRead)
		db.compWriteGauge.Update(compWrite)
		db.writeDelayNGauge.Update(writeDelayCount)
		db.writeDelayGauge.Update(writeDelayTime)
		db.diskSizeGauge.Update(int64(stats.DiskSpaceUsage()))
		db.diskWriteGauge.Update(nWrite)
		db.memCompGauge.Update(stats.Flush.Count)
		db.level0CompGauge.Update(level0CompCount)
		db.seekCompGauge.Update(seekCompCount)

		// Sleep a bit, then repeat the stats collection
		select {
		case errc = <-db.quitChan:
			// Quit requesting, stop hammering the database
		case <-timer.C:
			timer.Reset(refresh)
			// Timeout, gather a new set of stats
		}
	}
	errc <- nil
}

// batch is a write-only batch that commits changes to its host database
// when Write is called. A batch cannot be used concurrently.
type batch struct {
	b    *pebble.Batch
	size int
}

// Put inserts the given value into the batch for later committing.
func (b *batch) Put(key, value []byte) error {
	b.b.Set(key, value, nil)
	b.size += len(key) + len(value)
	return nil
}

// Delete inserts the a key removal into the batch for later committing.
func (b *batch) Delete(key []byte) error {
	b.b.Delete(key, nil)
	b.size += len(key)
	return nil
}

// ValueSize retrieves the amount of data queued up for writing.
func (b *batch) ValueSize() int {
	return b.size
}

// Write flushes any accumulated data to disk.
func (b *batch) Write() error {
	return b.b.Commit(pebble.NoSync)
}

// Reset resets the batch for reuse.
func (b *batch) Reset() {
	b.b.Reset()
	b.size = 0
}

// Replay replays the batch contents.
func (b *batch) Replay(w cbdxdb.KeyValueWriter) error {
	reader := b.b.Reader()
	for {
		kind, k, v, ok := reader.Next()
		if !ok {
			break
		}
		// The (k,v) slices might be overwritten if the batch is reset/reused,
		// and the receiver should copy them if they are to be retained long-term.
		if kind == pebble.InternalKeyKindSet {
			if err := w.Put(k, v); err != nil {
				return err
			}
		} else if kind == pebble.InternalKeyKindDelete {
			if err := w.Delete(k); err != nil {
				return err
			}
		} else {
			return errors.New("unhandled operation, keytype: " + kind.String())
		}
	}
	return nil
}

// pebbleIterator is a wrapper of underlying iterator in storage engine.
// The purpose of this structure is to implement the missing APIs.
type pebbleIterator struct {
	iter  *pebble.Iterator
	moved bool
}

// Next moves the iterator to the next key/value pair. It returns whether the
// iterator is exhausted.
func (iter *pebbleIterator) Next() bool {
	if iter.moved {
		iter.moved = false
		return iter.iter.Valid()
	}
	return iter.iter.Next()
}

// Error returns any accumulated error. Exhausting all the key/value pairs
// is not considered to be an error.
func (iter *pebbleIterator) Error() error {
	return iter.iter.Error()
}

// Key returns the key of the current key/value pair, or nil if done. The caller
// should not modify the contents of the returned slice, and its contents may
// change on the next call to Next.
func (iter *pebbleIterator) Key() []byte {
	return iter.iter.Key()
}

// Value returns the value of the current key/value pair, or nil if done. The
// caller should not modify the contents of the returned slice, and its contents
// may change on the next call to Next.
func (iter *pebbleIterator) Value() []byte {
	return iter.iter.Value()
}

// Release releases associated resources. Release should always succeed and can
// be called multiple times without causing error.
func (iter *pebbleIterator) Release() { iter.iter.Close() }

// bytesPrefixRange returns key range that satisfy
// - the given prefix, and
// - the given seek position
func bytesPrefixRange(prefix, start []byte) *util.Range {
	r := util.BytesPrefix(prefix)
	r.Start = append(r.Start, start...)
	return r
}
