// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rocksdb

import (
	"sync/atomic"

	"github.com/denise813/rocksdb/internal/base"
)

// The statistics counters this core increments. Consumers outside this
// package (compaction scheduling, cache management, ...) may define their
// own StatCounter ranges; these are reserved values.
const (
	StatWriteStalls base.StatCounter = iota
	StatWriteStallMicros
	StatWritesWithWAL
	StatWalBytesWritten
	StatParallelMemtableWrites
	StatReadAmpUsefulBytes
	StatReadAmpTotalBytes

	numStats
)

// CountingStats is a ready-to-use in-process Stats implementation: every
// counter is a plain atomic uint64. It satisfies both base.Stats (for the
// write coordinator) and readamp.Sink (for the block reader's bitmap),
// since both boil down to "add a byte count to a named counter".
type CountingStats struct {
	counters [numStats]atomic.Uint64
}

// IncrBy implements base.Stats.
func (s *CountingStats) IncrBy(counter base.StatCounter, delta uint64) {
	if int(counter) < 0 || int(counter) >= len(s.counters) {
		return
	}
	s.counters[counter].Add(delta)
}

// AddUsefulBytes implements readamp.Sink by crediting StatReadAmpUsefulBytes.
func (s *CountingStats) AddUsefulBytes(n uint64) {
	s.IncrBy(StatReadAmpUsefulBytes, n)
}

// Get returns the current value of counter.
func (s *CountingStats) Get(counter base.StatCounter) uint64 {
	if int(counter) < 0 || int(counter) >= len(s.counters) {
		return 0
	}
	return s.counters[counter].Load()
}
