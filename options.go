// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rocksdb

import (
	"time"

	"github.com/denise813/rocksdb/internal/base"
)

// MemtableWriter is the external collaborator that actually applies a
// writer's batch to the in-memory staging area. The coordinator never
// inspects batch contents; it only sequences calls into this interface.
// Compaction scheduling, which files to keep, and how keys are logically
// ordered beyond Comparer all live on the other side of this boundary.
type MemtableWriter interface {
	// ApplyBatch applies p (a writer's raw batch payload) at seqNum.
	ApplyBatch(p []byte, seqNum base.SeqNum) error
}

// Options configures a WriteThread. The zero value is not valid; call
// EnsureDefaults (or go through New) before use.
type Options struct {
	// Sink is the append-only WAL file this core writes through. Required.
	Sink base.Sink

	// Comparer orders user keys. Defaults to base.DefaultCompare.
	Comparer base.Compare

	// Clock supplies monotonic timestamps for the adaptive wait's spin/yield
	// timing. Defaults to a wrapper over time.Now.
	Clock base.Clock

	// Rand seeds randomized bookkeeping (the read-amp bitmap's grid offset).
	// Defaults to a mutex-guarded math/rand source seeded from the current
	// time.
	Rand base.Rand

	// Stats receives counter increments. Defaults to a private, unexported
	// CountingStats instance if nil.
	Stats base.Stats

	// Logger is the diagnostic logger. Defaults to NoopLogger. The
	// WriteThread does not write any messages to it.
	Logger Logger

	// Memtable applies committed batches. Required.
	Memtable MemtableWriter

	// RecyclableWAL selects the recyclable (log-number-stamped) WAL chunk
	// header format. See record.NewRecyclableWriter.
	RecyclableWAL bool
	// LogNumber is this WAL's file number, used when RecyclableWAL is set.
	LogNumber uint32

	// EnableWriteThreadAdaptiveYield enables AwaitState's yield phase
	// (spec.md §4.D.1 phase 2, §6).
	EnableWriteThreadAdaptiveYield bool
	// WriteThreadMaxYieldMicros bounds the yield phase's total duration.
	WriteThreadMaxYieldMicros int64
	// WriteThreadSlowYieldMicros is the per-yield duration above which a
	// yield counts against the call site's yield credit.
	WriteThreadSlowYieldMicros int64

	// AllowConcurrentMemtableWrite permits the PARALLEL_MEMTABLE_WRITER
	// phase (spec.md §4.D.5).
	AllowConcurrentMemtableWrite bool
	// EnablePipelinedWrite splits the WAL and memtable stages onto separate
	// queues (spec.md §4.D.5 "Pipelined").
	EnablePipelinedWrite bool

	// MaxWriteBatchGroupSize caps a group's cumulative batch size
	// (spec.md §4.D.4). Defaults to 1 MiB.
	MaxWriteBatchGroupSize int
}

const defaultMaxWriteBatchGroupSize = 1 << 20

// EnsureDefaults fills in every unset field with its default and returns
// the receiver, mirroring pebble.Options.EnsureDefaults.
func (o *Options) EnsureDefaults() *Options {
	if o.Comparer == nil {
		o.Comparer = base.DefaultCompare
	}
	if o.Clock == nil {
		o.Clock = systemClock{}
	}
	if o.Rand == nil {
		o.Rand = newMathRand()
	}
	if o.Stats == nil {
		o.Stats = &CountingStats{}
	}
	if o.Logger == nil {
		o.Logger = NoopLogger{}
	}
	if o.WriteThreadMaxYieldMicros == 0 {
		o.WriteThreadMaxYieldMicros = 100
	}
	if o.WriteThreadSlowYieldMicros == 0 {
		o.WriteThreadSlowYieldMicros = 3
	}
	if o.MaxWriteBatchGroupSize <= 0 {
		o.MaxWriteBatchGroupSize = defaultMaxWriteBatchGroupSize
	}
	return o
}

// systemClock wraps time.Now to satisfy base.Clock in terms of elapsed
// nanoseconds, which is all AwaitState's spin/yield timing needs.
type systemClock struct{}

func (systemClock) Now() int64 { return time.Now().UnixNano() }
