// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rocksdb

import (
	"sync"
	"sync/atomic"

	"github.com/denise813/rocksdb/internal/base"
)

// Writer states, a bitmask so AwaitState can accept a goal *set* rather
// than a single destination (spec.md §3 "States are a bitmask").
const (
	// StateInit is the state every Writer starts in, before it has even
	// been enqueued.
	StateInit uint32 = 1 << iota
	// StateGroupLeader means this writer either enqueued onto an empty list
	// or was promoted by the previous group leader, and now owns building
	// and committing the write group.
	StateGroupLeader
	// StateMemtableWriterLeader means this writer leads the (possibly
	// distinct, in pipelined mode) memtable-application stage.
	StateMemtableWriterLeader
	// StateParallelMemtableWriter means the group leader has launched this
	// writer to apply its own batch to the memtable concurrently with
	// other group members.
	StateParallelMemtableWriter
	// StateCompleted is terminal: the writer's result (SeqNum, Err) is
	// final and safe to read without further synchronization.
	StateCompleted
	// StateLockedWaiting is a sentinel meaning "I have committed to block
	// on my condition variable"; a waker must hold the writer's mutex
	// before signalling it (spec.md §3).
	StateLockedWaiting
)

// Writer is a per-client-thread handle representing one pending append,
// per spec.md §3's Writer data model.
type Writer struct {
	// Batch is the opaque user payload. A nil/empty Batch with Solo set
	// marks an administrative "solo" writer such as a WAL-rotation
	// barrier (spec.md §4.D.4: "follower has no batch").
	Batch []byte
	// Sync requests that this write be fsynced before Write returns.
	Sync bool
	// DisableWAL skips the WAL append for this writer's batch entirely.
	DisableWAL bool
	// NoSlowdown makes this writer fail immediately with ErrWriteStall
	// rather than wait out an admission-control stall.
	NoSlowdown bool
	// Solo marks a batch-less administrative writer that must not be
	// merged into another writer's group (spec.md §4.D.4).
	Solo bool
	// DisallowBatching, when set, prevents this writer from being folded
	// into another leader's group and prevents others from folding into a
	// group this writer leads.
	DisallowBatching bool

	// SeqNum is assigned by the group leader at commit time.
	SeqNum base.SeqNum
	// Err holds the terminal result. Valid only once State() reports
	// StateCompleted.
	Err error

	state atomic.Uint32
	older atomic.Pointer[Writer]
	newer atomic.Pointer[Writer]
	group atomic.Pointer[WriteGroup]

	// olderMem/newerMem link this writer into the second, memtable-stage
	// queue when pipelined writes are enabled (spec.md §4.D.5). Only ever
	// populated on a writer that was promoted to WAL-group leader: it acts
	// as that entire group's proxy node on the memtable queue.
	olderMem atomic.Pointer[Writer]
	newerMem atomic.Pointer[Writer]

	mu   sync.Mutex
	cond sync.Cond
}

// newWriter returns a Writer in StateInit, ready to be enqueued.
func newWriter(batch []byte, sync, disableWAL, noSlowdown bool) *Writer {
	w := &Writer{Batch: batch, Sync: sync, DisableWAL: disableWAL, NoSlowdown: noSlowdown}
	w.state.Store(StateInit)
	w.cond.L = &w.mu
	return w
}

// State returns the writer's current state word.
func (w *Writer) State() uint32 { return w.state.Load() }

// setState stores a new state with release semantics; any goroutine that
// later observes it via State (an acquire load) is guaranteed to see every
// write this goroutine made before the call, in particular SeqNum/Err for
// a transition into StateCompleted (spec.md §5: "state writes use
// release").
func (w *Writer) setState(s uint32) { w.state.Store(s) }

// WaitContext holds the adaptive-yield bookkeeping for one AwaitState call
// site, per spec.md §4.D.1's "per-context yield_credit". A WriteThread
// keeps one WaitContext per distinct call site (joining the WAL queue,
// joining the memtable queue) so oversubscription detected at one site doesn't bleed
// into another's statistics.
type WaitContext struct {
	credit atomic.Int32
	calls  atomic.Uint64
}

const (
	yieldCreditGain = 131072
	yieldCreditHalfLife = 1024
)

// sample reports whether this call should consult/update the shared
// credit, implementing spec.md §4.D.1's "probability 1/256" sampling.
func (c *WaitContext) sample() bool {
	return c.calls.Add(1)%256 == 0
}

// record applies the exponential-decay update from spec.md §4.D.1:
// v ← v − v/1024 + (success ? +131072 : −131072), saturating within int32.
func (c *WaitContext) record(success bool) {
	for {
		old := c.credit.Load()
		delta := int64(-yieldCreditGain)
		if success {
			delta = yieldCreditGain
		}
		next := int64(old) - int64(old)/yieldCreditHalfLife + delta
		if c.credit.CompareAndSwap(old, saturateInt32(next)) {
			return
		}
	}
}

// saturateInt32 clamps a wider-than-int32 intermediate result to int32's
// range. The caller must do its arithmetic in int64 (or wider) before
// calling this: once a value has already wrapped around in int32, no
// subsequent clamp can recover the true magnitude.
func saturateInt32(v int64) int32 {
	const maxV = int64(1<<31 - 1)
	const minV = -int64(1 << 31)
	if v > maxV {
		return 1<<31 - 1
	}
	if v < minV {
		return -(1 << 31)
	}
	return int32(v)
}

// permitYield reports whether this call site's credit currently allows
// entering/continuing the yield phase.
func (c *WaitContext) permitYield() bool {
	return c.credit.Load() >= 0
}
