// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package rocksdb provides a RocksDB-style group-commit write coordinator
// in front of the record (WAL framing) and sstable/block (on-disk block
// reader) packages.
package rocksdb

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/denise813/rocksdb/internal/base"
	"github.com/denise813/rocksdb/record"
)

// WriteOptions carries the per-call flags spec.md §3 attaches to a single
// Writer.
type WriteOptions struct {
	// Sync requests the write be fsynced before Write returns.
	Sync bool
	// DisableWAL skips the WAL append for this write.
	DisableWAL bool
	// NoSlowdown fails immediately with ErrWriteStall instead of waiting
	// out an in-progress write stall.
	NoSlowdown bool
}

// WriteThread is the group-commit coordinator: a lock-free MPSC queue of
// Writers feeding a single group leader at a time, per spec.md §4.D.
type WriteThread struct {
	opts *Options
	log  *record.LogWriter

	newestWriter    atomic.Pointer[Writer]
	newestMemWriter atomic.Pointer[Writer]

	nextSeqNum atomic.Uint64

	joinCtx    *WaitContext
	memJoinCtx *WaitContext

	stall struct {
		mu      sync.Mutex
		cond    sync.Cond
		stalled bool
	}

	closed atomic.Bool
}

// New constructs a WriteThread. opts is mutated in place by EnsureDefaults.
func New(opts *Options) *WriteThread {
	opts.EnsureDefaults()
	wt := &WriteThread{
		opts:       opts,
		log:        record.NewLogWriter(sinkWriter{opts.Sink}, opts.RecyclableWAL, opts.LogNumber),
		joinCtx:    &WaitContext{},
		memJoinCtx: &WaitContext{},
	}
	wt.stall.cond.L = &wt.stall.mu
	return wt
}

// Close drains and shuts down the underlying WAL writer. No further Write
// calls may be submitted afterward.
func (wt *WriteThread) Close() error {
	wt.closed.Store(true)
	return wt.log.Close()
}

// Write submits batch, blocking until it has been durably sequenced (and,
// if wopts.Sync is set, fsynced) or the write fails.
func (wt *WriteThread) Write(batch []byte, wopts WriteOptions) (base.SeqNum, error) {
	if wt.closed.Load() {
		return 0, ErrClosed
	}
	if err := wt.admitOrStall(wopts.NoSlowdown); err != nil {
		return 0, err
	}
	w := newWriter(batch, wopts.Sync, wopts.DisableWAL, wopts.NoSlowdown)
	wt.run(w)
	return w.SeqNum, w.Err
}

// EnterUnbatched runs fn with exclusive access to the coordinator: no other
// writer's batch is being applied to the WAL or memtable while fn runs.
// With EnablePipelinedWrite, the memtable queue is not drained first, so
// earlier groups' memtable application may still be in progress while fn
// runs; only the WAL side is exclusive in that mode.
// This is the primitive an external collaborator uses to serialize
// administrative operations such as WAL rotation (spec.md §4.D.6's
// "enter_unbatched").
func (wt *WriteThread) EnterUnbatched(fn func() error) error {
	w := newWriter(nil, false, true, false)
	w.Solo = true
	if !wt.linkOne(w, &wt.newestWriter) {
		wt.awaitState(w, StateGroupLeader, wt.joinCtx)
	}
	group := wt.enterAsBatchGroupLeader(w)
	err := fn()
	completeWriter(w, err)
	wt.exitAsBatchGroupLeader(group)
	return err
}

// Metrics is a point-in-time snapshot of the coordinator's queue depth and
// stall state, the plain-struct equivalent of RocksDB's
// `DBImpl::GetProperty("rocksdb.*")` introspection for this layer.
type Metrics struct {
	// PendingWriters counts writers currently linked onto the WAL queue,
	// including whichever one is acting as group leader.
	PendingWriters int
	// Stalled reports whether admission control is currently engaged.
	Stalled bool
}

// Metrics returns a snapshot of the coordinator's current state.
func (wt *WriteThread) Metrics() Metrics {
	n := 0
	for w := wt.newestWriter.Load(); w != nil; w = w.older.Load() {
		n++
	}
	wt.stall.mu.Lock()
	stalled := wt.stall.stalled
	wt.stall.mu.Unlock()
	return Metrics{PendingWriters: n, Stalled: stalled}
}

// BeginWriteStall engages admission control: subsequent Write calls block
// (or, with NoSlowdown, fail immediately) until EndWriteStall.
func (wt *WriteThread) BeginWriteStall() {
	wt.stall.mu.Lock()
	wt.stall.stalled = true
	wt.stall.mu.Unlock()
}

// EndWriteStall releases admission control and wakes every blocked writer.
func (wt *WriteThread) EndWriteStall() {
	wt.stall.mu.Lock()
	wt.stall.stalled = false
	wt.stall.mu.Unlock()
	wt.stall.cond.Broadcast()
}

func (wt *WriteThread) admitOrStall(noSlowdown bool) error {
	wt.stall.mu.Lock()
	defer wt.stall.mu.Unlock()
	for wt.stall.stalled {
		if noSlowdown {
			wt.opts.Stats.IncrBy(StatWriteStalls, 1)
			return ErrWriteStall
		}
		start := wt.opts.Clock.Now()
		wt.stall.cond.Wait()
		wt.opts.Stats.IncrBy(StatWriteStallMicros, uint64((wt.opts.Clock.Now()-start)/1000))
	}
	return nil
}

// run drives w through the coordinator: it either becomes a group leader
// immediately (the queue was empty), or blocks until the current leader
// promotes it, completes it directly, or launches it as a parallel
// memtable applier.
func (wt *WriteThread) run(w *Writer) {
	if wt.linkOne(w, &wt.newestWriter) {
		w.setState(StateGroupLeader)
		wt.runAsGroupLeader(w)
		return
	}
	goal := StateGroupLeader | StateParallelMemtableWriter | StateCompleted
	state := wt.awaitState(w, goal, wt.joinCtx)
	switch {
	case state&StateParallelMemtableWriter != 0:
		wt.applyParallelMember(w)
	case state&StateGroupLeader != 0:
		wt.runAsGroupLeader(w)
	}
}

// linkOne CAS-links w onto the front of the list rooted at head, returning
// true iff the list was empty (w has no predecessor and so must lead).
func (wt *WriteThread) linkOne(w *Writer, head *atomic.Pointer[Writer]) bool {
	for {
		old := head.Load()
		w.older.Store(old)
		if head.CompareAndSwap(old, w) {
			return old == nil
		}
	}
}

// createMissingNewerLinks walks backward from head over the older chain,
// installing the forward (newer) pointer the CAS-based enqueue never sets,
// stopping as soon as it reaches a writer whose newer pointer is already
// populated from a previous pass (spec.md §4.D.3).
func (wt *WriteThread) createMissingNewerLinks(head *Writer) {
	for {
		next := head.older.Load()
		if next == nil || next.newer.Load() != nil {
			return
		}
		next.newer.Store(head)
		head = next
	}
}

// enterAsBatchGroupLeader folds as many of leader's immediate successors as
// the cutoff rules in spec.md §4.D.4 allow into a single WriteGroup.
func (wt *WriteThread) enterAsBatchGroupLeader(leader *Writer) *WriteGroup {
	wt.createMissingNewerLinks(wt.newestWriter.Load())

	group := newWriteGroup(leader)
	leader.group.Store(group)

	size := len(leader.Batch)
	maxSize := wt.opts.MaxWriteBatchGroupSize
	if size <= 128<<10 {
		maxSize = size + 128<<10
	}

	w := leader
	for !leader.Solo && !leader.DisallowBatching {
		next := w.newer.Load()
		if next == nil {
			break
		}
		if next.Solo || next.DisallowBatching {
			break
		}
		if next.Sync != leader.Sync || next.NoSlowdown != leader.NoSlowdown || next.DisableWAL != leader.DisableWAL {
			break
		}
		nextSize := size + len(next.Batch)
		if nextSize > maxSize {
			break
		}
		size = nextSize
		next.group.Store(group)
		group.Last = next
		w = next
	}
	group.Size = size
	return group
}

// runAsGroupLeader drives leader's group through the WAL and memtable
// stages and hands leadership of the WAL queue to whichever writer follows
// the group, per spec.md §4.D.5/§4.D.6.
func (wt *WriteThread) runAsGroupLeader(leader *Writer) {
	group := wt.enterAsBatchGroupLeader(leader)

	group.status = wt.writeGroupWAL(group)
	if group.status == nil {
		wt.assignSeqNums(group)
	}

	if group.status != nil {
		wt.exitAsBatchGroupLeader(group)
		group.forEach(func(w *Writer) { completeWriter(w, group.status) })
		return
	}

	if wt.opts.EnablePipelinedWrite {
		wt.exitAsBatchGroupLeader(group)
		wt.runMemtableStage(group)
	} else {
		wt.applyMemtable(group)
		wt.exitAsBatchGroupLeader(group)
	}
}

// writeGroupWAL appends every writer's batch in the group to the WAL,
// syncing once at the end if any member requested it, so that a single
// fsync durably covers the whole group (spec.md §4.D.5).
func (wt *WriteThread) writeGroupWAL(group *WriteGroup) error {
	if group.Leader.DisableWAL {
		return nil
	}
	needSync := false
	group.forEach(func(w *Writer) {
		if w.Sync {
			needSync = true
		}
	})
	var err error
	n := 0
	group.forEach(func(w *Writer) {
		if err != nil {
			return
		}
		n++
		if needSync && w == group.Last {
			_, err = wt.log.SyncRecord(w.Batch)
		} else {
			_, err = wt.log.WriteRecord(w.Batch)
		}
	})
	if err == nil {
		wt.opts.Stats.IncrBy(StatWritesWithWAL, uint64(n))
		wt.opts.Stats.IncrBy(StatWalBytesWritten, uint64(group.Size))
	}
	return err
}

// assignSeqNums hands out one sequence number per writer in commit order.
func (wt *WriteThread) assignSeqNums(group *WriteGroup) {
	n := uint64(group.count())
	first := wt.nextSeqNum.Add(n) - n + 1
	i := uint64(0)
	group.forEach(func(w *Writer) {
		w.SeqNum = base.SeqNum(first + i)
		i++
	})
}

// exitAsBatchGroupLeader hands WAL-queue leadership to the writer
// immediately following the group, if any (spec.md §4.D.6).
func (wt *WriteThread) exitAsBatchGroupLeader(group *WriteGroup) {
	last := group.Last
	if wt.newestWriter.CompareAndSwap(last, nil) {
		return
	}
	wt.createMissingNewerLinks(wt.newestWriter.Load())
	next := last.newer.Load()
	next.mu.Lock()
	next.setState(StateGroupLeader)
	next.cond.Broadcast()
	next.mu.Unlock()
}

// applyMemtable applies every writer's batch to the memtable, either
// serially on the calling goroutine or, with AllowConcurrentMemtableWrite,
// fanned out one goroutine per writer (spec.md §4.D.5's parallel phase).
func (wt *WriteThread) applyMemtable(group *WriteGroup) {
	if wt.opts.AllowConcurrentMemtableWrite && group.count() > 1 {
		wt.applyMemtableParallel(group)
		return
	}
	group.forEach(func(w *Writer) {
		completeWriter(w, wt.opts.Memtable.ApplyBatch(w.Batch, w.SeqNum))
	})
}

func (wt *WriteThread) applyMemtableParallel(group *WriteGroup) {
	group.startParallel(group.count())
	wt.opts.Stats.IncrBy(StatParallelMemtableWrites, uint64(group.count()))
	group.forEach(func(w *Writer) {
		if w == group.Leader {
			go wt.applyParallelMember(w)
			return
		}
		w.mu.Lock()
		w.setState(StateParallelMemtableWriter)
		w.cond.Broadcast()
		w.mu.Unlock()
	})
	group.awaitParallel()
}

// applyParallelMember is run by (or on behalf of) one writer during the
// parallel memtable phase: it applies its own batch, completes itself, and
// reports in to the group's countdown.
func (wt *WriteThread) applyParallelMember(w *Writer) {
	err := wt.opts.Memtable.ApplyBatch(w.Batch, w.SeqNum)
	completeWriter(w, err)
	w.group.Load().finishParallel()
}

// runMemtableStage hands leader's group off to the second, memtable-only
// queue when pipelined writes are enabled. The group's leader writer acts
// as that whole group's single proxy node on this queue, which lets the
// next WAL group start writing (already unblocked by
// exitAsBatchGroupLeader) while this group's memtable application is still
// pending (spec.md §4.D.5 "Pipelined").
func (wt *WriteThread) runMemtableStage(group *WriteGroup) {
	proxy := group.Leader
	if wt.linkOneMem(proxy, &wt.newestMemWriter) {
		wt.runAsMemtableLeader(proxy, group)
		return
	}
	state := wt.awaitState(proxy, StateMemtableWriterLeader|StateCompleted, wt.memJoinCtx)
	if state&StateMemtableWriterLeader != 0 {
		wt.runAsMemtableLeader(proxy, group)
	}
}

func (wt *WriteThread) linkOneMem(w *Writer, head *atomic.Pointer[Writer]) bool {
	for {
		old := head.Load()
		w.olderMem.Store(old)
		if head.CompareAndSwap(old, w) {
			return old == nil
		}
	}
}

func (wt *WriteThread) createMissingNewerMemLinks(head *Writer) {
	for {
		next := head.olderMem.Load()
		if next == nil || next.newerMem.Load() != nil {
			return
		}
		next.newerMem.Store(head)
		head = next
	}
}

func (wt *WriteThread) runAsMemtableLeader(proxy *Writer, group *WriteGroup) {
	wt.applyMemtable(group)
	wt.exitAsMemtableLeader(proxy)
}

func (wt *WriteThread) exitAsMemtableLeader(proxy *Writer) {
	if wt.newestMemWriter.CompareAndSwap(proxy, nil) {
		return
	}
	wt.createMissingNewerMemLinks(wt.newestMemWriter.Load())
	next := proxy.newerMem.Load()
	next.mu.Lock()
	next.setState(StateMemtableWriterLeader)
	next.cond.Broadcast()
	next.mu.Unlock()
}

// completeWriter records w's terminal result and wakes anyone blocked in
// AwaitState's block phase on w.
func completeWriter(w *Writer, err error) {
	w.Err = err
	w.mu.Lock()
	w.setState(StateCompleted)
	w.cond.Broadcast()
	w.mu.Unlock()
}

// awaitState blocks until w.State()&goal != 0, implementing the
// three-phase adaptive wait of spec.md §4.D.1: a short spin, an optional
// adaptive-yield phase gated by ctx's sampled yield credit, then a
// condition-variable block.
func (wt *WriteThread) awaitState(w *Writer, goal uint32, ctx *WaitContext) uint32 {
	if state := w.State(); state&goal != 0 {
		return state
	}
	for i := 0; i < 200; i++ {
		if state := w.State(); state&goal != 0 {
			return state
		}
	}

	if wt.opts.EnableWriteThreadAdaptiveYield && wt.opts.WriteThreadMaxYieldMicros > 0 {
		sampled := ctx.sample()
		if !sampled || ctx.permitYield() {
			start := wt.opts.Clock.Now()
			slow := 0
			for {
				t0 := wt.opts.Clock.Now()
				runtime.Gosched()
				if state := w.State(); state&goal != 0 {
					if sampled {
						ctx.record(true)
					}
					return state
				}
				if (wt.opts.Clock.Now()-t0)/1000 >= wt.opts.WriteThreadSlowYieldMicros {
					slow++
					if sampled {
						ctx.record(false)
					}
					if slow >= 3 {
						break
					}
				}
				if (wt.opts.Clock.Now()-start)/1000 >= wt.opts.WriteThreadMaxYieldMicros {
					break
				}
			}
		}
	}

	return wt.blockAwaitState(w, goal)
}

func (wt *WriteThread) blockAwaitState(w *Writer, goal uint32) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	state := w.State()
	for state&goal == 0 {
		// CAS rather than store: a waker may have installed the goal state
		// (and be about to broadcast) between our load above and this call.
		// A plain store would clobber that transition and the waker's
		// broadcast would then wake us into a state we overwrote ourselves
		// back to LOCKED_WAITING, hanging forever. On CAS failure the state
		// already changed out from under us, so just re-read and recheck.
		if !w.state.CompareAndSwap(state, StateLockedWaiting) {
			state = w.State()
			continue
		}
		w.cond.Wait()
		state = w.State()
	}
	return state
}
