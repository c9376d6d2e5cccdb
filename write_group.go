// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rocksdb

import "sync"

// WriteGroup is the set of writers a single group leader has folded
// together into one WAL append (and, unless parallel memtable writes are
// in effect, one serial pass over the memtable), per spec.md §4.D.4.
type WriteGroup struct {
	// Leader is the writer that built this group and owns driving it to
	// completion.
	Leader *Writer
	// Last is the last writer folded into the group; its newer pointer (once
	// established) names the next group's leader candidate.
	Last *Writer
	// Size is the cumulative estimated batch size, used against
	// Options.MaxWriteBatchGroupSize while folding in followers.
	Size int

	// status is the WAL-stage failure, if any, shared by every writer in
	// the group: the leader sets it once after writeGroupWAL returns and
	// applies it to every member via completeWriter before the group's
	// memtable stage ever runs (spec.md §4.D.5/§7).
	status error

	// mu/cond guard running, the outstanding-writer countdown for the
	// parallel memtable-write phase (spec.md §4.D.5): the leader blocks on
	// cond until running reaches zero.
	mu      sync.Mutex
	cond    sync.Cond
	running int
}

func newWriteGroup(leader *Writer) *WriteGroup {
	g := &WriteGroup{Leader: leader, Last: leader}
	g.cond.L = &g.mu
	return g
}

// startParallel arms the countdown for n outstanding parallel memtable
// appliers (including the leader's own contribution, if it applies one).
func (g *WriteGroup) startParallel(n int) {
	g.mu.Lock()
	g.running = n
	g.mu.Unlock()
}

// finishParallel records one writer's completed memtable application and
// wakes the leader once every writer in the group has reported in.
func (g *WriteGroup) finishParallel() {
	g.mu.Lock()
	g.running--
	done := g.running == 0
	g.mu.Unlock()
	if done {
		g.cond.Broadcast()
	}
}

// awaitParallel blocks the leader until finishParallel has been called for
// every launched writer.
func (g *WriteGroup) awaitParallel() {
	g.mu.Lock()
	for g.running > 0 {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// forEach walks the group from Leader to Last inclusive in commit order.
func (g *WriteGroup) forEach(fn func(w *Writer)) {
	for w := g.Leader; ; w = w.newer.Load() {
		fn(w)
		if w == g.Last {
			return
		}
	}
}

// count returns the number of writers folded into the group.
func (g *WriteGroup) count() int {
	n := 0
	g.forEach(func(*Writer) { n++ })
	return n
}
