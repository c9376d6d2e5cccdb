// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package arena implements a bump-pointer arena allocator for memtable-sized
// objects: a sequence of fixed-size slabs, each carved up from both ends —
// aligned allocations advance a low-end pointer, unaligned allocations
// advance a high-end pointer — so that the common unaligned case never pays
// for alignment padding it doesn't need.
//
// This mirrors RocksDB's util/arena.{h,cc}; the teacher repo's
// internal/arenaskl.Arena is a single fixed-capacity slab meant for a
// skiplist, so the multi-slab growth and huge-page path here are grounded
// directly on the original instead.
package arena

import (
	"github.com/cockroachdb/errors"
)

const (
	// DefaultBlockSize is the slab size used when the caller doesn't
	// override it via Options.BlockSize.
	DefaultBlockSize = 4096

	minBlockSize = 4096
	maxBlockSize = 2 << 30

	// inlineSize is the size of the inline buffer embedded in every Arena,
	// satisfying the first few small allocations without touching the
	// system allocator.
	inlineSize = 2048

	// sizeClassDivisor sets the threshold, BlockSize/sizeClassDivisor, above
	// which an allocation is considered "irregular" and gets its own dedicated slab
	// rather than being carved out of (and wasting the remainder of) a
	// regular slab.
	sizeClassDivisor = 4

	maxAlign = 8
)

// Options configures an Arena. The zero value is valid and selects
// DefaultBlockSize with no huge-page hint.
type Options struct {
	// BlockSize is the slab size requested for each new regular
	// allocation block. Clamped to [minBlockSize, maxBlockSize].
	BlockSize int
	// HugePageSize, when non-zero, makes the Arena attempt to satisfy new
	// regular slabs with an anonymous huge-page mapping of this size
	// instead of a plain heap allocation. Falling back silently to a
	// normal slab on any mmap failure.
	HugePageSize int
}

func (o *Options) ensureDefaults() {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.BlockSize < minBlockSize {
		o.BlockSize = minBlockSize
	}
	if o.BlockSize > maxBlockSize {
		o.BlockSize = maxBlockSize
	}
}

// block is a single slab. alloc bumps lo upward for aligned allocations and
// hi downward for unaligned ones; the slab is exhausted when lo meets hi.
type block struct {
	buf []byte
	lo  int
	hi  int
	// unmap releases a huge-page mapping backing buf. nil for ordinary
	// heap-allocated slabs.
	unmap func()
}

func newBlock(size int) *block {
	return &block{buf: make([]byte, size), hi: size}
}

func (b *block) remaining() int { return b.hi - b.lo }

func (b *block) allocUnaligned(n int) ([]byte, bool) {
	if n > b.remaining() {
		return nil, false
	}
	b.hi -= n
	return b.buf[b.hi : b.hi+n : b.hi+n], true
}

func (b *block) allocAligned(n, align int) ([]byte, bool) {
	// Round the low-end bump pointer up to the requested alignment before
	// reserving n bytes.
	mask := align - 1
	aligned := (b.lo + mask) &^ mask
	if aligned+n > b.hi {
		return nil, false
	}
	b.lo = aligned + n
	return b.buf[aligned : aligned+n : aligned+n], true
}

// Arena bulk-allocates byte slices with the arena's lifetime; there is no
// per-allocation free, only Release of the whole arena.
//
// An Arena is not safe for concurrent use. The write path gives each writer
// (or each memtable) its own Arena, consistent with §5's "Arena slabs — not
// thread-safe; each thread gets its own arena" invariant.
type Arena struct {
	opts Options

	inline    [inlineSize]byte
	inlineLo  int
	inlineUse bool

	cur    *block
	blocks []*block

	irregularBlockNum int
	irregularBytes    uint64
	hugePageBytes     uint64
	hugePageFailures  uint64
}

// New returns an Arena configured by opts. Passing the zero Options selects
// DefaultBlockSize with huge pages disabled.
func New(opts Options) *Arena {
	opts.ensureDefaults()
	a := &Arena{opts: opts}
	a.inlineUse = true
	return a
}

// Allocate returns an unaligned buffer of exactly n bytes, backed by the
// arena. The contents are zeroed.
func (a *Arena) Allocate(n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.New("arena: negative allocation size")
	}
	if n == 0 {
		return nil, nil
	}
	if a.inlineUse {
		if n <= len(a.inline)-a.inlineLo {
			lo := len(a.inline) - a.inlineLo - n
			// Carve the inline buffer from its high end too, mirroring the
			// slab discipline, so inline and slab allocations behave
			// identically to callers.
			hi := len(a.inline) - a.inlineLo
			a.inlineLo += n
			return a.inline[lo:hi:hi], nil
		}
		a.inlineUse = false
	}
	if a.cur != nil {
		if buf, ok := a.cur.allocUnaligned(n); ok {
			return buf, nil
		}
	}
	return a.allocateFallback(n, false, 0)
}

// AllocateAligned returns a buffer of exactly n bytes aligned to maxAlign.
func (a *Arena) AllocateAligned(n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.New("arena: negative allocation size")
	}
	if n == 0 {
		return nil, nil
	}
	if a.cur != nil {
		if buf, ok := a.cur.allocAligned(n, maxAlign); ok {
			return buf, nil
		}
	}
	return a.allocateFallback(n, true, maxAlign)
}

// allocateFallback implements §4.A's AllocateFallback: oversize allocations
// (> blockSize/sizeClassDivisor) get their own dedicated slab so they don't
// waste the remainder of a shared block; everything else triggers a fresh
// regular slab.
func (a *Arena) allocateFallback(n int, aligned bool, align int) ([]byte, error) {
	if n > a.opts.BlockSize/sizeClassDivisor {
		b := newBlock(n)
		a.irregularBlockNum++
		a.irregularBytes += uint64(n)
		a.blocks = append(a.blocks, b)
		b.lo = n
		b.hi = n
		return b.buf, nil
	}

	b := a.newRegularBlock()
	a.blocks = append(a.blocks, b)
	a.cur = b

	if aligned {
		buf, ok := b.allocAligned(n, align)
		if !ok {
			return nil, errors.Newf("arena: block of size %d too small for aligned allocation of %d", a.opts.BlockSize, n)
		}
		return buf, nil
	}
	buf, ok := b.allocUnaligned(n)
	if !ok {
		return nil, errors.Newf("arena: block of size %d too small for allocation of %d", a.opts.BlockSize, n)
	}
	return buf, nil
}

func (a *Arena) newRegularBlock() *block {
	if a.opts.HugePageSize > 0 {
		if b, ok := newHugePageBlock(a.opts.HugePageSize); ok {
			a.hugePageBytes += uint64(len(b.buf))
			return b
		}
		a.hugePageFailures++
	}
	return newBlock(a.opts.BlockSize)
}

// ApproximateMemoryUsage returns the total bytes held by the arena's slabs
// (including the inline buffer and any dedicated irregular slabs) minus the
// portion of the current regular slab that is still unused.
func (a *Arena) ApproximateMemoryUsage() uint64 {
	var total uint64
	total += uint64(len(a.inline))
	for _, b := range a.blocks {
		total += uint64(len(b.buf))
	}
	if a.cur != nil {
		total -= uint64(a.cur.remaining())
	}
	return total
}

// MemoryAllocatedBytes returns the sum of the sizes of every slab the arena
// has allocated, regardless of how much of each slab is in use. This is the
// "vector overhead" term referenced by §4.A.
func (a *Arena) MemoryAllocatedBytes() uint64 {
	total := uint64(len(a.inline))
	for _, b := range a.blocks {
		total += uint64(len(b.buf))
	}
	return total
}

// IrregularBlocks returns the number of dedicated oversize slabs allocated
// outside the regular block-size rotation, and their combined byte count.
func (a *Arena) IrregularBlocks() (count int, bytes uint64) {
	return a.irregularBlockNum, a.irregularBytes
}

// HugePageBytes returns the number of bytes successfully allocated from
// huge-page mappings, and the number of times a huge-page allocation
// attempt fell back to a normal slab.
func (a *Arena) HugePageBytes() (bytes uint64, fallbacks uint64) {
	return a.hugePageBytes, a.hugePageFailures
}

// Release unmaps any huge-page slabs held by the arena; calling it again is
// a no-op. After Release, the arena and every slice it returned must no
// longer be used. Regular Go-heap slabs need no explicit release; Release
// only exists to pair with mmap.
func (a *Arena) Release() {
	for _, b := range a.blocks {
		if b.unmap != nil {
			b.unmap()
			b.unmap = nil
		}
	}
}

