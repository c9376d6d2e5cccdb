// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package block

import (
	"encoding/binary"

	"github.com/denise813/rocksdb/internal/base"
	"github.com/denise813/rocksdb/internal/readamp"
)

// Reader parses a finished data block's bytes. Construction is pure: it
// only validates the restart trailer, deferring entry decoding to an
// Iterator.
type Reader struct {
	data           []byte
	restartsOffset int
	numRestarts    uint32

	cmp base.Compare
	// globalSeqNum, when non-zero, overrides the sequence number encoded in
	// every key this block's iterators decode (spec.md §4.C).
	globalSeqNum base.SeqNum
}

// NewReader validates data's restart trailer and returns a Reader over it.
// data must outlive the Reader and any Iterator created from it.
func NewReader(data []byte, cmp base.Compare, globalSeqNum base.SeqNum) (*Reader, error) {
	numRestarts, restartsOffset, err := parseTrailer(data)
	if err != nil {
		return nil, err
	}
	if cmp == nil {
		cmp = base.DefaultCompare
	}
	return &Reader{
		data:           data,
		restartsOffset: restartsOffset,
		numRestarts:    numRestarts,
		cmp:            cmp,
		globalSeqNum:   globalSeqNum,
	}, nil
}

// NumRestarts returns the number of restart points in the block.
func (r *Reader) NumRestarts() uint32 { return r.numRestarts }

// Size returns the number of bytes the block occupies, including its
// restart trailer.
func (r *Reader) Size() int { return len(r.data) }

// NewIter returns a fresh Iterator over the block. bitmap, if non-nil, is
// credited with the byte ranges of every value the iterator exposes
// (spec.md §4.C "read-amp bitmap"); pass nil to skip tracking.
func (r *Reader) NewIter(bitmap *readamp.Bitmap) *Iterator {
	return &Iterator{r: r, bitmap: bitmap, offset: -1}
}

// cacheEntry is one decoded (offset, key, value) tuple, kept around so a
// run of Prev calls doesn't have to re-scan from the containing restart
// point on every single step.
type cacheEntry struct {
	offset     int
	nextOffset int
	key        []byte
	value      []byte
}

// Iterator walks a data block's entries in key order. The zero value is not
// usable; obtain one via Reader.NewIter. Not safe for concurrent use.
type Iterator struct {
	r      *Reader
	bitmap *readamp.Bitmap

	// offset is the current entry's header offset, or -1 before the first
	// position and >= restartsOffset once exhausted.
	offset     int
	nextOffset int
	curKeyRaw  []byte
	key        []byte
	value      []byte

	err error

	cache    []cacheEntry
	cachePos int
}

// Valid reports whether the iterator is positioned at an entry. Per
// spec.md §4.C: "true iff current < restart_array_offset".
func (it *Iterator) Valid() bool {
	return it.err == nil && it.offset >= 0 && it.offset < it.r.restartsOffset
}

// Error returns the corruption error that invalidated the iterator, if
// any. Once set, every mutator becomes a no-op (spec.md §4.C, §7).
func (it *Iterator) Error() error { return it.err }

// Key returns the current entry's key, with the block's global sequence
// number override applied if configured.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current entry's raw value bytes.
func (it *Iterator) Value() []byte { return it.value }

func (it *Iterator) fail(err error) {
	it.err = err
	it.offset = it.r.restartsOffset
}

// applySeqNumOverride rewrites raw's trailer to carry the block's global
// sequence number, preserving its kind, per spec.md §4.C. It returns raw
// unmodified when no override is configured.
func (it *Iterator) applySeqNumOverride(raw []byte) []byte {
	if it.r.globalSeqNum == 0 || len(raw) < base.InternalTrailerLen {
		return raw
	}
	out := append([]byte(nil), raw...)
	n := len(out)
	oldTrailer := binary.LittleEndian.Uint64(out[n-base.InternalTrailerLen:])
	newTrailer := base.MakeTrailer(it.r.globalSeqNum, base.KindFromTrailer(oldTrailer))
	binary.LittleEndian.PutUint64(out[n-base.InternalTrailerLen:], newTrailer)
	return out
}

// restartKey decodes the (necessarily unshared) key stored at a restart
// point, without installing it as the iterator's current position.
func (it *Iterator) restartKey(restartIdx uint32) ([]byte, decodedEntry, error) {
	off, err := restartPoint(it.r.data, it.r.restartsOffset, restartIdx)
	if err != nil {
		return nil, decodedEntry{}, err
	}
	e, err := decodeEntryAt(it.r.data, int(off), it.r.restartsOffset)
	if err != nil {
		return nil, decodedEntry{}, err
	}
	if e.shared != 0 {
		return nil, decodedEntry{}, corruptf("restart point %d has nonzero shared prefix", restartIdx)
	}
	return it.r.data[e.keyStart:e.keyEnd], e, nil
}

// seekRestart returns the index of the last restart point whose decoded
// key is ≤ target, via binary search, per spec.md §4.C.
func (it *Iterator) seekRestart(target []byte) (uint32, error) {
	if it.r.numRestarts == 0 {
		return 0, corruptf("block has no restart points")
	}
	lo, hi := uint32(0), it.r.numRestarts-1
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		key, _, err := it.restartKey(mid)
		if err != nil {
			return 0, err
		}
		if it.r.cmp(key, target) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

// scanFrom decodes entries starting at a restart point, stopping at the
// first entry satisfying stop, or after scanning the whole restart
// interval if stop never fires. Every decoded entry is appended to out.
func (it *Iterator) scanFrom(restartIdx uint32, stop func(rawKey []byte) bool) ([]cacheEntry, error) {
	restartOff, err := restartPoint(it.r.data, it.r.restartsOffset, restartIdx)
	if err != nil {
		return nil, err
	}

	var out []cacheEntry
	var curKey []byte
	offset := int(restartOff)
	for offset < it.r.restartsOffset {
		e, err := decodeEntryAt(it.r.data, offset, it.r.restartsOffset)
		if err != nil {
			return nil, err
		}
		if e.shared > len(curKey) {
			return nil, corruptf("shared prefix length %d exceeds previous key length %d", e.shared, len(curKey))
		}
		rawKey := append(append([]byte(nil), curKey[:e.shared]...), it.r.data[e.keyStart:e.keyEnd]...)
		out = append(out, cacheEntry{
			offset:     offset,
			nextOffset: e.nextOffset,
			key:        rawKey,
			value:      it.r.data[e.valueStart:e.valueEnd],
		})
		curKey = rawKey
		if stop != nil && stop(rawKey) {
			break
		}
		offset = e.nextOffset
		// A fresh restart point also ends this interval's linear scan.
		if restartIdx+1 < it.r.numRestarts {
			nextRestartOff, err := restartPoint(it.r.data, it.r.restartsOffset, restartIdx+1)
			if err != nil {
				return nil, err
			}
			if offset >= int(nextRestartOff) {
				break
			}
		}
	}
	return out, nil
}

func (it *Iterator) installCacheEntry(c cacheEntry) {
	it.offset = c.offset
	it.nextOffset = c.nextOffset
	it.curKeyRaw = append(it.curKeyRaw[:0], c.key...)
	it.key = it.applySeqNumOverride(it.curKeyRaw)
	it.value = c.value
	if it.bitmap != nil {
		it.bitmap.MarkRange(uint32(c.offset), uint32(c.nextOffset-c.offset))
	}
}

// SeekGE positions the iterator at the first entry with key ≥ target.
//
// seekRestart only guarantees that restartIdx's own key is ≤ target; target
// may still fall after every key in that restart interval (when it sits
// between the interval's last key and the next restart's key), so the scan
// must be able to continue into subsequent restart intervals rather than
// declaring the iterator exhausted the moment one interval comes up empty.
func (it *Iterator) SeekGE(target []byte) {
	if it.err != nil {
		return
	}
	restartIdx, err := it.seekRestart(target)
	if err != nil {
		it.fail(err)
		return
	}
	for ; restartIdx < it.r.numRestarts; restartIdx++ {
		entries, err := it.scanFrom(restartIdx, func(k []byte) bool { return it.r.cmp(k, target) >= 0 })
		if err != nil {
			it.fail(err)
			return
		}
		for i, c := range entries {
			if it.r.cmp(c.key, target) >= 0 {
				it.cache = entries
				it.cachePos = i
				it.installCacheEntry(c)
				return
			}
		}
	}
	it.exhaust()
}

// SeekLT positions the iterator at the last entry with key < target. Used
// internally by SeekForPrev and exposed for callers that need strict
// predecessor semantics.
func (it *Iterator) SeekLT(target []byte) {
	if it.err != nil {
		return
	}
	it.SeekGE(target)
	switch {
	case it.err != nil:
		return
	case !it.Valid():
		// No key ≥ target exists, so every key in the block is < target:
		// the predecessor is simply the last entry.
		it.Last()
	case it.r.cmp(it.key, target) >= 0:
		it.Prev()
	}
}

// SeekForPrev positions the iterator at the last entry with key ≤ target.
// Rejected by index-block iterators (spec.md §4.C).
func (it *Iterator) SeekForPrev(target []byte) {
	if it.err != nil {
		return
	}
	it.SeekGE(target)
	switch {
	case it.err != nil:
		return
	case it.Valid() && it.r.cmp(it.key, target) == 0:
		return
	case !it.Valid():
		// No key ≥ target exists, so every key in the block is ≤ target:
		// the predecessor is simply the last entry.
		it.Last()
	default:
		it.Prev()
	}
}

// First positions the iterator at the block's first entry.
func (it *Iterator) First() {
	if it.err != nil {
		return
	}
	entries, err := it.scanFrom(0, func([]byte) bool { return true })
	if err != nil {
		it.fail(err)
		return
	}
	if len(entries) == 0 {
		it.exhaust()
		return
	}
	it.cache = entries
	it.cachePos = 0
	it.installCacheEntry(entries[0])
}

// Last positions the iterator at the block's last entry.
func (it *Iterator) Last() {
	if it.err != nil {
		return
	}
	if it.r.numRestarts == 0 {
		it.fail(corruptf("block has no restart points"))
		return
	}
	entries, err := it.scanFrom(it.r.numRestarts-1, nil)
	if err != nil {
		it.fail(err)
		return
	}
	if len(entries) == 0 {
		it.exhaust()
		return
	}
	it.cache = entries
	it.cachePos = len(entries) - 1
	it.installCacheEntry(entries[len(entries)-1])
}

// Next advances to the entry immediately after the current one.
func (it *Iterator) Next() {
	if it.err != nil || !it.Valid() {
		return
	}
	if it.cachePos+1 < len(it.cache) {
		it.cachePos++
		it.installCacheEntry(it.cache[it.cachePos])
		return
	}
	if it.nextOffset >= it.r.restartsOffset {
		it.exhaust()
		return
	}
	e, err := decodeEntryAt(it.r.data, it.nextOffset, it.r.restartsOffset)
	if err != nil {
		it.fail(err)
		return
	}
	if e.shared > len(it.curKeyRaw) {
		it.fail(corruptf("shared prefix length %d exceeds previous key length %d", e.shared, len(it.curKeyRaw)))
		return
	}
	rawKey := append(append([]byte(nil), it.curKeyRaw[:e.shared]...), it.r.data[e.keyStart:e.keyEnd]...)
	c := cacheEntry{offset: it.nextOffset, nextOffset: e.nextOffset, key: rawKey, value: it.r.data[e.valueStart:e.valueEnd]}
	it.cache = append(it.cache, c)
	it.cachePos = len(it.cache) - 1
	it.installCacheEntry(c)
}

// Prev moves to the entry immediately before the current one, amortizing
// repeated calls by caching the entries of the restart interval it last
// scanned (spec.md §4.C).
func (it *Iterator) Prev() {
	if it.err != nil || !it.Valid() {
		return
	}
	if it.cachePos > 0 {
		it.cachePos--
		it.installCacheEntry(it.cache[it.cachePos])
		return
	}

	// Exhausted the cache for this restart interval; re-scan from the
	// previous restart point (or declare no predecessor).
	restartIdx, err := it.restartIndexOf(it.offset)
	if err != nil {
		it.fail(err)
		return
	}
	if restartIdx == 0 {
		it.exhaust()
		return
	}
	entries, err := it.scanFrom(restartIdx-1, nil)
	if err != nil {
		it.fail(err)
		return
	}
	// Keep only entries strictly before the one we were at.
	cut := len(entries)
	for i, c := range entries {
		if c.offset >= it.offset {
			cut = i
			break
		}
	}
	entries = entries[:cut]
	if len(entries) == 0 {
		it.exhaust()
		return
	}
	it.cache = entries
	it.cachePos = len(entries) - 1
	it.installCacheEntry(entries[len(entries)-1])
}

func (it *Iterator) restartIndexOf(offset int) (uint32, error) {
	lo, hi := uint32(0), it.r.numRestarts-1
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		off, err := restartPoint(it.r.data, it.r.restartsOffset, mid)
		if err != nil {
			return 0, err
		}
		if int(off) <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

func (it *Iterator) exhaust() {
	it.offset = it.r.restartsOffset
	it.cache = nil
	it.cachePos = 0
	it.key = nil
	it.value = nil
}
