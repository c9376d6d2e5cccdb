// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package block

import (
	"encoding/binary"

	"github.com/denise813/rocksdb/internal/base"
)

// IndexWriter builds an index block: separator keys mapping to the Handle
// of the data block they bound. Per spec.md §4.C, the first value in each
// restart interval is a fully encoded Handle; subsequent values within the
// interval store only their length, with their offset recovered as a
// running sum of the previous entry's offset and length — the common case
// of sequentially laid-out data blocks needs no offset bytes at all.
type IndexWriter struct {
	RestartInterval int

	buf      []byte
	restarts []uint32
	curKey   []byte
	nEntries int
	prev     Handle
}

// Add appends a separator key and the Handle of the block it bounds.
func (w *IndexWriter) Add(key []byte, h Handle) {
	if w.RestartInterval <= 0 {
		w.RestartInterval = 1
	}

	isRestart := w.nEntries%w.RestartInterval == 0
	var shared int
	if isRestart {
		w.restarts = append(w.restarts, uint32(len(w.buf)))
	} else {
		shared = sharedPrefixLen(w.curKey, key)
	}
	unshared := key[shared:]

	var valueBytes []byte
	if isRestart {
		valueBytes = h.EncodeVarint(nil)
	} else {
		valueBytes = appendUvarint(nil, h.Length)
	}

	w.buf = appendUvarint(w.buf, uint64(shared))
	w.buf = appendUvarint(w.buf, uint64(len(unshared)))
	w.buf = appendUvarint(w.buf, uint64(len(valueBytes)))
	w.buf = append(w.buf, unshared...)
	w.buf = append(w.buf, valueBytes...)

	w.curKey = append(w.curKey[:0], key...)
	w.prev = h
	w.nEntries++
}

// EstimatedSize returns the number of bytes the index block would occupy
// if Finish were called now.
func (w *IndexWriter) EstimatedSize() int {
	return len(w.buf) + 4*len(w.restarts) + 4
}

// Finish completes the index block, matching spec.md §6's trailer layout.
func (w *IndexWriter) Finish() []byte {
	for _, r := range w.restarts {
		w.buf = appendFixed32(w.buf, r)
	}
	w.buf = appendFixed32(w.buf, uint32(len(w.restarts)))
	return w.buf
}

// IndexReader parses a finished index block.
type IndexReader struct {
	data           []byte
	restartsOffset int
	numRestarts    uint32
	cmp            base.Compare
}

// NewIndexReader validates data's restart trailer and returns a reader
// over it.
func NewIndexReader(data []byte, cmp base.Compare) (*IndexReader, error) {
	numRestarts, restartsOffset, err := parseTrailer(data)
	if err != nil {
		return nil, err
	}
	if cmp == nil {
		cmp = base.DefaultCompare
	}
	return &IndexReader{data: data, restartsOffset: restartsOffset, numRestarts: numRestarts, cmp: cmp}, nil
}

// NumRestarts returns the number of restart points in the index block.
func (r *IndexReader) NumRestarts() uint32 { return r.numRestarts }

// NewIter returns a fresh IndexIterator over the block.
func (r *IndexReader) NewIter() *IndexIterator {
	return &IndexIterator{r: r, offset: -1}
}

// IndexIterator walks an index block's separator-key/Handle entries.
// SeekForPrev is intentionally unsupported here (spec.md §4.C: "index
// blocks reject this").
type IndexIterator struct {
	r          *IndexReader
	offset     int
	nextOffset int
	curKeyRaw  []byte
	key        []byte
	handle     Handle
	err        error
}

// Valid reports whether the iterator is positioned at an entry.
func (it *IndexIterator) Valid() bool {
	return it.err == nil && it.offset >= 0 && it.offset < it.r.restartsOffset
}

// Error returns the error that invalidated the iterator, if any.
func (it *IndexIterator) Error() error { return it.err }

// Key returns the current entry's separator key.
func (it *IndexIterator) Key() []byte { return it.key }

// Handle returns the current entry's decoded Handle.
func (it *IndexIterator) Handle() Handle { return it.handle }

func (it *IndexIterator) fail(err error) {
	it.err = err
	it.offset = it.r.restartsOffset
}

func (it *IndexIterator) exhaust() {
	it.offset = it.r.restartsOffset
	it.key = nil
	it.handle = Handle{}
}

// decodeHandleValue interprets an entry's raw value bytes as either a full
// handle (restart point) or a length-only delta, given the running handle
// from the previous entry in iteration order.
func decodeHandleValue(valueBytes []byte, isRestart bool, prev Handle) (Handle, error) {
	if isRestart {
		h, n, err := DecodeHandle(valueBytes)
		if err != nil {
			return Handle{}, err
		}
		if n != len(valueBytes) {
			return Handle{}, corruptf("trailing bytes after full index handle")
		}
		return h, nil
	}
	length, n := binary.Uvarint(valueBytes)
	if n <= 0 || n != len(valueBytes) {
		return Handle{}, corruptf("trailing bytes after delta-encoded index length")
	}
	return Handle{Offset: prev.Offset + prev.Length, Length: length}, nil
}

// scanIndexFrom decodes index entries from a restart point, invoking visit
// for each one (in order) until visit returns false or the interval ends.
// It mirrors block.scanFrom but tracks the running Handle state the index
// block's delta encoding depends on.
func (it *IndexIterator) scanIndexFrom(restartIdx uint32, visit func(offset, nextOffset int, key []byte, h Handle) bool) error {
	restartOff, err := restartPoint(it.r.data, it.r.restartsOffset, restartIdx)
	if err != nil {
		return err
	}
	var curKey []byte
	var running Handle
	offset := int(restartOff)
	isRestart := true
	for offset < it.r.restartsOffset {
		e, err := decodeEntryAt(it.r.data, offset, it.r.restartsOffset)
		if err != nil {
			return err
		}
		if e.shared > len(curKey) {
			return corruptf("shared prefix length %d exceeds previous key length %d", e.shared, len(curKey))
		}
		rawKey := append(append([]byte(nil), curKey[:e.shared]...), it.r.data[e.keyStart:e.keyEnd]...)
		h, err := decodeHandleValue(it.r.data[e.valueStart:e.valueEnd], isRestart, running)
		if err != nil {
			return err
		}
		if !visit(offset, e.nextOffset, rawKey, h) {
			return nil
		}
		curKey, running, isRestart = rawKey, h, false
		offset = e.nextOffset
		if restartIdx+1 < it.r.numRestarts {
			nextRestartOff, err := restartPoint(it.r.data, it.r.restartsOffset, restartIdx+1)
			if err != nil {
				return err
			}
			if offset >= int(nextRestartOff) {
				return nil
			}
		}
	}
	return nil
}

func (it *IndexIterator) seekRestart(target []byte) (uint32, error) {
	if it.r.numRestarts == 0 {
		return 0, corruptf("index block has no restart points")
	}
	lo, hi := uint32(0), it.r.numRestarts-1
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		var key []byte
		err := it.scanIndexFrom(mid, func(_, _ int, k []byte, _ Handle) bool {
			key = k
			return false
		})
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

func (it *IndexIterator) install(offset, nextOffset int, key []byte, h Handle) {
	it.offset = offset
	it.nextOffset = nextOffset
	it.curKeyRaw = append(it.curKeyRaw[:0], key...)
	it.key = it.curKeyRaw
	it.handle = h
}

// SeekGE positions the iterator at the first entry with key ≥ target.
//
// As with the data-block iterator, a restart interval that seekRestart
// names can still be entirely < target, so the scan falls through into
// later restarts rather than declaring the iterator exhausted.
func (it *IndexIterator) SeekGE(target []byte) {
	if it.err != nil {
		return
	}
	restartIdx, err := it.seekRestart(target)
	if err != nil {
		it.fail(err)
		return
	}
	for ; restartIdx < it.r.numRestarts; restartIdx++ {
		found := false
		err = it.scanIndexFrom(restartIdx, func(offset, nextOffset int, key []byte, h Handle) bool {
			if it.r.cmp(key, target) >= 0 {
				it.install(offset, nextOffset, key, h)
				found = true
				return false
			}
			return true
		})
		if err != nil {
			it.fail(err)
			return
		}
		if found {
			return
		}
	}
	it.exhaust()
}

// SeekForPrev always fails on an index block, per spec.md §4.C.
func (it *IndexIterator) SeekForPrev([]byte) {
	it.fail(errSeekForPrevOnIndex)
}

// First positions the iterator at the block's first entry.
func (it *IndexIterator) First() {
	if it.err != nil {
		return
	}
	found := false
	err := it.scanIndexFrom(0, func(offset, nextOffset int, key []byte, h Handle) bool {
		it.install(offset, nextOffset, key, h)
		found = true
		return false
	})
	if err != nil {
		it.fail(err)
		return
	}
	if !found {
		it.exhaust()
	}
}

// Last positions the iterator at the block's last entry.
func (it *IndexIterator) Last() {
	if it.err != nil {
		return
	}
	if it.r.numRestarts == 0 {
		it.fail(corruptf("index block has no restart points"))
		return
	}
	found := false
	err := it.scanIndexFrom(it.r.numRestarts-1, func(offset, nextOffset int, key []byte, h Handle) bool {
		it.install(offset, nextOffset, key, h)
		found = true
		return true
	})
	if err != nil {
		it.fail(err)
		return
	}
	if !found {
		it.exhaust()
	}
}

// Next advances to the entry immediately after the current one.
func (it *IndexIterator) Next() {
	if it.err != nil || !it.Valid() {
		return
	}
	if it.nextOffset >= it.r.restartsOffset {
		it.exhaust()
		return
	}
	restartIdx, err := it.restartIndexOf(it.nextOffset)
	if err != nil {
		it.fail(err)
		return
	}
	found := false
	err = it.scanIndexFrom(restartIdx, func(offset, nextOffset int, key []byte, h Handle) bool {
		if offset == it.nextOffset {
			it.install(offset, nextOffset, key, h)
			found = true
			return false
		}
		return true
	})
	if err != nil {
		it.fail(err)
		return
	}
	if !found {
		it.exhaust()
	}
}

// Prev moves to the entry immediately before the current one. Unlike the
// data-block iterator, the index iterator re-scans its containing restart
// interval on every call rather than caching entries, since index blocks
// are small and Prev is rarely called on them outside reverse range scans.
func (it *IndexIterator) Prev() {
	if it.err != nil || !it.Valid() {
		return
	}
	restartIdx, err := it.restartIndexOf(it.offset)
	if err != nil {
		it.fail(err)
		return
	}
	scanRestart := restartIdx
	if it.offset == 0 {
		it.exhaust()
		return
	}
	// If current entry is the first of its own interval, the predecessor
	// lives in the previous interval.
	curRestartOff, err := restartPoint(it.r.data, it.r.restartsOffset, restartIdx)
	if err != nil {
		it.fail(err)
		return
	}
	if int(curRestartOff) == it.offset {
		if restartIdx == 0 {
			it.exhaust()
			return
		}
		scanRestart = restartIdx - 1
	}

	var prevOffset, prevNext int
	var prevKey []byte
	var prevHandle Handle
	found := false
	err = it.scanIndexFrom(scanRestart, func(offset, nextOffset int, key []byte, h Handle) bool {
		if offset >= it.offset {
			return false
		}
		prevOffset, prevNext, prevKey, prevHandle = offset, nextOffset, key, h
		found = true
		return true
	})
	if err != nil {
		it.fail(err)
		return
	}
	if !found {
		it.exhaust()
		return
	}
	it.install(prevOffset, prevNext, prevKey, prevHandle)
}

func (it *IndexIterator) restartIndexOf(offset int) (uint32, error) {
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
