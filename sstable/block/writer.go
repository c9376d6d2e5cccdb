// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package block

import "encoding/binary"

// Writer accumulates prefix-compressed key/value entries into a single SST
// data or index block, restarting prefix compression every RestartInterval
// entries so a reader can binary-search into the block without decoding
// every entry from the start.
//
// Entries must be added in increasing key order; Writer does not sort or
// deduplicate.
type Writer struct {
	// RestartInterval is the number of entries between restart points.
	// Must be ≥ 1; a value of 1 disables prefix compression entirely.
	RestartInterval int

	buf      []byte
	restarts []uint32
	curKey   []byte
	nEntries int
}

// Add appends a key/value entry. key must already be the fully encoded key
// bytes this block stores (an InternalKey.Encode() for data blocks, a raw
// separator key for index blocks).
func (w *Writer) Add(key, value []byte) {
	if w.RestartInterval <= 0 {
		w.RestartInterval = 1
	}

	var shared int
	if w.nEntries%w.RestartInterval != 0 {
		shared = sharedPrefixLen(w.curKey, key)
	} else {
		w.restarts = append(w.restarts, uint32(len(w.buf)))
	}

	unshared := key[shared:]
	w.buf = appendUvarint(w.buf, uint64(shared))
	w.buf = appendUvarint(w.buf, uint64(len(unshared)))
	w.buf = appendUvarint(w.buf, uint64(len(value)))
	w.buf = append(w.buf, unshared...)
	w.buf = append(w.buf, value...)

	w.curKey = append(w.curKey[:0], key...)
	w.nEntries++
}

// EstimatedSize returns the number of bytes the block would occupy if
// Finish were called now.
func (w *Writer) EstimatedSize() int {
	return len(w.buf) + 4*len(w.restarts) + 4
}

// Finish appends the restart-offset array and trailing restart count,
// completing the block per spec.md §6's bit-exact layout, and returns the
// finished block bytes. The Writer must be Reset before it is reused.
func (w *Writer) Finish() []byte {
	for _, r := range w.restarts {
		w.buf = appendFixed32(w.buf, r)
	}
	w.buf = appendFixed32(w.buf, uint32(len(w.restarts)))
	return w.buf
}

// Reset discards any accumulated entries so the Writer can be reused for a
// new block.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.restarts = w.restarts[:0]
	w.curKey = w.curKey[:0]
	w.nEntries = 0
}

// Entries returns the number of entries added so far.
func (w *Writer) Entries() int { return w.nEntries }

func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func appendFixed32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}
