// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package block

import "encoding/binary"

// parseTrailer reads the restart count and restart array from the tail of
// a finished block (spec.md §6: "entries .. restart[0] .. restart[N-1] N").
func parseTrailer(data []byte) (numRestarts uint32, restartsOffset int, err error) {
	if len(data) < 4 {
		return 0, 0, corruptf("block too small to hold a restart count")
	}
	numRestarts = binary.LittleEndian.Uint32(data[len(data)-4:])
	restartsOffset = len(data) - 4 - 4*int(numRestarts)
	if restartsOffset < 0 || restartsOffset > len(data)-4 {
		return 0, 0, corruptf("restart count %d inconsistent with block size %d", numRestarts, len(data))
	}
	return numRestarts, restartsOffset, nil
}

func restartPoint(data []byte, restartsOffset int, i uint32) (uint32, error) {
	off := restartsOffset + 4*int(i)
	if off < 0 || off+4 > len(data) {
		return 0, corruptf("restart index %d out of bounds", i)
	}
	return binary.LittleEndian.Uint32(data[off : off+4]), nil
}

// decodedEntry is the result of parsing one (shared, unshared, valueLen,
// keySuffix, value) tuple at a given byte offset.
type decodedEntry struct {
	shared, unshared, valueLen int
	keyStart, keyEnd           int
	valueStart, valueEnd       int
	nextOffset                 int
}

// decodeEntryAt parses the entry beginning at offset, per spec.md §6:
// "varint(shared_len), varint(non_shared_len), varint(value_len),
// key_suffix[non_shared_len], value[value_len]".
func decodeEntryAt(data []byte, offset, limit int) (decodedEntry, error) {
	var e decodedEntry
	p := data[offset:limit]

	shared, n := binary.Uvarint(p)
	if n <= 0 {
		return e, corruptf("truncated shared-prefix-length varint at offset %d", offset)
	}
	p = p[n:]
	unshared, n := binary.Uvarint(p)
	if n <= 0 {
		return e, corruptf("truncated unshared-length varint at offset %d", offset)
	}
	p = p[n:]
	valueLen, n := binary.Uvarint(p)
	if n <= 0 {
		return e, corruptf("truncated value-length varint at offset %d", offset)
	}
	p = p[n:]

	headerLen := len(data[offset:limit]) - len(p)
	keyStart := offset + headerLen
	keyEnd := keyStart + int(unshared)
	valueStart := keyEnd
	valueEnd := valueStart + int(valueLen)
	if keyEnd > limit || valueEnd > limit {
		return e, corruptf("entry at offset %d overruns block", offset)
	}

	e = decodedEntry{
		shared:     int(shared),
		unshared:   int(unshared),
		valueLen:   int(valueLen),
		keyStart:   keyStart,
		keyEnd:     keyEnd,
		valueStart: valueStart,
		valueEnd:   valueEnd,
		nextOffset: valueEnd,
	}
	return e, nil
}
