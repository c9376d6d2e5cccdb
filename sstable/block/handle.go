// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package block

import "encoding/binary"

// Handle locates a block within an SST file: a byte offset and a length,
// both exclusive of the block's own trailing checksum/compression byte (out
// of scope here — compression codec selection is an explicit non-goal).
type Handle struct {
	Offset uint64
	Length uint64
}

// EncodeVarint appends the varint encoding of h to dst and returns the
// result, matching the "full encoded handle" form spec.md §4.C names for
// the first value in every index-block restart interval.
func (h Handle) EncodeVarint(dst []byte) []byte {
	dst = appendUvarint(dst, h.Offset)
	dst = appendUvarint(dst, h.Length)
	return dst
}

// DecodeHandle decodes a varint-encoded Handle from the front of b and
// returns it along with the number of bytes consumed.
func DecodeHandle(b []byte) (Handle, int, error) {
	off, n1 := binary.Uvarint(b)
	if n1 <= 0 {
		return Handle{}, 0, errTruncatedHandle
	}
	length, n2 := binary.Uvarint(b[n1:])
	if n2 <= 0 {
		return Handle{}, 0, errTruncatedHandle
	}
	return Handle{Offset: off, Length: length}, n1 + n2, nil
}

func appendUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}
