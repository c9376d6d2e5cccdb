// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package crc implements the masked CRC32C checksum used by the WAL record
// framer. The mask rotates the raw Castagnoli checksum right by 15 bits and
// adds a constant, which avoids returning a near-zero value for near-zero
// length, near-zero payload inputs — the original rationale recorded in the
// LevelDB/RocksDB log format.
package crc

import "hash/crc32"

var table = crc32.MakeTable(crc32.Castagnoli)

const maskDelta = 0xa282ead8

// CRC is a masked CRC32C checksum, as stored in a WAL chunk header.
type CRC uint32

// New returns the raw CRC32C checksum of b; call Value for the masked form.
func New(b []byte) CRC {
	return CRC(0).Update(b)
}

// Update returns the result of adding the checksum of b to the running
// checksum c.
func (c CRC) Update(b []byte) CRC {
	return CRC(crc32.Update(uint32(c), table, b))
}

// Value returns the masked checksum, ready to be written to a chunk header.
func (c CRC) Value() uint32 {
	return mask(uint32(c))
}

// mask rotates a raw CRC right by 15 bits and adds a constant. This is the
// same transform applied by both LevelDB and RocksDB before a checksum is
// written to disk.
func mask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

