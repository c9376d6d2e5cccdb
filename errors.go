// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rocksdb

import (
	"github.com/cockroachdb/errors"

	"github.com/denise813/rocksdb/internal/base"
)

// ErrWriteStall is returned to a writer whose NoSlowdown flag is set when it
// arrives while admission control is engaged (spec.md §4.D.2, §7:
// `Incomplete("Write stall")`).
var ErrWriteStall = errors.New("rocksdb: write stall")

// ErrClosed is returned by Write once the WriteThread has been closed.
var ErrClosed = errors.New("rocksdb: write thread closed")

// IsCorruption reports whether err is marked with base.ErrCorruption, as
// the errors from base.DecodeInternalKey and base.CorruptionErrorf are. The
// WAL chunk errors of package record and the block-decode errors of package
// sstable/block are separate sentinels that are not marked this way, so
// IsCorruption reports false for them.
func IsCorruption(err error) bool {
	return errors.Is(err, base.ErrCorruption)
}
