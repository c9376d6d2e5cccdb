// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package block

import "github.com/cockroachdb/errors"

// errCorrupt is the sentinel every block-decode failure is marked with, so
// callers can distinguish "this block is malformed" from other error
// classes via errors.Is, per spec.md §7 ("Corruption ... Propagated via
// iterator status; further iterator calls are no-ops").
var errCorrupt = errors.New("block: corrupt data block")

var errTruncatedHandle = errors.Mark(errors.New("block: truncated block handle"), errCorrupt)

// errSeekForPrevOnIndex is returned by an index-block iterator's
// SeekForPrev, which the original implementation rejects with an assertion
// (§4.C: "index blocks reject this"); we surface it as an ordinary error
// instead of panicking.
var errSeekForPrevOnIndex = errors.New("block: SeekForPrev not supported on index blocks")

func corruptf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf("block: "+format, args...), errCorrupt)
}
