// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package block

import (
	"github.com/cespare/xxhash/v2"
)

// PrefixIndex is an auxiliary, in-memory structure that maps the xxhash of
// a key's first PrefixLen bytes to the earliest restart point whose
// interval might contain that prefix. It turns SeekPrefixGE from a binary
// search over every restart point into a single hash lookup followed by a
// scan of one restart interval, for callers that only ever seek by a fixed
// key prefix (e.g. a column-family or tenant ID), per spec.md §4.C.
//
// A miss in the table is not proof the prefix is absent: PrefixIndex only
// accelerates the common case and callers fall back to Iterator.SeekGE,
// which is always correct, whenever BucketFor reports no entry.
type PrefixIndex struct {
	prefixLen int
	buckets   map[uint64]uint32
}

// BuildPrefixIndex scans every restart point in r and returns a PrefixIndex
// keyed on the first prefixLen bytes of each restart key (or the whole key,
// if shorter). Restart points whose hash collides with an earlier one keep
// the earlier (lower) restart index, since scanning forward from the
// earliest candidate always reaches a later one.
func BuildPrefixIndex(r *Reader, prefixLen int) (*PrefixIndex, error) {
	idx := &PrefixIndex{prefixLen: prefixLen, buckets: make(map[uint64]uint32, r.numRestarts)}
	it := r.NewIter(nil)
	for i := uint32(0); i < r.numRestarts; i++ {
		key, _, err := it.restartKey(i)
		if err != nil {
			return nil, err
		}
		h := idx.hash(key)
		if _, ok := idx.buckets[h]; !ok {
			// Keys with this prefix may begin partway through the
			// preceding restart interval.
			if i > 0 {
				idx.buckets[h] = i - 1
			} else {
				idx.buckets[h] = i
			}
		}
	}
	return idx, nil
}

func (idx *PrefixIndex) hash(key []byte) uint64 {
	if len(key) > idx.prefixLen {
		key = key[:idx.prefixLen]
	}
	return xxhash.Sum64(key)
}

// BucketFor returns the earliest restart index that might hold a key
// sharing target's prefix, and reports whether one was found.
func (idx *PrefixIndex) BucketFor(target []byte) (uint32, bool) {
	restartIdx, ok := idx.buckets[idx.hash(target)]
	return restartIdx, ok
}

// SeekPrefixGE positions it at the first entry with key ≥ target, using idx
// to jump directly to the candidate restart interval instead of binary
// searching every restart point. Falls back to the ordinary SeekGE when the
// prefix isn't present in idx's table.
func (it *Iterator) SeekPrefixGE(target []byte, idx *PrefixIndex) {
	if it.err != nil {
		return
	}
	restartIdx, ok := idx.BucketFor(target)
	if !ok {
		it.SeekGE(target)
		return
	}
	// As in SeekGE, the candidate restart interval may be entirely < target
	// (target falls in the gap before the next restart point), so the scan
	// must be able to fall through into later restarts rather than exhaust.
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
