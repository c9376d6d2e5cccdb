// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build !linux

package arena

// newHugePageBlock has no huge-page mapping available outside Linux; the
// caller always falls back to a normal slab.
func newHugePageBlock(size int) (*block, bool) {
	return nil, false
}
