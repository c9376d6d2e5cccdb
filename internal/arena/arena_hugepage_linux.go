// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build linux

package arena

import "golang.org/x/sys/unix"

// newHugePageBlock attempts to satisfy a regular slab from an anonymous
// huge-page mapping. On any failure (unsupported kernel, no huge pages
// reserved, permission denied) it reports ok=false so the caller falls back
// to a normal heap slab, per §4.A: "on failure silently fall back to a
// normal slab."
func newHugePageBlock(size int) (*block, bool) {
	buf, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB)
	if err != nil {
		return nil, false
	}
	b := &block{buf: buf, hi: len(buf)}
	b.unmap = func() { _ = unix.Munmap(buf) }
	return b, true
}
