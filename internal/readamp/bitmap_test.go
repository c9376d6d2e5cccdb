// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package readamp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedRand struct{ n int }

func (f fixedRand) Intn(int) int { return f.n }

type countingSink struct{ total uint64 }

func (s *countingSink) AddUsefulBytes(n uint64) { s.total += n }

func TestFirstTouchCreditsSinkOnce(t *testing.T) {
	sink := &countingSink{}
	b := New(4096, 32, fixedRand{0}, sink)

	b.MarkRange(0, 10)
	require.Equal(t, uint64(32), sink.total)

	// Re-marking the same span must not credit the sink again.
	b.MarkRange(0, 10)
	require.Equal(t, uint64(32), sink.total)
}

func TestUsefulBytesNeverExceedsBlockSize(t *testing.T) {
	sink := &countingSink{}
	b := New(1024, 16, fixedRand{0}, sink)

	for off := uint32(0); off < 1024; off += 16 {
		b.MarkRange(off, 16)
	}
	require.LessOrEqual(t, b.UsefulBytes(), uint64(1024+16))
}

func TestNonPowerOfTwoGranularityIsRoundedUp(t *testing.T) {
	b := New(4096, 5, fixedRand{0}, nil)
	require.Equal(t, uint32(8), b.bytesPerBit)
}

func TestZeroLengthRangeIsNoop(t *testing.T) {
	sink := &countingSink{}
	b := New(4096, 32, fixedRand{0}, sink)
	b.MarkRange(100, 0)
	require.Equal(t, uint64(0), sink.total)
}

func TestRandomOffsetShiftsGrid(t *testing.T) {
	a := New(4096, 64, fixedRand{0}, nil)
	b := New(4096, 64, fixedRand{10}, nil)
	require.Equal(t, uint32(0), a.rndOffset)
	require.Equal(t, uint32(10), b.rndOffset)
}
