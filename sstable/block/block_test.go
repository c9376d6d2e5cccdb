// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package block

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/denise813/rocksdb/internal/base"
	"github.com/denise813/rocksdb/internal/readamp"
)

type fixedRand struct{}

func (fixedRand) Intn(int) int { return 0 }

type countingSink struct{ total uint64 }

func (s *countingSink) AddUsefulBytes(n uint64) { s.total += n }

func encodeInternalKey(userKey string, seqNum base.SeqNum) []byte {
	ik := base.InternalKey{UserKey: []byte(userKey), Trailer: base.MakeTrailer(seqNum, base.InternalKeyKindSet)}
	return ik.Encode(nil)
}

func buildBlock(t *testing.T, n int, restartInterval int) ([]byte, []string) {
	w := &Writer{RestartInterval: restartInterval}
	var keys []string
	for i := 0; i < n; i++ {
		uk := fmt.Sprintf("key%05d", i)
		keys = append(keys, uk)
		w.Add(encodeInternalKey(uk, base.SeqNum(i+1)), []byte(fmt.Sprintf("value-%d", i)))
	}
	return w.Finish(), keys
}

func TestBlockRoundTripForward(t *testing.T) {
	data, keys := buildBlock(t, 50, 4)
	r, err := NewReader(data, base.InternalCompare(base.DefaultCompare), 0)
	require.NoError(t, err)

	it := r.NewIter(nil)
	it.First()
	for i := 0; i < len(keys); i++ {
		require.True(t, it.Valid())
		ik, err := base.DecodeInternalKey(it.Key())
		require.NoError(t, err)
		require.Equal(t, keys[i], string(ik.UserKey))
		it.Next()
	}
	require.False(t, it.Valid())
}

func TestBlockRoundTripReverse(t *testing.T) {
	data, keys := buildBlock(t, 50, 4)
	r, err := NewReader(data, base.InternalCompare(base.DefaultCompare), 0)
	require.NoError(t, err)

	it := r.NewIter(nil)
	it.Last()
	for i := len(keys) - 1; i >= 0; i-- {
		require.True(t, it.Valid())
		ik, err := base.DecodeInternalKey(it.Key())
		require.NoError(t, err)
		require.Equal(t, keys[i], string(ik.UserKey))
		it.Prev()
	}
	require.False(t, it.Valid())
}

func TestSeekGEFindsLeastKeyGreaterOrEqual(t *testing.T) {
	data, _ := buildBlock(t, 30, 3)
	r, err := NewReader(data, base.InternalCompare(base.DefaultCompare), 0)
	require.NoError(t, err)

	it := r.NewIter(nil)
	// A search key's trailer should carry the highest possible sequence
	// number so that, per the descending-sequence tie-break, it sorts
	// before every real version of the same user key and SeekGE lands on
	// that key's own (only, here) entry rather than skipping past it.
	it.SeekGE(encodeInternalKey("key00010", base.SeqNumMax))
	require.True(t, it.Valid())
	ik, err := base.DecodeInternalKey(it.Key())
	require.NoError(t, err)
	require.Equal(t, "key00010", string(ik.UserKey))

	// A target strictly between two keys lands on the next one.
	between := []byte("key000105")
	it.SeekGE(append(between, make([]byte, base.InternalTrailerLen)...))
	require.True(t, it.Valid())
}

func TestSeekGEPastEndIsInvalid(t *testing.T) {
	data, _ := buildBlock(t, 5, 2)
	r, err := NewReader(data, base.InternalCompare(base.DefaultCompare), 0)
	require.NoError(t, err)

	it := r.NewIter(nil)
	it.SeekGE(encodeInternalKey("zzzzz", 0))
	require.False(t, it.Valid())
}

func TestSeekForPrevFindsGreatestKeyLessOrEqual(t *testing.T) {
	data, _ := buildBlock(t, 30, 3)
	r, err := NewReader(data, base.InternalCompare(base.DefaultCompare), 0)
	require.NoError(t, err)

	it := r.NewIter(nil)
	it.SeekForPrev(encodeInternalKey("key00010", 0))
	require.True(t, it.Valid())
	ik, err := base.DecodeInternalKey(it.Key())
	require.NoError(t, err)
	require.Equal(t, "key00010", string(ik.UserKey))
}

func TestSeekForPrevBeforeStartIsInvalid(t *testing.T) {
	data, _ := buildBlock(t, 5, 2)
	r, err := NewReader(data, base.InternalCompare(base.DefaultCompare), 0)
	require.NoError(t, err)

	it := r.NewIter(nil)
	it.SeekForPrev(encodeInternalKey("aaaaa", 0))
	require.False(t, it.Valid())
}

func TestGlobalSeqNumOverridesTrailer(t *testing.T) {
	data, _ := buildBlock(t, 5, 2)
	r, err := NewReader(data, base.InternalCompare(base.DefaultCompare), base.SeqNum(99))
	require.NoError(t, err)

	it := r.NewIter(nil)
	it.First()
	ik, err := base.DecodeInternalKey(it.Key())
	require.NoError(t, err)
	require.Equal(t, base.SeqNum(99), ik.SeqNum())
	require.Equal(t, base.InternalKeyKindSet, ik.Kind())
}

func TestCorruptRestartCountIsRejected(t *testing.T) {
	data, _ := buildBlock(t, 5, 2)
	data[len(data)-1] = 0xff
	_, err := NewReader(data, base.InternalCompare(base.DefaultCompare), 0)
	require.Error(t, err)
}

func TestReadAmpBitmapCreditedOnIteration(t *testing.T) {
	data, _ := buildBlock(t, 20, 4)
	r, err := NewReader(data, base.InternalCompare(base.DefaultCompare), 0)
	require.NoError(t, err)

	sink := &countingSink{}
	bm := readamp.New(len(data), 16, fixedRand{}, sink)

	it := r.NewIter(bm)
	it.First()
	for it.Valid() {
		it.Next()
	}
	require.Greater(t, sink.total, uint64(0))
}

func TestIndexBlockDeltaEncodingRoundTrips(t *testing.T) {
	w := &IndexWriter{RestartInterval: 4}
	handles := []Handle{
		{Offset: 0, Length: 100},
		{Offset: 100, Length: 50},
		{Offset: 150, Length: 200},
		{Offset: 350, Length: 10},
		{Offset: 360, Length: 999},
	}
	for i, h := range handles {
		w.Add([]byte(fmt.Sprintf("sep%03d", i)), h)
	}
	data := w.Finish()

	r, err := NewIndexReader(data, base.DefaultCompare)
	require.NoError(t, err)

	it := r.NewIter()
	it.First()
	for i, want := range handles {
		require.True(t, it.Valid())
		require.Equal(t, want, it.Handle())
		require.Equal(t, fmt.Sprintf("sep%03d", i), string(it.Key()))
		it.Next()
	}
	require.False(t, it.Valid())
}

func TestIndexBlockSeekForPrevIsRejected(t *testing.T) {
	w := &IndexWriter{RestartInterval: 2}
	w.Add([]byte("a"), Handle{Offset: 0, Length: 10})
	w.Add([]byte("b"), Handle{Offset: 10, Length: 10})
	data := w.Finish()

	r, err := NewIndexReader(data, base.DefaultCompare)
	require.NoError(t, err)
	it := r.NewIter()
	it.SeekForPrev([]byte("a"))
	require.False(t, it.Valid())
	require.ErrorIs(t, it.Error(), errSeekForPrevOnIndex)
}

func TestIndexBlockSeekGECrossesRestartBoundary(t *testing.T) {
	w := &IndexWriter{RestartInterval: 2}
	for i := 0; i < 6; i++ {
		w.Add([]byte(fmt.Sprintf("k%02d", i)), Handle{Offset: uint64(i * 10), Length: 10})
	}
	data := w.Finish()

	r, err := NewIndexReader(data, base.DefaultCompare)
	require.NoError(t, err)
	it := r.NewIter()
	it.SeekGE([]byte("k03"))
	require.True(t, it.Valid())
	require.Equal(t, "k03", string(it.Key()))
	require.Equal(t, Handle{Offset: 30, Length: 10}, it.Handle())
}
