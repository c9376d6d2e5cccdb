// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package record

import (
	"bytes"
	"io"
	"io/ioutil"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadSingleFullRecord(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.WriteRecord([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewReader(&buf)
	rr, err := r.Next()
	require.NoError(t, err)
	got, err := ioutil.ReadAll(rr)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestLargeRecordFragmentsAcrossBlocks(t *testing.T) {
	// A 100,000-byte record must fragment into FIRST(32761) + MIDDLE(32761)
	// + MIDDLE(32761) + LAST(1717), since each block holds at most
	// BlockSize-legacyHeaderSize = 32761 bytes of payload.
	payload := make([]byte, 100000)
	for i := range payload {
		payload[i] = byte(i)
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.WriteRecord(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.Equal(t, 4, (len(buf.Bytes())+BlockSize-1)/BlockSize)

	r := NewReader(bytes.NewReader(buf.Bytes()))
	rr, err := r.Next()
	require.NoError(t, err)
	got, err := ioutil.ReadAll(rr)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestMultipleRecordsRoundTrip(t *testing.T) {
	records := [][]byte{
		[]byte("first"),
		[]byte(""),
		bytes.Repeat([]byte{'x'}, 5000),
		[]byte("last"),
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, rec := range records {
		_, err := w.WriteRecord(rec)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	r := NewReader(bytes.NewReader(buf.Bytes()))
	for _, want := range records {
		rr, err := r.Next()
		require.NoError(t, err)
		got, err := ioutil.ReadAll(rr)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestRecyclableWriterStampsLogNumber(t *testing.T) {
	var buf bytes.Buffer
	w := NewRecyclableWriter(&buf, 42)
	_, err := w.WriteRecord([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewRecyclableReader(bytes.NewReader(buf.Bytes()), 42)
	rr, err := r.Next()
	require.NoError(t, err)
	got, err := ioutil.ReadAll(rr)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestRecyclableReaderRejectsStaleLogNumber(t *testing.T) {
	var buf bytes.Buffer
	w := NewRecyclableWriter(&buf, 1)
	_, err := w.WriteRecord([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// A reader for a different (newer) log number must reject chunks left
	// over from the previous occupant of a recycled log file.
	r := NewRecyclableReader(bytes.NewReader(buf.Bytes()), 2)
	_, err = r.Next()
	require.ErrorIs(t, err, ErrInvalidChunk)
}

func TestCorruptedChecksumIsDetected(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.WriteRecord([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	corrupted := buf.Bytes()
	corrupted[0] ^= 0xff

	r := NewReader(bytes.NewReader(corrupted))
	_, err = r.Next()
	require.ErrorIs(t, err, ErrInvalidChunk)
	require.True(t, IsInvalidRecord(err))
}

func TestZeroedTailChunkIsTreatedAsPadding(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.WriteRecord([]byte("record one"))
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	padded := append(buf.Bytes(), make([]byte, BlockSize-len(buf.Bytes()))...)

	r := NewReader(bytes.NewReader(padded))
	rr, err := r.Next()
	require.NoError(t, err)
	got, err := ioutil.ReadAll(rr)
	require.NoError(t, err)
	require.Equal(t, "record one", string(got))

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestMiddleWithoutFirstIsTypeSequenceViolation(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	rec := bytes.Repeat([]byte{'y'}, 100000)
	_, err := w.WriteRecord(rec)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raw := buf.Bytes()
	// Skip straight to the second block, landing on a MIDDLE chunk with no
	// preceding FIRST in this reader's view.
	r := NewReader(bytes.NewReader(raw[BlockSize:]))
	_, err = r.Next()
	require.ErrorIs(t, err, ErrMissingFirstChunk)
}

func TestLastRecordOffsetTracksMostRecentRecord(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.WriteRecord([]byte("one"))
	require.NoError(t, err)
	off1, err := w.LastRecordOffset()
	require.NoError(t, err)
	require.Equal(t, int64(0), off1)

	_, err = w.WriteRecord([]byte("two"))
	require.NoError(t, err)
	off2, err := w.LastRecordOffset()
	require.NoError(t, err)
	require.Greater(t, off2, off1)
}
