// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package record reads and writes the write-ahead log's chunked record
// format: user records are fragmented into one or more fixed-size,
// checksummed chunks that never straddle a 32 KiB block boundary.
//
// The wire format is a sequence of 32,768-byte blocks, each a tightly packed
// run of chunks. Chunks never cross block boundaries; any unused tail bytes
// in a block are zero. A user record maps to one or more chunks: a FULL
// chunk holds an entire record, or a FIRST chunk begins a multi-chunk record
// followed by zero or more MIDDLE chunks and exactly one LAST chunk.
//
//	+----------+-----------+-----------+--- ... ---+
//	| CRC (4B) | Size (2B) | Type (1B) | Payload   |
//	+----------+-----------+-----------+--- ... ---+
//
// The recyclable format extends the header with the log file's number, so a
// reader can tell a stale chunk left behind by a recycled (reused) log file
// from a genuine chunk of the log it's currently reading:
//
//	+----------+-----------+-----------+----------------+--- ... ---+
//	| CRC (4B) | Size (2B) | Type (1B) | Log number (4B)| Payload   |
//	+----------+-----------+-----------+----------------+--- ... ---+
//
// Neither Reader nor Writer is safe for concurrent use; record.LogWriter (in
// log_writer.go) layers a concurrency-safe, asynchronously flushed writer on
// top for the write coordinator's hand-off path.
package record

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/denise813/rocksdb/internal/crc"
)

// Chunk type encodings. Part of the wire format; never renumber.
const (
	invalidChunkType byte = 0

	fullChunkType   byte = 1
	firstChunkType  byte = 2
	middleChunkType byte = 3
	lastChunkType   byte = 4

	recyclableFullChunkType   byte = 5
	recyclableFirstChunkType  byte = 6
	recyclableMiddleChunkType byte = 7
	recyclableLastChunkType   byte = 8
)

const (
	// BlockSize is the fixed size of every on-disk block except possibly
	// the last one in the file.
	BlockSize = 32 * 1024

	legacyHeaderSize     = 7
	recyclableHeaderSize = legacyHeaderSize + 4
)

// Errors returned by Reader. They are plain sentinels, not marked with
// base.ErrCorruption; callers test for them with errors.Is against these
// sentinels, following the teacher's record.ErrInvalidChunk/ErrZeroedChunk
// split between "looks like padding" and "looks like real corruption".
var (
	// ErrZeroedChunk is returned when a chunk header is entirely zero,
	// which normally happens because the log file was preallocated or
	// recycled and never fully overwritten.
	ErrZeroedChunk = errors.New("record: zeroed chunk")

	// ErrInvalidChunk is returned when a chunk header names an unknown
	// type, an impossible length, or fails its checksum.
	ErrInvalidChunk = errors.New("record: invalid chunk")

	// ErrMissingFirstChunk is returned when a MIDDLE or LAST chunk is
	// encountered without a preceding FIRST chunk for the same record, per
	// spec §7: "type-sequence violation (e.g. MIDDLE without preceding
	// FIRST)".
	ErrMissingFirstChunk = errors.New("record: middle/last chunk without first chunk")
)

// IsInvalidRecord reports whether err is one of the recoverable "stop
// reading, this is either the logical end of the log or corruption"
// conditions, mirroring how callers treat io.EOF.
func IsInvalidRecord(err error) bool {
	return errors.Is(err, ErrZeroedChunk) || errors.Is(err, ErrInvalidChunk) || errors.Is(err, io.ErrUnexpectedEOF)
}

func chunkHeaderSize(recyclable bool) int {
	if recyclable {
		return recyclableHeaderSize
	}
	return legacyHeaderSize
}

func isRecyclableType(t byte) bool {
	return t >= recyclableFullChunkType && t <= recyclableLastChunkType
}

// legacyTypeOf strips the recyclable bit, mapping a recyclable chunk type to
// its legacy equivalent so callers can switch on FULL/FIRST/MIDDLE/LAST
// uniformly.
func legacyTypeOf(t byte) byte {
	if isRecyclableType(t) {
		return t - (recyclableFullChunkType - fullChunkType)
	}
	return t
}

// Writer writes a WAL's chunked record stream to an underlying
// base.Sink-like io.Writer. Use NewWriter for the legacy format or
// NewRecyclableWriter to stamp every chunk with a log file number.
type Writer struct {
	w io.Writer

	// recyclable selects the 11-byte header and stamps logNum on every
	// chunk, per §6.
	recyclable bool
	logNum     uint32

	buf [BlockSize]byte
	// i:j is the pending chunk's header..end region within buf.
	i, j int
	// written is how much of buf has already been flushed to w.
	written int

	blockNumber      int64
	lastRecordOffset int64
	first            bool
	pending          bool
	err              error
}

// NewWriter returns a Writer using the legacy (non-recyclable) chunk
// header.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, lastRecordOffset: -1}
}

// NewRecyclableWriter returns a Writer that stamps every chunk header with
// logNum, so a reader can distinguish genuine chunks of this log from
// leftover chunks of whatever log previously occupied this file.
func NewRecyclableWriter(w io.Writer, logNum uint32) *Writer {
	return &Writer{w: w, recyclable: true, logNum: logNum, lastRecordOffset: -1}
}

func (w *Writer) headerSize() int { return chunkHeaderSize(w.recyclable) }

// fillHeader finalizes the pending chunk's header now that its payload
// bytes (buf[i+headerSize:j]) and type are known.
func (w *Writer) fillHeader(last bool) {
	hs := w.headerSize()
	if w.i+hs > w.j || w.j > BlockSize {
		panic("record: bad writer state")
	}
	var typ byte
	switch {
	case last && w.first:
		typ = fullChunkType
	case last:
		typ = lastChunkType
	case w.first:
		typ = firstChunkType
	default:
		typ = middleChunkType
	}
	if w.recyclable {
		typ += recyclableFullChunkType - fullChunkType
		binary.LittleEndian.PutUint32(w.buf[w.i+7:w.i+11], w.logNum)
	}
	w.buf[w.i+6] = typ
	// checksumFrom starts at the type byte, so the checksum covers the type,
	// the log number (when recyclable), and the payload — everything but
	// the checksum field itself and the length field.
	checksumFrom := w.i + 6
	binary.LittleEndian.PutUint32(w.buf[w.i+0:w.i+4], crc.New(w.buf[checksumFrom:w.j]).Value())
	binary.LittleEndian.PutUint16(w.buf[w.i+4:w.i+6], uint16(w.j-w.i-hs))
}

func (w *Writer) writeBlock() {
	_, w.err = w.w.Write(w.buf[w.written:])
	w.i = 0
	w.j = w.headerSize()
	w.written = 0
	w.blockNumber++
}

func (w *Writer) writePending() {
	if w.err != nil {
		return
	}
	if w.pending {
		w.fillHeader(true)
		w.pending = false
	}
	_, w.err = w.w.Write(w.buf[w.written:w.j])
	w.written = w.j
}

// Close finishes the current record (if any) and invalidates the Writer.
func (w *Writer) Close() error {
	w.writePending()
	if w.err != nil {
		return w.err
	}
	w.err = errors.New("record: closed Writer")
	return nil
}

// Flush finishes the current record and writes it to the underlying
// writer without starting a new one.
func (w *Writer) Flush() error {
	w.writePending()
	return w.err
}

// Next finishes the current record (if any) and returns an io.Writer for
// the next one. The returned writer is invalidated by the next call to
// Next, Flush, or Close.
func (w *Writer) Next() (io.Writer, error) {
	if w.err != nil {
		return nil, w.err
	}
	if w.pending {
		w.fillHeader(true)
	}
	hs := w.headerSize()
	w.i = w.j
	w.j = w.j + hs
	if w.j > BlockSize {
		clearTail(w.buf[w.i:])
		w.writeBlock()
		if w.err != nil {
			return nil, w.err
		}
	}
	w.lastRecordOffset = w.blockNumber*BlockSize + int64(w.i)
	w.first = true
	w.pending = true
	return singleWriter{w}, nil
}

func clearTail(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// WriteRecord writes a complete record in one call and returns the offset
// just past its end.
func (w *Writer) WriteRecord(p []byte) (int64, error) {
	if w.err != nil {
		return -1, w.err
	}
	t, err := w.Next()
	if err != nil {
		return -1, err
	}
	if _, err := t.Write(p); err != nil {
		return -1, err
	}
	w.writePending()
	return w.blockNumber*BlockSize + int64(w.j), w.err
}

// Size returns the logical size of the file written so far.
func (w *Writer) Size() int64 {
	if w == nil {
		return 0
	}
	return w.blockNumber*BlockSize + int64(w.j)
}

// LastRecordOffset returns the file offset of the most recently started
// record's first chunk header.
func (w *Writer) LastRecordOffset() (int64, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.lastRecordOffset < 0 {
		return 0, errors.New("record: no last record exists")
	}
	return w.lastRecordOffset, nil
}

type singleWriter struct{ w *Writer }

func (x singleWriter) Write(p []byte) (int, error) {
	w := x.w
	if w.err != nil {
		return 0, w.err
	}
	n0 := len(p)
	for len(p) > 0 {
		if w.j == BlockSize {
			w.fillHeader(false)
			w.writeBlock()
			if w.err != nil {
				return 0, w.err
			}
			w.first = false
		}
		n := copy(w.buf[w.j:], p)
		w.j += n
		p = p[n:]
	}
	return n0, nil
}

// Reader reads a Writer's chunked record stream back out.
type Reader struct {
	r io.Reader

	recyclable bool
	logNum     uint32

	blockNum   int64
	begin, end int
	n          int
	last       bool
	err        error
	buf        [BlockSize]byte
}

// NewReader returns a Reader for the legacy (non-recyclable) chunk format.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, blockNum: -1}
}

// NewRecyclableReader returns a Reader that rejects chunks whose embedded
// log number doesn't match logNum, per §6's recyclable-header semantics.
func NewRecyclableReader(r io.Reader, logNum uint32) *Reader {
	return &Reader{r: r, recyclable: true, logNum: logNum, blockNum: -1}
}

func (r *Reader) headerSize() int { return chunkHeaderSize(r.recyclable) }

// nextChunk advances r.begin:r.end to the next chunk's payload bounds,
// reading fresh blocks from the underlying reader as needed. wantFirst
// requires the chunk found to begin a record (FULL or FIRST); otherwise a
// MIDDLE/LAST chunk found while wantFirst is set is a type-sequence
// violation (§7).
func (r *Reader) nextChunk(wantFirst bool) error {
	for {
		hs := r.headerSize()
		if r.end+hs <= r.n {
			checksum := binary.LittleEndian.Uint32(r.buf[r.end+0 : r.end+4])
			length := binary.LittleEndian.Uint16(r.buf[r.end+4 : r.end+6])
			typ := r.buf[r.end+6]

			if checksum == 0 && length == 0 && typ == invalidChunkType {
				// Zero header: either preallocation padding or the tail of
				// a block that couldn't fit another chunk header. Skip to
				// the next block.
				r.end = r.n
				continue
			}

			isRecyclable := isRecyclableType(typ)
			if typ != invalidChunkType &&
				legacyTypeOf(typ) >= firstChunkType-1 && legacyTypeOf(typ) <= lastChunkType &&
				isRecyclable == r.recyclable {
				// Recognized chunk type matching this reader's wire format.
			} else {
				return ErrInvalidChunk
			}

			checksumFrom := r.end + 6
			if r.recyclable {
				logNum := binary.LittleEndian.Uint32(r.buf[r.end+7 : r.end+11])
				if logNum != r.logNum {
					return ErrInvalidChunk
				}
			}

			r.begin = r.end + hs
			r.end = r.begin + int(length)
			if r.end > r.n {
				return ErrInvalidChunk
			}
			if checksum != crc.New(r.buf[checksumFrom:r.end]).Value() {
				return ErrInvalidChunk
			}

			lt := legacyTypeOf(typ)
			if wantFirst {
				if lt != fullChunkType && lt != firstChunkType {
					if lt == middleChunkType || lt == lastChunkType {
						return ErrMissingFirstChunk
					}
					continue
				}
			}
			r.last = lt == fullChunkType || lt == lastChunkType
			return nil
		}

		if r.n < BlockSize && r.blockNum >= 0 {
			return io.EOF
		}
		n, err := io.ReadFull(r.r, r.buf[:])
		if err != nil && err != io.ErrUnexpectedEOF {
			if err == io.EOF && !wantFirst {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		r.begin, r.end, r.n = 0, 0, n
		r.blockNum++
	}
}

// Next returns an io.Reader for the next record, or io.EOF if there are no
// more. The returned reader becomes stale after the next Next call.
func (r *Reader) Next() (io.Reader, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.begin = r.end
	r.err = r.nextChunk(true)
	if r.err != nil {
		return nil, r.err
	}
	return &singleReader{r: r}, nil
}

// Offset returns the reader's current position in the underlying stream.
func (r *Reader) Offset() int64 {
	if r.blockNum < 0 {
		return 0
	}
	return int64(r.blockNum)*BlockSize + int64(r.end)
}

type singleReader struct{ r *Reader }

func (x *singleReader) Read(p []byte) (int, error) {
	r := x.r
	if r.err != nil && r.err != io.EOF {
		return 0, r.err
	}
	for r.begin == r.end {
		if r.last {
			return 0, io.EOF
		}
		r.err = r.nextChunk(false)
		if r.err != nil {
			return 0, r.err
		}
	}
	n := copy(p, r.buf[r.begin:r.end])
	r.begin += n
	return n, nil
}

// LooksRecyclable performs a best-effort, read-only scan of the first block
// of a log and reports whether every recognized chunk in it uses one of the
// recyclable encodings, without validating checksums or reconstructing
// records. This mirrors the original's log::Reader recycling-detection path
// (§ SUPPLEMENTED FEATURES) and is meant for diagnostic tooling, not replay.
func LooksRecyclable(first32KiB []byte) bool {
	end := 0
	sawAny := false
	for end+legacyHeaderSize <= len(first32KiB) {
		typ := first32KiB[end+6]
		if typ == invalidChunkType {
			break
		}
		if !isRecyclableType(typ) {
			return false
		}
		sawAny = true
		length := int(binary.LittleEndian.Uint16(first32KiB[end+4 : end+6]))
		end += recyclableHeaderSize + length
	}
	return sawAny
}
