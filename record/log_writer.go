// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package record

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"
)

// SyncCloser is satisfied by *os.File and is the minimum the LogWriter needs
// from its underlying file in order to durably persist blocks.
type SyncCloser interface {
	io.Writer
	Sync() error
	Close() error
}

// LogWriter wraps a Writer with a background flush loop, so a write
// coordinator's batch-group leader can hand off an encoded batch and move on
// without blocking on the fsync itself. It is safe for concurrent use by
// multiple callers of WriteRecord, but only one flush loop ever runs.
//
// This mirrors the teacher's record.LogWriter: an unbounded queue of pending
// records drained by a single goroutine, with SyncRecord callers blocking on
// a sync.Cond until their particular write has been synced.
type LogWriter struct {
	w   *Writer
	syn SyncCloser

	mu struct {
		sync.Mutex
		cond sync.Cond

		// closed is set once Close has been called; the flush loop exits
		// after draining whatever is queued.
		closed bool
		// pending holds records queued by WriteRecord but not yet handed to
		// the underlying Writer by the flush loop.
		pending [][]byte
		// flushErr is the first error seen by the flush loop; sticky.
		flushErr error

		// queuedOffset is the total payload bytes of every record queued so
		// far (chunk headers and block padding are not counted).
		queuedOffset int64
		// syncedOffset is the total payload bytes of every record written
		// and covered by a successful Sync, counted the same way.
		syncedOffset int64
	}

	flushLoopDone chan struct{}
}

// NewLogWriter starts a LogWriter's background flush loop over a freshly
// created Writer. The flush loop fsyncs after every batch of queued records
// it writes, whether or not a SyncRecord caller is waiting.
func NewLogWriter(syn SyncCloser, recyclable bool, logNum uint32) *LogWriter {
	var w *Writer
	if recyclable {
		w = NewRecyclableWriter(syn, logNum)
	} else {
		w = NewWriter(syn)
	}
	l := &LogWriter{
		w:             w,
		syn:           syn,
		flushLoopDone: make(chan struct{}),
	}
	l.mu.cond.L = &l.mu.Mutex
	go l.flushLoop()
	return l
}

// WriteRecord queues p to be written as a single record and returns the
// logical offset just past its end once flushed. It does not block for the
// flush or the sync; call SyncRecord for that.
func (l *LogWriter) WriteRecord(p []byte) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mu.closed {
		return 0, errors.New("record: write to closed LogWriter")
	}
	if l.mu.flushErr != nil {
		return 0, l.mu.flushErr
	}
	cp := append([]byte(nil), p...)
	l.mu.pending = append(l.mu.pending, cp)
	l.mu.queuedOffset += int64(len(cp))
	l.mu.cond.Signal()
	return l.mu.queuedOffset, nil
}

// SyncRecord queues p like WriteRecord, then blocks until it (and everything
// queued ahead of it) has been flushed to the Writer and durably synced.
// This is the call a batch-group leader makes on behalf of its write group
// when a member requested Sync, per §3.B's "group commit" semantics:
// one fsync serves every writer in the group.
func (l *LogWriter) SyncRecord(p []byte) (int64, error) {
	l.mu.Lock()
	if l.mu.closed {
		l.mu.Unlock()
		return 0, errors.New("record: write to closed LogWriter")
	}
	if l.mu.flushErr != nil {
		err := l.mu.flushErr
		l.mu.Unlock()
		return 0, err
	}
	cp := append([]byte(nil), p...)
	l.mu.pending = append(l.mu.pending, cp)
	l.mu.queuedOffset += int64(len(cp))
	target := l.mu.queuedOffset
	l.mu.cond.Signal()
	for l.mu.syncedOffset < target && l.mu.flushErr == nil {
		l.mu.cond.Wait()
	}
	err := l.mu.flushErr
	l.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return target, nil
}

func (l *LogWriter) flushLoop() {
	defer close(l.flushLoopDone)
	for {
		l.mu.Lock()
		for len(l.mu.pending) == 0 && !l.mu.closed {
			l.mu.cond.Wait()
		}
		if len(l.mu.pending) == 0 && l.mu.closed {
			l.mu.Unlock()
			return
		}
		batch := l.mu.pending
		l.mu.pending = nil
		l.mu.Unlock()

		var err error
		var flushed int64
		for _, rec := range batch {
			if _, err = l.w.WriteRecord(rec); err != nil {
				break
			}
			flushed += int64(len(rec))
		}
		if err == nil {
			err = l.w.Flush()
		}
		if err == nil {
			err = l.syn.Sync()
		}

		l.mu.Lock()
		if err != nil {
			l.mu.flushErr = err
		} else {
			l.mu.syncedOffset += flushed
		}
		l.mu.cond.Broadcast()
		l.mu.Unlock()

		if err != nil {
			return
		}
	}
}

// Close drains any queued records, waits for the flush loop to exit, and
// closes the underlying file.
func (l *LogWriter) Close() error {
	l.mu.Lock()
	l.mu.closed = true
	l.mu.cond.Signal()
	l.mu.Unlock()

	<-l.flushLoopDone

	l.mu.Lock()
	err := l.mu.flushErr
	l.mu.Unlock()

	if cerr := l.w.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := l.syn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Size returns the logical size of the log as of the last record queued,
// whether or not it has been flushed yet.
func (l *LogWriter) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mu.queuedOffset
}
