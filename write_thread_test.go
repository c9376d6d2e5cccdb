// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rocksdb

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/denise813/rocksdb/internal/base"
)

var errInjectedMemtableFailure = errors.New("injected memtable failure")

// fakeSink is an in-memory base.Sink that counts Sync calls, standing in
// for the WAL file a real deployment would open through the filesystem.
type fakeSink struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	syncs int
}

func (s *fakeSink) Append(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.buf.Write(p)
	return err
}

func (s *fakeSink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs++
	return nil
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) syncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncs
}

// fakeMemtable records every (batch, seqNum) pair ApplyBatch was called
// with, and optionally injects a failure for a matching batch.
type fakeMemtable struct {
	mu      sync.Mutex
	applied []appliedBatch
	failFor []byte
}

type appliedBatch struct {
	batch  string
	seqNum base.SeqNum
}

func (m *fakeMemtable) ApplyBatch(p []byte, seqNum base.SeqNum) error {
	if m.failFor != nil && bytes.Equal(p, m.failFor) {
		return errInjectedMemtableFailure
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, appliedBatch{batch: string(p), seqNum: seqNum})
	return nil
}

func (m *fakeMemtable) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applied)
}

func newTestWriteThread(t *testing.T, configure func(*Options)) (*WriteThread, *fakeSink, *fakeMemtable) {
	sink := &fakeSink{}
	mem := &fakeMemtable{}
	opts := &Options{Sink: sink, Memtable: mem}
	if configure != nil {
		configure(opts)
	}
	wt := New(opts)
	t.Cleanup(func() { require.NoError(t, wt.Close()) })
	return wt, sink, mem
}

func TestSingleWriteIsAppliedAndSynced(t *testing.T) {
	wt, sink, mem := newTestWriteThread(t, nil)

	seq, err := wt.Write([]byte("hello"), WriteOptions{Sync: true})
	require.NoError(t, err)
	require.Equal(t, base.SeqNum(1), seq)
	require.Equal(t, 1, mem.count())
	require.Equal(t, 1, sink.syncCount())
}

func TestSequenceNumbersAreMonotonicAcrossWrites(t *testing.T) {
	wt, _, _ := newTestWriteThread(t, nil)

	seq1, err := wt.Write([]byte("a"), WriteOptions{})
	require.NoError(t, err)
	seq2, err := wt.Write([]byte("b"), WriteOptions{})
	require.NoError(t, err)
	require.Less(t, seq1, seq2)
}

func TestConcurrentWritersAreAllAppliedExactlyOnce(t *testing.T) {
	wt, _, mem := newTestWriteThread(t, nil)

	const n = 64
	var wg sync.WaitGroup
	seqs := make([]base.SeqNum, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seq, err := wt.Write([]byte{byte(i)}, WriteOptions{})
			require.NoError(t, err)
			seqs[i] = seq
		}(i)
	}
	wg.Wait()

	require.Equal(t, n, mem.count())
	seen := make(map[base.SeqNum]bool, n)
	for _, s := range seqs {
		require.False(t, seen[s], "sequence number %d reused", s)
		seen[s] = true
	}
}

func TestDisableWALSkipsTheLog(t *testing.T) {
	wt, sink, mem := newTestWriteThread(t, nil)

	_, err := wt.Write([]byte("no-wal"), WriteOptions{DisableWAL: true})
	require.NoError(t, err)
	require.Equal(t, 1, mem.count())
	require.Equal(t, 0, sink.syncCount())
}

func TestMemtableFailureIsReportedToTheWriter(t *testing.T) {
	sink := &fakeSink{}
	mem := &fakeMemtable{failFor: []byte("boom")}
	wt := New(&Options{Sink: sink, Memtable: mem})
	defer wt.Close()

	_, err := wt.Write([]byte("boom"), WriteOptions{})
	require.Error(t, err)
}

func TestNoSlowdownFailsFastDuringAWriteStall(t *testing.T) {
	wt, _, _ := newTestWriteThread(t, nil)
	wt.BeginWriteStall()
	defer wt.EndWriteStall()

	_, err := wt.Write([]byte("x"), WriteOptions{NoSlowdown: true})
	require.ErrorIs(t, err, ErrWriteStall)
}

func TestWriteStallBlocksUntilEnded(t *testing.T) {
	wt, _, mem := newTestWriteThread(t, nil)
	wt.BeginWriteStall()

	done := make(chan struct{})
	go func() {
		_, err := wt.Write([]byte("x"), WriteOptions{})
		require.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("write returned before the stall ended")
	case <-time.After(20 * time.Millisecond):
	}

	wt.EndWriteStall()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write never unblocked after the stall ended")
	}
	require.Equal(t, 1, mem.count())
}

func TestParallelMemtableWritesApplyEveryBatch(t *testing.T) {
	wt, _, mem := newTestWriteThread(t, func(o *Options) {
		o.AllowConcurrentMemtableWrite = true
	})

	const n = 16
	var wg sync.WaitGroup
	var started atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := wt.Write([]byte{byte(i)}, WriteOptions{})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.Equal(t, n, mem.count())
}

func TestPipelinedWritesApplyEveryBatch(t *testing.T) {
	wt, _, mem := newTestWriteThread(t, func(o *Options) {
		o.EnablePipelinedWrite = true
	})

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := wt.Write([]byte{byte(i)}, WriteOptions{})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.Equal(t, n, mem.count())
}

func TestEnterUnbatchedRunsExclusively(t *testing.T) {
	wt, _, _ := newTestWriteThread(t, nil)

	var active atomic.Int32
	var maxActive atomic.Int32
	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := wt.EnterUnbatched(func() error {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxActive.Load())
}

func TestMetricsReportsStallState(t *testing.T) {
	wt, _, _ := newTestWriteThread(t, nil)

	require.False(t, wt.Metrics().Stalled)
	wt.BeginWriteStall()
	require.True(t, wt.Metrics().Stalled)
	wt.EndWriteStall()
	require.False(t, wt.Metrics().Stalled)
}

func TestClosedWriteThreadRejectsFurtherWrites(t *testing.T) {
	sink := &fakeSink{}
	mem := &fakeMemtable{}
	wt := New(&Options{Sink: sink, Memtable: mem})
	require.NoError(t, wt.Close())

	_, err := wt.Write([]byte("x"), WriteOptions{})
	require.ErrorIs(t, err, ErrClosed)
}

func TestAdaptiveYieldStillReachesCompletion(t *testing.T) {
	wt, _, mem := newTestWriteThread(t, func(o *Options) {
		o.EnableWriteThreadAdaptiveYield = true
		o.WriteThreadMaxYieldMicros = 50
		o.WriteThreadSlowYieldMicros = 1
	})

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := wt.Write([]byte{byte(i)}, WriteOptions{})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.Equal(t, n, mem.count())
}
