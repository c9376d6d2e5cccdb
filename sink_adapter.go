// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rocksdb

import "github.com/denise813/rocksdb/internal/base"

// sinkWriter adapts a base.Sink's Append method to io.Writer so it can back
// a record.LogWriter, which speaks the *os.File-shaped SyncCloser interface.
type sinkWriter struct {
	base.Sink
}

// Write implements io.Writer in terms of Append.
func (s sinkWriter) Write(p []byte) (int, error) {
	if err := s.Sink.Append(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
