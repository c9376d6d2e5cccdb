// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rocksdb

import (
	"math/rand"
	"sync"
	"time"
)

// mathRand wraps a *rand.Rand behind a mutex so it can serve as the
// base.Rand default for callers (the read-amp bitmap's grid offset) that
// don't supply their own source.
type mathRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newMathRand() *mathRand {
	return &mathRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Uint64 implements base.Rand.
func (m *mathRand) Uint64() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.r.Uint64()
}

// Intn implements readamp.Rand so the same source can seed a Bitmap's grid
// offset directly.
func (m *mathRand) Intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.r.Intn(n)
}
