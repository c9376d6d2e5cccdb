// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rocksdb

import (
	"fmt"

	"github.com/cockroachdb/redact"
)

// Logger defines the logging contract carried by Options.Logger. The
// WriteThread itself emits no messages through it. It deliberately mirrors
// the teacher's two-method logging
// interface rather than adopting a general-purpose logging framework: this
// layer never needs levels, sinks, or structured fields beyond what a
// printf-style call provides.
type Logger interface {
	Infof(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// NoopLogger discards everything. The default when Options.Logger is unset.
type NoopLogger struct{}

// Infof implements Logger.
func (NoopLogger) Infof(format string, args ...interface{}) {}

// Fatalf implements Logger.
func (NoopLogger) Fatalf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

// RedactedLogger wraps a Logger so that call sites passing redact.RedactableString
// arguments (rather than plain fmt verbs) have their marked spans redacted
// before the message reaches the wrapped Logger. Batch payloads and user keys
// should be passed through redact.Safe/redact.RedactableString at call sites
// that might log them, so production log sinks can strip them.
type RedactedLogger struct {
	Wrapped Logger
}

// Infof implements Logger, redacting any redact.RedactableString arguments.
func (l RedactedLogger) Infof(format string, args ...interface{}) {
	l.Wrapped.Infof("%s", redact.Sprintf(format, args...).Redact())
}

// Fatalf implements Logger, redacting any redact.RedactableString arguments.
func (l RedactedLogger) Fatalf(format string, args ...interface{}) {
	l.Wrapped.Fatalf("%s", redact.Sprintf(format, args...).Redact())
}
