// Package testutil provides shared helpers for tests: a race-safe log
// buffer and an in-memory OPC-UA transport.
package testutil

import (
	"bytes"
	"sync"
)

// SafeBuffer is a bytes.Buffer guarded by a mutex so tests can capture
// log output from concurrent goroutines.
type SafeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns the accumulated output.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
