// Package nonce produces the strictly increasing request nonces required on
// every authenticated call.
package nonce

import (
	"sync/atomic"
	"time"
)

// Stride is the increment between produced nonces. Larger than 1 so that an
// external consumer sharing the same API key has room to interleave without
// immediately colliding.
const Stride = 42

// Sequencer hands out strictly increasing nonces, seeded from the wall clock
// at microsecond resolution. Safe for concurrent use; each client instance
// owns exactly one sequencer.
type Sequencer struct {
	last atomic.Int64
}

// New returns a Sequencer seeded from the current time.
func New() *Sequencer {
	s := &Sequencer{}
	s.last.Store(time.Now().UnixMicro())
	return s
}

// Next returns the next nonce. Every value is strictly greater than the one
// before; the increment is a single atomic read-modify-write.
func (s *Sequencer) Next() int64 {
	return s.last.Add(Stride)
}

// Resync overwrites the sequencer state with an authoritative server-reported
// value. This is the one deliberate exception to monotonicity; it recovers
// from clock skew across restarts or parallel clients on one key. The next
// Next call returns serverValue+Stride.
func (s *Sequencer) Resync(serverValue int64) {
	s.last.Store(serverValue)
}

// Current returns the last value handed out or stored. Diagnostic only.
func (s *Sequencer) Current() int64 {
	return s.last.Load()
}
