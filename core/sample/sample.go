// File: core/sample/sample.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool-allocated sample records (spec §3, §4.1). A Sample is owned by
// exactly one Pool; its lifetime is extended across consumer queues by a
// reference count, following the teacher's pool/slab_pool.go free-list
// shape generalized from byte buffers to typed sample records.

package sample

import (
	"sync/atomic"

	"github.com/momentics/labstream/api"
)

// Sample is a single timestamped multi-channel value, owned by a Pool.
// Numeric holds the raw payload for fixed-width formats (length exactly
// Channels*Format.Size()); Strings holds one owned byte slice per channel
// when Format is api.FormatString.
type Sample struct {
	Timestamp   float64
	Pushthrough bool

	Format   api.ChannelFormat
	Channels int

	Numeric []byte
	Strings [][]byte

	refs atomic.Int32
	pool *Pool
	next *Sample // free-list link; valid only while resident in the pool
}

// Retain increments the reference count. Callers that hand a *Sample to an
// additional consumer queue must Retain it first.
func (s *Sample) Retain() {
	s.refs.Add(1)
}

// Release decrements the reference count; at zero the sample is reclaimed
// into its owning pool, not freed directly.
func (s *Sample) Release() {
	if s.refs.Add(-1) == 0 {
		s.pool.reclaim(s)
	}
}

// RefCount returns the current reference count, for tests and diagnostics.
func (s *Sample) RefCount() int32 {
	return s.refs.Load()
}

// reset clears payload state before the sample re-enters the free list so
// string channels release their backing arrays (spec §4.1: "must destruct
// on reclaim").
func (s *Sample) reset() {
	s.Timestamp = 0
	s.Pushthrough = false
	for i := range s.Strings {
		s.Strings[i] = nil
	}
}
