// File: core/sample/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool is a free-list of pre-allocated Sample records for one stream
// (fixed format + channel count). Capacity is a hint (spec §4.1): once
// exhausted, fresh samples are allocated individually and reclaimed into
// the same free list, so the pool never blocks the push path.
//
// The free list is a Treiber-stack-style lock-free stack: Release() (many
// producers, one per consumer thread dropping its last reference) performs
// a CAS loop publishing its node onto a single atomic head pointer, and
// Allocate() (the single outlet push thread) pops with the matching CAS
// loop. There is no sentinel node and no exchange-then-link step: an empty
// free list is a nil head. Adapted from the teacher's pool/slab_pool.go queue-backed slab
// allocator (there backed by a bounded lock-free queue; here by an
// unbounded stack, since reserve is only a sizing hint, not a hard cap).
package sample

import (
	"sync/atomic"

	"github.com/momentics/labstream/api"
)

// Pool allocates and recycles Sample records for one stream.
type Pool struct {
	format   api.ChannelFormat
	channels int
	head     atomic.Pointer[Sample]

	totalAlloc atomic.Int64
	totalFree  atomic.Int64
}

// NewPool creates a pool for the given format/channel-count and pre-seeds
// its free list with reserveCount records.
func NewPool(format api.ChannelFormat, channels int, reserveCount int) *Pool {
	p := &Pool{format: format, channels: channels}
	for i := 0; i < reserveCount; i++ {
		p.reclaim(p.newRecord())
	}
	return p
}

func (p *Pool) newRecord() *Sample {
	s := &Sample{
		Format:   p.format,
		Channels: p.channels,
		pool:     p,
	}
	switch {
	case p.format.IsNumeric():
		s.Numeric = make([]byte, p.channels*p.format.Size())
	case p.format == api.FormatString:
		s.Strings = make([][]byte, p.channels)
	}
	p.totalAlloc.Add(1)
	return s
}

// Allocate returns a live, single-owner (refs==1) Sample ready for the
// caller to fill in and either push directly or fan out via Retain. Never
// blocks.
func (p *Pool) Allocate(timestamp float64, pushthrough bool) *Sample {
	for {
		old := p.head.Load()
		if old == nil {
			s := p.newRecord()
			s.pool = p
			s.Timestamp = timestamp
			s.Pushthrough = pushthrough
			s.refs.Store(1)
			return s
		}
		next := old.next
		if p.head.CompareAndSwap(old, next) {
			p.totalAlloc.Add(1)
			old.next = nil
			old.Timestamp = timestamp
			old.Pushthrough = pushthrough
			old.refs.Store(1)
			return old
		}
	}
}

// reclaim returns s to the free list. Called by Sample.Release when the
// reference count reaches zero.
func (p *Pool) reclaim(s *Sample) {
	s.reset()
	for {
		old := p.head.Load()
		s.next = old
		if p.head.CompareAndSwap(old, s) {
			p.totalFree.Add(1)
			return
		}
	}
}

// Live returns the number of records currently checked out (not resident in
// the free list): total allocated minus total reclaimed, per spec §8's
// pool invariant.
func (p *Pool) Live() int64 {
	return p.totalAlloc.Load() - p.totalFree.Load()
}
