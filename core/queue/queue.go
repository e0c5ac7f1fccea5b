// File: core/queue/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ConsumerQueue is the bounded single-producer/multi-consumer ring of
// spec §4.2 (C2): at most N live entries, the producer is unique, multiple
// consumers may pop concurrently, and a push to a full ring atomically
// evicts the oldest entry first. Adapted from the teacher's
// core/concurrency/lock_free_queue.go Vyukov-style sequence-numbered ring,
// generalized from a power-of-two mask to a plain modulo so the queue's
// capacity matches exactly what the caller requested (spec §8's boundary
// tests pin an exact capacity, e.g. 1 or 10).
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/labstream/core/sample"
)

type slot struct {
	seq atomic.Uint64
	val *sample.Sample
}

// ConsumerQueue is a bounded ring of *sample.Sample references.
type ConsumerQueue struct {
	cells    []slot
	capacity uint64

	head atomic.Uint64
	tail atomic.Uint64

	evictMu sync.Mutex

	wakeMu sync.Mutex
	wakeCh chan struct{}

	closed atomic.Bool
	closeCh chan struct{}
}

// New creates a queue with the given exact capacity (minimum 1).
func New(capacity int) *ConsumerQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &ConsumerQueue{
		cells:    make([]slot, capacity),
		capacity: uint64(capacity),
		wakeCh:   make(chan struct{}),
		closeCh:  make(chan struct{}),
	}
	for i := range q.cells {
		q.cells[i].seq.Store(uint64(i))
	}
	return q
}

// Push inserts a sample, never blocks, and evicts the oldest resident
// sample (releasing the queue's reference to it) if the ring is full.
// Push wakes any goroutines blocked in Pop.
//
// Fullness is judged from tail-head against capacity, not from the slot's
// sequence number: with a single producer (spec §4.2's "producer is
// unique"), the slot a push is about to (re)write always carries the
// sequence number the producer itself stamped there last lap, so a
// slot-sequence comparison alone never distinguishes "still holding an
// unconsumed value" from "free" once capacity==1 (every push revisits the
// same physical slot). The head/tail distance has no such blind spot.
func (q *ConsumerQueue) Push(s *sample.Sample) {
	for {
		tail := q.tail.Load()
		if tail-q.head.Load() >= q.capacity {
			q.evictOldest()
			continue
		}
		idx := tail % q.capacity
		cell := &q.cells[idx]
		cell.val = s
		cell.seq.Store(tail + 1)
		q.tail.Store(tail + 1)
		q.wake()
		return
	}
}

// evictOldest drops the single oldest resident sample to make room for a
// pending Push. evictMu serializes evictions only; Pop does not take it, and
// a concurrent Pop for the same head slot is settled by popOnce's CAS on head.
func (q *ConsumerQueue) evictOldest() {
	q.evictMu.Lock()
	defer q.evictMu.Unlock()
	if v, ok := q.popOnce(); ok {
		v.Release()
	}
}

// popOnce removes and returns the oldest sample without blocking.
func (q *ConsumerQueue) popOnce() (*sample.Sample, bool) {
	for {
		head := q.head.Load()
		idx := head % q.capacity
		cell := &q.cells[idx]
		seq := cell.seq.Load()
		dif := int64(seq) - int64(head+1)

		switch {
		case dif == 0:
			if !q.head.CompareAndSwap(head, head+1) {
				continue
			}
			v := cell.val
			cell.val = nil
			cell.seq.Store(head + q.capacity)
			return v, true
		case dif < 0:
			return nil, false
		default:
			continue
		}
	}
}

// Pop removes and returns the oldest sample, blocking up to timeout for one
// to arrive. A non-positive timeout performs a single non-blocking attempt.
func (q *ConsumerQueue) Pop(timeout time.Duration) (*sample.Sample, bool) {
	if v, ok := q.popOnce(); ok {
		return v, true
	}
	if timeout <= 0 {
		return nil, false
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		q.wakeMu.Lock()
		ch := q.wakeCh
		q.wakeMu.Unlock()

		select {
		case <-ch:
			if v, ok := q.popOnce(); ok {
				return v, true
			}
		case <-deadline.C:
			return nil, false
		case <-q.closeCh:
			return nil, false
		}
	}
}

// wake broadcasts to every goroutine blocked in Pop by closing and
// replacing the shared wake channel.
func (q *ConsumerQueue) wake() {
	q.wakeMu.Lock()
	old := q.wakeCh
	q.wakeCh = make(chan struct{})
	q.wakeMu.Unlock()
	close(old)
}

// Flush drops and releases every resident sample, returning the count.
func (q *ConsumerQueue) Flush() int {
	n := 0
	for {
		v, ok := q.popOnce()
		if !ok {
			return n
		}
		v.Release()
		n++
	}
}

// Len returns an approximate resident count; exact only when called from
// the sole consumer thread with no concurrent pushes in flight.
func (q *ConsumerQueue) Len() int {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Empty reports whether the queue currently holds no samples.
func (q *ConsumerQueue) Empty() bool {
	return q.Len() == 0
}

// Close releases all blocked Pop callers; subsequent Pop calls return
// immediately once any resident samples are drained.
func (q *ConsumerQueue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.closeCh)
	}
}
