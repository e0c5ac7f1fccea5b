// File: core/dispatch/sendbuffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SendBuffer is the outlet-side fan-out described in spec §4.3 (C3): a
// registry of live consumer queues that a producer's Push broadcasts a
// sample reference to. A registered queue lives at least until it
// unregisters itself via Consumer.Close, mirroring the
// register-on-construct/unregister-on-destruct discipline Go expresses
// with an explicit Close rather than a destructor.
package dispatch

import (
	"sync"
	"time"

	"github.com/momentics/labstream/core/queue"
	"github.com/momentics/labstream/core/sample"
)

// Consumer is a registered subscriber's queue handle.
type Consumer struct {
	*queue.ConsumerQueue
	buf *SendBuffer
}

// Close unregisters the consumer from its SendBuffer and releases any
// samples still resident in its queue.
func (c *Consumer) Close() {
	c.buf.unregister(c)
	c.ConsumerQueue.Close()
	c.ConsumerQueue.Flush()
}

// SendBuffer fans out pushed samples to every registered Consumer.
type SendBuffer struct {
	mu        sync.RWMutex
	consumers []*Consumer

	waitMu sync.Mutex
	waitCh chan struct{}
}

// New creates an empty SendBuffer.
func New() *SendBuffer {
	return &SendBuffer{waitCh: make(chan struct{})}
}

// NewConsumer constructs and registers a queue of capacity
// min(maxBuffered, globalMax); globalMax<=0 means no additional cap.
func (sb *SendBuffer) NewConsumer(maxBuffered, globalMax int) *Consumer {
	capacity := maxBuffered
	if globalMax > 0 && capacity > globalMax {
		capacity = globalMax
	}
	c := &Consumer{ConsumerQueue: queue.New(capacity), buf: sb}

	sb.mu.Lock()
	sb.consumers = append(sb.consumers, c)
	sb.mu.Unlock()

	sb.signal()
	return c
}

func (sb *SendBuffer) unregister(c *Consumer) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	for i, x := range sb.consumers {
		if x == c {
			sb.consumers = append(sb.consumers[:i], sb.consumers[i+1:]...)
			return
		}
	}
}

// Push hands a reference to s to every registered consumer, then drops the
// caller's own reference. With zero consumers the sample is simply
// reclaimed (spec §7: "push_sample with no consumers succeeds").
func (sb *SendBuffer) Push(s *sample.Sample) {
	sb.mu.RLock()
	for _, c := range sb.consumers {
		s.Retain()
		c.Push(s)
	}
	sb.mu.RUnlock()
	s.Release()
}

// HaveConsumers reports whether at least one consumer is registered.
func (sb *SendBuffer) HaveConsumers() bool {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return len(sb.consumers) > 0
}

// WaitForConsumers blocks until at least one consumer is registered or
// timeout elapses, returning whether one is present.
func (sb *SendBuffer) WaitForConsumers(timeout time.Duration) bool {
	if sb.HaveConsumers() {
		return true
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		sb.waitMu.Lock()
		ch := sb.waitCh
		sb.waitMu.Unlock()
		select {
		case <-ch:
			if sb.HaveConsumers() {
				return true
			}
		case <-deadline.C:
			return sb.HaveConsumers()
		}
	}
}

func (sb *SendBuffer) signal() {
	sb.waitMu.Lock()
	old := sb.waitCh
	sb.waitCh = make(chan struct{})
	sb.waitMu.Unlock()
	close(old)
}
