// File: inlet/bundle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// endpointBundle is the shared mutable state of spec §4.10 held by an
// inlet connection: the outlet's current address/ports plus the lost,
// shutdown, last-receive-time, and active-transmission-count flags that
// the watchdog and every sub-receiver read and update. Guarded by a single
// RWMutex, following §5's "multi-reader/single-writer" policy for this
// block.
package inlet

import (
	"sync"
	"time"
)

// endpoint names where a receiver should connect.
type endpoint struct {
	host        string
	dataPort    int
	servicePort int
	uid         string
}

type endpointBundle struct {
	mu sync.RWMutex

	ep endpoint

	lost                bool
	shutdown            bool
	lastReceiveTime     time.Time
	activeTransmissions int
	transmissionWanted  bool
}

func newEndpointBundle(ep endpoint) *endpointBundle {
	return &endpointBundle{ep: ep, lastReceiveTime: time.Now()}
}

func (b *endpointBundle) current() endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ep
}

func (b *endpointBundle) update(ep endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ep = ep
	b.lastReceiveTime = time.Now()
}

func (b *endpointBundle) isLost() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lost
}

func (b *endpointBundle) setLost(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lost = v
}

func (b *endpointBundle) isShutdown() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.shutdown
}

func (b *endpointBundle) setShutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shutdown = true
}

func (b *endpointBundle) updateReceiveTime(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastReceiveTime = now
}

func (b *endpointBundle) beginTransmission() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeTransmissions++
}

func (b *endpointBundle) endTransmission() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeTransmissions > 0 {
		b.activeTransmissions--
	}
}

// setTransmissionWanted records whether the caller currently wants a data
// transmission, independent of whether a TCP session happens to be
// connected right now. Grounded on original_source/src/inlet_connection.h's
// acquire_watchdog()/release_watchdog() ("watchdog will be inactive while
// no transmission is requested"): activeTransmissions alone drops to zero
// the instant a session errors out (runDataConnection's defer), which would
// silently disarm the watchdog on exactly the case it exists to catch — a
// producer that crashed or restarted on a new port. Arming a fresh request
// resets the staleness clock so it measures silence from the moment data
// was actually asked for, not from whatever stale lastReceiveTime predates
// it.
func (b *endpointBundle) setTransmissionWanted(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v && !b.transmissionWanted {
		b.lastReceiveTime = time.Now()
	}
	b.transmissionWanted = v
}

// staleness reports whether a transmission is wanted and no bytes have
// been received for longer than threshold (spec §4.10's watchdog check).
// Deliberately not gated on activeTransmissions: that counter only spans
// the lifetime of one connected TCP session and a dead/restarted producer
// is exactly the case where no session is connected at all.
func (b *endpointBundle) staleness(threshold time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.transmissionWanted && time.Since(b.lastReceiveTime) > threshold
}
