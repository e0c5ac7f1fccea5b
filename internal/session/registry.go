// File: internal/session/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry is the cancellable-socket bookkeeping spec §4.10/§9 describes:
// "design each long-lived socket as an object that registers itself in its
// owner's cancellable set and unregisters on drop; a cancel call closes the
// socket from the outside. Do not rely on a single global cancellation
// token; each subclient must be individually cancellable so the watchdog
// can cycle one without disturbing others." Grounded on the teacher's
// internal/session/store.go Session/SessionManager pairing (ID'd entries,
// Cancel/Done semantics, Range over live entries), narrowed from a
// sharded multi-session map to the single-inlet-connection registry the
// spec actually calls for (one registry per inlet, not a process-wide
// session table).
package session

import "sync"

// Cancellable is anything a watchdog-driven re-resolve can tear down from
// the outside, such as a small adapter type whose Cancel closes a net.Conn.
type Cancellable interface {
	// Cancel closes the underlying resource, unblocking any goroutine
	// parked on a read/write/wait against it. Idempotent.
	Cancel()
}

// Registry tracks the cancellables belonging to one inlet connection (its
// data and time subclients' sockets) so that a watchdog-triggered re-resolve
// can trip all of them without reaching into subclient internals.
type Registry struct {
	mu   sync.Mutex
	next int
	set  map[int]Cancellable
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{set: make(map[int]Cancellable)}
}

// Token is the handle a caller uses to unregister itself.
type Token int

// Register adds c to the registry and returns a token for Unregister.
func (r *Registry) Register(c Cancellable) Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.set[id] = c
	return Token(id)
}

// Unregister removes the cancellable identified by tok, if still present.
func (r *Registry) Unregister(tok Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.set, int(tok))
}

// CancelAll trips every currently registered cancellable. Used by the
// watchdog on successful re-resolve (spec §4.10: "cancels all registered
// cancellables ... and invokes all recovery callbacks").
func (r *Registry) CancelAll() {
	r.mu.Lock()
	items := make([]Cancellable, 0, len(r.set))
	for _, c := range r.set {
		items = append(items, c)
	}
	r.mu.Unlock()
	for _, c := range items {
		c.Cancel()
	}
}

// Len reports the number of currently registered cancellables, for tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.set)
}
