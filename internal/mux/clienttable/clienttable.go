// Package clienttable implements the mux's service-name -> client-worker
// routing table (spec.md §3 "Client table"), grounded on
// l3enginemux/src/main.rs's `ShardedLock<HashMap<&str, Sender<Mbuf>>>`.
//
// Go's sync.RWMutex has no notion of a "poisoned" lock the way Rust's
// std::sync::RwLock does -- a panic while a Go mutex is held still unlocks
// it on unwind via defer, so the table itself can never end up in the stuck
// state the original's `p_err.into_inner()` recovery works around. What
// this package does reproduce is the *observable* replace-on-reinsert
// behavior spec.md's Testable Property #9 describes: inserting a second
// sender for a service name does not touch the first sender directly, it
// closes a per-entry stop channel so the first client worker notices on its
// next send attempt and closes its own connection.
package clienttable

import "sync"

// BurstDepth is the bounded sender's buffer depth (spec.md §3 "burst depth
// 512").
const BurstDepth = 512

// Entry is one service's routing state: a bounded sender of packet frames
// and a stop signal fired the instant a newer connection replaces it.
type Entry struct {
	Sender chan []byte
	Stop   chan struct{}
}

// Table maps service name to Entry, mutated by the accept loop on connect
// and optionally on disconnect, read by the dispatch loop.
type Table struct {
	mu       sync.RWMutex
	services map[string]*Entry
}

// New returns an empty client table.
func New() *Table {
	return &Table{services: make(map[string]*Entry)}
}

// Insert files a new Entry under service, replacing and signalling the stop
// of any existing entry for that name.
func (t *Table) Insert(service string) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.services[service]; ok {
		close(old.Stop)
	}

	e := &Entry{
		Sender: make(chan []byte, BurstDepth),
		Stop:   make(chan struct{}),
	}
	t.services[service] = e
	return e
}

// Lookup returns the entry filed under service, if any.
func (t *Table) Lookup(service string) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.services[service]
	return e, ok
}

// Remove deletes the entry for service, if it is still the one passed in
// (a stale Remove from an already-replaced worker is a no-op).
func (t *Table) Remove(service string, e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.services[service]; ok && cur == e {
		delete(t.services, service)
	}
}

// Len reports how many services are currently registered.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.services)
}
