// Package reactive implements the two change-notification mechanisms
// layered over the store: synchronous per-table event fan-out, and polling
// observers that re-run a cheap fingerprint query and only re-execute the
// full query when the fingerprint moves. A watermark variant streams only
// newly-appended change-log rows.
package reactive

import (
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/relata/internal/store"
)

// Handle identifies one registered listener for removal.
type Handle string

// Listener receives mutation events on the mutating caller's goroutine.
type Listener func(store.Event)

type busKey struct {
	table  string
	action store.Action
}

type busEntry struct {
	handle Handle
	fn     Listener
}

// Bus is the multi-listener event registry keyed by (table, event kind).
// Listeners are invoked in registration order, synchronously, before the
// mutating call returns. A panicking listener propagates to the mutating
// caller: delivery is best-effort, not transactional with the mutation.
//
// The mutex guards registration only; Emit snapshots the listener list and
// calls outside the lock so listeners may subscribe or unsubscribe freely.
type Bus struct {
	mu        sync.Mutex
	listeners map[busKey][]busEntry
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[busKey][]busEntry)}
}

// Subscribe registers a listener for one table and event kind, returning a
// handle for removal. Multiple listeners on the same key fan out in
// registration order.
func (b *Bus) Subscribe(table string, action store.Action, fn Listener) Handle {
	h := Handle(uuid.NewString())
	key := busKey{table: table, action: action}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[key] = append(b.listeners[key], busEntry{handle: h, fn: fn})
	return h
}

// Unsubscribe removes the listener identified by the handle. Removing an
// unknown or already-removed handle is a no-op.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, entries := range b.listeners {
		for i, e := range entries {
			if e.handle == h {
				b.listeners[key] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Emit implements store.Notifier: delivers the event to the listeners
// registered for its (table, action) key, in registration order.
func (b *Bus) Emit(ev store.Event) {
	key := busKey{table: ev.Table, action: ev.Action}

	b.mu.Lock()
	entries := make([]busEntry, len(b.listeners[key]))
	copy(entries, b.listeners[key])
	b.mu.Unlock()

	for _, e := range entries {
		e.fn(ev)
	}
}
