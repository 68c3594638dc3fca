// Package presence tracks the live mapping from account handle to its single
// active connection. Entries are ephemeral: nothing is persisted and the
// directory starts empty on every process restart. The Message Router uses it
// for real-time fan-out; the session layer registers a handle at join and
// unregisters it on disconnect.
package presence

import "sync"

// Conn is the minimal connection surface the directory needs to hold.
// The relay's WebSocket connection satisfies it; tests substitute stubs.
type Conn interface {
	// Send writes one serialized server event to the peer.
	Send(data []byte) error
}

// Directory is the handle -> connection registry. Implementations must make
// per-handle operations linearizable; there is no ordering guarantee across
// distinct handles.
type Directory interface {
	// Register binds handle to conn, unconditionally replacing any prior
	// entry for the handle. Last writer wins, which lets a reconnecting
	// client supersede its old session without explicit teardown.
	Register(handle string, conn Conn)

	// Lookup returns the live connection for handle, if any.
	Lookup(handle string) (Conn, bool)

	// Unregister removes the entry for handle only if it still points at
	// conn. A stale disconnect from a superseded session therefore cannot
	// evict the newer one.
	Unregister(handle string, conn Conn)
}

// Local is the in-process Directory implementation backed by a mutex-guarded
// map. A multi-process deployment would swap in a distributed registry behind
// the same interface.
type Local struct {
	mu      sync.RWMutex
	entries map[string]Conn
}

// NewLocal returns an empty in-process directory.
func NewLocal() *Local {
	return &Local{entries: make(map[string]Conn)}
}

func (l *Local) Register(handle string, conn Conn) {
	l.mu.Lock()
	l.entries[handle] = conn
	l.mu.Unlock()
}

func (l *Local) Lookup(handle string) (Conn, bool) {
	l.mu.RLock()
	conn, ok := l.entries[handle]
	l.mu.RUnlock()
	return conn, ok
}

func (l *Local) Unregister(handle string, conn Conn) {
	l.mu.Lock()
	if cur, ok := l.entries[handle]; ok && cur == conn {
		delete(l.entries, handle)
	}
	l.mu.Unlock()
}

// Count returns the number of registered handles. Used by the health endpoint
// and the connections gauge.
func (l *Local) Count() int {
	l.mu.RLock()
	n := len(l.entries)
	l.mu.RUnlock()
	return n
}
