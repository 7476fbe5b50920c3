// Package registry is the in-process source of truth for live anonymous
// connections: which connection ids exist and what lifecycle state each is
// in. It performs no I/O; presence mirroring and transport bookkeeping live
// elsewhere and reference connections by id only.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownConnection is returned when an operation targets a connection id
// that was never registered or has already been removed. Callers treat it as
// a benign race with a concurrent disconnect, not a failure.
var ErrUnknownConnection = errors.New("registry: unknown connection")

// State is the lifecycle state of a connection.
type State string

const (
	StateIdle      State = "idle"
	StateSearching State = "searching"
	StatePaired    State = "paired"
)

// Info is a point-in-time snapshot of a registered connection.
type Info struct {
	ID          string
	Username    string
	State       State
	ConnectedAt time.Time
}

// Registry maps connection ids to their lifecycle state. All methods are
// goroutine-safe. Removal is terminal: a removed id can never be re-entered.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Info
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{conns: make(map[string]*Info)}
}

// Register adds a new connection with the given display name and returns its
// freshly generated connection id. The initial state is idle. It always
// succeeds.
func (r *Registry) Register(username string) string {
	id := uuid.New().String()

	r.mu.Lock()
	r.conns[id] = &Info{
		ID:          id,
		Username:    username,
		State:       StateIdle,
		ConnectedAt: time.Now(),
	}
	r.mu.Unlock()
	return id
}

// SetState transitions a connection to the given state. It returns
// ErrUnknownConnection if the id is absent (closed concurrently or never
// registered).
func (r *Registry) SetState(id string, state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	info.State = state
	return nil
}

// Get returns a snapshot of the connection, or false if the id is unknown.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.conns[id]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// Remove deletes a connection. Removing an unknown id is a no-op; the return
// value reports whether the id was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	return ok
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.conns)
	r.mu.RUnlock()
	return n
}

// Snapshot returns a copy of all registered connections. The slice is safe
// to iterate without holding any lock.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.conns))
	for _, info := range r.conns {
		out = append(out, *info)
	}
	r.mu.RUnlock()
	return out
}
