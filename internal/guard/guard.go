// Package guard provides keyed reentrancy locks for mutable resources.
//
// Each resource (escrow, dispute, bid) is guarded by a named lock in a
// Registry. Lock acquisition never blocks: a second acquisition while the
// lock is held is a reentrancy violation and is rejected outright. The
// Registry is an explicit dependency passed into each service, never a
// process-wide global.
package guard

import (
	"errors"
	"sync"
)

// ErrReentrancy is returned when a resource is already locked.
var ErrReentrancy = errors.New("guard: reentrant call on locked resource")

// Registry tracks which resources are currently locked.
type Registry struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{held: make(map[string]struct{})}
}

// Lock acquires the lock for the given resource. If the resource is already
// locked it fails with ErrReentrancy instead of waiting.
//
// On success it returns a release function that the caller MUST invoke on
// every exit path (defer it immediately). The release function is idempotent:
// calling it more than once is safe.
func (r *Registry) Lock(resource string) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, locked := r.held[resource]; locked {
		return nil, ErrReentrancy
	}
	r.held[resource] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.held, resource)
			r.mu.Unlock()
		})
	}, nil
}

// Unlock releases the lock for a resource directly. It is idempotent:
// unlocking a resource that is not locked is a no-op. Prefer the release
// function returned by Lock; Unlock exists for recovery paths.
func (r *Registry) Unlock(resource string) {
	r.mu.Lock()
	delete(r.held, resource)
	r.mu.Unlock()
}

// Held reports whether the resource is currently locked.
func (r *Registry) Held(resource string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, locked := r.held[resource]
	return locked
}
