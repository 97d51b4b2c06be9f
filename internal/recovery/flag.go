// Package recovery holds the recovery-mode flag: whether the app believes the
// user is in the middle of a password reset.
//
// The flag must outlive screen remounts and be visible to both the reconciler
// and the router, so there is exactly one per client instance. It is created
// by the application context and passed by reference; nothing here is global.
package recovery

import (
	"errors"
	"sync"
)

// ErrAlreadyInitialized is returned by a second call to Init.
var ErrAlreadyInitialized = errors.New("recovery: flag already initialized")

// Flag is a process-wide boolean with an explicit, single initialisation.
// Every mutation is one step under the lock.
type Flag struct {
	mu          sync.Mutex
	initialized bool
	active      bool
}

// Init sets the starting value. It is callable exactly once, at startup:
// true only when the entry URL itself proves a recovery link.
func (f *Flag) Init(initial bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return ErrAlreadyInitialized
	}
	f.initialized = true
	f.active = initial
	return nil
}

// Initialized reports whether Init has run.
func (f *Flag) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

// Get returns the current value; false before Init.
func (f *Flag) Get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Set stores v.
func (f *Flag) Set(v bool) {
	f.mu.Lock()
	f.active = v
	f.mu.Unlock()
}

// CompareAndSet stores next only if the flag currently equals old, and
// reports whether it did.
func (f *Flag) CompareAndSet(old, next bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active != old {
		return false
	}
	f.active = next
	return true
}
