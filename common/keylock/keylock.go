// Package keylock provides per-key mutual exclusion with lazily created,
// reclaimable locks.
package keylock

import (
	"sync"
	"time"
)

type entry struct {
	mu       sync.Mutex
	refs     int
	lastUsed time.Time
}

// Registry hands out one mutex per key. The registry's own guard is held
// only while looking an entry up, never while a key lock is held, so work
// on one key never blocks work on another.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func New() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func (r *Registry) acquire(key string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	e.refs++
	e.lastUsed = r.now()
	return e
}

func (r *Registry) release(e *entry) {
	r.mu.Lock()
	e.refs--
	e.lastUsed = r.now()
	r.mu.Unlock()
}

// Lock blocks until key is held and returns the function that releases it.
func (r *Registry) Lock(key string) func() {
	e := r.acquire(key)
	e.mu.Lock()
	return r.unlocker(e)
}

// TryLock acquires key without blocking. ok is false when another holder
// already owns it.
func (r *Registry) TryLock(key string) (unlock func(), ok bool) {
	e := r.acquire(key)
	if !e.mu.TryLock() {
		r.release(e)
		return nil, false
	}
	return r.unlocker(e), true
}

func (r *Registry) unlocker(e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			r.release(e)
		})
	}
}

// Forget drops idle entries last used before cutoff and reports how many
// were removed. Entries that are held or awaited are never dropped.
func (r *Registry) Forget(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, e := range r.entries {
		if e.refs == 0 && e.lastUsed.Before(cutoff) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
