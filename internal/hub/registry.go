// Package hub tracks live client connections by user id.
package hub

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Observer is notified after the registry changes. Calls happen outside the
// map lock but are serialized, so a user's register and unregister reach every
// observer in the order they were applied. Observers must not mutate the registry.
type Observer interface {
	OnRegister(userID int64, h Handle)
	OnUnregister(userID int64, h Handle)
}

// Entry is one row of a registry snapshot.
type Entry struct {
	UserID int64
	Handle Handle
}

// Registry maps a user id to its current connection handle.
// A newer registration for the same user replaces the older one.
type Registry struct {
	// notifyMu spans a mutation and its observer calls.
	notifyMu  sync.Mutex
	mu        sync.RWMutex
	byUser    map[int64]Handle
	observers []Observer
}

// NewRegistry creates an empty registry.
func NewRegistry(observers ...Observer) *Registry {
	return &Registry{
		byUser:    make(map[int64]Handle),
		observers: observers,
	}
}

// Register inserts or overwrites the entry for userID and returns the
// superseded handle, if any. The superseded handle is not closed.
func (r *Registry) Register(userID int64, h Handle) (Handle, bool) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	prev, had := r.byUser[userID]
	r.byUser[userID] = h
	r.mu.Unlock()

	for _, o := range r.observers {
		o.OnRegister(userID, h)
	}
	return prev, had
}

// Unregister removes the entry for userID if present.
func (r *Registry) Unregister(userID int64) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	h, ok := r.byUser[userID]
	delete(r.byUser, userID)
	r.mu.Unlock()

	if ok {
		r.notifyUnregister(userID, h)
	}
}

// UnregisterHandle removes the entry only while it still points at h.
// It reports false when a newer handle owns the entry or none exists.
func (r *Registry) UnregisterHandle(userID int64, h Handle) bool {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	cur, ok := r.byUser[userID]
	if !ok || cur != h {
		r.mu.Unlock()
		return false
	}
	delete(r.byUser, userID)
	r.mu.Unlock()

	r.notifyUnregister(userID, h)
	return true
}

func (r *Registry) notifyUnregister(userID int64, h Handle) {
	for _, o := range r.observers {
		o.OnUnregister(userID, h)
	}
}

// Lookup returns the current handle for userID.
func (r *Registry) Lookup(userID int64) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byUser[userID]
	return h, ok
}

// Snapshot copies all entries, ordered by user id.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	entries := lo.MapToSlice(r.byUser, func(userID int64, h Handle) Entry {
		return Entry{UserID: userID, Handle: h}
	})
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b Entry) int {
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})
	return entries
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
