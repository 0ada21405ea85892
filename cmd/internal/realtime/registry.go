package realtime

import (
	"sort"
	"strings"
	"sync"
)

// Registry is the authoritative reachability table: identity id -> live session.
//
// Concurrency guarantees:
// - One RWMutex guards both maps; no I/O and no channel sends happen while it is held.
// - An identity maps to at most one handle, and a handle to at most one identity.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Client
	byHandle map[*Client]string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*Client),
		byHandle: make(map[*Client]string),
	}
}

// Register binds identityID to c. When identityID was already bound to another
// handle, that handle is unbound first and returned so the caller can notify it.
// Registering the same (identityID, c) pair twice is a no-op.
func (r *Registry) Register(identityID string, c *Client) (*Client, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" || c == nil {
		return nil, ErrInvalidIdentity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byHandle[c]; ok && owner != identityID {
		return nil, ErrHandleInUse
	}

	old := r.byID[identityID]
	if old == c {
		return nil, nil
	}
	if old != nil {
		delete(r.byHandle, old)
	}

	r.byID[identityID] = c
	r.byHandle[c] = identityID
	return old, nil
}

// Unregister removes the binding only when c is still the handle on record.
// It reports whether a binding was removed.
func (r *Registry) Unregister(identityID string, c *Client) bool {
	if identityID == "" || c == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byID[identityID] != c {
		return false
	}
	delete(r.byID, identityID)
	delete(r.byHandle, c)
	return true
}

// Lookup returns the live handle for identityID, if any.
func (r *Registry) Lookup(identityID string) (*Client, bool) {
	r.mu.RLock()
	c, ok := r.byID[identityID]
	r.mu.RUnlock()
	return c, ok
}

// Snapshot returns every registered identity id, sorted.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Peers copies every handle except the one bound to exceptID, for fan-out outside the lock.
func (r *Registry) Peers(exceptID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.byID))
	for id, c := range r.byID {
		if id == exceptID {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
