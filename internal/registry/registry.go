// Package registry tracks which delivery channels belong to which
// connected user. Connection lifecycle goroutines write it; broadcast
// fan-out reads it. Lock hold time is map mutation only.
package registry

import "sync"

// Channel is one client connection's outbound handle. The registry
// treats it as an opaque comparable value; the broadcaster calls
// Enqueue, and a false return means the channel is dead.
type Channel interface {
	// Enqueue appends a named event to the channel's outbound queue.
	// Must not block; returns false once the channel is closed.
	Enqueue(event string, payload []byte) bool
}

// Registry is the shared user → channels map. A user may hold several
// channels (multiple tabs, devices); a channel belongs to exactly one
// user. Empty per-user sets are garbage-collected lazily on access.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[Channel]struct{}
	userOf map[Channel]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byUser: make(map[string]map[Channel]struct{}),
		userOf: make(map[Channel]string),
	}
}

// Join binds a channel to a user. Joining the same channel twice is a
// no-op; a channel cannot be rebound to a different user without a
// Leave in between.
func (r *Registry) Join(userID string, ch Channel) {
	if userID == "" || ch == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.userOf[ch]; ok && prev != userID {
		r.removeLocked(prev, ch)
	}
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[Channel]struct{})
		r.byUser[userID] = set
	}
	set[ch] = struct{}{}
	r.userOf[ch] = userID
}

// Leave removes a channel. Unknown channels are a no-op, so Leave is
// safe to call from both the connection's own teardown and the
// broadcaster's failed-send path.
func (r *Registry) Leave(ch Channel) {
	if ch == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.userOf[ch]
	if !ok {
		return
	}
	r.removeLocked(userID, ch)
}

func (r *Registry) removeLocked(userID string, ch Channel) {
	delete(r.userOf, ch)
	set := r.byUser[userID]
	delete(set, ch)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
}

// ChannelsFor returns the user's current channels. The slice is a
// snapshot; delivery after a concurrent Leave is the channel's problem
// to reject.
func (r *Registry) ChannelsFor(userID string) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Channel, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	return out
}

// All returns every connected channel.
func (r *Registry) All() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Channel, 0, len(r.userOf))
	for ch := range r.userOf {
		out = append(out, ch)
	}
	return out
}

// Connected reports the number of distinct users with at least one
// channel.
func (r *Registry) Connected() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
