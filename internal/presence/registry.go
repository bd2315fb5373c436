package presence

import "sync"

// JoinResult reports the outcome of Registry.Join.
type JoinResult struct {
	AlreadyPresent bool
}

type entry struct {
	id     string
	user   User
	handle string
}

// Registry keeps at most one live session per user id, in the order users
// joined. Entries live only as long as the process.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	index   map[string]int
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Join inserts userID bound to the transport handle unless it is already present.
func (r *Registry) Join(userID, handle string, user User) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[userID]; ok {
		return JoinResult{AlreadyPresent: true}
	}
	r.index[userID] = len(r.entries)
	r.entries = append(r.entries, entry{id: userID, user: user, handle: handle})
	return JoinResult{}
}

// LeaveByTransport removes the entry carried by handle and returns its user id.
// Unknown handles report false; leaving twice is harmless.
func (r *Registry) LeaveByTransport(handle string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.handle != handle {
			continue
		}
		userID := e.id
		r.entries = append(r.entries[:i], r.entries[i+1:]...)
		delete(r.index, userID)
		for j := i; j < len(r.entries); j++ {
			r.index[r.entries[j].id] = j
		}
		return userID, true
	}
	return "", false
}

func (r *Registry) Has(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[userID]
	return ok
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot copies the present users, oldest connection first.
func (r *Registry) Snapshot() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]User, len(r.entries))
	for i, e := range r.entries {
		users[i] = e.user
	}
	return users
}
