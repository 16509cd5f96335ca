package conn

import "sync"

// Registry is the session-to-username association map shared by login and
// logout across all connection goroutines.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]*Connection)}
}

// Register binds a username to a connection, replacing any previous binding
// for the same username.
func (r *Registry) Register(username string, c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[username] = c
}

// Unregister removes the binding for username if it points at c. A stale
// unregister from an already-replaced connection is a no-op.
func (r *Registry) Unregister(username string, c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byUser[username]; ok && cur == c {
		delete(r.byUser, username)
	}
}

// Lookup returns the connection currently bound to username.
func (r *Registry) Lookup(username string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[username]
	return c, ok
}

// Count returns the number of active session bindings.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
