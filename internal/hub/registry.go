package hub

import "sync"

// registry is the set of authenticated, open connections. All registration,
// deregistration and iteration goes through it.
type registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*Connection)}
}

func (r *registry) add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.id] = c
}

// remove reports whether c was registered
func (r *registry) remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.id]; !ok {
		return false
	}
	delete(r.conns, c.id)
	return true
}

func (r *registry) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *registry) byUser(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Connection
	for _, c := range r.conns {
		if c.identity.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

func (r *registry) hasUser(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		if c.identity.UserID == userID {
			return true
		}
	}
	return false
}

func (r *registry) users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, c := range r.conns {
		if !seen[c.identity.UserID] {
			seen[c.identity.UserID] = true
			out = append(out, c.identity.UserID)
		}
	}
	return out
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
