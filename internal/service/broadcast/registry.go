package broadcast

import "sync"

// Registry maps live session ids to their Hub, so the HTTP layer can look up the
// right fan-out target for an incoming listener websocket upgrade without coupling
// to the gRPC/session-supervisor wiring directly.
type Registry struct {
	mu   sync.RWMutex
	hubs map[string]*Hub
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{hubs: make(map[string]*Hub)}
}

// Put registers a session's Hub, replacing any prior entry for the same id.
func (r *Registry) Put(sessionID string, h *Hub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hubs[sessionID] = h
}

// Get returns the Hub for a session, if one is live.
func (r *Registry) Get(sessionID string) (*Hub, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hubs[sessionID]
	return h, ok
}

// Remove deregisters a session's Hub once its session ends.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hubs, sessionID)
}
