package control

import (
	"sync"

	"github.com/make87/m87-tunnel/internal/mux"
)

// Registry maps agent_id to its currently live multiplexer session. At most
// one session is registered per agent; registering a new one evicts the old
// (spec.md §3, §4.2).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*mux.Session

	// OnRegister, if set, is called after a session is installed (evicting
	// any prior one) for agentID. It is the registry's only hook for
	// observers such as the admin API's event stream; nil is a no-op.
	OnRegister func(agentID string)
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*mux.Session)}
}

// Register installs session as the live session for agentID, closing and
// evicting whatever session (if any) was previously registered for it.
func (r *Registry) Register(agentID string, session *mux.Session) {
	r.mu.Lock()
	old := r.sessions[agentID]
	r.sessions[agentID] = session
	r.mu.Unlock()

	if old != nil && old != session {
		old.Close()
	}

	if r.OnRegister != nil {
		r.OnRegister(agentID)
	}

	// protect against the eviction race: if this session dies, remove its
	// own entry only if it is still the one pointing at it.
	go func() {
		<-session.Done()
		r.removeIfCurrent(agentID, session)
	}()
}

func (r *Registry) removeIfCurrent(agentID string, session *mux.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[agentID] == session {
		delete(r.sessions, agentID)
	}
}

// Get returns the live session for agentID, if any.
func (r *Registry) Get(agentID string) (*mux.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[agentID]
	return s, ok
}

// Size returns the number of registered sessions.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
