// Package forward implements the forward registry and proxy (C4): the
// server-side mapping from an SNI hostname to an agent/port pair, and the
// bidirectional byte-copy proxy that rides a multiplexer substream once a
// forward connection is accepted.
package forward

import (
	"net"
	"sync"
)

// Mapping is a single registered forward target.
type Mapping struct {
	AgentID    string
	TargetPort uint16
	// AllowedIPs restricts which source IPs may use this forward. A nil
	// map means unrestricted (spec.md §4.4).
	AllowedIPs map[string]struct{}
}

func (m Mapping) permits(ip net.IP) bool {
	if m.AllowedIPs == nil {
		return true
	}
	_, ok := m.AllowedIPs[ip.String()]
	return ok
}

// Registry holds the in-memory sni_host -> Mapping table. Reads dominate
// writes (spec.md §7), hence the RWMutex.
type Registry struct {
	mu       sync.RWMutex
	mappings map[string]Mapping
}

// NewRegistry creates an empty forward registry.
func NewRegistry() *Registry {
	return &Registry{mappings: make(map[string]Mapping)}
}

// Upsert idempotently installs or replaces the mapping for sniHost.
func (r *Registry) Upsert(sniHost string, m Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[sniHost] = m
}

// Remove deletes any mapping for sniHost.
func (r *Registry) Remove(sniHost string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mappings, sniHost)
}

// Lookup returns the mapping for sniHost, if any.
func (r *Registry) Lookup(sniHost string) (Mapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[sniHost]
	return m, ok
}

// Size reports the number of registered mappings.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mappings)
}
