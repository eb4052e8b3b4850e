// Package regdata models the records the external registry (device
// registration, approval, and persistence — out of scope per spec.md §1)
// hands to the tunneling core. The core only ever reads these shapes; it
// never serves the REST endpoints that create or mutate them.
package regdata

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// AuthRequestTTL is how long an unapproved auth request lives before the
// external registry auto-deletes it.
const AuthRequestTTL = 48 * time.Hour

// Agent is the persisted record for one enrolled device.
type Agent struct {
	AgentID       string
	OwnerScope    string
	AllowedScopes map[string]struct{}
}

// ShortID returns the first 6 hex characters of SHA-256(agent_id), the
// canonical DNS label used in forward SNI names (spec.md §9).
func ShortID(agentID string) string {
	sum := sha256.Sum256([]byte(agentID))
	return hex.EncodeToString(sum[:])[:6]
}

// CanAct reports whether scope is permitted to act on this agent. The
// agent's own self-scope ("agent:<agent_id>") is always implicitly a member.
func (a *Agent) CanAct(scope string) bool {
	if scope == SelfScope(a.AgentID) {
		return true
	}
	_, ok := a.AllowedScopes[scope]
	return ok
}

// SelfScope returns the agent's own scope string.
func SelfScope(agentID string) string {
	return "agent:" + agentID
}

// AuthRequest is an unenrolled agent's pending registration, created before
// an Agent record exists.
type AuthRequest struct {
	RequestID  string
	AgentID    string
	Hostname   string
	OwnerScope string
	Approved   bool
	CreatedAt  time.Time
}

// NewAuthRequest creates a pending auth request with a fresh UUIDv4 id.
func NewAuthRequest(agentID, hostname, ownerScope string) *AuthRequest {
	return &AuthRequest{
		RequestID:  uuid.NewString(),
		AgentID:    agentID,
		Hostname:   hostname,
		OwnerScope: ownerScope,
		CreatedAt:  time.Now(),
	}
}

// Expired reports whether the request has outlived AuthRequestTTL without
// being approved; the registry deletes such requests.
func (r *AuthRequest) Expired(now time.Time) bool {
	return !r.Approved && now.Sub(r.CreatedAt) > AuthRequestTTL
}
