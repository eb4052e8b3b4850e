package regdata

import (
	"testing"
	"time"
)

func Test_short_id_is_six_hex_chars_of_sha256(t *testing.T) {
	id := ShortID("aaa")
	if len(id) != 6 {
		t.Fatalf("expected 6 chars, got %d (%q)", len(id), id)
	}
	// sha256("aaa") = 9834876dcfb05cb167a5c24953eba58c4ac89b1adf57f28f2f9d09af107ee8f0
	if id != "983487" {
		t.Errorf("got %q, want 983487 (sha256 prefix of agent_id=aaa)", id)
	}
}

func Test_agent_self_scope_always_allowed(t *testing.T) {
	a := &Agent{AgentID: "aaa", AllowedScopes: map[string]struct{}{}}
	if !a.CanAct(SelfScope("aaa")) {
		t.Error("agent's own scope must always be able to act on itself")
	}
	if a.CanAct("user:someone-else") {
		t.Error("unrelated scope should not be able to act on the agent")
	}
}

func Test_auth_request_expires_after_ttl(t *testing.T) {
	req := NewAuthRequest("aaa", "host", "user:bob")
	req.CreatedAt = time.Now().Add(-AuthRequestTTL - time.Minute)
	if !req.Expired(time.Now()) {
		t.Error("expected request older than TTL to be expired")
	}
}

func Test_approved_auth_request_never_expires(t *testing.T) {
	req := NewAuthRequest("aaa", "host", "user:bob")
	req.Approved = true
	req.CreatedAt = time.Now().Add(-AuthRequestTTL - time.Minute)
	if req.Expired(time.Now()) {
		t.Error("approved requests are materialized into an Agent record, not auto-deleted")
	}
}
