package token

import (
	"testing"
	"time"
)

func Test_issue_then_verify_succeeds(t *testing.T) {
	secret := []byte("shared-secret")
	tok := Issue("agent-aaa", 30*time.Second, secret)

	agentID, err := Verify(tok, secret)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if agentID != "agent-aaa" {
		t.Errorf("got %q, want agent-aaa", agentID)
	}
}

func Test_verify_rejects_wrong_secret(t *testing.T) {
	tok := Issue("agent-aaa", 30*time.Second, []byte("secret-a"))
	if _, err := Verify(tok, []byte("secret-b")); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func Test_verify_rejects_expired_token(t *testing.T) {
	secret := []byte("shared-secret")
	tok := issueAt("agent-aaa", time.Now().Add(-1*time.Second).Unix(), secret)
	if _, err := Verify(tok, secret); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func Test_verify_rejects_malformed_token(t *testing.T) {
	if _, err := Verify("not-valid-base64!!", []byte("secret")); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func Test_verify_rejects_tampered_payload(t *testing.T) {
	secret := []byte("shared-secret")
	tok := Issue("agent-aaa", 30*time.Second, secret)
	tampered := tok + "x"
	if _, err := Verify(tampered, secret); err == nil {
		t.Fatal("expected error for tampered token")
	}
}

func Test_short_ttl_expires_quickly(t *testing.T) {
	secret := []byte("shared-secret")
	tok := Issue("agent-aaa", 1*time.Second, secret)
	if _, err := Verify(tok, secret); err != nil {
		t.Fatalf("expected fresh token to verify: %v", err)
	}

	time.Sleep(2 * time.Second)
	if _, err := Verify(tok, secret); err == nil {
		t.Fatal("expected token to be expired after TTL elapsed")
	}
}
