// Package token implements tunnel tokens (C8): short-lived HMAC-signed
// credentials that authorize a specific agent to open its control tunnel.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// encoding is base64url without padding, matching the wire format in
// spec.md §6.
var encoding = base64.RawURLEncoding

// Issue creates a tunnel token authorizing agentID to open its control
// tunnel for ttl from now.
func Issue(agentID string, ttl time.Duration, secret []byte) string {
	expiry := time.Now().Add(ttl).Unix()
	return issueAt(agentID, expiry, secret)
}

func issueAt(agentID string, expiry int64, secret []byte) string {
	expiryStr := strconv.FormatInt(expiry, 10)
	mac := computeHMAC(agentID, expiryStr, secret)
	raw := agentID + "|" + expiryStr + "|" + mac
	return encoding.EncodeToString([]byte(raw))
}

// Verify decodes and validates a tunnel token, returning the agent id it
// authorizes iff the token is well-formed, unexpired, and correctly signed.
// All failure modes collapse into one opaque error, by design: callers must
// not distinguish "bad signature" from "expired" from "malformed" when
// deciding how to respond (spec.md §4.2, §7: AuthFailed closes silently).
func Verify(raw string, secret []byte) (string, error) {
	decoded, err := encoding.DecodeString(raw)
	if err != nil {
		return "", errInvalid
	}

	parts := strings.SplitN(string(decoded), "|", 3)
	if len(parts) != 3 {
		return "", errInvalid
	}
	agentID, expiryStr, mac := parts[0], parts[1], parts[2]
	if agentID == "" {
		return "", errInvalid
	}

	expiry, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil {
		return "", errInvalid
	}
	if time.Now().Unix() >= expiry {
		return "", errInvalid
	}

	expected := computeHMAC(agentID, expiryStr, secret)
	if !hmac.Equal([]byte(mac), []byte(expected)) {
		return "", errInvalid
	}
	return agentID, nil
}

var errInvalid = fmt.Errorf("tunnel token invalid or expired")

func computeHMAC(agentID, expiryStr string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(agentID))
	h.Write([]byte("|"))
	h.Write([]byte(expiryStr))
	return hex.EncodeToString(h.Sum(nil))
}
