// Package control implements the control channel (C2): the long-lived
// outbound connection an agent dials to the server, its handshake, and the
// server-side registry of live agent sessions.
package control

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// MaxHandshakeBytes bounds how much the server will read while looking for
// the handshake line's terminating newline, per spec.md §4.2.
const MaxHandshakeBytes = 4096

// Handshake is the parsed form of the control handshake line:
//
//	M87 agent_id=<ascii-id> token=<base64url>\n
type Handshake struct {
	AgentID string
	Token   string
}

// EncodeHandshake renders the handshake line, byte-exact per spec.md §6.
func EncodeHandshake(h Handshake) string {
	return fmt.Sprintf("M87 agent_id=%s token=%s\n", h.AgentID, h.Token)
}

// bufferedConn lets ReadHandshake peel off exactly one line with a buffered
// reader while leaving the rest of the connection's bytes (which the
// buffered reader may have over-read into its internal buffer) available to
// whatever wraps the connection next, such as the multiplexer's codec.
type bufferedConn struct {
	io.Writer
	io.Closer
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// ReadHandshake reads a single newline-terminated handshake line from rwc,
// bounded to MaxHandshakeBytes, and parses it. Unknown keys are ignored. It
// returns a ReadWriteCloser that continues reading from exactly where the
// handshake line ended, so the caller can hand it straight to the
// multiplexer without losing any pipelined bytes.
func ReadHandshake(rwc io.ReadWriteCloser) (Handshake, io.ReadWriteCloser, error) {
	br := bufio.NewReaderSize(rwc, MaxHandshakeBytes)
	raw, err := br.ReadSlice('\n')
	if err != nil {
		return Handshake{}, nil, fmt.Errorf("reading handshake line: %w", err)
	}
	line := string(raw)
	if len(line) > MaxHandshakeBytes {
		return Handshake{}, nil, fmt.Errorf("handshake line exceeds %d bytes", MaxHandshakeBytes)
	}
	h, err := ParseHandshake(line)
	if err != nil {
		return Handshake{}, nil, err
	}
	return h, &bufferedConn{Writer: rwc, Closer: rwc, r: br}, nil
}

// ParseHandshake parses a handshake line's key=value pairs.
func ParseHandshake(line string) (Handshake, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "M87" {
		return Handshake{}, fmt.Errorf("not a M87 handshake line")
	}

	var h Handshake
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch k {
		case "agent_id":
			h.AgentID = v
		case "token":
			h.Token = v
		default:
			// unknown keys are ignored, per spec.md §6.
		}
	}
	if h.AgentID == "" || h.Token == "" {
		return Handshake{}, fmt.Errorf("handshake missing agent_id or token")
	}
	return h, nil
}
