package control

import (
	"bytes"
	"io"
	"net"
	"strings"
	"testing"
)

func Test_encode_parse_round_trip(t *testing.T) {
	h := Handshake{AgentID: "aaa", Token: "deadbeef"}
	line := EncodeHandshake(h)
	if !strings.HasPrefix(line, "M87 ") || !strings.HasSuffix(line, "\n") {
		t.Fatalf("unexpected handshake line shape: %q", line)
	}

	parsed, err := ParseHandshake(line)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed != h {
		t.Errorf("got %+v, want %+v", parsed, h)
	}
}

func Test_parse_ignores_unknown_keys(t *testing.T) {
	line := "M87 agent_id=aaa token=tok extra=ignored-me\n"
	parsed, err := ParseHandshake(line)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.AgentID != "aaa" || parsed.Token != "tok" {
		t.Errorf("got %+v", parsed)
	}
}

func Test_parse_rejects_missing_fields(t *testing.T) {
	if _, err := ParseHandshake("M87 agent_id=aaa\n"); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := ParseHandshake("not a handshake\n"); err == nil {
		t.Fatal("expected error for non-M87 line")
	}
}

type fakeConn struct {
	io.Reader
	io.Writer
	closed bool
}

func (f *fakeConn) Close() error { f.closed = true; return nil }

func Test_read_handshake_preserves_pipelined_bytes(t *testing.T) {
	line := "M87 agent_id=aaa token=tok\n"
	trailing := []byte{0x09, 0, 0, 0, 1, 0, 0, 0, 0} // a 9-byte frame header: type 0x09, stream 1, empty payload
	buf := bytes.NewBuffer(append([]byte(line), trailing...))

	conn := &fakeConn{Reader: buf, Writer: &bytes.Buffer{}}
	hs, rest, err := ReadHandshake(conn)
	if err != nil {
		t.Fatalf("read handshake failed: %v", err)
	}
	if hs.AgentID != "aaa" || hs.Token != "tok" {
		t.Fatalf("got %+v", hs)
	}

	got := make([]byte, len(trailing))
	if _, err := io.ReadFull(rest, got); err != nil {
		t.Fatalf("reading trailing bytes failed: %v", err)
	}
	if !bytes.Equal(got, trailing) {
		t.Errorf("got %v, want %v", got, trailing)
	}
}

func Test_read_handshake_over_pipe(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		io.WriteString(clientConn, "M87 agent_id=bbb token=xyz\n")
	}()

	hs, _, err := ReadHandshake(serverConn)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if hs.AgentID != "bbb" || hs.Token != "xyz" {
		t.Errorf("got %+v", hs)
	}
}
