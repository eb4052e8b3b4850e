package ptyexec

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
)

type loopStream struct {
	in  *strings.Reader
	out *bytes.Buffer
}

func (s *loopStream) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *loopStream) Write(p []byte) (int, error) { return s.out.Write(p) }

func Test_exec_piped_reports_exit_code(t *testing.T) {
	if !executable("/bin/sh") {
		t.Skip("/bin/sh not present on this machine")
	}
	stream := &loopStream{in: strings.NewReader(""), out: &bytes.Buffer{}}

	if err := ExecPiped(stream, "exit 7", nil); err != nil {
		t.Fatalf("ExecPiped: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(stream.out.String()), "\n")
	last := lines[len(lines)-1]
	var result struct {
		ExitCode int `json:"exit_code"`
	}
	if err := json.Unmarshal([]byte(last), &result); err != nil {
		t.Fatalf("unmarshal %q: %v", last, err)
	}
	if result.ExitCode != 7 {
		t.Errorf("got exit_code %d, want 7", result.ExitCode)
	}
}

func Test_exec_piped_forwards_stdout(t *testing.T) {
	if !executable("/bin/sh") {
		t.Skip("/bin/sh not present on this machine")
	}
	stream := &loopStream{in: strings.NewReader(""), out: &bytes.Buffer{}}

	if err := ExecPiped(stream, "echo hello", nil); err != nil {
		t.Fatalf("ExecPiped: %v", err)
	}
	if !strings.Contains(stream.out.String(), "hello") {
		t.Errorf("expected output to contain 'hello', got %q", stream.out.String())
	}
}

func Test_exec_piped_spawn_failure_emits_plaintext_no_json(t *testing.T) {
	stream := &loopStream{in: strings.NewReader(""), out: &bytes.Buffer{}}

	// selectShell always returns something executable, so force a failure
	// via a command string that the shell itself will reject at spawn-ish
	// time is hard to simulate without a real missing shell; instead
	// exercise writeChildFailed directly for the no-exit-code-JSON contract.
	err := writeChildFailed(stream, io.ErrClosedPipe)
	if err == nil {
		t.Fatal("expected writeChildFailed to propagate the original error")
	}
	if strings.Contains(stream.out.String(), "exit_code") {
		t.Error("ChildFailed path must never emit an exit-code record")
	}
}
