package fsops

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestRunList(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	args, _ := json.Marshal(listArgs{Path: dir})
	if err := Run(&buf, "list", string(args)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var got result
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshalling result: %v", err)
	}
	if !got.OK {
		t.Fatalf("expected ok, got error %q", got.Error)
	}
	if len(got.Entries) != 1 || got.Entries[0].Name != "a.txt" {
		t.Fatalf("unexpected entries: %+v", got.Entries)
	}
}

func TestRunCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "nested", "dst.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	args, _ := json.Marshal(copyArgs{Src: src, Dst: dst})
	if err := Run(&buf, "copy", string(args)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var got result
	json.Unmarshal(buf.Bytes(), &got)
	if !got.OK {
		t.Fatalf("expected ok, got error %q", got.Error)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "payload" {
		t.Fatalf("copy did not land contents: %v %q", err, data)
	}
}

func TestRunSyncSkipsFresh(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "f.txt"), []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	args, _ := json.Marshal(copyArgs{Src: srcDir, Dst: dstDir})
	if err := Run(&buf, "sync", string(args)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var first result
	json.Unmarshal(buf.Bytes(), &first)
	if !first.OK || len(first.Copied) != 1 {
		t.Fatalf("expected one file copied, got %+v", first)
	}

	buf.Reset()
	if err := Run(&buf, "sync", string(args)); err != nil {
		t.Fatalf("Run (second): %v", err)
	}
	var second result
	json.Unmarshal(buf.Bytes(), &second)
	if !second.OK || len(second.Copied) != 0 {
		t.Fatalf("expected no-op resync, got %+v", second)
	}
}

func TestRunUnknownVerb(t *testing.T) {
	var buf bytes.Buffer
	if err := Run(&buf, "delete", "{}"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var got result
	json.Unmarshal(buf.Bytes(), &got)
	if got.OK {
		t.Fatalf("expected unknown verb to report !ok")
	}
}
