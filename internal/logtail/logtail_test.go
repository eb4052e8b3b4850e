package logtail

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProducerPublishesAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	msgs := make(chan []byte, 8)
	stop := make(chan struct{})
	go Producer(path)(func(b []byte) { msgs <- append([]byte(nil), b...) }, stop)
	defer close(stop)

	// let the tailer open the file and seek to its end before appending.
	time.Sleep(100 * time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("hello\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	select {
	case got := <-msgs:
		if string(got) != "hello\n" {
			t.Fatalf("got %q, want %q", got, "hello\n")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for tailed line")
	}
}

func TestDefaultPath(t *testing.T) {
	p, err := DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath: %v", err)
	}
	if filepath.Base(p) != "agent.log" {
		t.Fatalf("unexpected path: %s", p)
	}
}
