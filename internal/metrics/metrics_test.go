package metrics

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func Test_collector_seq_increments(t *testing.T) {
	c := NewCollector()
	a := c.Next()
	b := c.Next()
	if b.Seq != a.Seq+1 {
		t.Errorf("got seq %d then %d, want increment of 1", a.Seq, b.Seq)
	}
}

func Test_collector_uptime_increases(t *testing.T) {
	c := NewCollector()
	a := c.Next()
	time.Sleep(10 * time.Millisecond)
	b := c.Next()
	if b.UptimeSecs <= a.UptimeSecs {
		t.Errorf("expected uptime to increase: %v -> %v", a.UptimeSecs, b.UptimeSecs)
	}
}

func Test_marshal_line_is_newline_terminated_json(t *testing.T) {
	line, err := MarshalLine(Sample{Seq: 1})
	if err != nil {
		t.Fatalf("MarshalLine: %v", err)
	}
	if !strings.HasSuffix(string(line), "\n") {
		t.Fatalf("expected trailing newline, got %q", line)
	}
	var decoded Sample
	if err := json.Unmarshal(line[:len(line)-1], &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Seq != 1 {
		t.Errorf("got seq %d, want 1", decoded.Seq)
	}
}
