// Package metrics defines the wire payload the METRICS topic (C7) actually
// broadcasts, per SPEC_FULL's supplement drawn from m87-shared's
// metrics.rs/heartbeat.rs: a small JSON sample with CPU/mem/uptime and a
// monotonic sequence number, not an opaque byte stream.
package metrics

import (
	"encoding/json"
	"runtime"
	"time"
)

// Sample is one METRICS broadcast payload.
type Sample struct {
	Seq         uint64  `json:"seq"`
	UptimeSecs  float64 `json:"uptime_secs"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemRSSBytes uint64  `json:"mem_rss_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// Collector produces successive Samples with an increasing Seq and an
// UptimeSecs measured from startedAt.
type Collector struct {
	startedAt time.Time
	seq       uint64
	cpu       cpuSampler
}

// NewCollector creates a collector whose uptime clock starts now.
func NewCollector() *Collector {
	return &Collector{startedAt: time.Now()}
}

// Next produces the next sample.
func (c *Collector) Next() Sample {
	c.seq++
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return Sample{
		Seq:         c.seq,
		UptimeSecs:  time.Since(c.startedAt).Seconds(),
		CPUPercent:  c.cpu.sample(),
		MemRSSBytes: mem.Sys,
		Goroutines:  runtime.NumGoroutine(),
	}
}

// MarshalLine encodes s as a newline-terminated JSON line, the shape the
// hub publishes to METRICS subscribers.
func MarshalLine(s Sample) ([]byte, error) {
	line, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}
