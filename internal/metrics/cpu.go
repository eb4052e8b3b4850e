package metrics

import (
	"syscall"
	"time"
)

// cpuSampler estimates process CPU utilization as a percentage of one
// core, by diffing getrusage user+system time against wall-clock time
// between successive samples.
type cpuSampler struct {
	lastWall time.Time
	lastCPU  time.Duration
}

func (c *cpuSampler) sample() float64 {
	now := time.Now()
	cpu := processCPUTime()

	if c.lastWall.IsZero() {
		c.lastWall, c.lastCPU = now, cpu
		return 0
	}

	wallDelta := now.Sub(c.lastWall)
	cpuDelta := cpu - c.lastCPU
	c.lastWall, c.lastCPU = now, cpu

	if wallDelta <= 0 {
		return 0
	}
	return 100 * cpuDelta.Seconds() / wallDelta.Seconds()
}

func processCPUTime() time.Duration {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	user := time.Duration(ru.Utime.Sec)*time.Second + time.Duration(ru.Utime.Usec)*time.Microsecond
	sys := time.Duration(ru.Stime.Sec)*time.Second + time.Duration(ru.Stime.Usec)*time.Microsecond
	return user + sys
}
