// Package logtail implements the LOGS topic's producer (C7): it tails the
// agent's own log file and republishes each appended line to the shared
// hub, the way original_source's src/logs/mod.rs follow mode describes
// (poll for growth, emit new lines), minus the CLI's own unimplemented
// placeholder.
package logtail

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// pollInterval is how often the tailer checks the log file for new bytes.
const pollInterval = 500 * time.Millisecond

// DefaultPath returns the agent log file path under the user's config
// directory, matching original_source's get_log_file_path (config_dir()
// + "m87/logs/agent.log").
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config dir: %w", err)
	}
	return filepath.Join(dir, "m87", "logs", "agent.log"), nil
}

// Producer returns a hub.Producer that tails path from its current end of
// file, publishing each complete line it sees until stop fires. A missing
// file is treated as "no lines yet", not an error; the tailer keeps
// checking in case the file is created later (matching the agent starting
// before its own log file exists).
func Producer(path string) func(publish func([]byte), stop <-chan struct{}) {
	return func(publish func([]byte), stop <-chan struct{}) {
		var (
			f       *os.File
			reader  *bufio.Reader
			partial string
		)
		defer func() {
			if f != nil {
				f.Close()
			}
		}()

		open := func() {
			opened, err := os.Open(path)
			if err != nil {
				return
			}
			f = opened
			f.Seek(0, os.SEEK_END)
			reader = bufio.NewReader(f)
		}
		open()

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if f == nil {
					if open(); f == nil {
						continue
					}
				}
				for {
					line, err := reader.ReadString('\n')
					partial += line
					if err != nil {
						break
					}
					publish([]byte(partial))
					partial = ""
				}
			}
		}
	}
}
