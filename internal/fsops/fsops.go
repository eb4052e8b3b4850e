// Package fsops implements the one-shot filesystem operations dispatched
// by the "FS <verb> <args-json>" substream header (spec.md §4.5): list,
// copy, and sync. Each is a single request/response round trip over the
// substream, not a long-lived session.
package fsops

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Entry describes one file or directory for the "list" verb.
type Entry struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Mode    string `json:"mode"`
	ModTime string `json:"mod_time"`
	Dir     bool   `json:"dir"`
}

// listArgs is the JSON body of a "list" verb.
type listArgs struct {
	Path string `json:"path"`
}

// copyArgs is the JSON body of "copy" and "sync" verbs; sync walks Src
// recursively, copying any file whose Dst counterpart is missing or older
// than it.
type copyArgs struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

// result is the single JSON line written back before the substream closes,
// mirroring the exit-code record pattern of spec.md §6.
type result struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error,omitempty"`
	Entries []Entry  `json:"entries,omitempty"`
	Copied  []string `json:"copied,omitempty"`
}

// Run executes verb against argsJSON and writes exactly one JSON result
// line to w. Unknown verbs report ok:false rather than closing silently,
// since the header has already been accepted by the demultiplexer.
func Run(w io.Writer, verb, argsJSON string) error {
	res := dispatch(verb, argsJSON)
	line, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshalling fs result: %w", err)
	}
	_, err = w.Write(append(line, '\n'))
	return err
}

func dispatch(verb, argsJSON string) result {
	switch verb {
	case "list":
		return runList(argsJSON)
	case "copy":
		return runCopy(argsJSON)
	case "sync":
		return runSync(argsJSON)
	default:
		return result{OK: false, Error: "unknown fs verb: " + verb}
	}
}

func runList(argsJSON string) result {
	var a listArgs
	if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
		return result{OK: false, Error: "invalid list args: " + err.Error()}
	}
	infos, err := os.ReadDir(a.Path)
	if err != nil {
		return result{OK: false, Error: err.Error()}
	}
	entries := make([]Entry, 0, len(infos))
	for _, de := range infos {
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Size:    info.Size(),
			Mode:    info.Mode().String(),
			ModTime: info.ModTime().UTC().Format(time.RFC3339),
			Dir:     de.IsDir(),
		})
	}
	return result{OK: true, Entries: entries}
}

func runCopy(argsJSON string) result {
	var a copyArgs
	if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
		return result{OK: false, Error: "invalid copy args: " + err.Error()}
	}
	if err := copyFile(a.Src, a.Dst); err != nil {
		return result{OK: false, Error: err.Error()}
	}
	return result{OK: true, Copied: []string{a.Dst}}
}

func runSync(argsJSON string) result {
	var a copyArgs
	if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
		return result{OK: false, Error: "invalid sync args: " + err.Error()}
	}
	var copied []string
	err := filepath.WalkDir(a.Src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(a.Src, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(a.Dst, rel)
		stale, err := isStale(path, dst)
		if err != nil {
			return err
		}
		if !stale {
			return nil
		}
		if err := copyFile(path, dst); err != nil {
			return err
		}
		copied = append(copied, dst)
		return nil
	})
	if err != nil {
		return result{OK: false, Error: err.Error()}
	}
	return result{OK: true, Copied: copied}
}

// isStale reports whether dst is missing or older than src.
func isStale(src, dst string) (bool, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	dstInfo, err := os.Stat(dst)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return srcInfo.ModTime().After(dstInfo.ModTime()), nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("statting source: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating destination dir: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copying contents: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing destination: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
