// Package ptyexec implements the PTY/exec session (C6): shell selection,
// interactive terminal sessions, and piped or PTY-backed one-shot exec,
// each speaking the substream framing defined in spec.md §4.6.
package ptyexec

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// defaultTerm is used when the client does not propagate $TERM.
const defaultTerm = "xterm-256color"

// ptyReadinessTimeout bounds how long interactive mode waits for the
// shell's first byte before giving up (spec.md §5).
const ptyReadinessTimeout = 2 * time.Second

// graceBeforeKill is how long a PTY session waits, after dropping the PTY
// master, for the child to exit on its own before SIGKILL. Piped sessions
// do not use it.
const graceBeforeKill = 500 * time.Millisecond

// Stream is the minimal substream surface a session needs.
type Stream interface {
	io.Reader
	io.Writer
}

// Terminal runs an interactive PTY-backed shell session on stream. termName
// overrides $TERM when non-empty.
func Terminal(stream Stream, termName string, logger *slog.Logger) error {
	shell := selectShell()
	return runPTY(stream, shell, interactiveArgs(shell), termName, true, nil, logger)
}

// ExecPTY runs command under a shell, in a PTY, emitting an exit-code
// record on completion (spec.md §4.6 "Exec PTY"). rows/cols, when both
// non-zero, size the PTY directly from the EXEC config instead of reading
// an inline size frame off the substream.
func ExecPTY(stream Stream, command, termName string, rows, cols uint16, logger *slog.Logger) error {
	shell := selectShell()
	var preset *winsize
	if rows != 0 && cols != 0 {
		preset = &winsize{Rows: rows, Cols: cols}
	}
	return runPTY(stream, shell, execArgs(shell, command), termName, false, preset, logger)
}

// ExecPiped runs command under a shell with plain piped stdio (no PTY);
// setsid() is applied before exec so programs opening /dev/tty fall back
// to stderr (spec.md §4.6 "Exec piped").
func ExecPiped(stream Stream, command string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	shell := selectShell()
	cmd := exec.Command(shell, execArgs(shell, command)...)
	cmd.Env = append(os.Environ(), "PATH="+augmentedPath())
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		logger.Warn("exec piped: stdin pipe setup failed", "err", err)
		return writeChildFailed(stream, err)
	}
	cmd.Stdout = stream
	cmd.Stderr = stream

	if err := cmd.Start(); err != nil {
		logger.Warn("exec piped: spawn failed", "command", command, "err", err)
		return writeChildFailed(stream, err)
	}

	go func() {
		io.Copy(stdin, stream)
		stdin.Close()
	}()

	err = cmd.Wait()
	code := exitCodeOf(err)
	logger.Debug("exec piped completed", "command", command, "exit_code", code)
	return writeExitCode(stream, code)
}

func runPTY(stream Stream, shellPath string, args []string, termName string, requireReadiness bool, preset *winsize, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if termName == "" {
		termName = defaultTerm
	}

	cmd := exec.Command(shellPath, args...)
	cmd.Env = append(os.Environ(), "PATH="+augmentedPath(), "TERM="+termName)

	var size winsize
	var initial []byte
	if preset != nil {
		size = *preset
	} else {
		size, initial = readInitialSize(stream)
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
	if err != nil {
		logger.Warn("pty session: spawn failed", "shell", shellPath, "err", err)
		return writeChildFailed(stream, err)
	}

	var preread []byte
	if requireReadiness {
		preread, err = waitForReadiness(ptmx)
		if err != nil {
			logger.Warn("pty session: shell did not become ready", "shell", shellPath, "err", err)
			ptmx.Close()
			cmd.Wait()
			return writeChildFailed(stream, err)
		}
	}

	readerDone := make(chan struct{})
	scanner := newResizeScanner(
		func(b []byte) { ptmx.Write(b) },
		func(ws winsize) { pty.Setsize(ptmx, &pty.Winsize{Rows: ws.Rows, Cols: ws.Cols}) },
	)
	if len(initial) > 0 {
		scanner.Feed(initial)
	}

	go func() {
		defer close(readerDone)
		buf := make([]byte, 4096)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				scanner.Feed(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		if len(preread) > 0 {
			stream.Write(preread)
		}
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				stream.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-outputDone:
		// PTY master hit EOF (child exited or closed its end); drop the
		// master, which delivers SIGHUP if the child is somehow still
		// alive, then wait briefly before escalating to SIGKILL.
		ptmx.Close()
		select {
		case waitErr = <-waitCh:
		case <-time.After(graceBeforeKill):
			cmd.Process.Kill()
			waitErr = <-waitCh
		}
	}

	ptmx.Close()
	<-outputDone
	<-readerDone

	code := exitCodeOf(waitErr)
	logger.Debug("pty session completed", "shell", shellPath, "exit_code", code)
	return writeExitCode(stream, code)
}

// waitForReadiness blocks until the shell writes its first byte to the PTY
// master or ptyReadinessTimeout elapses (spec.md §5). Bytes read during the
// wait are returned so the caller can still forward them.
func waitForReadiness(ptmx *os.File) ([]byte, error) {
	if err := ptmx.SetReadDeadline(time.Now().Add(ptyReadinessTimeout)); err != nil {
		// deadlines unsupported on this platform/fd type; skip the check.
		return nil, nil
	}
	defer ptmx.SetReadDeadline(time.Time{})

	buf := make([]byte, 4096)
	n, err := ptmx.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("waiting for shell readiness: %w", err)
	}
	return buf[:n], nil
}

func readInitialSize(stream Stream) (winsize, []byte) {
	head := make([]byte, resizeFrameLen)
	n, _ := io.ReadFull(stream, head)
	if n == resizeFrameLen && head[0] == resizeMarker {
		rows := uint16(head[1])<<8 | uint16(head[2])
		cols := uint16(head[3])<<8 | uint16(head[4])
		return winsize{Rows: rows, Cols: cols}, nil
	}
	return winsize{Rows: 24, Cols: 80}, head[:n]
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func writeExitCode(w io.Writer, code int) error {
	line, err := json.Marshal(struct {
		ExitCode int `json:"exit_code"`
	}{code})
	if err != nil {
		return err
	}
	_, err = w.Write(append(line, '\n'))
	return err
}

// writeChildFailed implements spec.md §7's ChildFailed kind: a single
// plaintext error line, no exit-code JSON.
func writeChildFailed(w io.Writer, err error) error {
	_, werr := fmt.Fprintf(w, "error: %v\n", err)
	if werr != nil {
		return werr
	}
	return err
}
