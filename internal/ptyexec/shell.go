package ptyexec

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// probeShells is tried, in order, once $SHELL and the password-database
// shell are unavailable (spec.md §4.6).
var probeShells = []string{
	"/bin/bash", "/usr/bin/bash",
	"/bin/zsh", "/usr/bin/zsh",
	"/usr/bin/fish",
	"/bin/ash",
	"/bin/sh",
}

const fallbackShell = "/bin/sh"

// pathAugment is merged into (never replaces) the inherited PATH.
var pathAugment = []string{"/usr/local/sbin", "/usr/local/bin", "/usr/sbin", "/usr/bin", "/sbin", "/bin"}

// loginShells get "-l -i" in interactive mode; everything else (ash, sh,
// dash) gets no flags interactively and "-c <cmd>" for exec.
var loginShellBasenames = map[string]bool{
	"bash": true,
	"zsh":  true,
	"fish": true,
}

func executable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}

// selectShell implements the four-step fallback chain.
func selectShell() string {
	if sh := os.Getenv("SHELL"); sh != "" && executable(sh) {
		return sh
	}
	if sh, ok := passwdShell(); ok && executable(sh) {
		return sh
	}
	for _, candidate := range probeShells {
		if executable(candidate) {
			return candidate
		}
	}
	return fallbackShell
}

// passwdPath is the password database consulted by passwdShell; a var so
// tests can point it at a fixture file.
var passwdPath = "/etc/passwd"

// passwdShell looks up the effective uid's pw_shell field in the password
// database. Go's os/user doesn't expose the shell field, so this parses
// /etc/passwd directly rather than skipping the step (spec.md §4.6).
func passwdShell() (string, bool) {
	return lookupShell(passwdPath, os.Geteuid())
}

// lookupShell scans a passwd-format file (user:pass:uid:gid:gecos:home:shell)
// for the entry matching uid and returns its shell field.
func lookupShell(path string, uid int) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	uidStr := strconv.Itoa(uid)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 7 || fields[2] != uidStr {
			continue
		}
		shell := fields[6]
		if shell == "" {
			return "", false
		}
		return shell, true
	}
	return "", false
}

// augmentedPath merges pathAugment into the current PATH without dropping
// anything already present.
func augmentedPath() string {
	seen := make(map[string]bool)
	var parts []string
	for _, p := range filepath.SplitList(os.Getenv("PATH")) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		parts = append(parts, p)
	}
	for _, p := range pathAugment {
		if seen[p] {
			continue
		}
		seen[p] = true
		parts = append(parts, p)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

// isLoginShell reports whether shellPath's basename should receive the
// login/interactive flags ("-l -i") rather than none.
func isLoginShell(shellPath string) bool {
	return loginShellBasenames[filepath.Base(shellPath)]
}

// interactiveArgs returns the argv (excluding argv[0]) to launch shellPath
// interactively.
func interactiveArgs(shellPath string) []string {
	if isLoginShell(shellPath) {
		return []string{"-l", "-i"}
	}
	return nil
}

// execArgs returns the argv (excluding argv[0]) to run command under
// shellPath non-interactively.
func execArgs(shellPath, command string) []string {
	return []string{"-c", command}
}
