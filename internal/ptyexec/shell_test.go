package ptyexec

import (
	"os"
	"strconv"
	"testing"
)

func Test_select_shell_honors_SHELL_env(t *testing.T) {
	old := os.Getenv("SHELL")
	defer os.Setenv("SHELL", old)

	os.Setenv("SHELL", "/bin/sh")
	if !executable("/bin/sh") {
		t.Skip("/bin/sh not present on this machine")
	}
	if got := selectShell(); got != "/bin/sh" {
		t.Errorf("got %q, want /bin/sh", got)
	}
}

func Test_select_shell_falls_back_when_SHELL_missing(t *testing.T) {
	old := os.Getenv("SHELL")
	defer os.Setenv("SHELL", old)

	os.Setenv("SHELL", "/no/such/shell")
	got := selectShell()
	if !executable(got) {
		t.Errorf("fallback shell %q is not executable", got)
	}
}

func Test_lookup_shell_finds_matching_uid(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/passwd"
	contents := "root:x:0:0:root:/root:/bin/bash\n" +
		"nobody:x:65534:65534:nobody:/nonexistent:/usr/sbin/nologin\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	shell, ok := lookupShell(path, 0)
	if !ok || shell != "/bin/bash" {
		t.Errorf("got shell=%q ok=%v, want /bin/bash", shell, ok)
	}

	shell, ok = lookupShell(path, 65534)
	if !ok || shell != "/usr/sbin/nologin" {
		t.Errorf("got shell=%q ok=%v, want /usr/sbin/nologin", shell, ok)
	}
}

func Test_lookup_shell_missing_uid(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/passwd"
	if err := os.WriteFile(path, []byte("root:x:0:0:root:/root:/bin/bash\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, ok := lookupShell(path, 999); ok {
		t.Fatal("expected no match for an absent uid")
	}
}

func Test_lookup_shell_missing_file(t *testing.T) {
	if _, ok := lookupShell("/no/such/passwd/file", 0); ok {
		t.Fatal("expected false when the passwd file cannot be opened")
	}
}

func Test_select_shell_consults_passwd_when_SHELL_unset(t *testing.T) {
	old := os.Getenv("SHELL")
	defer os.Setenv("SHELL", old)
	os.Unsetenv("SHELL")

	oldPath := passwdPath
	defer func() { passwdPath = oldPath }()

	if !executable("/bin/sh") {
		t.Skip("/bin/sh not present on this machine")
	}

	dir := t.TempDir()
	fixture := dir + "/passwd"
	line := "u:x:" + strconv.Itoa(os.Geteuid()) + ":0:u:/home/u:/bin/sh\n"
	if err := os.WriteFile(fixture, []byte(line), 0644); err != nil {
		t.Fatal(err)
	}
	passwdPath = fixture

	if got := selectShell(); got != "/bin/sh" {
		t.Errorf("got %q, want /bin/sh from passwd fixture", got)
	}
}

func Test_is_login_shell(t *testing.T) {
	cases := map[string]bool{
		"/bin/bash":     true,
		"/usr/bin/zsh":  true,
		"/usr/bin/fish": true,
		"/bin/sh":       false,
		"/bin/ash":      false,
		"/bin/dash":     false,
	}
	for shell, want := range cases {
		if got := isLoginShell(shell); got != want {
			t.Errorf("isLoginShell(%q) = %v, want %v", shell, got, want)
		}
	}
}

func Test_interactive_args(t *testing.T) {
	if got := interactiveArgs("/bin/bash"); len(got) != 2 || got[0] != "-l" || got[1] != "-i" {
		t.Errorf("got %v, want [-l -i]", got)
	}
	if got := interactiveArgs("/bin/sh"); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func Test_exec_args(t *testing.T) {
	got := execArgs("/bin/sh", "echo hi")
	if len(got) != 2 || got[0] != "-c" || got[1] != "echo hi" {
		t.Errorf("got %v", got)
	}
}

func Test_augmented_path_preserves_existing_and_adds_missing(t *testing.T) {
	old := os.Getenv("PATH")
	defer os.Setenv("PATH", old)

	os.Setenv("PATH", "/opt/custom")
	got := augmentedPath()
	if !contains(got, "/opt/custom") {
		t.Errorf("expected existing PATH entry to survive: %q", got)
	}
	if !contains(got, "/usr/bin") {
		t.Errorf("expected augmentation to add /usr/bin: %q", got)
	}
}

func contains(path, entry string) bool {
	for _, p := range splitOnSeparator(path) {
		if p == entry {
			return true
		}
	}
	return false
}

func splitOnSeparator(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == os.PathListSeparator {
			out = append(out, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	out = append(out, cur)
	return out
}
