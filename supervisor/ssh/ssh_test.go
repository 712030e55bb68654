package ssh

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jxucoder/agentdeck/supervisor"
)

func testKey(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_test")
	if err := os.WriteFile(path, []byte("fake key"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path
}

func TestNewValidatesConfig(t *testing.T) {
	key := testKey(t)

	if _, err := New(Config{User: "u", KeyPath: key}); err == nil {
		t.Fatal("expected error for missing host")
	}
	if _, err := New(Config{Host: "h:22", KeyPath: key}); err == nil {
		t.Fatal("expected error for missing user")
	}
	if _, err := New(Config{Host: "h:22", User: "u"}); err == nil {
		t.Fatal("expected error for missing key path")
	}
	if _, err := New(Config{Host: "h:22", User: "u", KeyPath: "/nope/missing"}); err == nil {
		t.Fatal("expected error for nonexistent key")
	}

	r, err := New(Config{Host: "h:22", User: "u", KeyPath: key})
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if r.config.Shell != "sh" {
		t.Fatalf("expected default shell, got %q", r.config.Shell)
	}
}

func TestRemoteCommand(t *testing.T) {
	key := testKey(t)
	r, err := New(Config{Host: "h:22", User: "u", KeyPath: key})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	cmd := r.remoteCommand(supervisor.Spec{
		ID:      "s1-ai",
		Command: "claude",
		Args:    []string{"--model", "opus"},
		Cwd:     "/work/repo",
		Env:     []string{"FOO=bar"},
	})
	for _, want := range []string{`cd "/work/repo"`, `export "FOO=bar"`, `exec "claude" "--model" "opus"`} {
		if !strings.Contains(cmd, want) {
			t.Fatalf("remote command missing %q: %s", want, cmd)
		}
	}
	if !strings.HasPrefix(cmd, "sh -c ") {
		t.Fatalf("expected shell wrapper, got: %s", cmd)
	}
}

func TestQuoteArgs(t *testing.T) {
	got := quoteArgs([]string{"echo", "two words"})
	if got != `"echo" "two words"` {
		t.Fatalf("unexpected quoting: %s", got)
	}
}
