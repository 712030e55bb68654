package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jxucoder/agentdeck/supervisor"
)

func TestSpawnAndCollect(t *testing.T) {
	r := New()
	ctx := context.Background()

	pid, err := r.Spawn(ctx, supervisor.Spec{
		ID:      "collect-1",
		Command: "sh",
		Args:    []string{"-c", "echo one; echo two"},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("expected positive pid, got %d", pid)
	}

	stream, err := r.Stream(ctx, "collect-1")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var lines []string
	for stream.Scan() {
		lines = append(lines, stream.Text())
	}
	code, err := r.Wait(ctx, "collect-1")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("unexpected output: %v", lines)
	}
}

func TestExitCode(t *testing.T) {
	r := New()
	ctx := context.Background()

	if _, err := r.Spawn(ctx, supervisor.Spec{
		ID:      "exit-3",
		Command: "sh",
		Args:    []string{"-c", "exit 3"},
	}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	stream, err := r.Stream(ctx, "exit-3")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	for stream.Scan() {
	}
	code, err := r.Wait(ctx, "exit-3")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}
}

func TestWriteAndKill(t *testing.T) {
	r := New()
	ctx := context.Background()

	if _, err := r.Spawn(ctx, supervisor.Spec{ID: "cat-1", Command: "cat"}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !r.IsRunning("cat-1") {
		t.Fatal("expected process to be running")
	}

	if err := r.Write("cat-1", []byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	stream, err := r.Stream(ctx, "cat-1")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !stream.Scan() {
		t.Fatal("expected echoed line")
	}
	if stream.Text() != "hello" {
		t.Fatalf("unexpected line: %q", stream.Text())
	}

	if err := r.Kill("cat-1"); err != nil {
		t.Fatalf("kill: %v", err)
	}
	// Kill drives the stream to EOF.
	for stream.Scan() {
	}
	code, err := r.Wait(ctx, "cat-1")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code == 0 {
		t.Fatalf("expected nonzero exit after kill, got %d", code)
	}
	if r.IsRunning("cat-1") {
		t.Fatal("expected process to be forgotten after wait")
	}
}

func TestPromptClosesStdin(t *testing.T) {
	r := New()
	ctx := context.Background()

	// cat copies the prompt to stdout and exits when stdin closes.
	if _, err := r.Spawn(ctx, supervisor.Spec{
		ID:      "prompt-1",
		Command: "cat",
		Prompt:  "the whole prompt\n",
	}); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	stream, err := r.Stream(ctx, "prompt-1")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var lines []string
	for stream.Scan() {
		lines = append(lines, stream.Text())
	}
	code, err := r.Wait(ctx, "prompt-1")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if len(lines) != 1 || lines[0] != "the whole prompt" {
		t.Fatalf("unexpected output: %v", lines)
	}
}

func TestUnknownID(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.Write("ghost", []byte("x")); !errors.Is(err, supervisor.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.Kill("ghost"); !errors.Is(err, supervisor.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.Stream(ctx, "ghost"); !errors.Is(err, supervisor.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.Wait(ctx, "ghost"); !errors.Is(err, supervisor.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if r.IsRunning("ghost") {
		t.Fatal("unknown id reported running")
	}
}

func TestDuplicateSpawn(t *testing.T) {
	r := New()
	ctx := context.Background()

	if _, err := r.Spawn(ctx, supervisor.Spec{ID: "dup", Command: "sleep", Args: []string{"5"}}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := r.Spawn(ctx, supervisor.Spec{ID: "dup", Command: "sleep", Args: []string{"5"}}); err == nil {
		t.Fatal("expected error for duplicate id")
	}

	_ = r.Kill("dup")
	stream, _ := r.Stream(ctx, "dup")
	for stream.Scan() {
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := r.Wait(waitCtx, "dup"); err != nil {
		t.Fatalf("wait: %v", err)
	}
}
