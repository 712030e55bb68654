// Package supervisor defines the process runtime that session and chat
// agents run on. Implementations spawn OS processes, feed their stdin,
// and expose their merged output as a line stream.
package supervisor

import (
	"context"
	"errors"
)

// ErrNotFound is returned for operations on a process id that is not
// currently tracked by the runtime.
var ErrNotFound = errors.New("process not found")

// Spec describes one process to spawn.
type Spec struct {
	// ID is the caller-chosen process handle, e.g. "abc12345-ai" or
	// "chat1-participant-alice-1712345678".
	ID string
	// Command is the executable to run.
	Command string
	// Args are the command arguments.
	Args []string
	// Cwd is the working directory ("" inherits the daemon's).
	Cwd string
	// Env holds extra KEY=VALUE pairs appended to the daemon's environment.
	Env []string
	// Prompt, when non-empty, is written to the process's stdin which is
	// then closed. Used for one-shot batch invocations; interactive
	// processes leave it empty and receive input via Write.
	Prompt string
}

// Runtime spawns and tracks processes by id.
//
// Each spawned process's output must be consumed: call Stream exactly once,
// scan it to EOF, then call Wait to reap the process and obtain its exit
// code. Kill forces the stream to EOF.
type Runtime interface {
	// Spawn starts a process and returns its OS pid.
	Spawn(ctx context.Context, spec Spec) (int, error)
	// Write sends data to the process's stdin.
	Write(id string, data []byte) error
	// Kill terminates the process.
	Kill(id string) error
	// Stream returns the process's merged stdout+stderr as lines.
	Stream(ctx context.Context, id string) (LineScanner, error)
	// Wait blocks until the process exits and returns its exit code.
	Wait(ctx context.Context, id string) (int, error)
	// IsRunning reports whether the process is tracked and alive.
	IsRunning(id string) bool
}

// LineScanner reads process output line by line.
type LineScanner interface {
	Scan() bool
	Text() string
	Err() error
	Close() error
}
