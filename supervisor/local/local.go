// Package local implements supervisor.Runtime with processes on the local
// machine via os/exec.
package local

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/jxucoder/agentdeck/supervisor"
)

// Runtime tracks locally spawned processes by id.
type Runtime struct {
	mu    sync.Mutex
	procs map[string]*process
}

// New creates an empty local runtime.
func New() *Runtime {
	return &Runtime{procs: make(map[string]*process)}
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output io.Reader // merged stdout+stderr

	waitOnce sync.Once
	done     chan struct{}
	exitCode int
	waitErr  error
}

// reap calls cmd.Wait exactly once and records the exit code.
func (p *process) reap() {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				p.exitCode = exitErr.ExitCode()
			} else {
				p.exitCode = -1
				p.waitErr = err
			}
		}
		close(p.done)
	})
}

// Spawn starts a process and returns its OS pid.
func (r *Runtime) Spawn(ctx context.Context, spec supervisor.Spec) (int, error) {
	r.mu.Lock()
	if _, exists := r.procs[spec.ID]; exists {
		r.mu.Unlock()
		return 0, fmt.Errorf("process %s already spawned", spec.ID)
	}
	r.mu.Unlock()

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Cwd
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return 0, fmt.Errorf("attaching stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("attaching stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("attaching stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting %s: %w", spec.Command, err)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		output: io.MultiReader(stdout, stderr),
		done:   make(chan struct{}),
	}
	r.mu.Lock()
	r.procs[spec.ID] = p
	r.mu.Unlock()

	if spec.Prompt != "" {
		if _, err := io.WriteString(stdin, spec.Prompt); err != nil {
			_ = cmd.Process.Kill()
			return 0, fmt.Errorf("writing prompt: %w", err)
		}
		_ = stdin.Close()
	}

	return cmd.Process.Pid, nil
}

// Write sends data to the process's stdin.
func (r *Runtime) Write(id string, data []byte) error {
	p, ok := r.get(id)
	if !ok {
		return fmt.Errorf("process %s: %w", id, supervisor.ErrNotFound)
	}
	if _, err := p.stdin.Write(data); err != nil {
		return fmt.Errorf("writing to %s: %w", id, err)
	}
	return nil
}

// Kill terminates the process. The stream, if open, hits EOF shortly after.
func (r *Runtime) Kill(id string) error {
	p, ok := r.get(id)
	if !ok {
		return fmt.Errorf("process %s: %w", id, supervisor.ErrNotFound)
	}
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return nil
}

// Stream returns the process's merged stdout+stderr. Call at most once per
// spawned process.
func (r *Runtime) Stream(_ context.Context, id string) (supervisor.LineScanner, error) {
	p, ok := r.get(id)
	if !ok {
		return nil, fmt.Errorf("process %s: %w", id, supervisor.ErrNotFound)
	}
	scanner := bufio.NewScanner(p.output)
	scanner.Buffer(make([]byte, 0, 256*1024), 256*1024)
	return &lineScanner{scanner: scanner, proc: p}, nil
}

// Wait blocks until the process exits, then forgets it and returns the exit
// code. Call after the stream has been drained.
func (r *Runtime) Wait(ctx context.Context, id string) (int, error) {
	p, ok := r.get(id)
	if !ok {
		return 0, fmt.Errorf("process %s: %w", id, supervisor.ErrNotFound)
	}
	go p.reap()
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case <-p.done:
		r.forget(id)
		return p.exitCode, p.waitErr
	}
}

// IsRunning reports whether the process is tracked and has not exited.
func (r *Runtime) IsRunning(id string) bool {
	p, ok := r.get(id)
	if !ok {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
	}
	// Signal 0 probes for existence without touching the process.
	if p.cmd.Process == nil {
		return false
	}
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

func (r *Runtime) get(id string) (*process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[id]
	return p, ok
}

func (r *Runtime) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, id)
}

// lineScanner reads a process's merged output line by line. Close kills the
// process if it is still alive and reaps it.
type lineScanner struct {
	scanner *bufio.Scanner
	proc    *process
}

func (ls *lineScanner) Scan() bool   { return ls.scanner.Scan() }
func (ls *lineScanner) Text() string { return ls.scanner.Text() }
func (ls *lineScanner) Err() error   { return ls.scanner.Err() }

func (ls *lineScanner) Close() error {
	if ls.proc.cmd.Process != nil {
		_ = ls.proc.cmd.Process.Kill()
	}
	ls.proc.reap()
	return ls.proc.waitErr
}
